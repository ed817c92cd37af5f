package signal

import (
	"errors"

	"github.com/dkeye/Pairing/internal/app/orch"
	"github.com/dkeye/Pairing/internal/core"
	"github.com/dkeye/Pairing/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleFrame(sid core.SessionID, token string, c *WsSignalConn, data []byte) {
	f, err := protocol.DecodeFrame(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.sendFrame(c, protocol.ErrorFrame(protocol.ErrCodeBadPayload))
		return
	}

	switch f.Type {
	case protocol.FrameJoin:
		ctl.handleJoin(sid, token, c, f.Join)
	case protocol.FrameLeave:
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
		if !ctl.Orch.Leave(sid) {
			ctl.sendFrame(c, protocol.Frame{Type: protocol.FrameLeft})
		}
	case protocol.FramePing:
		ctl.sendFrame(c, protocol.Frame{Type: protocol.FramePong})
	case protocol.FrameEnvelope:
		ctl.handleEnvelope(sid, c, f.Envelope)
	default:
		log.Warn().Str("module", "signal").Str("type", string(f.Type)).Msg("unknown signal")
		ctl.sendFrame(c, protocol.ErrorFrame(protocol.ErrCodeUnknownType))
	}
}

func (ctl *SignalWSController) handleJoin(sid core.SessionID, token string, c *WsSignalConn, req *protocol.JoinRequest) {
	if req == nil {
		ctl.sendFrame(c, protocol.ErrorFrame(protocol.ErrCodeBadPayload))
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(token) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("token", token).Msg("join rate limited")
		ctl.sendFrame(c, protocol.ErrorFrame(protocol.ErrCodeRateLimited))
		return
	}
	if _, err := ctl.Orch.Join(sid, *req); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join rejected")
		ctl.sendFrame(c, protocol.ErrorFrame(protocol.ErrCodeInvalidJoin))
	}
}

func (ctl *SignalWSController) handleEnvelope(sid core.SessionID, c *WsSignalConn, env *protocol.RawEnvelope) {
	if env == nil {
		ctl.sendFrame(c, protocol.ErrorFrame(protocol.ErrCodeBadPayload))
		return
	}
	err := ctl.Orch.Relay(sid, *env)
	switch {
	case err == nil:
	case errors.Is(err, orch.ErrNotJoined):
		ctl.sendFrame(c, protocol.ErrorFrame(protocol.ErrCodeNotJoined))
	case errors.Is(err, protocol.ErrUnknownEnvelope):
		ctl.sendFrame(c, protocol.ErrorFrame(protocol.ErrCodeUnknownType))
	default:
		// Relay failures are logged and dropped.
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("relay failed")
	}
}

func (ctl *SignalWSController) sendFrame(c *WsSignalConn, f protocol.Frame) {
	b, err := protocol.EncodeFrame(f)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendFrame marshal")
		return
	}
	_ = c.TrySend(b)
}
