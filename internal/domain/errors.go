package domain

import "errors"

var (
	// ErrChannelUnavailable is returned when the signaling transport cannot join or send.
	ErrChannelUnavailable = errors.New("signaling channel unavailable")
	// ErrLinkNegotiationFailed marks a peer link closed by a transport error or timeout.
	ErrLinkNegotiationFailed = errors.New("link negotiation failed")
	// ErrOrphanSignal is logged when a signal references an untracked remote.
	ErrOrphanSignal = errors.New("signal for untracked remote")
	ErrNotConnected = errors.New("not connected")
)
