// Package wsclient implements pairing.Channel against the websocket relay.
package wsclient

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Pairing/internal/domain"
	"github.com/dkeye/Pairing/internal/pairing"
	"github.com/dkeye/Pairing/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	// URL of the relay signaling endpoint, e.g. ws://host:8080/api/ws/signal.
	URL       string
	Header    http.Header
	WriteWait time.Duration
	// JoinTimeout bounds the wait for the relay's joined frame.
	JoinTimeout time.Duration
}

type Client struct {
	pairing.Dispatcher
	opts   Options
	dialer *websocket.Dialer
	log    zerolog.Logger

	mu     sync.Mutex
	sess   *session
	params pairing.JoinParams
}

type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	joined  chan error
	done    chan struct{}
	once    sync.Once
}

func New(opts Options) *Client {
	if opts.WriteWait <= 0 {
		opts.WriteWait = 5 * time.Second
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = 10 * time.Second
	}
	return &Client{
		opts:   opts,
		dialer: websocket.DefaultDialer,
		log:    log.With().Str("module", "wsclient").Logger(),
	}
}

func (c *Client) Connect(ctx context.Context, p pairing.JoinParams) error {
	c.mu.Lock()
	if c.sess != nil && c.params == p {
		c.mu.Unlock()
		return nil
	}
	old := c.sess
	c.sess = nil
	c.mu.Unlock()
	if old != nil {
		c.close(old, true)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		return pairing.Unavailable(err)
	}
	s := &session{conn: conn, joined: make(chan error, 1), done: make(chan struct{})}
	// Envelopes may need to go out as soon as the relay confirms the join.
	c.mu.Lock()
	c.sess = s
	c.params = p
	c.mu.Unlock()
	go c.readLoop(s)

	req := p.Request()
	if err := c.write(s, protocol.Frame{Type: protocol.FrameJoin, Join: &req}); err != nil {
		c.abandon(s)
		return pairing.Unavailable(err)
	}

	timer := time.NewTimer(c.opts.JoinTimeout)
	defer timer.Stop()
	var fail error
	select {
	case err := <-s.joined:
		fail = err
	case <-ctx.Done():
		fail = ctx.Err()
	case <-timer.C:
		fail = errors.New("join timed out")
	}
	if fail != nil {
		c.abandon(s)
		return pairing.Unavailable(fail)
	}
	c.log.Info().Str("code", string(p.SessionCode)).Str("user", string(p.UserID)).Msg("connected")
	return nil
}

func (c *Client) readLoop(s *session) {
	defer close(s.done)
	joined := false
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !joined {
				s.joined <- err
			}
			c.lost(s, pairing.Unavailable(err))
			return
		}
		f, err := protocol.DecodeFrame(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("bad frame")
			continue
		}
		res := c.Dispatch(f)
		switch {
		case res.Joined && !joined:
			joined = true
			s.joined <- nil
		case res.Err != nil && !joined:
			joined = true
			s.joined <- res.Err
		case res.Err != nil:
			var rerr *pairing.RelayError
			if errors.As(res.Err, &rerr) && rerr.Fatal() {
				c.lost(s, pairing.Unavailable(res.Err))
			} else {
				c.log.Warn().Err(res.Err).Msg("relay reported error")
			}
		}
	}
}

// abandon drops a session whose join did not complete.
func (c *Client) abandon(s *session) {
	c.mu.Lock()
	if c.sess == s {
		c.sess = nil
	}
	c.mu.Unlock()
	c.close(s, false)
}

// lost handles a connection the client did not close itself.
func (c *Client) lost(s *session, err error) {
	c.mu.Lock()
	current := c.sess == s
	if current {
		c.sess = nil
	}
	c.mu.Unlock()
	c.close(s, false)
	if current {
		c.log.Warn().Err(err).Msg("connection lost")
		c.Closed(err)
	}
}

func (c *Client) close(s *session, leave bool) {
	s.once.Do(func() {
		if leave {
			_ = c.write(s, protocol.Frame{Type: protocol.FrameLeave})
		}
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.opts.WriteWait))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}

func (c *Client) Disconnect() {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()
	if s == nil {
		return
	}
	c.close(s, true)
	<-s.done
	c.log.Info().Msg("disconnected")
}

func (c *Client) Send(target domain.UserID, p protocol.Payload) error {
	c.mu.Lock()
	s, from := c.sess, c.params.UserID
	c.mu.Unlock()
	if s == nil {
		return domain.ErrNotConnected
	}
	env, err := protocol.Seal(from, target, p)
	if err != nil {
		return err
	}
	if err := c.write(s, protocol.Frame{Type: protocol.FrameEnvelope, Envelope: &env}); err != nil {
		return pairing.Unavailable(err)
	}
	return nil
}

func (c *Client) write(s *session, f protocol.Frame) error {
	data, err := protocol.EncodeFrame(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}
