// Package memory implements pairing.Channel in process, on top of the same
// orchestrator the websocket relay uses.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Pairing/internal/app/orch"
	"github.com/dkeye/Pairing/internal/core"
	"github.com/dkeye/Pairing/internal/domain"
	"github.com/dkeye/Pairing/internal/pairing"
	"github.com/dkeye/Pairing/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultBuffer = 256

var errBackpressure = errors.New("memory channel backpressure")

type Hub struct {
	Orch   *orch.Orchestrator
	Buffer int
}

func NewHub(o *orch.Orchestrator) *Hub {
	return &Hub{Orch: o, Buffer: defaultBuffer}
}

func (h *Hub) NewChannel() *Channel {
	return &Channel{hub: h}
}

type Channel struct {
	pairing.Dispatcher
	hub *Hub

	mu     sync.Mutex
	conn   *conn
	params pairing.JoinParams
}

// conn is one relay-side connection. It lives from Connect until Disconnect
// or until the orchestrator cancels it.
type conn struct {
	ch  *Channel
	sid core.SessionID

	mu     sync.RWMutex
	closed bool
	send   chan core.Frame
	once   sync.Once
}

func (c *conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
		return nil
	default:
		return errBackpressure
	}
}

func (c *conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// pump delivers queued frames in order.
func (c *conn) pump() {
	for data := range c.send {
		f, err := protocol.DecodeFrame(data)
		if err != nil {
			log.Error().Err(err).Str("module", "memory").Msg("decode frame")
			continue
		}
		res := c.ch.Dispatch(f)
		var rerr *pairing.RelayError
		if errors.As(res.Err, &rerr) && rerr.Fatal() {
			c.ch.dropped(c, res.Err)
		}
	}
}

func (ch *Channel) Connect(ctx context.Context, p pairing.JoinParams) error {
	if err := ctx.Err(); err != nil {
		return pairing.Unavailable(err)
	}
	ch.mu.Lock()
	if ch.conn != nil && ch.params == p {
		ch.mu.Unlock()
		return nil
	}
	old := ch.conn
	ch.conn = nil
	ch.mu.Unlock()
	if old != nil {
		ch.release(old)
	}

	buf := ch.hub.Buffer
	if buf <= 0 {
		buf = defaultBuffer
	}
	c := &conn{
		ch:   ch,
		sid:  core.SessionID(uuid.NewString()),
		send: make(chan core.Frame, buf),
	}
	go c.pump()

	// Envelopes may need to go out before Join returns.
	ch.mu.Lock()
	ch.conn = c
	ch.params = p
	ch.mu.Unlock()

	o := ch.hub.Orch
	o.Registry.BindSignal(c.sid, c, func() {
		// Called under the orchestrator lock; finish asynchronously.
		go ch.dropped(c, pairing.Unavailable("closed by relay"))
	})
	if _, err := o.Join(c.sid, p.Request()); err != nil {
		ch.mu.Lock()
		if ch.conn == c {
			ch.conn = nil
		}
		ch.mu.Unlock()
		ch.release(c)
		return pairing.Unavailable(err)
	}
	return nil
}

func (ch *Channel) Disconnect() {
	ch.mu.Lock()
	c := ch.conn
	ch.conn = nil
	ch.mu.Unlock()
	if c != nil {
		ch.release(c)
	}
}

func (ch *Channel) release(c *conn) {
	c.once.Do(func() {
		ch.hub.Orch.OnDisconnect(c.sid)
		c.Close()
	})
}

// dropped handles a relay-side close of c.
func (ch *Channel) dropped(c *conn, err error) {
	ch.mu.Lock()
	current := ch.conn == c
	if current {
		ch.conn = nil
	}
	ch.mu.Unlock()
	ch.release(c)
	if current {
		ch.Closed(err)
	}
}

func (ch *Channel) Send(target domain.UserID, p protocol.Payload) error {
	ch.mu.Lock()
	c, from := ch.conn, ch.params.UserID
	ch.mu.Unlock()
	if c == nil {
		return domain.ErrNotConnected
	}
	env, err := protocol.Seal(from, target, p)
	if err != nil {
		return err
	}
	if err := ch.hub.Orch.Relay(c.sid, env); err != nil {
		return pairing.Unavailable(err)
	}
	return nil
}
