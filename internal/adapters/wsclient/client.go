// Package wsclient is the participant side of the signaling websocket. It
// carries membership events and negotiation envelopes between the server and
// the local mesh and makes no decisions of its own.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait = 5 * time.Second
	sendQueue = 64
)

// Handler receives what the server tells this participant.
type Handler interface {
	ChannelJoined(ch domain.ChannelName, members []domain.ParticipantID) error
	ChannelLeft() error
	PeerJoined(peer domain.ParticipantID) error
	PeerLeft(peer domain.ParticipantID) error
	Deliver(env core.Envelope) error
	DeliveryFailed(peer domain.ParticipantID) error
}

type Options struct {
	URL           string
	ParticipantID domain.ParticipantID
}

type Client struct {
	self   domain.ParticipantID
	conn   *websocket.Conn
	send   chan core.Frame
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool

	fan fanout

	state    sync.Mutex
	joined   bool
	username string
}

// Dial connects to the signaling endpoint, presenting the participant id as
// the client token cookie.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	header := http.Header{}
	header.Set("Cookie", (&http.Cookie{Name: core.ClientTokenCookie, Value: string(opts.ParticipantID)}).String())
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
	}
	return &Client{
		self:   opts.ParticipantID,
		conn:   ws,
		send:   make(chan core.Frame, sendQueue),
		logger: log.With().Str("module", "wsclient").Str("self", string(opts.ParticipantID)).Logger(),
	}, nil
}

// Subscribe adds h to the receivers of server events. The returned func
// removes it again.
func (c *Client) Subscribe(h Handler) (unsubscribe func()) {
	return c.fan.subscribe(h)
}

func (c *Client) each(fn func(Handler) error) {
	for _, h := range c.fan.snapshot() {
		if err := fn(h); err != nil {
			c.logger.Warn().Err(err).Msg("handler error")
		}
	}
}

// Run pumps the socket until it closes or ctx is done. A membership still
// active at that point is reported as left.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writePump(ctx) })
	g.Go(func() error { return c.readPump(ctx) })
	err := g.Wait()

	c.state.Lock()
	joined := c.joined
	c.joined = false
	c.state.Unlock()
	if joined {
		c.each(func(h Handler) error { return h.ChannelLeft() })
	}
	return err
}

func (c *Client) writePump(ctx context.Context) error {
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-c.send:
			if !ok {
				return nil
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("set write deadline: %w", err)
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context) error {
	defer c.Close()
	// ReadMessage blocks, so a cancelled context has to unblock it by closing the socket.
	go func() {
		<-ctx.Done()
		c.Close()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.mu.RLock()
			closed := c.closed
			c.mu.RUnlock()
			if closed {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		c.logger.Error().Err(err).Msg("bad json from server")
		return
	}

	switch head.Type {
	case core.MsgRoomState:
		var m core.RoomStateMsg
		if !c.decode(data, &m) {
			return
		}
		members := make([]domain.ParticipantID, 0, len(m.Members))
		for _, member := range m.Members {
			if member.ID != c.self {
				members = append(members, member.ID)
			}
		}
		c.setJoined(true)
		c.logger.Info().Str("room", string(m.Room)).Int("count", m.Count).Msg("joined")
		c.each(func(h Handler) error { return h.ChannelJoined(m.Room, members) })
	case core.MsgLeft:
		c.setJoined(false)
		c.each(func(h Handler) error { return h.ChannelLeft() })
	case core.MsgMemberJoined, core.MsgMemberLeft:
		var m core.MemberEventMsg
		if !c.decode(data, &m) || m.User.ID == c.self {
			return
		}
		if head.Type == core.MsgMemberJoined {
			c.each(func(h Handler) error { return h.PeerJoined(m.User.ID) })
		} else {
			c.each(func(h Handler) error { return h.PeerLeft(m.User.ID) })
		}
	case string(core.EnvelopeOffer), string(core.EnvelopeAnswer), string(core.EnvelopeCandidate):
		var env core.Envelope
		if !c.decode(data, &env) {
			return
		}
		c.each(func(h Handler) error { return h.Deliver(env) })
	case core.MsgError:
		var m core.ErrorMsg
		if !c.decode(data, &m) {
			return
		}
		if m.Error == core.ErrUndeliverable && m.To != "" {
			c.each(func(h Handler) error { return h.DeliveryFailed(m.To) })
			return
		}
		c.logger.Warn().Str("error", m.Error).Msg("server error")
	case core.MsgWhoAmI:
		var m core.WhoAmIMsg
		if c.decode(data, &m) {
			c.state.Lock()
			c.username = m.Username
			c.state.Unlock()
		}
	case core.MsgPong, core.MsgMemberUpdated:
		c.logger.Debug().Str("type", head.Type).Msg("server message")
	default:
		c.logger.Warn().Str("type", head.Type).Msg("unknown server message")
	}
}

func (c *Client) decode(data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		c.logger.Error().Err(err).Msg("bad server payload")
		return false
	}
	return true
}

func (c *Client) setJoined(joined bool) {
	c.state.Lock()
	defer c.state.Unlock()
	c.joined = joined
}

// Joined reports whether the server has confirmed a channel membership.
func (c *Client) Joined() bool {
	c.state.Lock()
	defer c.state.Unlock()
	return c.joined
}

// Username is the name last confirmed by the server.
func (c *Client) Username() string {
	c.state.Lock()
	defer c.state.Unlock()
	return c.username
}

func (c *Client) trySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *Client) sendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.trySend(b)
}

// Send queues a negotiation envelope without blocking.
func (c *Client) Send(env core.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	env.From = ""
	return c.sendJSON(env)
}

func (c *Client) Join(ch domain.ChannelName, name string) error {
	return c.sendJSON(core.JoinMsg{Type: core.MsgJoin, Room: string(ch), Name: name})
}

func (c *Client) Leave() error {
	return c.sendJSON(map[string]string{"type": core.MsgLeave})
}

func (c *Client) AnnounceMute(muted bool) error {
	return c.sendJSON(core.MuteMsg{Type: core.MsgMute, Muted: muted})
}

func (c *Client) Ping() error {
	return c.sendJSON(map[string]string{"type": core.MsgPing})
}

func (c *Client) WhoAmI() error {
	return c.sendJSON(map[string]string{"type": core.MsgWhoAmI})
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}
