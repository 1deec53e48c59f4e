package wsclient

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// Session keeps a Client connected, redialling after the socket drops and
// re-joining the channel that was last asked for. Subscribers stay attached
// across reconnects.
type Session struct {
	opts  Options
	delay time.Duration
	fan   fanout

	mu      sync.RWMutex
	client  *Client
	channel domain.ChannelName
	name    string
	wanted  bool
}

func NewSession(opts Options, reconnectDelay time.Duration) *Session {
	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}
	return &Session{opts: opts, delay: reconnectDelay}
}

// Subscribe adds h to the receivers of server events on every connection.
func (s *Session) Subscribe(h Handler) (unsubscribe func()) {
	return s.fan.subscribe(h)
}

func (s *Session) Run(ctx context.Context) error {
	logger := log.With().Str("module", "wsclient").Str("url", s.opts.URL).Logger()
	for {
		c, err := Dial(ctx, s.opts)
		if err == nil {
			logger.Info().Msg("signaling connected")
			unsubscribe := c.Subscribe(&s.fan)
			s.attach(c)
			err = c.Run(ctx)
			s.attach(nil)
			unsubscribe()
		}
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn().Err(err).Dur("retry_in", s.delay).Msg("signaling disconnected")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.delay):
		}
	}
}

func (s *Session) attach(c *Client) {
	s.mu.Lock()
	s.client = c
	channel, name, wanted := s.channel, s.name, s.wanted
	s.mu.Unlock()
	if c != nil && wanted {
		if err := c.Join(channel, name); err != nil {
			log.Warn().Err(err).Str("module", "wsclient").Msg("rejoin")
		}
	}
}

func (s *Session) current() (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, core.ErrClosed
	}
	return s.client, nil
}

func (s *Session) Send(env core.Envelope) error {
	c, err := s.current()
	if err != nil {
		return err
	}
	return c.Send(env)
}

// Join records the channel so it survives reconnects, then asks the server.
func (s *Session) Join(ch domain.ChannelName, name string) error {
	s.mu.Lock()
	s.channel, s.name, s.wanted = ch, name, true
	s.mu.Unlock()
	c, err := s.current()
	if err != nil {
		return err
	}
	return c.Join(ch, name)
}

func (s *Session) Leave() error {
	s.mu.Lock()
	s.wanted = false
	s.mu.Unlock()
	c, err := s.current()
	if err != nil {
		return err
	}
	return c.Leave()
}

func (s *Session) AnnounceMute(muted bool) error {
	c, err := s.current()
	if err != nil {
		return err
	}
	return c.AnnounceMute(muted)
}

// Connected reports whether a socket is currently up.
func (s *Session) Connected() bool {
	_, err := s.current()
	return err == nil
}
