package wsclient

import (
	"errors"
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

// fanout is a Handler that forwards to its current subscribers. The zero
// value is ready to use and must not be copied.
type fanout struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

func (f *fanout) subscribe(h Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = make(map[int]Handler)
	}
	id := f.nextID
	f.nextID++
	f.handlers[id] = h
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.handlers, id)
			f.mu.Unlock()
		})
	}
}

func (f *fanout) snapshot() []Handler {
	f.mu.RLock()
	defer f.mu.RUnlock()
	hs := make([]Handler, 0, len(f.handlers))
	for _, h := range f.handlers {
		hs = append(hs, h)
	}
	return hs
}

func (f *fanout) each(fn func(Handler) error) error {
	var errs []error
	for _, h := range f.snapshot() {
		if err := fn(h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) ChannelJoined(ch domain.ChannelName, members []domain.ParticipantID) error {
	return f.each(func(h Handler) error { return h.ChannelJoined(ch, members) })
}

func (f *fanout) ChannelLeft() error {
	return f.each(func(h Handler) error { return h.ChannelLeft() })
}

func (f *fanout) PeerJoined(peer domain.ParticipantID) error {
	return f.each(func(h Handler) error { return h.PeerJoined(peer) })
}

func (f *fanout) PeerLeft(peer domain.ParticipantID) error {
	return f.each(func(h Handler) error { return h.PeerLeft(peer) })
}

func (f *fanout) Deliver(env core.Envelope) error {
	return f.each(func(h Handler) error { return h.Deliver(env) })
}

func (f *fanout) DeliveryFailed(peer domain.ParticipantID) error {
	return f.each(func(h Handler) error { return h.DeliveryFailed(peer) })
}
