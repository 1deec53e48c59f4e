package mesh

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ErrCaptureUnavailable is returned by a Microphone that cannot capture,
// e.g. because permission was denied or no device exists.
var ErrCaptureUnavailable = errors.New("capture unavailable")

type mediaState int

const (
	mediaIdle mediaState = iota
	mediaPending
	mediaReady
	mediaReceiveOnly
)

// LocalMedia owns the single local capture and the mute flag. Every
// PeerLink sends the same track.
type LocalMedia struct {
	mu      sync.Mutex
	state   mediaState
	capture Capture
	muted   bool
}

func NewLocalMedia() *LocalMedia {
	return &LocalMedia{}
}

func (m *LocalMedia) begin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = mediaPending
}

// attach installs an acquired capture and applies the current mute flag to it.
func (m *LocalMedia) attach(c Capture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.SetEnabled(!m.muted)
	m.capture = c
	m.state = mediaReady
}

func (m *LocalMedia) receiveOnly() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capture = nil
	m.state = mediaReceiveOnly
}

// settled reports whether acquisition finished, successfully or not.
func (m *LocalMedia) settled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == mediaReady || m.state == mediaReceiveOnly
}

// Available reports whether a capture is attached.
func (m *LocalMedia) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capture != nil
}

// Track returns the capture track, or nil in receive-only mode.
func (m *LocalMedia) Track() webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capture == nil {
		return nil
	}
	return m.capture.Track()
}

// SetMuted sets the mute flag and gates the capture before returning.
// Without a capture it does nothing and reports false.
func (m *LocalMedia) SetMuted(muted bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capture == nil {
		return false
	}
	m.muted = muted
	m.capture.SetEnabled(!muted)
	return m.muted
}

func (m *LocalMedia) ToggleMute() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capture == nil {
		return false
	}
	m.muted = !m.muted
	m.capture.SetEnabled(!m.muted)
	return m.muted
}

func (m *LocalMedia) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capture != nil && m.muted
}

// Release closes the capture. The mute preference survives for the next join.
func (m *LocalMedia) Release() error {
	m.mu.Lock()
	c := m.capture
	m.capture = nil
	m.state = mediaIdle
	m.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}
