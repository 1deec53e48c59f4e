package audio

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/mesh"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

// UDPRenderers forwards each remote participant's RTP to its own local UDP
// port, basePort + slot, where an external player (ffplay, gstreamer) listens.
// A participant keeps its slot for the life of the factory.
type UDPRenderers struct {
	host     string
	basePort int

	mu    sync.Mutex
	slots map[domain.ParticipantID]int
}

func NewUDPRenderers(host string, basePort int) *UDPRenderers {
	if host == "" {
		host = "127.0.0.1"
	}
	return &UDPRenderers{host: host, basePort: basePort, slots: make(map[domain.ParticipantID]int)}
}

// Port returns the UDP port assigned to peer.
func (f *UDPRenderers) Port(peer domain.ParticipantID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	slot, ok := f.slots[peer]
	if !ok {
		slot = len(f.slots)
		f.slots[peer] = slot
	}
	return f.basePort + slot
}

func (f *UDPRenderers) NewRenderer(peer domain.ParticipantID) (mesh.Renderer, error) {
	addr := net.JoinHostPort(f.host, strconv.Itoa(f.Port(peer)))
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial renderer %s: %w", addr, err)
	}
	log.Info().Str("module", "render").Str("peer", string(peer)).Str("addr", addr).Msg("rendering remote audio")
	return &udpSpeaker{conn: conn, buf: make([]byte, 1500)}, nil
}

type udpSpeaker struct {
	mu   sync.Mutex
	conn net.Conn
	buf  []byte
}

func (s *udpSpeaker) WriteRTP(pkt *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := pkt.MarshalTo(s.buf)
	if err != nil {
		return err
	}
	if _, err := s.conn.Write(s.buf[:n]); err != nil {
		// Nobody listening yet is not fatal for a local player port.
		if errors.Is(err, syscall.ECONNREFUSED) {
			return nil
		}
		return err
	}
	return nil
}

func (s *udpSpeaker) Close() error { return s.conn.Close() }

// Discard renders nothing.
type Discard struct{}

func (Discard) NewRenderer(domain.ParticipantID) (mesh.Renderer, error) { return discard{}, nil }

type discard struct{}

func (discard) WriteRTP(*rtp.Packet) error { return nil }
func (discard) Close() error               { return nil }
