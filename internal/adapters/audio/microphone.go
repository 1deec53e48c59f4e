package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dkeye/voicemesh/internal/mesh"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	SourceSilence = "silence"
	SourceNone    = "none"
)

// NewMicrophone picks a capture source by name: "silence", "none" or the
// path of an Ogg/Opus file that is played in a loop.
func NewMicrophone(source, streamID string) mesh.Microphone {
	switch source {
	case SourceSilence, "":
		return Silence{StreamID: streamID}
	case SourceNone:
		return Denied{}
	default:
		return OggFile{Path: source, StreamID: streamID}
	}
}

// Silence captures Opus silence frames. It stands in for a real device on
// headless participants.
type Silence struct {
	StreamID string
}

func (s Silence) Open(ctx context.Context) (mesh.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newSampleCapture(s.StreamID, silenceSource{})
}

type silenceSource struct{}

func (silenceSource) next() ([]byte, time.Duration, bool) { return silenceFrame, FrameDuration, true }
func (silenceSource) close() error                        { return nil }

// Denied behaves like a microphone without permission.
type Denied struct{}

func (Denied) Open(context.Context) (mesh.Capture, error) {
	return nil, fmt.Errorf("%w: capture disabled", mesh.ErrCaptureUnavailable)
}

// OggFile plays an Ogg/Opus file as if it were a microphone.
type OggFile struct {
	Path     string
	StreamID string
}

func (o OggFile) Open(ctx context.Context) (mesh.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := openOgg(o.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mesh.ErrCaptureUnavailable, err)
	}
	return newSampleCapture(o.StreamID, src)
}

type oggSource struct {
	path    string
	file    *os.File
	reader  *oggreader.OggReader
	granule uint64
}

func openOgg(path string) (*oggSource, error) {
	s := &oggSource{path: path}
	if err := s.rewind(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *oggSource) rewind() error {
	if s.file != nil {
		_ = s.file.Close()
	}
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("read ogg header: %w", err)
	}
	s.file, s.reader, s.granule = f, reader, 0
	return nil
}

// next returns one Ogg page. At end of file the stream starts over.
func (s *oggSource) next() ([]byte, time.Duration, bool) {
	for attempt := 0; attempt < 2; attempt++ {
		page, header, err := s.reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if err := s.rewind(); err != nil {
				return nil, 0, false
			}
			continue
		}
		if err != nil {
			return nil, 0, false
		}
		samples := header.GranulePosition - s.granule
		s.granule = header.GranulePosition
		duration := time.Duration(float64(samples)/48000*1000) * time.Millisecond
		if duration <= 0 || duration > time.Second {
			duration = FrameDuration
		}
		return page, duration, true
	}
	return nil, 0, false
}

func (s *oggSource) close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
