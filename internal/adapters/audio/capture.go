package audio

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dkeye/voicemesh/internal/mesh"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// FrameDuration is the Opus frame length every capture produces.
const FrameDuration = 20 * time.Millisecond

// silenceFrame is an Opus comfort-noise frame.
var silenceFrame = []byte{0xf8, 0xff, 0xfe}

// frameSource yields the next Opus frame. It returns false when the source
// is exhausted.
type frameSource interface {
	next() (frame []byte, duration time.Duration, ok bool)
	close() error
}

// sampleCapture pumps frames from a source into one local sample track.
// Disabled captures skip frames instead of sending them.
type sampleCapture struct {
	track   *webrtc.TrackLocalStaticSample
	source  frameSource
	enabled atomic.Bool
	written atomic.Uint64
	logger  zerolog.Logger

	cancel context.CancelFunc
	wg     conc.WaitGroup
}

func newSampleCapture(streamID string, source frameSource) (*sampleCapture, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", streamID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &sampleCapture{
		track:  track,
		source: source,
		logger: log.With().Str("module", "capture").Str("stream_id", streamID).Logger(),
		cancel: cancel,
	}
	c.enabled.Store(true)
	c.wg.Go(func() { c.loop(ctx) })
	return c, nil
}

func (c *sampleCapture) loop(ctx context.Context) {
	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		frame, duration, ok := c.source.next()
		if !ok {
			c.logger.Info().Msg("capture source exhausted")
			return
		}
		if !c.enabled.Load() {
			continue
		}
		if err := c.track.WriteSample(media.Sample{Data: frame, Duration: duration}); err != nil {
			c.logger.Debug().Err(err).Msg("write sample")
			continue
		}
		c.written.Add(1)
	}
}

func (c *sampleCapture) Track() webrtc.TrackLocal { return c.track }

func (c *sampleCapture) SetEnabled(enabled bool) { c.enabled.Store(enabled) }

func (c *sampleCapture) Close() error {
	c.cancel()
	c.wg.Wait()
	return c.source.close()
}

var _ mesh.Capture = (*sampleCapture)(nil)
