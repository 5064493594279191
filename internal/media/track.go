package media

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// LocalTrack is a sample track whose samples are discarded while disabled.
type LocalTrack struct {
	track   *webrtc.TrackLocalStaticSample
	kind    string
	enabled atomic.Bool
}

func newLocalTrack(mimeType, kind, streamID string) (*LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mimeType}, kind, streamID)
	if err != nil {
		return nil, fmt.Errorf("new %s track: %w", kind, err)
	}
	t := &LocalTrack{track: track, kind: kind}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalTrack) ID() string   { return t.track.ID() }
func (t *LocalTrack) Kind() string { return t.kind }

func (t *LocalTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *LocalTrack) Enabled() bool { return t.enabled.Load() }

// WriteSample sends one encoded frame. Disabled tracks drop it.
func (t *LocalTrack) WriteSample(data []byte, duration time.Duration) error {
	if !t.enabled.Load() {
		return nil
	}
	return t.track.WriteSample(pionmedia.Sample{Data: data, Duration: duration})
}
