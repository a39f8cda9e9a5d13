package rtc

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"layeh.com/gopus"

	"github.com/renovox/renovox/pkg/audio"
)

const (
	// frameInterval is the Opus packet cadence.
	frameInterval = 20 * time.Millisecond

	// frameBytes16k is one 20 ms frame of pipeline PCM: 320 samples at
	// 16 kHz mono s16.
	frameBytes16k = pipelineRate / 50 * audio.BytesPerSample
)

// agentTrack is the outbound audio track. Queued pipeline PCM is upsampled
// to 48 kHz, Opus-encoded frame by frame, and written on a steady 20 ms
// cadence. When the queue is empty the track emits silence so the browser
// keeps it alive.
type agentTrack struct {
	track *webrtc.TrackLocalStaticSample
	enc   *gopus.Encoder

	mu      sync.Mutex
	pending []byte

	done     chan struct{}
	stopOnce sync.Once
}

func newAgentTrack() (*agentTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusRate,
		Channels:  1,
	}, "agent-audio", "renovox")
	if err != nil {
		return nil, err
	}
	enc, err := gopus.NewEncoder(opusRate, 1, gopus.Voip)
	if err != nil {
		return nil, err
	}
	return &agentTrack{
		track: track,
		enc:   enc,
		done:  make(chan struct{}),
	}, nil
}

// push queues 16 kHz mono s16 PCM for transmission.
func (a *agentTrack) push(pcm []byte) {
	a.mu.Lock()
	a.pending = append(a.pending, pcm...)
	a.mu.Unlock()
}

// start launches the frame pump.
func (a *agentTrack) start() {
	go a.run()
}

// stop halts the frame pump.
func (a *agentTrack) stop() {
	a.stopOnce.Do(func() { close(a.done) })
}

func (a *agentTrack) run() {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			if err := a.writeFrame(); err != nil {
				slog.Debug("rtc: agent track write failed", "err", err)
			}
		}
	}
}

// nextChunk takes one frame's worth of queued PCM, zero-padded when the
// queue runs dry mid-frame.
func (a *agentTrack) nextChunk() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	chunk := make([]byte, frameBytes16k)
	n := copy(chunk, a.pending)
	if n > 0 {
		a.pending = a.pending[n:]
	}
	return chunk
}

func (a *agentTrack) writeFrame() error {
	up := audio.ResampleMono16(a.nextChunk(), pipelineRate, opusRate)
	data, err := a.enc.Encode(audio.BytesToInt16(up), frameSamples, len(up))
	if err != nil {
		return err
	}
	return a.track.WriteSample(media.Sample{Data: data, Duration: frameInterval})
}
