// Package vad implements energy-based voice activity detection over 16-bit
// little-endian mono PCM.
//
// The detector serves two purposes: end-of-utterance detection, which decides
// when captured audio is handed to speech recognition, and a lightweight
// barge-in query used while the agent is speaking. Detection is purely
// energy-based with hysteresis on both sides: speech must persist for a
// minimum duration before an utterance counts, and silence must persist
// before the utterance ends.
package vad

import (
	"time"

	"github.com/renovox/renovox/pkg/audio"
)

// State classifies the detector output for one chunk.
type State string

const (
	// StateSilence means the chunk is below the speech threshold.
	StateSilence State = "silence"
	// StateSpeech means the chunk is at or above the speech threshold.
	StateSpeech State = "speech"
	// StateEndOfUtterance means enough trailing silence followed a
	// sufficiently long stretch of speech.
	StateEndOfUtterance State = "end_of_utterance"
)

// Result is the outcome of processing one PCM chunk.
type Result struct {
	State State

	// RMS is the normalized root-mean-square energy of the chunk in [0, 1].
	RMS float64

	// InUtterance is true while the detector considers the user mid-speech.
	InUtterance bool

	// SpeechMS is the accumulated speech duration of the current utterance.
	SpeechMS float64

	// SilenceMS is the accumulated trailing silence within the utterance.
	SilenceMS float64
}

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithSpeechThreshold sets the normalized RMS level at or above which a chunk
// counts as speech. Default: 0.015.
func WithSpeechThreshold(t float64) Option {
	return func(d *Detector) {
		if t > 0 {
			d.speechThreshold = t
		}
	}
}

// WithSilenceThreshold sets the trailing silence needed to declare end of
// utterance. Default: 500ms.
func WithSilenceThreshold(dur time.Duration) Option {
	return func(d *Detector) {
		if dur > 0 {
			d.silenceThreshold = dur
		}
	}
}

// WithMinSpeech sets the minimum speech duration for an utterance to count;
// shorter bursts are discarded as noise. Default: 150ms.
func WithMinSpeech(dur time.Duration) Option {
	return func(d *Detector) {
		if dur > 0 {
			d.minSpeech = dur
		}
	}
}

// WithBargeInDuration sets the sustained speech duration the caller should
// require before treating speech during playback as a barge-in.
// Default: 200ms.
func WithBargeInDuration(dur time.Duration) Option {
	return func(d *Detector) {
		if dur > 0 {
			d.bargeIn = dur
		}
	}
}

// WithClock replaces the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// Detector holds the per-session detection state. It is not safe for
// concurrent use; each session owns exactly one Detector fed from a single
// goroutine.
type Detector struct {
	speechThreshold  float64
	silenceThreshold time.Duration
	minSpeech        time.Duration
	bargeIn          time.Duration
	now              func() time.Time

	inSpeech     bool
	speechStart  time.Time
	silenceStart time.Time
	speechMS     float64
	silenceMS    float64
}

// New constructs a Detector with the given options applied over defaults.
func New(opts ...Option) *Detector {
	d := &Detector{
		speechThreshold:  0.015,
		silenceThreshold: 500 * time.Millisecond,
		minSpeech:        150 * time.Millisecond,
		bargeIn:          200 * time.Millisecond,
		now:              time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// ProcessChunk classifies one PCM chunk and advances the utterance state
// machine.
func (d *Detector) ProcessChunk(pcm []byte) Result {
	rms := audio.RMS(pcm)
	now := d.now()

	if rms >= d.speechThreshold {
		if !d.inSpeech {
			d.inSpeech = true
			d.speechStart = now
			d.silenceStart = time.Time{}
			d.silenceMS = 0
		}
		d.silenceStart = time.Time{}
		d.silenceMS = 0
		d.speechMS = float64(now.Sub(d.speechStart)) / float64(time.Millisecond)
		return Result{
			State:       StateSpeech,
			RMS:         rms,
			InUtterance: true,
			SpeechMS:    d.speechMS,
		}
	}

	if d.inSpeech {
		if d.silenceStart.IsZero() {
			d.silenceStart = now
		}
		d.silenceMS = float64(now.Sub(d.silenceStart)) / float64(time.Millisecond)

		if d.silenceMS >= float64(d.silenceThreshold/time.Millisecond) {
			speechMS, silenceMS := d.speechMS, d.silenceMS
			d.Reset()
			if speechMS >= float64(d.minSpeech/time.Millisecond) {
				return Result{
					State:     StateEndOfUtterance,
					RMS:       rms,
					SpeechMS:  speechMS,
					SilenceMS: silenceMS,
				}
			}
			// Too short, was probably noise.
			return Result{State: StateSilence, RMS: rms}
		}
	}

	return Result{
		State:       StateSilence,
		RMS:         rms,
		InUtterance: d.inSpeech,
		SilenceMS:   d.silenceMS,
	}
}

// IsBargeIn reports whether rms alone clears the speech threshold. Callers
// combine this with a higher energy gate and a post-playback deaf window
// before treating it as a real interruption.
func (d *Detector) IsBargeIn(rms float64) bool {
	return rms >= d.speechThreshold
}

// BargeInDuration returns the configured sustained-speech requirement for
// barge-in qualification.
func (d *Detector) BargeInDuration() time.Duration {
	return d.bargeIn
}

// Reset clears all utterance state. Called at the start of each new turn.
func (d *Detector) Reset() {
	d.inSpeech = false
	d.speechStart = time.Time{}
	d.silenceStart = time.Time{}
	d.speechMS = 0
	d.silenceMS = 0
}
