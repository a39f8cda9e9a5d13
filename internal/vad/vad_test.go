package vad

import (
	"math"
	"testing"
	"time"

	"github.com/renovox/renovox/pkg/audio"
)

// fakeClock advances a fixed amount per chunk so tests control durations.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// loudChunk returns 32ms of 16kHz mono PCM with RMS well above threshold.
func loudChunk() []byte {
	samples := make([]int16, 512)
	for i := range samples {
		samples[i] = int16(10000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return audio.Int16ToBytes(samples)
}

// quietChunk returns 32ms of near-silent PCM.
func quietChunk() []byte {
	return make([]byte, 1024)
}

func newTestDetector(clock *fakeClock) *Detector {
	return New(WithClock(clock.now))
}

func TestProcessChunkSilenceStaysSilent(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	d := newTestDetector(clock)

	for i := 0; i < 50; i++ {
		res := d.ProcessChunk(quietChunk())
		if res.State != StateSilence {
			t.Fatalf("chunk %d: state = %q, want silence", i, res.State)
		}
		if res.InUtterance {
			t.Fatalf("chunk %d: InUtterance = true before any speech", i)
		}
		clock.advance(32 * time.Millisecond)
	}
}

func TestProcessChunkDetectsSpeech(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	d := newTestDetector(clock)

	res := d.ProcessChunk(loudChunk())
	if res.State != StateSpeech {
		t.Fatalf("state = %q, want speech", res.State)
	}
	if !res.InUtterance {
		t.Fatal("InUtterance = false during speech")
	}
	if res.RMS < 0.015 {
		t.Fatalf("RMS = %v, want >= speech threshold", res.RMS)
	}
}

func TestEndOfUtteranceAfterSilence(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	d := newTestDetector(clock)

	// 320ms of speech, clearing the 150ms minimum.
	for i := 0; i < 10; i++ {
		d.ProcessChunk(loudChunk())
		clock.advance(32 * time.Millisecond)
	}

	// Silence until the 500ms threshold is crossed.
	var got Result
	for i := 0; i < 20; i++ {
		got = d.ProcessChunk(quietChunk())
		if got.State == StateEndOfUtterance {
			break
		}
		clock.advance(32 * time.Millisecond)
	}
	if got.State != StateEndOfUtterance {
		t.Fatalf("state = %q, want end_of_utterance", got.State)
	}
	if got.SpeechMS < 150 {
		t.Fatalf("SpeechMS = %v, want >= 150", got.SpeechMS)
	}
	if got.SilenceMS < 500 {
		t.Fatalf("SilenceMS = %v, want >= 500", got.SilenceMS)
	}
	if got.InUtterance {
		t.Fatal("InUtterance = true after end of utterance")
	}
}

func TestShortBurstNeverEndsUtterance(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	d := newTestDetector(clock)

	// 64ms of speech, below the 150ms minimum.
	for i := 0; i < 2; i++ {
		d.ProcessChunk(loudChunk())
		clock.advance(32 * time.Millisecond)
	}

	// Long silence must discard the burst without an utterance.
	for i := 0; i < 40; i++ {
		res := d.ProcessChunk(quietChunk())
		if res.State == StateEndOfUtterance {
			t.Fatal("short burst produced end_of_utterance")
		}
		clock.advance(32 * time.Millisecond)
	}

	// Detector must be fully reset: a new utterance starts clean.
	res := d.ProcessChunk(loudChunk())
	if res.State != StateSpeech {
		t.Fatalf("state after noise discard = %q, want speech", res.State)
	}
	if res.SpeechMS != 0 {
		t.Fatalf("SpeechMS = %v after noise discard, want fresh start", res.SpeechMS)
	}
}

func TestSpeechResumesBeforeSilenceThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	d := newTestDetector(clock)

	for i := 0; i < 10; i++ {
		d.ProcessChunk(loudChunk())
		clock.advance(32 * time.Millisecond)
	}
	// A short pause, well under 500ms.
	for i := 0; i < 5; i++ {
		res := d.ProcessChunk(quietChunk())
		if res.State != StateSilence || !res.InUtterance {
			t.Fatalf("pause chunk %d: state = %q InUtterance = %v", i, res.State, res.InUtterance)
		}
		clock.advance(32 * time.Millisecond)
	}
	// Speech resumes and the silence accumulator is cleared.
	res := d.ProcessChunk(loudChunk())
	if res.State != StateSpeech {
		t.Fatalf("state = %q, want speech after pause", res.State)
	}

	res = d.ProcessChunk(quietChunk())
	if res.SilenceMS != 0 {
		t.Fatalf("SilenceMS = %v after resumed speech, want 0", res.SilenceMS)
	}
}

func TestReset(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	d := newTestDetector(clock)

	for i := 0; i < 10; i++ {
		d.ProcessChunk(loudChunk())
		clock.advance(32 * time.Millisecond)
	}
	d.Reset()

	res := d.ProcessChunk(quietChunk())
	if res.State != StateSilence || res.InUtterance {
		t.Fatalf("after reset: state = %q InUtterance = %v", res.State, res.InUtterance)
	}
}

func TestIsBargeIn(t *testing.T) {
	d := New(WithSpeechThreshold(0.015))
	if d.IsBargeIn(0.01) {
		t.Fatal("IsBargeIn(0.01) = true below threshold")
	}
	if !d.IsBargeIn(0.02) {
		t.Fatal("IsBargeIn(0.02) = false above threshold")
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	d := New(
		WithSpeechThreshold(0.05),
		WithSilenceThreshold(time.Second),
		WithMinSpeech(300*time.Millisecond),
		WithBargeInDuration(400*time.Millisecond),
	)
	if d.speechThreshold != 0.05 {
		t.Fatalf("speechThreshold = %v", d.speechThreshold)
	}
	if d.silenceThreshold != time.Second {
		t.Fatalf("silenceThreshold = %v", d.silenceThreshold)
	}
	if d.minSpeech != 300*time.Millisecond {
		t.Fatalf("minSpeech = %v", d.minSpeech)
	}
	if d.BargeInDuration() != 400*time.Millisecond {
		t.Fatalf("BargeInDuration = %v", d.BargeInDuration())
	}
}
