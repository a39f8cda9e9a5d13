package audio

import (
	"math"
	"testing"
)

// sine generates n samples of a full-scale-ish sine wave.
func sine(n int, amplitude float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*float64(i)/64))
	}
	return out
}

func TestRMS_Silence(t *testing.T) {
	if got := RMS(make([]byte, 640)); got != 0 {
		t.Fatalf("RMS of zeros = %v, want 0", got)
	}
}

func TestRMS_Empty(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("RMS(nil) = %v, want 0", got)
	}
	if got := RMS([]byte{0x01}); got != 0 {
		t.Fatalf("RMS of single byte = %v, want 0", got)
	}
}

func TestRMS_FullScaleSine(t *testing.T) {
	pcm := Int16ToBytes(sine(640, 1.0))
	got := RMS(pcm)
	// A full-scale sine has RMS amplitude 1/sqrt(2).
	want := 1 / math.Sqrt2
	if math.Abs(got-want) > 0.01 {
		t.Fatalf("RMS = %v, want ~%v", got, want)
	}
}

func TestInt16Roundtrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 12345}
	got := BytesToInt16(Int16ToBytes(in))
	if len(got) != len(in) {
		t.Fatalf("length = %d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], in[i])
		}
	}
}

func TestStereoToMono(t *testing.T) {
	// L=100, R=300 → 200; L=-32768, R=-32768 → -32768 (clamp path exercised).
	stereo := Int16ToBytes([]int16{100, 300, -32768, -32768})
	mono := BytesToInt16(StereoToMono(stereo))
	if len(mono) != 2 {
		t.Fatalf("mono samples = %d, want 2", len(mono))
	}
	if mono[0] != 200 {
		t.Errorf("mono[0] = %d, want 200", mono[0])
	}
	if mono[1] != -32768 {
		t.Errorf("mono[1] = %d, want -32768", mono[1])
	}
}

func TestResampleMono16_Halves48kTo16k(t *testing.T) {
	src := Int16ToBytes(sine(480, 0.5)) // 10ms at 48kHz
	dst := ResampleMono16(src, 48000, 16000)
	if got, want := len(dst)/2, 160; got != want {
		t.Fatalf("resampled samples = %d, want %d", got, want)
	}
}

func TestResampleMono16_SameRateUnchanged(t *testing.T) {
	src := Int16ToBytes(sine(160, 0.5))
	dst := ResampleMono16(src, 16000, 16000)
	if &dst[0] != &src[0] {
		t.Fatal("same-rate resample should return input unchanged")
	}
}

func TestDownmixTo16k(t *testing.T) {
	// 20ms of 48kHz stereo → 320 mono samples at 16kHz.
	stereo := make([]int16, 960*2)
	dst := DownmixTo16k(Int16ToBytes(stereo), 48000, 2)
	if got, want := len(dst)/2, 320; got != want {
		t.Fatalf("downmixed samples = %d, want %d", got, want)
	}
}
