// Package audio provides PCM helpers shared by the voice pipeline: RMS energy
// measurement, sample-format conversion, and resampling.
//
// All functions operate on raw little-endian signed 16-bit PCM, the wire
// format of the whole system (16 kHz mono between browser and server, 48 kHz
// on WebRTC media tracks before resampling).
package audio

import "math"

// BytesPerSample is the width of one s16 PCM sample.
const BytesPerSample = 2

// RMS computes the normalised root-mean-square energy of little-endian s16
// PCM in the range [0, 1]. Buffers shorter than one sample yield 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sumSq float64
	for i := 0; i < n; i++ {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sumSq += s * s
	}
	return math.Sqrt(sumSq/float64(n)) / 32768.0
}

// Int16ToBytes serialises int16 samples as little-endian PCM bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// BytesToInt16 parses little-endian PCM bytes into int16 samples. A trailing
// odd byte is ignored.
func BytesToInt16(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}
