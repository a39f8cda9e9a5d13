package wav

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncode_Header(t *testing.T) {
	pcm := make([]byte, 3200) // 100ms at 16kHz mono s16
	out := Encode(pcm, 16000, 1)

	if len(out) != 44+len(pcm) {
		t.Fatalf("length = %d, want %d", len(out), 44+len(pcm))
	}
	if !bytes.Equal(out[0:4], []byte("RIFF")) || !bytes.Equal(out[8:12], []byte("WAVE")) {
		t.Fatal("missing RIFF/WAVE magic")
	}
	if got := binary.LittleEndian.Uint32(out[4:8]); got != uint32(36+len(pcm)) {
		t.Errorf("riff size = %d, want %d", got, 36+len(pcm))
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint16(out[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(out[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
}

func TestEncode_EmptyPCM(t *testing.T) {
	out := Encode(nil, 16000, 1)
	if len(out) != 44 {
		t.Fatalf("length = %d, want 44", len(out))
	}
}
