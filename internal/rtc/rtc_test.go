package rtc

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/renovox/renovox/internal/session"
)

// newOffer builds a browser-side peer connection and returns its SDP offer
// with candidates gathered.
func newOffer(t *testing.T) (*webrtc.PeerConnection, string) {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("client peer connection: %v", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		t.Fatalf("add transceiver: %v", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("set local description: %v", err)
	}
	select {
	case <-gathered:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out gathering client candidates")
	}
	return pc, pc.LocalDescription().SDP
}

func TestSetupPeerAnswersOffer(t *testing.T) {
	client, offerSDP := newOffer(t)
	defer client.Close()

	m := NewManager()
	s := session.New("s1")
	defer m.ClosePeer(s)

	answer, err := m.SetupPeer(s, offerSDP, func([]byte) {})
	if err != nil {
		t.Fatalf("SetupPeer: %v", err)
	}
	if answer == "" {
		t.Fatal("empty answer SDP")
	}
	if !m.Active(s) {
		t.Fatal("peer not registered after setup")
	}

	if err := client.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		t.Fatalf("client rejected answer: %v", err)
	}
}

func TestClosePeerDeregisters(t *testing.T) {
	client, offerSDP := newOffer(t)
	defer client.Close()

	m := NewManager()
	s := session.New("s1")

	if _, err := m.SetupPeer(s, offerSDP, func([]byte) {}); err != nil {
		t.Fatalf("SetupPeer: %v", err)
	}
	m.ClosePeer(s)
	if m.Active(s) {
		t.Fatal("peer still active after close")
	}
	m.ClosePeer(s) // idempotent
}

func TestAddICECandidateWithoutPeer(t *testing.T) {
	m := NewManager()
	s := session.New("s1")

	err := m.AddICECandidate(s, map[string]any{"candidate": "candidate:1 1 udp 1 127.0.0.1 4242 typ host"})
	if err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestAgentTrackChunking(t *testing.T) {
	a, err := newAgentTrack()
	if err != nil {
		t.Fatalf("newAgentTrack: %v", err)
	}
	defer a.stop()

	// Empty queue yields a full frame of silence.
	chunk := a.nextChunk()
	if len(chunk) != frameBytes16k {
		t.Fatalf("chunk length = %d, want %d", len(chunk), frameBytes16k)
	}
	for _, b := range chunk {
		if b != 0 {
			t.Fatal("idle frame is not silence")
		}
	}

	// Queued audio drains in order, padded at the tail.
	a.push([]byte{1, 2, 3, 4})
	chunk = a.nextChunk()
	if chunk[0] != 1 || chunk[1] != 2 || chunk[2] != 3 || chunk[3] != 4 {
		t.Fatalf("chunk head = %v", chunk[:4])
	}
	for _, b := range chunk[4:] {
		if b != 0 {
			t.Fatal("tail of short frame is not padded with silence")
		}
	}
	if got := a.nextChunk(); got[0] != 0 {
		t.Fatal("queue not drained")
	}
}
