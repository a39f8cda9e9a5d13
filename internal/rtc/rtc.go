// Package rtc implements the WebRTC media transport: one peer connection per
// session carrying the browser microphone inbound and an agent audio track
// outbound. Signalling (SDP offer/answer and trickled ICE candidates) rides
// the existing WebSocket control channel; this package only produces the
// events, the server relays them.
//
// Inbound Opus frames are decoded and resampled to the pipeline format
// (16 kHz mono s16) before being handed to the chunk callback, so the VAD
// and endpointing path is identical for both transports.
package rtc

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v3"
	"layeh.com/gopus"

	"github.com/renovox/renovox/internal/session"
	"github.com/renovox/renovox/pkg/audio"
)

// Browser WebRTC audio is 48 kHz Opus at 20 ms frame size.
const (
	opusRate     = 48000
	pipelineRate = 16000
	// frameSamples is the number of samples per channel per 20 ms frame.
	frameSamples = opusRate * 20 / 1000 // 960
)

// Manager owns all live peer connections, keyed by session ID.
// Safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	peers map[string]*peer
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{peers: make(map[string]*peer)}
}

type peer struct {
	pc    *webrtc.PeerConnection
	agent *agentTrack

	closeOnce sync.Once
}

// SetupPeer answers an SDP offer for the session: it wires the browser mic
// track into onPCM, attaches the outbound agent track, and returns the
// answer SDP with ICE candidates gathered.
func (m *Manager) SetupPeer(s *session.Session, offerSDP string, onPCM func([]byte)) (string, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("rtc: create peer connection: %w", err)
	}

	agent, err := newAgentTrack()
	if err != nil {
		pc.Close()
		return "", err
	}
	if _, err := pc.AddTrack(agent.track); err != nil {
		agent.stop()
		pc.Close()
		return "", fmt.Errorf("rtc: add agent track: %w", err)
	}

	// Trickle our ICE candidates to the browser over the control channel.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		s.Push(session.Event{
			"type": "ice_candidate",
			"candidate": map[string]any{
				"candidate":     init.Candidate,
				"sdpMid":        init.SDPMid,
				"sdpMLineIndex": init.SDPMLineIndex,
			},
		})
	})

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		slog.Info("rtc: connection state changed", "session_id", s.ID, "state", st.String())
		s.Push(session.Event{"type": "webrtc_state", "state": st.String()})
	})

	pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if tr.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		slog.Info("rtc: browser mic track received", "session_id", s.ID)
		go micReceiver(s, tr, onPCM)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		agent.stop()
		pc.Close()
		return "", fmt.Errorf("rtc: set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		agent.stop()
		pc.Close()
		return "", fmt.Errorf("rtc: create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		agent.stop()
		pc.Close()
		return "", fmt.Errorf("rtc: set local description: %w", err)
	}
	<-gathered

	p := &peer{pc: pc, agent: agent}
	agent.start()

	m.mu.Lock()
	if prev := m.peers[s.ID]; prev != nil {
		prev.close()
	}
	m.peers[s.ID] = p
	m.mu.Unlock()

	return pc.LocalDescription().SDP, nil
}

// AddICECandidate relays a trickled candidate from the browser.
func (m *Manager) AddICECandidate(s *session.Session, candidate map[string]any) error {
	p := m.get(s.ID)
	if p == nil {
		return fmt.Errorf("rtc: no peer connection for session %s", s.ID)
	}

	candStr, _ := candidate["candidate"].(string)
	if candStr == "" {
		return nil
	}
	init := webrtc.ICECandidateInit{Candidate: candStr}
	if mid, ok := candidate["sdpMid"].(string); ok {
		init.SDPMid = &mid
	}
	if idx, ok := candidate["sdpMLineIndex"].(float64); ok {
		u := uint16(idx)
		init.SDPMLineIndex = &u
	}
	return p.pc.AddICECandidate(init)
}

// Active reports whether a peer connection exists for the session.
func (m *Manager) Active(s *session.Session) bool {
	return m.get(s.ID) != nil
}

// PushAgentAudio queues 16 kHz mono s16 PCM for the outbound agent track.
func (m *Manager) PushAgentAudio(s *session.Session, pcm []byte) {
	if p := m.get(s.ID); p != nil {
		p.agent.push(pcm)
	}
}

// ClosePeer tears down the session's peer connection, if any.
func (m *Manager) ClosePeer(s *session.Session) {
	m.mu.Lock()
	p := m.peers[s.ID]
	delete(m.peers, s.ID)
	m.mu.Unlock()

	if p != nil {
		p.close()
	}
}

func (m *Manager) get(id string) *peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peers[id]
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		p.agent.stop()
		p.pc.Close()
	})
}

// micReceiver reads RTP from the browser mic track, decodes the Opus
// payload, and resamples to the pipeline format. Exits when the track ends.
func micReceiver(s *session.Session, tr *webrtc.TrackRemote, onPCM func([]byte)) {
	dec, err := gopus.NewDecoder(opusRate, 1)
	if err != nil {
		slog.Error("rtc: create opus decoder", "err", err, "session_id", s.ID)
		return
	}

	for {
		pkt, _, err := tr.ReadRTP()
		if err != nil {
			slog.Info("rtc: mic receiver ended", "session_id", s.ID, "err", err)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		pcm48, err := dec.Decode(pkt.Payload, frameSamples, false)
		if err != nil {
			slog.Debug("rtc: opus decode failed", "err", err, "session_id", s.ID)
			continue
		}

		pcm := audio.ResampleMono16(audio.Int16ToBytes(pcm48), opusRate, pipelineRate)
		if len(pcm) > 0 {
			onPCM(pcm)
		}
	}
}
