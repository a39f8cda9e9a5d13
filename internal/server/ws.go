package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/renovox/renovox/internal/observe"
	"github.com/renovox/renovox/internal/persona"
	"github.com/renovox/renovox/internal/session"
)

// greeting is spoken by Bob as soon as a client connects.
const greeting = "Hi! I'm Bob, your renovation planning assistant. " +
	"I'm here to help you think through your project. " +
	"What room are you looking to renovate?"

// handleWS owns one client connection: session setup, the greeting, the
// sender and inactivity goroutines, and the inbound frame loop.
func (srv *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	if id == "" {
		id = uuid.NewString()
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		observe.Logger(r.Context()).Warn("server: websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session teardown")

	ctx := r.Context()
	log := observe.Logger(ctx).With("session_id", id)
	log.Info("session connected")

	s := session.New(id, session.WithDetector(srv.newDetector()))
	s.StartDeafWindow(startupDeafWindow)
	srv.registry.Add(s)
	defer srv.registry.Remove(id)
	srv.runner.Metrics.ActiveSessions.Add(ctx, 1)
	defer srv.runner.Metrics.ActiveSessions.Add(ctx, -1)

	senderDone := make(chan struct{})
	go func() {
		defer close(senderDone)
		srv.senderLoop(ctx, conn, s)
	}()
	go srv.inactivityMonitor(ctx, s)

	s.Push(session.Event{
		"type":       "connected",
		"session_id": id,
		"agent":      s.Personas.Current(),
	})

	// The greeting text arrives as one token so the transcript shows it,
	// then plays as audio.
	s.Push(session.Event{"type": "llm_token", "token": greeting, "turn_id": s.TurnID()})
	go srv.runner.StreamSpeech(context.WithoutCancel(ctx), s, greeting, persona.DefaultPersona, s.TurnID(), true)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		if typ != websocket.MessageText {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed frames are dropped without killing the connection.
			continue
		}
		srv.handleFrame(ctx, s, msg)
	}

	log.Info("session disconnected")
	if srv.peers != nil {
		srv.peers.ClosePeer(s)
	}
	srv.registry.Remove(id)
	<-senderDone
	conn.Close(websocket.StatusNormalClosure, "")
}

// handleFrame dispatches one inbound client message.
func (srv *Server) handleFrame(ctx context.Context, s *session.Session, msg map[string]any) {
	msgType, _ := msg["type"].(string)

	switch msgType {
	case "ping":
		s.Push(session.Event{"type": "pong"})

	case "audio_chunk":
		// WebSocket audio is the fallback path; once a WebRTC peer is up
		// its media track is authoritative.
		if srv.peers != nil && srv.peers.Active(s) {
			return
		}
		data, _ := msg["data"].(string)
		if data == "" {
			return
		}
		chunk, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return
		}
		srv.ProcessPCMChunk(ctx, s, chunk)

	case "end_of_audio":
		// Server-side VAD is the sole endpointing authority; the client's
		// manual trigger is ignored.

	case "barge_in":
		srv.bargeIn(s)
		s.Push(session.Event{"type": "barge_in_ack", "turn_id": s.TurnID()})

	case "text_input":
		text, _ := msg["text"].(string)
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		turnID := s.NewTurn()
		s.Detector.Reset()
		s.Touch()
		observe.Logger(ctx).Info("text input", "session_id", s.ID, "turn_id", turnID)
		s.Push(session.Event{"type": "final_transcript", "text": text, "turn_id": turnID})
		srv.startTask(ctx, s, func(taskCtx context.Context) {
			srv.runner.HandleTurn(taskCtx, s, text, turnID)
		})

	case "webrtc_offer":
		sdp, _ := msg["sdp"].(string)
		if sdp == "" || srv.peers == nil {
			return
		}
		answer, err := srv.peers.SetupPeer(s, sdp, func(pcm []byte) {
			srv.ProcessPCMChunk(ctx, s, pcm)
		})
		if err != nil {
			observe.Logger(ctx).Error("server: webrtc setup failed", "err", err, "session_id", s.ID)
			return
		}
		s.Push(session.Event{"type": "webrtc_answer", "sdp": answer})

	case "ice_candidate":
		candidate, _ := msg["candidate"].(map[string]any)
		if candidate == nil || srv.peers == nil {
			return
		}
		if err := srv.peers.AddICECandidate(s, candidate); err != nil {
			observe.Logger(ctx).Warn("server: ice candidate rejected", "err", err, "session_id", s.ID)
		}

	case "tts_playback_done":
		s.SetTTSPlaying(false)
		s.DeafenTTS(ttsDeafWindow)
	}
}

// bargeIn raises both cancellation signals so the in-flight turn checkpoints
// and synthesis stops.
func (srv *Server) bargeIn(s *session.Session) {
	s.TTSCancel.Set()
	s.PipelineCancel.Set()
	srv.runner.Metrics.BargeIns.Add(context.Background(), 1)
}

// startTask runs fn as the session's single pipeline task. The task outlives
// the request context; disconnect cancels it through the session teardown,
// and the task releases its own context on return so provider streams that
// were abandoned mid-turn unblock.
func (srv *Server) startTask(ctx context.Context, s *session.Session, fn func(context.Context)) {
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.SetTask(cancel)
	go func() {
		defer cancel()
		fn(taskCtx)
	}()
}

// senderLoop drains the session event queue and writes to the socket,
// coalescing events that arrive within one batching window. A single event
// is sent as a plain object, multiple as an array.
func (srv *Server) senderLoop(ctx context.Context, conn *websocket.Conn, s *session.Session) {
	flush := func(batch []session.Event) bool {
		if len(batch) == 0 {
			return true
		}
		var payload any = batch
		if len(batch) == 1 {
			payload = batch[0]
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return true
		}
		return conn.Write(ctx, websocket.MessageText, data) == nil
	}

	for {
		ev, ok := <-s.Events()
		if !ok {
			return
		}
		batch := []session.Event{ev}

		timer := time.NewTimer(srv.coalesce)
	coalescing:
		for {
			select {
			case ev, ok := <-s.Events():
				if !ok {
					timer.Stop()
					flush(batch)
					return
				}
				batch = append(batch, ev)
			case <-timer.C:
				break coalescing
			case <-ctx.Done():
				timer.Stop()
				flush(batch)
				return
			}
		}

		if !flush(batch) {
			return
		}
	}
}
