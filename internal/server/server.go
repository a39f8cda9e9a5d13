// Package server exposes the Renovox HTTP surface: the per-session WebSocket
// endpoint, WebRTC signalling, health and metrics endpoints, and the debug
// session listing.
//
// The WebSocket receive loop owns inbound frame dispatch; a dedicated sender
// goroutine drains the session event queue and coalesces events into batched
// writes. All turn execution happens in pipeline tasks registered on the
// session, so a disconnect cancels everything through the session teardown.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/renovox/renovox/internal/config"
	"github.com/renovox/renovox/internal/health"
	"github.com/renovox/renovox/internal/pipeline"
	"github.com/renovox/renovox/internal/session"
	"github.com/renovox/renovox/internal/vad"
)

const (
	// startupDeafWindow suppresses utterance processing right after connect
	// so mic echo of the greeting does not cascade into false transcriptions.
	startupDeafWindow = 8 * time.Second

	// ttsDeafWindow suppresses barge-in right after playback ends, hiding
	// speaker-to-mic room echo.
	ttsDeafWindow = 700 * time.Millisecond

	// minUtteranceBytes and maxUtteranceBytes bound a plausible utterance
	// in 16-bit mono 16kHz PCM. Shorter is noise, longer is accumulated echo.
	minUtteranceBytes = 8000
	maxUtteranceBytes = 400000

	// inactivityTimeout is the silence span after which the agent checks in.
	inactivityTimeout = 30 * time.Second
)

// Server wires the transport endpoints to the pipeline runner.
type Server struct {
	cfg      *config.Config
	runner   *pipeline.Runner
	registry *session.Registry
	health   *health.Handler
	peers    PeerManager
	coalesce time.Duration
}

// PeerManager abstracts the WebRTC transport so the server can be tested
// without a media stack.
type PeerManager interface {
	// SetupPeer answers an SDP offer and routes decoded mic audio into onPCM.
	SetupPeer(s *session.Session, offerSDP string, onPCM func([]byte)) (answerSDP string, err error)

	// AddICECandidate relays a trickled ICE candidate from the client.
	AddICECandidate(s *session.Session, candidate map[string]any) error

	// Active reports whether a peer connection exists for the session.
	Active(s *session.Session) bool

	// ClosePeer tears the peer connection down on disconnect.
	ClosePeer(s *session.Session)
}

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithPeerManager attaches the WebRTC transport.
func WithPeerManager(pm PeerManager) Option {
	return func(srv *Server) { srv.peers = pm }
}

// WithHealth attaches readiness probes to the HTTP surface.
func WithHealth(h *health.Handler) Option {
	return func(srv *Server) { srv.health = h }
}

// New constructs a Server.
func New(cfg *config.Config, runner *pipeline.Runner, registry *session.Registry, opts ...Option) *Server {
	srv := &Server{
		cfg:      cfg,
		runner:   runner,
		registry: registry,
		coalesce: time.Duration(cfg.Server.CoalesceMS) * time.Millisecond,
	}
	for _, o := range opts {
		o(srv)
	}
	return srv
}

// Handler returns the HTTP handler with all routes registered.
func (srv *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{session_id}", srv.handleWS)
	mux.HandleFunc("GET /sessions", srv.handleSessions)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /{$}", srv.handleIndex)
	if srv.health != nil {
		srv.health.Register(mux)
	}
	return browserHeaders(mux)
}

// newDetector builds a per-session VAD from the configured thresholds.
func (srv *Server) newDetector() *vad.Detector {
	return vad.New(
		vad.WithSpeechThreshold(srv.cfg.VAD.SpeechThreshold),
		vad.WithSilenceThreshold(time.Duration(srv.cfg.VAD.SilenceMS)*time.Millisecond),
		vad.WithMinSpeech(time.Duration(srv.cfg.VAD.MinSpeechMS)*time.Millisecond),
	)
}

func (srv *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<h2>Renovox voice server running. Connect to <code>/ws/{session_id}</code></h2>")
}

// handleSessions lists active session IDs. Debug endpoint.
func (srv *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	ids := make([]string, 0)
	for _, s := range srv.registry.Snapshot() {
		ids = append(ids, s.ID)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"active_sessions": ids})
}

// browserHeaders adds the CORS and permission headers required for
// getUserMedia and AudioWorklet to function when the page is served over
// plain HTTP from a non-localhost address.
func browserHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Permissions-Policy", "microphone=*, camera=()")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Cross-Origin-Embedder-Policy", "require-corp")
		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "*")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
