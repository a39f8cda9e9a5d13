// Package session holds the per-connection state container: turn IDs, the
// outbound event queue, cancellation signals, audio buffering, and the
// owned conversation components. One Session exists per connected client,
// created by the transport layer and torn down on disconnect.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/renovox/renovox/internal/persona"
	"github.com/renovox/renovox/internal/state"
	"github.com/renovox/renovox/internal/vad"
)

// eventQueueSize bounds the outbound event queue. Writers never block; when
// the client cannot keep up, events are dropped with a warning rather than
// stalling the pipeline.
const eventQueueSize = 256

// PreRollBytes is the audio retained outside an active utterance: 300ms at
// 16kHz mono s16, so the leading phonemes of the next utterance survive.
const PreRollBytes = 9600

// Event is one outbound record serialized to the client. Every event that
// belongs to a turn carries "turn_id" so clients can discard stale ones.
type Event map[string]any

// Session encapsulates all state for one connected client. The transport
// layer owns the receive loop; the pipeline and background tasks communicate
// back only through the event queue and the cancellation signals.
type Session struct {
	ID string

	// PipelineCancel aborts the current turn's LLM streaming; TTSCancel
	// aborts audio synthesis. Both are re-armed by NewTurn.
	PipelineCancel *Signal
	TTSCancel      *Signal

	// Personas, Conv and Router are the owned conversation components.
	Personas *persona.Manager
	Conv     *state.Conversation
	Router   *persona.Router
	Detector *vad.Detector

	events chan Event
	done   chan struct{}

	mu              sync.Mutex
	turnID          int
	audioBuffer     []byte
	ttsPlaying      bool
	ttsDeafUntil    time.Time
	startupDeafTill time.Time
	partialResponse string
	cancelTask      context.CancelFunc
	turnStart       time.Time
	lastActivity    time.Time
	inactivityNoted bool
	failures        int
	closed          bool

	now func() time.Time
}

// Option is a functional option for configuring a Session.
type Option func(*Session)

// WithClock replaces the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDetector replaces the default VAD detector.
func WithDetector(d *vad.Detector) Option {
	return func(s *Session) {
		if d != nil {
			s.Detector = d
		}
	}
}

// New constructs a Session with fresh conversation components.
func New(id string, opts ...Option) *Session {
	mgr := persona.NewManager()
	s := &Session{
		ID:             id,
		PipelineCancel: NewSignal(),
		TTSCancel:      NewSignal(),
		Personas:       mgr,
		Router:         persona.NewRouter(mgr.Personas()...),
		Detector:       vad.New(),
		events:         make(chan Event, eventQueueSize),
		done:           make(chan struct{}),
		now:            time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.Conv = state.New(mgr.Personas(), state.WithClock(s.now))
	s.turnStart = s.now()
	s.lastActivity = s.now()
	return s
}

// Events returns the outbound queue for the single sender to drain.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done returns a channel closed when the session shuts down. Background work
// that outlives a turn selects on it to stop at disconnect.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Push enqueues an event without blocking. Events are dropped when the queue
// is full so a slow client never stalls the pipeline.
func (s *Session) Push(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		slog.Warn("session: outbound queue full, dropping event",
			"session_id", s.ID, "type", ev["type"])
	}
}

// TurnID returns the current turn identifier.
func (s *Session) TurnID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnID
}

// NewTurn increments the turn ID, cancels any in-flight pipeline task, and
// re-arms both cancel signals. The audio buffer and TTS playback state are
// reset and the turn start time is stamped for latency measurement.
func (s *Session) NewTurn() int {
	s.mu.Lock()
	s.turnID++
	id := s.turnID
	cancel := s.cancelTask
	s.cancelTask = nil
	s.audioBuffer = nil
	s.ttsPlaying = false
	s.turnStart = s.now()
	s.mu.Unlock()

	// Raise the signals so in-flight work observes cancellation at its
	// next checkpoint, then explicitly cancel the task context.
	s.PipelineCancel.Set()
	s.TTSCancel.Set()
	if cancel != nil {
		cancel()
	}
	s.PipelineCancel.Clear()
	s.TTSCancel.Clear()
	return id
}

// SetTask registers the cancel function of the currently running pipeline
// task. At most one task is active per session; registering a new one cancels
// the previous.
func (s *Session) SetTask(cancel context.CancelFunc) {
	s.mu.Lock()
	prev := s.cancelTask
	s.cancelTask = cancel
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// ClearTask drops the registered task handle once the task has finished.
func (s *Session) ClearTask() {
	s.mu.Lock()
	s.cancelTask = nil
	s.mu.Unlock()
}

// TaskRunning reports whether a pipeline task is currently registered.
func (s *Session) TaskRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelTask != nil
}

// Checkpoint saves agent text interrupted by a barge-in so the next turn can
// continue with full context.
func (s *Session) Checkpoint(spokenSoFar string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partialResponse = spokenSoFar
}

// PopCheckpoint returns and clears the saved partial response.
func (s *Session) PopCheckpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.partialResponse
	s.partialResponse = ""
	return p
}

// HasCheckpoint reports whether a partial response is saved.
func (s *Session) HasCheckpoint() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partialResponse != ""
}

// AppendAudio accumulates PCM into the utterance buffer. Outside an active
// utterance only the pre-roll tail is retained.
func (s *Session) AppendAudio(pcm []byte, inUtterance bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioBuffer = append(s.audioBuffer, pcm...)
	if !inUtterance && len(s.audioBuffer) > PreRollBytes {
		s.audioBuffer = append([]byte(nil), s.audioBuffer[len(s.audioBuffer)-PreRollBytes:]...)
	}
}

// TakeAudio snapshots and clears the utterance buffer.
func (s *Session) TakeAudio() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.audioBuffer
	s.audioBuffer = nil
	return buf
}

// AudioLen returns the current utterance buffer length in bytes.
func (s *Session) AudioLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audioBuffer)
}

// ResetAudio clears the utterance buffer.
func (s *Session) ResetAudio() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioBuffer = nil
}

// SetTTSPlaying flags whether agent audio is currently streaming out.
func (s *Session) SetTTSPlaying(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttsPlaying = on
}

// TTSPlaying reports whether agent audio is currently streaming out.
func (s *Session) TTSPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttsPlaying
}

// StartDeafWindow suppresses end-of-utterance handling until the given
// duration from now. Used at session open while the greeting plays.
func (s *Session) StartDeafWindow(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startupDeafTill = s.now().Add(d)
}

// InStartupDeafWindow reports whether end-of-utterance handling is still
// suppressed.
func (s *Session) InStartupDeafWindow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.startupDeafTill)
}

// DeafenTTS suppresses barge-in until the given duration from now, hiding
// speaker-to-mic echo right after playback.
func (s *Session) DeafenTTS(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttsDeafUntil = s.now().Add(d)
}

// TTSDeaf reports whether barge-in is currently suppressed.
func (s *Session) TTSDeaf() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.ttsDeafUntil)
}

// Touch records user activity for the inactivity monitor.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()
	s.inactivityNoted = false
}

// IdleFor reports how long the user has been inactive and whether the
// inactivity prompt was already sent for this idle stretch.
func (s *Session) IdleFor() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.lastActivity), s.inactivityNoted
}

// MarkInactivityNotified records that the idle prompt was dispatched.
func (s *Session) MarkInactivityNotified() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inactivityNoted = true
}

// LatencyMS returns milliseconds since the current turn started.
func (s *Session) LatencyMS() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.now().Sub(s.turnStart) / time.Millisecond)
}

// RecordFailure increments the consecutive pipeline failure counter and
// returns the new count.
func (s *Session) RecordFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	return s.failures
}

// ResetFailures clears the consecutive failure counter after a good turn.
func (s *Session) ResetFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
}

// CancelAll raises both signals, cancels the running task, and closes the
// event queue. Called once on disconnect.
func (s *Session) CancelAll() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancelTask
	s.cancelTask = nil
	close(s.events)
	close(s.done)
	s.mu.Unlock()

	s.PipelineCancel.Set()
	s.TTSCancel.Set()
	if cancel != nil {
		cancel()
	}
}
