// Package pipeline implements the per-turn orchestration: guardrail gate,
// transfer detection, checkpoint restoration, streamed LLM completion with
// sentence-buffered TTS, output guardrail, and the background state update.
//
// One RunTurn call handles one conversation turn. Cancellation is checked
// between every token and every audio chunk so a barge-in stops the turn at
// the next checkpoint, preserving the partial response for the following
// turn.
package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/renovox/renovox/internal/guardrail"
	"github.com/renovox/renovox/internal/observe"
	"github.com/renovox/renovox/internal/session"
	"github.com/renovox/renovox/internal/state"
	"github.com/renovox/renovox/pkg/provider/llm"
	"github.com/renovox/renovox/pkg/provider/stt"
	"github.com/renovox/renovox/pkg/provider/tts"
)

const (
	// defaultCoalesce batches outbound llm_token events.
	defaultCoalesce = 25 * time.Millisecond

	// checkpointPreviewChars bounds the checkpoint_saved preview for the UI.
	checkpointPreviewChars = 120

	// maxConsecutiveFailures terminates the session once reached.
	maxConsecutiveFailures = 3

	// responseMaxTokens and stateMaxTokens bound the two LLM call shapes.
	responseMaxTokens = 400
	stateMaxTokens    = 200
)

// fallbackLine is spoken when the LLM yields no text at all.
const fallbackLine = "I'm having trouble processing that right now. Could you try rephrasing?"

// apologyLine is spoken after a pipeline failure.
const apologyLine = "I'm sorry, I ran into a problem with that. Could you say it again?"

// finalApologyLine is spoken before terminating a session that keeps failing.
const finalApologyLine = "I'm sorry, something keeps going wrong on my end. Please reconnect and try again."

// noiseResumePrompt is fed to the LLM when background noise interrupted the
// agent and the transcript came back empty.
const noiseResumePrompt = "[System: The user accidentally interrupted with background noise. Please naturally continue your previous sentence exactly from where you left off.]"

// Runner executes turns. The provider handles are process-wide singletons
// shared across sessions; all per-session state lives in the Session.
type Runner struct {
	STT    stt.Provider
	LLM    llm.Provider
	TTS    tts.Provider
	Guard  *guardrail.Filter
	Voices tts.VoiceMap

	// Model and sampling parameters for the response LLM call.
	Model       string
	Temperature float64

	// Language is passed to transcription. Empty means auto-detect.
	Language string

	// Coalesce is the llm_token batching interval. Default: 25ms.
	Coalesce time.Duration

	// DefaultVoice is used when a persona has no voice mapping.
	DefaultVoice string

	Metrics *observe.Metrics

	now func() time.Time
}

// Option is a functional option for configuring a Runner.
type Option func(*Runner)

// WithClock replaces the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner constructs a Runner with defaults applied.
func NewRunner(sttP stt.Provider, llmP llm.Provider, ttsP tts.Provider, guard *guardrail.Filter, opts ...Option) *Runner {
	r := &Runner{
		STT:          sttP,
		LLM:          llmP,
		TTS:          ttsP,
		Guard:        guard,
		Voices:       tts.VoiceMap{"bob": "alloy", "alice": "shimmer"},
		Model:        "gpt-4o-mini",
		Temperature:  0.7,
		Coalesce:     defaultCoalesce,
		DefaultVoice: "alloy",
		Metrics:      observe.DefaultMetrics(),
		now:          time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// cancelled reports whether the turn should stop: either the barge-in signal
// fired or the task context was cancelled.
func cancelled(ctx context.Context, s *session.Session) bool {
	return s.PipelineCancel.IsSet() || ctx.Err() != nil
}

// signalContext derives a context cancelled when sig is raised. The returned
// cancel must be called to release the watcher goroutine.
func signalContext(parent context.Context, sig *session.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	done := sig.Done()
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// sessionContext derives a context cancelled when the session shuts down, so
// background work does not outlive a disconnect.
func sessionContext(parent context.Context, s *session.Session) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-s.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// ─── Audio turn entry points ─────────────────────────────────────────────────

// ProcessAudioTurn runs STT on a finished utterance and, when it yields a
// transcript, the full turn. An empty transcript with a pending checkpoint
// means the agent was interrupted by noise; the turn resumes the previous
// thought instead.
func (r *Runner) ProcessAudioTurn(ctx context.Context, s *session.Session, audio []byte, turnID int) {
	transcript, ok := r.RunSTT(ctx, s, audio, turnID)

	if cancelled(ctx, s) || s.TurnID() != turnID {
		return
	}
	switch {
	case ok:
		r.HandleTurn(ctx, s, transcript, turnID)
	case s.HasCheckpoint():
		r.HandleTurn(ctx, s, noiseResumePrompt, turnID)
	}
}

// RunSTT transcribes buffered utterance audio, emitting stt_processing and
// then either final_transcript or a graceful failure event. ok is false when
// no usable transcript was produced.
func (r *Runner) RunSTT(ctx context.Context, s *session.Session, audio []byte, turnID int) (transcript string, ok bool) {
	if len(audio) == 0 || r.STT == nil {
		return "", false
	}
	ctx, span := observe.StartSpan(ctx, "pipeline.stt")
	defer span.End()

	s.Push(session.Event{"type": "stt_processing", "turn_id": turnID})

	start := r.now()
	text, err := r.STT.Transcribe(ctx, audio, r.Language)
	r.Metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		observe.Logger(ctx).Error("pipeline: transcription failed", "err", err, "session_id", s.ID)
		r.Metrics.RecordProviderError(ctx, "stt", "transcribe")
	}

	if text = strings.TrimSpace(text); text != "" {
		s.Push(session.Event{
			"type":       "final_transcript",
			"text":       text,
			"turn_id":    turnID,
			"latency_ms": s.LatencyMS(),
		})
		return text, true
	}

	if s.HasCheckpoint() {
		// The noise-resume path will pick the checkpoint up.
		s.Push(session.Event{
			"type":    "final_transcript",
			"text":    "[Noise detected — resuming...]",
			"turn_id": turnID,
		})
	} else {
		s.Push(session.Event{
			"type":    "error",
			"message": "Could not transcribe audio. Please try again.",
			"turn_id": turnID,
		})
	}
	return "", false
}

// ─── Turn orchestration ──────────────────────────────────────────────────────

// HandleTurn wraps RunTurn with the failure policy: a failed turn gets a
// spoken apology, and three consecutive failures terminate the session with
// a final apology.
func (r *Runner) HandleTurn(ctx context.Context, s *session.Session, transcript string, turnID int) {
	err := r.RunTurn(ctx, s, transcript, turnID)
	if err == nil {
		s.ResetFailures()
		s.ClearTask()
		return
	}

	observe.Logger(ctx).Error("pipeline: turn failed",
		"err", err, "session_id", s.ID, "turn_id", turnID)
	r.Metrics.RecordTurn(ctx, s.Personas.Current(), "error")

	if s.RecordFailure() >= maxConsecutiveFailures {
		r.StreamSpeech(ctx, s, finalApologyLine, s.Personas.Current(), turnID, true)
		s.Push(session.Event{
			"type":    "error",
			"message": "Too many consecutive errors. Closing the session.",
			"turn_id": turnID,
		})
		s.CancelAll()
		return
	}

	r.StreamSpeech(ctx, s, apologyLine, s.Personas.Current(), turnID, true)
	s.ClearTask()
}

// RunTurn executes one full conversation turn for a finalized transcript.
func (r *Runner) RunTurn(ctx context.Context, s *session.Session, transcript string, turnID int) error {
	ctx, span := observe.StartSpan(ctx, "pipeline.turn")
	defer span.End()

	// Step 1: guardrail on user input.
	if res := r.Guard.Check(ctx, transcript); !res.OK {
		r.Metrics.RecordGuardrailBlock(ctx, "input", res.Category)
		reason := res.Reason
		if reason == "" {
			reason = "Content policy violation on your message"
		}
		s.Push(session.Event{"type": "guardrail_blocked", "turn_id": turnID, "reason": reason})
		return nil
	}
	if cancelled(ctx, s) {
		return nil
	}

	// Step 2: deterministic transfer detection before the LLM.
	isTransfer := false
	if transfer := s.Router.DetectTransfer(transcript); transfer != nil && transfer.Target != s.Personas.Current() {
		fromAgent := s.Personas.Current()
		handoffMsg, switched := s.Personas.TransferTo(transfer.Target)
		if switched {
			isTransfer = true
			r.Metrics.RecordHandoff(ctx, transfer.Target)
			s.Conv.AddTurn("system", fmt.Sprintf("[Transferred to %s]", transfer.Target))
			s.Push(session.Event{
				"type":            "agent_change",
				"agent":           transfer.Target,
				"from_agent":      fromAgent,
				"handoff_message": handoffMsg,
				"turn_id":         turnID,
			})
			// The outgoing persona announces the handoff in its own voice.
			if err := r.StreamSpeech(ctx, s, handoffMsg, fromAgent, turnID, false); err != nil {
				return err
			}
			if cancelled(ctx, s) {
				return nil
			}
			s.Push(session.Event{"type": "tts_done", "turn_id": turnID})
		}
	}
	if cancelled(ctx, s) {
		return nil
	}

	// Step 3: restore an interrupted response as context.
	if prior := s.PopCheckpoint(); prior != "" {
		s.Conv.AddTurn(s.Personas.Current(), fmt.Sprintf("[INTERRUPTED — was saying: %s]", prior))
		s.Push(session.Event{"type": "checkpoint_restored", "partial": prior, "turn_id": turnID})
	}

	messages := s.Personas.BuildMessages(transcript, s.Conv, isTransfer)

	// Step 4: stream the completion, coalescing token events and feeding
	// sentences to the single-slot TTS task.
	full, blocked, err := r.streamBody(ctx, s, messages, turnID)
	if err != nil {
		return err
	}
	if blocked || cancelled(ctx, s) {
		// Output guardrail fired or streamBody already checkpointed.
		return nil
	}
	if full == "" {
		// Upstream produced nothing; apologise rather than go silent.
		if err := r.StreamSpeech(ctx, s, fallbackLine, s.Personas.Current(), turnID, true); err != nil {
			return err
		}
		r.Metrics.RecordTurn(ctx, s.Personas.Current(), "empty")
		return nil
	}

	// Step 6: record the exchange and extract state in the background.
	s.Conv.AddTurn("user", transcript)
	s.Conv.AddTurn(s.Personas.Current(), full)
	go func() {
		bgCtx, cancel := sessionContext(context.WithoutCancel(ctx), s)
		defer cancel()
		r.updateState(bgCtx, s, transcript, full, turnID)
	}()

	r.Metrics.RecordTurn(ctx, s.Personas.Current(), "ok")
	return nil
}

// streamBody runs the LLM stream with sentence-buffered TTS and the output
// guardrail. Returns the full response text, empty when cancelled or when
// the model produced nothing; blocked reports an output-guardrail hit.
func (r *Runner) streamBody(ctx context.Context, s *session.Session, messages []llm.Message, turnID int) (response string, blocked bool, err error) {
	if r.LLM == nil {
		// Running without a configured language backend.
		return "", false, nil
	}
	ctx, span := observe.StartSpan(ctx, "pipeline.stream")
	defer span.End()

	// The stream context trips on barge-in so the producer goroutine and its
	// open response are released, not just abandoned by the consumer loop.
	llmCtx, llmCancel := signalContext(ctx, s.PipelineCancel)
	defer llmCancel()
	stream, err := r.LLM.StreamCompletion(llmCtx, llm.CompletionRequest{
		Messages:    messages,
		Model:       r.Model,
		MaxTokens:   responseMaxTokens,
		Temperature: r.Temperature,
	})
	if err != nil {
		r.Metrics.RecordProviderError(ctx, "llm", "stream")
		return "", false, fmt.Errorf("pipeline: start completion stream: %w", err)
	}

	var (
		full       strings.Builder
		ttsBuffer  strings.Builder
		tokenBatch strings.Builder
		lastFlush  = r.now()
		ttsSlot    = newTTSSlot()
		streamErr  error
		firstToken = true
		llmStart   = r.now()
	)
	defer ttsSlot.cancel()

	flushTokens := func() {
		if tokenBatch.Len() == 0 {
			return
		}
		s.Push(session.Event{"type": "llm_token", "token": tokenBatch.String(), "turn_id": turnID})
		tokenBatch.Reset()
	}

	checkpoint := func() {
		ttsSlot.cancel()
		if spoken := strings.TrimSpace(full.String()); spoken != "" {
			s.Checkpoint(spoken)
			preview := spoken
			if len(preview) > checkpointPreviewChars {
				// Back up to a rune boundary so the preview stays valid UTF-8.
				cut := checkpointPreviewChars
				for cut > 0 && !utf8.RuneStart(preview[cut]) {
					cut--
				}
				preview = preview[:cut]
			}
			s.Push(session.Event{"type": "checkpoint_saved", "partial": preview, "turn_id": turnID})
		}
	}

	for chunk := range stream {
		if cancelled(ctx, s) {
			checkpoint()
			return "", false, nil
		}
		if chunk.FinishReason == "error" {
			streamErr = fmt.Errorf("pipeline: completion stream failed mid-flight")
			break
		}
		if chunk.Text == "" {
			continue
		}
		if firstToken {
			firstToken = false
			r.Metrics.LLMFirstToken.Record(ctx, r.now().Sub(llmStart).Seconds())
		}

		full.WriteString(chunk.Text)
		ttsBuffer.WriteString(chunk.Text)
		tokenBatch.WriteString(chunk.Text)

		if now := r.now(); now.Sub(lastFlush) >= r.Coalesce {
			flushTokens()
			lastFlush = now
		}

		if endsSentence(ttsBuffer.String()) {
			r.startSentence(ctx, s, &ttsBuffer, ttsSlot, turnID, false)
		}
	}
	flushTokens()
	r.Metrics.LLMDuration.Record(ctx, r.now().Sub(llmStart).Seconds())

	if streamErr != nil {
		ttsSlot.cancel()
		r.Metrics.RecordProviderError(ctx, "llm", "stream")
		return "", false, streamErr
	}
	if cancelled(ctx, s) {
		checkpoint()
		return "", false, nil
	}

	response = strings.TrimSpace(full.String())
	if response == "" {
		ttsSlot.cancel()
		return "", false, nil
	}

	// Step 8: output guardrail before the final flush.
	if res := r.Guard.Check(ctx, response); !res.OK {
		r.Metrics.RecordGuardrailBlock(ctx, "output", res.Category)
		ttsSlot.cancel()
		s.TTSCancel.Set()
		reason := res.Reason
		if reason == "" {
			reason = "Agent response was blocked by content policy"
		}
		s.Push(session.Event{"type": "guardrail_blocked", "turn_id": turnID, "reason": reason})
		// The blocked text must not reach state either.
		return "", true, nil
	}

	// Step 9: final TTS flush and completion marker.
	r.startSentence(ctx, s, &ttsBuffer, ttsSlot, turnID, true)
	ttsSlot.wait()
	if cancelled(ctx, s) {
		checkpoint()
		return "", false, nil
	}
	s.Push(session.Event{"type": "tts_done", "turn_id": turnID})

	return response, false, nil
}

// startSentence hands the buffered text to the single-slot TTS task. Without
// force the sentence stays buffered while a previous task is running; with
// force the call waits for the slot first.
func (r *Runner) startSentence(ctx context.Context, s *session.Session, buf *strings.Builder, slot *ttsSlot, turnID int, force bool) {
	text := strings.TrimSpace(buf.String())
	if text == "" {
		return
	}
	if slot.busy() {
		if !force {
			return
		}
		slot.wait()
	}
	buf.Reset()

	persona := s.Personas.Current()
	slot.start(func(slotCtx context.Context) {
		r.streamTTS(slotCtx, s, text, persona, turnID)
	}, ctx)
}

// streamTTS synthesises text and pushes tts_chunk events until the stream
// ends or cancellation fires.
func (r *Runner) streamTTS(ctx context.Context, s *session.Session, text, persona string, turnID int) {
	ttsCtx, cancel := signalContext(ctx, s.TTSCancel)
	defer cancel()

	start := r.now()
	chunks, err := r.TTS.StreamSpeech(ttsCtx, text, r.Voices.Voice(persona, r.DefaultVoice))
	if err != nil {
		if ttsCtx.Err() == nil {
			observe.Logger(ctx).Error("pipeline: synthesis failed", "err", err, "session_id", s.ID)
			r.Metrics.RecordProviderError(ctx, "tts", "stream")
		}
		return
	}

	first := true
	for chunk := range chunks {
		if cancelled(ctx, s) || s.TTSCancel.IsSet() {
			return
		}
		if first {
			first = false
			r.Metrics.TTSFirstChunk.Record(ctx, r.now().Sub(start).Seconds())
			r.Metrics.TurnDuration.Record(ctx, float64(s.LatencyMS())/1000)
		}
		// Barge-in detection activates only once audio actually flows.
		s.SetTTSPlaying(true)
		s.Push(session.Event{
			"type":    "tts_chunk",
			"audio":   base64.StdEncoding.EncodeToString(chunk),
			"turn_id": turnID,
		})
	}
}

// StreamSpeech synthesises standalone text (greeting, handoff line, apology)
// outside the LLM streaming body. markDone appends a tts_done event.
func (r *Runner) StreamSpeech(ctx context.Context, s *session.Session, text, persona string, turnID int, markDone bool) error {
	if r.TTS == nil {
		return nil
	}
	r.streamTTS(ctx, s, text, persona, turnID)
	if markDone && !cancelled(ctx, s) {
		s.Push(session.Event{"type": "tts_done", "turn_id": turnID})
	}
	return nil
}

// ─── Background state extraction ─────────────────────────────────────────────

// stateExtractionPrompt asks the utility LLM for a JSON patch against the
// current structured state.
const stateExtractionPrompt = `Analyze this conversation turn and update the JSON state.

CURRENT STATE:
%s

TURN:
User: %s
Agent: %s

OUTPUT ONLY JSON with keys to update from the existing schema.`

// updateState appends the exchange to the rolling summary, asks the LLM for
// a structured-state patch, and emits state_update. Runs in the background;
// every failure mode is silent and the previous state stays authoritative.
func (r *Runner) updateState(ctx context.Context, s *session.Session, userText, agentText string, turnID int) {
	if r.LLM == nil {
		return
	}
	ctx, span := observe.StartSpan(ctx, "pipeline.state_update")
	defer span.End()

	prompt := fmt.Sprintf(stateExtractionPrompt, s.Conv.StateSummary(), userText, agentText)

	raw, err := r.LLM.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Model:       r.Model,
		MaxTokens:   stateMaxTokens,
		Temperature: 0,
	})
	if err != nil {
		slog.Debug("pipeline: state extraction failed", "err", err, "session_id", s.ID)
	} else if raw != "" {
		if updates, err := state.ParseUpdates(raw); err == nil {
			s.Conv.MergeUpdates(updates)
		}
	}

	s.Conv.AppendExchange(userText, agentText)

	s.Push(session.Event{
		"type":    "state_update",
		"turn_id": turnID,
		"state":   s.Conv.Structured(),
	})
}

// endsSentence reports whether buffered text ends at a sentence boundary.
func endsSentence(text string) bool {
	text = strings.TrimRight(text, " \t")
	if text == "" {
		return false
	}
	switch text[len(text)-1] {
	case '.', '!', '?', '\n':
		return true
	}
	return false
}
