package server

import (
	"context"
	"time"

	"github.com/renovox/renovox/internal/observe"
	"github.com/renovox/renovox/internal/session"
	"github.com/renovox/renovox/internal/vad"
)

// inactivityPrompt nudges the LLM to check in on a silent user.
const inactivityPrompt = "[System: The user has been completely silent for 30 seconds. Gently ask if they are still there or if they need more time.]"

// inactivityTranscript is shown in the client transcript for the nudge turn.
const inactivityTranscript = "[User inactive for 30 seconds]"

// ProcessPCMChunk feeds one chunk of 16kHz mono s16 PCM through VAD and the
// barge-in and end-of-utterance state machines. Both the WebSocket fallback
// and the WebRTC track deliver audio here.
func (srv *Server) ProcessPCMChunk(ctx context.Context, s *session.Session, chunk []byte) {
	res := s.Detector.ProcessChunk(chunk)

	// Keep the full utterance; outside one, only the pre-roll tail survives
	// so the leading phonemes of the next utterance are not lost.
	s.AppendAudio(chunk, res.InUtterance || res.State == vad.StateEndOfUtterance)

	if res.InUtterance {
		s.Touch()
	}

	switch {
	case s.TTSPlaying() && !s.TTSDeaf() &&
		res.RMS >= srv.cfg.VAD.BargeInRMS && s.Detector.IsBargeIn(res.RMS):
		observe.Logger(ctx).Info("barge-in detected", "session_id", s.ID, "rms", res.RMS)
		srv.bargeIn(s)
		s.SetTTSPlaying(false)
		s.DeafenTTS(ttsDeafWindow)
		s.ResetAudio()
		s.Detector.Reset()
		s.Push(session.Event{"type": "barge_in_ack", "turn_id": s.TurnID()})

	case res.State == vad.StateEndOfUtterance:
		audio := s.TakeAudio()
		turnID := s.NewTurn()
		s.Detector.Reset()

		log := observe.Logger(ctx)
		switch {
		case s.InStartupDeafWindow():
			log.Debug("startup deaf: skipping end of utterance", "session_id", s.ID)
		case len(audio) < minUtteranceBytes:
			log.Debug("skipping end of utterance: audio too short",
				"session_id", s.ID, "bytes", len(audio))
		case len(audio) > maxUtteranceBytes:
			log.Debug("skipping end of utterance: audio too long",
				"session_id", s.ID, "bytes", len(audio))
		default:
			log.Info("end of utterance",
				"session_id", s.ID, "turn_id", turnID, "bytes", len(audio))
			srv.startTask(ctx, s, func(taskCtx context.Context) {
				srv.runner.ProcessAudioTurn(taskCtx, s, audio, turnID)
			})
		}
	}
}

// inactivityMonitor checks in on users who go quiet. It starts after the
// startup deaf window and treats a running pipeline or playing TTS as
// activity.
func (srv *Server) inactivityMonitor(ctx context.Context, s *session.Session) {
	select {
	case <-time.After(startupDeafWindow):
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.TaskRunning() || s.TTSPlaying() {
			s.Touch()
			continue
		}

		idle, notified := s.IdleFor()
		if idle < inactivityTimeout || notified {
			continue
		}

		observe.Logger(ctx).Info("inactivity timeout reached", "session_id", s.ID)
		s.MarkInactivityNotified()

		turnID := s.NewTurn()
		s.Push(session.Event{"type": "stt_processing", "turn_id": turnID})
		s.Push(session.Event{
			"type":    "final_transcript",
			"text":    inactivityTranscript,
			"turn_id": turnID,
		})
		srv.startTask(ctx, s, func(taskCtx context.Context) {
			srv.runner.HandleTurn(taskCtx, s, inactivityPrompt, turnID)
		})
	}
}
