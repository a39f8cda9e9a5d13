package session

import (
	"context"
	"testing"
	"time"
)

func TestSignalSetClear(t *testing.T) {
	sig := NewSignal()
	if sig.IsSet() {
		t.Fatal("fresh signal is set")
	}

	done := sig.Done()
	select {
	case <-done:
		t.Fatal("unset signal's channel is closed")
	default:
	}

	sig.Set()
	sig.Set() // idempotent
	if !sig.IsSet() {
		t.Fatal("signal not set after Set")
	}
	select {
	case <-done:
	default:
		t.Fatal("set signal's channel is open")
	}

	sig.Clear()
	if sig.IsSet() {
		t.Fatal("signal set after Clear")
	}
	select {
	case <-sig.Done():
		t.Fatal("cleared signal's fresh channel is closed")
	default:
	}
}

func TestNewTurnIncrementsAndRearms(t *testing.T) {
	s := New("s1")
	if s.TurnID() != 0 {
		t.Fatalf("initial turn id = %d, want 0", s.TurnID())
	}

	s.AppendAudio(make([]byte, 1000), true)
	s.SetTTSPlaying(true)

	id := s.NewTurn()
	if id != 1 || s.TurnID() != 1 {
		t.Fatalf("turn id = %d, want 1", id)
	}
	if s.PipelineCancel.IsSet() || s.TTSCancel.IsSet() {
		t.Fatal("cancel signals still set after NewTurn re-arm")
	}
	if s.AudioLen() != 0 {
		t.Fatal("audio buffer not reset by NewTurn")
	}
	if s.TTSPlaying() {
		t.Fatal("tts_playing not reset by NewTurn")
	}
}

func TestNewTurnCancelsRunningTask(t *testing.T) {
	s := New("s1")

	ctx, cancel := context.WithCancel(context.Background())
	s.SetTask(cancel)

	s.NewTurn()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("previous task context not cancelled by NewTurn")
	}
}

func TestSetTaskCancelsPrevious(t *testing.T) {
	s := New("s1")

	first, cancelFirst := context.WithCancel(context.Background())
	s.SetTask(cancelFirst)

	_, cancelSecond := context.WithCancel(context.Background())
	s.SetTask(cancelSecond)

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("registering a second task did not cancel the first")
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := New("s1")
	if s.HasCheckpoint() {
		t.Fatal("fresh session has a checkpoint")
	}

	s.Checkpoint("I was about to say that quartz")
	if !s.HasCheckpoint() {
		t.Fatal("checkpoint not stored")
	}
	if got := s.PopCheckpoint(); got != "I was about to say that quartz" {
		t.Fatalf("PopCheckpoint = %q", got)
	}
	if s.HasCheckpoint() {
		t.Fatal("checkpoint survived pop")
	}
	if got := s.PopCheckpoint(); got != "" {
		t.Fatalf("second PopCheckpoint = %q, want empty", got)
	}
}

func TestAppendAudioPreRollBound(t *testing.T) {
	s := New("s1")

	// Outside an utterance only the pre-roll tail is kept.
	for i := 0; i < 10; i++ {
		s.AppendAudio(make([]byte, 4096), false)
	}
	if got := s.AudioLen(); got > PreRollBytes {
		t.Fatalf("audio buffer = %d bytes outside utterance, want <= %d", got, PreRollBytes)
	}

	// Inside an utterance the buffer grows unbounded.
	for i := 0; i < 10; i++ {
		s.AppendAudio(make([]byte, 4096), true)
	}
	if got := s.AudioLen(); got <= PreRollBytes {
		t.Fatalf("audio buffer = %d bytes inside utterance, want growth", got)
	}
}

func TestTakeAudioSnapshotsAndClears(t *testing.T) {
	s := New("s1")
	s.AppendAudio([]byte{1, 2, 3, 4}, true)

	buf := s.TakeAudio()
	if len(buf) != 4 {
		t.Fatalf("TakeAudio returned %d bytes, want 4", len(buf))
	}
	if s.AudioLen() != 0 {
		t.Fatal("buffer not cleared by TakeAudio")
	}
}

func TestPushAndDrainEvents(t *testing.T) {
	s := New("s1")
	s.Push(Event{"type": "connected"})
	s.Push(Event{"type": "pong"})

	ev := <-s.Events()
	if ev["type"] != "connected" {
		t.Fatalf("first event = %v", ev["type"])
	}
	ev = <-s.Events()
	if ev["type"] != "pong" {
		t.Fatalf("second event = %v", ev["type"])
	}
}

func TestPushDropsWhenFull(t *testing.T) {
	s := New("s1")
	for i := 0; i < eventQueueSize+10; i++ {
		s.Push(Event{"type": "llm_token", "n": i})
	}
	// Queue holds exactly its capacity; the overflow was dropped, not
	// blocked on.
	if got := len(s.events); got != eventQueueSize {
		t.Fatalf("queue length = %d, want %d", got, eventQueueSize)
	}
}

func TestCancelAllClosesQueue(t *testing.T) {
	s := New("s1")
	s.Push(Event{"type": "connected"})
	s.CancelAll()
	s.CancelAll() // idempotent

	if !s.PipelineCancel.IsSet() || !s.TTSCancel.IsSet() {
		t.Fatal("cancel signals not set by CancelAll")
	}

	// Buffered event still drains, then the channel reports closed.
	if ev := <-s.Events(); ev["type"] != "connected" {
		t.Fatal("buffered event lost on CancelAll")
	}
	if _, ok := <-s.Events(); ok {
		t.Fatal("queue not closed by CancelAll")
	}

	// Pushing after close is a no-op, not a panic.
	s.Push(Event{"type": "late"})
}

func TestDeafWindows(t *testing.T) {
	clock := time.Unix(1000, 0)
	s := New("s1", WithClock(func() time.Time { return clock }))

	s.StartDeafWindow(8 * time.Second)
	if !s.InStartupDeafWindow() {
		t.Fatal("startup deaf window not active")
	}
	clock = clock.Add(9 * time.Second)
	if s.InStartupDeafWindow() {
		t.Fatal("startup deaf window did not expire")
	}

	s.DeafenTTS(700 * time.Millisecond)
	if !s.TTSDeaf() {
		t.Fatal("tts deaf window not active")
	}
	clock = clock.Add(time.Second)
	if s.TTSDeaf() {
		t.Fatal("tts deaf window did not expire")
	}
}

func TestIdleTracking(t *testing.T) {
	clock := time.Unix(1000, 0)
	s := New("s1", WithClock(func() time.Time { return clock }))

	clock = clock.Add(31 * time.Second)
	idle, notified := s.IdleFor()
	if idle < 30*time.Second || notified {
		t.Fatalf("IdleFor = %v notified=%v", idle, notified)
	}

	s.MarkInactivityNotified()
	if _, notified := s.IdleFor(); !notified {
		t.Fatal("notification flag not recorded")
	}

	s.Touch()
	idle, notified = s.IdleFor()
	if idle != 0 || notified {
		t.Fatalf("after Touch: idle=%v notified=%v", idle, notified)
	}
}

func TestFailureCounter(t *testing.T) {
	s := New("s1")
	if n := s.RecordFailure(); n != 1 {
		t.Fatalf("first failure count = %d", n)
	}
	if n := s.RecordFailure(); n != 2 {
		t.Fatalf("second failure count = %d", n)
	}
	s.ResetFailures()
	if n := s.RecordFailure(); n != 1 {
		t.Fatalf("count after reset = %d", n)
	}
}

func TestLatencyMS(t *testing.T) {
	clock := time.Unix(1000, 0)
	s := New("s1", WithClock(func() time.Time { return clock }))

	s.NewTurn()
	clock = clock.Add(1500 * time.Millisecond)
	if got := s.LatencyMS(); got != 1500 {
		t.Fatalf("LatencyMS = %d, want 1500", got)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := New("a")
	b := New("b")
	r.Add(a)
	r.Add(b)

	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	if r.Get("a") != a {
		t.Fatal("Get returned wrong session")
	}

	r.Remove("a")
	if r.Get("a") != nil {
		t.Fatal("removed session still present")
	}
	if !a.PipelineCancel.IsSet() {
		t.Fatal("Remove did not cancel the session")
	}
	if len(r.Snapshot()) != 1 {
		t.Fatal("Snapshot length wrong")
	}
}

func TestCancelAllClosesDone(t *testing.T) {
	s := New("s1")
	select {
	case <-s.Done():
		t.Fatal("done closed before CancelAll")
	default:
	}

	s.CancelAll()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed by CancelAll")
	}
}
