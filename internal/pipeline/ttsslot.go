package pipeline

import (
	"context"
	"sync"
)

// ttsSlot serialises sentence synthesis: at most one TTS task runs per turn
// at any moment. Later sentences stay buffered until the slot frees up, so
// audio for a turn is always emitted in order.
type ttsSlot struct {
	mu       sync.Mutex
	done     chan struct{}
	cancelFn context.CancelFunc
}

func newTTSSlot() *ttsSlot {
	return &ttsSlot{}
}

// busy reports whether a task currently occupies the slot.
func (t *ttsSlot) busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// start launches fn in the slot. The caller must ensure the slot is free.
func (t *ttsSlot) start(fn func(ctx context.Context), parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	t.mu.Lock()
	t.done = done
	t.cancelFn = cancel
	t.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		fn(ctx)
	}()
}

// wait blocks until the current task, if any, finishes.
func (t *ttsSlot) wait() {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done != nil {
		<-done
	}
}

// cancel aborts the current task and waits for it to unwind.
func (t *ttsSlot) cancel() {
	t.mu.Lock()
	cancelFn := t.cancelFn
	done := t.done
	t.mu.Unlock()

	if cancelFn != nil {
		cancelFn()
	}
	if done != nil {
		<-done
	}
}
