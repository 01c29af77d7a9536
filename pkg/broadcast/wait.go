package broadcast

import "time"

// WaitChannel publishes a reply channel to every subscriber and collects their responses, with a
// deadline so one stuck component cannot block shutdown forever.
type WaitChannel[T any] struct {
	ch *Channel[chan T]
}

func NewWaitChannel[T any]() *WaitChannel[T] {
	return &WaitChannel[T]{
		ch: NewChannel[chan T](),
	}
}

func (w *WaitChannel[T]) Subscribe() chan chan T {
	return w.ch.Subscribe()
}

// PublishAndWait returns the values provided by the listeners, and whether the deadline expired
// before every listener responded.
func (w *WaitChannel[T]) PublishAndWait(timeout time.Duration) ([]T, bool) {
	replies := make(chan T)

	w.ch.mu.RLock()
	defer w.ch.mu.RUnlock()

	if len(w.ch.listeners) == 0 {
		return nil, false
	}

	go func() {
		for _, listener := range w.ch.listeners {
			listener <- replies
		}
	}()

	deadline := time.After(timeout)
	results := make([]T, 0, len(w.ch.listeners))
	for {
		select {
		case v := <-replies:
			results = append(results, v)
			if len(results) == len(w.ch.listeners) {
				return results, false
			}
		case <-deadline:
			return results, true
		}
	}
}
