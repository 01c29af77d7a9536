package broadcast

import (
	"errors"
	"time"
)

// ErrorWaitChannel coordinates graceful shutdown: each component subscribes, and on shutdown
// reports the error (or nil) from winding itself down.
type ErrorWaitChannel struct {
	wc *WaitChannel[error]
}

func NewErrorWaitChannel() *ErrorWaitChannel {
	return &ErrorWaitChannel{
		wc: NewWaitChannel[error](),
	}
}

func (e *ErrorWaitChannel) Subscribe() chan chan error {
	return e.wc.Subscribe()
}

func (e *ErrorWaitChannel) Await(timeout time.Duration) error {
	errs, timedOut := e.wc.PublishAndWait(timeout)
	if timedOut {
		return nil
	}

	return errors.Join(errs...)
}
