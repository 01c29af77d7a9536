package broadcast

import "sync"

// Channel fans a published value out to every subscriber. Used for shutdown signalling across
// daemon components.
type Channel[T any] struct {
	mu        sync.RWMutex
	listeners []chan T
}

type SignalChannel = Channel[struct{}]

func NewChannel[T any]() *Channel[T] {
	return &Channel[T]{
		listeners: make([]chan T, 0),
	}
}

func NewSignalChannel() *SignalChannel {
	return NewChannel[struct{}]()
}

func (c *Channel[T]) Subscribe() chan T {
	ch := make(chan T)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.listeners = append(c.listeners, ch)
	return ch
}

// Publish delivers the value to every subscriber asynchronously. Subscribers that never read
// block only the delivery goroutine, not the publisher.
func (c *Channel[T]) Publish(value T) {
	go func() {
		c.mu.RLock()
		defer c.mu.RUnlock()

		for _, listener := range c.listeners {
			listener <- value
		}
	}()
}

func (c *Channel[T]) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, listener := range c.listeners {
		close(listener)
	}
	c.listeners = make([]chan T, 0)
}
