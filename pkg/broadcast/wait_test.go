package broadcast

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishAndWaitCollectsAll(t *testing.T) {
	ch := NewWaitChannel[int]()

	for i := 0; i < 10; i++ {
		go func(i int, sub chan chan int) {
			replies := <-sub
			replies <- i
		}(i, ch.Subscribe())
	}

	results, timedOut := ch.PublishAndWait(time.Second)
	require.False(t, timedOut)
	require.Len(t, results, 10)

	for i := 0; i < 10; i++ {
		require.Contains(t, results, i)
	}
}

func TestPublishAndWaitNoSubscribers(t *testing.T) {
	ch := NewWaitChannel[int]()

	results, timedOut := ch.PublishAndWait(time.Second)
	require.False(t, timedOut)
	require.Empty(t, results)
}

func TestPublishAndWaitTimesOut(t *testing.T) {
	ch := NewWaitChannel[int]()

	ch.Subscribe() // Never responds

	_, timedOut := ch.PublishAndWait(50 * time.Millisecond)
	require.True(t, timedOut)
}

func TestErrorWaitChannelJoinsErrors(t *testing.T) {
	ch := NewErrorWaitChannel()

	errOne := errors.New("component one failed")

	go func(sub chan chan error) {
		replies := <-sub
		replies <- errOne
	}(ch.Subscribe())

	go func(sub chan chan error) {
		replies := <-sub
		replies <- nil
	}(ch.Subscribe())

	err := ch.Await(time.Second)
	require.ErrorIs(t, err, errOne)
}
