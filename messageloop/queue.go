package messageloop

import (
	"context"
)

// futureSet runs a growing-and-shrinking collection of goroutines and
// yields each one's result as it completes, fanned into a single
// channel. It backs the message loop's handshakes and peer_loops sets.
// Members are not keyed or tracked individually: each spawned goroutine
// only reports its result on the shared completion channel.
type futureSet[V any] struct {
	results chan V
}

func newFutureSet[V any]() *futureSet[V] {
	return &futureSet[V]{results: make(chan V)}
}

// spawn runs fn in its own goroutine and delivers its return value on
// Results once fn returns. spawn never blocks the caller.
func (s *futureSet[V]) spawn(ctx context.Context, fn func(ctx context.Context) V) {
	go func() {
		v := fn(ctx)
		s.results <- v
	}()
}

// Results yields the result of each spawned fn, in completion order.
func (s *futureSet[V]) Results() <-chan V {
	return s.results
}
