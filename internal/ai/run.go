package ai

import (
	"context"
	"sync"
)

// Emit forwards one event to the consumer. It reports false once the run's
// context is done; the producer should stop and return.
type Emit func(Event) bool

// Produce drives an upstream generation. It returns the complete final output
// as the upstream sees it, which may be non-empty even if no Delta was sent.
type Produce func(ctx context.Context, emit Emit) (final string, err error)

// Run is one upstream generation in flight. Consumers range over Events until
// it closes, then read Err. Final blocks until the producer has finished.
type Run struct {
	events chan Event
	done   chan struct{}

	mu    sync.Mutex
	err   error
	final string
}

// Start launches produce in its own goroutine.
func Start(ctx context.Context, produce Produce) *Run {
	r := &Run{
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(r.done)
		defer close(r.events)

		emit := func(ev Event) bool {
			select {
			case r.events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		final, err := produce(ctx, emit)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}

		r.mu.Lock()
		r.final, r.err = final, err
		r.mu.Unlock()
	}()

	return r
}

func (r *Run) Events() <-chan Event { return r.events }

// Err is meaningful once Events has been drained.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Final waits for the producer and returns its complete output.
func (r *Run) Final(ctx context.Context) (string, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	return r.final, nil
}

// Open starts a run on p. Providers without streaming support produce no
// events; their whole reply becomes the final output.
func Open(ctx context.Context, p Provider, messages []Message) (*Run, error) {
	if sp, ok := p.(StreamProvider); ok {
		return sp.StreamChat(ctx, messages)
	}
	return Start(ctx, func(ctx context.Context, emit Emit) (string, error) {
		return p.Chat(ctx, messages)
	}), nil
}
