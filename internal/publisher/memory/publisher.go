// Package memory contains an in-memory change event publisher for
// tests and single-process runs without a broker.
package memory

import (
	"context"
	"sync"

	"github.com/talemon/pagewatch/internal/watch"
)

// Publisher records published events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []watch.ChangeEvent
	err    error
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event.
func (p *Publisher) Publish(_ context.Context, event watch.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (p *Publisher) Events() []watch.ChangeEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]watch.ChangeEvent, len(p.events))
	copy(out, p.events)
	return out
}

// FailWith makes subsequent publishes return err.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}
