// Package memory keeps published article events in process memory. Crawl
// runs fall back to it when no Pub/Sub project is configured, and worker
// tests use it to inspect exactly what was emitted.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Message is one recorded publish in arrival order.
type Message struct {
	Topic   string
	Payload any
}

// Publisher appends every publish to an in-memory log.
type Publisher struct {
	mu  sync.RWMutex
	log []Message
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the payload under the topic and returns a synthetic
// sequence ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = append(p.log, Message{Topic: topic, Payload: payload})
	return fmt.Sprintf("mem-%d", len(p.log)), nil
}

// Len reports how many messages have been recorded.
func (p *Publisher) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.log)
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.log))
	copy(out, p.log)
	return out
}
