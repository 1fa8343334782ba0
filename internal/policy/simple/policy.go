// Package simple contains pass-through policy implementations, used when the
// corresponding feature is disabled in config.
package simple

import "context"

// Policy admits every request without pacing.
type Policy struct{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

// Wait returns immediately.
func (Policy) Wait(_ context.Context, _ string) error {
	return nil
}
