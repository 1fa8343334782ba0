// Package dispatcher manages worker fan-out over the page queue.
package dispatcher

import (
	"context"
	"sync"
)

// Worker is one queue consumer. *worker.Worker satisfies it.
type Worker interface {
	Run(ctx context.Context)
}

// Dispatcher runs a fixed pool of workers.
type Dispatcher struct {
	workers []Worker
}

// New creates a Dispatcher over the given workers.
func New(workers ...Worker) *Dispatcher {
	return &Dispatcher{workers: workers}
}

// Run starts every worker and blocks until each one returns, which happens
// once the queue closes and drains or the context ends.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}
