package server

import (
	"context"
	"log"
	"sync"
	"time"
)

// TaskRunner owns the goroutines spawned after a response has already
// been written. Each task gets its own context, detached from the
// request, so a client disconnect cannot cancel persistence or analysis.
type TaskRunner struct {
	wg      sync.WaitGroup
	timeout time.Duration
}

func NewTaskRunner(timeout time.Duration) *TaskRunner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TaskRunner{timeout: timeout}
}

// Go runs fn in the background. Errors are logged, never propagated:
// the caller has already answered the client by the time fn runs.
func (r *TaskRunner) Go(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Printf("background task=%s error: %v", name, err)
		}
	}()
}

// Wait blocks until every spawned task has finished. Used on shutdown
// and by tests that need to observe background effects.
func (r *TaskRunner) Wait() {
	r.wg.Wait()
}
