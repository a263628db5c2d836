package supervisor

import (
	"context"
	"sync/atomic"
	"time"
)

// handle is the supervisor's grip on one running worker.
type handle struct {
	accountID int64
	cancel    context.CancelFunc
	running   atomic.Bool // false once the worker goroutine has returned
	done      chan struct{}
}

// wait blocks until the worker has returned or timeout elapses.
func (h *handle) wait(timeout time.Duration) bool {
	select {
	case <-h.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
