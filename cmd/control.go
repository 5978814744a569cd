package cmd

import (
	"context"
	"errors"
	"sync"
)

var errLoopStopped = errors.New("presentation loop is not running")

// rescanRequest asks the loop for an immediate rescan
type rescanRequest struct {
	reply chan int
}

// controller lets the status view steer a loop running on another
// goroutine. Rescans are forwarded over a channel, so compositor state is
// only touched by the loop goroutine.
type controller struct {
	requests chan rescanRequest
	done     chan struct{}
	stopOnce sync.Once
}

func newController() *controller {
	return &controller{
		requests: make(chan rescanRequest),
		done:     make(chan struct{}),
	}
}

// stop makes pending and future rescans fail
func (c *controller) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *controller) Rescan(ctx context.Context) (int, error) {
	req := rescanRequest{reply: make(chan int, 1)}
	select {
	case c.requests <- req:
	case <-c.done:
		return 0, errLoopStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case n := <-req.reply:
		return n, nil
	case <-c.done:
		return 0, errLoopStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
