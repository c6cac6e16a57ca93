package common

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// PollingWorker runs a work function on a fixed interval until stopped.
// The work function runs once immediately on start, then once per tick.
// Stop wakes the loop promptly rather than waiting out the interval, and
// the work function itself may call Stop to self-terminate.
type PollingWorker struct {
	name     string
	interval time.Duration
	work     func()
	logger   arbor.ILogger

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// NewPollingWorker creates a worker with the given cadence. An interval of
// zero or less falls back to 10 seconds.
func NewPollingWorker(name string, interval time.Duration, logger arbor.ILogger, work func()) *PollingWorker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &PollingWorker{
		name:     name,
		interval: interval,
		work:     work,
		logger:   logger,
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the polling loop.
func (w *PollingWorker) Start() {
	SafeGo(w.logger, w.name, func() {
		defer close(w.done)
		w.logger.Debug().Str("worker", w.name).Msg("Polling worker starting")

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			w.work()
			select {
			case <-w.stopped:
				w.logger.Debug().Str("worker", w.name).Msg("Polling worker stopping")
				return
			case <-ticker.C:
			}
		}
	})
}

// Stop requests the worker to end. Safe to call more than once and from
// within the work function.
func (w *PollingWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopped)
	})
}

// IsStopped reports whether a stop has been requested.
func (w *PollingWorker) IsStopped() bool {
	select {
	case <-w.stopped:
		return true
	default:
		return false
	}
}

// Wait blocks until the loop has exited. Only valid after Start.
func (w *PollingWorker) Wait() {
	<-w.done
}
