// Package events broadcasts job lifecycle events to external subscribers.
// Every hook the daemon fires is published as one XML-ish line of the form
//
//	<event type='post-testcase' session='iAb3k' />
//
// delivered over a plain TCP stream and, optionally, a websocket endpoint.
package events

import (
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
)

// FormatEvent renders the wire form of one event.
func FormatEvent(hook, cookie string) string {
	return fmt.Sprintf("<event type='%s' session='%s' />", hook, cookie)
}

// Publisher fans events out to subscriber channels. A subscriber that can
// not keep up is dropped rather than allowed to block the job machinery.
type Publisher struct {
	mu          sync.Mutex
	subscribers map[chan string]bool
	logger      arbor.ILogger
}

// NewPublisher creates a publisher with no subscribers.
func NewPublisher(logger arbor.ILogger) *Publisher {
	return &Publisher{
		subscribers: map[chan string]bool{},
		logger:      logger,
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe.
func (p *Publisher) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)

	p.mu.Lock()
	p.subscribers[ch] = true
	count := len(p.subscribers)
	p.mu.Unlock()
	p.logger.Debug().Int("subscribers", count).Msg("Event subscriber added")

	unsubscribe := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.subscribers[ch] {
			delete(p.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Publish broadcasts one lifecycle event. Implements the publisher hook of
// the job machinery; it never blocks.
func (p *Publisher) Publish(hook, cookie string) {
	line := FormatEvent(hook, cookie)

	p.mu.Lock()
	defer p.mu.Unlock()
	for ch := range p.subscribers {
		select {
		case ch <- line:
		default:
			p.logger.Warn().Str("event", hook).Msg("Slow event subscriber dropped")
			delete(p.subscribers, ch)
			close(ch)
		}
	}
}

// Close drops all subscribers.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ch := range p.subscribers {
		delete(p.subscribers, ch)
		close(ch)
	}
	p.logger.Info().Msg("Event publisher closed")
}
