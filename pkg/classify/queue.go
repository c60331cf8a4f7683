// Package classify runs the background pipeline that turns unknown domains
// into expiring whitelist or blacklist entries.
package classify

import (
	"context"
	"sync"
)

// OfferResult is the outcome of offering a domain to the queue.
type OfferResult int

const (
	OfferAccepted OfferResult = iota
	OfferDuplicate
	OfferFull
)

// String returns the outcome label used in logs and metrics.
func (r OfferResult) String() string {
	switch r {
	case OfferAccepted:
		return "accepted"
	case OfferDuplicate:
		return "duplicate"
	case OfferFull:
		return "full"
	default:
		return "unknown"
	}
}

// Queue is a bounded, deduplicating work queue of domains awaiting
// classification. A domain stays marked pending from Offer until Complete,
// so repeated DNS queries for the same unknown domain enqueue it once.
// When the queue is full new offers are rejected; queued work is never
// evicted.
type Queue struct {
	items chan string

	mu      sync.Mutex
	pending map[string]bool
	closed  bool
}

// NewQueue creates a queue holding at most capacity domains.
func NewQueue(capacity int) *Queue {
	return &Queue{
		items:   make(chan string, capacity),
		pending: make(map[string]bool, capacity),
	}
}

// Offer enqueues a domain without blocking.
func (q *Queue) Offer(domain string) OfferResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return OfferFull
	}
	if q.pending[domain] {
		return OfferDuplicate
	}

	select {
	case q.items <- domain:
		q.pending[domain] = true
		return OfferAccepted
	default:
		return OfferFull
	}
}

// Take blocks until a domain is available, the queue is closed, or the
// context is done. ok is false when no more work will arrive.
func (q *Queue) Take(ctx context.Context) (domain string, ok bool) {
	select {
	case domain, ok = <-q.items:
		return domain, ok
	case <-ctx.Done():
		return "", false
	}
}

// Complete clears the pending mark so the domain can be offered again.
func (q *Queue) Complete(domain string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, domain)
}

// Len returns the number of queued domains.
func (q *Queue) Len() int {
	return len(q.items)
}

// Close stops accepting offers. Queued domains remain takeable until the
// channel drains.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.items)
}
