// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package scheduler

import (
	"sync"

	"github.com/ManuGH/aperio/internal/jobs"
)

// queue is a bounded three-bucket FIFO of job ids awaiting dispatch. The
// store holds the authoritative dispatch order; the queue exists to bound
// admission and to drop cancelled jobs before a worker ever sees them.
type queue struct {
	mu      sync.Mutex
	buckets map[jobs.Priority][]string
	size    int
	max     int
}

// dispatchOrder is highest priority first, FIFO within a bucket.
var dispatchOrder = []jobs.Priority{jobs.PriorityHigh, jobs.PriorityNormal, jobs.PriorityLow}

func newQueue(max int) *queue {
	return &queue{
		buckets: make(map[jobs.Priority][]string, 3),
		max:     max,
	}
}

// Push appends id to its priority bucket. Returns false when the queue is
// at capacity.
func (q *queue) Push(id string, prio jobs.Priority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size >= q.max {
		return false
	}
	q.buckets[prio] = append(q.buckets[prio], id)
	q.size++
	return true
}

// Pop removes and returns the next id in dispatch order.
func (q *queue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, prio := range dispatchOrder {
		b := q.buckets[prio]
		if len(b) == 0 {
			continue
		}
		id := b[0]
		q.buckets[prio] = b[1:]
		q.size--
		return id, true
	}
	return "", false
}

// Remove drops id from whichever bucket holds it. Used for cancellation of
// queued jobs; linear scan is fine at queue scale.
func (q *queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for prio, b := range q.buckets {
		for i, v := range b {
			if v == id {
				q.buckets[prio] = append(b[:i], b[i+1:]...)
				q.size--
				return true
			}
		}
	}
	return false
}

// Len returns the number of queued ids.
func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
