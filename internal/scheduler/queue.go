// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package scheduler runs delayed continuations on the simulation tick.
//
// Continuations never run on their own goroutine. The owner calls Drain once
// per tick, so a continuation observes the same state as the transition
// evaluation that follows it and needs no locking of its own.
package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

// Handle refers to one scheduled continuation.
type Handle struct {
	label string
	at    time.Time
	seq   uint64
	fn    func(now time.Time)
	index int

	mu        sync.Mutex
	cancelled bool
	fired     bool
}

// Cancel prevents the continuation from running. It reports whether the
// continuation was still pending.
func (h *Handle) Cancel() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled || h.fired {
		return false
	}
	h.cancelled = true
	return true
}

func (h *Handle) Label() string { return h.label }
func (h *Handle) At() time.Time { return h.at }

// Pending reports whether the continuation has neither fired nor been cancelled.
func (h *Handle) Pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.cancelled && !h.fired
}

// take marks the handle fired unless it was cancelled first.
func (h *Handle) take() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return false
	}
	h.fired = true
	return true
}

type handleHeap []*Handle

func (q handleHeap) Len() int { return len(q) }
func (q handleHeap) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}
func (q handleHeap) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *handleHeap) Push(x any) {
	h := x.(*Handle)
	h.index = len(*q)
	*q = append(*q, h)
}
func (q *handleHeap) Pop() any {
	old := *q
	n := len(old)
	h := old[n-1]
	old[n-1] = nil
	h.index = -1
	*q = old[:n-1]
	return h
}

// Queue holds continuations ordered by fire time, FIFO among equal times.
type Queue struct {
	mu   sync.Mutex
	heap handleHeap
	seq  uint64
}

func New() *Queue {
	return &Queue{}
}

// After schedules fn to run on the first Drain at or after now+delay.
func (q *Queue) After(now time.Time, delay time.Duration, label string, fn func(now time.Time)) *Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	h := &Handle{label: label, at: now.Add(delay), seq: q.seq, fn: fn}
	heap.Push(&q.heap, h)
	return h
}

// Drain runs every due continuation in fire-time order and returns how many
// ran. Continuations scheduled during the drain that are already due run in
// the same call.
func (q *Queue) Drain(now time.Time) int {
	ran := 0
	for {
		q.mu.Lock()
		if q.heap.Len() == 0 || q.heap[0].at.After(now) {
			q.mu.Unlock()
			return ran
		}
		h := heap.Pop(&q.heap).(*Handle)
		q.mu.Unlock()

		if !h.take() {
			continue
		}
		h.fn(now)
		ran++
	}
}

// CancelAll drops every pending continuation. Used at session teardown.
func (q *Queue) CancelAll() int {
	q.mu.Lock()
	pending := q.heap
	q.heap = nil
	q.mu.Unlock()

	n := 0
	for _, h := range pending {
		if h.Cancel() {
			n++
		}
	}
	return n
}

// Pending counts continuations that are scheduled and not cancelled.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, h := range q.heap {
		if h.Pending() {
			n++
		}
	}
	return n
}
