// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"container/list"
	"sync"

	"github.com/maelstrom-ci/maelstrom/internal/proto"
)

// SlotPool tracks the worker's N execution slots (spec §4.3: Slot
// scheduling). Jobs become runnable in the order their slot becomes
// available; arrival order is preserved within the same priority.
type SlotPool struct {
	mu       sync.Mutex
	capacity int
	busy     int
	queue    *list.List // of queuedJob, highest priority / earliest arrival first
}

type queuedJob struct {
	jobId    proto.JobId
	priority int32
	seq      uint64
}

// NewSlotPool creates a pool with the given capacity (worker concurrency).
func NewSlotPool(capacity int) *SlotPool {
	return &SlotPool{capacity: capacity, queue: list.New()}
}

// Capacity returns the total number of slots.
func (p *SlotPool) Capacity() int {
	return p.capacity
}

// InFlight returns the number of slots currently occupied.
func (p *SlotPool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

// Enqueue records a job as waiting for a slot. seq must be strictly
// increasing across calls (e.g. an arrival counter) to preserve FIFO
// order within a priority tier.
func (p *SlotPool) Enqueue(jobId proto.JobId, priority int32, seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	job := queuedJob{jobId: jobId, priority: priority, seq: seq}
	for e := p.queue.Front(); e != nil; e = e.Next() {
		existing := e.Value.(queuedJob)
		if job.priority > existing.priority || (job.priority == existing.priority && job.seq < existing.seq) {
			p.queue.InsertBefore(job, e)
			return
		}
	}
	p.queue.PushBack(job)
}

// Remove drops a queued job, e.g. on cancellation before it was
// dispatched into a slot. Reports whether it was found.
func (p *SlotPool) Remove(jobId proto.JobId) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for e := p.queue.Front(); e != nil; e = e.Next() {
		if e.Value.(queuedJob).jobId == jobId {
			p.queue.Remove(e)
			return true
		}
	}
	return false
}

// Acquire returns the next queued job to run, if a slot is free.
// ok is false when every slot is busy or the queue is empty.
func (p *SlotPool) Acquire() (jobId proto.JobId, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.busy >= p.capacity {
		return "", false
	}
	front := p.queue.Front()
	if front == nil {
		return "", false
	}
	p.queue.Remove(front)
	p.busy++
	return front.Value.(queuedJob).jobId, true
}

// Release frees the slot occupied by a finished job.
func (p *SlotPool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy > 0 {
		p.busy--
	}
}
