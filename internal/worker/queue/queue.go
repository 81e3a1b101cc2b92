// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package queue is the worker's prompt queue.
//
// Queued jobs are ordered by their signed Number: jobs queued at the front get a
// negated number so they sort before every job queued at the back. Observers are told
// about every mutation while the queue mutex is held, before the mutation is applied.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/noldarim/procbridge/internal/graph"
	"github.com/noldarim/procbridge/internal/logger"
	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetWorkerLogger()
		log = &l
	})
	return log
}

// Job is one queued prompt.
type Job struct {
	Number   int64          `json:"number"`
	PromptID string         `json:"promptId"`
	ClientID string         `json:"clientId,omitempty"`
	Graph    graph.Graph    `json:"graph"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// ID is the job number without its priority sign.
func (j Job) ID() int64 {
	if j.Number < 0 {
		return -j.Number
	}
	return j.Number
}

// Status is the outcome of an executed job.
type Status struct {
	Completed bool     `json:"completed"`
	Error     string   `json:"error,omitempty"`
	Messages  []string `json:"messages,omitempty"`
}

// HistoryEntry records an executed job.
type HistoryEntry struct {
	Job        Job            `json:"job"`
	Status     Status         `json:"status"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	FinishedAt time.Time      `json:"finishedAt"`
}

// Observer is notified of queue mutations. Hooks run with the queue mutex held and
// must not call back into the Queue.
type Observer interface {
	OnEnqueue(job Job)
	OnComplete(job Job)
	OnWipe(running []Job)
	OnDelete(job Job)
}

// Queue is a mutex-protected priority queue plus the set of running jobs.
type Queue struct {
	mu        sync.Mutex
	queued    jobHeap
	running   map[int64]Job
	nextItem  int64
	number    int64
	history   map[string]HistoryEntry
	order     []string
	maxHist   int
	observers []Observer
	wake      chan struct{}
}

// New returns an empty queue keeping at most maxHistory finished jobs (0 = unlimited).
func New(maxHistory int, observers ...Observer) *Queue {
	return &Queue{
		running:   make(map[int64]Job),
		history:   make(map[string]HistoryEntry),
		maxHist:   maxHistory,
		observers: observers,
		wake:      make(chan struct{}, 1),
	}
}

// Observe registers o for all following mutations.
func (q *Queue) Observe(o Observer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observers = append(q.observers, o)
}

// NextNumber returns the number the next submitted job will get (before any sign).
func (q *Queue) NextNumber() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.number
}

// Submit mints a number and a prompt id for g and queues it.
func (q *Queue) Submit(g graph.Graph, front bool, clientID string, extra map[string]any) Job {
	q.mu.Lock()
	number := q.number
	q.number++
	if front {
		number = -number
	}
	job := Job{
		Number:   number,
		PromptID: uuid.NewString(),
		ClientID: clientID,
		Graph:    g,
		Extra:    extra,
	}
	q.putLocked(job)
	q.mu.Unlock()

	q.signal()
	return job
}

// Put queues an already numbered job.
func (q *Queue) Put(job Job) {
	q.mu.Lock()
	q.putLocked(job)
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) putLocked(job Job) {
	for _, o := range q.observers {
		o.OnEnqueue(job)
	}
	heap.Push(&q.queued, job)
	getLog().Debug().Int64("number", job.Number).Str("prompt_id", job.PromptID).Msg("job queued")
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Get takes the next job and marks it running. It waits up to timeout (zero = until ctx
// ends) for a job to arrive and returns errdefs.ErrTimeout otherwise.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (int64, Job, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		q.mu.Lock()
		if q.queued.Len() > 0 {
			job := heap.Pop(&q.queued).(Job)
			item := q.nextItem
			q.nextItem++
			q.running[item] = job
			pending := q.queued.Len()
			q.mu.Unlock()
			if pending > 0 {
				q.signal()
			}
			return item, job, nil
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-expired:
			return 0, Job{}, fmt.Errorf("queue get: %w", errdefs.ErrTimeout)
		case <-ctx.Done():
			return 0, Job{}, fmt.Errorf("queue get: %w: %w", errdefs.ErrTimeout, ctx.Err())
		}
	}
}

// TaskDone marks the running item finished and records it in the history.
func (q *Queue) TaskDone(item int64, status Status, outputs map[string]any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.running[item]
	if !ok {
		return fmt.Errorf("running item %d: %w", item, errdefs.ErrNotFound)
	}
	for _, o := range q.observers {
		o.OnComplete(job)
	}
	delete(q.running, item)

	q.history[job.PromptID] = HistoryEntry{Job: job, Status: status, Outputs: outputs, FinishedAt: time.Now()}
	q.order = append(q.order, job.PromptID)
	if q.maxHist > 0 && len(q.order) > q.maxHist {
		delete(q.history, q.order[0])
		q.order = q.order[1:]
	}
	return nil
}

// WipeQueue drops every queued job. Running jobs are unaffected.
func (q *Queue) WipeQueue() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, o := range q.observers {
		o.OnWipe(q.runningLocked())
	}
	q.queued = nil
}

// DeleteQueueItem drops the first queued job matching pred and reports whether one was found.
func (q *Queue) DeleteQueueItem(pred func(Job) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, job := range q.queued {
		if !pred(job) {
			continue
		}
		for _, o := range q.observers {
			o.OnDelete(job)
		}
		heap.Remove(&q.queued, i)
		return true
	}
	return false
}

// Contains reports whether a running or queued job matches pred. The scan happens
// under the queue mutex.
func (q *Queue) Contains(pred func(Job) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.running {
		if pred(job) {
			return true
		}
	}
	for _, job := range q.queued {
		if pred(job) {
			return true
		}
	}
	return false
}

// Snapshot returns copies of the running and queued jobs, both in execution order.
func (q *Queue) Snapshot() (running, queued []Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	running = q.runningLocked()
	queued = append([]Job(nil), q.queued...)
	sort.Slice(queued, func(i, j int) bool { return queued[i].Number < queued[j].Number })
	return running, queued
}

func (q *Queue) runningLocked() []Job {
	items := make([]int64, 0, len(q.running))
	for item := range q.running {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })

	jobs := make([]Job, len(items))
	for i, item := range items {
		jobs[i] = q.running[item]
	}
	return jobs
}

// Len returns the number of queued (not running) jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued.Len()
}

// History returns the entry of promptID.
func (q *Queue) History(promptID string) (HistoryEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.history[promptID]
	return e, ok
}

// HistoryAll returns every entry, oldest first.
func (q *Queue) HistoryAll() []HistoryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]HistoryEntry, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.history[id])
	}
	return out
}

type jobHeap []Job

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].Number < h[j].Number }
func (h jobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)        { *h = append(*h, x.(Job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	*h = old[:n-1]
	return job
}
