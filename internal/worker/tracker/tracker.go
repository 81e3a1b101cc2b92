// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tracker follows one job of the worker queue from submission to completion.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/noldarim/procbridge/internal/ipc/event"
	"github.com/noldarim/procbridge/internal/logger"
	"github.com/noldarim/procbridge/internal/worker/queue"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetTrackerLogger()
		log = &l
	})
	return log
}

const (
	DefaultAcceptTimeout = 3 * time.Second
	DefaultFinishedPoll  = time.Second

	AcceptedEvent = "tracker_accepted"
	FinishedEvent = "tracker_finished"
)

// Outcome is how a tracked job ended.
type Outcome int

const (
	// NotRun means the job was never accepted by the queue.
	NotRun Outcome = iota
	// AlreadyDone means the job had left the queue before it could be waited on.
	AlreadyDone
	// Done means the job was observed finishing (completed, deleted or wiped).
	Done
)

func (o Outcome) String() string {
	switch o {
	case NotRun:
		return "not_run"
	case AlreadyDone:
		return "already_done"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Options tunes the waits.
type Options struct {
	AcceptTimeout time.Duration
	FinishedPoll  time.Duration
}

const unarmed = -1

// Tracker observes a queue for the lifecycle of one job id at a time.
type Tracker struct {
	q        *queue.Queue
	accepted event.Event
	finished event.Event
	opts     Options

	// Atomics: hooks read them with the queue mutex held, Arm writes them without it.
	tracked  atomic.Int64
	previous atomic.Int64
}

// New builds a tracker and registers it as an observer of q.
func New(q *queue.Queue, accepted, finished event.Event, opts Options) *Tracker {
	if opts.AcceptTimeout <= 0 {
		opts.AcceptTimeout = DefaultAcceptTimeout
	}
	if opts.FinishedPoll <= 0 {
		opts.FinishedPoll = DefaultFinishedPoll
	}
	t := &Tracker{q: q, accepted: accepted, finished: finished, opts: opts}
	t.tracked.Store(unarmed)
	t.previous.Store(unarmed)
	q.Observe(t)
	return t
}

// NewFileTracker builds a tracker whose events live in dir, visible to other processes.
func NewFileTracker(q *queue.Queue, dir string, pollInterval time.Duration, opts Options) *Tracker {
	return New(q,
		event.NewFileEvent(dir, AcceptedEvent, pollInterval),
		event.NewFileEvent(dir, FinishedEvent, pollInterval),
		opts)
}

// Tracked returns the armed job id, or -1.
func (t *Tracker) Tracked() int64 { return t.tracked.Load() }

// Arm starts tracking the next job the queue will number and resets both events.
func (t *Tracker) Arm() (int64, error) {
	t.previous.Store(t.tracked.Load())
	t.tracked.Store(unarmed)

	if err := t.accepted.Clear(); err != nil {
		return 0, err
	}
	if err := t.finished.Clear(); err != nil {
		return 0, err
	}

	next := t.q.NextNumber()
	t.tracked.Store(next)
	getLog().Debug().Int64("tracked_id", next).Msg("tracker armed")
	return next, nil
}

func (t *Tracker) matches(job queue.Job) bool {
	tracked := t.tracked.Load()
	return tracked != unarmed && job.ID() == tracked
}

func (t *Tracker) set(e event.Event, what string, job queue.Job) {
	if err := e.Set(); err != nil {
		getLog().Error().Err(err).Str("event", what).Int64("number", job.Number).Msg("failed to set tracker event")
	}
}

func (t *Tracker) OnEnqueue(job queue.Job) {
	if t.matches(job) {
		t.set(t.accepted, AcceptedEvent, job)
	}
}

func (t *Tracker) OnComplete(job queue.Job) {
	if t.matches(job) {
		t.set(t.finished, FinishedEvent, job)
	}
}

func (t *Tracker) OnWipe(running []queue.Job) {
	tracked := t.tracked.Load()
	if tracked == unarmed {
		return
	}
	for _, job := range running {
		if t.matches(job) {
			return
		}
	}
	// The tracked job was queued (or never enqueued); it cannot run anymore.
	t.set(t.finished, FinishedEvent, queue.Job{Number: tracked})
}

func (t *Tracker) OnDelete(job queue.Job) {
	if t.matches(job) {
		t.set(t.finished, FinishedEvent, job)
	}
}

// WaitUntilDone blocks until the armed job finishes. A job never accepted within the
// accept timeout yields NotRun and restores the previously tracked id.
func (t *Tracker) WaitUntilDone(ctx context.Context) (Outcome, error) {
	ok, err := t.accepted.Wait(ctx, t.opts.AcceptTimeout)
	if err != nil {
		return NotRun, fmt.Errorf("wait for job acceptance: %w: %w", errdefs.ErrTimeout, err)
	}
	if !ok {
		t.tracked.Store(t.previous.Load())
		getLog().Warn().Dur("waited", t.opts.AcceptTimeout).Msg("tracked job was not accepted")
		return NotRun, nil
	}

	if !t.q.Contains(t.matches) {
		getLog().Debug().Int64("tracked_id", t.tracked.Load()).Msg("tracked job already left the queue")
		return AlreadyDone, nil
	}

	for {
		ok, err := t.finished.Wait(ctx, t.opts.FinishedPoll)
		if err != nil {
			return NotRun, fmt.Errorf("wait for job completion: %w: %w", errdefs.ErrTimeout, err)
		}
		if ok {
			getLog().Debug().Int64("tracked_id", t.tracked.Load()).Msg("tracked job finished")
			return Done, nil
		}
	}
}

// Close disarms the tracker and removes both event markers.
func (t *Tracker) Close() error {
	t.tracked.Store(unarmed)
	return multierr.Combine(t.accepted.Clear(), t.finished.Clear())
}
