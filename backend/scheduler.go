// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Scheduler hands out cancellable one-shot timers for the grace-period,
// reactivation and cleanup delays. Cancellation is an explicit operation on
// the returned handle, not garbage collection of a forgotten timer.
type Scheduler struct {
	s gocron.Scheduler
}

// NewScheduler creates and starts a scheduler.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("gocron.NewScheduler: %w", err)
	}
	s.Start()
	return &Scheduler{s: s}, nil
}

// After schedules task to run once after d. The task runs on a scheduler
// goroutine; callers that need serialization must hop onto their own loop.
func (sc *Scheduler) After(d time.Duration, task func()) (*TimerHandle, error) {
	h := &TimerHandle{sched: sc.s}
	job, err := sc.s.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(time.Now().Add(d))),
		gocron.NewTask(func() {
			h.markDone()
			task()
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("scheduling one-shot job: %w", err)
	}
	h.job = job
	return h, nil
}

// Shutdown stops the scheduler and drops all pending timers.
func (sc *Scheduler) Shutdown() error {
	return sc.s.Shutdown()
}

// TimerHandle is an explicitly cancellable pending timer.
type TimerHandle struct {
	sched gocron.Scheduler
	job   gocron.Job

	mu   sync.Mutex
	done bool
}

func (h *TimerHandle) markDone() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done = true
}

// Cancel removes the pending job. Cancelling an already-fired or
// already-cancelled timer is a no-op.
func (h *TimerHandle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return
	}
	h.done = true
	h.mu.Unlock()
	if h.job != nil {
		_ = h.sched.RemoveJob(h.job.ID())
	}
}
