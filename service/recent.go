/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package service

import (
	"context"
	"sync"
	"time"

	"github.com/Comcast/metronome/sink"
)

// Nothings is a channel of nothing.
//
// A Nothings can be used as a semaphore.
type Nothings chan struct{}

// Signals is sort of sequence of semaphores that can be used to
// report when a new report has arrived.
type Signals struct {
	sync.Mutex
	c Nothings
}

func NewSignals() *Signals {
	return &Signals{
		c: make(Nothings),
	}
}

// Signal tells the Signals that something has happened.
func (s *Signals) Signal() {
	s.Lock()
	close(s.c)
	s.c = make(Nothings)
	s.Unlock()
}

// C returns a channel that is closed upon a Signal().
func (s *Signals) C() Nothings {
	s.Lock()
	c := s.c
	s.Unlock()
	return c
}

// Recent is a bounded in-memory buffer of reports, which is also a
// Sink.
//
// Each report is assigned a sequence number so that a client can
// long-poll for reports it hasn't seen.
type Recent struct {
	sync.RWMutex
	sigs   *Signals
	last   int64
	limit  int
	buffer []RecentReport
}

// NewRecent makes a Recent that remembers at most size reports.
func NewRecent(size int) *Recent {
	if size < 1 {
		size = 1
	}
	return &Recent{
		limit:  size,
		sigs:   NewSignals(),
		buffer: make([]RecentReport, 0, size),
	}
}

// RecentReport associates a sequence number with a report.
type RecentReport struct {
	N      int64        `json:"n"`
	Report *sink.Report `json:"report"`
}

// Wait returns a channel that's closed when the next report arrives.
func (h *Recent) Wait() Nothings {
	return h.sigs.C()
}

// Emit adds the report and wakes up anybody waiting in Get.
func (h *Recent) Emit(ctx context.Context, r *sink.Report) error {
	h.Lock()
	if h.limit <= len(h.buffer) {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[0 : h.limit-1]
	}
	h.last++
	h.buffer = append(h.buffer, RecentReport{
		N:      h.last,
		Report: r,
	})
	h.Unlock()
	h.sigs.Signal()
	return nil
}

// get returns a copy of the reports after the given sequence number.
func (h *Recent) get(since int64) []RecentReport {
	h.RLock()
	defer h.RUnlock()

	var (
		have  = int64(len(h.buffer))
		first = h.last - have
	)

	if since < first {
		since = first
	}
	if h.last < since {
		since = h.last
	}

	acc := make([]RecentReport, h.last-since)
	copy(acc, h.buffer[since-first:])
	return acc
}

// Get returns the reports after the given sequence number.
//
// When there aren't any, Get waits up to the timeout for one to
// arrive.
func (h *Recent) Get(ctx context.Context, since int64, timeout time.Duration) []RecentReport {
	// Get the channel before looking so that we can't miss a
	// report that arrives in between.
	wait := h.Wait()

	rs := h.get(since)
	if len(rs) == 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		case <-wait:
			rs = h.get(since)
		}
	}

	return rs
}
