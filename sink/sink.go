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

// Package sink provides the places where a command's reports go.
//
// A sink must be safe for concurrent use: ticks can overlap, so
// several executions may emit at once.
package sink

import (
	"context"
	"errors"
	"time"
)

// Report is one line of output from one execution of a command.
//
// Exactly one of Text and Error is set.
type Report struct {
	// Command is the name of the command that made this report.
	Command string `json:"command"`

	// Tick is the ordinal of the tick that triggered the
	// execution.  Zero means the execution wasn't triggered by an
	// invoker.
	Tick int64 `json:"tick,omitempty"`

	// At is when the report was made.
	At time.Time `json:"at"`

	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// Failed reports whether this Report represents a failure.
func (r *Report) Failed() bool {
	return r.Error != ""
}

// Sink receives Reports.
type Sink interface {
	Emit(ctx context.Context, r *Report) error
}

// Func adapts a function to a Sink.
type Func func(ctx context.Context, r *Report) error

// Emit calls f.
func (f Func) Emit(ctx context.Context, r *Report) error {
	return f(ctx, r)
}

// Multi emits to each of its sinks.
//
// Every sink sees every report even if an earlier sink fails.  The
// errors, if any, are joined.
type Multi []Sink

// Emit emits to each sink in order.
func (m Multi) Emit(ctx context.Context, r *Report) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
