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

package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	. "github.com/Comcast/metronome/util/testutil"
)

// Stdio is a fairly simple Sink that writes facts to stdout and
// failures to stderr, one line per report.
type Stdio struct {
	// Out gets successful reports.
	Out io.Writer

	// Err gets failures.
	Err io.Writer

	// Timestamps prepends the report's time to each output line.
	Timestamps bool

	// Tags prefixes tags indicating type of output ("fact",
	// "error").
	Tags bool

	// PadTags adds some padding to tags.
	PadTags bool

	// JSON writes the entire report as JSON instead of just the
	// text.
	JSON bool

	sync.Mutex
}

// oneLine folds line breaks so that a report is always one line.
var oneLine = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// NewStdio creates a new Stdio.
//
// Out and Err are initialized with os.Stdout and os.Stderr
// respectively.
func NewStdio() *Stdio {
	return &Stdio{
		Out: os.Stdout,
		Err: os.Stderr,
	}
}

// Emit writes one line.
func (s *Stdio) Emit(ctx context.Context, r *Report) error {
	var (
		tag  = "fact"
		out  = s.Out
		line = r.Text
	)
	if r.Failed() {
		tag = "error"
		out = s.Err
		line = r.Error
	}
	if out == nil {
		return nil
	}
	if s.JSON {
		line = JS(r)
	} else {
		line = oneLine.Replace(line)
	}

	format := "%s\n"
	if s.PadTags {
		tag = fmt.Sprintf("% 6s", tag)
	}
	if s.Tags {
		format = tag + " " + format
	}
	if s.Timestamps {
		ts := fmt.Sprintf("%-31s", r.At.UTC().Format(time.RFC3339Nano))
		format = ts + " " + format
	}

	s.Lock()
	_, err := fmt.Fprintf(out, format, line)
	s.Unlock()

	return err
}
