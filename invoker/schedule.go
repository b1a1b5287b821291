package invoker

import (
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
)

// DefaultSeconds is the interval used when none (or a silly one) is
// given.
const DefaultSeconds = 5

// Schedule says when ticks are due.
type Schedule interface {
	// Next returns the first due time after prev.  The zero time
	// means there are no more ticks.
	Next(prev time.Time) time.Time

	String() string
}

// Interval is a fixed-rate schedule.
//
// Tick k is due at start + k*Interval regardless of how long any
// execution takes.
type Interval time.Duration

// Every makes an Interval of the given number of seconds.  Seconds
// less than one mean DefaultSeconds.
func Every(seconds int) Interval {
	if seconds < 1 {
		seconds = DefaultSeconds
	}
	return Interval(time.Duration(seconds) * time.Second)
}

func (d Interval) Next(prev time.Time) time.Time {
	return prev.Add(time.Duration(d))
}

func (d Interval) String() string {
	return "every " + time.Duration(d).String()
}

type cronSchedule struct {
	src  string
	expr *cronexpr.Expression
}

// Cron makes a schedule from a cron expression.
//
// See https://github.com/gorhill/cronexpr for the syntax, which
// includes an optional seconds field.
func Cron(src string) (Schedule, error) {
	expr, err := cronexpr.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("bad cron expression %q: %w", src, err)
	}
	return &cronSchedule{
		src:  src,
		expr: expr,
	}, nil
}

func (s *cronSchedule) Next(prev time.Time) time.Time {
	return s.expr.Next(prev)
}

func (s *cronSchedule) String() string {
	return "cron " + s.src
}
