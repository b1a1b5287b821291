// Package command binds a receiver to an action behind a single
// parameterless Execute, so whoever triggers the command needn't know
// what kind of work it does.
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/Comcast/metronome/receiver"
	"github.com/Comcast/metronome/sink"
)

// Command is something that can be executed over and over.
type Command interface {
	// Name identifies the command in reports, logs, and metrics.
	Name() string

	// Execute performs the command's action once.
	Execute(ctx context.Context) error
}

// Tick identifies one firing of a schedule.
type Tick struct {
	// N is the 1-based ordinal of the firing.
	N int64 `json:"n"`

	// At is when the tick was due, which is a little before
	// it actually fired.
	At time.Time `json:"at"`
}

type tickKey struct{}

// WithTick returns a context that carries the tick.
func WithTick(ctx context.Context, t Tick) context.Context {
	return context.WithValue(ctx, tickKey{}, t)
}

// TickFrom gets the tick that triggered this execution (if any).
func TickFrom(ctx context.Context) (Tick, bool) {
	t, have := ctx.Value(tickKey{}).(Tick)
	return t, have
}

// PrintCommand fetches from its receiver and prints the result.
//
// Each execution emits exactly one report: the text on success or the
// error on failure.  Either way the emit happens after the fetch has
// returned.
type PrintCommand struct {
	name     string
	receiver receiver.Receiver
	sink     sink.Sink

	// Now is here for tests.
	Now func() time.Time
}

// NewPrintCommand makes a PrintCommand.
func NewPrintCommand(name string, r receiver.Receiver, s sink.Sink) *PrintCommand {
	return &PrintCommand{
		name:     name,
		receiver: r,
		sink:     s,
		Now:      time.Now,
	}
}

func (c *PrintCommand) Name() string {
	return c.name
}

// Execute fetches and reports.
//
// A fetch failure is reported to the sink and returned.  A sink
// failure is returned.
func (c *PrintCommand) Execute(ctx context.Context) error {
	text, err := c.receiver.Fetch(ctx)

	r := &sink.Report{
		Command: c.name,
		At:      c.Now().UTC(),
	}
	if t, have := TickFrom(ctx); have {
		r.Tick = t.N
	}

	if err != nil {
		r.Error = err.Error()
		if serr := c.sink.Emit(ctx, r); serr != nil {
			return fmt.Errorf("command %s: %w (and reporting failed: %v)", c.name, err, serr)
		}
		return fmt.Errorf("command %s: %w", c.name, err)
	}

	r.Text = text
	if err := c.sink.Emit(ctx, r); err != nil {
		return fmt.Errorf("command %s emit: %w", c.name, err)
	}
	return nil
}

// Func adapts a function to a Command.
func Func(name string, f func(ctx context.Context) error) Command {
	return &funcCommand{
		name: name,
		f:    f,
	}
}

type funcCommand struct {
	name string
	f    func(ctx context.Context) error
}

func (c *funcCommand) Name() string {
	return c.name
}

func (c *funcCommand) Execute(ctx context.Context) error {
	return c.f(ctx)
}
