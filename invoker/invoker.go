// Package invoker owns "when to run" so that commands only need to
// know "what to run".
//
// An Invoker fires a command on a schedule.  Each tick's execution
// runs in its own goroutine, and the next tick doesn't wait for it.
// Therefore executions can overlap, and their completions can arrive
// out of order.  WithOverlap(Skip) changes that.
//
// Start returns a Handle, which is the only way (other than
// cancelling Start's context) to stop the ticking.  Stop releases the
// timer, lets in-flight executions finish, and returns.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Comcast/metronome/command"
	"github.com/Comcast/metronome/util"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

var (
	AlreadyRunning = errors.New("already running")
	Stopped        = errors.New("stopped")
	Panicked       = errors.New("execution panicked")
)

// State is where an Invoker is in its life.
type State int32

const (
	Created State = iota
	Running
	Done
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Overlap says what to do when a tick fires while the previous
// execution is still running.
type Overlap int

const (
	// Allow starts another execution anyway.
	Allow Overlap = iota

	// Skip skips the tick.
	Skip
)

func (o Overlap) String() string {
	switch o {
	case Allow:
		return "allow"
	case Skip:
		return "skip"
	}
	return fmt.Sprintf("Overlap(%d)", int(o))
}

// ParseOverlap parses "allow" or "skip".  The empty string means
// "allow".
func ParseOverlap(s string) (Overlap, error) {
	switch s {
	case "", "allow":
		return Allow, nil
	case "skip":
		return Skip, nil
	}
	return Allow, fmt.Errorf("bad overlap %q (want allow or skip)", s)
}

// Outcome is what happened at a tick.
type Outcome struct {
	Command string
	Tick    command.Tick

	// Err is the error (if any) returned by the execution.
	Err error

	// Elapsed is how long the execution took.
	Elapsed time.Duration

	// Skipped means there was no execution for this tick.
	Skipped bool
}

// Invoker fires a command on a schedule.
type Invoker struct {
	Debug bool

	cmd      command.Command
	sched    Schedule
	overlap  Overlap
	clock    clock.Clock
	outcomes chan<- *Outcome
	log      *zap.SugaredLogger

	sync.Mutex
	state State
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithOverlap sets the overlap policy.  The default is Allow.
func WithOverlap(o Overlap) Option {
	return func(i *Invoker) {
		i.overlap = o
	}
}

// WithClock replaces the real clock, which is handy for tests.
func WithClock(c clock.Clock) Option {
	return func(i *Invoker) {
		i.clock = c
	}
}

// WithOutcomes gives a channel that will receive every Outcome.
//
// Sends don't block.  If the channel isn't ready, the Outcome is
// dropped (and counted).
func WithOutcomes(c chan<- *Outcome) Option {
	return func(i *Invoker) {
		i.outcomes = c
	}
}

// WithLogger sets the logger.  The default is util.Logger().
func WithLogger(l *zap.SugaredLogger) Option {
	return func(i *Invoker) {
		i.log = l
	}
}

// WithDebug turns on per-tick logging.
func WithDebug(debug bool) Option {
	return func(i *Invoker) {
		i.Debug = debug
	}
}

// New makes an Invoker that isn't running yet.
func New(cmd command.Command, sched Schedule, opts ...Option) *Invoker {
	if sched == nil {
		sched = Every(DefaultSeconds)
	}
	i := &Invoker{
		cmd:   cmd,
		sched: sched,
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.log == nil {
		i.log = util.Logger()
	}
	i.log = i.log.With("command", cmd.Name())
	return i
}

// State reports the invoker's state.
func (i *Invoker) State() State {
	i.Lock()
	defer i.Unlock()
	return i.state
}

func (i *Invoker) setState(s State) {
	i.Lock()
	i.state = s
	i.Unlock()
}

func (i *Invoker) logf(format string, args ...interface{}) {
	if i.Debug {
		i.log.Infof(format, args...)
	}
}

// Start arms the schedule.
//
// The timer exists when Start returns.  An Invoker can be started
// only once: a second Start returns AlreadyRunning (or Stopped after
// the first run has ended) and arms nothing.
//
// Cancelling ctx stops the ticking and cancels in-flight executions.
func (i *Invoker) Start(ctx context.Context) (*Handle, error) {
	i.Lock()
	defer i.Unlock()

	switch i.state {
	case Running:
		return nil, AlreadyRunning
	case Done:
		return nil, Stopped
	}

	execCtx, cancelExec := context.WithCancel(ctx)
	loopCtx, cancelLoop := context.WithCancel(execCtx)

	h := &Handle{
		inv:        i,
		cancelLoop: cancelLoop,
		cancelExec: cancelExec,
		done:       make(chan struct{}),
	}

	start := i.clock.Now()
	next := i.sched.Next(start)
	if next.IsZero() {
		i.log.Warnf("Invoker %s has nothing to do", i.sched)
		i.state = Done
		cancelLoop()
		close(h.done)
		return h, nil
	}

	timer := i.clock.Timer(next.Sub(start))
	i.state = Running

	i.log.Infof("Invoker starting %s", i.sched)

	go h.loop(loopCtx, execCtx, timer, next)

	return h, nil
}

// Handle controls a running Invoker.
type Handle struct {
	inv *Invoker

	cancelLoop context.CancelFunc
	cancelExec context.CancelFunc

	done chan struct{}
	wg   sync.WaitGroup

	ticks    int64
	inFlight int64
}

// Done is closed when the schedule has stopped ticking.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Ticks returns the number of ticks so far.
func (h *Handle) Ticks() int64 {
	return atomic.LoadInt64(&h.ticks)
}

// InFlight returns the number of executions currently running.
func (h *Handle) InFlight() int64 {
	return atomic.LoadInt64(&h.inFlight)
}

// Stop stops the timer and waits for in-flight executions to finish.
//
// If ctx is done first, in-flight executions are cancelled and
// ctx.Err() is returned.  Stop can be called more than once.
func (h *Handle) Stop(ctx context.Context) error {
	h.cancelLoop()

	select {
	case <-h.done:
	case <-ctx.Done():
		h.cancelExec()
		return ctx.Err()
	}

	drained := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		h.cancelExec()
		return nil
	case <-ctx.Done():
		h.cancelExec()
		return ctx.Err()
	}
}

func (h *Handle) loop(ctx, execCtx context.Context, timer *clock.Timer, next time.Time) {
	i := h.inv
	defer func() {
		timer.Stop()
		i.setState(Done)
		i.log.Infof("Invoker stopped after %d ticks", h.Ticks())
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			tick := command.Tick{
				N:  atomic.AddInt64(&h.ticks, 1),
				At: next,
			}

			// Rearm before dispatching so that the
			// schedule never waits on an execution.
			next = i.sched.Next(next)
			if !next.IsZero() {
				timer.Reset(next.Sub(i.clock.Now()))
			}

			h.dispatch(execCtx, tick)

			if next.IsZero() {
				i.log.Infof("Invoker %s has no more ticks", i.sched)
				return
			}
		}
	}
}

func (h *Handle) dispatch(ctx context.Context, tick command.Tick) {
	i := h.inv
	name := i.cmd.Name()

	ticksCounter.WithLabelValues(name).Inc()

	if i.overlap == Skip && 0 < atomic.LoadInt64(&h.inFlight) {
		i.logf("Invoker skipping tick %d", tick.N)
		skippedCounter.WithLabelValues(name).Inc()
		h.report(&Outcome{
			Command: name,
			Tick:    tick,
			Skipped: true,
		})
		return
	}

	i.logf("Invoker tick %d (late: %s)", tick.N, i.clock.Since(tick.At))

	atomic.AddInt64(&h.inFlight, 1)
	inFlightGauge.WithLabelValues(name).Inc()
	h.wg.Add(1)

	go func() {
		defer h.wg.Done()

		then := i.clock.Now()
		err := h.execute(command.WithTick(ctx, tick))
		elapsed := i.clock.Since(then)

		atomic.AddInt64(&h.inFlight, -1)
		inFlightGauge.WithLabelValues(name).Dec()
		executeDurationHistogram.WithLabelValues(name).Observe(elapsed.Seconds())

		if err != nil {
			failuresCounter.WithLabelValues(name).Inc()
			i.log.Warnf("Invoker tick %d failed: %v", tick.N, err)
		} else {
			i.logf("Invoker tick %d done in %s", tick.N, elapsed)
		}

		h.report(&Outcome{
			Command: name,
			Tick:    tick,
			Err:     err,
			Elapsed: elapsed,
		})
	}()
}

func (h *Handle) execute(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", Panicked, r)
		}
	}()
	return h.inv.cmd.Execute(ctx)
}

func (h *Handle) report(o *Outcome) {
	if h.inv.outcomes == nil {
		return
	}
	select {
	case h.inv.outcomes <- o:
	default:
		droppedCounter.WithLabelValues(o.Command).Inc()
	}
}
