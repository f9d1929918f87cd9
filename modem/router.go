package modem

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"

	"i4.energy/across/cellctl/at"
)

// RouterState is the lifecycle state of a Router.
type RouterState int

const (
	RouterStopped RouterState = iota
	RouterStarting
	RouterRunning
	RouterStopping
)

func (s RouterState) String() string {
	switch s {
	case RouterStopped:
		return "stopped"
	case RouterStarting:
		return "starting"
	case RouterRunning:
		return "running"
	case RouterStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// FallbackRule is the key under which Counts reports lines no rule matched.
const FallbackRule = "fallback"

// Router consumes unsolicited lines from the control line and dispatches
// them to a rule table.
//
// Two goroutines run while the router is started. The feeder holds the Gate
// for one single-line read at a time, queues the line and sleeps
// PollInterval, which is what gives waiting Send calls their turn. The
// dispatcher pops queued lines in order and runs one handler per line; it
// never touches the control line itself.
type Router struct {
	m      *Modem
	logger *slog.Logger
	queue  *lineQueue
	counts *xsync.MapOf[string, *xsync.Counter]

	mu    sync.Mutex
	state RouterState
	table *RuleTable

	active         atomic.Bool
	cancel         context.CancelFunc
	feederDone     chan struct{}
	dispatcherDone chan struct{}
}

func newRouter(m *Modem) *Router {
	return &Router{
		m:      m,
		logger: m.config.Logger.With("component", "router"),
		queue:  newLineQueue(64),
		counts: xsync.NewMapOf[string, *xsync.Counter](),
	}
}

// State returns the current lifecycle state.
func (r *Router) State() RouterState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start installs table, or DefaultRuleTable when nil, and launches the
// feeder and the dispatcher. Starting a router that is not stopped fails
// with ErrRouterRunning.
func (r *Router) Start(table *RuleTable) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RouterStopped {
		return ErrRouterRunning
	}
	r.state = RouterStarting

	if table == nil {
		table = DefaultRuleTable()
	}
	r.table = table

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.feederDone = make(chan struct{})
	r.dispatcherDone = make(chan struct{})
	r.active.Store(true)

	go r.feed(ctx, r.feederDone)
	go r.dispatch(r.table, r.dispatcherDone)

	r.state = RouterRunning
	r.logger.Debug("notification router started", "rules", len(table.Rules))
	return nil
}

// Stop signals both goroutines and waits for them. Once Stop returns the
// router no longer acquires the Gate, and every line queued before the stop
// has been dispatched. Stopping a router that is not running fails with
// ErrRouterStopped. Stop must not be called from a Handler.
func (r *Router) Stop() error {
	r.mu.Lock()
	if r.state != RouterRunning {
		r.mu.Unlock()
		return ErrRouterStopped
	}
	r.state = RouterStopping
	r.mu.Unlock()

	r.active.Store(false)
	r.cancel()
	<-r.feederDone
	r.queue.Wake()
	<-r.dispatcherDone

	r.mu.Lock()
	r.state = RouterStopped
	r.cancel = nil
	r.mu.Unlock()
	r.logger.Debug("notification router stopped")
	return nil
}

// feed polls the control line until stopped or until the line is gone.
func (r *Router) feed(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	for r.active.Load() {
		pause := r.m.config.PollInterval

		line, err := r.poll(ctx)
		switch {
		case err == nil:
			if line != "" {
				r.logger.Debug("rx", "line", line)
			}
			r.queue.Push(line)
		case ctx.Err() != nil:
			return
		case isTerminal(err):
			r.logger.Error("control line closed, feeder stopped", "error", err)
			return
		case errors.Is(err, ErrLineTooLong):
			r.logger.Warn("discarding oversized unsolicited line")
		default:
			r.logger.Debug("transient read failure", "error", err)
			pause = r.m.config.RetryPause
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(pause):
		}
	}
}

// poll performs one single-line read while holding the Gate.
func (r *Router) poll(ctx context.Context) (string, error) {
	var line string
	err := r.m.gate.Do(ctx, func() error {
		var err error
		line, err = r.m.lines.ReadLine()
		return err
	})
	return line, err
}

func (r *Router) dispatch(table *RuleTable, done chan<- struct{}) {
	defer close(done)

	for {
		item := r.queue.Pop()
		if item.wake {
			if !r.active.Load() {
				return
			}
			continue
		}
		r.dispatchLine(table, item.line)
	}
}

func (r *Router) dispatchLine(table *RuleTable, line string) {
	if r.m.config.RecoverHandlers {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("notification handler panicked", "line", at.Trim(line), "panic", p)
			}
		}()
	}

	name := table.Dispatch(r.m, line)
	if name == "" {
		name = FallbackRule
		if kind := at.Classify(line); kind != at.TypeEmpty {
			r.logger.Debug("unhandled line", "line", at.Trim(line), "type", kind)
		}
	}
	counter, _ := r.counts.LoadOrCompute(name, xsync.NewCounter)
	counter.Inc()
}

// Counts returns how many lines each rule handled since the modem was
// created, keyed by rule name. Unmatched lines are counted under
// FallbackRule.
func (r *Router) Counts() map[string]int64 {
	out := make(map[string]int64)
	r.counts.Range(func(name string, c *xsync.Counter) bool {
		out[name] = c.Value()
		return true
	})
	return out
}

// Pending returns the number of lines queued but not yet dispatched.
func (r *Router) Pending() int {
	return r.queue.Length()
}
