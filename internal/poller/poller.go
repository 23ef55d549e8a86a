// Package poller runs the apply loop: every cycle it re-reads the config,
// stops if a kill was requested, applies opacities, and decides whether to
// run again.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/WinOpacity/internal/config"
	"github.com/bryanchriswhite/WinOpacity/internal/logger"
	"github.com/bryanchriswhite/WinOpacity/internal/opacity"
	"github.com/bryanchriswhite/WinOpacity/internal/rules"
	"github.com/bryanchriswhite/WinOpacity/internal/window"
)

// State is the lifecycle state of a Poller
type State int

const (
	StateIdle State = iota
	StateRunning
	StateRescheduled
	StateTerminated
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateRescheduled:
		return "rescheduled"
	case StateTerminated:
		return "terminated"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON and YAML output
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further cycles can run
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateFaulted
}

// Action is what a cycle decided to do next
type Action struct {
	Stop  bool
	After time.Duration
}

// Stop ends the loop
var Stop = Action{Stop: true}

// ScheduleAfter runs the next cycle after d
func ScheduleAfter(d time.Duration) Action {
	return Action{After: d}
}

// Status is a snapshot of the poller for observers
type Status struct {
	State        State          `json:"state" yaml:"state"`
	Cycles       int            `json:"cycles" yaml:"cycles"`
	Rules        int            `json:"rules" yaml:"rules"`
	InvalidRules int            `json:"invalid_rules" yaml:"invalid_rules"`
	LastResult   opacity.Result `json:"last_result" yaml:"last_result"`
	LastCycle    time.Time      `json:"last_cycle,omitempty" yaml:"last_cycle,omitempty"`
	NextCycle    time.Time      `json:"next_cycle,omitempty" yaml:"next_cycle,omitempty"`
	Error        string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// Options configures a Poller
type Options struct {
	// Watch wakes the loop early when the config file is written
	Watch bool
	// OnWindowError is called for every window whose opacity could not be set
	OnWindowError opacity.ErrorHook
}

// Poller owns the apply loop for one process. It runs at most one cycle at
// a time and never restarts after reaching a terminal state.
type Poller struct {
	store    *config.Store
	source   window.Source
	applier  *opacity.Applier
	compiler rules.Compiler
	watch    bool

	cycleMu sync.Mutex

	mu        sync.RWMutex
	status    Status
	listeners []chan Status
}

// New creates a poller reading store and acting on source
func New(store *config.Store, source window.Source, opts Options) *Poller {
	return &Poller{
		store:   store,
		source:  source,
		applier: opacity.NewApplier(source, opts.OnWindowError),
		watch:   opts.Watch,
		status:  Status{State: StateIdle},
	}
}

// Cycle runs one pass and returns what should happen next. A non-nil error
// means the poller faulted; the returned action is then always Stop.
func (p *Poller) Cycle(ctx context.Context) (Action, error) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	log := logger.WithComponent("poller")

	if state := p.Status().State; state.Terminal() {
		return Stop, nil
	}
	p.update(func(s *Status) {
		s.State = StateRunning
		s.Cycles++
		s.LastCycle = time.Now()
		s.NextCycle = time.Time{}
	})

	doc, err := p.store.Load()
	if err != nil {
		log.Error().Err(err).Str("path", p.store.Path()).Msg("Failed to read config, stopping")
		p.fault(err)
		return Stop, err
	}

	// A kill request is honoured before any window work
	if doc.Config.Kill {
		doc.ClearKill()
		if err := p.store.Save(doc.Raw, doc); err != nil {
			err = fmt.Errorf("failed to clear kill flag: %w", err)
			log.Error().Err(err).Str("path", p.store.Path()).Msg("Kill requested but flag could not be removed")
			p.fault(err)
			return Stop, err
		}
		log.Info().Str("path", p.store.Path()).Msg("Kill requested, stopping")
		p.update(func(s *Status) { s.State = StateTerminated })
		return Stop, nil
	}

	set, errs, compiled := p.compiler.Compile(doc.Config.Windows)
	if compiled {
		for _, err := range errs {
			log.Warn().Err(err).Msg("Skipping rule with invalid pattern")
		}
	}

	var res opacity.Result
	windows, err := p.source.ListWindows(ctx)
	if err != nil {
		log.Error().Err(err).Str("backend", p.source.Name()).Msg("Failed to list windows")
	} else {
		res = p.applier.ApplyAll(ctx, windows, set)
	}

	log.Debug().
		Int("windows", res.Windows).
		Int("matched", res.Matched).
		Int("applied", res.Applied).
		Int("failed", res.Failed).
		Msg("Cycle complete")

	interval := doc.Config.PollInterval()
	p.update(func(s *Status) {
		s.Rules = set.Len()
		s.InvalidRules = len(errs)
		s.LastResult = res
		s.Error = ""
		if interval > 0 {
			s.State = StateRescheduled
			s.NextCycle = time.Now().Add(interval)
		} else {
			s.State = StateTerminated
		}
	})

	if interval <= 0 {
		log.Info().Msg("No poll interval configured, stopping after one pass")
		return Stop, nil
	}
	return ScheduleAfter(interval), nil
}

// Run drives cycles until a cycle stops the loop or ctx is cancelled. It
// returns nil when the loop terminated and the fault when it faulted.
func (p *Poller) Run(ctx context.Context) error {
	log := logger.WithComponent("poller")

	var wake <-chan struct{}
	if p.watch {
		w, err := watchConfig(p.store.Path())
		if err != nil {
			log.Warn().Err(err).Msg("Config watch unavailable, relying on the poll interval")
		} else {
			defer w.Close()
			wake = w.Wake()
		}
	}

	log.Info().
		Str("path", p.store.Path()).
		Str("backend", p.source.Name()).
		Bool("watch", wake != nil).
		Msg("Poller started")

	for {
		action, err := p.Cycle(ctx)
		if err != nil {
			return err
		}
		if action.Stop {
			return nil
		}

		timer := time.NewTimer(action.After)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("Interrupted, stopping")
			p.update(func(s *Status) {
				s.State = StateTerminated
				s.NextCycle = time.Time{}
			})
			return nil
		case <-timer.C:
		case <-wake:
			timer.Stop()
			log.Debug().Msg("Config changed, running early")
		}
	}
}

// Preview reads the config and lists the current windows with the opacity
// each would receive. Nothing is applied and the kill flag is ignored.
func (p *Poller) Preview(ctx context.Context) ([]opacity.Assignment, error) {
	doc, err := p.store.Load()
	if err != nil {
		return nil, err
	}
	// Compiled outside the cycle cache so the next cycle still warns about
	// invalid patterns in a freshly edited file
	set, _ := rules.Compile(doc.Config.Windows)

	windows, err := p.source.ListWindows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list windows: %w", err)
	}
	return opacity.Plan(windows, set), nil
}

// Status returns the latest snapshot
func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Subscribe returns a channel receiving a snapshot after every change
func (p *Poller) Subscribe() chan Status {
	ch := make(chan Status, 10)
	p.mu.Lock()
	p.listeners = append(p.listeners, ch)
	p.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel
func (p *Poller) Unsubscribe(ch chan Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, listener := range p.listeners {
		if listener == ch {
			p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

func (p *Poller) fault(err error) {
	p.update(func(s *Status) {
		s.State = StateFaulted
		s.Error = err.Error()
		s.NextCycle = time.Time{}
	})
}

// update applies fn to the status and notifies listeners
func (p *Poller) update(fn func(*Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fn(&p.status)
	for _, listener := range p.listeners {
		select {
		case listener <- p.status:
		default:
			// Skip if channel is full
		}
	}
}
