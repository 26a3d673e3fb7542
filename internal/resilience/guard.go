// Package resilience guards kernel launches against repeated transient
// failure. A single flaky launch is logged and its frame dropped; launches
// that keep failing trip the guard open, and while it is open every launch
// is rejected for a cool-down period, so no kernels are submitted.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned while the guard is open and launches are rejected.
var ErrOpen = errors.New("resilience: launch guard is open")

// State represents the guard state.
type State int

const (
	// StateClosed lets launches through and counts failures.
	StateClosed State = iota
	// StateHalfOpen lets launches through after the cool-down; the next
	// recorded outcome closes the guard or opens it again.
	StateHalfOpen
	// StateOpen rejects launches until the cool-down elapses.
	StateOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures a launch guard.
type Settings struct {
	// TripAfter is the number of consecutive failures that opens the guard.
	TripAfter int
	// CoolDown is how long the guard stays open before probing again.
	CoolDown time.Duration
	// OnStateChange is invoked on every transition, if set.
	OnStateChange func(name string, from, to State)
}

// Guard implements the launch guard.
type Guard struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// New creates a guard with the given settings, applying defaults for unset
// fields (trip after 5 consecutive failures, 10 s cool-down).
func New(name string, settings Settings) *Guard {
	if settings.TripAfter == 0 {
		settings.TripAfter = 5
	}
	if settings.CoolDown == 0 {
		settings.CoolDown = 10 * time.Second
	}
	return &Guard{name: name, settings: settings}
}

// Name returns the guard name.
func (g *Guard) Name() string { return g.name }

// State returns the current state, accounting for an elapsed cool-down.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.currentState(time.Now())
}

// Execute runs launch if the guard admits it and records the outcome.
func (g *Guard) Execute(launch func() error) error {
	if err := g.admit(); err != nil {
		return err
	}
	err := launch()
	g.record(err == nil)
	return err
}

func (g *Guard) admit() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.currentState(time.Now()) == StateOpen {
		return ErrOpen
	}
	return nil
}

func (g *Guard) record(success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	state := g.currentState(now)
	if success {
		g.failures = 0
		if state == StateHalfOpen {
			g.setState(StateClosed, now)
		}
		return
	}

	g.failures++
	if state == StateHalfOpen || g.failures >= g.settings.TripAfter {
		g.setState(StateOpen, now)
	}
}

func (g *Guard) currentState(now time.Time) State {
	if g.state == StateOpen && now.Sub(g.openedAt) >= g.settings.CoolDown {
		g.setState(StateHalfOpen, now)
	}
	return g.state
}

func (g *Guard) setState(state State, now time.Time) {
	if g.state == state {
		return
	}
	prev := g.state
	g.state = state
	if state == StateOpen {
		g.openedAt = now
		g.failures = 0
	}
	if g.settings.OnStateChange != nil {
		g.settings.OnStateChange(g.name, prev, state)
	}
}
