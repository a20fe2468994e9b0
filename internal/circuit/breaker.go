// Package circuit implements a per-DAL-location circuit breaker so a
// resource-manager pass degrades gracefully when one storage node goes
// unreachable, instead of retrying every object against it (spec.md
// §4.3, ambient domain-stack component 12 of SPEC_FULL.md).
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/marfs-core/marfs/pkg/marfserr"
)

// State is the breaker's current mode.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config tunes one breaker's tripping and recovery behavior.
type Config struct {
	// MaxRequests is the number of probe requests allowed through while
	// half-open.
	MaxRequests uint32

	// Interval is how long the closed state accumulates counts before
	// they reset; zero counts never expire.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration

	// ReadyToTrip decides, from the running counts, whether a closed
	// breaker should open. Defaults to "at least 10 requests and at
	// least half failed".
	ReadyToTrip func(counts Counts) bool

	// IsSuccessful classifies an error as a breaker failure. Defaults to
	// treating nil and any non-retryable marfserr error as success, so
	// permission/validation errors never trip the breaker for an
	// otherwise-healthy endpoint; retryable marfserr errors and errors
	// of any other type count as failures.
	IsSuccessful func(err error) bool

	// OnStateChange is an optional hook for logging/metrics.
	OnStateChange func(name string, from, to State)
}

func (c *Config) withDefaults() {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ReadyToTrip == nil {
		c.ReadyToTrip = defaultReadyToTrip
	}
	if c.IsSuccessful == nil {
		c.IsSuccessful = defaultIsSuccessful
	}
}

func defaultReadyToTrip(counts Counts) bool {
	return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
}

func defaultIsSuccessful(err error) bool {
	if err == nil {
		return true
	}
	if me, ok := err.(*marfserr.Error); ok {
		return !me.Retryable
	}
	return false
}

// Counts tracks the running request tally within the current window.
type Counts struct {
	Requests             uint32
	TotalSuccesses        uint32
	TotalFailures         uint32
	ConsecutiveSuccesses  uint32
	ConsecutiveFailures   uint32
	LastActivity          time.Time
}

func (c *Counts) onRequest() {
	c.Requests++
	c.LastActivity = time.Now()
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() { *c = Counts{} }

// ErrOpen is returned by Execute when the breaker is open.
var ErrOpen = marfserr.New(marfserr.InternalError, "circuit breaker open")

// ErrTooManyProbes is returned when half-open and the probe quota is spent.
var ErrTooManyProbes = marfserr.New(marfserr.InternalError, "circuit breaker half-open: probe quota spent")

// Breaker guards calls against one named resource (typically a DAL
// location's endpoint identity).
type Breaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// New returns a breaker for name, starting closed.
func New(name string, config Config) *Breaker {
	config.withDefaults()
	return &Breaker{name: name, config: config, state: StateClosed, expiry: time.Now().Add(config.Interval)}
}

// Execute runs fn if the breaker allows it, recording the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.currentStateLocked(now)
	if state == StateOpen {
		return ErrOpen
	}
	if state == StateHalfOpen && b.counts.Requests >= b.config.MaxRequests {
		return ErrTooManyProbes
	}
	b.counts.onRequest()
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.currentStateLocked(now)
	if b.config.IsSuccessful(err) {
		b.counts.onSuccess()
		if state == StateHalfOpen {
			b.setStateLocked(StateClosed, now)
		}
		return
	}
	b.counts.onFailure()
	switch state {
	case StateClosed:
		if b.config.ReadyToTrip(b.counts) {
			b.setStateLocked(StateOpen, now)
		}
	case StateHalfOpen:
		b.setStateLocked(StateOpen, now)
	}
}

func (b *Breaker) currentStateLocked(now time.Time) State {
	switch b.state {
	case StateClosed:
		if b.config.Interval > 0 && !b.expiry.IsZero() && b.expiry.Before(now) {
			b.counts.clear()
			b.expiry = now.Add(b.config.Interval)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setStateLocked(StateHalfOpen, now)
		}
	}
	return b.state
}

func (b *Breaker) setStateLocked(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.counts.clear()
	switch state {
	case StateClosed:
		b.expiry = now.Add(b.config.Interval)
	case StateOpen:
		b.expiry = now.Add(b.config.Timeout)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, prev, state)
	}
}

// State reports the breaker's current mode, applying any due transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked(time.Now())
}

// Counts returns a snapshot of the current window's tally.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset forces the breaker back to closed, clearing counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts.clear()
	b.setStateLocked(StateClosed, time.Now())
}

// Manager owns one Breaker per DAL location, created lazily.
type Manager struct {
	mu       sync.RWMutex
	config   Config
	breakers map[string]*Breaker
}

// NewManager returns a Manager that creates breakers with config on first
// use per location name.
func NewManager(config Config) *Manager {
	return &Manager{config: config, breakers: map[string]*Breaker{}}
}

// Get returns the breaker for name, creating it if this is the first call.
func (m *Manager) Get(name string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}
	b = New(name, m.config)
	m.breakers[name] = b
	return b
}

// OpenLocations returns the names of every currently-open breaker, used
// by the health reporter to flag unreachable DAL endpoints.
func (m *Manager) OpenLocations() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var open []string
	for name, b := range m.breakers {
		if b.State() == StateOpen {
			open = append(open, name)
		}
	}
	return open
}

// HealthCheck returns a non-nil error summarizing every open breaker,
// used as the resource manager's own "am I degraded" gate.
func (m *Manager) HealthCheck() error {
	open := m.OpenLocations()
	if len(open) == 0 {
		return nil
	}
	return marfserr.Newf(marfserr.InternalError, "circuit breakers open: %v", open)
}
