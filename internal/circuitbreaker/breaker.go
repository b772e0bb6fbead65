// Package circuitbreaker guards outbound data-source calls with a per-host
// closed → open → half-open breaker.
package circuitbreaker

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // calls flow through
	StateOpen                  // calls are rejected
	StateHalfOpen              // one probe call in flight
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sentinel",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by source host, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(transitionsTotal)
}

// Settings configures a Breaker.
type Settings struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold int
	// OpenDuration is how long the circuit rejects calls before probing.
	OpenDuration time.Duration
}

// DefaultSettings trips after 5 straight failures and probes after 30s.
func DefaultSettings() Settings {
	return Settings{Threshold: 5, OpenDuration: 30 * time.Second}
}

type entry struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker tracks consecutive failures per key (one key per provider host).
type Breaker struct {
	mu       sync.Mutex
	entries  map[string]*entry
	settings Settings
	now      func() time.Time
}

// New creates a breaker. Non-positive settings fall back to DefaultSettings.
func New(s Settings) *Breaker {
	def := DefaultSettings()
	if s.Threshold <= 0 {
		s.Threshold = def.Threshold
	}
	if s.OpenDuration <= 0 {
		s.OpenDuration = def.OpenDuration
	}
	return &Breaker{
		entries:  make(map[string]*entry),
		settings: s,
		now:      time.Now,
	}
}

// Allow reports whether a call to key may proceed. An open circuit whose
// cool-down has elapsed moves to half-open and admits a single probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return true
	}

	switch e.state {
	case StateOpen:
		if b.now().Sub(e.lastFailure) >= b.settings.OpenDuration {
			b.transition(e, key, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return
	}
	if e.state == StateHalfOpen {
		b.transition(e, key, StateClosed)
	}
	e.failures = 0
}

// RecordFailure counts a failure, opening the circuit at the threshold or
// re-opening it when a half-open probe fails.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[key] = e
	}

	e.failures++
	e.lastFailure = b.now()

	switch {
	case e.state == StateHalfOpen:
		b.transition(e, key, StateOpen)
	case e.state == StateClosed && e.failures >= b.settings.Threshold:
		b.transition(e, key, StateOpen)
	}
}

// State returns the current state for key. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[key]; ok {
		return e.state
	}
	return StateClosed
}

// OpenKeys lists keys whose circuit is not closed, sorted.
func (b *Breaker) OpenKeys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var keys []string
	for k, e := range b.entries {
		if e.state != StateClosed {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// caller must hold b.mu
func (b *Breaker) transition(e *entry, key string, to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	transitionsTotal.WithLabelValues(key, from.String(), to.String()).Inc()
}
