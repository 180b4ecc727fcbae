package quota

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultMaxUses is the rolling daily allowance.
	DefaultMaxUses = 3
	// DefaultWindow is how long a use counts against the allowance.
	DefaultWindow = 24 * time.Hour

	// StateKey is the fixed storage key holding the persisted state.
	StateKey = "emojilens.quota"
)

// Storage is the persistence capability the tracker writes through. The
// second return of Get reports whether the key existed.
type Storage interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
}

// State is the persisted counter. Invariant: 0 <= UsedCount <= MaxUses.
type State struct {
	UsedCount int       `json:"usedCount"`
	ResetAt   time.Time `json:"resetAt"`
}

// Tracker gates how often an interpretation may be started. Advisory and
// client-local: nothing here stops the server from being called directly.
type Tracker struct {
	store   Storage
	maxUses int
	window  time.Duration
	now     func() time.Time
}

// Option adjusts a Tracker.
type Option func(*Tracker)

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLimits overrides the allowance and reset window.
func WithLimits(maxUses int, window time.Duration) Option {
	return func(t *Tracker) {
		if maxUses > 0 {
			t.maxUses = maxUses
		}
		if window > 0 {
			t.window = window
		}
	}
}

func NewTracker(store Storage, opts ...Option) *Tracker {
	t := &Tracker{
		store:   store,
		maxUses: DefaultMaxUses,
		window:  DefaultWindow,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MaxUses returns the configured allowance.
func (t *Tracker) MaxUses() int { return t.maxUses }

// load reads persisted state and applies the passive reset check without
// writing the reset back.
func (t *Tracker) load() (State, error) {
	raw, ok, err := t.store.Get(StateKey)
	if err != nil {
		return State{}, errors.Wrap(err, "load quota state")
	}
	if !ok {
		return State{}, nil
	}

	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		// Corrupt state resets the counter rather than locking the user out.
		return State{}, nil
	}
	if !s.ResetAt.IsZero() && !t.now().Before(s.ResetAt) {
		return State{}, nil
	}
	if s.UsedCount < 0 {
		s.UsedCount = 0
	}
	if s.UsedCount > t.maxUses {
		s.UsedCount = t.maxUses
	}
	return s, nil
}

func (t *Tracker) save(s State) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode quota state")
	}
	return errors.Wrap(t.store.Put(StateKey, raw), "save quota state")
}

// CanUse reports whether another interpretation is allowed right now.
func (t *Tracker) CanUse() (bool, error) {
	s, err := t.load()
	if err != nil {
		return false, err
	}
	return s.UsedCount < t.maxUses, nil
}

// Remaining returns how many uses are left and when the window resets. A
// zero reset time means no use has started the window yet.
func (t *Tracker) Remaining() (int, time.Time, error) {
	s, err := t.load()
	if err != nil {
		return 0, time.Time{}, err
	}
	return t.maxUses - s.UsedCount, s.ResetAt, nil
}

// RecordUse persists one more use and returns the remaining count. Called
// only after a completed interpretation; failed or aborted attempts must not
// consume quota. The count clamps at the allowance.
func (t *Tracker) RecordUse() (int, error) {
	s, err := t.load()
	if err != nil {
		return 0, err
	}
	if s.UsedCount == 0 || s.ResetAt.IsZero() {
		s.ResetAt = t.now().Add(t.window)
	}
	if s.UsedCount < t.maxUses {
		s.UsedCount++
	}
	if err := t.save(s); err != nil {
		return 0, err
	}
	return t.maxUses - s.UsedCount, nil
}

// Reset zeroes the counter immediately, independent of the time window.
func (t *Tracker) Reset() error {
	return t.save(State{})
}
