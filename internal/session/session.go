// Package session keeps the working copy of a user's Financial Record and
// saves it in the background.
//
// Edits are applied in memory immediately and flushed to the store after a
// debounce window. A save rejected with storage.ErrSetupRequired blocks
// further automatic saves until Retry is called.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"finvue/internal/core"
	"finvue/internal/log"
	"finvue/internal/storage"

	"github.com/shopspring/decimal"
)

// DefaultDebounce is the delay between the last edit and the automatic save.
const DefaultDebounce = 2 * time.Second

// ErrClosed is returned by edits on a session released by a successful Close.
// The caller opens the user's session again and repeats the edit.
var ErrClosed = errors.New("session closed")

// State of the persistence state machine.
type State int

const (
	StateClean State = iota
	StateDirty
	StateSaving
	StateSetupRequired
)

func (s State) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateDirty:
		return "dirty"
	case StateSaving:
		return "saving"
	case StateSetupRequired:
		return "setup_required"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateClean, StateDirty, StateSaving, StateSetupRequired} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Status is a snapshot of a session's persistence state.
type Status struct {
	State        State     `json:"state"`
	LastError    string    `json:"lastError,omitempty"`
	Version      uint64    `json:"version"`
	SavedVersion uint64    `json:"savedVersion"`
	SavedAt      time.Time `json:"savedAt,omitzero"`
	Remediation  string    `json:"remediation,omitempty"`
}

// SavedFunc is notified after every successful save.
type SavedFunc func(ctx context.Context, userID string, year int, r core.Record)

// Options configure a Session. Zero values select defaults.
type Options struct {
	Debounce time.Duration
	OnSaved  SavedFunc
	Logger   *log.Logger
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.Logger == nil {
		o.Logger = log.FromContext(context.Background()).WithComponent(log.ComponentSession)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type aggregateKey struct {
	month  int
	period core.Period
}

type Session struct {
	userID string
	year   int
	store  storage.RecordStore
	opts   Options

	// saveMu serialises store writes; mu guards everything below.
	saveMu sync.Mutex

	mu           sync.Mutex
	record       core.Record
	state        State
	version      uint64
	savedVersion uint64
	blocked      bool
	lastErr      error
	savedAt      time.Time
	timer        *time.Timer
	closing      bool
	released     bool
	aggregates   map[aggregateKey]core.Aggregates
}

// New returns a clean session holding r. A blocked session starts in
// StateSetupRequired.
func New(userID string, year int, r core.Record, store storage.RecordStore, blocked bool, opts Options) *Session {
	s := &Session{
		userID: userID,
		year:   year,
		store:  store,
		opts:   opts.withDefaults(),
		record: r,
	}
	if blocked {
		s.blocked = true
		s.state = StateSetupRequired
		s.lastErr = storage.ErrSetupRequired
	}
	return s
}

func (s *Session) UserID() string { return s.userID }

func (s *Session) Year() int { return s.year }

// Record returns the current in-memory record.
func (s *Session) Record() core.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:        s.state,
		Version:      s.version,
		SavedVersion: s.savedVersion,
		SavedAt:      s.savedAt,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.state == StateSetupRequired || s.blocked {
		st.Remediation = storage.Remediation
	}
	return st
}

// SetMonthValue applies one edit and schedules an automatic save.
func (s *Session) SetMonthValue(f core.Field, month int, value decimal.Decimal) (core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return s.record, ErrClosed
	}
	next, err := core.SetMonthValue(s.record, f, month, value)
	if err != nil {
		return s.record, err
	}
	s.record = next
	s.version++
	s.aggregates = nil
	if s.state != StateSaving {
		s.state = StateDirty
	}
	s.scheduleLocked()
	return next, nil
}

// Aggregates returns the aggregation of the current record, memoised until
// the next edit.
func (s *Session) Aggregates(month int, p core.Period) (core.Aggregates, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := aggregateKey{month: month, period: p}
	if agg, ok := s.aggregates[key]; ok {
		return agg, nil
	}
	agg, err := core.Aggregate(s.record, month, p)
	if err != nil {
		return core.Aggregates{}, err
	}
	if s.aggregates == nil {
		s.aggregates = make(map[aggregateKey]core.Aggregates)
	}
	s.aggregates[key] = agg
	return agg, nil
}

// Flush saves pending edits synchronously. A blocked session is not written
// and reports storage.ErrSetupRequired.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()
	return s.save(ctx, false)
}

// Retry clears the setup-required block and saves immediately, even when
// nothing changed since the last attempt.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	s.blocked = false
	s.stopTimerLocked()
	s.mu.Unlock()
	return s.save(ctx, true)
}

// Close saves until no edit is pending and then releases the session. When a
// save fails the session is left open, keeping its record and state.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.stopTimerLocked()
	s.mu.Unlock()

	for {
		err := s.save(ctx, false)

		s.mu.Lock()
		if err == nil && s.blocked {
			err = fmt.Errorf("close skipped: %w", storage.ErrSetupRequired)
		}
		if err != nil {
			s.closing = false
			s.mu.Unlock()
			return err
		}
		if s.version == s.savedVersion {
			s.released = true
			s.mu.Unlock()
			return nil
		}
		// Edits arrived while the previous save was in flight.
		s.mu.Unlock()
	}
}

// Released reports whether Close completed.
func (s *Session) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *Session) scheduleLocked() {
	if s.closing || s.released {
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.opts.Debounce, s.autosave)
		return
	}
	s.timer.Reset(s.opts.Debounce)
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (s *Session) autosave() {
	s.mu.Lock()
	if s.closing || s.released {
		s.mu.Unlock()
		return
	}
	if s.blocked {
		s.state = StateSetupRequired
		s.mu.Unlock()
		s.opts.Logger.Debug("Automatic save skipped, storage setup required",
			log.FieldUserID, s.userID, log.FieldYear, s.year)
		return
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.save(ctx, false); err != nil && !errors.Is(err, storage.ErrSetupRequired) {
		s.opts.Logger.Warn("Automatic save failed",
			log.FieldUserID, s.userID, log.FieldYear, s.year, log.FieldError, err)
	}
}

func (s *Session) save(ctx context.Context, force bool) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if !force && s.version == s.savedVersion {
		if !s.blocked {
			s.state = StateClean
		}
		s.mu.Unlock()
		return nil
	}
	if s.blocked {
		s.state = StateSetupRequired
		s.mu.Unlock()
		return fmt.Errorf("save skipped: %w", storage.ErrSetupRequired)
	}
	rec, version := s.record, s.version
	s.state = StateSaving
	s.mu.Unlock()

	err := s.store.Save(ctx, s.userID, s.year, rec)

	s.mu.Lock()
	switch {
	case err == nil:
		s.savedVersion = version
		s.savedAt = s.opts.Now()
		s.lastErr = nil
		if s.version == version {
			s.state = StateClean
		} else {
			s.state = StateDirty
		}
	case errors.Is(err, storage.ErrSetupRequired):
		s.blocked = true
		s.lastErr = err
		s.state = StateSetupRequired
	default:
		s.lastErr = err
		s.state = StateDirty
	}
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, storage.ErrSetupRequired) {
			s.opts.Logger.Warn("Storage setup required, automatic saves paused",
				log.FieldUserID, s.userID, log.FieldYear, s.year, log.FieldError, err)
		}
		return fmt.Errorf("save record: %w", err)
	}
	if s.opts.OnSaved != nil {
		s.opts.OnSaved(ctx, s.userID, s.year, rec)
	}
	return nil
}
