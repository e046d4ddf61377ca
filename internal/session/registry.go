package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"finvue/internal/core"
	"finvue/internal/log"
	"finvue/internal/storage"

	"golang.org/x/sync/singleflight"
)

// Registry holds one Session per logged-in user for the current year.
type Registry struct {
	store  storage.RecordStore
	opts   Options
	logger *log.Logger

	group singleflight.Group

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(store storage.RecordStore, opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		store:    store,
		opts:     opts,
		logger:   opts.Logger,
		sessions: make(map[string]*Session),
	}
}

// Open returns the user's session, loading the current-year record on first
// use. Concurrent calls for the same user share one load.
func (r *Registry) Open(ctx context.Context, userID string) (*Session, error) {
	if s, ok := r.Get(userID); ok {
		return s, nil
	}

	v, err, _ := r.group.Do(userID, func() (any, error) {
		if s, ok := r.Get(userID); ok {
			return s, nil
		}
		s, err := r.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.sessions[userID] = s
		r.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (r *Registry) load(ctx context.Context, userID string) (*Session, error) {
	year := r.opts.Now().Year()
	rec, err := r.store.Load(ctx, userID, year)
	blocked := false
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		rec = core.Record{}
	case errors.Is(err, storage.ErrSetupRequired):
		r.logger.WarnContext(ctx, "Storage setup required, opening session with an empty record",
			log.FieldUserID, userID, log.FieldYear, year, log.FieldError, err)
		rec = core.Record{}
		blocked = true
	default:
		// Failing here keeps a later save from overwriting data we could not read.
		return nil, fmt.Errorf("load record for %s/%d: %w", userID, year, err)
	}

	r.logger.DebugContext(ctx, "Session opened", log.FieldUserID, userID, log.FieldYear, year)
	return New(userID, year, rec, r.store, blocked, r.opts), nil
}

// Get returns the user's open session. A session released by Close but not
// yet removed is not returned, so the next Open loads what Close saved.
func (r *Registry) Get(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok || s.Released() {
		return nil, false
	}
	return s, true
}

// Close flushes the user's session and forgets it once the flush succeeds.
// The session stays registered while saving, so an Open in the meantime
// shares it instead of loading a stale copy. On failure it stays registered
// with its edits and state.
func (r *Registry) Close(ctx context.Context, userID string) error {
	s, ok := r.Get(userID)
	if !ok {
		return nil
	}
	if err := s.Close(ctx); err != nil {
		return err
	}
	r.forget(s)
	return nil
}

// CloseAll flushes every open session; used at shutdown. Sessions that fail
// to flush stay registered.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", s.UserID(), err))
			continue
		}
		r.forget(s)
	}
	return errors.Join(errs...)
}

func (r *Registry) forget(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.UserID()] == s {
		delete(r.sessions, s.UserID())
	}
}

// Len reports the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
