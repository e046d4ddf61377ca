package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"finvue/internal/core"
	"finvue/internal/storage"
	"finvue/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time { return time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC) }

func TestRegistryOpenLoadsCurrentYear(t *testing.T) {
	rec, _ := core.SetMonthValue(core.Record{}, core.IncomeFixed, 0, amount(5000))
	store := &fakeStore{loadRec: rec}
	reg := NewRegistry(store, Options{Debounce: time.Hour, Now: fixedNow})

	s, err := reg.Open(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2026, s.Year())
	assert.True(t, s.Record().Income.Fixed[0].Equal(amount(5000)))
	assert.Equal(t, StateClean, s.Status().State)

	again, err := reg.Open(context.Background(), "u1")
	require.NoError(t, err)
	assert.Same(t, s, again)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryOpenConcurrentCallsShareSession(t *testing.T) {
	reg := NewRegistry(&fakeStore{loadErr: storage.ErrNotFound}, Options{Debounce: time.Hour, Now: fixedNow})

	var wg sync.WaitGroup
	got := make([]*Session, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := reg.Open(context.Background(), "u1")
			assert.NoError(t, err)
			got[i] = s
		}(i)
	}
	wg.Wait()
	for _, s := range got[1:] {
		assert.Same(t, got[0], s)
	}
	assert.True(t, got[0].Record().IsZero())
}

func TestRegistryOpenSetupRequired(t *testing.T) {
	store := &fakeStore{loadErr: &storage.SetupError{Backend: "test", Reason: "missing table"}}
	reg := NewRegistry(store, Options{Debounce: testDebounce, Now: fixedNow})

	s, err := reg.Open(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, StateSetupRequired, s.Status().State)
	assert.True(t, s.Record().IsZero())

	_, err = s.SetMonthValue(core.IncomeFixed, 0, amount(1))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Status().State == StateSetupRequired }, time.Second, 5*time.Millisecond)
	attempts, _ := store.counts()
	assert.Zero(t, attempts)
}

func TestRegistryOpenFailsOnLoadError(t *testing.T) {
	reg := NewRegistry(&fakeStore{loadErr: errors.New("timeout")}, Options{Now: fixedNow})

	_, err := reg.Open(context.Background(), "u1")
	require.Error(t, err)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryCloseFlushesPendingEdits(t *testing.T) {
	store := &fakeStore{loadErr: storage.ErrNotFound}
	reg := NewRegistry(store, Options{Debounce: time.Hour, Now: fixedNow})

	s, err := reg.Open(context.Background(), "u1")
	require.NoError(t, err)
	_, err = s.SetMonthValue(core.ExpenseButcher, 6, amount(120))
	require.NoError(t, err)

	require.NoError(t, reg.Close(context.Background(), "u1"))
	_, saved := store.counts()
	assert.Equal(t, 1, saved)
	assert.Equal(t, 0, reg.Len())

	// Closing an unknown user is a no-op.
	assert.NoError(t, reg.Close(context.Background(), "nobody"))
}

func TestRegistryCloseAllReportsBlockedSessions(t *testing.T) {
	store := &fakeStore{loadErr: storage.ErrNotFound}
	reg := NewRegistry(store, Options{Debounce: time.Hour, Now: fixedNow})

	a, err := reg.Open(context.Background(), "a")
	require.NoError(t, err)
	b, err := reg.Open(context.Background(), "b")
	require.NoError(t, err)

	_, _ = a.SetMonthValue(core.IncomeFixed, 0, amount(1))
	_, _ = b.SetMonthValue(core.IncomeFixed, 0, amount(2))
	store.setErr(&storage.SetupError{Backend: "test", Reason: "missing index"})

	err = reg.CloseAll(context.Background())
	assert.ErrorIs(t, err, storage.ErrSetupRequired)
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, StateSetupRequired, a.Status().State)
	assert.True(t, b.Record().Income.Fixed[0].Equal(amount(2)))
}

func TestRegistryCloseKeepsSessionWhenSetupRequired(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(memory.NewUnprovisioned(), Options{Debounce: time.Hour, Now: fixedNow})

	s, err := reg.Open(ctx, "u1")
	require.NoError(t, err)
	_, err = s.SetMonthValue(core.IncomeFixed, 0, amount(5000))
	require.NoError(t, err)
	require.ErrorIs(t, s.Flush(ctx), storage.ErrSetupRequired)

	assert.ErrorIs(t, reg.Close(ctx, "u1"), storage.ErrSetupRequired)
	assert.Equal(t, 1, reg.Len())

	reopened, err := reg.Open(ctx, "u1")
	require.NoError(t, err)
	assert.Same(t, s, reopened)
	assert.Equal(t, StateSetupRequired, reopened.Status().State)
	assert.True(t, reopened.Record().Income.Fixed[0].Equal(amount(5000)))

	// The session is still usable after the failed close.
	_, err = reopened.SetMonthValue(core.IncomeExtra, 0, amount(10))
	require.NoError(t, err)
	assert.Equal(t, storage.Remediation, reopened.Status().Remediation)
}

func TestRegistryCloseTransientFailureKeepsEdits(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{loadErr: storage.ErrNotFound}
	reg := NewRegistry(store, Options{Debounce: time.Hour, Now: fixedNow})

	s, err := reg.Open(ctx, "u1")
	require.NoError(t, err)
	_, err = s.SetMonthValue(core.ExpenseWeekly, 3, amount(80))
	require.NoError(t, err)

	store.setErr(errors.New("connection reset"))
	require.Error(t, reg.Close(ctx, "u1"))
	assert.Equal(t, StateDirty, s.Status().State)

	store.setErr(nil)
	require.NoError(t, reg.Close(ctx, "u1"))
	assert.Equal(t, 0, reg.Len())
	assert.True(t, store.last().Expenses.Weekly[3].Equal(amount(80)))
}

func TestRegistryOpenDuringCloseSharesSession(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{loadErr: storage.ErrNotFound}
	reg := NewRegistry(store, Options{Debounce: time.Hour, Now: fixedNow})

	s, err := reg.Open(ctx, "u1")
	require.NoError(t, err)
	_, err = s.SetMonthValue(core.IncomeFixed, 0, amount(5000))
	require.NoError(t, err)

	gate := make(chan struct{})
	store.mu.Lock()
	store.gate, store.started = gate, make(chan struct{}, 2)
	store.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- reg.Close(ctx, "u1") }()
	<-store.started

	during, err := reg.Open(ctx, "u1")
	require.NoError(t, err)
	assert.Same(t, s, during)
	assert.True(t, during.Record().Income.Fixed[0].Equal(amount(5000)))
	_, err = during.SetMonthValue(core.IncomeExtra, 0, amount(700))
	require.NoError(t, err)

	close(gate)
	require.NoError(t, <-done)

	_, saved := store.counts()
	assert.Equal(t, 2, saved)
	last := store.last()
	assert.True(t, last.Income.Fixed[0].Equal(amount(5000)))
	assert.True(t, last.Income.Extra[0].Equal(amount(700)))
	assert.Equal(t, 0, reg.Len())
	assert.True(t, s.Released())

	_, err = s.SetMonthValue(core.IncomeFixed, 1, amount(1))
	assert.ErrorIs(t, err, ErrClosed)

	next, err := reg.Open(ctx, "u1")
	require.NoError(t, err)
	assert.NotSame(t, s, next)
}
