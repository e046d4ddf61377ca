package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"finvue/internal/core"
	"finvue/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDebounce = 20 * time.Millisecond

type fakeStore struct {
	mu       sync.Mutex
	attempts int
	saved    []core.Record
	saveErr  error
	loadRec  core.Record
	loadErr  error
	gate     chan struct{}
	started  chan struct{}
}

func (f *fakeStore) Load(context.Context, string, int) (core.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadRec, f.loadErr
}

func (f *fakeStore) Save(_ context.Context, _ string, _ int, r core.Record) error {
	f.mu.Lock()
	f.attempts++
	gate, started := f.gate, f.started
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, r)
	return nil
}

func (f *fakeStore) setErr(err error) {
	f.mu.Lock()
	f.saveErr = err
	f.mu.Unlock()
}

func (f *fakeStore) counts() (attempts, saved int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts, len(f.saved)
}

func (f *fakeStore) last() core.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[len(f.saved)-1]
}

func newTestSession(store *fakeStore, opts Options) *Session {
	if opts.Debounce == 0 {
		opts.Debounce = testDebounce
	}
	return New("u1", 2026, core.Record{}, store, false, opts)
}

func amount(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestBurstOfEditsProducesOneSave(t *testing.T) {
	store := &fakeStore{}
	s := newTestSession(store, Options{})

	for m := 0; m < 5; m++ {
		_, err := s.SetMonthValue(core.IncomeFixed, m, amount(int64(1000+m)))
		require.NoError(t, err)
	}
	assert.Equal(t, StateDirty, s.Status().State)

	require.Eventually(t, func() bool { return s.Status().State == StateClean }, time.Second, 5*time.Millisecond)
	time.Sleep(3 * testDebounce)

	attempts, saved := store.counts()
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, saved)
	assert.True(t, store.last().Income.Fixed[4].Equal(amount(1004)))

	st := s.Status()
	assert.Equal(t, uint64(5), st.Version)
	assert.Equal(t, uint64(5), st.SavedVersion)
	assert.False(t, st.SavedAt.IsZero())
	assert.Empty(t, st.LastError)
}

func TestSetupRequiredBlocksAutomaticSavesUntilRetry(t *testing.T) {
	store := &fakeStore{saveErr: &storage.SetupError{Backend: "test", Reason: "missing index"}}
	s := newTestSession(store, Options{})

	_, err := s.SetMonthValue(core.ExpenseCreditCard, 2, amount(500))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Status().State == StateSetupRequired }, time.Second, 5*time.Millisecond)

	st := s.Status()
	assert.NotEmpty(t, st.LastError)
	assert.Equal(t, storage.Remediation, st.Remediation)
	assert.True(t, s.Record().Expenses.CreditCard[2].Equal(amount(500)), "local record must survive the failure")

	// Further edits mark the session dirty but never reach the store.
	_, err = s.SetMonthValue(core.ExpenseCreditCard, 3, amount(700))
	require.NoError(t, err)
	assert.Equal(t, StateDirty, s.Status().State)
	require.Eventually(t, func() bool { return s.Status().State == StateSetupRequired }, time.Second, 5*time.Millisecond)
	time.Sleep(3 * testDebounce)

	attempts, _ := store.counts()
	assert.Equal(t, 1, attempts)

	err = s.Flush(context.Background())
	assert.ErrorIs(t, err, storage.ErrSetupRequired)
	attempts, _ = store.counts()
	assert.Equal(t, 1, attempts, "flush must not write while blocked")

	// Retry while still unprovisioned fails again and stays blocked.
	err = s.Retry(context.Background())
	assert.ErrorIs(t, err, storage.ErrSetupRequired)
	assert.Equal(t, StateSetupRequired, s.Status().State)

	store.setErr(nil)
	require.NoError(t, s.Retry(context.Background()))

	st = s.Status()
	assert.Equal(t, StateClean, st.State)
	assert.Empty(t, st.Remediation)
	attempts, saved := store.counts()
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, saved)
	assert.True(t, store.last().Expenses.CreditCard[3].Equal(amount(700)))
}

func TestTransientErrorLeavesSessionDirty(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("connection reset")}
	s := newTestSession(store, Options{})

	_, err := s.SetMonthValue(core.IncomeExtra, 0, amount(10))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Status().LastError != "" }, time.Second, 5*time.Millisecond)

	st := s.Status()
	assert.Equal(t, StateDirty, st.State)
	assert.Contains(t, st.LastError, "connection reset")
	assert.Empty(t, st.Remediation)

	time.Sleep(3 * testDebounce)
	attempts, _ := store.counts()
	assert.Equal(t, 1, attempts, "transient failures are not retried on a timer")

	store.setErr(nil)
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, StateClean, s.Status().State)
	assert.Empty(t, s.Status().LastError)
}

func TestEditsDuringSaveKeepSessionDirty(t *testing.T) {
	store := &fakeStore{gate: make(chan struct{}), started: make(chan struct{}, 4)}
	s := newTestSession(store, Options{})

	_, err := s.SetMonthValue(core.IncomeFixed, 0, amount(1))
	require.NoError(t, err)

	select {
	case <-store.started:
	case <-time.After(time.Second):
		t.Fatal("save did not start")
	}
	assert.Equal(t, StateSaving, s.Status().State)

	_, err = s.SetMonthValue(core.IncomeFixed, 1, amount(2))
	require.NoError(t, err)
	assert.Equal(t, StateSaving, s.Status().State)

	store.gate <- struct{}{}
	// The second save is already queued behind the first.
	select {
	case <-store.started:
	case <-time.After(time.Second):
		t.Fatal("second save did not start")
	}
	store.gate <- struct{}{}

	require.Eventually(t, func() bool { return s.Status().State == StateClean }, time.Second, 5*time.Millisecond)
	_, saved := store.counts()
	assert.Equal(t, 2, saved)
	assert.True(t, store.last().Income.Fixed[1].Equal(amount(2)))
}

func TestInvalidEditDoesNotChangeVersion(t *testing.T) {
	s := newTestSession(&fakeStore{}, Options{Debounce: time.Hour})

	_, err := s.SetMonthValue(core.IncomeFixed, 12, amount(1))
	assert.ErrorIs(t, err, core.ErrInvalidMonth)
	assert.Equal(t, uint64(0), s.Status().Version)
	assert.Equal(t, StateClean, s.Status().State)

	r, err := s.SetMonthValue(core.IncomeFixed, 0, amount(-50))
	require.NoError(t, err)
	assert.True(t, r.Income.Fixed[0].IsZero())
}

func TestAggregatesMemoisedUntilEdit(t *testing.T) {
	s := newTestSession(&fakeStore{}, Options{Debounce: time.Hour})

	a1, err := s.Aggregates(0, core.FullYear)
	require.NoError(t, err)
	assert.True(t, a1.Annual.Gross.IsZero())

	_, err = s.SetMonthValue(core.IncomeFixed, 0, amount(100))
	require.NoError(t, err)

	a2, err := s.Aggregates(0, core.FullYear)
	require.NoError(t, err)
	assert.True(t, a2.Annual.Gross.Equal(amount(100)))

	_, err = s.Aggregates(0, core.Period{Start: 3, End: 1})
	assert.ErrorIs(t, err, core.ErrInvalidPeriod)
}

func TestOnSavedHook(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []int
	)
	store := &fakeStore{}
	s := newTestSession(store, Options{
		Debounce: time.Hour,
		OnSaved: func(_ context.Context, userID string, year int, r core.Record) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, "u1", userID)
			calls = append(calls, year)
		},
	})

	_, err := s.SetMonthValue(core.ExpenseWeekly, 4, amount(80))
	require.NoError(t, err)
	require.NoError(t, s.Flush(context.Background()))
	// Nothing changed, so no second save and no second notification.
	require.NoError(t, s.Flush(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2026}, calls)
}

func TestStateMarshalsAsText(t *testing.T) {
	b, err := StateSetupRequired.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "setup_required", string(b))

	var st State
	require.NoError(t, st.UnmarshalText([]byte("saving")))
	assert.Equal(t, StateSaving, st)
	assert.Error(t, st.UnmarshalText([]byte("paused")))
}
