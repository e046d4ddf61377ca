package advisor

import (
	"context"
	"errors"
	"sync"
)

var errSuperseded = errors.New("superseded by a newer request")

// Request kinds tracked for supersession.
const (
	kindAdvice  = "advice"
	kindOutlook = "outlook"
	kindChat    = "chat"
	kindVision  = "vision"
)

type flightKey struct {
	userID string
	kind   string
}

type flight struct {
	id     uint64
	cancel context.CancelCauseFunc
}

// flights cancels the in-flight request of a kind when the same user starts
// a newer one.
type flights struct {
	mu     sync.Mutex
	next   uint64
	active map[flightKey]flight
}

func newFlights() *flights {
	return &flights{active: make(map[flightKey]flight)}
}

// start registers a request and returns its context plus a done func that
// releases it and reports whether a newer request cancelled it.
func (f *flights) start(parent context.Context, userID, kind string) (context.Context, func() bool) {
	ctx, cancel := context.WithCancelCause(parent)
	key := flightKey{userID: userID, kind: kind}

	f.mu.Lock()
	f.next++
	id := f.next
	if prev, ok := f.active[key]; ok {
		prev.cancel(errSuperseded)
	}
	f.active[key] = flight{id: id, cancel: cancel}
	f.mu.Unlock()

	return ctx, func() bool {
		f.mu.Lock()
		if cur, ok := f.active[key]; ok && cur.id == id {
			delete(f.active, key)
		}
		f.mu.Unlock()
		superseded := errors.Is(context.Cause(ctx), errSuperseded)
		cancel(nil)
		return superseded
	}
}

func (f *flights) inflight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}
