package flightsql

import (
	"errors"
	"sync"
	"time"

	"duckframe/pkg/duckframe"
)

const (
	ticketIdle  = 5 * time.Minute
	ticketSweep = 30 * time.Second
)

var errTicketsClosed = errors.New("server is shutting down")

type parkedResult struct {
	batches *duckframe.Batches
	parked  time.Time
}

// ticketStore holds collected results between GetFlightInfo and DoGet.
// Results nobody fetches within ticketIdle are released.
type ticketStore struct {
	now func() time.Time

	mu        sync.Mutex
	results   map[string]parkedResult
	lastSweep time.Time
	closed    bool
}

func newTicketStore() *ticketStore {
	return &ticketStore{now: time.Now, results: make(map[string]parkedResult)}
}

// put parks batches under handle. After close the batches are released and
// put fails.
func (t *ticketStore) put(handle string, batches *duckframe.Batches) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		batches.Release()
		return errTicketsClosed
	}
	now := t.now()
	t.sweepLocked(now)
	t.results[handle] = parkedResult{batches: batches, parked: now}
	return nil
}

// take removes and returns the batches parked under handle. The caller owns
// them.
func (t *ticketStore) take(handle string) (*duckframe.Batches, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked(t.now())
	r, ok := t.results[handle]
	if !ok {
		return nil, false
	}
	delete(t.results, handle)
	return r.batches, true
}

// sweepLocked releases expired results at most once per sweep interval.
func (t *ticketStore) sweepLocked(now time.Time) {
	if now.Sub(t.lastSweep) <= ticketSweep {
		return
	}
	for handle, r := range t.results {
		if now.Sub(r.parked) > ticketIdle {
			r.batches.Release()
			delete(t.results, handle)
		}
	}
	t.lastSweep = now
}

// close releases every parked result.
func (t *ticketStore) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for handle, r := range t.results {
		r.batches.Release()
		delete(t.results, handle)
	}
	t.closed = true
}

func (t *ticketStore) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.results)
}
