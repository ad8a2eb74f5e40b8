// Package market implements the randomized background executor (§4.6): a
// single thread that wakes periodically, removes one random pending order,
// and invokes its completion callback. It is grounded on the side-table
// id-to-index idiom in
// rishavpaul-system-design/order-matching-engine/internal/disruptor/ring_buffer.go
// (there: sequence number -> slot; here: order id -> pending-slice index),
// and on that teacher's single-owner-mutation discipline in
// internal/matching/engine.go, re-targeted from deterministic price-time
// matching (a spec Non-goal) onto randomized, delay-then-fire execution.
package market

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/victorburckel/smallexchange/internal/codec"
)

// Completion is invoked, off the market's own goroutine's lock, once an
// order is chosen for execution.
type Completion func(codec.Order)

type entry struct {
	order      codec.Order
	completion Completion
}

// Market owns the pending-orders table and the background execution
// goroutine. The zero value is not usable; construct with New.
type Market struct {
	mu      sync.Mutex
	pending []entry
	index   map[string]int // order id -> index into pending

	minDelay, maxDelay time.Duration
	rng                *rand.Rand
	t                  tomb.Tomb
}

// Option configures a Market at construction time.
type Option func(*Market)

// WithDelayRange overrides the default 1-10 second uniform sleep window
// (§4.6), mainly so tests can run fast.
func WithDelayRange(min, max time.Duration) Option {
	return func(m *Market) { m.minDelay, m.maxDelay = min, max }
}

// WithRand overrides the random source, for deterministic tests.
func WithRand(r *rand.Rand) Option {
	return func(m *Market) { m.rng = r }
}

// New creates and starts a Market.
func New(opts ...Option) *Market {
	m := &Market{
		index:    make(map[string]int),
		minDelay: 1 * time.Second,
		maxDelay: 10 * time.Second,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.t.Go(m.run)
	return m
}

// Add appends a pending order with its completion callback. Duplicate ids
// are not checked at this layer — per §4.6, the session layer disallows
// them by construction (an id only reaches Add once, on first submission).
func (m *Market) Add(order codec.Order, completion Completion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index[order.ID] = len(m.pending)
	m.pending = append(m.pending, entry{order: order, completion: completion})
}

// Update overwrites the order in place (keeping its completion and index),
// reporting whether the id was known.
func (m *Market) Update(order codec.Order) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[order.ID]
	if !ok {
		return false
	}
	m.pending[i].order = order
	return true
}

// Cancel removes a pending order by id, reporting whether it was known.
//
// The teacher's equivalent "erase by shifting" leaves the index stale for
// every entry after the removed one (§4.6 "Invariant hazard", §9). This
// implementation fixes that with swap-remove (§9 option c): move the last
// entry into the erased slot, fix up that entry's index mapping, then
// truncate — both Add and Cancel stay O(1) and no index is ever stale.
func (m *Market) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[id]
	if !ok {
		return false
	}

	last := len(m.pending) - 1
	if i != last {
		m.pending[i] = m.pending[last]
		m.index[m.pending[i].order.ID] = i
	}
	m.pending = m.pending[:last]
	delete(m.index, id)
	return true
}

// run is the market's background goroutine: sleep a random duration,
// acquire the lock, pick a uniformly random pending entry, remove it, then
// invoke its completion outside the lock.
func (m *Market) run() error {
	for {
		delay := m.randomDelay()
		select {
		case <-time.After(delay):
		case <-m.t.Dying():
			return nil
		}

		chosen, ok := m.pickAndRemove()
		if !ok {
			continue
		}
		chosen.completion(chosen.order)
	}
}

func (m *Market) randomDelay() time.Duration {
	span := m.maxDelay - m.minDelay
	if span <= 0 {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(int64(span)))
}

func (m *Market) pickAndRemove() (entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.t.Dying():
		return entry{}, false
	default:
	}

	if len(m.pending) == 0 {
		return entry{}, false
	}

	i := int(m.rng.Float64() * float64(len(m.pending)))
	if i >= len(m.pending) {
		i = len(m.pending) - 1
	}

	chosen := m.pending[i]
	last := len(m.pending) - 1
	if i != last {
		m.pending[i] = m.pending[last]
		m.index[m.pending[i].order.ID] = i
	}
	m.pending = m.pending[:last]
	delete(m.index, chosen.order.ID)

	return chosen, true
}

// Stop signals the market's goroutine to stop; a sleep in progress is cut
// short rather than waited out.
func (m *Market) Stop() {
	m.t.Kill(nil)
}

// Wait blocks until the market's goroutine has exited.
func (m *Market) Wait() error {
	return m.t.Wait()
}

// Pending reports the current number of pending orders, for diagnostics.
func (m *Market) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// checkInvariant verifies that every id in the index map points at an
// entry that actually carries that id — used by tests asserting §8
// property #3. It is unexported, so only this package's own tests can call
// it and it is not part of the package's API surface.
func (m *Market) checkInvariant() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, i := range m.index {
		if i < 0 || i >= len(m.pending) {
			return fmt.Errorf("market: index for %q out of range: %d", id, i)
		}
		if m.pending[i].order.ID != id {
			return fmt.Errorf("market: index for %q points at %q", id, m.pending[i].order.ID)
		}
	}
	return nil
}
