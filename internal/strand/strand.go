// Package strand implements the per-client serializer layered on the
// shared Worker (§4.5). This is the core algorithm the spec names
// explicitly ("Strand maintains its own FIFO queue..."); it has no direct
// analogue in the teacher repo and is hand-built per the spec's algorithm,
// using the lock-protected queue-state-transition idiom seen throughout
// rishavpaul-system-design/order-matching-engine/internal/disruptor (e.g.
// sequencer.go's claim-then-publish pattern) as the closest stylistic
// model for "mutate shared queue state under a lock, then act outside it".
package strand

import (
	"sync"

	"github.com/victorburckel/smallexchange/internal/worker"
)

// Poster is the subset of Worker a Strand depends on. Depending on this
// interface rather than *worker.Worker directly lets tests exercise the
// strand's queue algorithm over a mock worker (§8, "Strand property"),
// without dispatching onto a real background goroutine.
type Poster interface {
	Post(worker.Closure)
}

// Strand serializes execution of posted closures on top of a shared
// Worker: no two closures posted to the same Strand ever run concurrently,
// even though the Worker itself may be shared by many Strands.
type Strand struct {
	mu     sync.Mutex
	queue  []worker.Closure
	worker Poster
}

// New returns a Strand that dispatches onto w.
func New(w Poster) *Strand {
	return &Strand{worker: w}
}

// Post enqueues fn for this strand. If the strand was idle, fn becomes the
// next (and only) thing submitted to the shared worker for this strand;
// otherwise it waits behind whatever is already queued.
func (s *Strand) Post(fn worker.Closure) {
	s.mu.Lock()
	wasEmpty := len(s.queue) == 0
	s.queue = append(s.queue, fn)
	s.mu.Unlock()

	if wasEmpty {
		s.worker.Post(s.dispatchHead)
	}
}

// dispatchHead runs the current head of the queue, then advances. It is the
// wrapper submitted to the shared worker in place of the raw closure, so
// the strand can chain the next item after this one completes.
func (s *Strand) dispatchHead() {
	s.mu.Lock()
	fn := s.queue[0]
	s.mu.Unlock()

	fn()

	s.advance()
}

// advance pops the just-completed head and, if the queue is non-empty,
// submits the new head's wrapper to the worker.
func (s *Strand) advance() {
	s.mu.Lock()
	s.queue = s.queue[1:]
	empty := len(s.queue) == 0
	s.mu.Unlock()

	if !empty {
		s.worker.Post(s.dispatchHead)
	}
}
