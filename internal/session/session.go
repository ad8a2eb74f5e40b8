// Package session implements the per-connection state machine, message
// dispatch and write queue (§4.7, §4.8). It is grounded on the
// risk-check-then-submit-then-respond request lifecycle of
// rishavpaul-system-design/order-matching-engine/cmd/server/main.go's
// handleOrder/handleCancel handlers, re-expressed as a strand-serialized
// line-protocol handler instead of an HTTP handler, and on
// internal/risk/checker.go's CheckResult (accept/reject) shape for the
// ok/rejected responses.
package session

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/victorburckel/smallexchange/internal/codec"
	"github.com/victorburckel/smallexchange/internal/framer"
	"github.com/victorburckel/smallexchange/internal/ioiface"
	"github.com/victorburckel/smallexchange/internal/market"
	"github.com/victorburckel/smallexchange/internal/metrics"
	"github.com/victorburckel/smallexchange/internal/strand"
	"github.com/victorburckel/smallexchange/internal/symbols"
	"github.com/victorburckel/smallexchange/internal/worker"
)

// State is the connection's position in the connected -> identified state
// machine (§4.9). A third, transient "closing" state exists only as an
// action (evict), not as stored state, since a closing session is removed
// from the registry rather than left around to observe.
type State int

const (
	StateConnected State = iota
	StateIdentified
)

// MuxController is the subset of ioiface.ReadinessMux a session needs to
// change its own write-readiness subscription (§4.8). Depending on this
// narrow interface, rather than the full ReadinessMux, keeps the
// session/mux back-reference honest about what it actually uses.
type MuxController interface {
	Modify(fd int, flags ioiface.Flag) error
}

// Session holds all state associated with one accepted client connection
// (§3). Every field except mux is confined to strand-posted closures (or,
// for the read path, to the single reactor goroutine) by construction —
// no per-session mutex is needed for them (§4.5, §5).
type Session struct {
	fd      int
	stream  ioiface.Stream
	strand  *strand.Strand
	market  *market.Market
	symbols *symbols.Set
	metrics *metrics.Registry
	logger  zerolog.Logger
	framer  *framer.Framer

	// Strand-confined state.
	state       State
	name        string
	outstanding map[string]codec.Order
	writeQueue  []byte

	// mux is a non-owning, possibly-nil back-reference (§9): the reactor
	// clears it on eviction so late-running strand closures harmlessly
	// no-op their write-readiness update instead of touching a torn-down
	// mux. Guarded separately from strand confinement because it is
	// written from the reactor goroutine and read from worker goroutine
	// closures.
	muxGuard muxRef
}

type muxRef struct {
	mu  sync.Mutex
	mux MuxController
}

// New creates a session for a freshly accepted stream. w is the shared
// worker the session's strand dispatches onto.
func New(stream ioiface.Stream, w *worker.Worker, mkt *market.Market, syms *symbols.Set, metricsReg *metrics.Registry, mux MuxController, logger zerolog.Logger) *Session {
	s := &Session{
		fd:          stream.FD(),
		stream:      stream,
		market:      mkt,
		symbols:     syms,
		metrics:     metricsReg,
		logger:      logger,
		framer:      framer.New(),
		state:       StateConnected,
		name:        "unidentified",
		outstanding: make(map[string]codec.Order),
	}
	s.strand = strand.New(w)
	s.muxGuard.mux = mux
	return s
}

// FD returns the descriptor this session is keyed by (§3).
func (s *Session) FD() int { return s.fd }

// Strand exposes the session's strand so the reactor can post write-flush
// work without the session needing reactor-side types.
func (s *Session) Strand() *strand.Strand { return s.strand }

// DetachMux clears the weak mux back-reference on eviction (§9).
func (s *Session) DetachMux() {
	s.muxGuard.mu.Lock()
	s.muxGuard.mux = nil
	s.muxGuard.mu.Unlock()
}

// Close releases the underlying stream. Called by the reactor once a
// session has been evicted from the registry and the mux.
func (s *Session) Close() error {
	return s.stream.Close()
}

func (s *Session) modify(flags ioiface.Flag) {
	s.muxGuard.mu.Lock()
	m := s.muxGuard.mux
	s.muxGuard.mu.Unlock()
	if m == nil {
		return
	}
	_ = m.Modify(s.fd, flags)
}

// OnReadable drains the socket into the line framer and posts one handler
// closure per extracted message onto the session's strand (§4.7). It
// returns evicted=true if the peer closed or a fatal read error occurred.
func (s *Session) OnReadable() (evicted bool, err error) {
	var scratch [4096]byte
	for {
		n, rerr := s.stream.Read(scratch[:])
		if rerr == ioiface.ErrWouldBlock {
			return false, nil
		}
		if rerr == ioiface.ErrPeerClosed {
			return true, nil
		}
		if rerr != nil {
			return true, rerr
		}

		for _, msg := range s.framer.Feed(scratch[:n]) {
			msg := msg
			s.strand.Post(func() { s.handleMessage(msg) })
		}
	}
}

// Flush is posted to the strand in response to a writable readiness event
// (§4.8, §5 canonical design: "the reactor's on_write becomes
// strand.post(flush)"). It always attempts to drain the queue, regardless
// of whether it was empty beforehand.
func (s *Session) Flush() {
	wasEmpty := len(s.writeQueue) == 0
	s.trySend()
	s.reconcileSubscription(wasEmpty)
}

// Write appends data to the write queue (§4.8). If the queue was empty
// before this call, an immediate send is attempted as a fast path;
// otherwise the data waits behind existing backlog for the next writable
// event to drain via Flush.
func (s *Session) Write(data []byte) {
	wasEmpty := len(s.writeQueue) == 0
	s.writeQueue = append(s.writeQueue, data...)
	if wasEmpty {
		s.trySend()
	}
	s.reconcileSubscription(wasEmpty)
}

func (s *Session) trySend() {
	if len(s.writeQueue) == 0 {
		return
	}
	n, err := s.stream.Write(s.writeQueue)
	if err != nil {
		if err != ioiface.ErrWouldBlock {
			s.logger.Error().Err(err).Int("fd", s.fd).Msg("fatal write error")
		}
		return
	}
	s.writeQueue = s.writeQueue[n:]
}

// reconcileSubscription implements §4.8's mux-flag state machine:
// empty -> non-empty adds Writable; non-empty -> empty drops it; any other
// transition leaves the subscription untouched (invariant I2).
func (s *Session) reconcileSubscription(wasEmpty bool) {
	isEmpty := len(s.writeQueue) == 0
	switch {
	case wasEmpty && !isEmpty:
		s.modify(ioiface.Readable | ioiface.Writable)
	case !wasEmpty && isEmpty:
		s.modify(ioiface.Readable)
	}
}

// handleMessage interprets one framed line against the shared server state
// and the market (§4.7). Always runs on the session's strand.
func (s *Session) handleMessage(msg string) {
	switch {
	case strings.HasPrefix(msg, "id"):
		s.onID(msg[len("id"):])
	case strings.HasPrefix(msg, "order"):
		s.onOrder(msg[len("order"):])
	case strings.HasPrefix(msg, "cancel"):
		s.onCancel(msg[len("cancel"):])
	case msg == "listorders":
		s.onListOrders()
	case msg == "listsymbols":
		s.onListSymbols()
	default:
		s.logger.Info().Str("client", s.name).Str("message", msg).Msg("ignoring unrecognized message")
	}
}

func (s *Session) onID(name string) {
	s.name = name
	s.state = StateIdentified
}

func (s *Session) onOrder(record string) {
	order, err := codec.Parse([]byte(record))
	if err != nil {
		s.logger.Error().Err(err).Str("client", s.name).Msg("malformed order, ignoring")
		return
	}
	if s.state != StateIdentified {
		s.logger.Error().Str("client", s.name).Msg("order from unidentified session, ignoring")
		return
	}

	existing, known := s.outstanding[order.ID]
	if !known {
		s.symbols.Add(order.Symbol)
		s.market.Add(order, s.completion(order.ID))
		s.outstanding[order.ID] = order
		s.metrics.OrdersTotal.Inc()
		s.Write([]byte("ok\n"))
		return
	}

	if existing.Side != order.Side || existing.Symbol != order.Symbol {
		s.metrics.RejectsTotal.Inc()
		s.Write([]byte("rejected\n"))
		return
	}

	if s.market.Update(order) {
		s.outstanding[order.ID] = order
		s.Write([]byte("ok\n"))
		return
	}

	s.metrics.RejectsTotal.Inc()
	s.Write([]byte("rejected\n"))
}

// completion is invoked by the market (off the session's strand) once the
// order fires; it re-enters the strand to keep outstanding/write_queue
// mutation single-threaded (§4.7 point 2, §5).
func (s *Session) completion(id string) market.Completion {
	return func(codec.Order) {
		s.strand.Post(func() {
			delete(s.outstanding, id)
			s.metrics.ExecutionsTotal.Inc()
			s.Write([]byte("exec" + id + "\n"))
		})
	}
}

func (s *Session) onCancel(id string) {
	if _, known := s.outstanding[id]; !known {
		s.logger.Info().Str("client", s.name).Str("order_id", id).Msg("cancel for unknown order id")
		s.metrics.RejectsTotal.Inc()
		s.Write([]byte("rejected\n"))
		return
	}

	if s.market.Cancel(id) {
		delete(s.outstanding, id)
		s.metrics.CancelsTotal.Inc()
		s.Write([]byte("ok\n"))
		return
	}

	s.metrics.RejectsTotal.Inc()
	s.Write([]byte("rejected\n"))
}

func (s *Session) onListOrders() {
	ids := make([]string, 0, len(s.outstanding))
	for id := range s.outstanding {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s.Write([]byte(codec.Format(s.outstanding[id]) + "\n"))
	}
}

func (s *Session) onListSymbols() {
	s.symbols.Each(func(sym string) {
		s.Write([]byte(sym + "\n"))
	})
}
