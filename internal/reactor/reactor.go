// Package reactor implements the single-threaded readiness-notification
// loop that multiplexes a listening socket, a control (shutdown) descriptor
// and N client streams (§4.9), grounded on the accept/dispatch/evict loop in
// rishavpaul-system-design/order-matching-engine/cmd/server/main.go's
// connection-handling goroutine, collapsed here onto a single goroutine
// driven by an ioiface.ReadinessMux rather than one goroutine per
// connection, and supervised with gopkg.in/tomb.v2 rather than the
// teacher's hand-rolled shutdown channel.
package reactor

import (
	"errors"

	"github.com/rs/zerolog"
	"gopkg.in/tomb.v2"

	"github.com/victorburckel/smallexchange/internal/ioiface"
	"github.com/victorburckel/smallexchange/internal/market"
	"github.com/victorburckel/smallexchange/internal/metrics"
	"github.com/victorburckel/smallexchange/internal/session"
	"github.com/victorburckel/smallexchange/internal/symbols"
	"github.com/victorburckel/smallexchange/internal/worker"
)

// ErrFatal wraps an error-flagged descriptor reported by the mux, which
// §4.9 treats as unconditionally fatal to the loop.
var ErrFatal = errors.New("reactor: error flag on descriptor")

// Reactor owns the registry mapping descriptor to session (§3's "Reactor
// registry"), plus the distinguished listener and control descriptors.
type Reactor struct {
	mux      ioiface.ReadinessMux
	listener ioiface.Listener
	control  ioiface.ControlSignal
	worker   *worker.Worker
	market   *market.Market
	symbols  *symbols.Set
	metrics  *metrics.Registry
	logger   zerolog.Logger

	registry map[int]*session.Session
	stop     bool

	t tomb.Tomb
}

// New constructs a Reactor. Call Run to start the loop (directly, or via
// Start for a supervised goroutine).
func New(mux ioiface.ReadinessMux, listener ioiface.Listener, control ioiface.ControlSignal, w *worker.Worker, mkt *market.Market, syms *symbols.Set, metricsReg *metrics.Registry, logger zerolog.Logger) *Reactor {
	return &Reactor{
		mux:      mux,
		listener: listener,
		control:  control,
		worker:   w,
		market:   mkt,
		symbols:  syms,
		metrics:  metricsReg,
		logger:   logger,
		registry: make(map[int]*session.Session),
	}
}

// Start registers the listener and control descriptors and runs the loop on
// a supervised goroutine (§5's thread R).
func (r *Reactor) Start() {
	r.t.Go(r.Run)
}

// Stop requests a graceful shutdown by signaling the control descriptor
// (§4.9, §5). The loop exits at the next iteration boundary.
func (r *Reactor) Stop() {
	_ = r.control.Signal(1)
}

// Wait blocks until the reactor's goroutine (started via Start) has exited.
func (r *Reactor) Wait() error {
	return r.t.Wait()
}

// Run executes the readiness loop until shutdown or a fatal error (§4.9).
// It registers the listener and control descriptors on entry.
func (r *Reactor) Run() error {
	if err := r.mux.Add(r.listener.FD(), ioiface.Readable); err != nil {
		return err
	}
	if err := r.mux.Add(r.control.FD(), ioiface.Readable); err != nil {
		return err
	}

	for !r.stop {
		events, err := r.mux.Wait()
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := r.dispatch(ev); err != nil {
				return err
			}
			if r.stop {
				break
			}
		}
	}
	return nil
}

func (r *Reactor) dispatch(ev ioiface.Event) error {
	if ev.Flags.Has(ioiface.ErrorFlag) {
		r.logger.Error().Int("fd", ev.FD).Msg("error flag reported by mux")
		return ErrFatal
	}

	switch {
	case ev.FD == r.control.FD():
		r.onControl()
	case ev.FD == r.listener.FD():
		r.onAccept()
	default:
		sess, ok := r.registry[ev.FD]
		if !ok {
			r.logger.Warn().Int("fd", ev.FD).Msg("unhandled")
			return nil
		}
		if ev.Flags.Has(ioiface.Readable) {
			r.onReadable(sess)
		}
		if ev.Flags.Has(ioiface.Writable) {
			sess.Strand().Post(sess.Flush)
		}
	}
	return nil
}

func (r *Reactor) onControl() {
	v, err := r.control.Read()
	if err != nil {
		r.logger.Error().Err(err).Msg("control signal read failed")
		return
	}
	if v == 1 {
		r.stop = true
	}
}

func (r *Reactor) onAccept() {
	stream, err := r.listener.Accept()
	if err == ioiface.ErrWouldBlock {
		return
	}
	if err != nil {
		r.logger.Error().Err(err).Msg("accept failed")
		return
	}

	fd := stream.FD()
	sess := session.New(stream, r.worker, r.market, r.symbols, r.metrics, r.mux, r.logger.With().Int("fd", fd).Logger())
	if err := r.mux.Add(fd, ioiface.Readable); err != nil {
		r.logger.Error().Err(err).Int("fd", fd).Msg("failed to register accepted stream")
		_ = stream.Close()
		return
	}
	r.registry[fd] = sess
	r.metrics.SessionsActive.Inc()
	r.logger.Info().Int("fd", fd).Msg("accepted connection")
}

func (r *Reactor) onReadable(sess *session.Session) {
	evicted, err := sess.OnReadable()
	if err != nil {
		r.logger.Error().Err(err).Int("fd", sess.FD()).Msg("fatal read error")
	}
	if evicted {
		r.evict(sess)
	}
}

// evict tears down a session (§4.9's "closing" transient state, §9's
// weak-back-reference discipline): the mux subscription and registry entry
// are removed immediately; DetachMux nils the session's back-reference so
// any strand-queued work still in flight no-ops its write-readiness update
// instead of touching a removed fd (I1, §5 Lifetime).
func (r *Reactor) evict(sess *session.Session) {
	fd := sess.FD()
	sess.DetachMux()
	if err := r.mux.Remove(fd); err != nil {
		r.logger.Error().Err(err).Int("fd", fd).Msg("failed to remove fd from mux")
	}
	delete(r.registry, fd)
	r.metrics.SessionsActive.Dec()
	_ = sess.Close()
	r.logger.Info().Int("fd", fd).Msg("evicted session")
}
