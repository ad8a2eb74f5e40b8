package session

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorburckel/smallexchange/internal/ioiface"
	"github.com/victorburckel/smallexchange/internal/market"
	"github.com/victorburckel/smallexchange/internal/metrics"
	"github.com/victorburckel/smallexchange/internal/symbols"
	"github.com/victorburckel/smallexchange/internal/worker"
)

type fakeMux struct {
	mu   sync.Mutex
	seen []ioiface.Flag
}

func (f *fakeMux) Modify(fd int, flags ioiface.Flag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, flags)
	return nil
}

func (f *fakeMux) last() ioiface.Flag {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.seen) == 0 {
		return 0
	}
	return f.seen[len(f.seen)-1]
}

func newTestSession(t *testing.T, stream *ioiface.FakeStream, mux MuxController) (*Session, *worker.Worker) {
	t.Helper()
	w := worker.New()
	mkt := market.New(market.WithDelayRange(time.Hour, time.Hour))
	syms := symbols.New()
	mr := metrics.New()
	logger := zerolog.Nop()
	s := New(stream, w, mkt, syms, mr, mux, logger)
	t.Cleanup(func() {
		w.Stop()
		_ = w.Wait()
		mkt.Stop()
		_ = mkt.Wait()
	})
	return s, w
}

func drainStrand(t *testing.T, s *Session) {
	t.Helper()
	done := make(chan struct{})
	s.Strand().Post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("strand never drained")
	}
}

func TestHappyOrderFlow(t *testing.T) {
	// S1/S4: idclient_id then an order yields exactly one "ok\n".
	stream := ioiface.NewFakeStream(7)
	mux := &fakeMux{}
	s, _ := newTestSession(t, stream, mux)

	stream.Feed([]byte("idclient_id\norder1234 BTCUSDT+001000010000\n"))
	evicted, err := s.OnReadable()
	require.NoError(t, err)
	require.False(t, evicted)

	drainStrand(t, s)
	assert.Equal(t, "ok\n", string(stream.Written()))
}

func TestOrderFromUnidentifiedSessionIsIgnored(t *testing.T) {
	stream := ioiface.NewFakeStream(7)
	mux := &fakeMux{}
	s, _ := newTestSession(t, stream, mux)

	stream.Feed([]byte("order1234 BTCUSDT+001000010000\n"))
	_, err := s.OnReadable()
	require.NoError(t, err)
	drainStrand(t, s)

	assert.Empty(t, stream.Written())
}

func TestListOrdersAndListSymbols(t *testing.T) {
	stream := ioiface.NewFakeStream(7)
	mux := &fakeMux{}
	s, _ := newTestSession(t, stream, mux)

	stream.Feed([]byte("idbob\norder1234 BTCUSDT+001000010000\n"))
	_, err := s.OnReadable()
	require.NoError(t, err)
	drainStrand(t, s)
	stream.Written() // discard the "ok\n"

	stream.Feed([]byte("listorders\n"))
	_, err = s.OnReadable()
	require.NoError(t, err)
	drainStrand(t, s)
	assert.Equal(t, "1234 BTCUSDT+001000010000\n", string(stream.Written()))

	stream.Feed([]byte("listsymbols\n"))
	_, err = s.OnReadable()
	require.NoError(t, err)
	drainStrand(t, s)
	assert.Equal(t, " BTCUSDT\n", string(stream.Written()))
}

func TestDuplicateOrderSameShapeUpdatesAndAcks(t *testing.T) {
	stream := ioiface.NewFakeStream(7)
	mux := &fakeMux{}
	s, _ := newTestSession(t, stream, mux)

	stream.Feed([]byte("idbob\norder1234 BTCUSDT+001000010000\n"))
	_, _ = s.OnReadable()
	drainStrand(t, s)
	stream.Written()

	// §8 property #8: identical order id+side+symbol resubmission is an
	// update attempt, not a second add.
	stream.Feed([]byte("order1234 BTCUSDT+001000020000\n"))
	_, _ = s.OnReadable()
	drainStrand(t, s)
	assert.Equal(t, "ok\n", string(stream.Written()))
}

func TestDuplicateOrderDifferentShapeRejected(t *testing.T) {
	stream := ioiface.NewFakeStream(7)
	mux := &fakeMux{}
	s, _ := newTestSession(t, stream, mux)

	stream.Feed([]byte("idbob\norder1234 BTCUSDT+001000010000\n"))
	_, _ = s.OnReadable()
	drainStrand(t, s)
	stream.Written()

	stream.Feed([]byte("order1234 BTCUSDT-001000010000\n")) // side flipped
	_, _ = s.OnReadable()
	drainStrand(t, s)
	assert.Equal(t, "rejected\n", string(stream.Written()))
}

func TestCancelUnknownIdIsRejectedIdempotently(t *testing.T) {
	stream := ioiface.NewFakeStream(7)
	mux := &fakeMux{}
	s, _ := newTestSession(t, stream, mux)

	stream.Feed([]byte("idbob\ncancelABCD\n"))
	_, _ = s.OnReadable()
	drainStrand(t, s)
	assert.Equal(t, "rejected\n", string(stream.Written()))

	stream.Feed([]byte("cancelABCD\n"))
	_, _ = s.OnReadable()
	drainStrand(t, s)
	assert.Equal(t, "rejected\n", string(stream.Written()))
}

func TestCancelKnownIdSucceeds(t *testing.T) {
	stream := ioiface.NewFakeStream(7)
	mux := &fakeMux{}
	s, _ := newTestSession(t, stream, mux)

	stream.Feed([]byte("idbob\norder1234 BTCUSDT+001000010000\ncancel1234\n"))
	_, _ = s.OnReadable()
	drainStrand(t, s)
	assert.Equal(t, "ok\nok\n", string(stream.Written()))
}

func TestPartialWriteTogglesWritableFlag(t *testing.T) {
	// Scenario S3: a write that's a strict prefix of the payload enables
	// Writable; a subsequent flush that drains the remainder disables it.
	stream := ioiface.NewFakeStream(7)
	stream.SetMaxWrite(1)
	mux := &fakeMux{}
	s, _ := newTestSession(t, stream, mux)

	done := make(chan struct{})
	s.Strand().Post(func() {
		s.Write([]byte("ok\n"))
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	assert.Equal(t, ioiface.Readable|ioiface.Writable, mux.last())
	assert.Equal(t, "o", string(stream.Written()))

	stream.SetMaxWrite(0)
	drainStrand2 := make(chan struct{})
	s.Strand().Post(func() {
		s.Flush()
		close(drainStrand2)
	})
	select {
	case <-drainStrand2:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	assert.Equal(t, ioiface.Readable, mux.last())
}

func TestPeerCloseEvictsSession(t *testing.T) {
	// §8 property #9.
	stream := ioiface.NewFakeStream(7)
	stream.CloseFromPeer()
	mux := &fakeMux{}
	s, _ := newTestSession(t, stream, mux)

	evicted, err := s.OnReadable()
	require.NoError(t, err)
	assert.True(t, evicted)
}
