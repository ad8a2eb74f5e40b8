// Command exchanged runs the line-oriented exchange server: the reactor,
// worker, and market wired together and driven to completion (§6),
// grounded on the flag-parse-then-construct-then-signal-wait shape of
// rishavpaul-system-design/order-matching-engine/cmd/server/main.go, with
// log.Printf/log.Fatalf swapped for zerolog and the graceful-shutdown
// context swapped for a control-eventfd signal plus a tomb.v2 supervision
// tree (§5).
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/victorburckel/smallexchange/internal/ioiface"
	"github.com/victorburckel/smallexchange/internal/market"
	"github.com/victorburckel/smallexchange/internal/metrics"
	"github.com/victorburckel/smallexchange/internal/reactor"
	"github.com/victorburckel/smallexchange/internal/symbols"
	"github.com/victorburckel/smallexchange/internal/worker"
)

var version = "dev"

func main() {
	port := flag.Int("port", 9090, "TCP port to listen on")
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus metrics on (disabled if empty)")
	logLevel := flag.String("log-level", "info", "zerolog level: debug, info, warn, error")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "exchanged: invalid -log-level %q: %v\n", *logLevel, err)
		os.Exit(1)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	if err := run(*port, *metricsAddr, logger); err != nil {
		logger.Error().Err(err).Msg("exchanged exiting with error")
		os.Exit(1)
	}
}

func run(port int, metricsAddr string, logger zerolog.Logger) error {
	listener, err := ioiface.ListenTCP(port)
	if err != nil {
		return fmt.Errorf("listen on :%d: %w", port, err)
	}
	defer listener.Close()

	mux, err := ioiface.NewEpollMux()
	if err != nil {
		return fmt.Errorf("create readiness mux: %w", err)
	}
	defer mux.Close()

	control, err := ioiface.NewEventfdSignal()
	if err != nil {
		return fmt.Errorf("create control signal: %w", err)
	}
	defer control.Close()

	w := worker.New()
	mkt := market.New()
	syms := symbols.New()
	metricsReg := metrics.New()

	// §4.10: the metrics endpoint is a separate plain net/http listener, not
	// wired into the reactor's own epoll mux — promhttp's handler blocks on
	// its own goroutine and has no business sharing the reactor's readiness
	// loop.
	var metricsSrv *http.Server
	if metricsAddr != "" {
		mh := http.NewServeMux()
		mh.Handle("/metrics", promhttp.HandlerFor(metricsReg.Gatherer(), promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: mh}
		go func() {
			logger.Info().Str("addr", metricsAddr).Msg("serving metrics")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	r := reactor.New(mux, listener, control, w, mkt, syms, metricsReg, logger)
	r.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		r.Stop()
	}()

	logger.Info().Int("port", port).Msg("exchanged listening")
	reactorErr := r.Wait()

	w.Stop()
	mkt.Stop()
	if metricsSrv != nil {
		_ = metricsSrv.Close()
	}
	workerErr := w.Wait()
	marketErr := mkt.Wait()

	// §5: the root waits on all three supervised threads; any non-nil
	// terminal error aborts the process with a non-zero exit code, the
	// reactor's error taking priority since it is what stopped the loop.
	if reactorErr != nil {
		return reactorErr
	}
	if workerErr != nil {
		return workerErr
	}
	return marketErr
}
