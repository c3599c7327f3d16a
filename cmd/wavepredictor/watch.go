package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/wavepredictor/boatrace"
	"github.com/wavepredictor/boatrace/pkg/refresh"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		manual      bool
		venue       string
		race        int
		interval    time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep venues and the selected race card up to date",
		Long: `Loads system status, venues and today's races, then refreshes on a timer
(automatic mode) or whenever a line is entered (manual mode).

Commands read from stdin:
  <enter>               refresh now
  select <venue> <race> watch a race card
  clear                 stop watching a race card
  quit                  exit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := a.cfg.RefreshConfig()
			if err != nil {
				return err
			}
			if manual {
				rc.Mode = refresh.Manual
			}
			if interval > 0 {
				rc.Mode = refresh.Automatic
				rc.Interval = interval
				rc.CronSpec = ""
			}
			if !cmd.Flags().Changed("metrics-addr") {
				metricsAddr = a.cfg.Metrics.Listen
			}

			session := refresh.NewSession()
			if venue != "" || race != 0 {
				if err := boatrace.ValidateRace(venue, race); err != nil {
					return err
				}
				session.Select(refresh.Selection{VenueCode: venue, RaceNumber: race})
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := &watcher{
				logger:  a.logger,
				out:     cmd.OutOrStdout(),
				session: session,
			}
			return w.run(ctx, a, rc, metricsAddr, cmd.InOrStdin())
		},
	}

	cmd.Flags().BoolVar(&manual, "manual", false, "refresh only on request")
	cmd.Flags().StringVar(&venue, "venue", "", "venue code to watch (01-24)")
	cmd.Flags().IntVar(&race, "race", 0, "race number to watch (1-12)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "automatic refresh interval, overrides the config")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

type watcher struct {
	logger  zerolog.Logger
	session *refresh.Session

	mu  sync.Mutex
	out io.Writer
}

func (w *watcher) run(ctx context.Context, a *app, rc refresh.Config, metricsAddr string, stdin io.Reader) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	conn := boatrace.NewConnectivity(true)
	client := a.client(
		boatrace.WithConnectivity(conn),
		boatrace.WithMetrics(boatrace.NewMetrics(reg)),
	)

	if a.cfg.Connectivity.ProbeInterval > 0 {
		prober, err := boatrace.NewProber(conn, a.cfg.API.BaseURL, a.cfg.Connectivity.ProbeInterval, w.logger)
		if err != nil {
			return err
		}
		go prober.Run(ctx)
	}

	if metricsAddr != "" {
		srv := w.serveMetrics(metricsAddr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	coord, err := refresh.New(
		refresh.NewDataLoader(client, w.logger),
		rc,
		refresh.WithLogger(w.logger),
		refresh.WithMetrics(refresh.NewMetrics(reg)),
		refresh.WithSession(w.session),
	)
	if err != nil {
		return err
	}

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for res := range coord.Results() {
			w.print(res)
		}
	}()
	defer func() {
		coord.Stop()
		<-printed
	}()

	w.logger.Info().Str("base_url", a.cfg.API.BaseURL).Str("mode", rc.Mode.String()).Msg("Watching.")
	if err := coord.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, refresh.ErrInitFailed) {
			return err
		}
		w.logger.Error().Err(err).Msg("Initial load failed. Press enter to retry.")
	}

	lines := make(chan string)
	go func(lines chan<- string) {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}(lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if rc.Mode == refresh.Manual {
					return nil
				}
				// Keep running on the timer without stdin.
				lines = nil
				continue
			}
			quit, err := w.handle(ctx, coord, line)
			if err != nil {
				w.write(func(out io.Writer) { fmt.Fprintln(out, err) })
				continue
			}
			if quit {
				return nil
			}
		}
	}
}

// handle runs one stdin command and reports whether to quit.
func (w *watcher) handle(ctx context.Context, coord *refresh.Coordinator, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		w.print(coord.Refresh(ctx))
		return false, nil
	}

	switch fields[0] {
	case "q", "quit", "exit":
		return true, nil
	case "r", "refresh":
	case "clear":
		w.session.Clear()
	case "select":
		if len(fields) != 3 {
			return false, errors.New("usage: select <venue> <race>")
		}
		race, err := strconv.Atoi(fields[2])
		if err != nil {
			return false, fmt.Errorf("race must be a number: %w", err)
		}
		if err := boatrace.ValidateRace(fields[1], race); err != nil {
			return false, err
		}
		w.session.Select(refresh.Selection{VenueCode: fields[1], RaceNumber: race})
	default:
		return false, fmt.Errorf("unknown command %q", fields[0])
	}
	w.print(coord.Refresh(ctx))
	return false, nil
}

func (w *watcher) print(res refresh.Result) {
	w.write(func(out io.Writer) {
		if err := renderResult(out, res, w.session.Last()); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to render refresh result.")
		}
	})
}

func (w *watcher) write(fn func(io.Writer)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(w.out)
}

func (w *watcher) serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed.")
		}
	}()
	w.logger.Info().Str("addr", addr).Msg("Serving metrics.")
	return srv
}
