package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/arloliu/go-hislip/client"
	"github.com/arloliu/go-hislip/metrics"
)

const sessionName = "instrument"

func monitorCmd(opts *globalOptions) *cobra.Command {
	var (
		interval    time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Poll the status byte and serve session metrics",
		Long: `Poll the status byte of the instrument at a fixed interval until interrupted.

The session is reconnected after a fatal error. When --metrics-addr is set the
session counters are served in the Prometheus text format on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval <= 0 {
				return errors.New("interval must be positive")
			}

			ctx := cmd.Context()

			cfg, err := opts.sessionConfig()
			if err != nil {
				return err
			}

			s, err := client.NewSession(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = s.Disconnect() }()

			collector := metrics.NewCollector()
			collector.Register(sessionName, s)

			if metricsAddr != "" {
				srv, err := serveMetrics(metricsAddr, collector)
				if err != nil {
					return err
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				s.GetLogger().Info("serving metrics", "address", metricsAddr)
			}

			return monitor(ctx, s, interval, func(status uint8) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s stb=%d (0x%02X)\n", time.Now().Format(time.RFC3339), status, status)
			})
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "polling interval")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address of the metrics endpoint, e.g. :9464")

	return cmd
}

// monitor reads the status byte every interval until ctx is done. A session that is not ready
// is reconnected before the next read.
func monitor(ctx context.Context, s *client.Session, interval time.Duration, report func(status uint8)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if !s.State().IsReady() {
			if err := s.Reconnect(ctx, 0); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}

		status, err := s.ReadSTB()
		if err != nil {
			s.GetLogger().Warn("failed to read status byte", "error", err)
		} else {
			report(status)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func serveMetrics(addr string, collector prometheus.Collector) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collector); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on metrics address: %w", err)
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()

	return srv, nil
}
