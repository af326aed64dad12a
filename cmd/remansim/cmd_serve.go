package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"remansim/internal/metrics"
	"remansim/internal/protocol"
	"remansim/internal/sim/runner"
	"remansim/internal/sim/tuning"
	"remansim/internal/transport/observer"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		name        string
		addr        string
		tickRate    float64
		allowRemote bool
		linger      bool
		sf          scenarioFlags
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a scenario paced in wall-clock time and stream it to observers",
		Long: `Runs a scenario at --tick-rate simulated days per second and serves:
  GET /v1/bootstrap  run parameters and current day
  GET /v1/ws         websocket stream (SUBSCRIBE, then TICK per day and a final REPORT)
  GET /metrics       Prometheus metrics
  GET /healthz       liveness

The run is persisted like "remansim run". With --linger the server keeps
serving the final report until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tickRate <= 0 {
				return fmt.Errorf("--tick-rate must be > 0")
			}
			sc, err := a.loadScenario(name)
			if err != nil {
				return err
			}
			if err := sf.apply(cmd, &sc); err != nil {
				return err
			}
			cat, err := sc.Catalog()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runID := uuid.NewString()
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m, err := metrics.New(reg, runID, sc.Name)
			if err != nil {
				return err
			}

			obs := observer.NewServer(protocol.RunParams{
				RunID:         runID,
				Scenario:      sc.Name,
				Seed:          sc.Main.Seed,
				Population:    sc.Main.Population,
				Horizon:       sc.Main.SimulationLength,
				Reman:         sc.Main.EnableReman,
				DaysPerSecond: tickRate,
				CatalogDigest: cat.Digest,
			}, observer.Options{
				Logger:      a.log.Named("observer"),
				AllowRemote: allowRemote,
				Gatherer:    reg,
				Metrics:     m,
			})
			defer obs.Close()

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			srv := &http.Server{Handler: obs.Handler(), ReadHeaderTimeout: 5 * time.Second}
			serveErr := make(chan error, 1)
			go func() { serveErr <- srv.Serve(ln) }()
			a.log.Info("observer listening", zap.String("addr", ln.Addr().String()), zap.String("run_id", runID))
			fmt.Fprintf(cmd.OutOrStdout(), "serving run %s on http://%s\n", runID, ln.Addr())

			pace := time.Duration(float64(time.Second) / tickRate)
			res, _, runErr := a.executeRun(ctx, sc, runner.Options{RunID: runID, Pace: pace}, m, obs)
			if runErr == nil {
				if err := obs.Finish(res); err != nil {
					a.log.Warn("publish report", zap.Error(err))
				}
				if linger {
					select {
					case <-ctx.Done():
					case err := <-serveErr:
						runErr = err
					}
				}
			}
			if errors.Is(runErr, context.Canceled) {
				runErr = nil
			}

			obs.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.log.Warn("http shutdown", zap.Error(err))
			}
			if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
				return runErr
			}
			if runErr == nil && res.Days > 0 {
				printReport(cmd.OutOrStdout(), []runner.Result{res})
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "scenario", tuning.DefaultName, "scenario name")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().Float64Var(&tickRate, "tick-rate", 10, "simulated days per second")
	cmd.Flags().BoolVar(&allowRemote, "allow-remote", false, "accept observers from non-loopback addresses")
	cmd.Flags().BoolVar(&linger, "linger", false, "keep serving after the run completes until interrupted")
	sf.register(cmd)
	return cmd
}
