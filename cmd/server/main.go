// Command server serves the realm ledger read API and, with --schedule, runs
// ticks in-process on a ticker or on new chain heads.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"realm-ledger/internal/api"
	"realm-ledger/internal/app"
	"realm-ledger/internal/chain"
	"realm-ledger/internal/config"
	"realm-ledger/internal/logging"
)

const shutdownTimeout = 30 * time.Second

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to the YAML config file",
		EnvVars: []string{"LEDGER_CONFIG"},
	}
	envFileFlag = &cli.StringFlag{
		Name:  "env-file",
		Usage: "environment file loaded before the config",
		Value: ".env",
	}
	addrFlag = &cli.StringFlag{
		Name:  "addr",
		Usage: "HTTP listen address (overrides server.addr)",
	}
	scheduleFlag = &cli.BoolFlag{
		Name:  "schedule",
		Usage: "run ticks in-process using tick.trigger",
	}
	startStepFlag = &cli.IntFlag{
		Name:  "start-step",
		Usage: "step index of the first scheduled tick",
		Value: 0,
	}
)

func main() {
	a := &cli.App{
		Name:   "server",
		Usage:  "serve stake and claims results and proofs",
		Flags:  []cli.Flag{configFlag, envFileFlag, addrFlag, scheduleFlag, startStepFlag},
		Action: run,
		Before: func(c *cli.Context) error {
			app.LoadEnvFile(c.String(envFileFlag.Name))
			return nil
		},
	}

	if err := a.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.LoadAndValidate(c.String(configFlag.Name))
	if err != nil {
		return err
	}
	if addr := c.String(addrFlag.Name); addr != "" {
		cfg.Server.Addr = addr
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		stores    *app.Stores
		scheduler *Scheduler
		closeAll  func()
	)
	if c.Bool(scheduleFlag.Name) {
		ledger, err := app.Build(ctx, cfg, log)
		if err != nil {
			return err
		}
		stores, closeAll = ledger.Stores, ledger.Close
		scheduler = NewScheduler(ledger.Orchestrator, c.Int(startStepFlag.Name), log)
	} else {
		stores, closeAll, err = app.CreateStores(ctx, cfg.Storage, log)
		if err != nil {
			return err
		}
	}
	defer closeAll()

	apiOpts := api.Options{
		Stakes:         stores.Stakes,
		Claims:         stores.Claims,
		Pushes:         stores.Pushes,
		Archive:        stores.Archive,
		ProofCacheSize: cfg.Server.ProofCacheSize,
		Logger:         log,
	}
	if scheduler != nil {
		apiOpts.Scheduler = scheduler.Status
	}
	srv, err := api.New(apiOpts)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	defer close(done)
	go handleSignals(cancel, done, log)

	errCh := make(chan error, 2)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if scheduler != nil {
		go func() {
			if err := runScheduler(ctx, cfg, scheduler, log); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("scheduler: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-errCh:
		log.WithError(err).Error("component failed, shutting down")
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		log.WithError(shutdownErr).Warn("http shutdown")
	}
	log.Info("shutdown complete")
	return err
}

func runScheduler(ctx context.Context, cfg *config.Config, s *Scheduler, log *logrus.Logger) error {
	if cfg.Tick.Trigger != config.TriggerHeads {
		return s.RunTicker(ctx, cfg.Tick.Interval.Duration)
	}

	watcher, err := chain.NewHeadWatcher(ctx, cfg.Chain.WSURL, nil, log)
	if err != nil {
		return err
	}
	defer watcher.Close()
	return s.RunHeads(ctx, watcher.Heads(), cfg.Tick.HeadsEvery)
}

// handleSignals cancels on the first SIGINT/SIGTERM and force-exits on a
// second signal or when shutdown outlasts shutdownTimeout.
func handleSignals(cancel context.CancelFunc, done <-chan struct{}, log *logrus.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("initiating graceful shutdown")
		cancel()
	case <-done:
		return
	}

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Warn("second signal, forcing exit")
		os.Exit(1)
	case <-time.After(shutdownTimeout):
		log.Error("graceful shutdown timed out, forcing exit")
		os.Exit(1)
	case <-done:
	}
}
