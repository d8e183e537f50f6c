// Command tick runs one compute/publish tick of the realm ledger and exits.
// It is meant to be driven by an external scheduler passing an incrementing step.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"realm-ledger/internal/app"
	"realm-ledger/internal/config"
	"realm-ledger/internal/logging"
)

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
	stepFlag = &cli.IntFlag{
		Name:  "step",
		Usage: "tick step index; claims and pushes run when step is a multiple of tick.claims_every",
		Value: 0,
	}
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "print the tick result as JSON",
	}
)

func main() {
	a := &cli.App{
		Name:   "tick",
		Usage:  "compute stake and claims roots and publish them on-chain",
		Flags:  []cli.Flag{configFlag, envFileFlag, stepFlag, jsonFlag},
		Action: runTick,
		Before: func(c *cli.Context) error {
			app.LoadEnvFile(c.String(envFileFlag.Name))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "apply the embedded storage migrations",
				Action: runMigrate,
			},
			{
				Name:   "checksum",
				Usage:  "print the realm registry checksum",
				Action: runChecksum,
			},
		},
	}

	if err := a.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.LoadAndValidate(c.String(configFlag.Name))
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runTick(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	ledger, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer ledger.Close()

	step := c.Int(stepFlag.Name)
	result, err := ledger.Orchestrator.Tick(ctx, step)
	if err != nil {
		return err
	}

	if c.Bool(jsonFlag.Name) {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	}

	entry := log.WithFields(logrus.Fields{
		"runId":    result.RunID,
		"step":     result.Step,
		"duration": result.Duration,
		"pushes":   len(result.Pushes),
	})
	if !result.OK() {
		entry.WithField("errors", result.Errors).Error("tick finished with errors")
		return cli.Exit("tick failed", 1)
	}
	entry.Info("tick finished")
	return nil
}

func runMigrate(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	if cfg.Storage.Backend == config.BackendMemory && cfg.Storage.ClickhouseDSN == "" {
		log.Info("memory backend configured, nothing to migrate")
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()

	_, cleanup, err := app.CreateStores(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	cleanup()
	log.WithField("backend", cfg.Storage.Backend).Info("migrations applied")
	return nil
}

func runChecksum(c *cli.Context) error {
	cfg, err := config.LoadAndValidate(c.String(configFlag.Name))
	if err != nil {
		return err
	}
	reg, err := config.LoadRegistry(cfg.RealmsFile)
	if err != nil {
		return err
	}
	fmt.Println(reg.Checksum())
	return nil
}
