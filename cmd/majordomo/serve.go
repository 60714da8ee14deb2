package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/majordomohq/majordomo/pkg/config"
	"github.com/majordomohq/majordomo/pkg/runtime"
)

// ServeCmd starts the orchestrator and blocks until a signal or a
// listener error.
type ServeCmd struct {
	Port  int  `help:"Override the configured listen port."`
	Watch bool `help:"Watch the configuration source and apply safe changes without a restart."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, loader, err := loadConfig(cli, c.Watch)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Stop()
	}
	if c.Watch && loader == nil {
		slog.Warn("--watch needs --config, running without it")
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	rt, err := runtime.New(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}

	if c.Watch && loader != nil {
		loader.SetOnChange(rt.Apply)
	}

	printEndpoints(cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- rt.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-errCh:
	case sig := <-sigCh:
		slog.Info("Shutting down", "signal", sig.String())
	}
	return errors.Join(runErr, rt.Close())
}

func printEndpoints(cfg *config.Config) {
	addr := cfg.Server.Address()
	fmt.Printf("majordomo ready\n")
	fmt.Printf("  RPC:        http://%s/\n", addr)
	fmt.Printf("  Agent card: http://%s%s\n", addr, cfg.Server.CardPath)
	fmt.Printf("  Directory:  http://%s/v1/agents\n", addr)
	fmt.Printf("  Health:     http://%s/health\n", addr)
	if cfg.Observability.Metrics.IsEnabled() {
		fmt.Printf("  Metrics:    http://%s/metrics\n", addr)
	}
	fmt.Printf("  Store:      %s\n", cfg.Store.Backend)
}
