package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/config"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/server"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/ui"
)

const (
	version = "0.1.0"
)

var (
	versionFlag = flag.Bool("version", false, "Show version")
	configFile  = flag.String("config", "", "Config file (default: built-in local sqlite config)")
	listenAddr  = flag.String("listen", "", "Override the configured listen address")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `spendtrack - personal finance activity tracker API

Usage:
  spendtrack [flags]

Flags:
`)
		flag.PrintDefaults()
		fmt.Fprint(os.Stderr, `
Examples:
  spendtrack                         # local sqlite backend, auth skipped
  spendtrack -config prod.yaml       # firestore backend from config
  spendtrack -listen :9000           # override listen address
`)
	}
	flag.Parse()

	if *versionFlag {
		fmt.Printf("spendtrack %s\n", version)
		return
	}

	if err := run(); err != nil {
		ui.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ui.Header("spendtrack " + version)
	ui.Step(1, 2, fmt.Sprintf("Connecting %s backend", cfg.Backend))

	ctx := context.Background()
	srv, err := server.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	if cfg.SkipAuth {
		ui.Warning("auth disabled, Authorization header is trusted as user id")
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	errc := make(chan error, 1)
	go func() {
		ui.Step(2, 2, "Listening on "+cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errc:
		return err
	case sig := <-stop:
		ui.Info(fmt.Sprintf("received %s, shutting down", sig))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	ui.Success("server stopped")
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	return cfg, nil
}
