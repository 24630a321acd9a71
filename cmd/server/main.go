package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/jimdaga/docpilot/internal/auth"
	"github.com/jimdaga/docpilot/internal/config"
	"github.com/jimdaga/docpilot/internal/database"
	"github.com/jimdaga/docpilot/internal/models"
	"github.com/jimdaga/docpilot/internal/worker"
)

// Options are the process-level flags; everything else comes from the environment.
type Options struct {
	Mode        string `long:"mode" env:"DOCPILOT_MODE" default:"all" choice:"server" choice:"worker" choice:"all" description:"Run the HTTP server, the worker, or both"`
	Seed        bool   `long:"seed" description:"Insert development fixtures after migrating"`
	MigrateOnly bool   `long:"migrate-only" description:"Apply migrations and exit"`
}

func main() {
	opts, ok := parseOptions(os.Args[1:])
	if !ok {
		return
	}

	cfg := config.Load()
	logger := worker.NewLogger(cfg.LogLevel, cfg.LogFormat)

	if err := run(opts, cfg, logger); err != nil {
		log.Fatal(err)
	}
}

// parseOptions returns false when help was printed.
func parseOptions(args []string) (Options, bool) {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return opts, false
		}
		log.Fatalf("failed to parse flags: %v", err)
	}
	return opts, true
}

func run(opts Options, cfg *config.Config, logger *slog.Logger) error {
	if cfg.EncryptionKey != "" {
		if err := models.InitEncryption(cfg.EncryptionKey); err != nil {
			return fmt.Errorf("failed to initialize encryption: %w", err)
		}
	}

	db, err := database.Init(cfg.DatabaseURL, database.PoolFor(cfg.WorkerConcurrency))
	if err != nil {
		return err
	}
	defer database.Close(db)
	log.Println("Connected to database")

	if err := database.RunMigrations(db, logger); err != nil {
		return err
	}
	if opts.MigrateOnly {
		return nil
	}
	if opts.Seed {
		if err := database.SeedDevData(db, logger); err != nil {
			return fmt.Errorf("failed to seed development data: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := build(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	runServer := opts.Mode == "server" || opts.Mode == "all"
	runWorker := opts.Mode == "worker" || opts.Mode == "all"

	if runWorker {
		stopWorker, err := worker.Start(cfg, a.workerDeps(cfg))
		if err != nil {
			return err
		}
		defer stopWorker()

		stopScheduler, err := worker.StartScheduler(cfg, logger)
		if err != nil {
			return err
		}
		defer stopScheduler()

		if a.stopReceipts, err = a.startReceipts(cfg, logger); err != nil {
			return err
		}
	}

	if !runServer {
		logger.Info("Worker running", "mode", opts.Mode)
		<-ctx.Done()
		logger.Info("Shutting down")
		return nil
	}

	auth.InitProviders(cfg)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.router(cfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr, "mode", opts.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	return nil
}
