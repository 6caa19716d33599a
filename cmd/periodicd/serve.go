package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/api"
	"github.com/xraph/periodic/engine"
	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/task"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, workers and management API",
	Long: `Runs one scheduler node. The node claims due task definitions from the
store, submits a job for each occurrence, executes jobs from its configured
queues and serves the management API on the listen address.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath, os.Getenv)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg fileConfig, logger *slog.Logger) error {
	pcfg, err := cfg.periodicConfig()
	if err != nil {
		return err
	}
	specs, err := cfg.taskSpecs()
	if err != nil {
		return err
	}

	instanceID := id.NewInstanceID()
	if cfg.Instance.ID != "" {
		if instanceID, err = id.ParseInstanceID(cfg.Instance.ID); err != nil {
			return fmt.Errorf("instance.id: %w", err)
		}
	}

	b, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.close(); cerr != nil {
			logger.Warn("periodicd: close backend", slog.String("error", cerr.Error()))
		}
	}()

	if cfg.Store.AutoMigrate == nil || *cfg.Store.AutoMigrate {
		if err := b.store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	if err := b.openNotify(ctx, cfg.Notify, instanceID, logger); err != nil {
		return err
	}

	opts := []engine.Option{
		engine.WithStore(b.store),
		engine.WithConfig(pcfg),
		engine.WithLogger(logger),
		engine.WithInstanceID(instanceID),
		engine.WithAddress(cfg.Instance.Address),
	}
	if b.notifier != nil {
		opts = append(opts, engine.WithNotifier(b.notifier))
	}
	for _, l := range b.listeners {
		opts = append(opts, engine.WithListener(l))
	}

	eng, err := engine.Build(opts...)
	if err != nil {
		return err
	}
	registerBuiltins(eng, logger, &http.Client{})

	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), pcfg.ShutdownTimeout)
		defer cancel()
		if serr := eng.Stop(stopCtx); serr != nil {
			logger.Warn("periodicd: engine stop", slog.String("error", serr.Error()))
		}
	}()

	if err := seedTasks(ctx, eng, specs, logger); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.New(eng, api.WithLogger(logger)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("periodicd: listening",
			slog.String("addr", cfg.Listen),
			slog.String("instance_id", instanceID.String()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			logger.Info("periodicd: shutting down")
		case <-eng.Scheduler().Awake().Done():
			logger.Warn("periodicd: scheduler loop exited")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), pcfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// seedTasks creates every declared definition whose name is not taken.
// Existing definitions are left as they are.
func seedTasks(ctx context.Context, eng *engine.Engine, specs []engine.TaskSpec, logger *slog.Logger) error {
	if len(specs) == 0 {
		return nil
	}
	existing, err := eng.ListTasks(ctx, task.ListOpts{})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	names := make(map[string]bool, len(existing))
	for _, d := range existing {
		names[d.Name] = true
	}

	for _, spec := range specs {
		if names[spec.Name] {
			logger.Debug("periodicd: declared task exists", slog.String("name", spec.Name))
			continue
		}
		_, err := eng.CreateTask(ctx, spec)
		switch {
		case errors.Is(err, periodic.ErrDuplicateTask):
			// Created by a peer since the listing.
		case err != nil:
			return fmt.Errorf("seed task %q: %w", spec.Name, err)
		}
	}
	return nil
}
