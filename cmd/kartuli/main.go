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

	"github.com/spf13/pflag"

	"github.com/conorfennell/kartuli/internal/catalog"
	"github.com/conorfennell/kartuli/internal/config"
	"github.com/conorfennell/kartuli/internal/progress"
	"github.com/conorfennell/kartuli/internal/redisstore"
	"github.com/conorfennell/kartuli/internal/session"
	"github.com/conorfennell/kartuli/internal/storage"
	decksync "github.com/conorfennell/kartuli/internal/sync"
	"github.com/conorfennell/kartuli/internal/web"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("kartuli stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("kartuli", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	runSync := fs.Bool("sync", false, "sync all deck sources and exit")
	addSource := fs.String("add-source", "", "add a local directory or git URL as a deck source and exit")
	noInitialSync := fs.Bool("no-initial-sync", false, "serve without syncing deck sources first")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	db, err := storage.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Database opened", "driver", cfg.DB.Driver)

	syncOpts := decksync.Options{
		ReposDir:    cfg.Sync.ReposDir,
		Concurrency: cfg.Sync.Concurrency,
	}

	switch {
	case *addSource != "":
		src, err := decksync.AddSource(ctx, db, *addSource)
		if err != nil {
			return err
		}
		fmt.Printf("Source %d (%s): %s\n", src.ID, src.Type, src.Path)
		return nil

	case *runSync:
		syncOpts.GitProgress = os.Stdout
		report, err := decksync.RunSync(ctx, db, syncOpts)
		if err != nil {
			return err
		}
		printReport(report)
		if n := report.Failed(); n > 0 {
			return fmt.Errorf("%d of %d sources failed to sync", n, len(report.Sources))
		}
		return nil
	}

	return serve(ctx, cfg, db, syncOpts, !*noInitialSync, logger)
}

func serve(ctx context.Context, cfg config.Config, db *storage.DB, syncOpts decksync.Options, initialSync bool, logger *slog.Logger) error {
	var store progress.Store = db
	if cfg.Progress.Backend == "redis" {
		rs := redisstore.New(redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		defer rs.Close()
		if err := rs.Ping(ctx); err != nil {
			return err
		}
		store = rs
		logger.Info("Progress kept in redis", "addr", cfg.Redis.Addr)
	}

	writer := progress.NewWriter(store, progress.WriterConfig{
		Workers:     cfg.Progress.Workers,
		MaxAttempts: cfg.Progress.MaxAttempts,
		RetryBase:   cfg.Progress.RetryBase,
	}, logger)

	courses, err := catalog.New(db, cfg.Catalog.CacheItems, cfg.Catalog.CacheTTL)
	if err != nil {
		writer.Close()
		return err
	}
	defer courses.Close()

	if initialSync {
		report, err := decksync.RunSync(ctx, db, syncOpts)
		if err != nil {
			logger.Warn("Initial sync failed", "error", err)
		} else if report.Changed() {
			courses.Invalidate()
		}
	}

	sessions := session.NewRegistry(session.Deps{
		Catalog:      courses,
		Store:        store,
		Recorder:     writer,
		Logger:       logger,
		Size:         cfg.Session.Size,
		SentenceSize: cfg.Session.SentenceSize,
	}, cfg.Session.IdleTTL)
	sessions.StartCleanup(ctx, session.DefaultCleanupInterval)
	defer sessions.Stop()

	handler := web.NewServer(web.Deps{
		Courses:  courses,
		Progress: store,
		Writer:   writer,
		Sessions: sessions,
		Sources:  db,
		Sync:     syncOpts,
		Logger:   logger,
	}, web.Config{
		AuthSecret:    cfg.Auth.Secret,
		AuthRequired:  cfg.Auth.Required,
		RatePerSecond: cfg.Rate.PerSecond,
		RateBurst:     cfg.Rate.Burst,
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting web server", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	if err := writer.Flush(shutdownCtx); err != nil {
		logger.Warn("Pending progress writes were not flushed", "error", err)
	}
	writer.Close()

	return serveErr
}

func printReport(report decksync.Report) {
	for _, s := range report.Sources {
		fmt.Printf("%s (%s): %d courses, %d new, %d updated, %d unchanged, %d deleted\n",
			s.Path, s.Type, s.Courses, s.Inserted, s.Updated, s.Unchanged, s.Deleted+s.CoursesDeleted)
		for _, err := range s.Errors {
			fmt.Printf("  - %s\n", err)
		}
	}
	fmt.Printf("Synced %d sources, %d failed.\n", len(report.Sources), report.Failed())
}
