// Package server provides the Run function used to start the admin service:
// the operator HTTP API plus the periodic blocklist refresh scheduler, wired
// to the resolver daemon's validator and control channel.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/fwellner/unbound-admin/internal/api"
	"github.com/fwellner/unbound-admin/internal/apply"
	"github.com/fwellner/unbound-admin/internal/blocklist"
	"github.com/fwellner/unbound-admin/internal/refresh"
	"github.com/fwellner/unbound-admin/internal/settings"
	"github.com/fwellner/unbound-admin/internal/unbound"
)

func init() {
	blocklist.RegisterMetrics(prometheus.DefaultRegisterer)
	apply.RegisterMetrics(prometheus.DefaultRegisterer)
}

const (
	// The query log is rotated once it grows past this size.
	queryLogMaxSize = 50 * 1024 * 1024

	queryLogCheckInterval = time.Hour
)

// Run the admin service.
func Run(ctx context.Context, config Config) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	level := slog.LevelInfo
	if config.Logging != nil {
		level = levelFromString(config.Logging.Level)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	paths := unbound.DefaultPaths(config.Unbound.ConfDir, config.Data.Dir)

	store := settings.NewStore(filepath.Join(config.Data.Dir, "settings.json"), logger)
	sources := settings.NewSources(filepath.Join(config.Data.Dir, "blocklists.json"), logger)
	whitelist := settings.NewWhitelist(filepath.Join(config.Data.Dir, "whitelist.json"), logger)
	records := settings.NewRecords(filepath.Join(config.Data.Dir, "local_records.json"), logger)
	status := settings.NewStatus(filepath.Join(config.Data.Dir, "blocklist_status.json"), logger)

	checker := unbound.CheckConf{Binary: config.Unbound.Checkconf}
	control := unbound.Control{Binary: config.Unbound.Control}

	applier := apply.New(paths, checker, control, logger.With("component", "apply"))
	builder := apply.NewBuilder(paths, config.Unbound.CustomConf)
	pipeline := blocklist.New(logger.With("component", "blocklist"))

	refresher := refresh.NewRefresher(store, sources, whitelist, status, pipeline, builder, applier,
		logger.With("component", "refresh"))
	scheduler := refresh.NewScheduler(refresher, config.Refresh.Interval, paths.Blocklist,
		logger.With("component", "scheduler"))

	handler := api.New(api.Config{
		Store:         store,
		Sources:       sources,
		Whitelist:     whitelist,
		Records:       records,
		Status:        status,
		Refresher:     refresher,
		Builder:       builder,
		Applier:       applier,
		Control:       control,
		BlocklistPath: paths.Blocklist,
		QueryLogPath:  paths.QueryLog,
		Logger:        logger.With("component", "api"),
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return runHTTPServer(ctx, logger, &http.Server{
			Addr:    config.Admin.Bind,
			Handler: mux,
		})
	})

	group.Go(func() error {
		return scheduler.Run(ctx)
	})

	group.Go(func() error {
		return runQueryLogRotation(ctx, logger, store, paths.QueryLog)
	})

	return group.Wait()
}

func runHTTPServer(ctx context.Context, logger *slog.Logger, server *http.Server) error {
	log := logger.With("protocol", "http", "addr", server.Addr)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("server starting")

		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	})

	group.Go(func() error {
		<-ctx.Done()

		log.Warn("server shutting down")
		return server.Shutdown(context.Background())
	})

	return group.Wait()
}

// runQueryLogRotation moves an oversized query log aside so the resolver
// starts a fresh one, keeping a single previous generation. Only active while
// query logging is enabled in the settings.
func runQueryLogRotation(ctx context.Context, logger *slog.Logger, store *settings.Store, path string) error {
	ticker := time.NewTicker(queryLogCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !store.Load().LogQueries {
				continue
			}

			if err := rotateQueryLog(path); err != nil {
				logger.With("error", err, "path", path).Warn("failed to rotate query log")
			}
		}
	}
}

func rotateQueryLog(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return err
	}

	if info.Size() <= queryLogMaxSize {
		return nil
	}

	if err = os.Rename(path, path+".old"); err != nil {
		return err
	}

	return os.WriteFile(path, nil, 0o644)
}

func levelFromString(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
