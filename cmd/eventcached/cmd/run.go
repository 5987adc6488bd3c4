package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/qsyscore/eventcached/internal/config"
	"github.com/qsyscore/eventcached/internal/eventcache"
	"github.com/qsyscore/eventcached/pkg/logger"
)

var groupsFileFlag string

func init() {
	runCmd.Flags().StringVar(&groupsFileFlag, "groups-file", "", "override groups.yaml bootstrap path")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the event cache and block until terminated",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, warnings, err := config.Load(configPath, false)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if groupsFileFlag != "" {
		cfg.GroupsFile = groupsFileFlag
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	for _, w := range warnings {
		log.Warn("config warning", "detail", w)
	}

	registry := prometheus.NewRegistry()
	mgr, err := eventcache.NewManager(&cfg.EventCache, registry, log)
	if err != nil {
		return fmt.Errorf("start event cache: %w", err)
	}
	defer mgr.Shutdown()

	mgr.Subscribe(newLogSubscriber(log))

	if cfg.GroupsFile != "" {
		entries, err := config.LoadGroupsFile(cfg.GroupsFile)
		if err != nil {
			log.Warn("failed to load groups bootstrap file", "path", cfg.GroupsFile, "error", err)
		} else {
			config.ApplyGroupBootstrap(mgr, entries)
			log.Info("applied groups bootstrap", "path", cfg.GroupsFile, "count", len(entries))
		}
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			log.Info("metrics server starting", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	log.Info("eventcached started", "environment", cfg.App.Environment)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error("metrics server shutdown failed", "error", err)
		}
	}

	return nil
}

// logSubscriber routes cache notifications to the structured logger,
// grounded on internal/realtime's logging subscriber pattern.
type logSubscriber struct {
	id  string
	log *slog.Logger
}

func newLogSubscriber(log *slog.Logger) *logSubscriber {
	return &logSubscriber{id: "log-subscriber", log: log}
}

func (s *logSubscriber) ID() string { return s.id }

func (s *logSubscriber) Send(n eventcache.Notification) {
	switch n.Type {
	case eventcache.NotifyError:
		s.log.Error("cache notification", "type", n.Type, "message", n.Message, "context", n.Context)
	case eventcache.NotifyMemoryPressure:
		s.log.Warn("cache notification", "type", n.Type, "level", n.Level, "percent", n.Percent)
	default:
		s.log.Info("cache notification", "type", n.Type, "group", n.GroupID, "count", n.Count)
	}
}
