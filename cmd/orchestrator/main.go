// Package main 编排器入口
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autopilot/internal/api"
	"autopilot/internal/checkpoint"
	"autopilot/internal/config"
	"autopilot/internal/engine/claude"
	"autopilot/internal/logstream"
	"autopilot/internal/orchestrator"
	"autopilot/internal/shared/eventbus"
	evredis "autopilot/internal/shared/eventbus/redis"
	"autopilot/internal/shared/objstore"
	"autopilot/internal/shared/storage"
	"autopilot/internal/shared/storage/mongostore"
	"autopilot/internal/shared/storage/postgres"
	"autopilot/internal/vault"
	"autopilot/internal/workspace"
	"autopilot/pkg/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.Default("orchestrator")
	logger.Info("Starting orchestrator", "config", cfg.String())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 持久层
	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	// 对象存储
	blobs, err := objstore.NewClient(cfg.Minio)
	if err != nil {
		log.Fatalf("Failed to create object store client: %v", err)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		log.Fatalf("Failed to ensure checkpoint bucket: %v", err)
	}

	// 事件总线：配置了 Redis 用 Streams，否则进程内
	var feed eventbus.LogFeed
	if cfg.RedisEnabled {
		feed, err = evredis.NewFeed(cfg.RedisAddr, os.Getenv("REDIS_PASSWORD"), cfg.RedisDB)
		if err != nil {
			log.Fatalf("Failed to connect log feed: %v", err)
		}
	} else {
		feed = eventbus.NewInProcessFeed()
	}
	defer feed.Close()

	// 凭据保险库
	v, err := vault.New(cfg.VaultMasterSecret)
	if err != nil {
		log.Fatalf("Failed to init credential vault: %v", err)
	}

	workspaces, err := workspace.NewManager(cfg.Workspace.BaseDir)
	if err != nil {
		log.Fatalf("Failed to init workspace manager: %v", err)
	}

	checkpoints := checkpoint.NewManager(store, blobs, logging.Default("checkpoint"))
	streamer := logstream.NewStreamer(store, feed)
	eng := claude.New(cfg.Engine.Binary)

	adapter := orchestrator.NewAdapter(store, workspaces, checkpoints, v, streamer, eng,
		logging.Default("adapter"), orchestrator.AdapterConfig{
			BrowserServer:     cfg.Engine.BrowserServer,
			AllowedTools:      cfg.Engine.AllowedTools,
			Model:             cfg.Engine.Model,
			PausePollInterval: cfg.Scheduler.PausePollInterval,
		})

	metrics := orchestrator.NewMetrics(prometheus.DefaultRegisterer)
	scheduler := orchestrator.NewScheduler(store, adapter, metrics,
		logging.Default("scheduler"), cfg.Scheduler.PollInterval)

	// 观察者接口：/metrics 和 /ws/runs
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/runs", api.NewFeedHandler(store, feed).HandleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: ":" + cfg.APIPort, Handler: mux}
	go func() {
		logger.Info("Observer API listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Observer API failed: %v", err)
		}
	}()

	// 调度主循环，阻塞直到收到退出信号
	if err := scheduler.Start(ctx); err != nil && err != context.Canceled {
		logger.WithError(err).Error("Scheduler exited abnormally")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Observer API shutdown incomplete")
	}
	logger.Info("Orchestrator stopped")
}

// openStore 按配置选择持久层驱动
func openStore(cfg *config.Config) (storage.PersistentStore, error) {
	switch cfg.StorageDriver {
	case "postgres":
		return postgres.NewStore(cfg.DatabaseURL)
	default:
		return mongostore.NewStore(cfg.MongoURI, cfg.MongoDatabase)
	}
}
