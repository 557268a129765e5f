package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/api"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/capture"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/config"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/corruption"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/events"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/jobqueue"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/ratelimit"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/readiness"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/scheduler"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/settings"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	sets := settings.New(st, cfg.SettingsFile)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	publisher := events.New(rdb, events.DefaultChannel)
	limiter := ratelimit.NewLimiter(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	budget, err := sets.Duration(ctx, settings.KeyHeavyDetectionBudgetMS, time.Millisecond,
		settings.DefaultHeavyDetectionBudgetMS*time.Millisecond)
	if err != nil {
		log.Fatalf("read heavy detection budget: %v", err)
	}
	controller := corruption.NewController(
		corruption.NewFastDetector(), corruption.NewHeavyDetector(budget), st, sets, publisher, nil)

	maxRetries, err := sets.Int(ctx, settings.KeyJobMaxRetries, settings.DefaultJobMaxRetries)
	if err != nil {
		log.Fatalf("read job max retries: %v", err)
	}
	queueOpts := jobqueue.Options{
		MaxRetries:      maxRetries,
		RetryBackoffMin: cfg.RetryBackoffMin,
		RetryBackoffMax: cfg.RetryBackoffMax,
		BatchSize:       cfg.QueueBatchSize,
	}
	thumbQueue := jobqueue.New(models.QueueThumbnail, st, queueOpts, nil)
	videoQueue := jobqueue.New(models.QueueVideo, st, queueOpts, nil)

	// Without a renderer the worker fleet never drains the video queue, so
	// per-capture triggers are not enqueued at all.
	var videoEnqueuer capture.Enqueuer
	if cfg.VideoRendererURL != "" {
		videoEnqueuer = videoQueue
	}

	captureWorker := capture.New(
		capture.NewHTTPSnapshotSource(0), st, controller, thumbQueue, videoEnqueuer, publisher,
		capture.Options{
			DataDir:      cfg.DataDir,
			Timeout:      cfg.CaptureTimeout,
			Retries:      cfg.CaptureRetries,
			RetryBackoff: cfg.CaptureRetryBackoff,
		}, nil)

	validator := readiness.New(st, sets, nil)
	engine := scheduler.New(st, validator, st, captureWorker.Execute, nil)

	restored, err := engine.RestoreActive(ctx)
	if err != nil {
		log.Fatalf("restore scheduled jobs: %v", err)
	}
	log.Printf("restored %d active capture jobs", restored)
	engine.Start(ctx)

	server := api.New(st, engine, []api.Queue{thumbQueue, videoQueue}, limiter, sets, st)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("scheduler api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	engine.Wait()
}
