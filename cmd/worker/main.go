package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/config"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/events"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/jobqueue"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/settings"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/store"
	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/telemetry"
	workerproc "github.com/jordanlambrecht/timelapser-v4-sub006/internal/worker"
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
	retention, err := sets.Duration(ctx, settings.KeyJobRetentionHours, time.Hour,
		settings.DefaultJobRetentionHours*time.Hour)
	if err != nil {
		log.Fatalf("read job retention: %v", err)
	}
	processingMaxAge, err := sets.Duration(ctx, settings.KeyMaxProcessingAgeMinutes, time.Minute,
		settings.DefaultMaxProcessingAgeMinutes*time.Minute)
	if err != nil {
		log.Fatalf("read processing max age: %v", err)
	}
	maxRetries, err := sets.Int(ctx, settings.KeyJobMaxRetries, settings.DefaultJobMaxRetries)
	if err != nil {
		log.Fatalf("read job max retries: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	publisher := events.New(rdb, events.DefaultChannel)

	queueOpts := jobqueue.Options{
		MaxRetries:       maxRetries,
		RetryBackoffMin:  cfg.RetryBackoffMin,
		RetryBackoffMax:  cfg.RetryBackoffMax,
		ProcessingMaxAge: processingMaxAge,
		Retention:        retention,
		BatchSize:        cfg.QueueBatchSize,
	}
	thumbQueue := jobqueue.New(models.QueueThumbnail, st, queueOpts, nil)
	videoQueue := jobqueue.New(models.QueueVideo, st, queueOpts, nil)

	uploader, err := workerproc.NewUploader(ctx, cfg)
	if err != nil {
		log.Fatalf("init uploader: %v", err)
	}
	thumbHandler := workerproc.NewThumbnailHandler(st, uploader, cfg.ThumbnailWidth, cfg.SmallWidth)

	var wg sync.WaitGroup
	// The video queue is swept even when no renderer is configured, so
	// leftover rows from a previously configured renderer still age out.
	cleanupQueues := []*jobqueue.Queue{thumbQueue, videoQueue}

	wg.Add(1)
	go func() {
		defer wg.Done()
		workerproc.NewProcessorWithEvents(thumbQueue, thumbHandler.Handle, cfg.WorkerPollInterval, cfg.StuckSweepInterval, publisher).Run(ctx)
	}()

	if cfg.VideoRendererURL != "" {
		renderer := workerproc.NewHTTPRenderer(cfg.VideoRendererURL, 30*time.Second)
		videoHandler := workerproc.NewVideoHandler(renderer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			workerproc.NewProcessorWithEvents(videoQueue, videoHandler.Handle, cfg.WorkerPollInterval, cfg.StuckSweepInterval, publisher).Run(ctx)
		}()
	} else {
		log.Printf("video renderer url not set, video queue idle")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		workerproc.RunCleanup(ctx, cleanupQueues, cfg.CleanupInterval)
	}()

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("worker started poll=%s sweep=%s retention=%s", cfg.WorkerPollInterval, cfg.StuckSweepInterval, retention)
	wg.Wait()
}
