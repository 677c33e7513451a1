// Command judged is the judging daemon: it consumes submission
// descriptors from Kafka, judges each one against its problem bundle
// inside the sandbox pool, and publishes progress back to Kafka. Wiring
// sequence grounded on cmd/judge-service/main.go (config -> logger ->
// redis -> minio -> kafka -> cache -> sandbox -> service -> subscribe),
// adapted to the trimmed internal/{objectstore,queue,bundlecache,
// statuspub,metrics} packages in place of internal/common/*.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"judgecore/internal/bundlecache"
	"judgecore/internal/cgroupctl"
	"judgecore/internal/language"
	"judgecore/internal/metrics"
	"judgecore/internal/objectstore"
	"judgecore/internal/orchestrator"
	"judgecore/internal/queue"
	"judgecore/internal/runner"
	"judgecore/internal/sandbox"
	"judgecore/internal/statuspub"
	"judgecore/pkg/utils/logger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judged.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	cfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		OutputPath: cfg.Logger.OutputPath,
		ErrorPath:  cfg.Logger.ErrorPath,
		Service:    cfg.Logger.Service,
		Env:        cfg.Logger.Env,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = redisClient.Close() }()

	store, err := objectstore.New(objectstore.Config{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		UseSSL:    cfg.MinIO.UseSSL,
	})
	if err != nil {
		logger.Error(ctx, "init object store failed", zap.Error(err))
		os.Exit(1)
	}

	bundles := bundlecache.New(bundlecache.Config{
		RootDir:    cfg.Cache.RootDir,
		Bucket:     cfg.MinIO.Bucket,
		KeyPrefix:  cfg.Cache.KeyPrefix,
		LockWait:   cfg.Cache.LockWait,
		MaxEntries: cfg.Cache.MaxEntries,
		MaxBytes:   cfg.Cache.MaxBytes,
	}, store, bundlecache.NewRedisLocker(redisClient))

	catalog, err := language.LoadCatalogFile(cfg.Language)
	if err != nil {
		logger.Error(ctx, "load language table failed", zap.Error(err))
		os.Exit(1)
	}

	handles := make([]sandbox.Handle, 0, cfg.Sandbox.PoolSize)
	for i := 0; i < cfg.Sandbox.PoolSize; i++ {
		h, err := sandbox.NewFakeHandle(cfg.Sandbox.WorkRoot)
		if err != nil {
			logger.Error(ctx, "init sandbox handle failed", zap.Error(err))
			os.Exit(1)
		}
		handles = append(handles, h)
	}
	pool := sandbox.NewPool(handles)
	controller := cgroupctl.New(cfg.Sandbox.CgroupRoot)

	builder := &language.Builder{Catalog: catalog, Pool: pool, Controller: controller, WorkRoot: cfg.Sandbox.WorkRoot}

	statusProducer := queue.NewProducer(queue.Config{Brokers: cfg.Kafka.Brokers, ClientID: cfg.Kafka.ClientID}, cfg.Kafka.StatusTopic)
	defer func() { _ = statusProducer.Close() }()
	publisher := statuspub.New(statusProducer)

	mtr := metrics.New()

	job := &orchestrator.Job{
		Catalog:     catalog,
		Builder:     builder,
		Problems:    bundles,
		Default:     &runner.DefaultCaseRunner{Pool: pool, Controller: controller},
		CustomJudge: &runner.CustomJudgeRunner{Pool: pool, Controller: controller, Builder: builder},
		Publisher:   publisher,
		Metrics:     mtr,
	}

	consumer := queue.NewConsumer(
		queue.Config{Brokers: cfg.Kafka.Brokers, ClientID: cfg.Kafka.ClientID},
		cfg.Kafka.SubmissionTopic,
		queue.Options{
			ConsumerGroup:   cfg.Kafka.ConsumerGroup,
			Concurrency:     cfg.Kafka.Concurrency,
			MaxRetries:      cfg.Kafka.MaxRetries,
			RetryDelay:      cfg.Kafka.RetryDelay,
			DeadLetterTopic: cfg.Kafka.DeadLetterTopic,
		},
		func(ctx context.Context, msg queue.Message) error {
			d, err := decodeSubmission(msg.Body)
			if err != nil {
				logger.Error(ctx, "decode submission failed", zap.Error(err))
				return nil // malformed input is unrecoverable by retry, drop it
			}
			_, err = job.Run(ctx, d)
			return err
		},
	)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer.Start(shutdownCtx)
	stopPoll := pollSandboxOccupancy(shutdownCtx, pool, cfg.Sandbox.PoolSize, mtr)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "judged http server started", zap.String("addr", cfg.HTTPAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	close(stopPoll)
	shutdownTimeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownTimeoutCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	if err := consumer.Stop(); err != nil {
		logger.Error(ctx, "consumer stop failed", zap.Error(err))
	}
}

// pollSandboxOccupancy periodically samples the pool's idle handle count
// into the sandbox gauges until the returned channel is closed.
func pollSandboxOccupancy(ctx context.Context, pool *sandbox.Pool, capacity int, mtr *metrics.Judge) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				free := pool.Len()
				mtr.SandboxesFree.Set(float64(free))
				mtr.SandboxesInUse.Set(float64(capacity - free))
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()
	return stop
}
