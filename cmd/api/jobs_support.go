package main

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/anyconvert/internal/config"
	"github.com/yourusername/anyconvert/internal/jobs"
	"github.com/yourusername/anyconvert/internal/storage"
)

// stopFunc は実行系を停止します。
type stopFunc func(ctx context.Context) error

// setupJobs は JOB_BACKEND に応じてジョブの保存先と実行系を組み立てます。
func setupJobs(cfg *config.Config, artifacts *storage.LocalStore, converter jobs.Converter, logger *logrus.Logger) (*jobs.Manager, stopFunc, error) {
	switch cfg.JobBackend {
	case config.BackendRedis:
		return setupRedisJobs(cfg, artifacts, converter, logger)
	default:
		return setupMemoryJobs(cfg, artifacts, converter, logger)
	}
}

func setupMemoryJobs(cfg *config.Config, artifacts *storage.LocalStore, converter jobs.Converter, logger *logrus.Logger) (*jobs.Manager, stopFunc, error) {
	manager, err := jobs.NewManager(jobs.NewMemoryStore(), artifacts, converter, logger)
	if err != nil {
		return nil, nil, err
	}
	pool, err := jobs.NewPool(jobs.PoolConfig{
		MaxWorkers:  cfg.WorkerConcurrency,
		QueueSize:   cfg.WorkerQueueSize,
		TaskTimeout: cfg.JobTimeout(),
	}, manager.Run, logger)
	if err != nil {
		return nil, nil, err
	}
	manager.UseDispatcher(pool)
	pool.Start()

	logger.WithFields(logrus.Fields{
		"workers": cfg.WorkerConcurrency,
		"queue":   cfg.WorkerQueueSize,
	}).Info("in-memory job backend started")
	return manager, pool.Stop, nil
}

func setupRedisJobs(cfg *config.Config, artifacts *storage.LocalStore, converter jobs.Converter, logger *logrus.Logger) (*jobs.Manager, stopFunc, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	redisClient := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	store := jobs.NewRedisStore(redisClient, cfg.JobRecordTTL())
	manager, err := jobs.NewManager(store, artifacts, converter, logger)
	if err != nil {
		redisClient.Close()
		return nil, nil, err
	}
	dispatcher, err := jobs.NewAsynqDispatcher(jobs.AsynqConfig{
		RedisURL:    cfg.QueueRedisURL,
		Concurrency: cfg.WorkerConcurrency,
		Timeout:     cfg.JobTimeout(),
	}, manager.Run, logger)
	if err != nil {
		redisClient.Close()
		return nil, nil, err
	}
	manager.UseDispatcher(dispatcher)
	if err := dispatcher.Start(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("failed to start asynq server: %w", err)
	}

	logger.WithField("workers", cfg.WorkerConcurrency).Info("redis job backend started")
	stop := func(ctx context.Context) error {
		err := dispatcher.Stop(ctx)
		if closeErr := redisClient.Close(); err == nil {
			err = closeErr
		}
		return err
	}
	return manager, stop, nil
}
