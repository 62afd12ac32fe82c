// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/anyconvert/internal/api"
	"github.com/yourusername/anyconvert/internal/bundle"
	"github.com/yourusername/anyconvert/internal/config"
	"github.com/yourusername/anyconvert/internal/convert"
	"github.com/yourusername/anyconvert/internal/logging"
	"github.com/yourusername/anyconvert/internal/ratelimit"
	"github.com/yourusername/anyconvert/internal/session"
	"github.com/yourusername/anyconvert/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	artifacts, err := storage.NewLocalStore(cfg.UploadDir, cfg.ConvertedDir, cfg.MaxFileSize)
	if err != nil {
		logger.Fatalf("Failed to prepare storage: %v", err)
	}

	registry := convert.NewDefaultRegistry(convert.Options{
		GhostscriptPath: cfg.GhostscriptPath,
		TesseractPath:   cfg.TesseractPath,
		TesseractLang:   cfg.TesseractLang,
		LibreOfficePath: cfg.LibreOfficePath,
		HeicConverter:   cfg.HeicConverter,
		Logger:          logger,
	})

	manager, stopJobs, err := setupJobs(cfg, artifacts, registry, logger)
	if err != nil {
		logger.Fatalf("Failed to set up jobs: %v", err)
	}

	// 期限切れ成果物の掃除
	sweeper := storage.NewSweeper(artifacts, cfg.Retention(), cfg.SweepInterval(), logger)
	go sweeper.Run(ctx)

	limiter := ratelimit.New(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	go limiter.Run(ctx, time.Minute)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()
	router.MaxMultipartMemory = 32 << 20

	router.Use(session.Middleware(session.NewCookieStore(cfg.SessionSecret, cfg.GinMode == gin.ReleaseMode)))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	// ダウンロード時にファイル名を読み取れるように公開
	corsConfig.ExposeHeaders = []string{"Content-Disposition", "ETag", "X-Job-Id", "Retry-After"}
	router.Use(cors.New(corsConfig))

	handler := api.NewHandler(manager, bundle.NewService(manager.Store(), artifacts, logger), artifacts, logger)
	api.RegisterRoutes(router, handler, limiter.Middleware())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Starting API server on %s (mode: %s, backend: %s)", srv.Addr, cfg.GinMode, cfg.JobBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown did not complete")
	}
	if err := stopJobs(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Job workers did not stop cleanly")
	}
}
