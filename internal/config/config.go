// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ジョブ状態の保存先
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// セッション設定（ジョブ履歴用クッキーの署名鍵）
	SessionSecret string

	// 成果物ストレージ設定
	UploadDir    string // アップロードされた入力ファイルの保存先
	ConvertedDir string // 変換結果の保存先
	MaxFileSize  int64  // 単一ファイルの最大サイズ（バイト、0 は無制限）

	// 保持期間
	RetentionMinutes     int // 成果物の保持期間（分）
	SweepIntervalMinutes int // 期限切れ成果物の掃除間隔（分）

	// ジョブ実行設定
	WorkerConcurrency   int    // 同時に実行する変換の数
	WorkerQueueSize     int    // ワーカープールの待ち行列長
	JobTimeoutSeconds   int    // 単一変換のタイムアウト（秒、0 はタイムアウトなし）
	JobBackend          string // ジョブ状態の保存先 (memory, redis)
	QueueRedisURL       string // Asynq/ジョブ状態用Redis接続URL
	JobRecordTTLMinutes int    // Redis上のジョブ情報の有効期限（分、0 は無期限）

	// レート制限
	RateLimitPerSecond float64 // クライアントごとの秒間リクエスト数
	RateLimitBurst     int     // 瞬間的に許容するリクエスト数

	// 外部ツール設定
	GhostscriptPath string // Ghostscript実行ファイルのパス
	TesseractPath   string // Tesseract実行ファイルのパス
	TesseractLang   string // OCR言語
	LibreOfficePath string // LibreOffice (soffice) のパス。空の場合 DOCX→PDF は無効
	HeicConverter   string // HEIC変換コマンド (heif-convert, magick, sips)

	// ログ設定
	LogLevel  string // ログレベル (debug, info, warn, error)
	LogFormat string // ログ形式 (text, json)
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5000"),

		SessionSecret: getEnv("SESSION_SECRET", "anyconvert-dev-secret"),

		// 成果物ストレージ設定
		UploadDir:    getEnv("UPLOAD_DIR", "uploads"),
		ConvertedDir: getEnv("CONVERTED_DIR", "converted"),
		MaxFileSize:  getEnvAsInt64("MAX_FILE_SIZE", 104857600), // 100MB

		// 保持期間
		RetentionMinutes:     getEnvAsInt("RETENTION_MINUTES", 30),
		SweepIntervalMinutes: getEnvAsInt("SWEEP_INTERVAL_MINUTES", 10),

		// ジョブ実行設定
		WorkerConcurrency:   getEnvAsInt("WORKER_CONCURRENCY", 4),
		WorkerQueueSize:     getEnvAsInt("WORKER_QUEUE_SIZE", 256),
		JobTimeoutSeconds:   getEnvAsInt("JOB_TIMEOUT_SECONDS", 0),
		JobBackend:          strings.ToLower(getEnv("JOB_BACKEND", BackendMemory)),
		QueueRedisURL:       getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		JobRecordTTLMinutes: getEnvAsInt("JOB_RECORD_TTL_MINUTES", 0),

		// レート制限
		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 10),

		// 外部ツール設定
		GhostscriptPath: getEnv("GHOSTSCRIPT_PATH", "gs"),
		TesseractPath:   getEnv("TESSERACT_PATH", "tesseract"),
		TesseractLang:   getEnv("TESSERACT_LANG", "eng"),
		LibreOfficePath: getEnv("LIBREOFFICE_PATH", ""),
		HeicConverter:   getEnv("HEIC_CONVERTER", "heif-convert"),

		// ログ設定
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.UploadDir == "" || c.ConvertedDir == "" {
		return fmt.Errorf("UPLOAD_DIR and CONVERTED_DIR must not be empty")
	}
	if filepath.Clean(c.UploadDir) == filepath.Clean(c.ConvertedDir) {
		return fmt.Errorf("UPLOAD_DIR and CONVERTED_DIR must be different directories")
	}
	if c.RetentionMinutes <= 0 {
		return fmt.Errorf("RETENTION_MINUTES must be positive")
	}
	if c.SweepIntervalMinutes <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_MINUTES must be positive")
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}
	if c.WorkerQueueSize <= 0 {
		return fmt.Errorf("WORKER_QUEUE_SIZE must be positive")
	}

	switch c.JobBackend {
	case BackendMemory:
	case BackendRedis:
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required when JOB_BACKEND=redis")
		}
	default:
		return fmt.Errorf("JOB_BACKEND must be %q or %q (got %q)", BackendMemory, BackendRedis, c.JobBackend)
	}

	// 本番環境では署名鍵の既定値を許可しない
	if c.GinMode == "release" {
		if c.SessionSecret == "" || c.SessionSecret == "anyconvert-dev-secret" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.GhostscriptPath == "" {
			return fmt.Errorf("GHOSTSCRIPT_PATH is required in release mode")
		}
	}

	return nil
}

// Retention は成果物の保持期間を返します。
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionMinutes) * time.Minute
}

// SweepInterval は掃除ループの間隔を返します。
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// JobTimeout は単一変換のタイムアウトを返します（0 はタイムアウトなし）。
func (c *Config) JobTimeout() time.Duration {
	if c.JobTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// JobRecordTTL は Redis 上のジョブ情報の有効期限を返します。
func (c *Config) JobRecordTTL() time.Duration {
	if c.JobRecordTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(c.JobRecordTTLMinutes) * time.Minute
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
