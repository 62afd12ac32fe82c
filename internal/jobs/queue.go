package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const (
	taskTypeConvert = "convert:run"
	queueConvert    = "convert"

	unboundedTaskHorizon = 10 * 365 * 24 * time.Hour
)

// Dispatcher は登録済みのジョブを実行系へ渡します。
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// TaskPayload は変換ジョブのペイロードです。
type TaskPayload struct {
	JobID string `json:"jobId"`
}

// AsynqConfig は asynq ディスパッチャの設定です。
type AsynqConfig struct {
	RedisURL    string
	Concurrency int
	Timeout     time.Duration // 0 の場合はタイムアウトなし
}

// AsynqDispatcher は Redis 上の asynq キューでジョブを実行します。
type AsynqDispatcher struct {
	timeout time.Duration
	client  *asynq.Client
	server  *asynq.Server
	mux     *asynq.ServeMux
	logger  *logrus.Logger
}

// NewAsynqDispatcher は AsynqDispatcher を初期化します。handler はワーカー側で呼ばれます。
func NewAsynqDispatcher(cfg AsynqConfig, handler HandlerFunc, logger *logrus.Logger) (*AsynqDispatcher, error) {
	if handler == nil {
		return nil, errors.New("handler is nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queueConvert: 1,
			},
			Logger:   logger,
			LogLevel: asynq.WarnLevel,
		},
	)

	mux := asynq.NewServeMux()
	d := &AsynqDispatcher{
		timeout: cfg.Timeout,
		client:  asynq.NewClient(opt),
		server:  server,
		mux:     mux,
		logger:  logger,
	}
	mux.HandleFunc(taskTypeConvert, func(ctx context.Context, task *asynq.Task) error {
		var payload TaskPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}
		if payload.JobID == "" {
			return fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
		}
		if err := handler(ctx, payload.JobID); err != nil {
			// 失敗はジョブレコードに記録済みなので再実行しない
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return nil
	})
	return d, nil
}

// Start は asynq サーバーをバックグラウンドで起動します。
func (d *AsynqDispatcher) Start() error {
	return d.server.Start(d.mux)
}

// Dispatch はジョブをキューに投入します。
func (d *AsynqDispatcher) Dispatch(ctx context.Context, jobID string) error {
	body, err := json.Marshal(&TaskPayload{JobID: jobID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(taskTypeConvert, body, asynq.Queue(queueConvert))
	info, err := d.client.EnqueueContext(ctx, task, taskOptions(jobID, d.timeout, time.Now())...)
	if err != nil {
		return err
	}
	d.logger.WithFields(logrus.Fields{
		"job_id":  jobID,
		"task_id": info.ID,
	}).Debug("job enqueued")
	return nil
}

// taskOptions は投入時のオプションを返します。
// asynq は Timeout も Deadline も無いタスクに30分の既定値を使うため、無制限の場合は遠い期限を渡す。
func taskOptions(jobID string, timeout time.Duration, now time.Time) []asynq.Option {
	opts := []asynq.Option{asynq.MaxRetry(0), asynq.TaskID(jobID)}
	if timeout > 0 {
		return append(opts, asynq.Timeout(timeout))
	}
	return append(opts, asynq.Deadline(now.Add(unboundedTaskHorizon)))
}

// Stop はサーバーとクライアントを閉じます。
func (d *AsynqDispatcher) Stop(ctx context.Context) error {
	d.server.Shutdown()
	return d.client.Close()
}
