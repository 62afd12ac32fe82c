package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrQueueFull は待ち行列が埋まっている場合に返されます。
	ErrQueueFull = errors.New("job queue is full")
	// ErrPoolStopped は停止後の投入で返されます。
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// PoolConfig はワーカープールの設定です。
type PoolConfig struct {
	MaxWorkers  int
	QueueSize   int
	TaskTimeout time.Duration // 0 の場合はタイムアウトなし
}

// DefaultPoolConfig は既定の設定を返します。
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxWorkers: 4,
		QueueSize:  256,
	}
}

// Validate は設定値を検証します。
func (cfg PoolConfig) Validate() error {
	if cfg.MaxWorkers < 1 {
		return errors.New("max workers must be greater than 0")
	}
	if cfg.QueueSize < 1 {
		return errors.New("queue size must be greater than 0")
	}
	if cfg.TaskTimeout < 0 {
		return errors.New("task timeout must be greater than or equal to 0")
	}
	return nil
}

// HandlerFunc は1件のジョブを処理します。
type HandlerFunc func(ctx context.Context, jobID string) error

// PoolMetrics はプールの稼働状況です。
type PoolMetrics struct {
	ActiveWorkers  int64 `json:"active_workers"`
	PendingTasks   int64 `json:"pending_tasks"`
	CompletedTasks int64 `json:"completed_tasks"`
	FailedTasks    int64 `json:"failed_tasks"`
	ProcessingTime int64 `json:"processing_time_ns"`
}

// Pool は有限個のワーカーでジョブを処理するディスパッチャです。
type Pool struct {
	cfg     PoolConfig
	handler HandlerFunc
	logger  *logrus.Logger

	tasks  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool

	active     atomic.Int64
	pending    atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	processing atomic.Int64
}

// NewPool は Pool を作成します。Start を呼ぶまでジョブは処理されません。
func NewPool(cfg PoolConfig, handler HandlerFunc, logger *logrus.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("handler is nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		tasks:   make(chan string, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start はワーカーを起動します。
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	for i := 0; i < p.cfg.MaxWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Dispatch はジョブを待ち行列に追加します。埋まっている場合は待たずに ErrQueueFull を返します。
func (p *Pool) Dispatch(ctx context.Context, jobID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	// ワーカーが先に減算しないよう送信前に数える
	p.pending.Add(1)
	select {
	case p.tasks <- jobID:
		return nil
	default:
		p.pending.Add(-1)
		return ErrQueueFull
	}
}

// Stop は新規の受け付けを止め、投入済みのジョブが終わるまで待ちます。
// ctx が先に終了した場合は実行中のジョブのコンテキストを取り消します。
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("worker pool stop: %w", ctx.Err())
	}
}

// Metrics は現在の稼働状況を返します。
func (p *Pool) Metrics() PoolMetrics {
	return PoolMetrics{
		ActiveWorkers:  p.active.Load(),
		PendingTasks:   p.pending.Load(),
		CompletedTasks: p.completed.Load(),
		FailedTasks:    p.failed.Load(),
		ProcessingTime: p.processing.Load(),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for jobID := range p.tasks {
		p.process(jobID)
	}
}

func (p *Pool) process(jobID string) {
	start := time.Now()
	p.active.Add(1)
	p.pending.Add(-1)

	defer func() {
		p.active.Add(-1)
		p.processing.Add(time.Since(start).Nanoseconds())
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.logger.WithFields(logrus.Fields{
				"job_id": jobID,
				"panic":  r,
			}).Error("worker recovered from panic")
		}
	}()

	ctx := p.ctx
	if p.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TaskTimeout)
		defer cancel()
	}

	if err := p.handler(ctx, jobID); err != nil {
		p.failed.Add(1)
		return
	}
	p.completed.Add(1)
}
