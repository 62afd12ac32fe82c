package jobs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/yourusername/anyconvert/internal/convert"
	"github.com/yourusername/anyconvert/internal/storage"
)

// DefaultTarget はターゲット形式が指定されなかった場合の出力形式です。
const DefaultTarget = "docx"

// Converter は入力ファイルを出力形式に変換します。*convert.Registry が満たします。
type Converter interface {
	Convert(ctx context.Context, req convert.Request) error
}

// Submission は1ファイル分の変換依頼です。
type Submission struct {
	Filename string
	Target   string
	Body     io.Reader
}

// Stats は受け付けと処理結果の累計です。
type Stats struct {
	Submitted int64        `json:"submitted"`
	Completed int64        `json:"completed"`
	Failed    int64        `json:"failed"`
	Pool      *PoolMetrics `json:"pool,omitempty"`
}

// Manager はジョブの受け付けと実行を担います。
type Manager struct {
	store      Store
	artifacts  *storage.LocalStore
	converter  Converter
	dispatcher Dispatcher
	logger     *logrus.Logger

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewManager は Manager を初期化します。ディスパッチャは UseDispatcher で設定します。
func NewManager(store Store, artifacts *storage.LocalStore, converter Converter, logger *logrus.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if artifacts == nil {
		return nil, errors.New("artifacts is nil")
	}
	if converter == nil {
		return nil, errors.New("converter is nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		store:     store,
		artifacts: artifacts,
		converter: converter,
		logger:    logger,
	}, nil
}

// UseDispatcher はジョブの実行系を設定します。ディスパッチャは Manager.Run を呼ぶ必要があります。
func (m *Manager) UseDispatcher(d Dispatcher) {
	m.dispatcher = d
}

// Store はジョブレコードの保存先を返します。
func (m *Manager) Store() Store {
	return m.store
}

// Submit は入力を保存してジョブを queued で登録し、実行系に渡します。
// 実行系への投入に失敗した場合でもレコードは error 状態で残るため、ID の照会が not_found になることはありません。
func (m *Manager) Submit(ctx context.Context, sub Submission) (*Record, error) {
	if m.dispatcher == nil {
		return nil, errors.New("dispatcher is not configured")
	}
	name := baseName(sub.Filename)
	if name == "" {
		return nil, errors.New("filename is required")
	}
	target := convert.NormalizeTarget(sub.Target)
	if target == "" {
		target = DefaultTarget
	}
	if strings.ContainsAny(target, `/\`) {
		return nil, fmt.Errorf("invalid target format: %q", sub.Target)
	}

	ext := convert.NormalizeExt(filepath.Ext(name))
	if ext == "" {
		if rs, ok := sub.Body.(io.ReadSeeker); ok {
			ext = convert.SniffExtension(rs)
		}
	}

	jobID := uuid.NewString()
	if _, _, err := m.artifacts.SaveInput(ctx, jobID, ext, sub.Body); err != nil {
		return nil, err
	}

	record := &Record{
		JobID:        jobID,
		Status:       StatusQueued,
		Progress:     ProgressQueued,
		OriginalName: name,
		TargetFormat: target,
		OutputName:   strings.TrimSuffix(name, filepath.Ext(name)) + "." + target,
		SourceExt:    ext,
	}
	if err := m.store.Create(ctx, record); err != nil {
		_ = m.artifacts.Remove(m.artifacts.InputPath(jobID, ext))
		return nil, err
	}
	m.submitted.Add(1)

	log := m.logger.WithFields(logrus.Fields{
		"job_id": jobID,
		"source": ext,
		"target": target,
	})
	if err := m.dispatcher.Dispatch(ctx, jobID); err != nil {
		log.WithError(err).Warn("failed to dispatch job")
		m.fail(context.WithoutCancel(ctx), jobID, fmt.Sprintf("failed to schedule conversion: %v", err))
	} else {
		log.Info("job queued")
	}

	stored, err := m.store.Get(ctx, jobID)
	if err != nil || stored == nil {
		return record, nil
	}
	return stored, nil
}

// Get はジョブレコードを返します。未知の ID では (nil, nil) を返します。
func (m *Manager) Get(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

// Run は1件のジョブを実行します。失敗やパニックはジョブレコードの error として記録されます。
func (m *Manager) Run(ctx context.Context, jobID string) (err error) {
	record, err := m.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	log := m.logger.WithField("job_id", jobID)
	// 取り消し後も最終状態は書き込む
	persistCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("conversion panicked")
			m.fail(persistCtx, jobID, fmt.Sprintf("internal error: %v", r))
			err = fmt.Errorf("conversion panicked: %v", r)
		}
	}()

	// queued のレコードだけを processing に進める。別の実行が先に取っていれば何もしない
	if err := m.store.Update(ctx, jobID, func(r *Record) {
		r.Status = StatusProcessing
		r.Progress = ProgressProcessing
	}); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			log.WithError(err).Info("job already claimed, skipping")
			return nil
		}
		return err
	}

	req := convert.Request{
		InputPath:  m.artifacts.InputPath(jobID, record.SourceExt),
		OutputPath: m.artifacts.OutputPath(jobID, record.TargetFormat),
		SourceExt:  record.SourceExt,
		Target:     record.TargetFormat,
	}
	if err := m.converter.Convert(ctx, req); err != nil {
		msg := err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = "conversion timed out: " + msg
		}
		log.WithError(err).Warn("conversion failed")
		m.fail(persistCtx, jobID, msg)
		return err
	}
	if !m.artifacts.Exists(req.OutputPath) {
		err := errors.New("converter did not produce an output file")
		log.Warn(err.Error())
		m.fail(persistCtx, jobID, err.Error())
		return err
	}

	sum, err := checksumFile(req.OutputPath)
	if err != nil {
		log.WithError(err).Warn("failed to checksum output")
	}
	if err := m.store.Update(persistCtx, jobID, func(r *Record) {
		r.Status = StatusCompleted
		r.Progress = ProgressCompleted
		r.Checksum = sum
		r.Message = ""
	}); err != nil {
		return err
	}
	m.completed.Add(1)
	log.Info("job completed")
	return nil
}

// Stats は累計値を返します。ディスパッチャがプールの場合はその稼働状況も含めます。
func (m *Manager) Stats() Stats {
	stats := Stats{
		Submitted: m.submitted.Load(),
		Completed: m.completed.Load(),
		Failed:    m.failed.Load(),
	}
	if p, ok := m.dispatcher.(*Pool); ok {
		metrics := p.Metrics()
		stats.Pool = &metrics
	}
	return stats
}

func (m *Manager) fail(ctx context.Context, jobID, message string) {
	err := m.store.Update(ctx, jobID, func(r *Record) {
		r.Status = StatusError
		r.Message = message
	})
	if err != nil {
		m.logger.WithError(err).WithField("job_id", jobID).Error("failed to record job error")
		return
	}
	m.failed.Add(1)
}

// checksumFile は BLAKE2b-256 の16進表記を返します。
func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// baseName はクライアントが送ったパス区切りを取り除いたファイル名を返します。
func baseName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), `\`, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if name == "." || name == ".." {
		return ""
	}
	return name
}
