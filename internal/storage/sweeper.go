package storage

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// 掃除ループの既定値
const (
	DefaultRetention     = 30 * time.Minute
	DefaultSweepInterval = 10 * time.Minute
)

// ArtifactLister は掃除対象の列挙と削除を提供します。
type ArtifactLister interface {
	List() ([]Artifact, error)
	Remove(path string) error
}

// Sweeper は保持期間を過ぎた成果物を定期的に削除します。
// ジョブ状態は参照せず、更新時刻だけで判断します。
type Sweeper struct {
	store     ArtifactLister
	retention time.Duration
	interval  time.Duration
	logger    *logrus.Logger
	now       func() time.Time
}

// NewSweeper は Sweeper を作成します。0 以下の期間には既定値を使用します。
func NewSweeper(store ArtifactLister, retention, interval time.Duration, logger *logrus.Logger) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Sweeper{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Run は ctx がキャンセルされるまで掃除を繰り返します。
// 個々のファイルの失敗でループが止まることはありません。
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithFields(logrus.Fields{
		"retention": s.retention.String(),
		"interval":  s.interval.String(),
	}).Info("artifact sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("artifact sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(s.now())
		}
	}
}

// SweepOnce は now 時点で保持期間を過ぎた成果物を削除し、削除件数を返します。
func (s *Sweeper) SweepOnce(now time.Time) int {
	artifacts, err := s.store.List()
	if err != nil {
		s.logger.WithError(err).Error("cleanup: failed to list artifacts")
		return 0
	}

	cutoff := now.Add(-s.retention)
	removed := 0
	for _, a := range artifacts {
		if !a.ModTime.Before(cutoff) {
			continue
		}
		if err := s.store.Remove(a.Path); err != nil {
			s.logger.WithError(err).WithField("path", a.Path).Warn("cleanup: failed to remove artifact")
			continue
		}
		removed++
		s.logger.WithFields(logrus.Fields{
			"name": a.Name,
			"role": a.Role,
		}).Info("cleanup: removed expired artifact")
	}
	return removed
}
