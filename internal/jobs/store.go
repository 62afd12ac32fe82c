package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrDuplicateJob は同じ ID のジョブが既に存在する場合に返されます。
	ErrDuplicateJob = errors.New("job already exists")
	// ErrJobNotFound は更新対象のジョブが存在しない場合に返されます。
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition は許可されていない状態遷移や進捗の後退を表します。
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// Store はジョブレコードの保存先です。
// Get は未知の ID に対して (nil, nil) を返します。返されるレコードは常にコピーです。
type Store interface {
	Create(ctx context.Context, record *Record) error
	Get(ctx context.Context, jobID string) (*Record, error)
	Update(ctx context.Context, jobID string, mutate func(*Record)) error
}

// applyUpdate は mutate をコピーに適用し、遷移と進捗の規則を満たす場合だけ新しいレコードを返します。
func applyUpdate(current *Record, mutate func(*Record), now time.Time) (*Record, error) {
	next := current.Clone()
	mutate(next)
	next.JobID = current.JobID
	next.CreatedAt = current.CreatedAt

	if !canTransition(current.Status, next.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next.Status)
	}
	if next.Progress < current.Progress {
		return nil, fmt.Errorf("%w: progress %d -> %d", ErrInvalidTransition, current.Progress, next.Progress)
	}
	if next.Progress > ProgressCompleted {
		next.Progress = ProgressCompleted
	}
	next.UpdatedAt = now
	return next, nil
}

// MemoryStore はプロセス内のマップにレコードを保持します。再起動で失われます。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create は新しいレコードを保存します。
func (s *MemoryStore) Create(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.JobID == "" {
		return fmt.Errorf("record.JobID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.JobID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, record.JobID)
	}
	stored := record.Clone()
	now := s.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.records[stored.JobID] = stored
	return nil
}

// Get はレコードのコピーを返します。
func (s *MemoryStore) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[jobID].Clone(), nil
}

// Update はレコードを書き換えます。規則に反する更新は適用されません。
func (s *MemoryStore) Update(ctx context.Context, jobID string, mutate func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	next, err := applyUpdate(current, mutate, s.now())
	if err != nil {
		return err
	}
	s.records[jobID] = next
	return nil
}
