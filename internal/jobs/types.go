// Package jobs は変換ジョブの状態管理と非同期実行を提供します。
package jobs

import "time"

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"

	// StatusNotFound は存在しないジョブを問い合わせたときにだけ返す値で、保存はされません。
	StatusNotFound Status = "not_found"
)

// 進捗の節目
const (
	ProgressQueued     = 0
	ProgressProcessing = 20
	ProgressCompleted  = 100
)

// Terminal は終了状態かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Record はジョブの現在状態を表します。
// JSON のキーは既存クライアントが参照する名前に合わせています。
type Record struct {
	JobID        string    `json:"task_id"`
	Status       Status    `json:"status"`
	Progress     int       `json:"progress"`
	OriginalName string    `json:"original_name"`
	TargetFormat string    `json:"target_format"`
	OutputName   string    `json:"output_name"`
	SourceExt    string    `json:"source_ext,omitempty"`
	Message      string    `json:"message,omitempty"`
	Checksum     string    `json:"checksum,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone は共有されないコピーを返します。
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// canTransition は状態遷移が許可されているかを返します。
// processing への遷移は queued からの1回だけで、これが実行権の獲得になります。
func canTransition(from, to Status) bool {
	if from == to {
		return from == StatusQueued
	}
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusError
	case StatusProcessing:
		return to == StatusCompleted || to == StatusError
	default:
		return false
	}
}
