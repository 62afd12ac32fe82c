package convert

import (
	"errors"
	"fmt"
)

// エラーコード
const (
	CodeUnsupported = "UNSUPPORTED_CONVERSION"
	CodeFailed      = "CONVERSION_FAILED"
	CodeInvalid     = "INVALID_INPUT"
)

// Error は変換処理の失敗を表します。Message はそのままジョブのエラーメッセージになります。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IsUnsupported は環境上サポートされない変換による失敗かを返します。
func IsUnsupported(err error) bool {
	var convErr *Error
	return errors.As(err, &convErr) && convErr.Code == CodeUnsupported
}
