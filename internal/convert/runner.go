package convert

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// Runner は外部コマンドの実行を抽象化します（テストで差し替え可能）。
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// NewExecRunner は exec.CommandContext で実行する Runner を返します。
func NewExecRunner(logger *logrus.Logger) Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return execRunner{logger: logger}
}

type execRunner struct {
	logger *logrus.Logger
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	fields := logrus.Fields{
		"cmd":         name,
		"args":        strings.Join(args, " "),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		fields["stderr"] = truncate(errb.String(), 8<<10)
		r.logger.WithFields(fields).WithError(err).Error("exec failed")
	} else {
		r.logger.WithFields(fields).Debug("exec ok")
	}

	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// マルチバイト文字の途中で切らない
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}
