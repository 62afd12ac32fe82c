// Package bundle は完了したジョブの成果物を1つの ZIP にまとめます。
package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/anyconvert/internal/jobs"
)

// ErrNoJobs はジョブ ID が1件も指定されなかった場合に返されます。
var ErrNoJobs = errors.New("no tasks provided")

// RecordGetter はジョブレコードを取得します。jobs.Store が満たします。
type RecordGetter interface {
	Get(ctx context.Context, jobID string) (*jobs.Record, error)
}

// OutputOpener は変換結果を開きます。*storage.LocalStore が満たします。
type OutputOpener interface {
	OpenOutput(jobID, target string) (*os.File, os.FileInfo, error)
}

// Archive はメモリ上に作成した ZIP です。
type Archive struct {
	Name  string
	Data  []byte
	Files []string
}

// Service は ZIP の作成を担います。
type Service struct {
	records RecordGetter
	outputs OutputOpener
	logger  *logrus.Logger
	now     func() time.Time
}

// NewService は Service を作成します。
func NewService(records RecordGetter, outputs OutputOpener, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		records: records,
		outputs: outputs,
		logger:  logger,
		now:     time.Now,
	}
}

// Build は指定順に完了済みジョブの成果物を格納した ZIP を作成します。
// 存在しない、未完了、または削除済みのジョブは黙って読み飛ばします。
func (s *Service) Build(ctx context.Context, jobIDs []string) (*Archive, error) {
	if len(jobIDs) == 0 {
		return nil, ErrNoJobs
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := newNameSet()
	var files []string

	for _, id := range jobIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		record, err := s.records.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load job %s: %w", id, err)
		}
		if record == nil || record.Status != jobs.StatusCompleted {
			continue
		}

		name, err := s.addOutput(zw, record, names)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				s.logger.WithField("job_id", id).Debug("output already removed, skipping")
				continue
			}
			return nil, err
		}
		files = append(files, name)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zipの作成に失敗しました: %w", err)
	}
	return &Archive{
		Name:  fmt.Sprintf("AnyConvert_Converted_%d.zip", s.now().Unix()),
		Data:  buf.Bytes(),
		Files: files,
	}, nil
}

func (s *Service) addOutput(zw *zip.Writer, record *jobs.Record, names *nameSet) (string, error) {
	file, info, err := s.outputs.OpenOutput(record.JobID, record.TargetFormat)
	if err != nil {
		return "", err
	}
	defer file.Close()

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return "", fmt.Errorf("zipヘッダーの生成に失敗しました: %w", err)
	}
	header.Name = names.unique(record.OutputName)
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return "", fmt.Errorf("zipヘッダーの書き込みに失敗しました: %w", err)
	}
	if _, err := io.Copy(writer, file); err != nil {
		return "", fmt.Errorf("zipへの書き込みに失敗しました: %w", err)
	}
	return header.Name, nil
}

// nameSet はアーカイブ内の名前の重複を避けます。
type nameSet struct {
	used map[string]bool
}

func newNameSet() *nameSet {
	return &nameSet{used: make(map[string]bool)}
}

// unique は "report.pdf" が使用済みなら "report (2).pdf" のように番号を付けた名前を返します。
func (n *nameSet) unique(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		name = "output"
	}
	candidate := name
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 2; n.used[candidate]; i++ {
		candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
	}
	n.used[candidate] = true
	return candidate
}
