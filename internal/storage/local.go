// Package storage はジョブの入力・出力ファイル（成果物）の保存先を管理します。
//
// 保存先は2つのディレクトリで構成されます。
//
//	<uploadDir>/<jobID><ext>        アップロードされた入力
//	<convertedDir>/<jobID>.<target> 変換結果
//
// パスはジョブIDから一意に決まるため、マニフェストファイルは持ちません。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrTooLarge はアップロードが上限サイズを超えた場合に返されます。
var ErrTooLarge = errors.New("file exceeds maximum upload size")

// Role は成果物の種別（入力/出力）を表します。
type Role string

const (
	RoleInput  Role = "input"
	RoleOutput Role = "output"
)

// Artifact は保存済みファイル1件の情報です。
type Artifact struct {
	Path    string
	Name    string
	Role    Role
	Size    int64
	ModTime time.Time
}

// LocalStore はローカルディスク上の成果物ストアです。
type LocalStore struct {
	uploadDir    string
	convertedDir string
	maxFileSize  int64
}

// NewLocalStore は保存先ディレクトリを作成して LocalStore を返します。
// maxFileSize が 0 以下の場合はサイズ制限を行いません。
func NewLocalStore(uploadDir, convertedDir string, maxFileSize int64) (*LocalStore, error) {
	if uploadDir == "" || convertedDir == "" {
		return nil, fmt.Errorf("storage directories are required")
	}
	for _, dir := range []string{uploadDir, convertedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage dir %s: %w", dir, err)
		}
	}
	return &LocalStore{
		uploadDir:    uploadDir,
		convertedDir: convertedDir,
		maxFileSize:  maxFileSize,
	}, nil
}

// MaxFileSize は1ファイルあたりの上限バイト数を返します。0 以下は無制限です。
func (s *LocalStore) MaxFileSize() int64 {
	return s.maxFileSize
}

// InputPath は入力ファイルのパスを返します。ext は "." を含む拡張子（空も可）です。
func (s *LocalStore) InputPath(jobID, ext string) string {
	return filepath.Join(s.uploadDir, jobID+ext)
}

// OutputPath は変換結果のパスを返します。
func (s *LocalStore) OutputPath(jobID, target string) string {
	return filepath.Join(s.convertedDir, jobID+"."+target)
}

// SaveInput はアップロードされた内容を入力ファイルとして保存し、パスとサイズを返します。
func (s *LocalStore) SaveInput(ctx context.Context, jobID, ext string, r io.Reader) (string, int64, error) {
	if jobID == "" {
		return "", 0, fmt.Errorf("jobID is required")
	}
	if r == nil {
		return "", 0, fmt.Errorf("reader is nil")
	}
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	path := s.InputPath(jobID, ext)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create input file: %w", err)
	}

	src := r
	if s.maxFileSize > 0 {
		// 上限を1バイト超えて読めたらサイズ超過
		src = io.LimitReader(r, s.maxFileSize+1)
	}
	written, copyErr := io.Copy(file, src)
	closeErr := file.Close()

	switch {
	case copyErr != nil:
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("failed to write input file: %w", copyErr)
	case closeErr != nil:
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("failed to close input file: %w", closeErr)
	case s.maxFileSize > 0 && written > s.maxFileSize:
		_ = os.Remove(path)
		return "", 0, ErrTooLarge
	}
	return path, written, nil
}

// Exists はパスに通常ファイルが存在するかを返します。
func (s *LocalStore) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// OpenOutput は変換結果を開きます。存在しない場合は fs.ErrNotExist をラップしたエラーを返します。
func (s *LocalStore) OpenOutput(jobID, target string) (*os.File, os.FileInfo, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, nil, fmt.Errorf("jobID is required: %w", fs.ErrNotExist)
	}
	file, err := os.Open(s.OutputPath(jobID, target))
	if err != nil {
		return nil, nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	if !info.Mode().IsRegular() {
		file.Close()
		return nil, nil, fmt.Errorf("output is not a regular file: %w", fs.ErrNotExist)
	}
	return file, info, nil
}

// List は両ディレクトリの通常ファイルを列挙します。
// 列挙中に消えたファイルは結果に含めません。
func (s *LocalStore) List() ([]Artifact, error) {
	var artifacts []Artifact
	for _, root := range []struct {
		dir  string
		role Role
	}{
		{dir: s.uploadDir, role: RoleInput},
		{dir: s.convertedDir, role: RoleOutput},
	} {
		entries, err := os.ReadDir(root.dir)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", root.dir, err)
		}
		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			artifacts = append(artifacts, Artifact{
				Path:    filepath.Join(root.dir, entry.Name()),
				Name:    entry.Name(),
				Role:    root.role,
				Size:    info.Size(),
				ModTime: info.ModTime(),
			})
		}
	}
	return artifacts, nil
}

// Remove は成果物を削除します。
func (s *LocalStore) Remove(path string) error {
	return os.Remove(path)
}
