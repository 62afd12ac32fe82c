// Package api は変換ジョブの HTTP ハンドラーを提供します。
package api

import (
	"errors"
	"fmt"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/anyconvert/internal/bundle"
	"github.com/yourusername/anyconvert/internal/convert"
	"github.com/yourusername/anyconvert/internal/jobs"
	"github.com/yourusername/anyconvert/internal/session"
	"github.com/yourusername/anyconvert/internal/storage"
)

const (
	serviceName    = "anyconvert-api"
	serviceVersion = "0.1.0"
)

// Handler は HTTP リクエストをジョブ操作に変換します。
type Handler struct {
	manager   *jobs.Manager
	bundles   *bundle.Service
	artifacts *storage.LocalStore
	logger    *logrus.Logger
}

// NewHandler は Handler を作成します。
func NewHandler(manager *jobs.Manager, bundles *bundle.Service, artifacts *storage.LocalStore, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		manager:   manager,
		bundles:   bundles,
		artifacts: artifacts,
		logger:    logger,
	}
}

// uploadResult は受け付けたファイルごとの応答です。
type uploadResult struct {
	TaskID   string `json:"task_id"`
	Filename string `json:"filename"`
	Target   string `json:"target"`
	Error    string `json:"error,omitempty"`
}

// uploadErrorMessage は受け付けられなかったファイルの理由を返します。
func uploadErrorMessage(err error) string {
	if errors.Is(err, storage.ErrTooLarge) {
		return "File too large"
	}
	return "Failed to accept upload"
}

// Upload は POST /upload のハンドラーです。
func (h *Handler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, http.StatusBadRequest, convert.CodeInvalid, "multipart/form-data で files[] を送ってください。", "No files uploaded")
		return
	}
	files := form.File["files[]"]
	if len(files) == 0 {
		files = form.File["files"]
	}
	if len(files) == 0 {
		respondError(c, http.StatusBadRequest, convert.CodeInvalid, "ファイルが指定されていません。", "No files uploaded")
		return
	}

	target := strings.TrimSpace(c.PostForm("target_format"))
	if target == "" {
		target = jobs.DefaultTarget
	}

	// 1件でも上限を超えていればジョブを作る前にまとめて拒否する
	accepted := make([]*multipart.FileHeader, 0, len(files))
	for _, fh := range files {
		if strings.TrimSpace(fh.Filename) == "" {
			continue
		}
		if limit := h.artifacts.MaxFileSize(); limit > 0 && fh.Size > limit {
			respondError(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
				"ファイルサイズが上限を超えています。", fmt.Sprintf("File too large: %s", fh.Filename))
			return
		}
		accepted = append(accepted, fh)
	}
	if len(accepted) == 0 {
		respondError(c, http.StatusBadRequest, convert.CodeInvalid, "有効なファイル名がありません。", "No files uploaded")
		return
	}

	results := make([]uploadResult, 0, len(accepted))
	var firstErr error
	for _, fh := range accepted {
		record, err := h.submit(c, fh, target)
		if err != nil {
			h.logger.WithError(err).WithField("filename", fh.Filename).Warn("failed to accept upload")
			if firstErr == nil {
				firstErr = err
			}
			results = append(results, uploadResult{Filename: fh.Filename, Target: target, Error: uploadErrorMessage(err)})
			continue
		}
		results = append(results, uploadResult{
			TaskID:   record.JobID,
			Filename: record.OriginalName,
			Target:   record.TargetFormat,
		})
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		if r.TaskID != "" {
			ids = append(ids, r.TaskID)
		}
	}
	if len(ids) == 0 {
		if errors.Is(firstErr, storage.ErrTooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
				"ファイルサイズが上限を超えています。", "File too large")
			return
		}
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR",
			"ファイルの受け付けに失敗しました。", "Failed to accept upload")
		return
	}
	if err := session.Remember(c, ids...); err != nil {
		h.logger.WithError(err).Debug("failed to save session history")
	}

	c.JSON(http.StatusAccepted, results)
}

func (h *Handler) submit(c *gin.Context, fh *multipart.FileHeader, target string) (*jobs.Record, error) {
	file, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return h.manager.Submit(c.Request.Context(), jobs.Submission{
		Filename: fh.Filename,
		Target:   target,
		Body:     file,
	})
}

// Status は GET /status/:id のハンドラーです。未知の ID でも 200 で not_found を返します。
func (h *Handler) Status(c *gin.Context) {
	record, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.WithError(err).Error("failed to load job")
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "ジョブ情報の取得に失敗しました。", "Failed to load task")
		return
	}
	if record == nil {
		c.JSON(http.StatusOK, gin.H{"status": jobs.StatusNotFound})
		return
	}
	c.JSON(http.StatusOK, record)
}

// Download は GET /download/:id のハンドラーです。
func (h *Handler) Download(c *gin.Context) {
	jobID := c.Param("id")
	record, err := h.manager.Get(c.Request.Context(), jobID)
	if err != nil {
		h.logger.WithError(err).Error("failed to load job")
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "ジョブ情報の取得に失敗しました。", "Failed to load task")
		return
	}
	if record == nil {
		respondError(c, http.StatusNotFound, "JOB_NOT_FOUND", "指定されたジョブは存在しません。", "Task not found")
		return
	}
	if record.Status != jobs.StatusCompleted {
		respondError(c, http.StatusNotFound, "JOB_RESULT_NOT_FOUND", "ジョブの成果物が見つかりませんでした。", "File not ready or missing")
		return
	}

	file, info, err := h.artifacts.OpenOutput(record.JobID, record.TargetFormat)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			respondError(c, http.StatusNotFound, "JOB_RESULT_NOT_FOUND", "ジョブの成果物が見つかりませんでした。", "File not ready or missing")
			return
		}
		h.logger.WithError(err).WithField("job_id", jobID).Error("failed to open output")
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "ジョブの成果物取得に失敗しました。", "Failed to open file")
		return
	}
	defer file.Close()

	contentType := convert.ContentTypeFor(record.TargetFormat)
	c.Header("Content-Disposition", contentDisposition(record.OutputName))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Job-Id", record.JobID)
	if record.Checksum != "" {
		c.Header("ETag", `"`+record.Checksum+`"`)
	}
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
}

type downloadAllRequest struct {
	TaskIDs []string `json:"task_ids"`
}

// DownloadAll は POST /download-all のハンドラーです。
func (h *Handler) DownloadAll(c *gin.Context) {
	var req downloadAllRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, convert.CodeInvalid, "task_ids を JSON で送ってください。", "No tasks provided")
		return
	}

	archive, err := h.bundles.Build(c.Request.Context(), req.TaskIDs)
	if err != nil {
		if errors.Is(err, bundle.ErrNoJobs) {
			respondError(c, http.StatusBadRequest, convert.CodeInvalid, "task_ids が空です。", "No tasks provided")
			return
		}
		h.logger.WithError(err).Error("failed to build bundle")
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "ZIP の作成に失敗しました。", "Failed to build archive")
		return
	}

	c.Header("Content-Disposition", contentDisposition(archive.Name))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "application/zip", archive.Data)
}

// History は GET /jobs のハンドラーです。セッションに記録された新しい順のジョブを返します。
func (h *Handler) History(c *gin.Context) {
	ids := session.Recent(c)
	records := make([]*jobs.Record, 0, len(ids))
	for _, id := range ids {
		record, err := h.manager.Get(c.Request.Context(), id)
		if err != nil {
			h.logger.WithError(err).WithField("job_id", id).Warn("failed to load job for history")
			continue
		}
		if record != nil {
			records = append(records, record)
		}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": records})
}

// Health はヘルスチェックのハンドラーです。
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": serviceName,
		"version": serviceVersion,
	})
}

// Stats はジョブの累計とワーカーの稼働状況を返します。
func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Stats())
}

func respondError(c *gin.Context, status int, code, message, legacy string) {
	c.JSON(status, gin.H{
		"code":    code,
		"message": message,
		"error":   legacy,
	})
}

// contentDisposition は非 ASCII のファイル名も扱える attachment ヘッダーを返します。
func contentDisposition(name string) string {
	fallback := strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, name)
	return fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", fallback, url.PathEscape(name))
}
