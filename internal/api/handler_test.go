package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/anyconvert/internal/bundle"
	"github.com/yourusername/anyconvert/internal/convert"
	"github.com/yourusername/anyconvert/internal/jobs"
	"github.com/yourusername/anyconvert/internal/logging"
	"github.com/yourusername/anyconvert/internal/session"
	"github.com/yourusername/anyconvert/internal/storage"
)

type inlineDispatcher struct {
	manager *jobs.Manager
	hold    bool
}

func (d *inlineDispatcher) Dispatch(ctx context.Context, jobID string) error {
	if d.hold {
		return nil
	}
	_ = d.manager.Run(ctx, jobID)
	return nil
}

type testServer struct {
	router    *gin.Engine
	manager   *jobs.Manager
	artifacts *storage.LocalStore
	dispatch  *inlineDispatcher
}

func newTestServer(t *testing.T, maxSize int64) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	artifacts, err := storage.NewLocalStore(filepath.Join(root, "uploads"), filepath.Join(root, "converted"), maxSize)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	converter := convert.ConverterFunc(func(ctx context.Context, req convert.Request) error {
		if req.SourceExt == ".broken" {
			return errors.New("cannot read input")
		}
		data, err := os.ReadFile(req.InputPath)
		if err != nil {
			return err
		}
		return os.WriteFile(req.OutputPath, append([]byte("converted:"), data...), 0o640)
	})
	logger := logging.Discard()
	store := jobs.NewMemoryStore()
	manager, err := jobs.NewManager(store, artifacts, converter, logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	dispatch := &inlineDispatcher{manager: manager}
	manager.UseDispatcher(dispatch)

	router := gin.New()
	router.Use(session.Middleware(session.NewCookieStore("test-secret", false)))
	h := NewHandler(manager, bundle.NewService(store, artifacts, logger), artifacts, logger)
	RegisterRoutes(router, h, nil)

	return &testServer{router: router, manager: manager, artifacts: artifacts, dispatch: dispatch}
}

type uploadFile struct {
	field   string
	name    string
	content string
}

func (s *testServer) upload(t *testing.T, target string, files ...uploadFile) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, f := range files {
		part, err := writer.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := part.Write([]byte(f.content)); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if target != "" {
		if err := writer.WriteField("target_format", target); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) get(t *testing.T, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeUploads(t *testing.T, w *httptest.ResponseRecorder) []uploadResult {
	t.Helper()
	var results []uploadResult
	if err := json.Unmarshal(w.Body.Bytes(), &results); err != nil {
		t.Fatalf("failed to decode upload response: %v (%s)", err, w.Body.String())
	}
	return results
}

func TestUploadAcceptsFilesWithDefaultTarget(t *testing.T) {
	s := newTestServer(t, 0)

	w := s.upload(t, "", uploadFile{"files[]", "a.txt", "alpha"}, uploadFile{"files[]", "b.png", "beta"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	results := decodeUploads(t, w)
	if len(results) != 2 {
		t.Fatalf("unexpected results: %#v", results)
	}
	for i, name := range []string{"a.txt", "b.png"} {
		if results[i].Filename != name || results[i].Target != "docx" || results[i].TaskID == "" {
			t.Fatalf("results[%d] = %#v", i, results[i])
		}
	}
	if results[0].TaskID == results[1].TaskID {
		t.Fatal("task ids must be unique")
	}
}

func TestUploadWithoutFiles(t *testing.T) {
	s := newTestServer(t, 0)
	w := s.upload(t, "pdf")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var payload map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &payload)
	if payload["code"] != "INVALID_INPUT" || payload["error"] == "" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestUploadSkipsEmptyFilenames(t *testing.T) {
	s := newTestServer(t, 0)
	w := s.upload(t, "pdf", uploadFile{"files[]", "", "ignored"}, uploadFile{"files[]", "keep.txt", "x"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if results := decodeUploads(t, w); len(results) != 1 || results[0].Filename != "keep.txt" {
		t.Fatalf("unexpected results: %#v", results)
	}
}

func TestUploadTooLarge(t *testing.T) {
	s := newTestServer(t, 4)
	w := s.upload(t, "pdf", uploadFile{"files[]", "big.txt", "0123456789"})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
}

func TestUploadRejectsWholeBatchWhenOneFileTooLarge(t *testing.T) {
	s := newTestServer(t, 16)
	w := s.upload(t, "pdf",
		uploadFile{"files[]", "a.txt", "small"},
		uploadFile{"files[]", "b.txt", strings.Repeat("x", 64)},
	)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if stats := s.manager.Stats(); stats.Submitted != 0 || stats.Completed != 0 {
		t.Fatalf("no job should be created: %+v", stats)
	}
	artifacts, err := s.artifacts.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(artifacts) != 0 {
		t.Fatalf("no file should be stored, got %d", len(artifacts))
	}
}

func TestStatusLifecycle(t *testing.T) {
	s := newTestServer(t, 0)

	w := s.get(t, "/status/unknown-id")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"not_found"`) {
		t.Fatalf("unexpected unknown status: %d %s", w.Code, w.Body.String())
	}

	s.dispatch.hold = true
	results := decodeUploads(t, s.upload(t, "pdf", uploadFile{"files", "report.txt", "hello"}))
	w = s.get(t, "/status/"+results[0].TaskID)
	var record jobs.Record
	if err := json.Unmarshal(w.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record.Status != jobs.StatusQueued || record.Progress != 0 || record.OriginalName != "report.txt" || record.OutputName != "report.pdf" {
		t.Fatalf("unexpected queued record: %+v", record)
	}

	if err := s.manager.Run(context.Background(), results[0].TaskID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	w = s.get(t, "/status/"+results[0].TaskID)
	_ = json.Unmarshal(w.Body.Bytes(), &record)
	if record.Status != jobs.StatusCompleted || record.Progress != 100 {
		t.Fatalf("unexpected completed record: %+v", record)
	}
}

func TestDownload(t *testing.T) {
	s := newTestServer(t, 0)
	results := decodeUploads(t, s.upload(t, "pdf", uploadFile{"files[]", "報告書.txt", "hello"}))

	w := s.get(t, "/download/"+results[0].TaskID)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "converted:hello" {
		t.Fatalf("body = %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content type = %s", ct)
	}
	cd := w.Header().Get("Content-Disposition")
	if !strings.Contains(cd, "filename*=UTF-8''%E5%A0%B1%E5%91%8A%E6%9B%B8.pdf") {
		t.Fatalf("content disposition = %s", cd)
	}
	if w.Header().Get("ETag") == "" {
		t.Fatal("ETag header is missing")
	}
}

func TestDownloadErrors(t *testing.T) {
	s := newTestServer(t, 0)

	w := s.get(t, "/download/unknown")
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "Task not found") {
		t.Fatalf("unknown: %d %s", w.Code, w.Body.String())
	}

	failed := decodeUploads(t, s.upload(t, "pdf", uploadFile{"files[]", "x.broken", "x"}))
	w = s.get(t, "/download/"+failed[0].TaskID)
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "File not ready or missing") {
		t.Fatalf("failed job: %d %s", w.Code, w.Body.String())
	}

	done := decodeUploads(t, s.upload(t, "pdf", uploadFile{"files[]", "y.txt", "y"}))
	if err := os.Remove(s.artifacts.OutputPath(done[0].TaskID, "pdf")); err != nil {
		t.Fatalf("remove output: %v", err)
	}
	w = s.get(t, "/download/"+done[0].TaskID)
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "File not ready or missing") {
		t.Fatalf("swept output: %d %s", w.Code, w.Body.String())
	}
}

func TestDownloadAll(t *testing.T) {
	s := newTestServer(t, 0)
	results := decodeUploads(t, s.upload(t, "pdf",
		uploadFile{"files[]", "a.txt", "A"},
		uploadFile{"files[]", "b.broken", "B"},
		uploadFile{"files[]", "c.txt", "C"},
	))
	ids := []string{results[0].TaskID, results[1].TaskID, "missing", results[2].TaskID}
	body, _ := json.Marshal(map[string][]string{"task_ids": ids})

	req := httptest.NewRequest(http.MethodPost, "/download-all", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("content type = %s", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "AnyConvert_Converted_") {
		t.Fatalf("content disposition = %s", cd)
	}
	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	if err != nil {
		t.Fatalf("zip.NewReader: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	if strings.Join(names, ",") != "a.pdf,c.pdf" {
		t.Fatalf("zip entries = %v", names)
	}
}

func TestDownloadAllEmpty(t *testing.T) {
	s := newTestServer(t, 0)
	req := httptest.NewRequest(http.MethodPost, "/download-all", strings.NewReader(`{"task_ids":[]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "No tasks provided") {
		t.Fatalf("unexpected response: %d %s", w.Code, w.Body.String())
	}
}

func TestHistoryFollowsSession(t *testing.T) {
	s := newTestServer(t, 0)
	w := s.upload(t, "pdf", uploadFile{"files[]", "a.txt", "A"})
	results := decodeUploads(t, w)
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("session cookie was not set")
	}

	w = s.get(t, "/jobs", cookies...)
	var payload struct {
		Jobs []jobs.Record `json:"jobs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Jobs) != 1 || payload.Jobs[0].JobID != results[0].TaskID {
		t.Fatalf("unexpected history: %+v", payload.Jobs)
	}

	w = s.get(t, "/jobs")
	if !strings.Contains(w.Body.String(), `"jobs":[]`) {
		t.Fatalf("history without session = %s", w.Body.String())
	}
}

func TestHealthAndStats(t *testing.T) {
	s := newTestServer(t, 0)
	if w := s.get(t, "/health"); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), serviceName) {
		t.Fatalf("health: %d %s", w.Code, w.Body.String())
	}
	decodeUploads(t, s.upload(t, "pdf", uploadFile{"files[]", "a.txt", "A"}))
	w := s.get(t, "/stats")
	var stats jobs.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Submitted != 1 || stats.Completed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestContentDisposition(t *testing.T) {
	got := contentDisposition(`we"ird.pdf`)
	if got != `attachment; filename="we_ird.pdf"; filename*=UTF-8''we%22ird.pdf` {
		t.Fatalf("contentDisposition = %s", got)
	}
}
