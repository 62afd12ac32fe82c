package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yourusername/anyconvert/internal/logging"
)

func newTestStore(t *testing.T, maxSize int64) *LocalStore {
	t.Helper()
	root := t.TempDir()
	store, err := NewLocalStore(filepath.Join(root, "uploads"), filepath.Join(root, "converted"), maxSize)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return store
}

func TestSaveInputAndPaths(t *testing.T) {
	store := newTestStore(t, 0)

	path, size, err := store.SaveInput(context.Background(), "job-1", ".png", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("SaveInput: %v", err)
	}
	if size != 4 {
		t.Fatalf("size = %d, want 4", size)
	}
	if path != store.InputPath("job-1", ".png") {
		t.Fatalf("unexpected path %s", path)
	}
	if filepath.Base(path) != "job-1.png" {
		t.Fatalf("input should be named by job id + ext, got %s", filepath.Base(path))
	}
	if filepath.Base(store.OutputPath("job-1", "pdf")) != "job-1.pdf" {
		t.Fatalf("unexpected output name %s", store.OutputPath("job-1", "pdf"))
	}
	if !store.Exists(path) {
		t.Fatal("expected input to exist")
	}
}

func TestSaveInputTooLarge(t *testing.T) {
	store := newTestStore(t, 3)

	_, _, err := store.SaveInput(context.Background(), "job-2", ".txt", strings.NewReader("abcd"))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
	if store.Exists(store.InputPath("job-2", ".txt")) {
		t.Fatal("partial input should be removed")
	}
}

func TestOpenOutputMissing(t *testing.T) {
	store := newTestStore(t, 0)

	_, _, err := store.OpenOutput("nope", "pdf")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("err = %v, want fs.ErrNotExist", err)
	}
}

func TestListIncludesBothRoles(t *testing.T) {
	store := newTestStore(t, 0)
	if _, _, err := store.SaveInput(context.Background(), "a", ".pdf", strings.NewReader("in")); err != nil {
		t.Fatalf("SaveInput: %v", err)
	}
	if err := os.WriteFile(store.OutputPath("a", "docx"), []byte("out"), 0o640); err != nil {
		t.Fatalf("write output: %v", err)
	}

	artifacts, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	roles := map[Role]int{}
	for _, a := range artifacts {
		roles[a.Role]++
	}
	if roles[RoleInput] != 1 || roles[RoleOutput] != 1 {
		t.Fatalf("unexpected roles: %#v", roles)
	}
}

func TestSweepOnceRemovesOnlyExpired(t *testing.T) {
	store := newTestStore(t, 0)
	now := time.Now()

	oldPath := store.OutputPath("old", "pdf")
	freshPath := store.OutputPath("fresh", "pdf")
	for _, p := range []string{oldPath, freshPath} {
		if err := os.WriteFile(p, []byte("x"), 0o640); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	oldTime := now.Add(-31 * time.Minute)
	if err := os.Chtimes(oldPath, oldTime, oldTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	freshTime := now.Add(-29 * time.Minute)
	if err := os.Chtimes(freshPath, freshTime, freshTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	sweeper := NewSweeper(store, 30*time.Minute, time.Minute, logging.Discard())
	if removed := sweeper.SweepOnce(now); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if store.Exists(oldPath) {
		t.Fatal("expired artifact should be removed")
	}
	if !store.Exists(freshPath) {
		t.Fatal("fresh artifact should survive")
	}
}

type failingLister struct {
	artifacts []Artifact
	removed   []string
}

func (f *failingLister) List() ([]Artifact, error) { return f.artifacts, nil }

func (f *failingLister) Remove(path string) error {
	if strings.Contains(path, "locked") {
		return errors.New("permission denied")
	}
	f.removed = append(f.removed, path)
	return nil
}

func TestSweepOnceContinuesAfterRemoveFailure(t *testing.T) {
	old := time.Now().Add(-time.Hour)
	lister := &failingLister{artifacts: []Artifact{
		{Path: "locked.pdf", ModTime: old},
		{Path: "next.pdf", ModTime: old},
	}}

	sweeper := NewSweeper(lister, 30*time.Minute, time.Minute, logging.Discard())
	if removed := sweeper.SweepOnce(time.Now()); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if len(lister.removed) != 1 || lister.removed[0] != "next.pdf" {
		t.Fatalf("unexpected removals: %#v", lister.removed)
	}
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	store := newTestStore(t, 0)
	sweeper := NewSweeper(store, time.Minute, 5*time.Millisecond, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
