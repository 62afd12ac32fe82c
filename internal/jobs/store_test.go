package jobs

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreCreateAndGetReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := &Record{JobID: "job-1", Status: StatusQueued, OriginalName: "a.png", TargetFormat: "pdf"}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	rec.OriginalName = "mutated"

	got, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OriginalName != "a.png" {
		t.Fatalf("store shares caller's record: %q", got.OriginalName)
	}
	got.Status = StatusCompleted
	again, _ := store.Get(ctx, "job-1")
	if again.Status != StatusQueued {
		t.Fatalf("store shares returned record: %s", again.Status)
	}
	if again.CreatedAt.IsZero() || again.UpdatedAt.IsZero() {
		t.Fatal("timestamps should be set")
	}
}

func TestMemoryStoreCreateDuplicate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, &Record{JobID: "dup", Status: StatusQueued}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := store.Create(ctx, &Record{JobID: "dup", Status: StatusQueued})
	if !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("err = %v, want ErrDuplicateJob", err)
	}
}

func TestMemoryStoreGetUnknown(t *testing.T) {
	store := NewMemoryStore()
	got, err := store.Get(context.Background(), "missing")
	if err != nil || got != nil {
		t.Fatalf("Get(missing) = %v, %v; want nil, nil", got, err)
	}
}

func TestMemoryStoreTransitions(t *testing.T) {
	cases := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"queued to processing", StatusQueued, StatusProcessing, true},
		{"queued to error", StatusQueued, StatusError, true},
		{"processing to completed", StatusProcessing, StatusCompleted, true},
		{"processing to error", StatusProcessing, StatusError, true},
		{"queued to completed", StatusQueued, StatusCompleted, false},
		{"completed to processing", StatusCompleted, StatusProcessing, false},
		{"error to completed", StatusError, StatusCompleted, false},
		{"completed to completed", StatusCompleted, StatusCompleted, false},
		{"processing to queued", StatusProcessing, StatusQueued, false},
		{"processing to processing", StatusProcessing, StatusProcessing, false},
		{"queued to queued", StatusQueued, StatusQueued, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewMemoryStore()
			ctx := context.Background()
			if err := store.Create(ctx, &Record{JobID: "j", Status: tc.from}); err != nil {
				t.Fatalf("Create: %v", err)
			}
			err := store.Update(ctx, "j", func(r *Record) { r.Status = tc.to })
			if tc.allowed && err != nil {
				t.Fatalf("Update: %v", err)
			}
			if !tc.allowed {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("err = %v, want ErrInvalidTransition", err)
				}
				got, _ := store.Get(ctx, "j")
				if got.Status != tc.from {
					t.Fatalf("rejected update changed status to %s", got.Status)
				}
			}
		})
	}
}

func TestMemoryStoreProgressNeverDecreases(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, &Record{JobID: "j", Status: StatusQueued}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Update(ctx, "j", func(r *Record) {
		r.Status = StatusProcessing
		r.Progress = ProgressProcessing
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	err := store.Update(ctx, "j", func(r *Record) { r.Progress = 5 })
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	got, _ := store.Get(ctx, "j")
	if got.Progress != ProgressProcessing {
		t.Fatalf("progress = %d, want %d", got.Progress, ProgressProcessing)
	}
}

func TestMemoryStoreUpdateKeepsIdentity(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, &Record{JobID: "j", Status: StatusQueued}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Update(ctx, "j", func(r *Record) {
		r.JobID = "other"
		r.Status = StatusProcessing
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got, _ := store.Get(ctx, "other"); got != nil {
		t.Fatal("update must not rename the record")
	}
	if err := store.Update(ctx, "missing", func(r *Record) {}); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}
