package database

import (
	"context"
	"errors"
	"testing"

	"tasvid/internal/models"
)

// exerciseStore runs the behaviour every engine must share against a
// freshly cleared store
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	if err := store.Append(ctx, entry("contract-a", "/dl/a.mp4")); err != nil {
		t.Fatalf("Append(a) error = %v", err)
	}
	if err := store.Append(ctx, entry("contract-b", "/dl/b.mp4")); err != nil {
		t.Fatalf("Append(b) error = %v", err)
	}
	if err := store.Append(ctx, entry("contract-a", "/dl/a.mp4")); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate Append() error = %v, want ErrDuplicate", err)
	}

	entries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "contract-a" || entries[1].ID != "contract-b" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	n, err := store.RewritePath(ctx, "/dl/a.mp4", "/dl/renamed.mp4")
	if err != nil || n != 1 {
		t.Fatalf("RewritePath() = %d, %v", n, err)
	}
	got, err := store.Get(ctx, "contract-a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Path != "/dl/renamed.mp4" || got.Title != "renamed" {
		t.Errorf("entry not rewritten: %+v", got)
	}

	if err := store.Delete(ctx, "contract-b"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "contract-b"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want not found", err)
	}
	if _, err := store.Get(ctx, "contract-b"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Get(deleted) error = %v, want not found", err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	entries, err = store.List(ctx)
	if err != nil || len(entries) != 0 {
		t.Errorf("List() after Clear = %+v, %v", entries, err)
	}
}
