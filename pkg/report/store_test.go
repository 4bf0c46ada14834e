package report

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "reports.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_AppendGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := sampleReport(StatusPassed, StatusFailed)
	r.Finalize(80, 2*time.Second, 2*time.Second)
	if err := s.Append(ctx, r); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if mustJSON(t, got) != mustJSON(t, r) {
		t.Error("stored report differs from the appended one")
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStore_AppendDuplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := sampleReport(StatusPassed)
	if err := s.Append(ctx, r); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx, r); err == nil {
		t.Error("appending the same id twice should fail")
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		r := sampleReport(StatusPassed, StatusPassed, StatusPassed, StatusFailed)
		r.GeneratedAt = base.Add(time.Duration(i) * time.Minute)
		r.Finalize(80, time.Second, 0)
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		ids = append(ids, r.ID)
	}

	entries, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(List) = %d, want 3", len(entries))
	}
	for i, e := range entries {
		if want := ids[2-i]; e.ID != want {
			t.Errorf("entries[%d].ID = %s, want %s", i, e.ID, want)
		}
	}
	if e := entries[0]; e.SuccessRate != 75 || e.Meets || e.TotalTests != 4 || e.Passed != 3 {
		t.Errorf("entry = %+v, want 3/4 at 75%% missing target", e)
	}
	if !entries[0].GeneratedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("GeneratedAt = %v, want %v", entries[0].GeneratedAt, base.Add(2*time.Minute))
	}

	limited, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("List(2): %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("len(List(2)) = %d, want 2", len(limited))
	}
}
