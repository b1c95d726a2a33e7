package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/adcapture/internal/capture"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "captures.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	s.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return s
}

func req(url string) capture.Request {
	return capture.Request{
		Channel:        capture.ChannelGDN,
		PublisherURL:   url,
		CreativeURL:    "https://cdn.example.com/ad.png",
		ClickURL:       "https://shop.example.com",
		CaptureLanding: true,
		InjectionMode:  capture.ModeCustom,
		SlotCount:      2,
	}
}

func TestCreateAndGet(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, req("https://news.example.com/a"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rec.ID == "" || rec.Status != StatusPending {
		t.Fatalf("Create() = %+v", rec)
	}
	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Request.ID != rec.ID || got.Request.SlotCount != 2 || !got.Request.CaptureLanding ||
		got.Request.InjectionMode != capture.ModeCustom || got.Request.ClickURL != "https://shop.example.com" {
		t.Fatalf("Get().Request = %+v", got.Request)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v; want ErrNotFound", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	rec, _ := s.Create(ctx, req("https://news.example.com/a"))

	if err := s.MarkProcessing(ctx, rec.ID); err != nil {
		t.Fatalf("MarkProcessing() error = %v", err)
	}
	if err := s.MarkProcessing(ctx, rec.ID); !errors.Is(err, ErrNotPending) {
		t.Fatalf("second MarkProcessing() error = %v; want ErrNotPending", err)
	}
	if err := s.MarkProcessing(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MarkProcessing(missing) error = %v; want ErrNotFound", err)
	}

	diag := map[string]int{"slots_injected": 1}
	err := s.Complete(ctx, rec.ID, Completion{
		PlacementSnapshotID: "snap-1",
		LandingFinalURL:     "https://shop.example.com/final",
		Duration:            1500 * time.Millisecond,
		Diagnostics:         diag,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	got, _ := s.Get(ctx, rec.ID)
	if got.Status != StatusCompleted || got.PlacementSnapshotID != "snap-1" || got.DurationMS != 1500 {
		t.Fatalf("completed record = %+v", got)
	}
	if !strings.Contains(string(got.Diagnostics), `"slots_injected":1`) {
		t.Fatalf("Diagnostics = %s", got.Diagnostics)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Fatalf("UpdatedAt %v not after CreatedAt %v", got.UpdatedAt, got.CreatedAt)
	}
}

func TestFail(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	rec, _ := s.Create(ctx, req("https://news.example.com/a"))
	diag := map[string]string{"outcome": "failed", "failed_stage": "loading"}
	if err := s.Fail(ctx, rec.ID, "NAVIGATION_FAILED: timeout", time.Second, diag); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	got, _ := s.Get(ctx, rec.ID)
	if got.Status != StatusFailed || got.ErrorMessage != "NAVIGATION_FAILED: timeout" {
		t.Fatalf("failed record = %+v", got)
	}
	if !strings.Contains(string(got.Diagnostics), `"failed_stage":"loading"`) {
		t.Fatalf("failed record diagnostics = %s", got.Diagnostics)
	}

	other, _ := s.Create(ctx, req("https://news.example.com/b"))
	if err := s.Fail(ctx, other.ID, "x", 0, nil); err != nil {
		t.Fatalf("Fail(nil diagnostics) error = %v", err)
	}
	if got, _ := s.Get(ctx, other.ID); got.Diagnostics != nil {
		t.Fatalf("diagnostics = %s; want none", got.Diagnostics)
	}
	if err := s.Fail(ctx, "missing", "x", 0, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Fail(missing) error = %v; want ErrNotFound", err)
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	a, _ := s.Create(ctx, req("https://a.example.com"))
	b, _ := s.Create(ctx, req("https://b.example.com"))
	c, _ := s.Create(ctx, req("https://c.example.com"))
	_ = s.MarkProcessing(ctx, b.ID)

	all, err := s.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 || all[0].ID != c.ID || all[2].ID != a.ID {
		t.Fatalf("List() order = %v", ids(all))
	}
	pending, _ := s.List(ctx, StatusPending, 10)
	if len(pending) != 2 {
		t.Fatalf("List(pending) = %v", ids(pending))
	}
	limited, _ := s.List(ctx, "", 1)
	if len(limited) != 1 {
		t.Fatalf("List(limit 1) = %v", ids(limited))
	}
}

func TestResetStale(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	a, _ := s.Create(ctx, req("https://a.example.com"))
	_, _ = s.Create(ctx, req("https://b.example.com"))
	_ = s.MarkProcessing(ctx, a.ID)

	n, err := s.ResetStale(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ResetStale() = %d, %v; want 1", n, err)
	}
	got, _ := s.Get(ctx, a.ID)
	if got.Status != StatusPending {
		t.Fatalf("Status = %s; want pending", got.Status)
	}
}

func ids(rs []Record) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}
