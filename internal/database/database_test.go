package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/TobiSchelling/contentforge/internal/history"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

func record(title string) history.Record {
	return history.Record{
		Title:           title,
		TitleNormalized: history.Normalize(title),
		ContentHash:     history.Fingerprint(title, "preview"),
		Topic:           "ai_automation",
		Excerpt:         "excerpt",
		Snippet:         "preview",
		Unit:            "blog",
		CreatedAt:       time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC),
	}
}

func TestHistoryEmpty(t *testing.T) {
	db := openTestDB(t)
	snap, err := db.History().Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Records) != 0 || snap.Version != 0 {
		t.Errorf("expected empty snapshot at version 0, got %d records at %d", len(snap.Records), snap.Version)
	}
}

func TestHistoryAppendAndLoad(t *testing.T) {
	db := openTestDB(t)
	h := db.History()
	ctx := context.Background()

	v, err := h.Append(ctx, record("First"), 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1 {
		t.Errorf("expected version 1, got %d", v)
	}

	snap, err := h.Load(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(snap.Records))
	}
	got := snap.Records[0]
	want := record("First")
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("expected created_at %s, got %s", want.CreatedAt, got.CreatedAt)
	}
	got.CreatedAt = want.CreatedAt
	if got != want {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestHistoryAppendTrimsToCapacity(t *testing.T) {
	db := openTestDB(t)
	h := db.History()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := h.Append(ctx, record(fmt.Sprintf("Post %d", i)), 3, int64(i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	snap, _ := h.Load(ctx)
	if len(snap.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(snap.Records))
	}
	if snap.Records[0].Title != "Post 2" || snap.Records[2].Title != "Post 4" {
		t.Errorf("expected oldest-first Post 2..Post 4, got %q..%q", snap.Records[0].Title, snap.Records[2].Title)
	}
	if snap.Version != 5 {
		t.Errorf("expected version 5, got %d", snap.Version)
	}
}

func TestHistoryStaleVersionConflicts(t *testing.T) {
	db := openTestDB(t)
	h := db.History()
	ctx := context.Background()

	if _, err := h.Append(ctx, record("A"), 10, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := h.Append(ctx, record("B"), 10, 0)
	if !errors.Is(err, history.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	snap, _ := h.Load(ctx)
	if len(snap.Records) != 1 {
		t.Errorf("conflicting write must not insert, got %d records", len(snap.Records))
	}
}

func TestHistoryReplace(t *testing.T) {
	db := openTestDB(t)
	h := db.History()
	ctx := context.Background()

	h.Append(ctx, record("A"), 10, 0)
	h.Append(ctx, record("B"), 10, 1)

	v, err := h.Replace(ctx, []history.Record{record("B")}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 3 {
		t.Errorf("expected version 3, got %d", v)
	}
	snap, _ := h.Load(ctx)
	if len(snap.Records) != 1 || snap.Records[0].Title != "B" {
		t.Errorf("expected only B, got %+v", snap.Records)
	}

	if _, err := h.Replace(ctx, nil, 2); !errors.Is(err, history.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestHistoryStoreOnSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	ctx := context.Background()

	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	store, err := history.Open(ctx, db.History(), history.DefaultRules())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if _, err := store.RecordUnique(ctx, history.Candidate{Title: "Hello World", Preview: "body", Topic: "ai"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	db.Close()

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	reopened, err := history.Open(ctx, db2.History(), history.DefaultRules())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if !reopened.IsDuplicate("  hello   WORLD ", "different", "") {
		t.Error("expected persisted title to be found after restart")
	}
}

func TestRunReports(t *testing.T) {
	db := openTestDB(t)

	_, err := db.InsertRunReport(RunReport{
		RunID: "run-1", Unit: "blog", Topic: "crypto", Status: "ok",
		Provider: ptr("mistral"), Title: ptr("Bitcoin explained"), Attempts: 2,
		Duration: 1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = db.InsertRunReport(RunReport{
		RunID: "run-1", Unit: "telegram", Status: "failed",
		ErrorKind: ptr("AllAttemptsExhausted"), ErrorMessage: ptr("no providers"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reports, err := db.GetRecentRunReports(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	if reports[0].Unit != "telegram" {
		t.Errorf("expected newest first, got %q", reports[0].Unit)
	}
	if reports[1].Duration != 1500*time.Millisecond {
		t.Errorf("expected 1.5s duration, got %s", reports[1].Duration)
	}
	if reports[1].Provider == nil || *reports[1].Provider != "mistral" {
		t.Errorf("expected provider mistral, got %v", reports[1].Provider)
	}

	ok, failed, err := db.CountRunReports()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok != 1 || failed != 1 {
		t.Errorf("expected 1 ok and 1 failed, got %d/%d", ok, failed)
	}
}

func TestConcurrentWritesAllPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busy.db")
	ctx := context.Background()

	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	store, err := history.Open(ctx, db.History(), history.DefaultRules())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	const reporters, reportsEach, records = 8, 5, 12
	errs := make(chan error, reporters*reportsEach+records)
	var wg sync.WaitGroup
	for i := 0; i < reporters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < reportsEach; j++ {
				_, err := db.InsertRunReport(RunReport{
					RunID: fmt.Sprintf("run-%d", i), Unit: fmt.Sprintf("unit-%d", j), Status: "ok",
				})
				errs <- err
			}
		}(i)
	}
	for i := 0; i < records; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Record(ctx, history.Candidate{
				Title: fmt.Sprintf("Article %d", i), Preview: fmt.Sprintf("body %d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent write failed: %v", err)
		}
	}

	ok, _, err := db.CountRunReports()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if ok != reporters*reportsEach {
		t.Errorf("expected %d run reports, got %d", reporters*reportsEach, ok)
	}
	db.Close()

	// Everything recorded must survive a restart.
	db2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	snap, err := db2.History().Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Records) != records || snap.Version != records {
		t.Errorf("expected %d records at version %d, got %d at %d", records, records, len(snap.Records), snap.Version)
	}
}
