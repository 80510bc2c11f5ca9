package narrate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJobStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewJobStore(openTestDB(t))
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	ok, err := s.Start(ctx, "book.txt", "narrator", 3)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	bad, err := s.Start(ctx, "broken.json", "default", 1)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	running, err := s.Start(ctx, "pending.txt", "default", 2)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.Finish(ctx, ok, "/tmp/book.wav", 12.5); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := s.Fail(ctx, bad, errors.New("backend down")); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	j, err := s.Get(ctx, ok)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j.Status != JobCompleted || j.OutputPath != "/tmp/book.wav" || j.Duration != 12.5 || j.Segments != 3 {
		t.Errorf("unexpected job %+v", j)
	}
	if j.FinishedAt == nil || !j.FinishedAt.After(j.StartedAt) {
		t.Errorf("finished_at should be set after started_at: %+v", j)
	}

	j, err = s.Get(ctx, bad)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j.Status != JobFailed || j.Error != "backend down" {
		t.Errorf("unexpected failed job %+v", j)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st != (Stats{Active: 1, Completed: 1, Failed: 1}) {
		t.Errorf("unexpected stats %+v", st)
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != running || recent[1].ID != bad {
		t.Errorf("unexpected recent order: %+v", recent)
	}
}

func TestJobStore_GetUnknown(t *testing.T) {
	s := NewJobStore(openTestDB(t))
	if _, err := s.Get(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}
