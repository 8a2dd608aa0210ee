package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iliyamo/studyroom-seat-board/internal/database"
	"github.com/iliyamo/studyroom-seat-board/internal/model"
)

func openLedger(t *testing.T) *UsageEventRepo {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(context.Background(), db, database.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewUsageEventRepo(db)
}

func sampleEvent(seat int, email, date string, clicked time.Time, released bool) model.UsageEvent {
	return model.UsageEvent{
		SeatNumber: seat,
		StudentID:  "20301",
		UserName:   "Lee",
		Email:      email,
		Date:       date,
		Time:       clicked.Format(model.ClockLayout),
		ClickedAt:  clicked,
		Released:   released,
	}
}

func TestUsageEventRepo_AppendAndListByDate(t *testing.T) {
	repo := openLedger(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 1, 0, 0, 0, time.UTC)

	claim, err := repo.Append(ctx, sampleEvent(3, "a@school.example", "2025-03-10", base, false))
	if err != nil {
		t.Fatalf("append claim: %v", err)
	}
	if claim.ID == "" {
		t.Fatal("expected generated id")
	}
	if _, err := repo.Append(ctx, sampleEvent(3, "a@school.example", "2025-03-10", base.Add(time.Minute), true)); err != nil {
		t.Fatalf("append release: %v", err)
	}
	if _, err := repo.Append(ctx, sampleEvent(4, "b@school.example", "2025-03-11", base.Add(24*time.Hour), false)); err != nil {
		t.Fatalf("append other day: %v", err)
	}

	got, err := repo.ListByDate(ctx, "2025-03-10")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].ID != claim.ID || got[0].Released {
		t.Errorf("first event = %+v, want the claim", got[0])
	}
	if !got[1].Released {
		t.Errorf("second event should be the release")
	}
	if !got[0].ClickedAt.Equal(base) {
		t.Errorf("clickedAt round trip = %s, want %s", got[0].ClickedAt, base)
	}
	if got[0].Time != "01:00" || got[0].SeatNumber != 3 {
		t.Errorf("fields not preserved: %+v", got[0])
	}
}

func TestUsageEventRepo_ListByEmailNewestFirst(t *testing.T) {
	repo := openLedger(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 1, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		ev := sampleEvent(i+1, "me@school.example", "2025-03-10", base.Add(time.Duration(i)*time.Hour), false)
		if _, err := repo.Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := repo.Append(ctx, sampleEvent(9, "other@school.example", "2025-03-10", base, false)); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := repo.ListByEmail(ctx, "me@school.example")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].SeatNumber != 3 || got[2].SeatNumber != 1 {
		t.Errorf("not newest first: %d..%d", got[0].SeatNumber, got[2].SeatNumber)
	}
}

func TestUsageEventRepo_DuplicateIDRejected(t *testing.T) {
	repo := openLedger(t)
	ctx := context.Background()
	ev := sampleEvent(1, "a@school.example", "2025-03-10", time.Now().UTC(), false)
	ev.ID = "fixed-id"
	if _, err := repo.Append(ctx, ev); err != nil {
		t.Fatalf("first append: %v", err)
	}
	_, err := repo.Append(ctx, ev)
	if err == nil {
		t.Fatal("expected duplicate id to fail")
	}
	if errors.Is(err, ErrPermission) || errors.Is(err, ErrUnavailable) {
		t.Errorf("constraint violation misclassified: %v", err)
	}
}

func TestUsageEventRepo_ClosedDatabaseFails(t *testing.T) {
	repo := openLedger(t)
	repo.db.Close()
	_, err := repo.ListByDate(context.Background(), "2025-03-10")
	if err == nil {
		t.Fatal("expected error on closed db")
	}
}
