package repository

import (
	"context"
	"database/sql"
	"log"

	"github.com/google/uuid"

	"github.com/iliyamo/studyroom-seat-board/internal/model"
)

// UsageEventRepo is the seat usage ledger backed by the `seat_usages` table.
// The table is append-only: this type exposes no update or delete, and a
// release is stored as a new row next to the claim it ends.
type UsageEventRepo struct {
	db *sql.DB
}

// NewUsageEventRepo returns a UsageEventRepo bound to the provided database.
func NewUsageEventRepo(db *sql.DB) *UsageEventRepo { return &UsageEventRepo{db: db} }

// DB exposes the underlying handle for health checks.
func (r *UsageEventRepo) DB() *sql.DB { return r.db }

const usageColumns = `id, seat_number, student_id, user_name, email, usage_date, usage_time, clicked_at, released`

// Append writes one event.  A missing ID is filled with a fresh UUID and the
// stored event is returned.  Store refusals are wrapped in ErrPermission and
// connectivity failures in ErrUnavailable.
func (r *UsageEventRepo) Append(ctx context.Context, ev model.UsageEvent) (model.UsageEvent, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	const q = `INSERT INTO seat_usages (` + usageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q,
		ev.ID, ev.SeatNumber, ev.StudentID, ev.UserName, ev.Email,
		ev.Date, ev.Time, ev.ClickedAtString(), ev.Released,
	)
	if err != nil {
		return model.UsageEvent{}, classify("append usage", err)
	}
	return ev, nil
}

// ListByDate returns every event partitioned under date (YYYY-MM-DD).  This
// is the snapshot query: callers reduce the full result each time.
func (r *UsageEventRepo) ListByDate(ctx context.Context, date string) ([]model.UsageEvent, error) {
	const q = `SELECT ` + usageColumns + ` FROM seat_usages WHERE usage_date = ? ORDER BY clicked_at, id`
	return r.list(ctx, "list usages by date", q, date)
}

// ListByEmail returns every event written by email, newest first.
func (r *UsageEventRepo) ListByEmail(ctx context.Context, email string) ([]model.UsageEvent, error) {
	const q = `SELECT ` + usageColumns + ` FROM seat_usages WHERE email = ? ORDER BY clicked_at DESC, id`
	return r.list(ctx, "list usages by email", q, email)
}

// list scans rows into events.  A row whose clicked_at cannot be parsed is
// kept with a zero ClickedAt so readers drop it as malformed.
func (r *UsageEventRepo) list(ctx context.Context, op, q string, arg any) ([]model.UsageEvent, error) {
	rows, err := r.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	events := make([]model.UsageEvent, 0)
	for rows.Next() {
		var (
			ev      model.UsageEvent
			clicked string
		)
		if err := rows.Scan(
			&ev.ID, &ev.SeatNumber, &ev.StudentID, &ev.UserName, &ev.Email,
			&ev.Date, &ev.Time, &clicked, &ev.Released,
		); err != nil {
			return nil, classify(op, err)
		}
		if t, err := model.ParseClickedAt(clicked); err == nil {
			ev.ClickedAt = t
		} else {
			log.Printf("usage-ledger: row %s has unreadable clicked_at %q", ev.ID, clicked)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return events, nil
}
