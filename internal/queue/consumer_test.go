package queue

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/iliyamo/studyroom-seat-board/internal/model"
)

type recordingNotifier struct{ dates []string }

func (r *recordingNotifier) Notify(date string) { r.dates = append(r.dates, date) }

func TestConsumer_HandleMessage(t *testing.T) {
	dir := t.TempDir()
	hub := &recordingNotifier{}
	ulog := NewUsageLog(dir)
	c := NewConsumer("", hub, ulog, nil)

	ev := model.UsageEvent{
		ID: "e1", SeatNumber: 12, StudentID: "20301", UserName: "Lee", Email: "lee@school.example",
		Date: "2025-03-10", Time: "09:30", ClickedAt: time.Date(2025, 3, 10, 0, 30, 0, 0, time.UTC),
		Released: true,
	}
	body, err := json.Marshal(NewSeatUsageRecorded(ev, "node-a"))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.HandleMessage(body); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(hub.dates) != 1 || hub.dates[0] != "2025-03-10" {
		t.Fatalf("notified %v", hub.dates)
	}

	raw, err := os.ReadFile(ulog.Path())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(raw)
	for _, want := range []string{"Seat released", "seat=12", "student_id=20301", "event_id=e1", "origin=node-a", "2025-03-10T00:30:00.000Z"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %q", line, want)
		}
	}
}

func TestConsumer_HandleMessageRejectsGarbage(t *testing.T) {
	hub := &recordingNotifier{}
	c := NewConsumer("", hub, nil, nil)

	if err := c.HandleMessage([]byte("not json")); err == nil {
		t.Error("expected unmarshal error")
	}
	if err := c.HandleMessage([]byte(`{"seat_number":1}`)); err == nil {
		t.Error("expected error for message without date")
	}
	if len(hub.dates) != 0 {
		t.Errorf("rejected messages must not notify: %v", hub.dates)
	}
}
