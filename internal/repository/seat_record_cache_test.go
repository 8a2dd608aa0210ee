package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/studyroom-seat-board/internal/model"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestRedisSeatRecordCache_SaveLoadDelete(t *testing.T) {
	mr, rdb := newRedis(t)
	cache := NewRedisSeatRecordCache(rdb)
	ctx := context.Background()

	rec, err := cache.Load(ctx, "u1", "2025-03-10")
	if err != nil || rec != nil {
		t.Fatalf("empty load = %v, %v", rec, err)
	}

	want := model.LocalSeatRecord{SeatNumber: 12, StartedAt: time.Date(2025, 3, 10, 0, 30, 0, 0, time.UTC)}
	if err := cache.Save(ctx, "u1", "2025-03-10", want); err != nil {
		t.Fatalf("save: %v", err)
	}
	key := "checkbot_current_seat_u1_2025-03-10"
	if !mr.Exists(key) {
		t.Fatalf("key %s not written", key)
	}
	if ttl := mr.TTL(key); ttl != seatRecordTTL {
		t.Errorf("ttl = %s, want %s", ttl, seatRecordTTL)
	}

	rec, err = cache.Load(ctx, "u1", "2025-03-10")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec == nil || rec.SeatNumber != want.SeatNumber || !rec.StartedAt.Equal(want.StartedAt) {
		t.Fatalf("load = %+v, want %+v", rec, want)
	}

	if other, _ := cache.Load(ctx, "u1", "2025-03-11"); other != nil {
		t.Errorf("record leaked into another day: %+v", other)
	}

	if err := cache.Delete(ctx, "u1", "2025-03-10"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists(key) {
		t.Error("key still present after delete")
	}
}

func TestRedisSeatRecordCache_CorruptValueDropped(t *testing.T) {
	mr, rdb := newRedis(t)
	cache := NewRedisSeatRecordCache(rdb)
	key := "checkbot_current_seat_u1_2025-03-10"
	if err := mr.Set(key, "{not json"); err != nil {
		t.Fatal(err)
	}

	rec, err := cache.Load(context.Background(), "u1", "2025-03-10")
	if err != nil || rec != nil {
		t.Fatalf("corrupt load = %v, %v", rec, err)
	}
	if mr.Exists(key) {
		t.Error("corrupt value should be removed")
	}
}

func TestRedisSeatRecordCache_Expires(t *testing.T) {
	mr, rdb := newRedis(t)
	cache := NewRedisSeatRecordCache(rdb)
	ctx := context.Background()
	if err := cache.Save(ctx, "u1", "2025-03-10", model.LocalSeatRecord{SeatNumber: 1, StartedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(37 * time.Hour)
	if rec, _ := cache.Load(ctx, "u1", "2025-03-10"); rec != nil {
		t.Errorf("record survived its ttl: %+v", rec)
	}
}

func TestRedisSeatRecordCache_PurgeBefore(t *testing.T) {
	mr, rdb := newRedis(t)
	cache := NewRedisSeatRecordCache(rdb)
	ctx := context.Background()
	rec := model.LocalSeatRecord{SeatNumber: 5, StartedAt: time.Now().UTC()}
	for _, d := range []string{"2025-03-08", "2025-03-09", "2025-03-10"} {
		if err := cache.Save(ctx, "u1", d, rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := mr.Set("checkbot_profile_u1", "{}"); err != nil {
		t.Fatal(err)
	}

	n, err := cache.PurgeBefore(ctx, "2025-03-10")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 2 {
		t.Errorf("purged %d, want 2", n)
	}
	if !mr.Exists("checkbot_current_seat_u1_2025-03-10") {
		t.Error("today's record was purged")
	}
	if !mr.Exists("checkbot_profile_u1") {
		t.Error("purge touched a non seat key")
	}
}

func TestRedisSeatRecordCache_UnavailableWhenDown(t *testing.T) {
	mr, rdb := newRedis(t)
	cache := NewRedisSeatRecordCache(rdb)
	mr.Close()

	_, err := cache.Load(context.Background(), "u1", "2025-03-10")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestMemorySeatRecordCache(t *testing.T) {
	cache := NewMemorySeatRecordCache()
	ctx := context.Background()
	rec := model.LocalSeatRecord{SeatNumber: 7, StartedAt: time.Date(2025, 3, 10, 2, 15, 0, 0, time.UTC)}
	_ = cache.Save(ctx, "u1", "2025-03-09", rec)
	_ = cache.Save(ctx, "u1", "2025-03-10", rec)

	got, _ := cache.Load(ctx, "u1", "2025-03-10")
	if got == nil || got.SeatNumber != rec.SeatNumber || !got.StartedAt.Equal(rec.StartedAt) {
		t.Fatalf("load = %+v", got)
	}
	if n, _ := cache.PurgeBefore(ctx, "2025-03-10"); n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	_ = cache.Delete(ctx, "u1", "2025-03-10")
	if got, _ := cache.Load(ctx, "u1", "2025-03-10"); got != nil {
		t.Errorf("record survived delete")
	}
}

func TestProfileStores(t *testing.T) {
	_, rdb := newRedis(t)
	stores := map[string]interface {
		Get(context.Context, string) (model.Profile, error)
		Put(context.Context, string, model.Profile) error
	}{
		"redis":  NewRedisProfileStore(rdb),
		"memory": NewMemoryProfileStore(),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.Get(ctx, "u1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("missing profile err = %v", err)
			}
			want := model.Profile{StudentID: "20301", StudentName: "Lee"}
			if err := s.Put(ctx, "u1", want); err != nil {
				t.Fatalf("put: %v", err)
			}
			got, err := s.Get(ctx, "u1")
			if err != nil || got != want {
				t.Fatalf("get = %+v, %v", got, err)
			}
		})
	}
}
