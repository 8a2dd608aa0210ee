package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/studyroom-seat-board/internal/model"
)

// seatRecordPrefix namespaces the per-day seat records.  The full key is
// prefix + uid + "_" + YYYY-MM-DD, one record per student per day.
const seatRecordPrefix = "checkbot_current_seat_"

// seatRecordTTL outlives the calendar day in any time zone so a record never
// disappears while its day is still current.
const seatRecordTTL = 36 * time.Hour

func seatRecordKey(uid, date string) string {
	return seatRecordPrefix + uid + "_" + date
}

// RedisSeatRecordCache keeps LocalSeatRecords in Redis as JSON strings.
type RedisSeatRecordCache struct {
	rdb *redis.Client
}

// NewRedisSeatRecordCache binds the cache to a Redis client.
func NewRedisSeatRecordCache(rdb *redis.Client) *RedisSeatRecordCache {
	return &RedisSeatRecordCache{rdb: rdb}
}

// Load returns the student's record for date, or nil when there is none.  A
// value that no longer decodes is removed and treated as absent.
func (c *RedisSeatRecordCache) Load(ctx context.Context, uid, date string) (*model.LocalSeatRecord, error) {
	key := seatRecordKey(uid, date)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("load seat record", err)
	}
	var rec model.LocalSeatRecord
	if err := json.Unmarshal(raw, &rec); err != nil || rec.SeatNumber <= 0 {
		_ = c.rdb.Del(ctx, key).Err()
		return nil, nil
	}
	return &rec, nil
}

// Save stores rec as the student's record for date, replacing any other.
func (c *RedisSeatRecordCache) Save(ctx context.Context, uid, date string, rec model.LocalSeatRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode seat record: %w", err)
	}
	return classify("save seat record", c.rdb.Set(ctx, seatRecordKey(uid, date), raw, seatRecordTTL).Err())
}

// Delete removes the student's record for date.  Missing records are fine.
func (c *RedisSeatRecordCache) Delete(ctx context.Context, uid, date string) error {
	return classify("delete seat record", c.rdb.Del(ctx, seatRecordKey(uid, date)).Err())
}

// PurgeBefore deletes records of days earlier than today and returns how
// many were removed.  The TTL normally handles this; the scheduler also
// runs the purge daily at 00:01 in the room's zone so a stale record cannot
// outlive a Redis restart without persistence settings.
func (c *RedisSeatRecordCache) PurgeBefore(ctx context.Context, today string) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, seatRecordPrefix+"*", 200).Result()
		if err != nil {
			return removed, classify("scan seat records", err)
		}
		stale := make([]string, 0, len(keys))
		for _, k := range keys {
			if d := recordDate(k); d != "" && d < today {
				stale = append(stale, k)
			}
		}
		if len(stale) > 0 {
			n, err := c.rdb.Del(ctx, stale...).Result()
			if err != nil {
				return removed, classify("purge seat records", err)
			}
			removed += int(n)
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

// recordDate extracts the YYYY-MM-DD suffix of a seat record key.
func recordDate(key string) string {
	i := strings.LastIndexByte(key, '_')
	if i < 0 || len(key)-i-1 != len(model.DateLayout) {
		return ""
	}
	return key[i+1:]
}

// MemorySeatRecordCache is the in-process fallback used when Redis is not
// configured.  Records are lost on restart, which only delays "my seat"
// until the next ledger read re-adopts it.
type MemorySeatRecordCache struct {
	mu      sync.Mutex
	records map[string]model.LocalSeatRecord
}

// NewMemorySeatRecordCache returns an empty in-memory cache.
func NewMemorySeatRecordCache() *MemorySeatRecordCache {
	return &MemorySeatRecordCache{records: make(map[string]model.LocalSeatRecord)}
}

func (c *MemorySeatRecordCache) Load(_ context.Context, uid, date string) (*model.LocalSeatRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[seatRecordKey(uid, date)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (c *MemorySeatRecordCache) Save(_ context.Context, uid, date string, rec model.LocalSeatRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[seatRecordKey(uid, date)] = rec
	return nil
}

func (c *MemorySeatRecordCache) Delete(_ context.Context, uid, date string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, seatRecordKey(uid, date))
	return nil
}

func (c *MemorySeatRecordCache) PurgeBefore(_ context.Context, today string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k := range c.records {
		if d := recordDate(k); d != "" && d < today {
			delete(c.records, k)
			removed++
		}
	}
	return removed, nil
}
