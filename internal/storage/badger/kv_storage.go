package badger

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// counterRecord is a single named, monotonically-increasing counter.
// The only consumer today is internal/idalloc, which persists the
// batch boundary for each ID prefix so a restart never reissues an ID.
type counterRecord struct {
	Key       string `badgerholdKey:"Key"`
	Value     int64
	UpdatedAt time.Time
}

// CounterStore persists named counters in BadgerDB, the one thing the
// scheduling core needs a generic KV table for.
type CounterStore struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCounterStore wraps an already-open BadgerDB.
func NewCounterStore(db *BadgerDB, logger arbor.ILogger) *CounterStore {
	return &CounterStore{db: db, logger: logger}
}

func (s *CounterStore) normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Get returns the counter's current value, or 0 if it has never been set.
func (s *CounterStore) Get(key string) (int64, error) {
	var rec counterRecord
	err := s.db.Store().Get(s.normalizeKey(key), &rec)
	if err == badgerhold.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get counter %s: %w", key, err)
	}
	return rec.Value, nil
}

// Set persists value as the counter's new boundary.
func (s *CounterStore) Set(key string, value int64) error {
	rec := counterRecord{
		Key:       s.normalizeKey(key),
		Value:     value,
		UpdatedAt: time.Now(),
	}
	if err := s.db.Store().Upsert(rec.Key, &rec); err != nil {
		return fmt.Errorf("set counter %s: %w", key, err)
	}
	return nil
}
