package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

type PebbleJournal struct {
	db *pebble.DB
}

func NewPebbleJournal(path string) (*PebbleJournal, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &PebbleJournal{db: db}, nil
}

func (j *PebbleJournal) Close() error { return j.db.Close() }

func (j *PebbleJournal) Record(rec MatchRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal match: %w", err)
	}
	if err := j.db.Set(matchKey(rec.Time, rec.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save match: %w", err)
	}
	return nil
}

func (j *PebbleJournal) Recent(limit int) ([]MatchRecord, error) {
	prefix := []byte(prefixMatch)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []MatchRecord
	for iter.Last(); iter.Valid() && (limit <= 0 || len(out) < limit); iter.Prev() {
		var rec MatchRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue // skip invalid entries
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}
