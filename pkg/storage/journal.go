package storage

import (
	"sync"
	"time"
)

type Role string

const (
	RoleInitiator Role = "initiator" // our outbound probe got MATCH
	RoleResponder Role = "responder" // we answered MATCH to an inbound probe
)

// MatchRecord is one settled match as seen by this peer.
type MatchRecord struct {
	ID           string    `json:"id"`
	Handle       uint64    `json:"handle"`
	Key          string    `json:"key"` // discovery key of our consumed offer
	Role         Role      `json:"role"`
	Counterparty string    `json:"counterparty"`
	Time         time.Time `json:"time"`
}

// Journal is an append-only log of matches. It is an audit trail only;
// open offers are never restored from it.
type Journal interface {
	Record(rec MatchRecord) error
	// Recent returns up to limit records, newest first.
	Recent(limit int) ([]MatchRecord, error)
	Close() error
}

type MemJournal struct {
	mu      sync.Mutex
	records []MatchRecord
}

func NewMemJournal() *MemJournal { return &MemJournal{} }

func (j *MemJournal) Record(rec MatchRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

func (j *MemJournal) Recent(limit int) ([]MatchRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []MatchRecord
	for i := len(j.records) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, j.records[i])
	}
	return out, nil
}

func (j *MemJournal) Close() error { return nil }

var _ Journal = (*MemJournal)(nil)
var _ Journal = (*PebbleJournal)(nil)
