package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() []MatchRecord {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return []MatchRecord{
		{ID: "m1", Handle: 1, Key: "offer_BUY_100_8000", Role: RoleInitiator, Counterparty: "peer-b", Time: base},
		{ID: "m2", Handle: 2, Key: "offer_SELL_1_2", Role: RoleResponder, Counterparty: "peer-c", Time: base.Add(time.Second)},
		{ID: "m3", Handle: 5, Key: "offer_SELL_0.5_-1", Role: RoleResponder, Counterparty: "peer-b", Time: base.Add(2 * time.Second)},
	}
}

func testJournal(t *testing.T, j Journal) {
	t.Helper()
	for _, rec := range sampleRecords() {
		require.NoError(t, j.Record(rec))
	}

	recent, err := j.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "m3", recent[0].ID)
	assert.Equal(t, "m2", recent[1].ID)
	assert.Equal(t, RoleResponder, recent[0].Role)
	assert.True(t, recent[0].Time.Equal(sampleRecords()[2].Time))

	all, err := j.Recent(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemJournal(t *testing.T) {
	testJournal(t, NewMemJournal())
}

func TestPebbleJournal(t *testing.T) {
	dir := t.TempDir()
	j, err := NewPebbleJournal(dir)
	require.NoError(t, err)
	testJournal(t, j)
	require.NoError(t, j.Close())

	// records survive reopening
	j, err = NewPebbleJournal(dir)
	require.NoError(t, err)
	defer j.Close()
	all, err := j.Recent(10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMatchKeyOrdering(t *testing.T) {
	t0 := time.Unix(5, 0)
	t1 := time.Unix(40, 0)
	assert.Less(t, string(matchKey(t0, "z")), string(matchKey(t1, "a")))
}
