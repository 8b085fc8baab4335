package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RankedEntry is one row of a leaderboard snapshot.
type RankedEntry struct {
	Rank      int
	AccountID string
	Score     decimal.Decimal
}

// Snapshot is the immutable ranking of a closed epoch.
type Snapshot struct {
	EpochID  EpochID
	Digest   string // hash of the canonical score set the snapshot was built from
	Entries  []RankedEntry
	ClosedAt time.Time
}

// Top returns the first n entries, or all of them when the snapshot is smaller.
func (s *Snapshot) Top(n int) []RankedEntry {
	if n > len(s.Entries) || n < 0 {
		n = len(s.Entries)
	}
	out := make([]RankedEntry, n)
	copy(out, s.Entries[:n])
	return out
}

// Find returns the entry of account.
func (s *Snapshot) Find(accountID string) (RankedEntry, bool) {
	for _, e := range s.Entries {
		if e.AccountID == accountID {
			return e, true
		}
	}
	return RankedEntry{}, false
}
