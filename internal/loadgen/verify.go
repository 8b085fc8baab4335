package loadgen

import (
	"fmt"

	"github.com/okian/yieldboard/internal/domain/types"
	"github.com/shopspring/decimal"
)

type rankedEntry struct {
	Rank      int
	AccountID string
	Score     decimal.Decimal
}

// verify checks the leaderboard is densely ranked by descending score and
// agrees with the per-account ranks.
func verify(board []types.Entry, ranks map[string]rankedEntry) error {
	if len(board) == 0 {
		if len(ranks) > 0 {
			return fmt.Errorf("%w: empty leaderboard with %d ranked accounts", ErrInconsistent, len(ranks))
		}
		return nil
	}
	if board[0].Rank != 1 {
		return fmt.Errorf("%w: first entry has rank %d", ErrInconsistent, board[0].Rank)
	}

	listed := make(map[string]struct{}, len(board))
	for i, e := range board {
		listed[e.AccountID] = struct{}{}
		if i > 0 {
			prev := board[i-1]
			switch cmp := e.Score.Cmp(prev.Score); {
			case cmp > 0:
				return fmt.Errorf("%w: entry %d scores above entry %d", ErrInconsistent, i, i-1)
			case cmp == 0 && e.Rank != prev.Rank:
				return fmt.Errorf("%w: tied entries %d and %d have ranks %d and %d",
					ErrInconsistent, i-1, i, prev.Rank, e.Rank)
			case cmp < 0 && e.Rank != prev.Rank+1:
				return fmt.Errorf("%w: entry %d has rank %d after rank %d",
					ErrInconsistent, i, e.Rank, prev.Rank)
			}
		}
		r, ok := ranks[e.AccountID]
		if !ok {
			continue
		}
		if r.Rank != e.Rank || !r.Score.Equal(e.Score) {
			return fmt.Errorf("%w: %s is rank %d score %s on the board but rank %d score %s alone",
				ErrInconsistent, e.AccountID, e.Rank, e.Score, r.Rank, r.Score)
		}
	}

	last := board[len(board)-1].Rank
	for id, r := range ranks {
		if _, ok := listed[id]; !ok && r.Rank < last {
			return fmt.Errorf("%w: %s has rank %d but is missing from the board", ErrInconsistent, id, r.Rank)
		}
	}
	return nil
}
