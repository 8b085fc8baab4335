package activity

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/okian/yieldboard/internal/domain/model"
)

// Performer classes shape how many records a synthetic account produces.
const (
	classIdle = iota
	classOccasional
	classRegular
	classCore
	classCount
)

var classRecordRange = [classCount][2]int{
	classIdle:       {0, 0},
	classOccasional: {1, 3},
	classRegular:    {3, 8},
	classCore:       {8, 20},
}

var syntheticKinds = []string{
	model.KindMergedChange,
	model.KindResolvedIssue,
	model.KindReview,
	model.KindReview,
}

// Synthetic produces deterministic contribution records for local runs. The
// same account and window always yield the same records, and a share of each
// batch repeats an earlier dedup key the way a replaying source would.
type Synthetic struct {
	seed uint64
}

// NewSynthetic creates a synthetic source; different seeds produce different
// but equally deterministic activity.
func NewSynthetic(seed uint64) *Synthetic {
	return &Synthetic{seed: seed}
}

// Fetch implements the ingest source.
func (s *Synthetic) Fetch(ctx context.Context, accountID string, w model.Window) ([]model.ContributionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(accountID))
	_, _ = h.Write([]byte(strconv.FormatInt(w.Start.Unix(), 10)))
	rng := rand.New(rand.NewPCG(s.seed, h.Sum64()))

	bounds := classRecordRange[rng.IntN(classCount)]
	n := bounds[0]
	if span := bounds[1] - bounds[0]; span > 0 {
		n += rng.IntN(span + 1)
	}
	length := w.End.Sub(w.Start)
	if n == 0 || length <= 0 {
		return nil, nil
	}

	out := make([]model.ContributionRecord, 0, n+1)
	for i := 0; i < n; i++ {
		kind := syntheticKinds[rng.IntN(len(syntheticKinds))]
		out = append(out, model.ContributionRecord{
			AccountID:  accountID,
			Kind:       kind,
			Weight:     1,
			SourceTime: w.Start.Add(time.Duration(rng.Int64N(int64(length)))).UTC(),
			DedupKey:   kind + "-" + strconv.FormatInt(w.Start.Unix(), 36) + "-" + strconv.Itoa(i),
		})
	}
	if n > 1 && rng.IntN(4) == 0 {
		out = append(out, out[rng.IntN(n)])
	}
	return out, nil
}
