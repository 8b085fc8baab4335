package leaderboard

import (
	"hash/fnv"
	"time"

	"github.com/okian/yieldboard/internal/domain/model"
	"github.com/shopspring/decimal"
)

// Treap ordering: score DESC, then account creation ASC, then account id ASC.
// "less" means ranks earlier, so in-order traversal yields the leaderboard
// from best to worst. Priorities are hashed from the account id, which keeps
// the tree shape (and therefore the build) deterministic.

type node struct {
	id        string
	score     decimal.Decimal
	createdAt time.Time
	prio      uint64
	left      *node
	right     *node
	size      int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if a should appear before b in the leaderboard.
func less(a, b *node) bool {
	if c := a.score.Cmp(b.score); c != 0 {
		return c > 0 // higher score ranks earlier
	}
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.Before(b.createdAt) // older account ranks earlier
	}
	return a.id < b.id
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

func idPriority(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

func insert(n, nn *node) *node {
	if n == nil {
		return nn
	}
	if less(nn, n) {
		n.left = insert(n.left, nn)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, nn)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

// collect appends every node in rank order with its dense rank.
func collect(n *node, out *[]model.RankedEntry) {
	if n == nil {
		return
	}
	collect(n.left, out)
	*out = append(*out, model.RankedEntry{Rank: len(*out) + 1, AccountID: n.id, Score: n.score})
	collect(n.right, out)
}

// rank builds the ranked entries of scores.
func rank(scores []model.EpochScore) []model.RankedEntry {
	var root *node
	for _, s := range scores {
		root = insert(root, &node{
			id:        s.AccountID,
			score:     s.Score,
			createdAt: s.AccountCreatedAt,
			prio:      idPriority(s.AccountID),
			size:      1,
		})
	}
	out := make([]model.RankedEntry, 0, len(scores))
	collect(root, &out)
	return out
}
