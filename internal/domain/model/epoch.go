package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EpochID identifies a fixed window of length epoch_length counted from genesis.
type EpochID = uint64

// Window is the half-open interval [Start, End) of an epoch.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// EpochWindow returns the window of epoch id.
func EpochWindow(genesis time.Time, length time.Duration, id EpochID) Window {
	start := genesis.Add(time.Duration(id) * length)
	return Window{Start: start, End: start.Add(length)}
}

// LatestElapsed returns the newest epoch whose window ended at or before now.
// ok is false when epoch 0 has not yet elapsed.
func LatestElapsed(genesis time.Time, length time.Duration, now time.Time) (EpochID, bool) {
	if length <= 0 || now.Before(genesis.Add(length)) {
		return 0, false
	}
	return EpochID(now.Sub(genesis)/length) - 1, true
}

// EpochScore is the aggregate score of an account for an epoch. Balance is the
// stake observed when the run started, so payouts can be recomputed for audit.
type EpochScore struct {
	AccountID        string
	EpochID          EpochID
	Score            decimal.Decimal
	Balance          decimal.Decimal
	AccountCreatedAt time.Time
	Counted          int
	Skipped          int
	Degraded         bool
}

// EpochStage is the last completed stage of an epoch run.
type EpochStage string

const (
	StageNone        EpochStage = ""
	StageScored      EpochStage = "scored"
	StageClosed      EpochStage = "closed"
	StageComputed    EpochStage = "computed"
	StageDistributed EpochStage = "distributed"
)

var stageOrder = map[EpochStage]int{
	StageNone:        0,
	StageScored:      1,
	StageClosed:      2,
	StageComputed:    3,
	StageDistributed: 4,
}

// Reached reports whether s is at or beyond target.
func (s EpochStage) Reached(target EpochStage) bool {
	return stageOrder[s] >= stageOrder[target]
}

// EpochRun tracks the progress of one epoch through the scheduler.
type EpochRun struct {
	EpochID   EpochID
	Stage     EpochStage
	StartedAt time.Time
	UpdatedAt time.Time
}
