package domain

import (
	"math/big"
	"time"
)

// Outcome is the realized result of a bundle, handed to the recorder
// once the state machine latches.
type Outcome struct {
	BundleID      string
	PlanID        string
	Strategy      string
	SubjectClass  string
	State         BundleState
	IncludedBlock uint64

	TimeToInclusion time.Duration
	GasSpentWei     *big.Int
	PriorityFeeWei  *big.Int

	// Atomic mirrors the plan: a reverted atomic path burned gas only.
	Atomic bool
}
