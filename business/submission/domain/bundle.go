// Package domain contains the bundle types for the submission context.
package domain

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	executionDomain "github.com/fd1az/mev-searcher/business/execution/domain"
	"github.com/fd1az/mev-searcher/internal/apperror"
)

// BundleState is the lifecycle state of a submitted bundle.
type BundleState int

const (
	StateBuilt BundleState = iota
	StateSubmitted
	StateIncluded
	StateExpired
	StateRejected
)

// String returns the state name.
func (s BundleState) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateSubmitted:
		return "submitted"
	case StateIncluded:
		return "included"
	case StateExpired:
		return "expired"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state latches.
func (s BundleState) Terminal() bool {
	return s == StateIncluded || s == StateExpired || s == StateRejected
}

// SignedTx is one ready-to-broadcast transaction of a bundle.
type SignedTx struct {
	Raw  []byte
	Hash common.Hash
}

// Bundle is a priced plan packaged for relay submission. Its state
// machine is Built -> Submitted -> {Included, Expired, Rejected};
// terminal states latch and further transitions fail.
type Bundle struct {
	ID     uuid.UUID
	PlanID uuid.UUID
	// BackupPlanID references the fallback plan held in reserve for
	// this bundle. Zero when none was provided.
	BackupPlanID uuid.UUID
	Strategy     string
	SubjectClass string

	Fees executionDomain.FeeParams
	Txs  []SignedTx

	TargetBlockStart uint64
	TargetBlockEnd   uint64
	Channels         []string // ordered, primary first

	CreatedAt   time.Time
	SubmittedAt time.Time

	mu    sync.Mutex
	state BundleState
	// used tracks channel submissions per target block so the same
	// channel is never hit twice for the same block.
	used map[string]map[uint64]bool
}

// NewBundle packages a priced plan for submission.
func NewBundle(planID uuid.UUID, strategy, subjectClass string, fees executionDomain.FeeParams, txs []SignedTx, blockStart, blockEnd uint64, channels []string) *Bundle {
	return &Bundle{
		ID:               uuid.New(),
		PlanID:           planID,
		Strategy:         strategy,
		SubjectClass:     subjectClass,
		Fees:             fees,
		Txs:              txs,
		TargetBlockStart: blockStart,
		TargetBlockEnd:   blockEnd,
		Channels:         channels,
		CreatedAt:        time.Now(),
		state:            StateBuilt,
		used:             make(map[string]map[uint64]bool),
	}
}

// State returns the current lifecycle state.
func (b *Bundle) State() BundleState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// MarkSubmitted transitions Built -> Submitted.
func (b *Bundle) MarkSubmitted() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Terminal() {
		return apperror.New(apperror.CodeBundleTerminal,
			apperror.WithContext("cannot submit a terminal bundle"))
	}
	b.state = StateSubmitted
	b.SubmittedAt = time.Now()
	return nil
}

// MarkIncluded transitions to the Included terminal state.
func (b *Bundle) MarkIncluded() error {
	return b.finish(StateIncluded)
}

// MarkExpired transitions to the Expired terminal state.
func (b *Bundle) MarkExpired() error {
	return b.finish(StateExpired)
}

// MarkRejected transitions to the Rejected terminal state.
func (b *Bundle) MarkRejected() error {
	return b.finish(StateRejected)
}

func (b *Bundle) finish(next BundleState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Terminal() {
		return apperror.New(apperror.CodeBundleTerminal,
			apperror.WithContext("bundle already terminal"))
	}
	if b.state != StateSubmitted {
		return apperror.New(apperror.CodeInvalidState,
			apperror.WithContext("only submitted bundles can finish"))
	}
	b.state = next
	return nil
}

// TryUseChannel records a (channel, block) submission attempt. Returns
// false when that channel was already used for that target block.
func (b *Bundle) TryUseChannel(channel string, block uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	blocks, ok := b.used[channel]
	if !ok {
		blocks = make(map[uint64]bool)
		b.used[channel] = blocks
	}
	if blocks[block] {
		return false
	}
	blocks[block] = true
	return true
}
