// Package domain contains the candidate types for the opportunity context.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fd1az/mev-searcher/internal/apperror"
)

// StrategyKind identifies which detector produced a candidate.
type StrategyKind string

const (
	StrategySandwich            StrategyKind = "sandwich"
	StrategyLiquidation         StrategyKind = "liquidation"
	StrategyMicroArbitrage      StrategyKind = "micro_arbitrage"
	StrategyCrossChainArbitrage StrategyKind = "cross_chain_arbitrage"
)

// SizeBounds constrains the admitted position size in native units.
type SizeBounds struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Candidate is a detected opportunity. Consumed at most once; it is
// never re-queued after a gate decision.
type Candidate struct {
	ID           uuid.UUID
	Kind         StrategyKind
	SubjectRef   string
	SubjectClass string

	EstimatedGrossProfit decimal.Decimal
	EstimatedCost        decimal.Decimal
	Confidence           decimal.Decimal // [0,1]

	// TargetValue is the subject's notional (victim swap size, debt to
	// cover). Zero means the detector did not report it.
	TargetValue decimal.Decimal

	Expiry      time.Time
	ExpiryBlock uint64 // 0 = time-based expiry only
	Bounds      SizeBounds
	DetectedAt  time.Time

	// Exactly one detail matches Kind.
	Sandwich    *SandwichDetail
	Liquidation *LiquidationDetail
	MicroArb    *MicroArbDetail
	CrossChain  *CrossChainDetail
}

// NewCandidate validates and creates a candidate.
func NewCandidate(kind StrategyKind, subjectRef, subjectClass string, gross, cost, confidence decimal.Decimal, expiry time.Time, bounds SizeBounds) (*Candidate, error) {
	if !expiry.After(time.Now()) {
		return nil, apperror.New(apperror.CodeInvalidCandidate,
			apperror.WithContext("expiry must be in the future"))
	}
	if cost.IsNegative() {
		return nil, apperror.New(apperror.CodeInvalidCandidate,
			apperror.WithContext("estimated cost must be non-negative"))
	}
	if confidence.IsNegative() || confidence.GreaterThan(decimal.NewFromInt(1)) {
		return nil, apperror.New(apperror.CodeInvalidCandidate,
			apperror.WithContext("confidence must be within [0,1]"))
	}
	if bounds.Min.IsNegative() || bounds.Max.LessThan(bounds.Min) {
		return nil, apperror.New(apperror.CodeInvalidCandidate,
			apperror.WithContext("size bounds must satisfy 0 <= min <= max"))
	}

	return &Candidate{
		ID:                   uuid.New(),
		Kind:                 kind,
		SubjectRef:           subjectRef,
		SubjectClass:         subjectClass,
		EstimatedGrossProfit: gross,
		EstimatedCost:        cost,
		Confidence:           confidence,
		Expiry:               expiry,
		Bounds:               bounds,
		DetectedAt:           time.Now(),
	}, nil
}

// Expired reports whether the candidate's deadline has passed.
func (c *Candidate) Expired(now time.Time) bool {
	return !now.Before(c.Expiry)
}

// TimeRemaining returns how long until expiry, never negative.
func (c *Candidate) TimeRemaining(now time.Time) time.Duration {
	if c.Expired(now) {
		return 0
	}
	return c.Expiry.Sub(now)
}

// SizedCandidate is an admitted candidate with its final position size.
type SizedCandidate struct {
	Candidate *Candidate
	Size      decimal.Decimal
	Urgency   float64 // [0,1], derived from expiry proximity and contention
}
