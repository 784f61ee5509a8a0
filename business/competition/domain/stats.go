// Package domain contains the rolling statistics types for the competition context.
package domain

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Key identifies a statistics bucket.
type Key struct {
	Strategy     string
	SubjectClass string
}

// Result is the terminal state of a submitted bundle.
type Result string

const (
	ResultIncluded Result = "included"
	ResultExpired  Result = "expired"
	ResultRejected Result = "rejected"
)

// Outcome is one realized bundle result fed back into the model.
type Outcome struct {
	Strategy        string
	SubjectClass    string
	Result          Result
	PriorityFeeGwei float64
	TimeToInclusion time.Duration
	RealizedProfit  decimal.Decimal
	EstimatedProfit decimal.Decimal
	GasSpentETH     decimal.Decimal
	Atomic          bool
	ObservedAt      time.Time
}

// Key returns the statistics bucket for this outcome.
func (o Outcome) Key() Key {
	return Key{Strategy: o.Strategy, SubjectClass: o.SubjectClass}
}

const (
	// DefaultWinRatePrior is used before any outcome is observed for a key.
	DefaultWinRatePrior = 0.5

	// feeWindow bounds the per-key fee observation buffer.
	feeWindow = 128
)

// keyStats is the mutable accumulator for one key. Owned by the single
// writer; never read concurrently.
type keyStats struct {
	winRate     float64
	inclusionMs float64
	fees        [feeWindow]float64
	feeCount    int
	feeNext     int
	observed    uint64
	lossGasETH  decimal.Decimal
	profitDelta decimal.Decimal
}

// Model is the single-writer statistics store. Apply mutates it;
// Snapshot produces an immutable copy for lock-free readers.
type Model struct {
	alpha float64
	stats map[Key]*keyStats
}

// NewModel creates a model with the given EWMA smoothing factor.
func NewModel(alpha float64) *Model {
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.1
	}
	return &Model{
		alpha: alpha,
		stats: make(map[Key]*keyStats),
	}
}

// Apply folds one outcome into the model. Caller must be the single writer.
func (m *Model) Apply(o Outcome) {
	ks, ok := m.stats[o.Key()]
	if !ok {
		ks = &keyStats{winRate: DefaultWinRatePrior}
		m.stats[o.Key()] = ks
	}

	won := 0.0
	if o.Result == ResultIncluded {
		won = 1.0
	}
	ks.winRate = ks.winRate + m.alpha*(won-ks.winRate)
	ks.observed++

	if o.PriorityFeeGwei > 0 {
		ks.fees[ks.feeNext] = o.PriorityFeeGwei
		ks.feeNext = (ks.feeNext + 1) % feeWindow
		if ks.feeCount < feeWindow {
			ks.feeCount++
		}
	}

	switch o.Result {
	case ResultIncluded:
		ms := float64(o.TimeToInclusion.Milliseconds())
		if ks.inclusionMs == 0 {
			ks.inclusionMs = ms
		} else {
			ks.inclusionMs = ks.inclusionMs + m.alpha*(ms-ks.inclusionMs)
		}
		ks.profitDelta = ks.profitDelta.Add(o.RealizedProfit.Sub(o.EstimatedProfit))
	case ResultExpired, ResultRejected:
		// Atomic paths revert on failure and burn only gas, no principal.
		ks.lossGasETH = ks.lossGasETH.Add(o.GasSpentETH)
	}
}

// Snapshot copies the model into an immutable read view.
func (m *Model) Snapshot() *Snapshot {
	out := make(map[Key]KeyStats, len(m.stats))
	for k, ks := range m.stats {
		fees := make([]float64, ks.feeCount)
		copy(fees, ks.fees[:ks.feeCount])
		out[k] = KeyStats{
			WinRate:        ks.winRate,
			AvgInclusionMs: ks.inclusionMs,
			Fees:           fees,
			Observed:       ks.observed,
			LossGasETH:     ks.lossGasETH,
			ProfitDeltaSum: ks.profitDelta,
		}
	}
	return &Snapshot{stats: out, takenAt: time.Now()}
}

// KeyStats is the immutable per-key view inside a Snapshot.
type KeyStats struct {
	WinRate        float64
	AvgInclusionMs float64
	Fees           []float64
	Observed       uint64
	LossGasETH     decimal.Decimal
	ProfitDeltaSum decimal.Decimal
}

// Snapshot is an immutable, eventually-consistent view of the model.
// Safe for concurrent readers.
type Snapshot struct {
	stats   map[Key]KeyStats
	takenAt time.Time
}

// EmptySnapshot returns a snapshot with no observations.
func EmptySnapshot() *Snapshot {
	return &Snapshot{stats: map[Key]KeyStats{}, takenAt: time.Now()}
}

// TakenAt reports when the snapshot was published.
func (s *Snapshot) TakenAt() time.Time {
	return s.takenAt
}

// WinProbability estimates the chance of winning the race for a key.
func (s *Snapshot) WinProbability(k Key) float64 {
	ks, ok := s.stats[k]
	if !ok || ks.Observed == 0 {
		return DefaultWinRatePrior
	}
	return ks.WinRate
}

// WinProbabilityDeficit measures how far below the target win
// probability a key currently sits, in [0, target].
func (s *Snapshot) WinProbabilityDeficit(k Key, target float64) float64 {
	return math.Max(0, target-s.WinProbability(k))
}

// FeeQuantile returns the q-quantile (q in [0,1]) of observed competitor
// priority fees in gwei, or 0 when nothing was observed.
func (s *Snapshot) FeeQuantile(k Key, q float64) float64 {
	ks, ok := s.stats[k]
	if !ok || len(ks.Fees) == 0 {
		return 0
	}

	sorted := make([]float64, len(ks.Fees))
	copy(sorted, ks.Fees)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

// AvgTimeToInclusion returns the smoothed time-to-inclusion for a key.
func (s *Snapshot) AvgTimeToInclusion(k Key) time.Duration {
	ks, ok := s.stats[k]
	if !ok {
		return 0
	}
	return time.Duration(ks.AvgInclusionMs) * time.Millisecond
}

// Observations returns how many outcomes a key has accumulated.
func (s *Snapshot) Observations(k Key) uint64 {
	return s.stats[k].Observed
}
