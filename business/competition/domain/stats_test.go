package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func included(strategy string, feeGwei float64, inclusion time.Duration) Outcome {
	return Outcome{
		Strategy:        strategy,
		SubjectClass:    "uniswap-v2",
		Result:          ResultIncluded,
		PriorityFeeGwei: feeGwei,
		TimeToInclusion: inclusion,
		RealizedProfit:  decimal.RequireFromString("0.05"),
		EstimatedProfit: decimal.RequireFromString("0.04"),
		Atomic:          true,
		ObservedAt:      time.Now(),
	}
}

func expired(strategy string, gasETH string) Outcome {
	return Outcome{
		Strategy:     strategy,
		SubjectClass: "uniswap-v2",
		Result:       ResultExpired,
		GasSpentETH:  decimal.RequireFromString(gasETH),
		ObservedAt:   time.Now(),
	}
}

func TestModelWinRateEWMA(t *testing.T) {
	m := NewModel(0.5)
	key := Key{Strategy: "sandwich", SubjectClass: "uniswap-v2"}

	m.Apply(included("sandwich", 2.0, time.Second))

	got := m.Snapshot().WinProbability(key)
	// prior 0.5 moved halfway toward 1.0
	if got != 0.75 {
		t.Errorf("WinProbability() = %v, want 0.75", got)
	}

	m.Apply(expired("sandwich", "0.001"))

	got = m.Snapshot().WinProbability(key)
	// 0.75 moved halfway toward 0.0
	if got != 0.375 {
		t.Errorf("WinProbability() after loss = %v, want 0.375", got)
	}
}

func TestSnapshotUnknownKeyUsesPrior(t *testing.T) {
	snap := NewModel(0.1).Snapshot()
	key := Key{Strategy: "liquidation", SubjectClass: "aave-v3"}

	if got := snap.WinProbability(key); got != DefaultWinRatePrior {
		t.Errorf("WinProbability(unknown) = %v, want %v", got, DefaultWinRatePrior)
	}
	if got := snap.FeeQuantile(key, 0.9); got != 0 {
		t.Errorf("FeeQuantile(unknown) = %v, want 0", got)
	}
}

func TestSnapshotImmutableAfterApply(t *testing.T) {
	m := NewModel(0.5)
	key := Key{Strategy: "sandwich", SubjectClass: "uniswap-v2"}

	m.Apply(included("sandwich", 2.0, time.Second))
	snap := m.Snapshot()
	before := snap.WinProbability(key)

	m.Apply(expired("sandwich", "0.001"))
	m.Apply(expired("sandwich", "0.001"))

	if got := snap.WinProbability(key); got != before {
		t.Errorf("old snapshot mutated: WinProbability() = %v, want %v", got, before)
	}
}

func TestFeeQuantile(t *testing.T) {
	m := NewModel(0.1)
	key := Key{Strategy: "sandwich", SubjectClass: "uniswap-v2"}

	for _, fee := range []float64{5, 1, 3, 2, 4} {
		m.Apply(included("sandwich", fee, time.Second))
	}
	snap := m.Snapshot()

	tests := []struct {
		name string
		q    float64
		want float64
	}{
		{name: "min", q: 0, want: 1},
		{name: "median", q: 0.5, want: 3},
		{name: "max", q: 1, want: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := snap.FeeQuantile(key, tt.q); got != tt.want {
				t.Errorf("FeeQuantile(%v) = %v, want %v", tt.q, got, tt.want)
			}
		})
	}
}

func TestWinProbabilityDeficit(t *testing.T) {
	m := NewModel(0.5)
	key := Key{Strategy: "sandwich", SubjectClass: "uniswap-v2"}

	// Drive win rate down with losses.
	for i := 0; i < 4; i++ {
		m.Apply(expired("sandwich", "0.001"))
	}
	snap := m.Snapshot()

	deficit := snap.WinProbabilityDeficit(key, 0.6)
	if deficit <= 0 {
		t.Errorf("deficit = %v, want > 0 after losses", deficit)
	}

	// Deficit never negative even with a low target.
	if d := snap.WinProbabilityDeficit(key, 0.0); d != 0 {
		t.Errorf("deficit with zero target = %v, want 0", d)
	}
}

func TestAvgTimeToInclusion(t *testing.T) {
	m := NewModel(0.5)
	key := Key{Strategy: "sandwich", SubjectClass: "uniswap-v2"}

	m.Apply(included("sandwich", 2.0, 2*time.Second))

	got := m.Snapshot().AvgTimeToInclusion(key)
	if got != 2*time.Second {
		t.Errorf("AvgTimeToInclusion() = %v, want 2s", got)
	}
}
