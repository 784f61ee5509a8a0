package app

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	compDomain "github.com/fd1az/mev-searcher/business/competition/domain"
	"github.com/fd1az/mev-searcher/business/opportunity/domain"
	"github.com/fd1az/mev-searcher/internal/logger"
)

func testLogger() logger.LoggerInterface {
	return logger.New(io.Discard, logger.LevelDebug, "test", nil)
}

// stubStats serves a fixed snapshot.
type stubStats struct {
	snap *compDomain.Snapshot
}

func (s *stubStats) Snapshot() *compDomain.Snapshot {
	if s.snap == nil {
		return compDomain.EmptySnapshot()
	}
	return s.snap
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testGateConfig() GateConfig {
	return GateConfig{
		MaxNotional:          dec("50"),
		MaxInFlightPerKind:   2,
		MinProfit:            dec("0.005"),
		BaseRiskPremium:      dec("0.001"),
		ConfidenceFloor:      dec("0.3"),
		KellyRiskFactor:      dec("0.5"),
		TargetWinProbability: 0.8,
	}
}

func newTestGate(t *testing.T, cfg GateConfig, stats SnapshotSource) *Gate {
	t.Helper()
	if stats == nil {
		stats = &stubStats{}
	}
	g, err := NewGate(cfg, stats, testLogger())
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	return g
}

func testCandidate(t *testing.T, gross, cost, confidence string) *domain.Candidate {
	t.Helper()
	cand, err := domain.NewCandidate(
		domain.StrategyLiquidation,
		"0xborrower",
		"aave_v3",
		dec(gross), dec(cost), dec(confidence),
		time.Now().Add(time.Minute),
		domain.SizeBounds{Min: dec("0.1"), Max: dec("10")},
	)
	if err != nil {
		t.Fatalf("NewCandidate: %v", err)
	}
	return cand
}

func TestGateAdmitsProfitableCandidate(t *testing.T) {
	g := newTestGate(t, testGateConfig(), nil)

	// net = 0.1*0.9 - 0.01 - premium(0.0016 at fresh-model deficit 0.3)
	cand := testCandidate(t, "0.1", "0.01", "0.9")
	d := g.Evaluate(context.Background(), cand)

	if !d.Admitted {
		t.Fatalf("rejected: %s (net %s, required %s)", d.Reason, d.NetEstimate, d.RequiredMargin)
	}
	if d.Sized == nil || d.Sized.Size.IsZero() {
		t.Fatal("admitted without a size")
	}
	if g.InFlight(domain.StrategyLiquidation) != 1 {
		t.Errorf("in-flight = %d, want 1", g.InFlight(domain.StrategyLiquidation))
	}
}

func TestGateMarginMonotonicity(t *testing.T) {
	// Same candidate at descending gross profit: once rejected for
	// margin, every smaller gross must also reject.
	g := newTestGate(t, testGateConfig(), nil)

	admitted := true
	for _, gross := range []string{"0.5", "0.1", "0.02", "0.008", "0.006"} {
		cand := testCandidate(t, gross, "0.005", "0.8")
		d := g.Evaluate(context.Background(), cand)
		if d.Admitted {
			if !admitted {
				t.Fatalf("gross %s admitted after a smaller margin rejected", gross)
			}
			g.Release(cand.Kind)
		} else {
			if d.Reason != domain.RejectInsufficientMargin {
				t.Fatalf("gross %s: reason = %s, want insufficient_margin", gross, d.Reason)
			}
			admitted = false
		}
	}
	if admitted {
		t.Fatal("no candidate was rejected, margin threshold never crossed")
	}
}

func TestGateRejectsLowConfidence(t *testing.T) {
	g := newTestGate(t, testGateConfig(), nil)

	cand := testCandidate(t, "1.0", "0.01", "0.2")
	d := g.Evaluate(context.Background(), cand)

	if d.Admitted {
		t.Fatal("admitted below the confidence floor")
	}
	if d.Reason != domain.RejectInsufficientMargin {
		t.Errorf("reason = %s, want insufficient_margin", d.Reason)
	}
}

func TestGateRejectsExpired(t *testing.T) {
	g := newTestGate(t, testGateConfig(), nil)

	cand := testCandidate(t, "1.0", "0.01", "0.9")
	cand.Expiry = time.Now().Add(-time.Second)

	// Rejection is idempotent: re-evaluating the same expired candidate
	// yields the same reason and never consumes a slot.
	for i := 0; i < 2; i++ {
		d := g.Evaluate(context.Background(), cand)
		if d.Admitted {
			t.Fatalf("evaluation %d admitted an expired candidate", i)
		}
		if d.Reason != domain.RejectExpiredBeforeEvaluation {
			t.Errorf("evaluation %d: reason = %s, want expired_before_evaluation", i, d.Reason)
		}
		if got := g.InFlight(domain.StrategyLiquidation); got != 0 {
			t.Errorf("evaluation %d: in-flight = %d, want 0", i, got)
		}
	}
}

func TestGateConcurrencyLimit(t *testing.T) {
	cfg := testGateConfig()
	cfg.MaxInFlightPerKind = 2
	g := newTestGate(t, cfg, nil)

	for i := 0; i < 2; i++ {
		d := g.Evaluate(context.Background(), testCandidate(t, "1.0", "0.01", "0.9"))
		if !d.Admitted {
			t.Fatalf("candidate %d rejected: %s", i, d.Reason)
		}
	}

	d := g.Evaluate(context.Background(), testCandidate(t, "1.0", "0.01", "0.9"))
	if d.Admitted {
		t.Fatal("admitted past the in-flight cap")
	}
	if d.Reason != domain.RejectConcurrencyLimitReached {
		t.Errorf("reason = %s, want concurrency_limit_reached", d.Reason)
	}

	// Releasing a slot re-opens the gate.
	g.Release(domain.StrategyLiquidation)
	d = g.Evaluate(context.Background(), testCandidate(t, "1.0", "0.01", "0.9"))
	if !d.Admitted {
		t.Fatalf("rejected after release: %s", d.Reason)
	}
}

func TestGateSlotsArePerStrategy(t *testing.T) {
	cfg := testGateConfig()
	cfg.MaxInFlightPerKind = 1
	g := newTestGate(t, cfg, nil)

	if d := g.Evaluate(context.Background(), testCandidate(t, "1.0", "0.01", "0.9")); !d.Admitted {
		t.Fatalf("liquidation rejected: %s", d.Reason)
	}
	if d := g.Evaluate(context.Background(), testCandidate(t, "1.0", "0.01", "0.9")); d.Admitted {
		t.Fatal("second liquidation admitted past cap")
	}

	// A different strategy has its own slots.
	other, err := domain.NewCandidate(
		domain.StrategyMicroArbitrage, "weth-usdc", "uniswap_v2",
		dec("1.0"), dec("0.01"), dec("0.9"),
		time.Now().Add(time.Minute),
		domain.SizeBounds{Min: dec("0.1"), Max: dec("10")},
	)
	if err != nil {
		t.Fatalf("NewCandidate: %v", err)
	}
	if d := g.Evaluate(context.Background(), other); !d.Admitted {
		t.Fatalf("micro-arb rejected: %s", d.Reason)
	}
}

func TestGateNeverSizesAboveBoundsOrNotional(t *testing.T) {
	cfg := testGateConfig()
	cfg.MaxNotional = dec("5")
	g := newTestGate(t, cfg, nil)

	cand := testCandidate(t, "1.0", "0.01", "0.9")
	cand.Bounds = domain.SizeBounds{Min: dec("0.1"), Max: dec("100")}

	d := g.Evaluate(context.Background(), cand)
	if !d.Admitted {
		t.Fatalf("rejected: %s", d.Reason)
	}
	if d.Sized.Size.GreaterThan(dec("5")) {
		t.Errorf("size %s exceeds notional cap 5", d.Sized.Size)
	}
	if d.Sized.Size.GreaterThan(cand.Bounds.Max) {
		t.Errorf("size %s exceeds bounds max", d.Sized.Size)
	}
}

func TestGateSizeBelowMinimum(t *testing.T) {
	// A losing model shrinks the Kelly fraction; with a high minimum
	// the down-sized position falls under it and the slot is returned.
	model := compDomain.NewModel(0.5)
	for i := 0; i < 6; i++ {
		model.Apply(compDomain.Outcome{
			Strategy:     string(domain.StrategyLiquidation),
			SubjectClass: "aave_v3",
			Result:       compDomain.ResultExpired,
		})
	}
	stats := &stubStats{snap: model.Snapshot()}

	g := newTestGate(t, testGateConfig(), stats)

	cand := testCandidate(t, "1.0", "0.01", "0.9")
	cand.Bounds = domain.SizeBounds{Min: dec("9.9"), Max: dec("10")}

	d := g.Evaluate(context.Background(), cand)
	if d.Admitted {
		t.Fatalf("admitted with size %s under minimum", d.Sized.Size)
	}
	if d.Reason != domain.RejectSizeBelowMinimum {
		t.Errorf("reason = %s, want size_below_minimum", d.Reason)
	}
	if g.InFlight(domain.StrategyLiquidation) != 0 {
		t.Errorf("slot leaked: in-flight = %d, want 0", g.InFlight(domain.StrategyLiquidation))
	}
}

func TestGateRejectsBelowTargetValueFloor(t *testing.T) {
	cfg := testGateConfig()
	cfg.MinTargetValue = dec("0.5")
	g := newTestGate(t, cfg, nil)

	// A 0.4 ETH victim swap is under the floor no matter the margin.
	cand, err := domain.NewCandidate(
		domain.StrategySandwich, "0xvictimtx", "uniswap_v2",
		dec("1.0"), dec("0.01"), dec("0.9"),
		time.Now().Add(time.Minute),
		domain.SizeBounds{Min: dec("0.1"), Max: dec("10")},
	)
	if err != nil {
		t.Fatalf("NewCandidate: %v", err)
	}
	cand.TargetValue = dec("0.4")

	d := g.Evaluate(context.Background(), cand)
	if d.Admitted {
		t.Fatal("admitted a subject below the target value floor")
	}
	if d.Reason != domain.RejectSizeBelowMinimum {
		t.Errorf("reason = %s, want size_below_minimum", d.Reason)
	}
	if g.InFlight(domain.StrategySandwich) != 0 {
		t.Errorf("slot taken for a rejected candidate: in-flight = %d", g.InFlight(domain.StrategySandwich))
	}

	// At or above the floor the same candidate passes.
	cand.TargetValue = dec("0.5")
	if d := g.Evaluate(context.Background(), cand); !d.Admitted {
		t.Fatalf("rejected at the floor: %s", d.Reason)
	}
}

func TestGateDownsizesWhenLosing(t *testing.T) {
	// Fresh model: winProb 0.5, fraction = 0.5*(1+0.5) = 0.75.
	fresh := newTestGate(t, testGateConfig(), nil)
	dFresh := fresh.Evaluate(context.Background(), testCandidate(t, "1.0", "0.01", "0.9"))
	if !dFresh.Admitted {
		t.Fatalf("fresh rejected: %s", dFresh.Reason)
	}

	// Losing model drives winProb toward zero.
	model := compDomain.NewModel(0.5)
	for i := 0; i < 8; i++ {
		model.Apply(compDomain.Outcome{
			Strategy:     string(domain.StrategyLiquidation),
			SubjectClass: "aave_v3",
			Result:       compDomain.ResultExpired,
		})
	}
	losing := newTestGate(t, testGateConfig(), &stubStats{snap: model.Snapshot()})
	dLosing := losing.Evaluate(context.Background(), testCandidate(t, "1.0", "0.01", "0.9"))
	if !dLosing.Admitted {
		t.Fatalf("losing rejected: %s", dLosing.Reason)
	}

	if !dLosing.Sized.Size.LessThan(dFresh.Sized.Size) {
		t.Errorf("losing size %s not below fresh size %s",
			dLosing.Sized.Size, dFresh.Sized.Size)
	}
}

func TestUrgencyDerivation(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		remaining time.Duration
		wantMin   float64
		wantMax   float64
	}{
		{"far expiry", time.Minute, 0, 0},
		{"half horizon", 12 * time.Second, 0.45, 0.55},
		{"nearly expired", time.Second, 0.9, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cand := testCandidate(t, "1.0", "0.01", "0.9")
			cand.Expiry = now.Add(tt.remaining)

			u := urgency(cand, now)
			if u < tt.wantMin || u > tt.wantMax {
				t.Errorf("urgency = %v, want [%v, %v]", u, tt.wantMin, tt.wantMax)
			}
		})
	}
}
