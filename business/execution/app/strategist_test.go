package app

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"

	blockchainDomain "github.com/fd1az/mev-searcher/business/blockchain/domain"
	compDomain "github.com/fd1az/mev-searcher/business/competition/domain"
	"github.com/fd1az/mev-searcher/business/execution/domain"
	"github.com/fd1az/mev-searcher/internal/apperror"
)

// stubGasReader returns fixed network conditions.
type stubGasReader struct {
	baseWei *big.Int
	tipWei  *big.Int
}

func (s stubGasReader) GetGasPrice(context.Context) (*blockchainDomain.GasPrice, error) {
	return blockchainDomain.NewGasPrice(s.baseWei), nil
}

func (s stubGasReader) GetGasTipCap(context.Context) (*big.Int, error) {
	return new(big.Int).Set(s.tipWei), nil
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

func testPlan(t *testing.T, expectedProfit *big.Int, gasLimit uint64) *domain.Plan {
	t.Helper()
	steps := []domain.Step{
		{Kind: domain.StepSwap, Amount: big.NewInt(100), MinOut: big.NewInt(50)},
	}
	plan, err := domain.NewPlan(uuid.New(), "sandwich", "uniswap-v2", steps,
		domain.FundingMode{Kind: domain.FundSelf},
		big.NewInt(1), expectedProfit, false, gasLimit, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}
	return plan
}

func newTestStrategist(t *testing.T, cfg StrategistConfig, gas GasReader) *Strategist {
	t.Helper()
	s, err := NewStrategist(cfg, gas, testLogger())
	if err != nil {
		t.Fatalf("NewStrategist() error = %v", err)
	}
	return s
}

func TestGasMultiplierMonotonic(t *testing.T) {
	s := newTestStrategist(t, DefaultStrategistConfig(), stubGasReader{baseWei: gwei(10), tipWei: gwei(1)})

	prev := 0.0
	for _, urgency := range []float64{0, 0.25, 0.5, 0.75, 1.0} {
		m := s.gasMultiplier(urgency, 0.1)
		if m < prev {
			t.Errorf("multiplier decreased with urgency: %v < %v", m, prev)
		}
		prev = m
	}

	prev = 0.0
	for _, deficit := range []float64{0, 0.2, 0.4, 0.6, 0.8} {
		m := s.gasMultiplier(0.5, deficit)
		if m < prev {
			t.Errorf("multiplier decreased with deficit: %v < %v", m, prev)
		}
		prev = m
	}

	if m := s.gasMultiplier(1.0, 1.0); m > DefaultStrategistConfig().MaxMultiplier {
		t.Errorf("multiplier = %v, want capped at %v", m, DefaultStrategistConfig().MaxMultiplier)
	}
}

func TestPriceGrowsWithUrgency(t *testing.T) {
	s := newTestStrategist(t, DefaultStrategistConfig(), stubGasReader{baseWei: gwei(10), tipWei: gwei(1)})
	plan := testPlan(t, gwei(10_000_000), 300000) // 0.01 ETH expected
	snap := compDomain.EmptySnapshot()
	ctx := context.Background()

	calm, err := s.Price(ctx, plan, 0.0, snap)
	if err != nil {
		t.Fatalf("Price(calm) error = %v", err)
	}
	hot, err := s.Price(ctx, plan, 1.0, snap)
	if err != nil {
		t.Fatalf("Price(hot) error = %v", err)
	}

	if hot.MaxPriorityFeePerGas.Cmp(calm.MaxPriorityFeePerGas) <= 0 {
		t.Errorf("priority fee did not grow with urgency: %s <= %s",
			hot.MaxPriorityFeePerGas, calm.MaxPriorityFeePerGas)
	}
}

func TestPriceGrowsWithWinProbabilityDeficit(t *testing.T) {
	s := newTestStrategist(t, DefaultStrategistConfig(), stubGasReader{baseWei: gwei(10), tipWei: gwei(1)})
	plan := testPlan(t, gwei(10_000_000), 300000)
	ctx := context.Background()

	// Losing model: every recorded outcome expired.
	model := compDomain.NewModel(0.5)
	for i := 0; i < 5; i++ {
		model.Apply(compDomain.Outcome{
			Strategy:     "sandwich",
			SubjectClass: "uniswap-v2",
			Result:       compDomain.ResultExpired,
		})
	}

	neutral, err := s.Price(ctx, plan, 0.5, compDomain.EmptySnapshot())
	if err != nil {
		t.Fatalf("Price(neutral) error = %v", err)
	}
	losing, err := s.Price(ctx, plan, 0.5, model.Snapshot())
	if err != nil {
		t.Fatalf("Price(losing) error = %v", err)
	}

	if losing.MaxPriorityFeePerGas.Cmp(neutral.MaxPriorityFeePerGas) <= 0 {
		t.Errorf("priority fee did not grow with deficit: %s <= %s",
			losing.MaxPriorityFeePerGas, neutral.MaxPriorityFeePerGas)
	}
}

func TestPriceRespectsCompetitorFees(t *testing.T) {
	s := newTestStrategist(t, DefaultStrategistConfig(), stubGasReader{baseWei: gwei(10), tipWei: gwei(1)})
	plan := testPlan(t, gwei(100_000_000), 300000) // 0.1 ETH expected

	// Competitors have been paying 50 gwei to win this subject.
	model := compDomain.NewModel(0.1)
	for i := 0; i < 10; i++ {
		model.Apply(compDomain.Outcome{
			Strategy:        "sandwich",
			SubjectClass:    "uniswap-v2",
			Result:          compDomain.ResultIncluded,
			PriorityFeeGwei: 50,
			TimeToInclusion: time.Second,
		})
	}

	fees, err := s.Price(context.Background(), plan, 0.0, model.Snapshot())
	if err != nil {
		t.Fatalf("Price() error = %v", err)
	}

	if fees.MaxPriorityFeePerGas.Cmp(gwei(50)) < 0 {
		t.Errorf("priority fee = %s, want at least competitor 50 gwei", fees.MaxPriorityFeePerGas)
	}
}

func TestPriceAbandonsWhenFeeErasesProfit(t *testing.T) {
	s := newTestStrategist(t, DefaultStrategistConfig(), stubGasReader{baseWei: gwei(10), tipWei: gwei(1)})

	// 300k gas at ~14 gwei costs more than 1000 wei of profit.
	plan := testPlan(t, big.NewInt(1000), 300000)

	_, err := s.Price(context.Background(), plan, 0.5, compDomain.EmptySnapshot())
	if !apperror.HasCode(err, apperror.CodeFeeAbandon) {
		t.Errorf("Price() error = %v, want FeeAbandon", err)
	}
}

func TestPriceGasPriceCeiling(t *testing.T) {
	cfg := DefaultStrategistConfig()
	cfg.MaxGasPriceWei = gwei(5)

	// Base fee with headroom alone exceeds the 5 gwei ceiling.
	s := newTestStrategist(t, cfg, stubGasReader{baseWei: gwei(10), tipWei: gwei(1)})
	plan := testPlan(t, gwei(10_000), 300000)

	_, err := s.Price(context.Background(), plan, 0.5, compDomain.EmptySnapshot())
	if !apperror.HasCode(err, apperror.CodeGasPriceCeiling) {
		t.Errorf("Price() error = %v, want GasPriceCeiling", err)
	}
}

func TestPriceCapsAtMaxGasPrice(t *testing.T) {
	cfg := DefaultStrategistConfig()
	cfg.MaxGasPriceWei = gwei(15)

	s := newTestStrategist(t, cfg, stubGasReader{baseWei: gwei(10), tipWei: gwei(5)})
	plan := testPlan(t, gwei(10_000_000), 300000)

	fees, err := s.Price(context.Background(), plan, 1.0, compDomain.EmptySnapshot())
	if err != nil {
		t.Fatalf("Price() error = %v", err)
	}

	if fees.MaxFeePerGas.Cmp(gwei(15)) > 0 {
		t.Errorf("max fee = %s, want capped at 15 gwei", fees.MaxFeePerGas)
	}
}
