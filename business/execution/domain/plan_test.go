package domain

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/fd1az/mev-searcher/internal/apperror"
)

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad wei literal: " + s)
	}
	return v
}

func TestFlashLoanRepayAmount(t *testing.T) {
	tests := []struct {
		name       string
		borrowed   *big.Int
		premiumBps int64
		want       *big.Int
	}{
		{
			// 1000 units at 9 bps owes exactly 1000.9 units
			name:       "aave premium on 1000 units",
			borrowed:   wei("1000000000000000000000"),
			premiumBps: 9,
			want:       wei("1000900000000000000000"),
		},
		{
			name:       "zero premium",
			borrowed:   wei("5000000000000000000"),
			premiumBps: 0,
			want:       wei("5000000000000000000"),
		},
		{
			// truncating division: 1111 wei * 9 / 10000 = 0 (floor)
			name:       "dust amount truncates",
			borrowed:   big.NewInt(1111),
			premiumBps: 9,
			want:       big.NewInt(1111),
		},
		{
			name:       "one wei over truncation boundary",
			borrowed:   big.NewInt(10000),
			premiumBps: 9,
			want:       big.NewInt(10009),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FlashLoanRepayAmount(tt.borrowed, tt.premiumBps)
			if got.Cmp(tt.want) != 0 {
				t.Errorf("FlashLoanRepayAmount() = %s, want %s", got, tt.want)
			}
		})
	}
}

func flashLoanSteps(borrowed, repay *big.Int) []Step {
	pool := common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2")
	return []Step{
		{
			Kind:   StepFlashLoanWrap,
			Target: pool,
			Amount: borrowed,
			Inner: []Step{
				{Kind: StepProtocolCall, Target: pool, Calldata: []byte{0x01}},
				{Kind: StepSwap, Target: pool, Amount: borrowed, MinOut: repay},
				{Kind: StepRepay, Target: pool, Amount: repay},
			},
		},
	}
}

func TestNewPlanFlashLoanRepayValidation(t *testing.T) {
	borrowed := wei("1000000000000000000000")
	due := FlashLoanRepayAmount(borrowed, 9)
	funding := FundingMode{Kind: FundFlashLoan, PremiumBps: 9}
	expiry := time.Now().Add(time.Minute)

	_, err := NewPlan(uuid.New(), "liquidation", "aave-v3",
		flashLoanSteps(borrowed, due), funding,
		big.NewInt(1), big.NewInt(2), true, 500000, expiry)
	if err != nil {
		t.Fatalf("NewPlan() with exact repay error = %v", err)
	}

	// One wei short must be rejected: the pool's transfer would revert.
	short := new(big.Int).Sub(due, big.NewInt(1))
	_, err = NewPlan(uuid.New(), "liquidation", "aave-v3",
		flashLoanSteps(borrowed, short), funding,
		big.NewInt(1), big.NewInt(2), true, 500000, expiry)
	if !apperror.HasCode(err, apperror.CodeRepayMismatch) {
		t.Errorf("NewPlan() with short repay error = %v, want RepayMismatch", err)
	}
}

func TestNewPlanRejectsUnsafeMinOut(t *testing.T) {
	steps := []Step{
		{Kind: StepSwap, Amount: big.NewInt(100), MinOut: big.NewInt(0)},
	}

	_, err := NewPlan(uuid.New(), "sandwich", "uniswap-v2", steps,
		FundingMode{Kind: FundSelf},
		big.NewInt(1), big.NewInt(2), false, 300000, time.Now().Add(time.Minute))
	if !apperror.HasCode(err, apperror.CodeUnsafeMinOut) {
		t.Errorf("NewPlan() error = %v, want UnsafeMinOut", err)
	}
}

func TestNewPlanRejectsEmptySteps(t *testing.T) {
	_, err := NewPlan(uuid.New(), "sandwich", "uniswap-v2", nil,
		FundingMode{Kind: FundSelf},
		big.NewInt(1), big.NewInt(2), false, 300000, time.Now().Add(time.Minute))
	if !apperror.HasCode(err, apperror.CodeNoViableRoute) {
		t.Errorf("NewPlan() error = %v, want NoViableRoute", err)
	}
}

func TestPlanImmutable(t *testing.T) {
	steps := []Step{
		{Kind: StepSwap, Amount: big.NewInt(100), MinOut: big.NewInt(50)},
	}

	plan, err := NewPlan(uuid.New(), "sandwich", "uniswap-v2", steps,
		FundingMode{Kind: FundSelf},
		big.NewInt(1), big.NewInt(2), false, 300000, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}

	// Mutating the caller's slice must not reach the plan.
	steps[0].MinOut.SetInt64(0)
	if got := plan.Steps()[0].MinOut.Int64(); got != 50 {
		t.Errorf("plan min_out after input mutation = %d, want 50", got)
	}

	// Mutating a returned copy must not reach the plan either.
	out := plan.Steps()
	out[0].Amount.SetInt64(999)
	if got := plan.Steps()[0].Amount.Int64(); got != 100 {
		t.Errorf("plan amount after output mutation = %d, want 100", got)
	}
}

func TestFeeParamsTotalCost(t *testing.T) {
	fees := FeeParams{
		MaxFeePerGas:         big.NewInt(100),
		MaxPriorityFeePerGas: big.NewInt(10),
		GasLimit:             21000,
	}
	if got := fees.TotalCostWei().Int64(); got != 2100000 {
		t.Errorf("TotalCostWei() = %d, want 2100000", got)
	}
}
