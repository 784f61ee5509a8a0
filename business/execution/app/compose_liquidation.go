package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-searcher/business/execution/domain"
	oppDomain "github.com/fd1az/mev-searcher/business/opportunity/domain"
	"github.com/fd1az/mev-searcher/internal/apperror"
)

// composeLiquidation builds a liquidation plan. The default shape wraps
// liquidate, collateral swap and repay inside one flash loan so a
// shortfall anywhere reverts the whole transaction and only gas is
// lost. The self-funded shape runs the same legs as independent
// transactions and carries interim exposure between them; it must be
// enabled explicitly.
func (c *Composer) composeLiquidation(ctx context.Context, sized *oppDomain.SizedCandidate) (*domain.Plan, error) {
	cand := sized.Candidate
	d := cand.Liquidation
	if d == nil || d.DebtToCover == nil || d.DebtToCover.Sign() <= 0 {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithContext("liquidation candidate missing debt position"))
	}

	if c.config.Liquidation.PreferFlashLoan {
		return c.composeFlashLoanLiquidation(ctx, sized, d)
	}
	if !c.config.Liquidation.AllowNonAtomicLegs {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithContext("self-funded liquidation disabled and flash loan not preferred"))
	}
	return c.composeSelfFundedLiquidation(ctx, sized, d)
}

func (c *Composer) composeFlashLoanLiquidation(ctx context.Context, sized *oppDomain.SizedCandidate, d *oppDomain.LiquidationDetail) (*domain.Plan, error) {
	cand := sized.Candidate
	params := c.config.Liquidation

	borrowed := new(big.Int).Set(d.DebtToCover)
	due := domain.FlashLoanRepayAmount(borrowed, params.PremiumBps)

	if due.Cmp(params.MinOutFloorWei) < 0 {
		return nil, apperror.New(apperror.CodeUnsafeMinOut,
			apperror.WithContext("repay amount below configured floor"))
	}

	expectedProfit := c.liquidationProfit(d, due)
	if expectedProfit.Cmp(c.config.MinNetProfitWei) <= 0 {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithContext("expected collateral does not clear repay plus floor"))
	}

	liquidateData, err := c.encoder.LiquidationCall(
		d.CollateralAsset, d.DebtAsset, d.Borrower, borrowed, false)
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("encode liquidation call"))
	}
	approveData, err := c.encoder.Approve(d.SwapRouter, d.ExpectedCollateral)
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("encode collateral approve"))
	}
	swapData, err := c.encoder.SwapExactTokensForTokens(
		d.ExpectedCollateral, due,
		[]common.Address{d.CollateralAsset, d.DebtAsset},
		d.SwapRouter, big.NewInt(cand.Expiry.Unix()))
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("encode collateral swap"))
	}
	wrapData, err := c.encoder.FlashLoanSimple(params.Provider, d.DebtAsset, borrowed, nil)
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("encode flash loan"))
	}

	// The swap's min_out equals the repay amount: if seized collateral
	// cannot cover the loan plus premium, the transaction reverts.
	inner := []domain.Step{
		{
			Kind:     domain.StepProtocolCall,
			Target:   params.Provider,
			Calldata: liquidateData,
		},
		{
			Kind:     domain.StepApprove,
			Target:   d.CollateralAsset,
			Spender:  d.SwapRouter,
			Asset:    d.CollateralAsset,
			Amount:   d.ExpectedCollateral,
			Calldata: approveData,
		},
		{
			Kind:     domain.StepSwap,
			Target:   d.SwapRouter,
			Asset:    d.CollateralAsset,
			AssetOut: d.DebtAsset,
			Amount:   d.ExpectedCollateral,
			MinOut:   due,
			Calldata: swapData,
		},
		{
			Kind:   domain.StepRepay,
			Target: params.Provider,
			Asset:  d.DebtAsset,
			Amount: due,
		},
	}

	steps := []domain.Step{
		{
			Kind:     domain.StepFlashLoanWrap,
			Target:   params.Provider,
			Asset:    d.DebtAsset,
			Amount:   borrowed,
			Calldata: wrapData,
			Inner:    inner,
		},
	}

	return domain.NewPlan(
		cand.ID,
		string(cand.Kind),
		cand.SubjectClass,
		steps,
		domain.FundingMode{
			Kind:       domain.FundFlashLoan,
			Provider:   params.Provider,
			PremiumBps: params.PremiumBps,
		},
		c.config.MinNetProfitWei,
		expectedProfit,
		true,
		params.GasLimit,
		cand.Expiry,
	)
}

func (c *Composer) composeSelfFundedLiquidation(ctx context.Context, sized *oppDomain.SizedCandidate, d *oppDomain.LiquidationDetail) (*domain.Plan, error) {
	cand := sized.Candidate
	params := c.config.Liquidation

	spent := new(big.Int).Set(d.DebtToCover)
	minOut := new(big.Int).Add(spent, c.config.MinNetProfitWei)

	expectedProfit := c.liquidationProfit(d, spent)
	if expectedProfit.Cmp(c.config.MinNetProfitWei) <= 0 {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithContext("expected collateral does not clear principal plus floor"))
	}

	// liquidationCall pulls the debt asset from the caller, so the pool
	// needs allowance before the liquidation lands.
	debtApproveData, err := c.encoder.Approve(params.Provider, spent)
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("encode debt approve"))
	}
	liquidateData, err := c.encoder.LiquidationCall(
		d.CollateralAsset, d.DebtAsset, d.Borrower, spent, false)
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("encode liquidation call"))
	}
	approveData, err := c.encoder.Approve(d.SwapRouter, d.ExpectedCollateral)
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("encode collateral approve"))
	}
	swapData, err := c.encoder.SwapExactTokensForTokens(
		d.ExpectedCollateral, minOut,
		[]common.Address{d.CollateralAsset, d.DebtAsset},
		d.SwapRouter, big.NewInt(cand.Expiry.Unix()))
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("encode collateral swap"))
	}

	steps := []domain.Step{
		{
			Kind:     domain.StepApprove,
			Target:   d.DebtAsset,
			Spender:  params.Provider,
			Asset:    d.DebtAsset,
			Amount:   spent,
			Calldata: debtApproveData,
		},
		{
			Kind:     domain.StepProtocolCall,
			Target:   params.Provider,
			Calldata: liquidateData,
		},
		{
			Kind:     domain.StepApprove,
			Target:   d.CollateralAsset,
			Spender:  d.SwapRouter,
			Asset:    d.CollateralAsset,
			Amount:   d.ExpectedCollateral,
			Calldata: approveData,
		},
		{
			Kind:     domain.StepSwap,
			Target:   d.SwapRouter,
			Asset:    d.CollateralAsset,
			AssetOut: d.DebtAsset,
			Amount:   d.ExpectedCollateral,
			MinOut:   minOut,
			Calldata: swapData,
		},
	}

	return domain.NewPlan(
		cand.ID,
		string(cand.Kind),
		cand.SubjectClass,
		steps,
		domain.FundingMode{Kind: domain.FundSelf},
		c.config.MinNetProfitWei,
		expectedProfit,
		false, // independent transactions, interim exposure accepted
		params.GasLimit,
		cand.Expiry,
	)
}

// liquidationProfit estimates seized collateral value minus what must
// be paid back, both in debt-asset units. Collateral is valued through
// the detector's estimate, which already prices the liquidation bonus.
func (c *Composer) liquidationProfit(d *oppDomain.LiquidationDetail, owed *big.Int) *big.Int {
	if d.ExpectedCollateral == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Sub(d.ExpectedCollateral, owed)
}
