package app

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/fd1az/mev-searcher/business/execution/domain"
	oppDomain "github.com/fd1az/mev-searcher/business/opportunity/domain"
	"github.com/fd1az/mev-searcher/internal/apperror"
	"github.com/fd1az/mev-searcher/internal/asset"
)

// composeMicroArb builds a two-leg same-chain arbitrage: buy on the
// cheap venue, sell on the expensive one. Legs are independent
// transactions; the sell leg's min_out guards the round trip.
func (c *Composer) composeMicroArb(ctx context.Context, sized *oppDomain.SizedCandidate) (*domain.Plan, error) {
	cand := sized.Candidate
	d := cand.MicroArb
	if d == nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithContext("micro-arb candidate missing venue quotes"))
	}

	spread := d.SellVenue.Price.Sub(d.BuyVenue.Price)
	if !spread.IsPositive() {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithContext("venue spread is not positive"))
	}

	// Size to the thinner venue, discounted by the slippage tolerance,
	// and never above the gate-admitted size.
	size := decimal.Min(d.BuyVenue.Depth, d.SellVenue.Depth, sized.Size)
	slipFactor := decimal.NewFromInt(10000 - c.config.MicroArb.SlippageTolBps).
		Div(decimal.NewFromInt(10000))
	size = size.Mul(slipFactor)
	if !size.IsPositive() {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithContext("sized amount is not positive"))
	}

	sizeAmt, err := asset.ParseDecimal(asset.ETH, size)
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("size conversion"))
	}
	costAmt, err := asset.ParseDecimal(asset.ETH, size.Mul(d.BuyVenue.Price))
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("cost conversion"))
	}
	profitAmt, err := asset.ParseDecimal(asset.ETH, size.Mul(spread))
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("profit conversion"))
	}

	expectedProfit := profitAmt.Raw()
	if expectedProfit.Cmp(c.config.MinNetProfitWei) <= 0 {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithContext("spread does not clear the profit floor"))
	}

	// Buy leg accepts the slippage tolerance; sell leg must return the
	// principal plus the floor or revert.
	buyMinOut := new(big.Int).Mul(sizeAmt.Raw(), big.NewInt(10000-c.config.MicroArb.SlippageTolBps))
	buyMinOut.Quo(buyMinOut, big.NewInt(10000))
	sellMinOut := new(big.Int).Add(costAmt.Raw(), c.config.MinNetProfitWei)

	if buyMinOut.Sign() <= 0 {
		return nil, apperror.New(apperror.CodeUnsafeMinOut,
			apperror.WithContext("buy leg min_out is not positive"))
	}

	// Both legs must land inside the timeout budget.
	expiry := cand.Expiry
	if budget := time.Now().Add(2 * c.config.MicroArb.LegTimeout); budget.Before(expiry) {
		expiry = budget
	}
	deadline := big.NewInt(expiry.Unix())

	buyApprove, err := c.encoder.Approve(d.BuyVenue.Router, costAmt.Raw())
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("encode buy approve"))
	}
	buyData, err := c.encoder.SwapExactTokensForTokens(
		costAmt.Raw(), buyMinOut,
		[]common.Address{d.BuyVenue.TokenIn, d.BuyVenue.TokenOut},
		d.BuyVenue.Router, deadline)
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("encode buy swap"))
	}
	sellApprove, err := c.encoder.Approve(d.SellVenue.Router, sizeAmt.Raw())
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("encode sell approve"))
	}
	sellData, err := c.encoder.SwapExactTokensForTokens(
		sizeAmt.Raw(), sellMinOut,
		[]common.Address{d.SellVenue.TokenIn, d.SellVenue.TokenOut},
		d.SellVenue.Router, deadline)
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("encode sell swap"))
	}

	steps := []domain.Step{
		{
			Kind:     domain.StepApprove,
			Target:   d.BuyVenue.TokenIn,
			Spender:  d.BuyVenue.Router,
			Asset:    d.BuyVenue.TokenIn,
			Amount:   costAmt.Raw(),
			Calldata: buyApprove,
		},
		{
			Kind:     domain.StepSwap,
			Target:   d.BuyVenue.Router,
			Asset:    d.BuyVenue.TokenIn,
			AssetOut: d.BuyVenue.TokenOut,
			Amount:   costAmt.Raw(),
			MinOut:   buyMinOut,
			Calldata: buyData,
		},
		{
			Kind:     domain.StepApprove,
			Target:   d.SellVenue.TokenIn,
			Spender:  d.SellVenue.Router,
			Asset:    d.SellVenue.TokenIn,
			Amount:   sizeAmt.Raw(),
			Calldata: sellApprove,
		},
		{
			Kind:     domain.StepSwap,
			Target:   d.SellVenue.Router,
			Asset:    d.SellVenue.TokenIn,
			AssetOut: d.SellVenue.TokenOut,
			Amount:   sizeAmt.Raw(),
			MinOut:   sellMinOut,
			Calldata: sellData,
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
		false,
		2*c.config.MicroArb.GasLimitPerLeg,
		expiry,
	)
}
