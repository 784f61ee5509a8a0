package app

import (
	"context"
	"time"

	"github.com/fd1az/mev-searcher/business/execution/domain"
	oppDomain "github.com/fd1az/mev-searcher/business/opportunity/domain"
	"github.com/fd1az/mev-searcher/internal/apperror"
	"github.com/fd1az/mev-searcher/internal/asset"
)

// composeCrossChain builds the prepare/bridge/settle sequence. The
// bridge leg's min_out is the quote's guaranteed floor; after the quote
// expires the candidate is abandoned, never re-priced.
func (c *Composer) composeCrossChain(ctx context.Context, sized *oppDomain.SizedCandidate) (*domain.Plan, error) {
	cand := sized.Candidate
	d := cand.CrossChain
	if d == nil || d.MinGuaranteedOut == nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithContext("cross-chain candidate missing bridge quote"))
	}

	now := time.Now()
	if !now.Before(d.QuoteExpiry) {
		return nil, apperror.New(apperror.CodeQuoteStale,
			apperror.WithContext("bridge quote expired"))
	}
	if remaining := d.QuoteExpiry.Sub(now); remaining < c.config.CrossChain.QuoteTTL {
		return nil, apperror.New(apperror.CodeQuoteStale,
			apperror.WithContext("bridge quote expires inside the execution window"))
	}

	if d.MinGuaranteedOut.Sign() <= 0 {
		return nil, apperror.New(apperror.CodeUnsafeMinOut,
			apperror.WithContext("bridge guaranteed output is not positive"))
	}

	sizeAmt, err := asset.ParseDecimal(asset.ETH, sized.Size)
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("size conversion"))
	}
	grossAmt, err := asset.ParseDecimal(asset.ETH, cand.EstimatedGrossProfit)
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("profit conversion"))
	}

	expectedProfit := grossAmt.Raw()
	if expectedProfit.Cmp(c.config.MinNetProfitWei) <= 0 {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithContext("bridge spread does not clear the profit floor"))
	}

	approveData, err := c.encoder.Approve(d.Bridge, sizeAmt.Raw())
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("encode bridge approve"))
	}
	bridgeData, err := c.encoder.BridgeTransfer(d.Asset, sizeAmt.Raw(), d.MinGuaranteedOut, d.DestChainID)
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("encode bridge transfer"))
	}
	claimData, err := c.encoder.BridgeClaim(d.Asset, d.MinGuaranteedOut)
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("encode bridge claim"))
	}

	// Plan expiry is bounded by the quote: past it the bridge no longer
	// honors the guaranteed output.
	expiry := cand.Expiry
	if d.QuoteExpiry.Before(expiry) {
		expiry = d.QuoteExpiry
	}

	steps := []domain.Step{
		{
			Kind:     domain.StepApprove,
			Target:   d.Asset,
			Spender:  d.Bridge,
			Asset:    d.Asset,
			Amount:   sizeAmt.Raw(),
			Calldata: approveData,
		},
		{
			Kind:     domain.StepSwap,
			Target:   d.Bridge,
			Asset:    d.Asset,
			AssetOut: d.Asset,
			Amount:   sizeAmt.Raw(),
			MinOut:   d.MinGuaranteedOut,
			Calldata: bridgeData,
		},
		{
			Kind:     domain.StepProtocolCall,
			Target:   d.Bridge,
			Calldata: claimData,
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
		false, // source and destination legs cannot share a transaction
		c.config.CrossChain.GasLimit,
		expiry,
	)
}
