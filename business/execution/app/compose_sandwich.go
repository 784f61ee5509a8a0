package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-searcher/business/execution/domain"
	oppDomain "github.com/fd1az/mev-searcher/business/opportunity/domain"
	"github.com/fd1az/mev-searcher/internal/apperror"
	"github.com/fd1az/mev-searcher/internal/asset"
)

const ternarySearchRounds = 64

// constantProductOut computes the output of a constant-product swap
// with the pool fee taken from the input side, in exact integer math.
func constantProductOut(in, reserveIn, reserveOut *big.Int, feeBps int64) *big.Int {
	if in.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}

	inWithFee := new(big.Int).Mul(in, big.NewInt(10000-feeBps))
	num := new(big.Int).Mul(inWithFee, reserveOut)
	den := new(big.Int).Mul(reserveIn, big.NewInt(10000))
	den.Add(den, inWithFee)

	return num.Quo(num, den)
}

// sandwichSim is the outcome of simulating one frontrun size against
// the detection-time pool snapshot.
type sandwichSim struct {
	frontrunIn  *big.Int
	frontrunOut *big.Int
	profit      *big.Int // backrun out minus frontrun in; nil = infeasible
}

// simulateSandwich plays frontrun, victim, backrun through the curve.
// Infeasible when the frontrun would push the victim below its min_out,
// because the victim tx reverting removes the whole opportunity.
func simulateSandwich(d *oppDomain.SandwichDetail, frontrun *big.Int) sandwichSim {
	sim := sandwichSim{frontrunIn: frontrun}

	outF := constantProductOut(frontrun, d.ReserveIn, d.ReserveOut, d.PoolFeeBps)
	if outF.Sign() <= 0 {
		return sim
	}
	sim.frontrunOut = outF

	rIn := new(big.Int).Add(d.ReserveIn, frontrun)
	rOut := new(big.Int).Sub(d.ReserveOut, outF)

	outV := constantProductOut(d.VictimAmountIn, rIn, rOut, d.PoolFeeBps)
	if d.VictimMinOut != nil && outV.Cmp(d.VictimMinOut) < 0 {
		return sim
	}

	rIn.Add(rIn, d.VictimAmountIn)
	rOut.Sub(rOut, outV)

	// Backrun sells the frontrun output back through the shifted pool.
	outB := constantProductOut(outF, rOut, rIn, d.PoolFeeBps)
	sim.profit = new(big.Int).Sub(outB, frontrun)

	return sim
}

// optimalFrontrun ternary-searches the unimodal profit curve for the
// best frontrun size in [1, limit].
func optimalFrontrun(d *oppDomain.SandwichDetail, limit *big.Int) sandwichSim {
	lo := big.NewInt(1)
	hi := new(big.Int).Set(limit)
	two := big.NewInt(2)
	three := big.NewInt(3)

	for i := 0; i < ternarySearchRounds && lo.Cmp(hi) < 0; i++ {
		span := new(big.Int).Sub(hi, lo)
		third := new(big.Int).Quo(span, three)

		m1 := new(big.Int).Add(lo, third)
		m2 := new(big.Int).Sub(hi, third)
		if m1.Cmp(m2) >= 0 {
			break
		}

		p1 := simulateSandwich(d, m1).profit
		p2 := simulateSandwich(d, m2).profit

		if cmpProfit(p1, p2) < 0 {
			lo = m1.Add(m1, big.NewInt(1))
		} else {
			hi = m2.Sub(m2, big.NewInt(1))
		}
	}

	mid := new(big.Int).Add(lo, hi)
	mid.Quo(mid, two)
	if mid.Sign() <= 0 {
		mid = big.NewInt(1)
	}
	return simulateSandwich(d, mid)
}

// cmpProfit orders profits treating infeasible (nil) as minus infinity.
func cmpProfit(a, b *big.Int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Cmp(b)
	}
}

// composeSandwich builds the frontrun/victim/backrun plan. The legs
// are separate transactions; each carries its own min_out guard so
// interference reverts the leg instead of taking a loss. The victim's
// pre-signed transaction is interleaved between them so the bundle
// straddles the price move it profits from.
func (c *Composer) composeSandwich(ctx context.Context, sized *oppDomain.SizedCandidate) (*domain.Plan, error) {
	cand := sized.Candidate
	d := cand.Sandwich
	if d == nil || d.ReserveIn == nil || d.ReserveOut == nil || d.VictimAmountIn == nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithContext("sandwich candidate missing pool snapshot"))
	}
	if len(d.VictimRawTx) == 0 {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithContext("sandwich candidate missing victim transaction"))
	}

	maxIn := c.sandwichMaxFrontrun(sized)
	if maxIn.Sign() <= 0 {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithContext("sandwich size bound is zero"))
	}

	best := optimalFrontrun(d, maxIn)
	if best.profit == nil || best.profit.Cmp(c.config.MinNetProfitWei) <= 0 {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithContext("no frontrun size clears the profit floor"))
	}
	if best.frontrunOut == nil || best.frontrunOut.Sign() <= 0 {
		return nil, apperror.New(apperror.CodeUnsafeMinOut,
			apperror.WithContext("frontrun output is not positive"))
	}

	router := c.config.Sandwich.Router
	deadline := big.NewInt(cand.Expiry.Unix())

	// Backrun must recoup the frontrun input plus the floor or revert.
	backrunMinOut := new(big.Int).Add(best.frontrunIn, c.config.MinNetProfitWei)

	approveData, err := c.encoder.Approve(router, best.frontrunIn)
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("encode approve"))
	}
	frontrunData, err := c.encoder.SwapExactTokensForTokens(
		best.frontrunIn, best.frontrunOut,
		[]common.Address{d.TokenIn, d.TokenOut}, router, deadline)
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("encode frontrun swap"))
	}
	backrunData, err := c.encoder.SwapExactTokensForTokens(
		best.frontrunOut, backrunMinOut,
		[]common.Address{d.TokenOut, d.TokenIn}, router, deadline)
	if err != nil {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithCause(err), apperror.WithContext("encode backrun swap"))
	}

	steps := []domain.Step{
		{
			Kind:     domain.StepApprove,
			Target:   d.TokenIn,
			Spender:  router,
			Asset:    d.TokenIn,
			Amount:   best.frontrunIn,
			Calldata: approveData,
		},
		{
			Kind:     domain.StepSwap,
			Target:   router,
			Asset:    d.TokenIn,
			AssetOut: d.TokenOut,
			Amount:   best.frontrunIn,
			MinOut:   best.frontrunOut,
			Calldata: frontrunData,
		},
		{
			// The victim's own transaction rides between the legs so
			// the backrun sells into the post-victim price.
			Kind:     domain.StepRawTx,
			Calldata: d.VictimRawTx,
		},
		{
			Kind:     domain.StepSwap,
			Target:   router,
			Asset:    d.TokenOut,
			AssetOut: d.TokenIn,
			Amount:   best.frontrunOut,
			MinOut:   backrunMinOut,
			Calldata: backrunData,
		},
	}

	return domain.NewPlan(
		cand.ID,
		string(cand.Kind),
		cand.SubjectClass,
		steps,
		domain.FundingMode{Kind: domain.FundSelf},
		c.config.MinNetProfitWei,
		best.profit,
		false, // frontrun and backrun are separate transactions
		2*c.config.Sandwich.GasLimitPerLeg,
		cand.Expiry,
	)
}

// sandwichMaxFrontrun caps the search space at the smaller of the
// configured maximum and the gate-admitted size.
func (c *Composer) sandwichMaxFrontrun(sized *oppDomain.SizedCandidate) *big.Int {
	limit := new(big.Int).Set(c.config.Sandwich.MaxFrontrunWei)

	admitted, err := asset.ParseDecimal(asset.ETH, sized.Size)
	if err != nil {
		return limit
	}
	if admitted.Raw().Cmp(limit) < 0 {
		return admitted.Raw()
	}
	return limit
}
