// Package domain contains the execution plan types.
package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// StepKind tags a plan step. Steps are a closed set dispatched by tag,
// not by interface, to keep the composition path allocation-light.
type StepKind uint8

const (
	StepApprove StepKind = iota
	StepSwap
	StepFlashLoanWrap
	StepProtocolCall
	StepRepay
	StepRawTx
)

// String returns the step kind name.
func (k StepKind) String() string {
	switch k {
	case StepApprove:
		return "approve"
	case StepSwap:
		return "swap"
	case StepFlashLoanWrap:
		return "flash_loan_wrap"
	case StepProtocolCall:
		return "protocol_call"
	case StepRepay:
		return "repay"
	case StepRawTx:
		return "raw_tx"
	default:
		return "unknown"
	}
}

// Step is one on-chain action inside a plan.
//
// Field use by kind:
//   - Approve: Target = token, Spender, Amount
//   - Swap: Target = router, Asset = token in, AssetOut, Amount = in, MinOut
//   - FlashLoanWrap: Target = lending pool, Asset, Amount = borrowed, Inner
//   - ProtocolCall: Target, Calldata
//   - Repay: Target = lending pool, Asset, Amount = amount due
//   - RawTx: Calldata = a third party's pre-signed raw transaction,
//     carried into the bundle verbatim and never re-signed
type Step struct {
	Kind    StepKind
	Target  common.Address
	Asset   common.Address
	Spender common.Address

	AssetOut common.Address
	Amount   *big.Int
	MinOut   *big.Int
	MaxIn    *big.Int

	Calldata []byte
	Inner    []Step
}

// clone deep-copies a step so plans own their data.
func (s Step) clone() Step {
	c := s
	if s.Amount != nil {
		c.Amount = new(big.Int).Set(s.Amount)
	}
	if s.MinOut != nil {
		c.MinOut = new(big.Int).Set(s.MinOut)
	}
	if s.MaxIn != nil {
		c.MaxIn = new(big.Int).Set(s.MaxIn)
	}
	if s.Calldata != nil {
		c.Calldata = append([]byte(nil), s.Calldata...)
	}
	if s.Inner != nil {
		c.Inner = cloneSteps(s.Inner)
	}
	return c
}

func cloneSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = s.clone()
	}
	return out
}
