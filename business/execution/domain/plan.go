package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/fd1az/mev-searcher/internal/apperror"
)

// FundingKind selects how a plan's principal is sourced.
type FundingKind uint8

const (
	FundSelf FundingKind = iota
	FundFlashLoan
)

// FundingMode describes the plan's capital source.
type FundingMode struct {
	Kind       FundingKind
	Provider   common.Address // lending pool, flash-loan funded only
	PremiumBps int64
}

// FlashLoanRepayAmount computes borrowed + borrowed*premiumBps/10000
// in exact integer arithmetic. Truncating division matches the pool's
// own fee calculation; any deviation makes the repay transfer revert.
func FlashLoanRepayAmount(borrowed *big.Int, premiumBps int64) *big.Int {
	premium := new(big.Int).Mul(borrowed, big.NewInt(premiumBps))
	premium.Quo(premium, big.NewInt(10000))
	return premium.Add(premium, borrowed)
}

// Plan is an ordered sequence of on-chain steps with guaranteed
// profit-or-revert semantics. Immutable once built.
type Plan struct {
	id          uuid.UUID
	candidateID uuid.UUID
	strategy    string
	subject     string
	steps       []Step
	funding     FundingMode
	minNetWei   *big.Int
	expectedWei *big.Int
	atomic      bool
	gasLimit    uint64
	expiry      time.Time
	builtAt     time.Time
}

// NewPlan validates and builds an immutable plan. Steps are deep-copied
// so later mutation of the caller's slice cannot reach the plan.
func NewPlan(candidateID uuid.UUID, strategy, subjectClass string, steps []Step, funding FundingMode, minNetWei, expectedProfitWei *big.Int, atomic bool, gasLimit uint64, expiry time.Time) (*Plan, error) {
	if len(steps) == 0 {
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithContext("plan requires at least one step"))
	}

	owned := cloneSteps(steps)

	if err := validateSteps(owned, funding); err != nil {
		return nil, err
	}

	return &Plan{
		id:          uuid.New(),
		candidateID: candidateID,
		strategy:    strategy,
		subject:     subjectClass,
		steps:       owned,
		funding:     funding,
		minNetWei:   new(big.Int).Set(minNetWei),
		expectedWei: new(big.Int).Set(expectedProfitWei),
		atomic:      atomic,
		gasLimit:    gasLimit,
		expiry:      expiry,
		builtAt:     time.Now(),
	}, nil
}

func validateSteps(steps []Step, funding FundingMode) error {
	for _, s := range steps {
		if err := validateStep(s); err != nil {
			return err
		}
	}

	if funding.Kind == FundFlashLoan {
		wrap := findWrap(steps)
		if wrap == nil {
			return apperror.New(apperror.CodeNoViableRoute,
				apperror.WithContext("flash-loan funded plan has no wrap step"))
		}
		if len(wrap.Inner) == 0 || wrap.Inner[len(wrap.Inner)-1].Kind != StepRepay {
			return apperror.New(apperror.CodeRepayMismatch,
				apperror.WithContext("flash-loan wrap must end in a repay step"))
		}
		due := FlashLoanRepayAmount(wrap.Amount, funding.PremiumBps)
		repay := wrap.Inner[len(wrap.Inner)-1]
		if repay.Amount.Cmp(due) != 0 {
			return apperror.New(apperror.CodeRepayMismatch,
				apperror.WithContext("repay amount does not equal borrowed plus premium"))
		}
	}

	return nil
}

func validateStep(s Step) error {
	if s.Kind == StepSwap {
		if s.MinOut == nil || s.MinOut.Sign() <= 0 {
			return apperror.New(apperror.CodeUnsafeMinOut,
				apperror.WithContext("swap step requires a positive min_out"))
		}
	}
	if s.Kind == StepRawTx && len(s.Calldata) == 0 {
		return apperror.New(apperror.CodeInvalidInput,
			apperror.WithContext("raw tx step requires the signed transaction bytes"))
	}
	for _, inner := range s.Inner {
		if err := validateStep(inner); err != nil {
			return err
		}
	}
	return nil
}

func findWrap(steps []Step) *Step {
	for i := range steps {
		if steps[i].Kind == StepFlashLoanWrap {
			return &steps[i]
		}
	}
	return nil
}

// ID returns the plan identifier.
func (p *Plan) ID() uuid.UUID { return p.id }

// CandidateID returns the originating candidate.
func (p *Plan) CandidateID() uuid.UUID { return p.candidateID }

// Strategy returns the strategy kind name.
func (p *Plan) Strategy() string { return p.strategy }

// SubjectClass returns the subject class for statistics keying.
func (p *Plan) SubjectClass() string { return p.subject }

// Steps returns a deep copy of the ordered steps.
func (p *Plan) Steps() []Step { return cloneSteps(p.steps) }

// StepCount returns the number of top-level steps.
func (p *Plan) StepCount() int { return len(p.steps) }

// Funding returns the capital source.
func (p *Plan) Funding() FundingMode { return p.funding }

// MinNetProfitWei returns the profit floor in wei.
func (p *Plan) MinNetProfitWei() *big.Int { return new(big.Int).Set(p.minNetWei) }

// ExpectedProfitWei returns the composer's profit estimate in wei.
func (p *Plan) ExpectedProfitWei() *big.Int { return new(big.Int).Set(p.expectedWei) }

// Atomic reports whether all steps execute in one transaction.
func (p *Plan) Atomic() bool { return p.atomic }

// GasLimit returns the total gas estimate.
func (p *Plan) GasLimit() uint64 { return p.gasLimit }

// Expiry returns the plan deadline, inherited from the candidate.
func (p *Plan) Expiry() time.Time { return p.expiry }
