package domain

import "github.com/shopspring/decimal"

// RejectReason classifies a gate rejection. Rejection is silent and
// final per candidate.
type RejectReason string

const (
	RejectInsufficientMargin      RejectReason = "insufficient_margin"
	RejectExpiredBeforeEvaluation RejectReason = "expired_before_evaluation"
	RejectConcurrencyLimitReached RejectReason = "concurrency_limit_reached"
	RejectSizeBelowMinimum        RejectReason = "size_below_minimum"
)

// Decision is the gate's verdict on one candidate.
type Decision struct {
	Admitted bool
	Sized    *SizedCandidate // set iff Admitted
	Reason   RejectReason    // set iff !Admitted

	// NetEstimate and RequiredMargin expose the gate's arithmetic for
	// observability and tests.
	NetEstimate    decimal.Decimal
	RequiredMargin decimal.Decimal
}

// Admit builds an admitting decision.
func Admit(sized *SizedCandidate, net, required decimal.Decimal) Decision {
	return Decision{
		Admitted:       true,
		Sized:          sized,
		NetEstimate:    net,
		RequiredMargin: required,
	}
}

// Reject builds a rejecting decision.
func Reject(reason RejectReason, net, required decimal.Decimal) Decision {
	return Decision{
		Admitted:       false,
		Reason:         reason,
		NetEstimate:    net,
		RequiredMargin: required,
	}
}
