package app

import (
	"context"

	compDomain "github.com/fd1az/mev-searcher/business/competition/domain"
	executionDomain "github.com/fd1az/mev-searcher/business/execution/domain"
	"github.com/fd1az/mev-searcher/business/opportunity/domain"
	submissionDomain "github.com/fd1az/mev-searcher/business/submission/domain"
)

// CandidateSource streams detected candidates into the pipeline.
type CandidateSource interface {
	Candidates() <-chan *domain.Candidate
}

// PlanComposer turns a sized candidate into an executable plan.
type PlanComposer interface {
	Compose(ctx context.Context, sized *domain.SizedCandidate) (*executionDomain.Plan, error)
}

// FeePricer prices a plan against current competition statistics.
type FeePricer interface {
	Price(ctx context.Context, plan *executionDomain.Plan, urgency float64, snap *compDomain.Snapshot) (executionDomain.FeeParams, error)
}

// BundleHandle delivers the terminal outcome of one in-flight bundle.
type BundleHandle interface {
	Done() <-chan submissionDomain.Outcome
}

// BundleSubmitter packages and submits a priced plan.
type BundleSubmitter interface {
	Submit(ctx context.Context, plan *executionDomain.Plan, fees executionDomain.FeeParams) (BundleHandle, error)
}

// OutcomeRecorder feeds realized results back into the competition model.
type OutcomeRecorder interface {
	Record(ctx context.Context, o compDomain.Outcome)
}
