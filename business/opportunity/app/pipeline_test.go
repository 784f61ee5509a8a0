package app

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	compDomain "github.com/fd1az/mev-searcher/business/competition/domain"
	executionDomain "github.com/fd1az/mev-searcher/business/execution/domain"
	"github.com/fd1az/mev-searcher/business/opportunity/domain"
	submissionDomain "github.com/fd1az/mev-searcher/business/submission/domain"
	"github.com/fd1az/mev-searcher/internal/apperror"
)

type stubComposer struct {
	err error
}

func (c *stubComposer) Compose(_ context.Context, sized *domain.SizedCandidate) (*executionDomain.Plan, error) {
	if c.err != nil {
		return nil, c.err
	}
	steps := []executionDomain.Step{{
		Kind:     executionDomain.StepProtocolCall,
		Calldata: []byte{0x01},
	}}
	return executionDomain.NewPlan(sized.Candidate.ID,
		string(sized.Candidate.Kind), sized.Candidate.SubjectClass, steps,
		executionDomain.FundingMode{Kind: executionDomain.FundSelf},
		big.NewInt(1), big.NewInt(1_000_000_000_000_000), true, 300_000,
		sized.Candidate.Expiry)
}

type stubPricer struct {
	err error
}

func (p *stubPricer) Price(context.Context, *executionDomain.Plan, float64, *compDomain.Snapshot) (executionDomain.FeeParams, error) {
	if p.err != nil {
		return executionDomain.FeeParams{}, p.err
	}
	return executionDomain.FeeParams{
		MaxFeePerGas:         big.NewInt(40_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(2_000_000_000),
		GasLimit:             300_000,
	}, nil
}

type stubHandle struct {
	ch chan submissionDomain.Outcome
}

func (h *stubHandle) Done() <-chan submissionDomain.Outcome { return h.ch }

type stubSubmitter struct {
	err error

	mu      sync.Mutex
	handles []*stubHandle
}

func (s *stubSubmitter) Submit(_ context.Context, plan *executionDomain.Plan, _ executionDomain.FeeParams) (BundleHandle, error) {
	if s.err != nil {
		return nil, s.err
	}
	h := &stubHandle{ch: make(chan submissionDomain.Outcome, 1)}
	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	return h, nil
}

func (s *stubSubmitter) handle(t *testing.T) *stubHandle {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.handles) > 0 {
			h := s.handles[0]
			s.mu.Unlock()
			return h
		}
		s.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("no bundle was submitted")
	return nil
}

type stubRecorder struct {
	mu       sync.Mutex
	outcomes []compDomain.Outcome
}

func (r *stubRecorder) Record(_ context.Context, o compDomain.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *stubRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outcomes)
}

func (r *stubRecorder) last(t *testing.T) compDomain.Outcome {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.outcomes) > 0 {
			o := r.outcomes[len(r.outcomes)-1]
			r.mu.Unlock()
			return o
		}
		r.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("no outcome recorded")
	return compDomain.Outcome{}
}

type pipelineFixture struct {
	pipeline  *Pipeline
	gate      *Gate
	composer  *stubComposer
	pricer    *stubPricer
	submitter *stubSubmitter
	recorder  *stubRecorder
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	gate := newTestGate(t, testGateConfig(), nil)
	f := &pipelineFixture{
		gate:      gate,
		composer:  &stubComposer{},
		pricer:    &stubPricer{},
		submitter: &stubSubmitter{},
		recorder:  &stubRecorder{},
	}

	cfg := PipelineConfig{IntakeDepth: 8, Workers: 1, EvaluateTimeout: time.Second}
	p, err := NewPipeline(cfg, gate, f.composer, f.pricer, f.submitter,
		f.recorder, &stubStats{}, testLogger())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	f.pipeline = p
	return f
}

func waitInFlight(t *testing.T, g *Gate, kind domain.StrategyKind, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if g.InFlight(kind) == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("in-flight = %d, want %d", g.InFlight(kind), want)
}

func TestPipelineRecordsOutcomeAndReleasesSlot(t *testing.T) {
	f := newPipelineFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.pipeline.Start(ctx)

	cand := testCandidate(t, "1.0", "0.01", "0.9")
	if !f.pipeline.Enqueue(ctx, cand) {
		t.Fatal("enqueue refused")
	}

	handle := f.submitter.handle(t)
	waitInFlight(t, f.gate, domain.StrategyLiquidation, 1)

	handle.ch <- submissionDomain.Outcome{
		BundleID:        uuid.New().String(),
		PlanID:          uuid.New().String(),
		Strategy:        string(domain.StrategyLiquidation),
		SubjectClass:    "aave_v3",
		State:           submissionDomain.StateIncluded,
		IncludedBlock:   101,
		TimeToInclusion: 240 * time.Millisecond,
		GasSpentWei:     big.NewInt(500_000_000_000_000),
		PriorityFeeWei:  big.NewInt(2_000_000_000),
		Atomic:          true,
	}

	out := f.recorder.last(t)
	if out.Result != compDomain.ResultIncluded {
		t.Errorf("result = %s, want included", out.Result)
	}
	if out.PriorityFeeGwei != 2.0 {
		t.Errorf("priority fee = %v gwei, want 2", out.PriorityFeeGwei)
	}
	if out.GasSpentETH.String() != "0.0005" {
		t.Errorf("gas spent = %s ETH, want 0.0005", out.GasSpentETH)
	}

	waitInFlight(t, f.gate, domain.StrategyLiquidation, 0)
}

func TestPipelineReleasesSlotOnComposeAbandon(t *testing.T) {
	f := newPipelineFixture(t)
	f.composer.err = apperror.New(apperror.CodeQuoteStale,
		apperror.WithContext("reserves went stale"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.pipeline.Start(ctx)

	if !f.pipeline.Enqueue(ctx, testCandidate(t, "1.0", "0.01", "0.9")) {
		t.Fatal("enqueue refused")
	}

	waitInFlight(t, f.gate, domain.StrategyLiquidation, 0)
	if f.recorder.count() != 0 {
		t.Errorf("recorded %d outcomes for an abandoned candidate", f.recorder.count())
	}
}

func TestPipelineReleasesSlotOnFeeAbandon(t *testing.T) {
	f := newPipelineFixture(t)
	f.pricer.err = apperror.New(apperror.CodeFeeAbandon,
		apperror.WithContext("fees exceed expected profit"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.pipeline.Start(ctx)

	if !f.pipeline.Enqueue(ctx, testCandidate(t, "1.0", "0.01", "0.9")) {
		t.Fatal("enqueue refused")
	}

	waitInFlight(t, f.gate, domain.StrategyLiquidation, 0)
}

func TestPipelineReleasesSlotOnSubmitFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.submitter.err = apperror.New(apperror.CodeCapacityExceeded,
		apperror.WithContext("concurrent bundle cap reached"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.pipeline.Start(ctx)

	if !f.pipeline.Enqueue(ctx, testCandidate(t, "1.0", "0.01", "0.9")) {
		t.Fatal("enqueue refused")
	}

	waitInFlight(t, f.gate, domain.StrategyLiquidation, 0)
}

func TestPipelineDropsWhenIntakeFull(t *testing.T) {
	f := newPipelineFixture(t)
	// Never started: nothing drains the queue.

	ctx := context.Background()
	full := 0
	for i := 0; i < 10; i++ {
		if !f.pipeline.Enqueue(ctx, testCandidate(t, "1.0", "0.01", "0.9")) {
			full++
		}
	}

	if full != 2 {
		t.Errorf("dropped %d candidates with depth 8 and 10 offers, want 2", full)
	}
}
