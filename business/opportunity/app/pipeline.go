package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	compDomain "github.com/fd1az/mev-searcher/business/competition/domain"
	executionDomain "github.com/fd1az/mev-searcher/business/execution/domain"
	"github.com/fd1az/mev-searcher/business/opportunity/domain"
	submissionDomain "github.com/fd1az/mev-searcher/business/submission/domain"
	"github.com/fd1az/mev-searcher/internal/apperror"
	"github.com/fd1az/mev-searcher/internal/logger"
)

// PipelineConfig holds worker and queue sizing.
type PipelineConfig struct {
	IntakeDepth     int
	Workers         int
	EvaluateTimeout time.Duration
}

// DefaultPipelineConfig returns sensible defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		IntakeDepth:     64,
		Workers:         4,
		EvaluateTimeout: 500 * time.Millisecond,
	}
}

// pipelineMetrics holds OTEL metric instruments.
type pipelineMetrics struct {
	enqueued  metric.Int64Counter
	dropped   metric.Int64Counter
	abandoned metric.Int64Counter
	submitted metric.Int64Counter
}

// Pipeline drives candidates from intake through gate, composition,
// pricing and submission. A full intake queue drops new candidates:
// a stale opportunity is worth less than the latency of queueing it.
type Pipeline struct {
	config    PipelineConfig
	gate      *Gate
	composer  PlanComposer
	pricer    FeePricer
	submitter BundleSubmitter
	recorder  OutcomeRecorder
	stats     SnapshotSource
	logger    logger.LoggerInterface

	intake  chan *domain.Candidate
	wg      sync.WaitGroup
	started atomic.Bool
	stopped chan struct{}

	tracer  trace.Tracer
	metrics *pipelineMetrics
}

// NewPipeline creates the opportunity pipeline.
func NewPipeline(cfg PipelineConfig, gate *Gate, composer PlanComposer, pricer FeePricer, submitter BundleSubmitter, recorder OutcomeRecorder, stats SnapshotSource, log logger.LoggerInterface) (*Pipeline, error) {
	if cfg.IntakeDepth <= 0 {
		cfg.IntakeDepth = DefaultPipelineConfig().IntakeDepth
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultPipelineConfig().Workers
	}

	p := &Pipeline{
		config:    cfg,
		gate:      gate,
		composer:  composer,
		pricer:    pricer,
		submitter: submitter,
		recorder:  recorder,
		stats:     stats,
		logger:    log,
		intake:    make(chan *domain.Candidate, cfg.IntakeDepth),
		stopped:   make(chan struct{}),
		tracer:    otel.Tracer(tracerName),
	}

	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return p, nil
}

func (p *Pipeline) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	p.metrics = &pipelineMetrics{}

	p.metrics.enqueued, err = meter.Int64Counter(
		"opportunity_candidates_enqueued_total",
		metric.WithDescription("Total candidates accepted into the intake queue"),
		metric.WithUnit("{candidate}"),
	)
	if err != nil {
		return err
	}

	p.metrics.dropped, err = meter.Int64Counter(
		"opportunity_candidates_dropped_total",
		metric.WithDescription("Total candidates dropped at a full intake queue"),
		metric.WithUnit("{candidate}"),
	)
	if err != nil {
		return err
	}

	p.metrics.abandoned, err = meter.Int64Counter(
		"opportunity_plans_abandoned_total",
		metric.WithDescription("Total admitted candidates abandoned before submission"),
		metric.WithUnit("{plan}"),
	)
	if err != nil {
		return err
	}

	p.metrics.submitted, err = meter.Int64Counter(
		"opportunity_bundles_submitted_total",
		metric.WithDescription("Total bundles handed to the submission manager"),
		metric.WithUnit("{bundle}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Start launches the worker pool.
func (p *Pipeline) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	p.logger.Info(ctx, "pipeline started",
		"workers", p.config.Workers,
		"intake_depth", p.config.IntakeDepth)
}

// Enqueue offers a candidate to the pipeline without blocking. Returns
// false when the intake queue is full and the candidate was dropped.
func (p *Pipeline) Enqueue(ctx context.Context, cand *domain.Candidate) bool {
	select {
	case p.intake <- cand:
		p.metrics.enqueued.Add(ctx, 1,
			metric.WithAttributes(attribute.String("strategy", string(cand.Kind))))
		return true
	default:
		p.metrics.dropped.Add(ctx, 1,
			metric.WithAttributes(attribute.String("strategy", string(cand.Kind))))
		p.logger.Warn(ctx, "intake queue full, candidate dropped",
			"candidate_id", cand.ID.String(),
			"strategy", string(cand.Kind))
		return false
	}
}

// Close stops the workers. In-flight bundles keep tracking to their
// terminal state.
func (p *Pipeline) Close() error {
	if !p.started.Load() {
		return nil
	}
	close(p.stopped)
	p.wg.Wait()
	return nil
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopped:
			return
		case cand := <-p.intake:
			p.process(ctx, cand)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, cand *domain.Candidate) {
	ctx, span := p.tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(
			attribute.String("candidate_id", cand.ID.String()),
			attribute.String("strategy", string(cand.Kind)),
		),
	)
	defer span.End()

	evalCtx := ctx
	if p.config.EvaluateTimeout > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx, p.config.EvaluateTimeout)
		defer cancel()
	}

	decision := p.gate.Evaluate(evalCtx, cand)
	if !decision.Admitted {
		// Rejection is silent and final.
		return
	}

	plan, err := p.composer.Compose(evalCtx, decision.Sized)
	if err != nil {
		p.abandon(ctx, cand, "compose", err)
		return
	}

	fees, err := p.pricer.Price(evalCtx, plan, decision.Sized.Urgency, p.stats.Snapshot())
	if err != nil {
		p.abandon(ctx, cand, "price", err)
		return
	}

	handle, err := p.submitter.Submit(ctx, plan, fees)
	if err != nil {
		p.abandon(ctx, cand, "submit", err)
		return
	}

	p.metrics.submitted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("strategy", string(cand.Kind))))

	p.wg.Add(1)
	go p.await(ctx, cand.Kind, plan, handle)
}

// abandon releases the in-flight slot when an admitted candidate dies
// before submission. Stale quotes, infeasible routes and fee abandons
// are expected outcomes, not faults.
func (p *Pipeline) abandon(ctx context.Context, cand *domain.Candidate, stage string, err error) {
	p.gate.Release(cand.Kind)

	p.metrics.abandoned.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", string(cand.Kind)),
		attribute.String("stage", stage),
	))

	if apperror.HasCode(err, apperror.CodeQuoteStale) ||
		apperror.HasCode(err, apperror.CodeNoViableRoute) ||
		apperror.HasCode(err, apperror.CodeFeeAbandon) ||
		apperror.HasCode(err, apperror.CodeSimulationReverted) ||
		apperror.HasCode(err, apperror.CodeCapacityExceeded) {
		p.logger.Debug(ctx, "candidate abandoned",
			"candidate_id", cand.ID.String(),
			"stage", stage,
			"reason", err)
		return
	}

	p.logger.Error(ctx, "pipeline stage failed",
		"candidate_id", cand.ID.String(),
		"stage", stage,
		"error", err)
}

// await blocks on the bundle's terminal outcome, feeds the competition
// model and frees the strategy's in-flight slot.
func (p *Pipeline) await(ctx context.Context, kind domain.StrategyKind, plan *executionDomain.Plan, handle BundleHandle) {
	defer p.wg.Done()
	defer p.gate.Release(kind)

	select {
	case outcome := <-handle.Done():
		p.recorder.Record(ctx, toCompetitionOutcome(outcome, plan))
	case <-ctx.Done():
	}
}

var weiPerGwei = decimal.New(1, 9)

func toCompetitionOutcome(o submissionDomain.Outcome, plan *executionDomain.Plan) compDomain.Outcome {
	gasETH := decimal.NewFromBigInt(o.GasSpentWei, -18)
	estimated := decimal.NewFromBigInt(plan.ExpectedProfitWei(), -18)

	var result compDomain.Result
	var realized decimal.Decimal
	switch o.State {
	case submissionDomain.StateIncluded:
		result = compDomain.ResultIncluded
		realized = estimated.Sub(gasETH)
	case submissionDomain.StateRejected:
		result = compDomain.ResultRejected
	default:
		result = compDomain.ResultExpired
	}

	priorityGwei, _ := decimal.NewFromBigInt(o.PriorityFeeWei, 0).
		Div(weiPerGwei).Float64()

	return compDomain.Outcome{
		Strategy:        o.Strategy,
		SubjectClass:    o.SubjectClass,
		Result:          result,
		PriorityFeeGwei: priorityGwei,
		TimeToInclusion: o.TimeToInclusion,
		RealizedProfit:  realized,
		EstimatedProfit: estimated,
		GasSpentETH:     gasETH,
		Atomic:          o.Atomic,
		ObservedAt:      time.Now(),
	}
}
