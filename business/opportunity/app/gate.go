// Package app contains the profitability gate and intake pipeline for the opportunity context.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	compDomain "github.com/fd1az/mev-searcher/business/competition/domain"
	"github.com/fd1az/mev-searcher/business/opportunity/domain"
	"github.com/fd1az/mev-searcher/internal/logger"
)

const (
	tracerName = "github.com/fd1az/mev-searcher/business/opportunity/app"
	meterName  = "github.com/fd1az/mev-searcher/business/opportunity/app"

	// urgencyHorizon is the expiry window mapped onto [0,1] urgency:
	// two mainnet blocks.
	urgencyHorizon = 24 * time.Second
)

// GateConfig holds the hard risk limits enforced per candidate.
type GateConfig struct {
	MaxNotional        decimal.Decimal
	MaxInFlightPerKind int
	MinProfit          decimal.Decimal // absolute floor, native units
	MinTargetValue     decimal.Decimal // subjects below this are not worth the gas
	BaseRiskPremium    decimal.Decimal
	ConfidenceFloor    decimal.Decimal

	// KellyRiskFactor scales the success-probability-weighted size
	// fraction; 0.5 = half Kelly.
	KellyRiskFactor      decimal.Decimal
	TargetWinProbability float64
}

// SnapshotSource supplies the current competition statistics view.
type SnapshotSource interface {
	Snapshot() *compDomain.Snapshot
}

// gateMetrics holds OTEL metric instruments.
type gateMetrics struct {
	decisions metric.Int64Counter
}

// Gate decides admit-or-reject for each candidate. Rejection is silent
// and final; an admitted candidate occupies an in-flight slot for its
// strategy until released.
type Gate struct {
	config GateConfig
	stats  SnapshotSource
	logger logger.LoggerInterface

	mu       sync.Mutex
	inFlight map[domain.StrategyKind]int

	tracer  trace.Tracer
	metrics *gateMetrics
}

// NewGate creates a profitability gate.
func NewGate(cfg GateConfig, stats SnapshotSource, log logger.LoggerInterface) (*Gate, error) {
	g := &Gate{
		config:   cfg,
		stats:    stats,
		logger:   log,
		inFlight: make(map[domain.StrategyKind]int),
		tracer:   otel.Tracer(tracerName),
	}

	if err := g.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return g, nil
}

func (g *Gate) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	g.metrics = &gateMetrics{}

	g.metrics.decisions, err = meter.Int64Counter(
		"opportunity_gate_decisions_total",
		metric.WithDescription("Total gate decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Evaluate applies the margin test, hard caps and sizing to one
// candidate. Down-sizes only, never up-sizes.
func (g *Gate) Evaluate(ctx context.Context, cand *domain.Candidate) domain.Decision {
	ctx, span := g.tracer.Start(ctx, "gate.evaluate",
		trace.WithAttributes(
			attribute.String("candidate_id", cand.ID.String()),
			attribute.String("strategy", string(cand.Kind)),
		),
	)
	defer span.End()

	now := time.Now()
	snap := g.stats.Snapshot()
	key := compDomain.Key{Strategy: string(cand.Kind), SubjectClass: cand.SubjectClass}
	deficit := snap.WinProbabilityDeficit(key, g.config.TargetWinProbability)

	// Contention raises the required margin through the premium.
	premium := g.riskPremium(deficit)
	net := cand.EstimatedGrossProfit.Mul(cand.Confidence).
		Sub(cand.EstimatedCost).
		Sub(premium)

	decision := g.decide(cand, net, snap, key, now)

	g.emitDecision(ctx, span, cand, decision)
	return decision
}

func (g *Gate) decide(cand *domain.Candidate, net decimal.Decimal, snap *compDomain.Snapshot, key compDomain.Key, now time.Time) domain.Decision {
	required := g.config.MinProfit

	if cand.Expired(now) {
		return domain.Reject(domain.RejectExpiredBeforeEvaluation, net, required)
	}

	if cand.Confidence.LessThan(g.config.ConfidenceFloor) || net.LessThan(required) {
		return domain.Reject(domain.RejectInsufficientMargin, net, required)
	}

	// A reported subject below the value floor cannot yield a position
	// worth its gas regardless of margin.
	if cand.TargetValue.IsPositive() && cand.TargetValue.LessThan(g.config.MinTargetValue) {
		return domain.Reject(domain.RejectSizeBelowMinimum, net, required)
	}

	if !g.tryReserve(cand.Kind) {
		return domain.Reject(domain.RejectConcurrencyLimitReached, net, required)
	}

	size := g.size(cand, snap.WinProbability(key))
	if size.LessThan(cand.Bounds.Min) {
		g.Release(cand.Kind)
		return domain.Reject(domain.RejectSizeBelowMinimum, net, required)
	}

	sized := &domain.SizedCandidate{
		Candidate: cand,
		Size:      size,
		Urgency:   urgency(cand, now),
	}
	return domain.Admit(sized, net, required)
}

// size applies the notional cap and Kelly-style down-sizing. The
// fraction scales with the observed win probability so a losing
// strategy risks less capital.
func (g *Gate) size(cand *domain.Candidate, winProb float64) decimal.Decimal {
	size := cand.Bounds.Max
	if size.GreaterThan(g.config.MaxNotional) {
		size = g.config.MaxNotional
	}

	fraction := g.config.KellyRiskFactor.Mul(decimal.NewFromFloat(winProb)).
		Add(g.config.KellyRiskFactor)
	if fraction.GreaterThan(decimal.NewFromInt(1)) {
		fraction = decimal.NewFromInt(1)
	}

	return size.Mul(fraction)
}

func (g *Gate) riskPremium(deficit float64) decimal.Decimal {
	scale := decimal.NewFromInt(1).Add(decimal.NewFromFloat(2 * deficit))
	return g.config.BaseRiskPremium.Mul(scale)
}

// urgency maps remaining lifetime onto [0,1]: a candidate about to
// expire prices like a must-win.
func urgency(cand *domain.Candidate, now time.Time) float64 {
	remaining := cand.TimeRemaining(now)
	if remaining >= urgencyHorizon {
		return 0
	}
	return 1 - float64(remaining)/float64(urgencyHorizon)
}

func (g *Gate) tryReserve(kind domain.StrategyKind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight[kind] >= g.config.MaxInFlightPerKind {
		return false
	}
	g.inFlight[kind]++
	return true
}

// Release frees an in-flight slot. Called when the admitted candidate's
// bundle reaches a terminal state or composition abandons it.
func (g *Gate) Release(kind domain.StrategyKind) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight[kind] > 0 {
		g.inFlight[kind]--
	}
}

// InFlight reports the current slot usage for a strategy.
func (g *Gate) InFlight(kind domain.StrategyKind) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight[kind]
}

func (g *Gate) emitDecision(ctx context.Context, span trace.Span, cand *domain.Candidate, d domain.Decision) {
	outcome := "admitted"
	if !d.Admitted {
		outcome = string(d.Reason)
	}

	g.metrics.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", string(cand.Kind)),
		attribute.String("outcome", outcome),
	))
	span.SetAttributes(attribute.String("outcome", outcome))

	g.logger.Debug(ctx, "gate decision",
		"candidate_id", cand.ID.String(),
		"strategy", string(cand.Kind),
		"outcome", outcome,
		"net", d.NetEstimate.String(),
	)
}
