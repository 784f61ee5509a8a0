package app

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/mev-searcher/business/execution/domain"
	oppDomain "github.com/fd1az/mev-searcher/business/opportunity/domain"
	"github.com/fd1az/mev-searcher/internal/apperror"
	"github.com/fd1az/mev-searcher/internal/logger"
)

const (
	tracerName = "github.com/fd1az/mev-searcher/business/execution/app"
	meterName  = "github.com/fd1az/mev-searcher/business/execution/app"
)

// SandwichParams configures sandwich composition.
type SandwichParams struct {
	Router         common.Address
	MaxFrontrunWei *big.Int
	GasLimitPerLeg uint64
}

// LiquidationParams configures liquidation composition.
type LiquidationParams struct {
	Provider           common.Address // flash-loan pool
	PremiumBps         int64
	MinOutFloorWei     *big.Int
	PreferFlashLoan    bool
	AllowNonAtomicLegs bool
	GasLimit           uint64
}

// MicroArbParams configures same-chain cross-venue composition.
type MicroArbParams struct {
	SlippageTolBps int64
	LegTimeout     time.Duration
	GasLimitPerLeg uint64
}

// CrossChainParams configures cross-chain composition.
type CrossChainParams struct {
	QuoteTTL time.Duration
	GasLimit uint64
}

// ComposerConfig holds per-strategy composition parameters.
type ComposerConfig struct {
	// MinNetProfitWei is the profit floor baked into every plan's
	// final guard. A plan that cannot clear it reverts on-chain.
	MinNetProfitWei *big.Int

	Sandwich    SandwichParams
	Liquidation LiquidationParams
	MicroArb    MicroArbParams
	CrossChain  CrossChainParams
}

type composeFn func(ctx context.Context, sized *oppDomain.SizedCandidate) (*domain.Plan, error)

// composerMetrics holds OTEL metric instruments.
type composerMetrics struct {
	plansComposed metric.Int64Counter
	composeErrors metric.Int64Counter
}

// Composer turns admitted candidates into immutable execution plans.
// Dispatch is by strategy tag; each strategy has its own builder.
type Composer struct {
	config  ComposerConfig
	encoder CalldataEncoder
	logger  logger.LoggerInterface

	dispatch map[oppDomain.StrategyKind]composeFn

	tracer  trace.Tracer
	metrics *composerMetrics
}

// NewComposer creates a composer.
func NewComposer(cfg ComposerConfig, encoder CalldataEncoder, log logger.LoggerInterface) (*Composer, error) {
	c := &Composer{
		config:  cfg,
		encoder: encoder,
		logger:  log,
		tracer:  otel.Tracer(tracerName),
	}

	if err := c.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	c.dispatch = map[oppDomain.StrategyKind]composeFn{
		oppDomain.StrategySandwich:            c.composeSandwich,
		oppDomain.StrategyLiquidation:         c.composeLiquidation,
		oppDomain.StrategyMicroArbitrage:      c.composeMicroArb,
		oppDomain.StrategyCrossChainArbitrage: c.composeCrossChain,
	}

	return c, nil
}

func (c *Composer) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	c.metrics = &composerMetrics{}

	c.metrics.plansComposed, err = meter.Int64Counter(
		"execution_plans_composed_total",
		metric.WithDescription("Total execution plans composed"),
		metric.WithUnit("{plan}"),
	)
	if err != nil {
		return err
	}

	c.metrics.composeErrors, err = meter.Int64Counter(
		"execution_compose_errors_total",
		metric.WithDescription("Total plan composition failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Compose builds a plan for an admitted candidate. A failure aborts this
// candidate only; the pipeline survives bad input.
func (c *Composer) Compose(ctx context.Context, sized *oppDomain.SizedCandidate) (*domain.Plan, error) {
	cand := sized.Candidate

	ctx, span := c.tracer.Start(ctx, "composer.compose",
		trace.WithAttributes(
			attribute.String("candidate_id", cand.ID.String()),
			attribute.String("strategy", string(cand.Kind)),
		),
	)
	defer span.End()

	strategyAttr := metric.WithAttributes(attribute.String("strategy", string(cand.Kind)))

	if cand.Expired(time.Now()) {
		c.metrics.composeErrors.Add(ctx, 1, strategyAttr)
		span.SetStatus(codes.Error, "stale")
		return nil, apperror.New(apperror.CodeQuoteStale,
			apperror.WithContext("candidate expired before composition"))
	}

	fn, ok := c.dispatch[cand.Kind]
	if !ok {
		c.metrics.composeErrors.Add(ctx, 1, strategyAttr)
		span.SetStatus(codes.Error, "no builder")
		return nil, apperror.New(apperror.CodeNoViableRoute,
			apperror.WithContext("no plan builder for strategy"))
	}

	plan, err := fn(ctx, sized)
	if err != nil {
		c.metrics.composeErrors.Add(ctx, 1, strategyAttr)
		span.RecordError(err)
		span.SetStatus(codes.Error, "compose failed")
		return nil, err
	}

	c.metrics.plansComposed.Add(ctx, 1, strategyAttr)
	span.SetAttributes(
		attribute.String("plan_id", plan.ID().String()),
		attribute.Int("steps", plan.StepCount()),
		attribute.Bool("atomic", plan.Atomic()),
	)
	span.SetStatus(codes.Ok, "composed")

	c.logger.Debug(ctx, "plan composed",
		"plan_id", plan.ID().String(),
		"strategy", string(cand.Kind),
		"steps", plan.StepCount(),
		"atomic", plan.Atomic(),
	)

	return plan, nil
}
