package app

import (
	"context"
	"fmt"
	"math/big"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	compDomain "github.com/fd1az/mev-searcher/business/competition/domain"
	"github.com/fd1az/mev-searcher/business/execution/domain"
	"github.com/fd1az/mev-searcher/internal/apperror"
	"github.com/fd1az/mev-searcher/internal/logger"
)

// StrategistConfig holds fee pricing parameters.
type StrategistConfig struct {
	BasePriorityWei *big.Int
	MaxGasPriceWei  *big.Int

	// Headrooms absorb base-fee drift between pricing and inclusion.
	BaseFeeHeadroom  float64
	PriorityHeadroom float64

	TargetWinProbability  float64
	CompetitorFeeQuantile float64
	MaxMultiplier         float64
}

// DefaultStrategistConfig returns sensible defaults.
func DefaultStrategistConfig() StrategistConfig {
	return StrategistConfig{
		BasePriorityWei:       big.NewInt(2_000_000_000), // 2 gwei
		MaxGasPriceWei:        new(big.Int).Mul(big.NewInt(500), big.NewInt(1_000_000_000)),
		BaseFeeHeadroom:       1.2,
		PriorityHeadroom:      1.1,
		TargetWinProbability:  0.8,
		CompetitorFeeQuantile: 0.75,
		MaxMultiplier:         5.0,
	}
}

// strategistMetrics holds OTEL metric instruments.
type strategistMetrics struct {
	plansPriced metric.Int64Counter
	feeAbandons metric.Int64Counter
}

// Strategist assigns fee parameters to plans based on urgency and the
// competition snapshot.
type Strategist struct {
	config StrategistConfig
	gas    GasReader
	logger logger.LoggerInterface

	tracer  trace.Tracer
	metrics *strategistMetrics
}

// NewStrategist creates a gas strategist.
func NewStrategist(cfg StrategistConfig, gas GasReader, log logger.LoggerInterface) (*Strategist, error) {
	s := &Strategist{
		config: cfg,
		gas:    gas,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}

	if err := s.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return s, nil
}

func (s *Strategist) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	s.metrics = &strategistMetrics{}

	s.metrics.plansPriced, err = meter.Int64Counter(
		"execution_plans_priced_total",
		metric.WithDescription("Total plans assigned fee parameters"),
		metric.WithUnit("{plan}"),
	)
	if err != nil {
		return err
	}

	s.metrics.feeAbandons, err = meter.Int64Counter(
		"execution_fee_abandons_total",
		metric.WithDescription("Total plans abandoned because fees would erase profit"),
		metric.WithUnit("{plan}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// gasMultiplier grows with urgency and with how far the strategy is
// below its target win rate. Monotone in both inputs, capped.
func (s *Strategist) gasMultiplier(urgency, deficit float64) float64 {
	m := 1.0 + urgency + 2.0*deficit
	if m > s.config.MaxMultiplier {
		m = s.config.MaxMultiplier
	}
	return m
}

// Price assigns fee parameters to a plan. Returns a FeeAbandon error
// when the competitive fee would consume the expected profit; that is
// an expected outcome, not a failure.
func (s *Strategist) Price(ctx context.Context, plan *domain.Plan, urgency float64, snap *compDomain.Snapshot) (domain.FeeParams, error) {
	ctx, span := s.tracer.Start(ctx, "strategist.price",
		trace.WithAttributes(
			attribute.String("plan_id", plan.ID().String()),
			attribute.String("strategy", plan.Strategy()),
			attribute.Float64("urgency", urgency),
		),
	)
	defer span.End()

	basePrice, err := s.gas.GetGasPrice(ctx)
	if err != nil {
		span.RecordError(err)
		return domain.FeeParams{}, err
	}
	tip, err := s.gas.GetGasTipCap(ctx)
	if err != nil {
		span.RecordError(err)
		return domain.FeeParams{}, err
	}

	key := compDomain.Key{Strategy: plan.Strategy(), SubjectClass: plan.SubjectClass()}
	deficit := snap.WinProbabilityDeficit(key, s.config.TargetWinProbability)
	mult := s.gasMultiplier(urgency, deficit)

	priority := scaleWei(tip, s.config.PriorityHeadroom)
	if priority.Cmp(s.config.BasePriorityWei) < 0 {
		priority = new(big.Int).Set(s.config.BasePriorityWei)
	}
	priority = scaleWei(priority, mult)

	// Never price below what competitors have recently paid to win.
	if q := snap.FeeQuantile(key, s.config.CompetitorFeeQuantile); q > 0 {
		competitorWei := gweiToWei(q)
		if competitorWei.Cmp(priority) > 0 {
			priority = competitorWei
		}
	}

	maxFee := scaleWei(basePrice.Wei, s.config.BaseFeeHeadroom)
	maxFee.Add(maxFee, priority)

	if maxFee.Cmp(s.config.MaxGasPriceWei) > 0 {
		headroomed := scaleWei(basePrice.Wei, s.config.BaseFeeHeadroom)
		capped := new(big.Int).Sub(s.config.MaxGasPriceWei, headroomed)
		if capped.Sign() <= 0 {
			span.SetStatus(codes.Error, "ceiling")
			return domain.FeeParams{}, apperror.New(apperror.CodeGasPriceCeiling,
				apperror.WithContext("base fee alone exceeds the gas price ceiling"))
		}
		priority = capped
		maxFee = new(big.Int).Set(s.config.MaxGasPriceWei)
	}

	fees := domain.FeeParams{
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: priority,
		GasLimit:             plan.GasLimit(),
	}

	if fees.TotalCostWei().Cmp(plan.ExpectedProfitWei()) >= 0 {
		s.metrics.feeAbandons.Add(ctx, 1,
			metric.WithAttributes(attribute.String("strategy", plan.Strategy())))
		span.SetStatus(codes.Ok, "abandoned")
		return domain.FeeParams{}, apperror.New(apperror.CodeFeeAbandon,
			apperror.WithContext("competitive fee would erase expected profit"))
	}

	s.metrics.plansPriced.Add(ctx, 1,
		metric.WithAttributes(attribute.String("strategy", plan.Strategy())))
	span.SetAttributes(attribute.Float64("multiplier", mult))
	span.SetStatus(codes.Ok, "priced")

	return fees, nil
}

// scaleWei multiplies a wei amount by a float factor, truncating.
func scaleWei(wei *big.Int, factor float64) *big.Int {
	f := new(big.Float).SetInt(wei)
	f.Mul(f, big.NewFloat(factor))
	out, _ := f.Int(nil)
	return out
}

func gweiToWei(gwei float64) *big.Int {
	f := big.NewFloat(gwei)
	f.Mul(f, big.NewFloat(1e9))
	out, _ := f.Int(nil)
	return out
}
