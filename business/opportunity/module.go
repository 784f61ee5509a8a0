// Package opportunity implements the candidate intake and profitability gate bounded context.
package opportunity

import (
	"context"

	"github.com/shopspring/decimal"

	competitionDI "github.com/fd1az/mev-searcher/business/competition/di"
	executionDI "github.com/fd1az/mev-searcher/business/execution/di"
	executionDomain "github.com/fd1az/mev-searcher/business/execution/domain"
	"github.com/fd1az/mev-searcher/business/opportunity/app"
	opportunityDI "github.com/fd1az/mev-searcher/business/opportunity/di"
	"github.com/fd1az/mev-searcher/business/opportunity/infra/feed"
	submissionApp "github.com/fd1az/mev-searcher/business/submission/app"
	submissionDI "github.com/fd1az/mev-searcher/business/submission/di"
	"github.com/fd1az/mev-searcher/internal/config"
	"github.com/fd1az/mev-searcher/internal/di"
	"github.com/fd1az/mev-searcher/internal/logger"
	"github.com/fd1az/mev-searcher/internal/monolith"
)

// Module implements the opportunity bounded context.
type Module struct{}

// RegisterServices registers all opportunity services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register Gate (public - exposed to other modules)
	di.RegisterToken(c, opportunityDI.Gate, func(sr di.ServiceRegistry) *app.Gate {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		tracker := competitionDI.GetTracker(sr)

		gate, err := app.NewGate(gateConfig(cfg), tracker, log)
		if err != nil {
			panic("failed to create gate: " + err.Error())
		}
		return gate
	})

	// Register Pipeline (public - exposed to other modules)
	di.RegisterToken(c, opportunityDI.Pipeline, func(sr di.ServiceRegistry) *app.Pipeline {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		tracker := competitionDI.GetTracker(sr)

		pipeline, err := app.NewPipeline(
			pipelineConfig(cfg),
			opportunityDI.GetGate(sr),
			executionDI.GetComposer(sr),
			executionDI.GetStrategist(sr),
			&submitterAdapter{manager: submissionDI.GetManager(sr)},
			tracker,
			tracker,
			log,
		)
		if err != nil {
			panic("failed to create pipeline: " + err.Error())
		}
		return pipeline
	})

	// Register Feed (private - nil when no detector feed is configured)
	di.RegisterToken(c, opportunityDI.Feed, func(sr di.ServiceRegistry) *feed.Feed {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		if cfg.Detector.FeedURL == "" {
			return nil
		}

		f, err := feed.New(feed.Config{
			URL:       cfg.Detector.FeedURL,
			DedupeTTL: cfg.Detector.DedupeTTL,
		}, log)
		if err != nil {
			panic("failed to create candidate feed: " + err.Error())
		}
		return f
	})

	return nil
}

// Startup starts the pipeline workers and, when configured, the
// detector feed forwarding loop.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	pipeline := opportunityDI.GetPipeline(mono.Services())
	pipeline.Start(ctx)

	f := opportunityDI.GetFeed(mono.Services())
	if f == nil {
		mono.Logger().Warn(ctx, "no detector feed configured, intake is idle")
		return nil
	}

	if err := f.Start(ctx); err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cand, ok := <-f.Candidates():
				if !ok {
					return
				}
				pipeline.Enqueue(ctx, cand)
			}
		}
	}()

	mono.Logger().Info(ctx, "opportunity module started")
	return nil
}

// submitterAdapter narrows the submission manager to the pipeline port.
type submitterAdapter struct {
	manager *submissionApp.Manager
}

func (a *submitterAdapter) Submit(ctx context.Context, plan *executionDomain.Plan, fees executionDomain.FeeParams) (app.BundleHandle, error) {
	handle, err := a.manager.Submit(ctx, plan, fees)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

func gateConfig(cfg *config.Config) app.GateConfig {
	return app.GateConfig{
		MaxNotional:          cfg.Risk.MaxNotionalDecimal(),
		MaxInFlightPerKind:   cfg.Risk.MaxInFlightPerKind,
		MinProfit:            cfg.Risk.MinProfitDecimal(),
		MinTargetValue:       cfg.Risk.MinTargetValueDecimal(),
		BaseRiskPremium:      cfg.Risk.BaseRiskPremiumDecimal(),
		ConfidenceFloor:      decimal.NewFromFloat(cfg.Risk.ConfidenceFloor),
		KellyRiskFactor:      decimal.NewFromFloat(cfg.Risk.KellyRiskFactor),
		TargetWinProbability: 0.8,
	}
}

func pipelineConfig(cfg *config.Config) app.PipelineConfig {
	return app.PipelineConfig{
		IntakeDepth:     cfg.Pipeline.IntakeDepth,
		Workers:         cfg.Pipeline.Workers,
		EvaluateTimeout: cfg.Pipeline.EvaluateTimeout,
	}
}
