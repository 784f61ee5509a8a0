// Package competition implements the rolling-statistics bounded context.
package competition

import (
	"context"

	"github.com/fd1az/mev-searcher/business/competition/app"
	competitionDI "github.com/fd1az/mev-searcher/business/competition/di"
	"github.com/fd1az/mev-searcher/internal/di"
	"github.com/fd1az/mev-searcher/internal/logger"
	"github.com/fd1az/mev-searcher/internal/monolith"
)

// Module implements the competition bounded context.
type Module struct{}

// RegisterServices registers all competition services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, competitionDI.Tracker, func(sr di.ServiceRegistry) *app.Tracker {
		log := sr.Get("logger").(logger.LoggerInterface)

		tracker, err := app.NewTracker(app.DefaultTrackerConfig(), log)
		if err != nil {
			panic("failed to create competition tracker: " + err.Error())
		}
		return tracker
	})

	return nil
}

// Startup starts the single-writer recorder loop.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	tracker := competitionDI.GetTracker(mono.Services())
	tracker.Start(ctx)

	mono.Logger().Info(ctx, "competition module started")
	return nil
}
