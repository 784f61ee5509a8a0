// Package di contains dependency injection tokens for the competition context.
package di

import (
	"github.com/fd1az/mev-searcher/business/competition/app"
	"github.com/fd1az/mev-searcher/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Tracker = di.NewToken[*app.Tracker]("competition.Tracker")
)

// Helper functions for type-safe access
func GetTracker(c di.ServiceRegistry) *app.Tracker {
	return di.GetToken(c, Tracker)
}
