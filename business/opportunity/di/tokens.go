// Package di contains dependency injection tokens for the opportunity context.
package di

import (
	"github.com/fd1az/mev-searcher/business/opportunity/app"
	"github.com/fd1az/mev-searcher/business/opportunity/infra/feed"
	"github.com/fd1az/mev-searcher/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Gate     = di.NewToken[*app.Gate]("opportunity.Gate")
	Pipeline = di.NewToken[*app.Pipeline]("opportunity.Pipeline")
)

// Private dependency tokens - internal to opportunity module
var (
	Feed = di.NewToken[*feed.Feed]("opportunity:feed")
)

// Helper functions for type-safe access
func GetGate(c di.ServiceRegistry) *app.Gate {
	return di.GetToken(c, Gate)
}

func GetPipeline(c di.ServiceRegistry) *app.Pipeline {
	return di.GetToken(c, Pipeline)
}

func GetFeed(c di.ServiceRegistry) *feed.Feed {
	return di.GetToken(c, Feed)
}
