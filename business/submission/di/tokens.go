// Package di contains dependency injection tokens for the submission context.
package di

import (
	"github.com/fd1az/mev-searcher/business/submission/app"
	"github.com/fd1az/mev-searcher/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Manager = di.NewToken[*app.Manager]("submission.Manager")
)

// Private dependency tokens - internal to submission module
var (
	RelayChannels = di.NewToken[[]app.RelayChannel]("submission:relayChannels")
	Simulator     = di.NewToken[app.Simulator]("submission:simulator")
	TxEncoder     = di.NewToken[app.TxEncoder]("submission:txEncoder")
)

// Helper functions for type-safe access
func GetManager(c di.ServiceRegistry) *app.Manager {
	return di.GetToken(c, Manager)
}

func GetRelayChannels(c di.ServiceRegistry) []app.RelayChannel {
	return di.GetToken(c, RelayChannels)
}

func GetSimulator(c di.ServiceRegistry) app.Simulator {
	return di.GetToken(c, Simulator)
}

func GetTxEncoder(c di.ServiceRegistry) app.TxEncoder {
	return di.GetToken(c, TxEncoder)
}
