// Package di contains dependency injection tokens for the execution context.
package di

import (
	"github.com/fd1az/mev-searcher/business/execution/app"
	"github.com/fd1az/mev-searcher/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Composer   = di.NewToken[*app.Composer]("execution.Composer")
	Strategist = di.NewToken[*app.Strategist]("execution.Strategist")
)

// Private dependency tokens - internal to execution module
var (
	CalldataEncoder = di.NewToken[app.CalldataEncoder]("execution:calldataEncoder")
)

// Helper functions for type-safe access
func GetComposer(c di.ServiceRegistry) *app.Composer {
	return di.GetToken(c, Composer)
}

func GetStrategist(c di.ServiceRegistry) *app.Strategist {
	return di.GetToken(c, Strategist)
}

func GetCalldataEncoder(c di.ServiceRegistry) app.CalldataEncoder {
	return di.GetToken(c, CalldataEncoder)
}
