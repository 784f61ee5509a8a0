// Package di contains dependency injection tokens for the blockchain context.
package di

import (
	"github.com/fd1az/mev-searcher/business/blockchain/app"
	"github.com/fd1az/mev-searcher/internal/di"
)

// Public service tokens - exposed to other modules
var (
	BlockchainService = di.NewToken[*app.BlockchainService]("blockchain.BlockchainService")
)

// Private dependency tokens - internal to blockchain module
var (
	BlockSubscriber = di.NewToken[app.BlockSubscriber]("blockchain:blockSubscriber")
	GasOracle       = di.NewToken[app.GasOracle]("blockchain:gasOracle")
	ChainClient     = di.NewToken[app.ChainClient]("blockchain:chainClient")
	NonceSource     = di.NewToken[app.NonceSource]("blockchain:nonceSource")
)

// Helper functions for type-safe access
func GetBlockchainService(c di.ServiceRegistry) *app.BlockchainService {
	return di.GetToken(c, BlockchainService)
}

func GetBlockSubscriber(c di.ServiceRegistry) app.BlockSubscriber {
	return di.GetToken(c, BlockSubscriber)
}

func GetGasOracle(c di.ServiceRegistry) app.GasOracle {
	return di.GetToken(c, GasOracle)
}

func GetChainClient(c di.ServiceRegistry) app.ChainClient {
	return di.GetToken(c, ChainClient)
}

func GetNonceSource(c di.ServiceRegistry) app.NonceSource {
	return di.GetToken(c, NonceSource)
}
