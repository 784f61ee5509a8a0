// Package submission implements the bundle packaging and relay submission bounded context.
package submission

import (
	"context"

	blockchainDI "github.com/fd1az/mev-searcher/business/blockchain/di"
	"github.com/fd1az/mev-searcher/business/submission/app"
	submissionDI "github.com/fd1az/mev-searcher/business/submission/di"
	"github.com/fd1az/mev-searcher/business/submission/infra/evm"
	"github.com/fd1az/mev-searcher/business/submission/infra/relay"
	"github.com/fd1az/mev-searcher/internal/config"
	"github.com/fd1az/mev-searcher/internal/di"
	"github.com/fd1az/mev-searcher/internal/logger"
	"github.com/fd1az/mev-searcher/internal/monolith"
	"github.com/fd1az/mev-searcher/internal/ratelimit"
)

// Module implements the submission bounded context.
type Module struct{}

// RegisterServices registers all submission services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register relay channels (private - ordered, primary first).
	// One rate limiter is shared across every endpoint so the
	// combined request rate stays within the relay quota.
	di.RegisterToken(c, submissionDI.RelayChannels, func(sr di.ServiceRegistry) []app.RelayChannel {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		limiter := ratelimit.New(cfg.Relays.RequestsPerMinute)

		channels := make([]app.RelayChannel, 0, len(cfg.Relays.Endpoints))
		for _, endpoint := range cfg.Relays.Endpoints {
			client, err := relay.NewClient(relay.ClientConfig{
				Endpoint:          endpoint,
				SubmitTimeout:     cfg.Relays.SubmitTimeout,
				RequestsPerMinute: cfg.Relays.RequestsPerMinute,
			}, limiter, log)
			if err != nil {
				panic("failed to create relay client: " + err.Error())
			}
			channels = append(channels, client)
		}
		return channels
	})

	// Register Simulator (private - primary relay doubles as simulator)
	di.RegisterToken(c, submissionDI.Simulator, func(sr di.ServiceRegistry) app.Simulator {
		channels := submissionDI.GetRelayChannels(sr)
		if sim, ok := channels[0].(app.Simulator); ok {
			return sim
		}
		return nil
	})

	// Register TxEncoder (private - internal dependency)
	di.RegisterToken(c, submissionDI.TxEncoder, func(sr di.ServiceRegistry) app.TxEncoder {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		chain := blockchainDI.GetBlockchainService(sr)

		signer, err := evm.NewSigner(cfg.Ethereum.PrivateKey, cfg.Ethereum.ChainID)
		if err != nil {
			panic("failed to create signer: " + err.Error())
		}
		return evm.NewTxEncoder(signer, chain, log)
	})

	// Register Manager (public - exposed to other modules)
	di.RegisterToken(c, submissionDI.Manager, func(sr di.ServiceRegistry) *app.Manager {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		manager, err := app.NewManager(
			managerConfig(cfg),
			submissionDI.GetRelayChannels(sr),
			submissionDI.GetSimulator(sr),
			submissionDI.GetTxEncoder(sr),
			blockchainDI.GetBlockchainService(sr),
			log,
		)
		if err != nil {
			panic("failed to create submission manager: " + err.Error())
		}
		return manager
	})

	return nil
}

// Startup initializes the submission module.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	manager := submissionDI.GetManager(mono.Services())
	chain := blockchainDI.GetBlockchainService(mono.Services())

	if err := manager.Start(ctx, chain); err != nil {
		mono.Logger().Warn(ctx, "head subscription unavailable, falling back to block polling",
			"error", err)
	}

	mono.Logger().Info(ctx, "submission module started")
	return nil
}

func managerConfig(cfg *config.Config) app.ManagerConfig {
	mc := app.DefaultManagerConfig()
	mc.MaxConcurrentBundles = cfg.Relays.MaxConcurrentBundles
	mc.QueueWait = cfg.Relays.QueueWait
	mc.PollInterval = cfg.Relays.PollInterval
	mc.SimulateBeforeSubmit = cfg.Relays.SimulateBeforeSubmit
	return mc
}
