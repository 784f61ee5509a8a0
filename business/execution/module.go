// Package execution implements the plan composition and fee strategy bounded context.
package execution

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	blockchainDI "github.com/fd1az/mev-searcher/business/blockchain/di"
	"github.com/fd1az/mev-searcher/business/execution/app"
	executionDI "github.com/fd1az/mev-searcher/business/execution/di"
	"github.com/fd1az/mev-searcher/business/execution/infra/evm"
	"github.com/fd1az/mev-searcher/internal/asset"
	"github.com/fd1az/mev-searcher/internal/config"
	"github.com/fd1az/mev-searcher/internal/di"
	"github.com/fd1az/mev-searcher/internal/logger"
	"github.com/fd1az/mev-searcher/internal/monolith"
)

// Module implements the execution bounded context.
type Module struct{}

// RegisterServices registers all execution services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register CalldataEncoder (private - internal dependency)
	di.RegisterToken(c, executionDI.CalldataEncoder, func(sr di.ServiceRegistry) app.CalldataEncoder {
		encoder, err := evm.NewEncoder()
		if err != nil {
			panic("failed to create calldata encoder: " + err.Error())
		}
		return encoder
	})

	// Register Composer (public - exposed to other modules)
	di.RegisterToken(c, executionDI.Composer, func(sr di.ServiceRegistry) *app.Composer {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		encoder := executionDI.GetCalldataEncoder(sr)

		composer, err := app.NewComposer(composerConfig(cfg), encoder, log)
		if err != nil {
			panic("failed to create composer: " + err.Error())
		}
		return composer
	})

	// Register Strategist (public - exposed to other modules)
	di.RegisterToken(c, executionDI.Strategist, func(sr di.ServiceRegistry) *app.Strategist {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		gas := blockchainDI.GetBlockchainService(sr)

		strategist, err := app.NewStrategist(strategistConfig(cfg), gas, log)
		if err != nil {
			panic("failed to create strategist: " + err.Error())
		}
		return strategist
	})

	return nil
}

// Startup initializes the execution module.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	mono.Logger().Info(ctx, "execution module started")
	return nil
}

func composerConfig(cfg *config.Config) app.ComposerConfig {
	return app.ComposerConfig{
		MinNetProfitWei: ethToWei(cfg.Risk.MinProfitETH),
		Sandwich: app.SandwichParams{
			Router:         common.HexToAddress(cfg.Strategies.Sandwich.RouterAddress),
			MaxFrontrunWei: ethToWei(cfg.Strategies.Sandwich.MaxFrontrunETH),
			GasLimitPerLeg: cfg.Gas.DefaultGasLimit,
		},
		Liquidation: app.LiquidationParams{
			Provider:           common.HexToAddress(cfg.Strategies.Liquidation.FlashLoanProvider),
			PremiumBps:         int64(cfg.Strategies.Liquidation.PremiumBps),
			MinOutFloorWei:     ethToWei(cfg.Strategies.Liquidation.MinOutFloorETH),
			PreferFlashLoan:    cfg.Strategies.Liquidation.PreferFlashLoan,
			AllowNonAtomicLegs: cfg.Risk.AllowNonAtomicLegs,
			GasLimit:           cfg.Gas.DefaultGasLimit,
		},
		MicroArb: app.MicroArbParams{
			SlippageTolBps: int64(cfg.Strategies.MicroArb.SlippageTolBps),
			LegTimeout:     cfg.Strategies.MicroArb.LegTimeout,
			GasLimitPerLeg: cfg.Gas.DefaultGasLimit,
		},
		CrossChain: app.CrossChainParams{
			QuoteTTL: cfg.Strategies.CrossChain.QuoteTTL,
			GasLimit: cfg.Gas.DefaultGasLimit,
		},
	}
}

func strategistConfig(cfg *config.Config) app.StrategistConfig {
	sc := app.DefaultStrategistConfig()
	sc.BasePriorityWei = gweiToWei(cfg.Gas.BasePriorityGwei)
	sc.MaxGasPriceWei = gweiToWei(cfg.Gas.MaxGasPriceGwei)
	sc.BaseFeeHeadroom = cfg.Gas.BaseFeeHeadroom
	sc.PriorityHeadroom = cfg.Gas.PriorityHeadroom
	return sc
}

func ethToWei(eth float64) *big.Int {
	amt, err := asset.ParseFloat64(asset.ETH, eth)
	if err != nil {
		return big.NewInt(0)
	}
	return amt.Raw()
}

func gweiToWei(gwei float64) *big.Int {
	d := decimal.NewFromFloat(gwei).Mul(decimal.New(1, 9))
	return d.BigInt()
}
