package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// SandwichDetail carries the pool state needed to size a sandwich.
// Reserves are observed at detection time and go stale fast.
type SandwichDetail struct {
	Router     common.Address
	Pool       common.Address
	TokenIn    common.Address
	TokenOut   common.Address
	ReserveIn  *big.Int
	ReserveOut *big.Int

	VictimAmountIn *big.Int
	VictimMinOut   *big.Int
	PoolFeeBps     int64

	// VictimRawTx is the victim's signed raw transaction as seen in the
	// mempool. It is placed between the frontrun and backrun legs so the
	// bundle straddles the victim's price move.
	VictimRawTx []byte
}

// LiquidationDetail describes an undercollateralized position.
type LiquidationDetail struct {
	Borrower        common.Address
	DebtAsset       common.Address
	CollateralAsset common.Address
	DebtToCover     *big.Int

	// ExpectedCollateral is the seizure estimate incl. liquidation bonus.
	ExpectedCollateral *big.Int
	SwapRouter         common.Address
	HealthFactor       decimal.Decimal
}

// VenueQuote is one side of a two-venue arbitrage.
type VenueQuote struct {
	Venue    string
	Router   common.Address
	TokenIn  common.Address
	TokenOut common.Address
	Price    decimal.Decimal
	Depth    decimal.Decimal
}

// MicroArbDetail describes a same-chain cross-venue price gap.
type MicroArbDetail struct {
	BuyVenue  VenueQuote
	SellVenue VenueQuote
}

// CrossChainDetail describes a cross-chain price gap with a bridge quote.
type CrossChainDetail struct {
	SourceChainID uint64
	DestChainID   uint64
	Bridge        common.Address
	Asset         common.Address

	// MinGuaranteedOut is the bridge's quoted floor on the destination chain.
	MinGuaranteedOut *big.Int
	QuoteExpiry      time.Time
}
