// Package app contains the plan composer and gas strategist for the execution context.
package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	blockchainDomain "github.com/fd1az/mev-searcher/business/blockchain/domain"
)

// CalldataEncoder packs contract call payloads for plan steps.
type CalldataEncoder interface {
	// Approve encodes an ERC-20 approve(spender, amount).
	Approve(spender common.Address, amount *big.Int) ([]byte, error)

	// SwapExactTokensForTokens encodes a low-level router swap.
	SwapExactTokensForTokens(amountIn, minOut *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]byte, error)

	// FlashLoanSimple encodes an Aave V3 flashLoanSimple call.
	FlashLoanSimple(receiver, asset common.Address, amount *big.Int, params []byte) ([]byte, error)

	// LiquidationCall encodes an Aave V3 liquidationCall.
	LiquidationCall(collateral, debt, borrower common.Address, debtToCover *big.Int, receiveAToken bool) ([]byte, error)

	// BridgeTransfer encodes a bridge deposit with a guaranteed-output floor.
	BridgeTransfer(asset common.Address, amount, minOut *big.Int, destChainID uint64) ([]byte, error)

	// BridgeClaim encodes the destination-chain settlement call.
	BridgeClaim(asset common.Address, minOut *big.Int) ([]byte, error)
}

// GasReader supplies current network fee conditions.
type GasReader interface {
	// GetGasPrice retrieves the current base gas price.
	GetGasPrice(ctx context.Context) (*blockchainDomain.GasPrice, error)

	// GetGasTipCap retrieves the suggested priority fee in wei.
	GetGasTipCap(ctx context.Context) (*big.Int, error)
}
