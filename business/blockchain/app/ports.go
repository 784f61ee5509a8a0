// Package app contains application services and port definitions for the blockchain context.
package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-searcher/business/blockchain/domain"
)

// BlockSubscriber defines the interface for subscribing to new blocks.
type BlockSubscriber interface {
	// Subscribe starts listening for new blocks and returns a channel of blocks.
	Subscribe(ctx context.Context) (<-chan *domain.Block, error)

	// LatestBlock retrieves the most recent block.
	LatestBlock(ctx context.Context) (*domain.Block, error)

	// State returns the current connection state.
	State() domain.ConnectionState
}

// GasOracle defines the interface for gas price information.
type GasOracle interface {
	// GetGasPrice retrieves the current base gas price.
	GetGasPrice(ctx context.Context) (*domain.GasPrice, error)

	// GetGasTipCap retrieves the suggested priority fee in wei.
	GetGasTipCap(ctx context.Context) (*big.Int, error)

	// EstimateGas estimates the gas needed for a transaction.
	EstimateGas(ctx context.Context, data []byte, to string) (uint64, error)
}

// ChainClient defines the interface for transaction submission and chain reads.
type ChainClient interface {
	// SubmitRawTransaction broadcasts a signed, RLP-encoded transaction.
	SubmitRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)

	// Receipt fetches the receipt for a transaction, (nil, nil) if pending.
	Receipt(ctx context.Context, txHash common.Hash) (*domain.Receipt, error)

	// PendingNonce returns the next nonce for an address including pending txs.
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)

	// BalanceAt returns the native balance of an address in wei.
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
}

// NonceSource hands out unique, strictly increasing nonces for the
// searcher's sender address. Concurrent plans must never share a nonce.
type NonceSource interface {
	// Next allocates the next nonce.
	Next(ctx context.Context) (uint64, error)

	// Resync re-reads the pending nonce from the chain after a failed
	// or abandoned transaction sequence.
	Resync(ctx context.Context) error
}
