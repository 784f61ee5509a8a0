// Package app contains the submission manager for the submission context.
package app

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	blockchainDomain "github.com/fd1az/mev-searcher/business/blockchain/domain"
	executionDomain "github.com/fd1az/mev-searcher/business/execution/domain"
	"github.com/fd1az/mev-searcher/business/submission/domain"
)

// RelayChannel is one ordered submission endpoint.
type RelayChannel interface {
	// Name identifies the channel for dedup bookkeeping.
	Name() string

	// SubmitBundle offers the signed transactions for one target block.
	SubmitBundle(ctx context.Context, txs []domain.SignedTx, targetBlock uint64) error
}

// Simulator dry-runs a bundle before submission. A revert is reported
// as an error carrying the simulation code.
type Simulator interface {
	Simulate(ctx context.Context, txs []domain.SignedTx, targetBlock uint64) error
}

// TxEncoder turns a priced plan into signed raw transactions with
// unique, ordered nonces.
type TxEncoder interface {
	EncodePlan(ctx context.Context, plan *executionDomain.Plan, fees executionDomain.FeeParams) ([]domain.SignedTx, error)
}

// ChainReader reads inclusion evidence from the chain.
type ChainReader interface {
	// Receipt returns (nil, nil) while the transaction is pending.
	Receipt(ctx context.Context, txHash common.Hash) (*blockchainDomain.Receipt, error)

	// LatestBlock returns the most recent block.
	LatestBlock(ctx context.Context) (*blockchainDomain.Block, error)
}

// HeadSource streams new chain heads. The manager consumes it so target
// block selection and per-block escalation ride pushed heads instead of
// polling the chain.
type HeadSource interface {
	SubscribeBlocks(ctx context.Context) (<-chan *blockchainDomain.Block, error)
}
