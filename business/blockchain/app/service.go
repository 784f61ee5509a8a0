// Package app contains application services and port definitions for the blockchain context.
package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-searcher/business/blockchain/domain"
)

// BlockchainService coordinates blockchain interactions.
type BlockchainService struct {
	subscriber  BlockSubscriber
	gasOracle   GasOracle
	chainClient ChainClient
	nonces      NonceSource
}

// NewBlockchainService creates a new BlockchainService.
func NewBlockchainService(subscriber BlockSubscriber, gasOracle GasOracle, chainClient ChainClient, nonces NonceSource) *BlockchainService {
	return &BlockchainService{
		subscriber:  subscriber,
		gasOracle:   gasOracle,
		chainClient: chainClient,
		nonces:      nonces,
	}
}

// SubscribeBlocks starts the block subscription and returns the channel.
func (s *BlockchainService) SubscribeBlocks(ctx context.Context) (<-chan *domain.Block, error) {
	return s.subscriber.Subscribe(ctx)
}

// LatestBlock retrieves the most recent block.
func (s *BlockchainService) LatestBlock(ctx context.Context) (*domain.Block, error) {
	return s.subscriber.LatestBlock(ctx)
}

// GetGasPrice retrieves the current base gas price.
func (s *BlockchainService) GetGasPrice(ctx context.Context) (*domain.GasPrice, error) {
	return s.gasOracle.GetGasPrice(ctx)
}

// GetGasTipCap retrieves the suggested priority fee in wei.
func (s *BlockchainService) GetGasTipCap(ctx context.Context) (*big.Int, error) {
	return s.gasOracle.GetGasTipCap(ctx)
}

// EstimateGas estimates the gas needed for a call.
func (s *BlockchainService) EstimateGas(ctx context.Context, data []byte, to string) (uint64, error) {
	return s.gasOracle.EstimateGas(ctx, data, to)
}

// SubmitRawTransaction broadcasts a signed transaction.
func (s *BlockchainService) SubmitRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	return s.chainClient.SubmitRawTransaction(ctx, raw)
}

// Receipt fetches the receipt for a transaction, (nil, nil) if pending.
func (s *BlockchainService) Receipt(ctx context.Context, txHash common.Hash) (*domain.Receipt, error) {
	return s.chainClient.Receipt(ctx, txHash)
}

// NextNonce allocates the next unique nonce for the sender address.
func (s *BlockchainService) NextNonce(ctx context.Context) (uint64, error) {
	return s.nonces.Next(ctx)
}

// ResyncNonce re-reads the pending nonce from the chain.
func (s *BlockchainService) ResyncNonce(ctx context.Context) error {
	return s.nonces.Resync(ctx)
}

// ConnectionState returns the current connection state.
func (s *BlockchainService) ConnectionState() domain.ConnectionState {
	return s.subscriber.State()
}
