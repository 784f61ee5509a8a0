package ethereum

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-searcher/business/blockchain/app"
	"github.com/fd1az/mev-searcher/internal/logger"
)

// NonceSource allocates strictly increasing nonces for a single sender.
// It seeds from the chain's pending nonce on first use and then counts
// locally so concurrent plans never collide.
type NonceSource struct {
	client app.ChainClient
	sender common.Address
	logger logger.LoggerInterface

	mu     sync.Mutex
	next   uint64
	seeded bool
}

// NewNonceSource creates a nonce source for the given sender address.
func NewNonceSource(client app.ChainClient, sender common.Address, log logger.LoggerInterface) *NonceSource {
	return &NonceSource{
		client: client,
		sender: sender,
		logger: log,
	}
}

// Next allocates the next nonce.
func (n *NonceSource) Next(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.seeded {
		if err := n.seedLocked(ctx); err != nil {
			return 0, err
		}
	}

	nonce := n.next
	n.next++
	return nonce, nil
}

// Resync re-reads the pending nonce from the chain. Call after an
// abandoned or failed transaction sequence so local state catches up.
func (n *NonceSource) Resync(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.seedLocked(ctx)
}

func (n *NonceSource) seedLocked(ctx context.Context) error {
	pending, err := n.client.PendingNonce(ctx, n.sender)
	if err != nil {
		return err
	}

	// Never move backwards: an in-flight tx may not be visible as
	// pending yet on the node we asked.
	if !n.seeded || pending > n.next {
		n.next = pending
	}
	n.seeded = true

	n.logger.Debug(ctx, "nonce source synced", "sender", n.sender.Hex(), "next", n.next)
	return nil
}
