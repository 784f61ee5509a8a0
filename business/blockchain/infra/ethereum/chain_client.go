package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/mev-searcher/business/blockchain/domain"
	"github.com/fd1az/mev-searcher/internal/apperror"
	"github.com/fd1az/mev-searcher/internal/circuitbreaker"
	"github.com/fd1az/mev-searcher/internal/logger"
)

// ChainClientConfig holds configuration for the chain client.
type ChainClientConfig struct {
	RPCURL         string
	RequestTimeout time.Duration
}

// DefaultChainClientConfig returns sensible defaults.
func DefaultChainClientConfig(rpcURL string) ChainClientConfig {
	return ChainClientConfig{
		RPCURL:         rpcURL,
		RequestTimeout: 5 * time.Second,
	}
}

// chainClientMetrics holds OTEL metric instruments.
type chainClientMetrics struct {
	txSubmitted    metric.Int64Counter
	txSubmitErrors metric.Int64Counter
	receiptLookups metric.Int64Counter
}

// ChainClient submits signed transactions and reads receipts.
type ChainClient struct {
	config ChainClientConfig
	logger logger.LoggerInterface

	client   *ethclient.Client
	clientMu sync.RWMutex

	submitCB  *circuitbreaker.CircuitBreaker[common.Hash]
	receiptCB *circuitbreaker.CircuitBreaker[*types.Receipt]

	tracer  trace.Tracer
	metrics *chainClientMetrics
}

// NewChainClient creates a new chain client.
func NewChainClient(cfg ChainClientConfig, log logger.LoggerInterface) (*ChainClient, error) {
	c := &ChainClient{
		config: cfg,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}

	if err := c.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	c.submitCB = circuitbreaker.New[common.Hash](circuitbreaker.DefaultConfig("chain-submit"))
	c.receiptCB = circuitbreaker.New[*types.Receipt](circuitbreaker.DefaultConfig("chain-receipt"))

	return c, nil
}

func (c *ChainClient) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	c.metrics = &chainClientMetrics{}

	c.metrics.txSubmitted, err = meter.Int64Counter(
		"chain_tx_submitted_total",
		metric.WithDescription("Total raw transactions submitted"),
		metric.WithUnit("{tx}"),
	)
	if err != nil {
		return err
	}

	c.metrics.txSubmitErrors, err = meter.Int64Counter(
		"chain_tx_submit_errors_total",
		metric.WithDescription("Total raw transaction submission errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	c.metrics.receiptLookups, err = meter.Int64Counter(
		"chain_receipt_lookups_total",
		metric.WithDescription("Total receipt lookups"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Connect establishes connection to the Ethereum node.
func (c *ChainClient) Connect(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "chain.connect",
		trace.WithAttributes(attribute.String("url", c.config.RPCURL)),
	)
	defer span.End()

	client, err := ethclient.DialContext(ctx, c.config.RPCURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return apperror.New(apperror.CodeEthereumConnectionFailed,
			apperror.WithCause(err),
			apperror.WithContext("failed to connect chain client"))
	}

	c.clientMu.Lock()
	c.client = client
	c.clientMu.Unlock()

	span.SetStatus(codes.Ok, "connected")
	c.logger.Info(ctx, "chain client connected", "url", c.config.RPCURL)

	return nil
}

// SubmitRawTransaction broadcasts a signed, RLP-encoded transaction.
func (c *ChainClient) SubmitRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	ctx, span := c.tracer.Start(ctx, "chain.submit_raw_tx",
		trace.WithAttributes(attribute.Int("size", len(raw))),
	)
	defer span.End()

	client, err := c.getClient()
	if err != nil {
		span.RecordError(err)
		return common.Hash{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	hash, err := c.submitCB.Execute(func() (common.Hash, error) {
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(raw); err != nil {
			return common.Hash{}, err
		}
		if err := client.SendTransaction(ctx, tx); err != nil {
			return common.Hash{}, err
		}
		return tx.Hash(), nil
	})
	if err != nil {
		c.metrics.txSubmitErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return common.Hash{}, apperror.New(apperror.CodeEthereumRPCError,
			apperror.WithCause(err),
			apperror.WithContext("failed to submit raw transaction"))
	}

	c.metrics.txSubmitted.Add(ctx, 1)
	span.SetAttributes(attribute.String("tx_hash", hash.Hex()))
	span.SetStatus(codes.Ok, "submitted")

	return hash, nil
}

// Receipt fetches the receipt for a transaction hash. Returns
// (nil, nil) while the transaction is still pending.
func (c *ChainClient) Receipt(ctx context.Context, txHash common.Hash) (*domain.Receipt, error) {
	ctx, span := c.tracer.Start(ctx, "chain.receipt",
		trace.WithAttributes(attribute.String("tx_hash", txHash.Hex())),
	)
	defer span.End()

	c.metrics.receiptLookups.Add(ctx, 1)

	client, err := c.getClient()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	receipt, err := c.receiptCB.Execute(func() (*types.Receipt, error) {
		return client.TransactionReceipt(ctx, txHash)
	})
	if err != nil {
		if err.Error() == "not found" {
			span.AddEvent("still_pending")
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return nil, apperror.New(apperror.CodeEthereumRPCError,
			apperror.WithCause(err),
			apperror.WithContext("failed to fetch receipt"))
	}

	span.SetStatus(codes.Ok, "fetched")
	return toDomainReceipt(receipt), nil
}

// PendingNonce returns the next nonce for the address including pending txs.
func (c *ChainClient) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	client, err := c.getClient()
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	nonce, err := client.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, apperror.New(apperror.CodeNonceAllocationFailed,
			apperror.WithCause(err),
			apperror.WithContext("failed to fetch pending nonce"))
	}
	return nonce, nil
}

// BalanceAt returns the native balance of an address in wei.
func (c *ChainClient) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	client, err := c.getClient()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	bal, err := client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, apperror.New(apperror.CodeEthereumRPCError,
			apperror.WithCause(err),
			apperror.WithContext("failed to fetch balance"))
	}
	return bal, nil
}

func (c *ChainClient) getClient() (*ethclient.Client, error) {
	c.clientMu.RLock()
	defer c.clientMu.RUnlock()

	if c.client == nil {
		return nil, apperror.New(apperror.CodeEthereumConnectionFailed,
			apperror.WithContext("chain client not connected"))
	}
	return c.client, nil
}

// Close closes the chain client.
func (c *ChainClient) Close() error {
	c.clientMu.Lock()
	defer c.clientMu.Unlock()

	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	return nil
}

func toDomainReceipt(r *types.Receipt) *domain.Receipt {
	return &domain.Receipt{
		TxHash:            r.TxHash,
		BlockNumber:       r.BlockNumber.Uint64(),
		Status:            r.Status,
		GasUsed:           r.GasUsed,
		EffectiveGasPrice: r.EffectiveGasPrice,
	}
}
