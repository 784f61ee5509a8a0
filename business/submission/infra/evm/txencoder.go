// Package evm signs plan steps into raw EIP-1559 transactions.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	executionDomain "github.com/fd1az/mev-searcher/business/execution/domain"
	"github.com/fd1az/mev-searcher/business/submission/domain"
	"github.com/fd1az/mev-searcher/internal/apperror"
	"github.com/fd1az/mev-searcher/internal/logger"
)

const (
	tracerName = "github.com/fd1az/mev-searcher/business/submission/infra/evm"
)

// NonceSource hands out unique, ordered nonces for the sender.
type NonceSource interface {
	NextNonce(ctx context.Context) (uint64, error)
}

// Signer holds the sender key and chain binding.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
}

// NewSigner parses a hex private key and binds it to a chain ID.
func NewSigner(privateKeyHex string, chainID uint64) (*Signer, error) {
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithCause(err),
			apperror.WithContext("invalid sender private key"))
	}

	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		signer:  types.NewLondonSigner(new(big.Int).SetUint64(chainID)),
	}, nil
}

// Address returns the sender address derived from the key.
func (s *Signer) Address() common.Address {
	return s.address
}

// TxEncoder turns a priced plan into one signed transaction per
// top-level step, with sequential nonces so relays preserve order.
type TxEncoder struct {
	signer *Signer
	nonces NonceSource
	logger logger.LoggerInterface
	tracer trace.Tracer
}

// NewTxEncoder creates a transaction encoder.
func NewTxEncoder(signer *Signer, nonces NonceSource, log logger.LoggerInterface) *TxEncoder {
	return &TxEncoder{
		signer: signer,
		nonces: nonces,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}
}

// passthroughTx validates an already-signed third-party transaction and
// wraps it for the bundle without touching the signature.
func passthroughTx(raw []byte) (domain.SignedTx, error) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return domain.SignedTx{}, err
	}
	return domain.SignedTx{Raw: raw, Hash: tx.Hash()}, nil
}

// EncodePlan signs every top-level step as an EIP-1559 transaction.
// Flash-loan wraps are a single transaction; their inner steps execute
// inside the provider callback. Raw tx steps are carried through as-is,
// keeping the third party's signature and bundle position.
func (e *TxEncoder) EncodePlan(ctx context.Context, plan *executionDomain.Plan, fees executionDomain.FeeParams) ([]domain.SignedTx, error) {
	ctx, span := e.tracer.Start(ctx, "evm.encode_plan",
		trace.WithAttributes(
			attribute.String("plan_id", plan.ID().String()),
			attribute.Int("steps", plan.StepCount()),
		),
	)
	defer span.End()

	steps := plan.Steps()
	if len(steps) == 0 {
		return nil, apperror.New(apperror.CodeInvalidInput,
			apperror.WithContext("plan has no steps to encode"))
	}

	// The plan gas limit covers the searcher's own transactions; raw
	// third-party transactions carry their own gas and signature.
	own := 0
	for _, step := range steps {
		if step.Kind != executionDomain.StepRawTx {
			own++
		}
	}
	if own == 0 {
		return nil, apperror.New(apperror.CodeInvalidInput,
			apperror.WithContext("plan has no steps of our own to sign"))
	}
	gasPerTx := fees.GasLimit / uint64(own)
	if gasPerTx == 0 {
		gasPerTx = fees.GasLimit
	}

	txs := make([]domain.SignedTx, 0, len(steps))
	for i, step := range steps {
		if step.Kind == executionDomain.StepRawTx {
			passthrough, err := passthroughTx(step.Calldata)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "raw tx decode failed")
				return nil, apperror.New(apperror.CodeInvalidInput,
					apperror.WithCause(err),
					apperror.WithContext(fmt.Sprintf("step %d carries malformed raw transaction", i)))
			}
			txs = append(txs, passthrough)
			continue
		}

		nonce, err := e.nonces.NextNonce(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "nonce allocation failed")
			return nil, err
		}

		target := step.Target
		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:   e.signer.signer.ChainID(),
			Nonce:     nonce,
			GasTipCap: fees.MaxPriorityFeePerGas,
			GasFeeCap: fees.MaxFeePerGas,
			Gas:       gasPerTx,
			To:        &target,
			Value:     big.NewInt(0),
			Data:      step.Calldata,
		})

		signed, err := types.SignTx(tx, e.signer.signer, e.signer.key)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "signing failed")
			return nil, apperror.New(apperror.CodeInternalError,
				apperror.WithCause(err),
				apperror.WithContext(fmt.Sprintf("failed to sign step %d", i)))
		}

		raw, err := signed.MarshalBinary()
		if err != nil {
			return nil, apperror.New(apperror.CodeInternalError,
				apperror.WithCause(err),
				apperror.WithContext("failed to encode signed transaction"))
		}

		txs = append(txs, domain.SignedTx{Raw: raw, Hash: signed.Hash()})
	}

	span.SetStatus(codes.Ok, "encoded")
	e.logger.Debug(ctx, "plan encoded",
		"plan_id", plan.ID().String(),
		"txs", len(txs),
		"gas_per_tx", gasPerTx)

	return txs, nil
}
