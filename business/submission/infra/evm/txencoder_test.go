package evm

import (
	"bytes"
	"context"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	executionDomain "github.com/fd1az/mev-searcher/business/execution/domain"
	"github.com/fd1az/mev-searcher/internal/apperror"
	"github.com/fd1az/mev-searcher/internal/logger"
)

const (
	senderKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	victimKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

type stubNonces struct {
	next  uint64
	calls int
}

func (s *stubNonces) NextNonce(context.Context) (uint64, error) {
	n := s.next
	s.next++
	s.calls++
	return n, nil
}

func testLogger() logger.LoggerInterface {
	return logger.New(io.Discard, logger.LevelDebug, "test", nil)
}

// victimTx signs a transfer with an unrelated key, as the detector
// would capture it from the mempool.
func victimTx(t *testing.T) (*types.Transaction, []byte) {
	t.Helper()
	key, err := crypto.HexToECDSA(victimKeyHex)
	if err != nil {
		t.Fatalf("victim key: %v", err)
	}

	to := common.HexToAddress("0x3333333333333333333333333333333333333333")
	tx := types.MustSignNewTx(key, types.NewLondonSigner(big.NewInt(1)), &types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		Nonce:     7,
		GasTipCap: big.NewInt(2_000_000_000),
		GasFeeCap: big.NewInt(40_000_000_000),
		Gas:       21_000,
		To:        &to,
		Value:     big.NewInt(1_000_000_000_000_000_000),
	})

	raw, err := tx.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal victim tx: %v", err)
	}
	return tx, raw
}

func sandwichPlan(t *testing.T, victimRaw []byte) *executionDomain.Plan {
	t.Helper()
	router := common.HexToAddress("0x1111111111111111111111111111111111111111")
	steps := []executionDomain.Step{
		{
			Kind:     executionDomain.StepSwap,
			Target:   router,
			Amount:   big.NewInt(1),
			MinOut:   big.NewInt(1),
			Calldata: []byte{0x38, 0xed, 0x17, 0x39},
		},
		{
			Kind:     executionDomain.StepRawTx,
			Calldata: victimRaw,
		},
		{
			Kind:     executionDomain.StepSwap,
			Target:   router,
			Amount:   big.NewInt(1),
			MinOut:   big.NewInt(2),
			Calldata: []byte{0x38, 0xed, 0x17, 0x39},
		},
	}

	plan, err := executionDomain.NewPlan(uuid.New(), "sandwich", "uniswap_v2", steps,
		executionDomain.FundingMode{Kind: executionDomain.FundSelf},
		big.NewInt(1), big.NewInt(1_000_000_000_000_000), false, 600_000,
		time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	return plan
}

func testFees() executionDomain.FeeParams {
	return executionDomain.FeeParams{
		MaxFeePerGas:         big.NewInt(40_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(2_000_000_000),
		GasLimit:             600_000,
	}
}

func TestEncodePlanInterleavesRawTx(t *testing.T) {
	signer, err := NewSigner(senderKeyHex, 1)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	nonces := &stubNonces{}
	enc := NewTxEncoder(signer, nonces, testLogger())

	victim, victimRaw := victimTx(t)
	plan := sandwichPlan(t, victimRaw)

	txs, err := enc.EncodePlan(context.Background(), plan, testFees())
	if err != nil {
		t.Fatalf("EncodePlan: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("txs = %d, want 3", len(txs))
	}

	// The victim tx is carried through byte-for-byte in bundle position.
	if !bytes.Equal(txs[1].Raw, victimRaw) {
		t.Error("victim transaction was not passed through verbatim")
	}
	if txs[1].Hash != victim.Hash() {
		t.Errorf("victim hash = %s, want %s", txs[1].Hash, victim.Hash())
	}

	// Only our own legs consume nonces and the plan's gas budget.
	if nonces.calls != 2 {
		t.Errorf("nonce allocations = %d, want 2", nonces.calls)
	}
	for _, i := range []int{0, 2} {
		var decoded types.Transaction
		if err := decoded.UnmarshalBinary(txs[i].Raw); err != nil {
			t.Fatalf("decode leg %d: %v", i, err)
		}
		from, err := types.Sender(types.NewLondonSigner(big.NewInt(1)), &decoded)
		if err != nil {
			t.Fatalf("recover sender of leg %d: %v", i, err)
		}
		if from != signer.Address() {
			t.Errorf("leg %d sender = %s, want %s", i, from, signer.Address())
		}
		if decoded.Gas() != 300_000 {
			t.Errorf("leg %d gas = %d, want even share 300000", i, decoded.Gas())
		}
	}
}

func TestEncodePlanRejectsMalformedRawTx(t *testing.T) {
	signer, err := NewSigner(senderKeyHex, 1)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	enc := NewTxEncoder(signer, &stubNonces{}, testLogger())

	plan := sandwichPlan(t, []byte{0xde, 0xad, 0xbe, 0xef})

	_, err = enc.EncodePlan(context.Background(), plan, testFees())
	if !apperror.HasCode(err, apperror.CodeInvalidInput) {
		t.Fatalf("got %v, want INVALID_INPUT", err)
	}
}
