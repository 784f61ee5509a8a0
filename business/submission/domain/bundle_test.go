package domain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	executionDomain "github.com/fd1az/mev-searcher/business/execution/domain"
	"github.com/fd1az/mev-searcher/internal/apperror"
)

func testBundle() *Bundle {
	fees := executionDomain.FeeParams{
		MaxFeePerGas:         big.NewInt(50_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(2_000_000_000),
		GasLimit:             500_000,
	}
	txs := []SignedTx{
		{Raw: []byte{0x01}, Hash: common.HexToHash("0xaa")},
	}
	return NewBundle(uuid.New(), "sandwich", "uniswap_v2", fees, txs, 100, 102,
		[]string{"relay.primary", "relay.fallback"})
}

func TestBundleLifecycle(t *testing.T) {
	b := testBundle()

	if got := b.State(); got != StateBuilt {
		t.Fatalf("new bundle state = %v, want built", got)
	}

	// Cannot finish before submission.
	if err := b.MarkIncluded(); !apperror.HasCode(err, apperror.CodeInvalidState) {
		t.Fatalf("MarkIncluded from built: got %v, want INVALID_STATE", err)
	}

	if err := b.MarkSubmitted(); err != nil {
		t.Fatalf("MarkSubmitted: %v", err)
	}
	if b.SubmittedAt.IsZero() {
		t.Fatal("SubmittedAt not stamped")
	}

	if err := b.MarkIncluded(); err != nil {
		t.Fatalf("MarkIncluded: %v", err)
	}
	if got := b.State(); got != StateIncluded {
		t.Fatalf("state = %v, want included", got)
	}
}

func TestBundleTerminalLatch(t *testing.T) {
	tests := []struct {
		name   string
		finish func(*Bundle) error
		want   BundleState
	}{
		{"included", (*Bundle).MarkIncluded, StateIncluded},
		{"expired", (*Bundle).MarkExpired, StateExpired},
		{"rejected", (*Bundle).MarkRejected, StateRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBundle()
			if err := b.MarkSubmitted(); err != nil {
				t.Fatalf("MarkSubmitted: %v", err)
			}
			if err := tt.finish(b); err != nil {
				t.Fatalf("finish: %v", err)
			}

			// Every further transition fails and the state holds.
			for _, late := range []func(*Bundle) error{
				(*Bundle).MarkSubmitted,
				(*Bundle).MarkIncluded,
				(*Bundle).MarkExpired,
				(*Bundle).MarkRejected,
			} {
				if err := late(b); !apperror.HasCode(err, apperror.CodeBundleTerminal) {
					t.Errorf("late transition: got %v, want BUNDLE_TERMINAL", err)
				}
			}
			if got := b.State(); got != tt.want {
				t.Errorf("state after latch = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBundleStateTerminal(t *testing.T) {
	for _, s := range []BundleState{StateBuilt, StateSubmitted} {
		if s.Terminal() {
			t.Errorf("%v reported terminal", s)
		}
	}
	for _, s := range []BundleState{StateIncluded, StateExpired, StateRejected} {
		if !s.Terminal() {
			t.Errorf("%v not reported terminal", s)
		}
	}
}

func TestTryUseChannel(t *testing.T) {
	b := testBundle()

	if !b.TryUseChannel("relay.primary", 100) {
		t.Fatal("first use of (primary, 100) refused")
	}
	if b.TryUseChannel("relay.primary", 100) {
		t.Fatal("second use of (primary, 100) allowed")
	}

	// Same channel, next block is fine.
	if !b.TryUseChannel("relay.primary", 101) {
		t.Fatal("(primary, 101) refused")
	}

	// Different channel, same block is fine.
	if !b.TryUseChannel("relay.fallback", 100) {
		t.Fatal("(fallback, 100) refused")
	}
}
