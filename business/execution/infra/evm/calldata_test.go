package evm

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestEncoderSelectors(t *testing.T) {
	e, err := NewEncoder()
	if err != nil {
		t.Fatalf("NewEncoder() error = %v", err)
	}

	addr := common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	amount := big.NewInt(1000)

	tests := []struct {
		name     string
		encode   func() ([]byte, error)
		selector []byte
	}{
		{
			name:     "approve",
			encode:   func() ([]byte, error) { return e.Approve(addr, amount) },
			selector: []byte{0x09, 0x5e, 0xa7, 0xb3},
		},
		{
			name: "swapExactTokensForTokens",
			encode: func() ([]byte, error) {
				return e.SwapExactTokensForTokens(amount, big.NewInt(990),
					[]common.Address{addr, addr}, addr, big.NewInt(1700000000))
			},
			selector: []byte{0x38, 0xed, 0x17, 0x39},
		},
		{
			name: "liquidationCall",
			encode: func() ([]byte, error) {
				return e.LiquidationCall(addr, addr, addr, amount, false)
			},
			selector: []byte{0x00, 0xa7, 0x18, 0xa9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.encode()
			if err != nil {
				t.Fatalf("encode error = %v", err)
			}
			if len(data) < 4 || !bytes.Equal(data[:4], tt.selector) {
				t.Errorf("selector = %x, want %x", data[:4], tt.selector)
			}
		})
	}
}

func TestFlashLoanSimpleNilParams(t *testing.T) {
	e, err := NewEncoder()
	if err != nil {
		t.Fatalf("NewEncoder() error = %v", err)
	}

	addr := common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2")
	data, err := e.FlashLoanSimple(addr, addr, big.NewInt(1), nil)
	if err != nil {
		t.Fatalf("FlashLoanSimple() error = %v", err)
	}
	if len(data) <= 4 {
		t.Error("calldata missing packed arguments")
	}
}
