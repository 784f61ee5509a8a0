// Package domain contains the core domain types for the blockchain context.
package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt is the outcome of a mined transaction.
type Receipt struct {
	TxHash            common.Hash
	BlockNumber       uint64
	Status            uint64 // 1 = success, 0 = reverted
	GasUsed           uint64
	EffectiveGasPrice *big.Int
}

// Succeeded returns true if the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r.Status == 1
}

// GasCostWei returns the gas actually paid in wei.
func (r *Receipt) GasCostWei() *big.Int {
	if r.EffectiveGasPrice == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(r.EffectiveGasPrice, new(big.Int).SetUint64(r.GasUsed))
}
