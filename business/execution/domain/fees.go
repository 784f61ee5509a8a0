package domain

import "math/big"

// FeeParams are the EIP-1559 fee fields assigned to a plan's
// transactions by the gas strategist.
type FeeParams struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	GasLimit             uint64
}

// TotalCostWei returns the worst-case fee spend.
func (f FeeParams) TotalCostWei() *big.Int {
	return new(big.Int).Mul(f.MaxFeePerGas, new(big.Int).SetUint64(f.GasLimit))
}
