// Package evm packs contract calldata for execution plan steps.
package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABI = `[
	{"name":"approve","type":"function","inputs":[
		{"name":"spender","type":"address"},
		{"name":"amount","type":"uint256"}],
	"outputs":[{"name":"","type":"bool"}]}
]`

const routerABI = `[
	{"name":"swapExactTokensForTokens","type":"function","inputs":[
		{"name":"amountIn","type":"uint256"},
		{"name":"amountOutMin","type":"uint256"},
		{"name":"path","type":"address[]"},
		{"name":"to","type":"address"},
		{"name":"deadline","type":"uint256"}],
	"outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

const aavePoolABI = `[
	{"name":"flashLoanSimple","type":"function","inputs":[
		{"name":"receiverAddress","type":"address"},
		{"name":"asset","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"params","type":"bytes"},
		{"name":"referralCode","type":"uint16"}],
	"outputs":[]},
	{"name":"liquidationCall","type":"function","inputs":[
		{"name":"collateralAsset","type":"address"},
		{"name":"debtAsset","type":"address"},
		{"name":"user","type":"address"},
		{"name":"debtToCover","type":"uint256"},
		{"name":"receiveAToken","type":"bool"}],
	"outputs":[]}
]`

const bridgeABI = `[
	{"name":"bridgeTransfer","type":"function","inputs":[
		{"name":"token","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"minAmountOut","type":"uint256"},
		{"name":"destinationChainId","type":"uint256"}],
	"outputs":[]},
	{"name":"claim","type":"function","inputs":[
		{"name":"token","type":"address"},
		{"name":"minAmountOut","type":"uint256"}],
	"outputs":[]}
]`

// Encoder packs calldata using parsed contract ABIs.
type Encoder struct {
	erc20  abi.ABI
	router abi.ABI
	pool   abi.ABI
	bridge abi.ABI
}

// NewEncoder parses the embedded ABIs.
func NewEncoder() (*Encoder, error) {
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	router, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}
	pool, err := abi.JSON(strings.NewReader(aavePoolABI))
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	bridge, err := abi.JSON(strings.NewReader(bridgeABI))
	if err != nil {
		return nil, fmt.Errorf("parse bridge abi: %w", err)
	}

	return &Encoder{
		erc20:  erc20,
		router: router,
		pool:   pool,
		bridge: bridge,
	}, nil
}

// Approve encodes an ERC-20 approve(spender, amount).
func (e *Encoder) Approve(spender common.Address, amount *big.Int) ([]byte, error) {
	return e.erc20.Pack("approve", spender, amount)
}

// SwapExactTokensForTokens encodes a low-level router swap.
func (e *Encoder) SwapExactTokensForTokens(amountIn, minOut *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]byte, error) {
	return e.router.Pack("swapExactTokensForTokens", amountIn, minOut, path, to, deadline)
}

// FlashLoanSimple encodes an Aave V3 flashLoanSimple call.
func (e *Encoder) FlashLoanSimple(receiver, asset common.Address, amount *big.Int, params []byte) ([]byte, error) {
	if params == nil {
		params = []byte{}
	}
	return e.pool.Pack("flashLoanSimple", receiver, asset, amount, params, uint16(0))
}

// LiquidationCall encodes an Aave V3 liquidationCall.
func (e *Encoder) LiquidationCall(collateral, debt, borrower common.Address, debtToCover *big.Int, receiveAToken bool) ([]byte, error) {
	return e.pool.Pack("liquidationCall", collateral, debt, borrower, debtToCover, receiveAToken)
}

// BridgeTransfer encodes a bridge deposit with a guaranteed-output floor.
func (e *Encoder) BridgeTransfer(asset common.Address, amount, minOut *big.Int, destChainID uint64) ([]byte, error) {
	return e.bridge.Pack("bridgeTransfer", asset, amount, minOut, new(big.Int).SetUint64(destChainID))
}

// BridgeClaim encodes the destination-chain settlement call.
func (e *Encoder) BridgeClaim(asset common.Address, minOut *big.Int) ([]byte, error) {
	return e.bridge.Pack("claim", asset, minOut)
}
