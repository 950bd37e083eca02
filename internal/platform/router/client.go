// Package router talks to the on-chain liquidity router over JSON-RPC:
// quoting via eth_call, swap submission via signed transactions, and
// confirmation via receipt polling.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/dexbotio/dexbot/internal/crypto"
	"github.com/dexbotio/dexbot/internal/domain"
)

// routerABIJSON covers the two router methods the engine uses.
const routerABIJSON = `[
	{
		"name": "getAmountsOut",
		"type": "function",
		"stateMutability": "view",
		"inputs": [
			{"name": "amountIn", "type": "uint256"},
			{"name": "path", "type": "address[]"}
		],
		"outputs": [
			{"name": "amounts", "type": "uint256[]"}
		]
	},
	{
		"name": "swapExactTokensForTokens",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "amountIn", "type": "uint256"},
			{"name": "amountOutMin", "type": "uint256"},
			{"name": "path", "type": "address[]"},
			{"name": "to", "type": "address"},
			{"name": "deadline", "type": "uint256"}
		],
		"outputs": [
			{"name": "amounts", "type": "uint256[]"}
		]
	}
]`

const (
	// swapGasLimit bounds swaps along short paths. Estimation is skipped
	// because a failing estimate would mask the revert reason.
	swapGasLimit = 300_000

	receiptPollInterval = 2 * time.Second
)

// ClientConfig holds the chain-facing parameters of the router client.
type ClientConfig struct {
	RouterAddress common.Address
	ChainID       *big.Int
}

// Client implements domain.Router against a V2-style swap router contract.
type Client struct {
	eth    *ethclient.Client
	signer *crypto.Signer
	router common.Address
	abi    abi.ABI
	logger *slog.Logger
}

// New creates a router client. The ethclient connection is owned by the
// caller.
func New(eth *ethclient.Client, signer *crypto.Signer, cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		return nil, fmt.Errorf("router: parse abi: %w", err)
	}
	return &Client{
		eth:    eth,
		signer: signer,
		router: cfg.RouterAddress,
		abi:    parsed,
		logger: logger.With(slog.String("component", "router_client")),
	}, nil
}

// QuoteOutput asks the router how much the last path hop yields for
// amountIn of the first.
func (c *Client) QuoteOutput(ctx context.Context, path []common.Address, amountIn *big.Int) (*big.Int, error) {
	data, err := c.abi.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("router: pack getAmountsOut: %w", err)
	}

	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.router, Data: data}, nil)
	if err != nil {
		return nil, classify("quote", err)
	}

	out, err := c.abi.Unpack("getAmountsOut", raw)
	if err != nil {
		return nil, fmt.Errorf("router: unpack getAmountsOut: %w", err)
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, fmt.Errorf("router: unexpected getAmountsOut result")
	}
	return amounts[len(amounts)-1], nil
}

// ExecuteSwap signs and broadcasts the planned swap, returning its hash.
func (c *Client) ExecuteSwap(ctx context.Context, plan domain.SwapPlan) (common.Hash, error) {
	data, err := c.abi.Pack("swapExactTokensForTokens",
		plan.AmountIn,
		plan.AmountOutMin,
		plan.Path,
		c.signer.Address(),
		big.NewInt(plan.Deadline.Unix()),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("router: pack swap: %w", err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.signer.Address())
	if err != nil {
		return common.Hash{}, classify("nonce", err)
	}

	tx := types.NewTransaction(nonce, c.router, big.NewInt(0), swapGasLimit, plan.GasPrice, data)
	signed, err := c.signer.SignTx(tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("router: sign tx: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, classify("send", err)
	}

	c.logger.Info("swap broadcast",
		slog.String("tx_hash", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce),
	)
	return signed.Hash(), nil
}

// Confirm polls for the transaction receipt until mined or the context
// expires. A mined-but-reverted transaction yields a RevertError alongside
// a result with status reverted.
func (c *Client) Confirm(ctx context.Context, txHash common.Hash) (domain.SubmissionResult, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			result := domain.SubmissionResult{
				TxHash:      txHash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
			}
			if receipt.Status == types.ReceiptStatusFailed {
				result.Status = domain.SubmissionReverted
				return result, &domain.RevertError{Reason: "transaction reverted on chain"}
			}
			result.Confirmed = true
			result.Status = domain.SubmissionConfirmed
			return result, nil
		}
		if err != ethereum.NotFound {
			return domain.SubmissionResult{}, classify("receipt", err)
		}

		select {
		case <-ctx.Done():
			return domain.SubmissionResult{}, &domain.NetworkError{Op: "confirm", Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

var _ domain.Router = (*Client)(nil)
