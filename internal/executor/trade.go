package executor

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/predixlabs/predix-agent/internal/command"
	"github.com/predixlabs/predix-agent/internal/model"
	"github.com/predixlabs/predix-agent/internal/registry"
)

var erc20ABI = mustABI(registry.ERC20MinimalABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse ERC20 ABI: %v", err))
	}
	return parsed
}

type tradePayload struct {
	Success            bool                     `json:"success"`
	Status             string                   `json:"status"`
	MarketID           string                   `json:"marketId"`
	Choice             string                   `json:"choice"`
	Amount             float64                  `json:"amount"`
	WalletAddress      string                   `json:"walletAddress"`
	TransactionRequest model.TransactionRequest `json:"transactionRequest"`
	Message            string                   `json:"message"`
}

// trade builds the USDC approval transaction for the user's wallet to sign.
// It never moves funds itself; PENDING_SIGNATURE marks where control hands
// back to the caller.
func (e *Executor) trade(params map[string]any) (any, error) {
	wallet, _ := command.StringParam(params, "walletAddress")
	// Re-checked here even though validation already ran: models sometimes
	// substitute placeholders after validation-shaped examples.
	if !command.IsWalletAddress(wallet) {
		return nil, fmt.Errorf("Invalid wallet address provided: %q. You must use the full 42-character hex address starting with 0x from the user's context.", wallet)
	}
	marketID, _ := command.StringParam(params, "marketId")
	choice, _ := command.StringParam(params, "choice")
	amount, ok := floatParam(params, "amount")
	if !ok || amount <= 0 {
		return nil, fmt.Errorf("amount must be a positive number")
	}

	baseUnits := decimal.NewFromFloat(amount).Shift(registry.USDCDecimals).Truncate(0).BigInt()
	if baseUnits.Sign() <= 0 {
		return nil, fmt.Errorf("amount is below the smallest USDC unit")
	}

	data, err := erc20ABI.Pack("approve", common.HexToAddress(registry.CTFExchangeAddress), baseUnits)
	if err != nil {
		return nil, fmt.Errorf("pack approval calldata: %w", err)
	}

	return tradePayload{
		Success:       true,
		Status:        model.TradeStatusPendingSignature,
		MarketID:      marketID,
		Choice:        choice,
		Amount:        amount,
		WalletAddress: wallet,
		TransactionRequest: model.TransactionRequest{
			To:      registry.USDCAddress,
			Value:   "0x0",
			Data:    hexutil.Encode(data),
			ChainID: registry.PolygonChainID,
		},
		Message: "Generated USDC Approval transaction. You need to approve the Polymarket Exchange to spend your USDC before trading. Please sign the transaction.",
	}, nil
}
