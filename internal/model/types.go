package model

import "time"

const EnvelopeVersion = "v1"

// Roles carried in a conversation. Order of messages is causal, not just
// chronological; a slice of Message is never reordered once built.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a conversation exchanged with the model provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CommandResult is the normalized outcome of executing one agent command.
// Exactly one of Data/Error is meaningful depending on Success.
type CommandResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Market is a normalized prediction market. Prices is the per-outcome price
// vector; for binary markets Prices[0] is the YES price.
type Market struct {
	ID          string    `json:"marketId"`
	Question    string    `json:"question"`
	Description string    `json:"description"`
	Outcomes    []string  `json:"outcomes"`
	Prices      []float64 `json:"prices"`
	Volume      float64   `json:"volume"`
	Liquidity   float64   `json:"liquidity"`
	EndDate     string    `json:"endDate"`
	Resolved    bool      `json:"resolved"`
	Active      bool      `json:"active"`
}

// PricePoint is one sample of a market's price history.
type PricePoint struct {
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
}

// Position is one holding in a user's portfolio.
type Position struct {
	MarketID     string  `json:"marketId"`
	Outcome      string  `json:"outcome"`
	Shares       float64 `json:"shares"`
	AvgPrice     float64 `json:"avgPrice"`
	CurrentPrice float64 `json:"currentPrice"`
	Value        float64 `json:"value"`
	PnL          float64 `json:"pnl"`
}

// TransactionRequest is an EVM call the user's wallet must sign. The agent
// never holds keys; status PENDING_SIGNATURE marks the handoff point.
type TransactionRequest struct {
	To      string `json:"to"`
	Value   string `json:"value"`
	Data    string `json:"data"`
	ChainID int64  `json:"chainId"`
}

// Trade statuses reported in trade result payloads.
const (
	TradeStatusPendingSignature = "PENDING_SIGNATURE"
	TradeStatusExecuted         = "EXECUTED"
)

// Envelope is the JSON wrapper used by CLI data commands.
type Envelope struct {
	Version string       `json:"version"`
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorBody   `json:"error"`
	Meta    EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
}
