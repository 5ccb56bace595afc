// Package command defines the closed set of agent actions, extracts them
// from model output, and validates them before execution.
package command

import (
	"fmt"
	"sort"
	"strings"
)

// The five recognized actions. The set is closed: anything else is rejected
// at validation time, never dispatched.
const (
	ActionGetMarketData     = "get_market_data"
	ActionAnalyzePrediction = "analyze_prediction"
	ActionExecuteTrade      = "execute_trade"
	ActionGetPortfolio      = "get_portfolio"
	ActionGetMarketHistory  = "get_market_history"
)

// Risk tolerance levels accepted by analyze_prediction.
const (
	RiskConservative = "conservative"
	RiskModerate     = "moderate"
	RiskAggressive   = "aggressive"
)

// Command is a structured instruction parsed out of model response text. It
// is never persisted independently of the text it was extracted from.
type Command struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// Validation is the outcome of checking a Command against the grammar.
type Validation struct {
	Valid bool
	Error string
}

func invalid(format string, args ...any) Validation {
	return Validation{Valid: false, Error: fmt.Sprintf(format, args...)}
}

// requiredParams enumerates the grammar as a single table so the command set
// stays a closed, testable union rather than scattered string checks.
var requiredParams = map[string][]string{
	ActionGetMarketData:     {"marketId"},
	ActionAnalyzePrediction: {"marketId", "userBalance", "riskTolerance"},
	ActionExecuteTrade:      {"marketId", "choice", "amount", "walletAddress"},
	ActionGetPortfolio:      {"walletAddress"},
	ActionGetMarketHistory:  {"marketId"},
}

// Actions returns the recognized action names, sorted.
func Actions() []string {
	names := make([]string, 0, len(requiredParams))
	for name := range requiredParams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks cmd against the grammar without side effects. It checks
// parameter presence and the enumerations below; deeper type coercion is the
// executor's responsibility and may itself fail.
func Validate(cmd Command) Validation {
	required, ok := requiredParams[cmd.Action]
	if !ok {
		return invalid("Unknown action: %s", cmd.Action)
	}

	var missing []string
	for _, name := range required {
		if !paramPresent(cmd.Params, name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return invalid("%s required for %s", strings.Join(missing, ", "), cmd.Action)
	}

	switch cmd.Action {
	case ActionAnalyzePrediction:
		risk, _ := StringParam(cmd.Params, "riskTolerance")
		switch risk {
		case RiskConservative, RiskModerate, RiskAggressive:
		default:
			return invalid("riskTolerance must be conservative, moderate or aggressive")
		}
	case ActionExecuteTrade:
		choice, _ := StringParam(cmd.Params, "choice")
		if choice != "YES" && choice != "NO" {
			return invalid("choice must be YES or NO")
		}
		addr, ok := StringParam(cmd.Params, "walletAddress")
		if !ok || !IsWalletAddress(addr) {
			return invalid("walletAddress must be the full 42-character hex address starting with 0x")
		}
	}
	return Validation{Valid: true}
}

// IsWalletAddress reports whether v has the shape of an EVM address the
// wallet can actually sign for: "0x" followed by 40 characters.
func IsWalletAddress(v string) bool {
	return strings.HasPrefix(v, "0x") && len(v) == 42
}

// StringParam fetches a string-valued parameter.
func StringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func paramPresent(params map[string]any, key string) bool {
	v, ok := params[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
		return false
	}
	return true
}
