package policy

import (
	"testing"

	"github.com/predixlabs/predix-agent/internal/command"
	agenterr "github.com/predixlabs/predix-agent/internal/errors"
)

func TestTradeBlockedByDefault(t *testing.T) {
	p := Policy{}
	err := p.CheckActionAllowed(command.ActionExecuteTrade)
	if !agenterr.HasCode(err, agenterr.CodeBlocked) {
		t.Fatalf("expected blocked error, got %v", err)
	}
	if err := p.CheckActionAllowed(command.ActionGetMarketData); err != nil {
		t.Fatalf("read-only action should pass: %v", err)
	}
}

func TestTradeAllowedWhenEnabled(t *testing.T) {
	p := Policy{TradesEnabled: true}
	if err := p.CheckActionAllowed(command.ActionExecuteTrade); err != nil {
		t.Fatalf("expected trade allowed, got %v", err)
	}
}

func TestAllowlistNarrowsActions(t *testing.T) {
	p := Policy{TradesEnabled: true, AllowedActions: []string{"get_market_data", " Analyze_Prediction "}}
	if err := p.CheckActionAllowed(command.ActionGetMarketData); err != nil {
		t.Fatalf("allowlisted action should pass: %v", err)
	}
	if err := p.CheckActionAllowed(command.ActionAnalyzePrediction); err != nil {
		t.Fatalf("allowlist matching should be case and space insensitive: %v", err)
	}
	if err := p.CheckActionAllowed(command.ActionGetPortfolio); err == nil {
		t.Fatal("expected non-allowlisted action to be blocked")
	}
}
