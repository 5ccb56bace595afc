package command

import (
	"strings"
	"testing"
)

func TestValidateTable(t *testing.T) {
	wallet := "0x" + strings.Repeat("a", 40)

	cases := []struct {
		name    string
		cmd     Command
		valid   bool
		errPart string
	}{
		{
			name:  "market data ok",
			cmd:   Command{Action: ActionGetMarketData, Params: map[string]any{"marketId": "btc-100k"}},
			valid: true,
		},
		{
			name:    "market data missing id",
			cmd:     Command{Action: ActionGetMarketData, Params: map[string]any{}},
			errPart: "marketId",
		},
		{
			name: "analyze ok",
			cmd: Command{Action: ActionAnalyzePrediction, Params: map[string]any{
				"marketId": "btc-100k", "userBalance": 1000.0, "riskTolerance": "moderate",
			}},
			valid: true,
		},
		{
			name: "analyze lists all missing fields",
			cmd: Command{Action: ActionAnalyzePrediction, Params: map[string]any{
				"marketId": "btc-100k",
			}},
			errPart: "userBalance, riskTolerance",
		},
		{
			name: "analyze bad risk enum",
			cmd: Command{Action: ActionAnalyzePrediction, Params: map[string]any{
				"marketId": "x", "userBalance": 10.0, "riskTolerance": "yolo",
			}},
			errPart: "riskTolerance",
		},
		{
			name: "trade ok",
			cmd: Command{Action: ActionExecuteTrade, Params: map[string]any{
				"marketId": "x", "choice": "YES", "amount": 100.0, "walletAddress": wallet,
			}},
			valid: true,
		},
		{
			name: "trade bad choice",
			cmd: Command{Action: ActionExecuteTrade, Params: map[string]any{
				"marketId": "x", "choice": "MAYBE", "amount": 100.0, "walletAddress": wallet,
			}},
			errPart: "YES or NO",
		},
		{
			name: "trade short wallet rejected",
			cmd: Command{Action: ActionExecuteTrade, Params: map[string]any{
				"marketId": "x", "choice": "YES", "amount": 100.0, "walletAddress": "0xabc",
			}},
			errPart: "42-character",
		},
		{
			name: "trade placeholder wallet rejected",
			cmd: Command{Action: ActionExecuteTrade, Params: map[string]any{
				"marketId": "x", "choice": "NO", "amount": 5.0, "walletAddress": "user_wallet",
			}},
			errPart: "42-character",
		},
		{
			name:  "portfolio ok",
			cmd:   Command{Action: ActionGetPortfolio, Params: map[string]any{"walletAddress": wallet}},
			valid: true,
		},
		{
			name:  "history ok without days",
			cmd:   Command{Action: ActionGetMarketHistory, Params: map[string]any{"marketId": "x"}},
			valid: true,
		},
		{
			name:    "unknown action",
			cmd:     Command{Action: "delete_everything", Params: map[string]any{}},
			errPart: "Unknown action: delete_everything",
		},
		{
			name:    "empty string counts as missing",
			cmd:     Command{Action: ActionGetPortfolio, Params: map[string]any{"walletAddress": "  "}},
			errPart: "walletAddress",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Validate(tc.cmd)
			if got.Valid != tc.valid {
				t.Fatalf("valid=%v, want %v (err=%q)", got.Valid, tc.valid, got.Error)
			}
			if !tc.valid && !strings.Contains(got.Error, tc.errPart) {
				t.Fatalf("error %q does not mention %q", got.Error, tc.errPart)
			}
		})
	}
}

func TestValidateHasNoSideEffects(t *testing.T) {
	params := map[string]any{"marketId": "x"}
	_ = Validate(Command{Action: ActionGetMarketData, Params: params})
	if len(params) != 1 {
		t.Fatalf("params mutated: %v", params)
	}
}

func TestIsWalletAddress(t *testing.T) {
	if !IsWalletAddress("0x" + strings.Repeat("0", 40)) {
		t.Fatal("expected canonical-length address to pass")
	}
	for _, bad := range []string{"", "0xabc", strings.Repeat("a", 42), "0x" + strings.Repeat("a", 41)} {
		if IsWalletAddress(bad) {
			t.Fatalf("expected %q to fail", bad)
		}
	}
}
