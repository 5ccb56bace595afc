package executor

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/predixlabs/predix-agent/internal/command"
	"github.com/predixlabs/predix-agent/internal/model"
	"github.com/predixlabs/predix-agent/internal/policy"
)

type fakeProvider struct {
	markets   []model.Market
	market    *model.Market
	points    []model.PricePoint
	positions []model.Position
	err       error
}

func (f *fakeProvider) Search(ctx context.Context, query string, limit int) ([]model.Market, error) {
	return f.markets, f.err
}

func (f *fakeProvider) Market(ctx context.Context, marketID string) (*model.Market, error) {
	return f.market, f.err
}

func (f *fakeProvider) History(ctx context.Context, marketID string, days int) ([]model.PricePoint, error) {
	return f.points, f.err
}

func (f *fakeProvider) Positions(ctx context.Context, address string) ([]model.Position, error) {
	return f.positions, f.err
}

type panickingProvider struct {
	fakeProvider
}

func (p *panickingProvider) Search(ctx context.Context, query string, limit int) ([]model.Market, error) {
	panic("provider corrupted state")
}

func TestExecuteRecoversHandlerPanic(t *testing.T) {
	exec := New(&panickingProvider{}, policy.Policy{}, nil)
	res := exec.Execute(context.Background(), command.Command{
		Action: command.ActionGetMarketData,
		Params: map[string]any{"marketId": "btc"},
	})
	if res.Success {
		t.Fatalf("expected failure result, got %+v", res)
	}
	if !strings.Contains(res.Error, "get_market_data failed unexpectedly") {
		t.Errorf("unexpected error text: %q", res.Error)
	}
}

func newTestExecutor(p *fakeProvider) *Executor {
	return New(p, policy.Policy{TradesEnabled: true}, nil)
}

const testWallet = "0x1234567890abcdef1234567890abcdef12345678"

func TestMarketDataReturnsSummaries(t *testing.T) {
	exec := newTestExecutor(&fakeProvider{markets: []model.Market{
		{ID: "m1", Question: "Will X?", Prices: []float64{0.6, 0.4}, Volume: 1000, Active: true},
	}})
	res := exec.Execute(context.Background(), command.Command{
		Action: command.ActionGetMarketData,
		Params: map[string]any{"marketId": "election"},
	})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	payload, ok := res.Data.(marketDataPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", res.Data)
	}
	if payload.Query != "election" || payload.Count != 1 {
		t.Errorf("unexpected payload: %+v", payload)
	}
	if payload.Markets[0].MarketID != "m1" {
		t.Errorf("unexpected market summary: %+v", payload.Markets[0])
	}
}

func TestAnalyzeModerateScenario(t *testing.T) {
	exec := newTestExecutor(&fakeProvider{market: &model.Market{
		ID: "m1", Question: "Will X?", Prices: []float64{0.65, 0.35}, Volume: 12500.5,
	}})
	res := exec.Execute(context.Background(), command.Command{
		Action: command.ActionAnalyzePrediction,
		Params: map[string]any{"marketId": "m1", "userBalance": 1000.0, "riskTolerance": "moderate"},
	})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	payload := res.Data.(analysisPayload)
	if payload.Recommendation != "BUY_YES" {
		t.Errorf("expected BUY_YES, got %s", payload.Recommendation)
	}
	if payload.Confidence != 30 {
		t.Errorf("expected confidence 30, got %d", payload.Confidence)
	}
	if payload.SuggestedAmount != 100 {
		t.Errorf("expected suggested amount 100, got %v", payload.SuggestedAmount)
	}
	if math.Abs(payload.ExpectedRoi-0.03) > 1e-9 {
		t.Errorf("expected roi 0.03, got %v", payload.ExpectedRoi)
	}
	if payload.RiskLevel != "medium" {
		t.Errorf("expected medium risk, got %s", payload.RiskLevel)
	}
	if !strings.Contains(payload.Reasoning, "65.0%") || !strings.Contains(payload.Reasoning, "12,500.50") {
		t.Errorf("unexpected reasoning: %q", payload.Reasoning)
	}
}

func TestAnalyzeConfidenceBounds(t *testing.T) {
	cases := []struct {
		price          float64
		confidence     int
		recommendation string
	}{
		{0.5, 0, "BUY_NO"},
		{0.9, 80, "BUY_YES"},
		{0.3, 40, "BUY_NO"},
		{0.0, 100, "BUY_NO"},
		{1.0, 100, "BUY_YES"},
	}
	for _, tc := range cases {
		exec := newTestExecutor(&fakeProvider{market: &model.Market{
			ID: "m1", Prices: []float64{tc.price, 1 - tc.price},
		}})
		res := exec.Execute(context.Background(), command.Command{
			Action: command.ActionAnalyzePrediction,
			Params: map[string]any{"marketId": "m1", "userBalance": 500.0, "riskTolerance": "conservative"},
		})
		if !res.Success {
			t.Fatalf("price %v: expected success, got %+v", tc.price, res)
		}
		payload := res.Data.(analysisPayload)
		if payload.Confidence != tc.confidence {
			t.Errorf("price %v: expected confidence %d, got %d", tc.price, tc.confidence, payload.Confidence)
		}
		if payload.Confidence < 0 || payload.Confidence > 100 {
			t.Errorf("price %v: confidence out of bounds: %d", tc.price, payload.Confidence)
		}
		if payload.Recommendation != tc.recommendation {
			t.Errorf("price %v: expected %s, got %s", tc.price, tc.recommendation, payload.Recommendation)
		}
	}
}

func TestAnalyzeMarketNotFound(t *testing.T) {
	exec := newTestExecutor(&fakeProvider{market: nil})
	res := exec.Execute(context.Background(), command.Command{
		Action: command.ActionAnalyzePrediction,
		Params: map[string]any{"marketId": "ghost", "userBalance": 100.0, "riskTolerance": "moderate"},
	})
	if res.Success {
		t.Fatal("expected failure for absent market")
	}
	if res.Error != "Market not found: ghost" {
		t.Errorf("unexpected error message: %q", res.Error)
	}
}

func TestUpstreamFailureIsNormalized(t *testing.T) {
	exec := newTestExecutor(&fakeProvider{err: errors.New("connection refused")})
	res := exec.Execute(context.Background(), command.Command{
		Action: command.ActionGetMarketData,
		Params: map[string]any{"marketId": "anything"},
	})
	if res.Success || res.Error == "" {
		t.Fatalf("expected normalized failure, got %+v", res)
	}
}

func TestPortfolioAggregatesTotals(t *testing.T) {
	exec := newTestExecutor(&fakeProvider{positions: []model.Position{
		{MarketID: "m1", Value: 555.55, PnL: 55.55},
		{MarketID: "m2", Value: 266.67, PnL: -33.33},
	}})
	res := exec.Execute(context.Background(), command.Command{
		Action: command.ActionGetPortfolio,
		Params: map[string]any{"walletAddress": testWallet},
	})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	payload := res.Data.(portfolioPayload)
	if math.Abs(payload.TotalValue-822.22) > 1e-9 {
		t.Errorf("unexpected total value %v", payload.TotalValue)
	}
	if math.Abs(payload.TotalPnL-22.22) > 1e-9 {
		t.Errorf("unexpected total pnl %v", payload.TotalPnL)
	}
}

func TestEmptyPortfolioIsValidZeroPayload(t *testing.T) {
	exec := newTestExecutor(&fakeProvider{})
	res := exec.Execute(context.Background(), command.Command{
		Action: command.ActionGetPortfolio,
		Params: map[string]any{"walletAddress": testWallet},
	})
	if !res.Success {
		t.Fatalf("empty portfolio must not be an error, got %+v", res)
	}
	payload := res.Data.(portfolioPayload)
	if payload.TotalValue != 0 || payload.TotalPnL != 0 || len(payload.ActivePositions) != 0 {
		t.Errorf("expected zero payload, got %+v", payload)
	}
	// The payload must serialize with an empty array, not null.
	buf, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if !strings.Contains(string(buf), `"activePositions":[]`) {
		t.Errorf("expected empty positions array, got %s", buf)
	}
}

func TestHistoryTrendAndVolatility(t *testing.T) {
	cases := []struct {
		name       string
		points     []model.PricePoint
		trend      string
		volatility float64
	}{
		{"empty", nil, "downward", 0},
		{"single", []model.PricePoint{{Price: 0.5}}, "downward", 0},
		{"upward", []model.PricePoint{{Price: 0.4}, {Price: 0.6}}, "upward", 0.1},
		{"alternating", []model.PricePoint{{Price: 0.4}, {Price: 0.6}, {Price: 0.4}}, "downward", 0.0942809041582063},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := newTestExecutor(&fakeProvider{points: tc.points})
			res := exec.Execute(context.Background(), command.Command{
				Action: command.ActionGetMarketHistory,
				Params: map[string]any{"marketId": "m1"},
			})
			if !res.Success {
				t.Fatalf("expected success, got %+v", res)
			}
			payload := res.Data.(historyPayload)
			if payload.Trend != tc.trend {
				t.Errorf("expected trend %s, got %s", tc.trend, payload.Trend)
			}
			if math.Abs(payload.Volatility-tc.volatility) > 1e-12 {
				t.Errorf("expected volatility %v, got %v", tc.volatility, payload.Volatility)
			}
		})
	}
}

func TestTradeBlockedByPolicy(t *testing.T) {
	exec := New(&fakeProvider{}, policy.Policy{TradesEnabled: false}, nil)
	res := exec.Execute(context.Background(), command.Command{
		Action: command.ActionExecuteTrade,
		Params: map[string]any{"marketId": "m1", "choice": "YES", "amount": 10.0, "walletAddress": testWallet},
	})
	if res.Success {
		t.Fatal("expected trade blocked when trading disabled")
	}
	if !strings.Contains(res.Error, "disabled") {
		t.Errorf("unexpected error: %q", res.Error)
	}
}
