// Package executor dispatches validated agent commands to market-data
// operations and normalizes every outcome into a CommandResult.
package executor

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/predixlabs/predix-agent/internal/command"
	"github.com/predixlabs/predix-agent/internal/model"
	"github.com/predixlabs/predix-agent/internal/policy"
	"github.com/predixlabs/predix-agent/internal/polymarket"
)

const defaultHistoryDays = 30

type Executor struct {
	markets polymarket.Provider
	policy  policy.Policy
	log     *zap.Logger
}

func New(markets polymarket.Provider, pol policy.Policy, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{markets: markets, policy: pol, log: log}
}

// Execute runs one validated command. It never panics or returns a Go
// error: every failure, domain or upstream, collapses into
// {success:false, error}.
func (e *Executor) Execute(ctx context.Context, cmd command.Command) (result model.CommandResult) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("command handler panicked", zap.String("action", cmd.Action), zap.Any("panic", r))
			result = fail(fmt.Sprintf("command %s failed unexpectedly", cmd.Action))
		}
	}()
	e.log.Info("executing command", zap.String("action", cmd.Action))

	if err := e.policy.CheckActionAllowed(cmd.Action); err != nil {
		return fail(err.Error())
	}

	var (
		data any
		err  error
	)
	switch cmd.Action {
	case command.ActionGetMarketData:
		data, err = e.marketData(ctx, cmd.Params)
	case command.ActionAnalyzePrediction:
		data, err = e.analyze(ctx, cmd.Params)
	case command.ActionExecuteTrade:
		data, err = e.trade(cmd.Params)
	case command.ActionGetPortfolio:
		data, err = e.portfolio(ctx, cmd.Params)
	case command.ActionGetMarketHistory:
		data, err = e.history(ctx, cmd.Params)
	default:
		err = fmt.Errorf("unknown action: %s", cmd.Action)
	}
	if err != nil {
		e.log.Warn("command failed", zap.String("action", cmd.Action), zap.Error(err))
		return fail(err.Error())
	}
	return model.CommandResult{Success: true, Data: data}
}

func fail(msg string) model.CommandResult {
	return model.CommandResult{Success: false, Error: msg}
}

type marketSummary struct {
	MarketID  string    `json:"marketId"`
	Question  string    `json:"question"`
	Outcomes  []string  `json:"outcomes"`
	Prices    []float64 `json:"prices"`
	Volume    float64   `json:"volume"`
	Liquidity float64   `json:"liquidity"`
	EndDate   string    `json:"endDate"`
	Active    bool      `json:"active"`
}

type marketDataPayload struct {
	Query   string          `json:"query"`
	Count   int             `json:"count"`
	Markets []marketSummary `json:"markets"`
}

// marketData treats marketId as a free-text search query.
func (e *Executor) marketData(ctx context.Context, params map[string]any) (any, error) {
	query, _ := command.StringParam(params, "marketId")
	markets, err := e.markets.Search(ctx, query, 10)
	if err != nil {
		return nil, fmt.Errorf("market search failed: %w", err)
	}
	summaries := make([]marketSummary, 0, len(markets))
	for _, m := range markets {
		summaries = append(summaries, marketSummary{
			MarketID:  m.ID,
			Question:  m.Question,
			Outcomes:  m.Outcomes,
			Prices:    m.Prices,
			Volume:    m.Volume,
			Liquidity: m.Liquidity,
			EndDate:   m.EndDate,
			Active:    m.Active,
		})
	}
	return marketDataPayload{Query: query, Count: len(summaries), Markets: summaries}, nil
}

type analysisPayload struct {
	MarketID        string  `json:"marketId"`
	Recommendation  string  `json:"recommendation"`
	Confidence      int     `json:"confidence"`
	SuggestedAmount float64 `json:"suggestedAmount"`
	ExpectedRoi     float64 `json:"expectedRoi"`
	RiskLevel       string  `json:"riskLevel"`
	Reasoning       string  `json:"reasoning"`
	MarketQuestion  string  `json:"marketQuestion"`
}

var riskMultipliers = map[string]float64{
	command.RiskConservative: 0.5,
	command.RiskModerate:     1.0,
	command.RiskAggressive:   1.5,
}

var riskLevels = map[string]string{
	command.RiskConservative: "low",
	command.RiskModerate:     "medium",
	command.RiskAggressive:   "high",
}

func (e *Executor) analyze(ctx context.Context, params map[string]any) (any, error) {
	marketID, _ := command.StringParam(params, "marketId")
	balance, ok := floatParam(params, "userBalance")
	if !ok {
		return nil, fmt.Errorf("userBalance must be a number")
	}
	risk, _ := command.StringParam(params, "riskTolerance")

	market, err := e.markets.Market(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("market lookup failed: %w", err)
	}
	if market == nil {
		return nil, fmt.Errorf("Market not found: %s", marketID)
	}

	yesPrice := 0.5
	if len(market.Prices) > 0 {
		yesPrice = market.Prices[0]
	}

	recommendation := "BUY_NO"
	if yesPrice > 0.5 {
		recommendation = "BUY_YES"
	}
	confidence := int(math.Round(math.Abs(yesPrice-0.5) * 200))
	if confidence > 100 {
		confidence = 100
	}

	return analysisPayload{
		MarketID:        marketID,
		Recommendation:  recommendation,
		Confidence:      confidence,
		SuggestedAmount: balance * 0.1 * riskMultipliers[risk],
		ExpectedRoi:     (yesPrice - 0.5) * 0.2,
		RiskLevel:       riskLevels[risk],
		Reasoning: fmt.Sprintf("Market shows %.1f%% probability for YES. Volume: $%s",
			yesPrice*100, groupThousands(market.Volume)),
		MarketQuestion: market.Question,
	}, nil
}

type portfolioPayload struct {
	WalletAddress      string           `json:"walletAddress"`
	TotalValue         float64          `json:"totalValue"`
	TotalPnL           float64          `json:"totalPnL"`
	TotalPnLPercentage float64          `json:"totalPnLPercentage"`
	ActivePositions    []model.Position `json:"activePositions"`
}

// portfolio sums position value and P&L. An empty portfolio is a valid
// zero-valued payload, not an error.
func (e *Executor) portfolio(ctx context.Context, params map[string]any) (any, error) {
	address, _ := command.StringParam(params, "walletAddress")
	positions, err := e.markets.Positions(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("portfolio lookup failed: %w", err)
	}
	if positions == nil {
		positions = []model.Position{}
	}

	var totalValue, totalPnL float64
	for _, p := range positions {
		totalValue += p.Value
		totalPnL += p.PnL
	}
	pnlPct := 0.0
	if totalValue > 0 {
		pnlPct = totalPnL / totalValue * 100
	}
	return portfolioPayload{
		WalletAddress:      address,
		TotalValue:         totalValue,
		TotalPnL:           totalPnL,
		TotalPnLPercentage: pnlPct,
		ActivePositions:    positions,
	}, nil
}

type historyPayload struct {
	MarketID   string             `json:"marketId"`
	History    []model.PricePoint `json:"history"`
	Trend      string             `json:"trend"`
	Volatility float64            `json:"volatility"`
}

func (e *Executor) history(ctx context.Context, params map[string]any) (any, error) {
	marketID, _ := command.StringParam(params, "marketId")
	days := defaultHistoryDays
	if v, ok := floatParam(params, "days"); ok && v > 0 {
		days = int(v)
	}

	points, err := e.markets.History(ctx, marketID, days)
	if err != nil {
		return nil, fmt.Errorf("history lookup failed: %w", err)
	}
	if points == nil {
		points = []model.PricePoint{}
	}

	trend := "downward"
	if len(points) > 1 && points[len(points)-1].Price > points[0].Price {
		trend = "upward"
	}
	return historyPayload{
		MarketID:   marketID,
		History:    points,
		Trend:      trend,
		Volatility: volatility(points),
	}, nil
}

// volatility is the population standard deviation of the price series.
func volatility(points []model.PricePoint) float64 {
	if len(points) < 2 {
		return 0
	}
	var sum float64
	for _, p := range points {
		sum += p.Price
	}
	mean := sum / float64(len(points))
	var variance float64
	for _, p := range points {
		variance += (p.Price - mean) * (p.Price - mean)
	}
	variance /= float64(len(points))
	return math.Sqrt(variance)
}

// floatParam coerces the numeric encodings a JSON params object can carry.
func floatParam(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// groupThousands renders 12500.5 as "12,500.50" for reasoning text.
func groupThousands(v float64) string {
	formatted := strconv.FormatFloat(math.Abs(v), 'f', 2, 64)
	dot := strings.IndexByte(formatted, '.')
	digits := formatted[:dot]
	var out []byte
	for i := 0; i < len(digits); i++ {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, digits[i])
	}
	s := string(out) + formatted[dot:]
	if v < 0 {
		s = "-" + s
	}
	return s
}
