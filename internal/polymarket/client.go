// Package polymarket fetches prediction-market data from the Gamma API.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	agenterr "github.com/predixlabs/predix-agent/internal/errors"
	"github.com/predixlabs/predix-agent/internal/httpx"
	"github.com/predixlabs/predix-agent/internal/model"
)

const defaultAPIBase = "https://gamma-api.polymarket.com"

// Provider is the market-data surface the executor depends on. Lookups fail
// soft: an absent market is (nil, nil) and absent history/positions are
// empty slices; only transport failures return errors.
type Provider interface {
	Search(ctx context.Context, query string, limit int) ([]model.Market, error)
	Market(ctx context.Context, marketID string) (*model.Market, error)
	History(ctx context.Context, marketID string, days int) ([]model.PricePoint, error)
	Positions(ctx context.Context, address string) ([]model.Position, error)
}

type Client struct {
	http    *httpx.Client
	apiBase string
	now     func() time.Time
}

// New builds a Gamma API client. An empty apiBase selects the public
// endpoint.
func New(httpClient *httpx.Client, apiBase string) *Client {
	if strings.TrimSpace(apiBase) == "" {
		apiBase = defaultAPIBase
	}
	return &Client{
		http:    httpClient,
		apiBase: strings.TrimRight(apiBase, "/"),
		now:     time.Now,
	}
}

type searchResp struct {
	Events []struct {
		Markets []marketResp `json:"markets"`
	} `json:"events"`
}

type marketResp struct {
	ID            string          `json:"id"`
	ConditionID   string          `json:"condition_id"`
	Question      string          `json:"question"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Outcomes      json.RawMessage `json:"outcomes"`
	OutcomePrices json.RawMessage `json:"outcomePrices"`
	Prices        json.RawMessage `json:"prices"`
	Volume        flexFloat       `json:"volume"`
	Liquidity     flexFloat       `json:"liquidity"`
	EndDate       string          `json:"endDate"`
	EndDateSnake  string          `json:"end_date"`
	Resolved      bool            `json:"resolved"`
	Active        *bool           `json:"active"`
	Closed        bool            `json:"closed"`
}

func (c *Client) Search(ctx context.Context, query string, limit int) ([]model.Market, error) {
	if limit <= 0 {
		limit = 10
	}
	u := fmt.Sprintf("%s/public-search?q=%s&limit=%d&events_status=active",
		c.apiBase, url.QueryEscape(query), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.CodeInternal, "build search request", err)
	}
	var resp searchResp
	if _, err := c.http.DoJSON(ctx, req, &resp); err != nil {
		if agenterr.HasCode(err, agenterr.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}

	// The search endpoint groups markets under events; flatten and drop
	// markets that already closed.
	out := make([]model.Market, 0, limit)
	for _, event := range resp.Events {
		for _, m := range event.Markets {
			if m.Closed {
				continue
			}
			out = append(out, transformMarket(m))
			if len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (c *Client) Market(ctx context.Context, marketID string) (*model.Market, error) {
	u := fmt.Sprintf("%s/markets/%s", c.apiBase, url.PathEscape(marketID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.CodeInternal, "build market request", err)
	}
	var resp marketResp
	if _, err := c.http.DoJSON(ctx, req, &resp); err != nil {
		if agenterr.HasCode(err, agenterr.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	market := transformMarket(resp)
	if market.ID == "" {
		market.ID = marketID
	}
	return &market, nil
}

type historyResp struct {
	History []struct {
		Timestamp int64     `json:"timestamp"`
		T         int64     `json:"t"`
		Price     flexFloat `json:"price"`
		P         flexFloat `json:"p"`
		Volume    flexFloat `json:"volume"`
	} `json:"history"`
}

func (c *Client) History(ctx context.Context, marketID string, days int) ([]model.PricePoint, error) {
	end := c.now().UTC()
	start := end.AddDate(0, 0, -days)
	u := fmt.Sprintf("%s/prices/%s?start=%d&end=%d",
		c.apiBase, url.PathEscape(marketID), start.UnixMilli(), end.UnixMilli())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.CodeInternal, "build history request", err)
	}
	var resp historyResp
	if _, err := c.http.DoJSON(ctx, req, &resp); err != nil {
		if agenterr.HasCode(err, agenterr.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]model.PricePoint, 0, len(resp.History))
	for _, h := range resp.History {
		ts := h.Timestamp
		if ts == 0 {
			ts = h.T
		}
		price := float64(h.Price)
		if price == 0 {
			price = float64(h.P)
		}
		out = append(out, model.PricePoint{
			Timestamp: ts,
			Price:     price,
			Volume:    float64(h.Volume),
		})
	}
	return out, nil
}

type positionsResp struct {
	Positions []struct {
		MarketID     string    `json:"marketId"`
		Outcome      string    `json:"outcome"`
		Shares       flexFloat `json:"shares"`
		AvgPrice     flexFloat `json:"avgPrice"`
		CurrentPrice flexFloat `json:"currentPrice"`
		Value        flexFloat `json:"value"`
		PnL          flexFloat `json:"pnl"`
	} `json:"positions"`
}

func (c *Client) Positions(ctx context.Context, address string) ([]model.Position, error) {
	u := fmt.Sprintf("%s/positions?address=%s", c.apiBase, url.QueryEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.CodeInternal, "build positions request", err)
	}
	var resp positionsResp
	if _, err := c.http.DoJSON(ctx, req, &resp); err != nil {
		if agenterr.HasCode(err, agenterr.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]model.Position, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		out = append(out, model.Position{
			MarketID:     p.MarketID,
			Outcome:      p.Outcome,
			Shares:       float64(p.Shares),
			AvgPrice:     float64(p.AvgPrice),
			CurrentPrice: float64(p.CurrentPrice),
			Value:        float64(p.Value),
			PnL:          float64(p.PnL),
		})
	}
	return out, nil
}

func transformMarket(m marketResp) model.Market {
	id := m.ID
	if id == "" {
		id = m.ConditionID
	}
	question := m.Question
	if question == "" {
		question = m.Title
	}
	endDate := m.EndDate
	if endDate == "" {
		endDate = m.EndDateSnake
	}
	prices := parseFloatList(m.OutcomePrices)
	if len(prices) == 0 {
		prices = parseFloatList(m.Prices)
	}
	if len(prices) == 0 {
		prices = []float64{0.5, 0.5}
	}
	outcomes := parseStringList(m.Outcomes)
	if len(outcomes) == 0 {
		outcomes = []string{"YES", "NO"}
	}
	active := true
	if m.Active != nil {
		active = *m.Active
	}
	return model.Market{
		ID:          id,
		Question:    question,
		Description: m.Description,
		Outcomes:    outcomes,
		Prices:      prices,
		Volume:      float64(m.Volume),
		Liquidity:   float64(m.Liquidity),
		EndDate:     endDate,
		Resolved:    m.Resolved,
		Active:      active && !m.Closed,
	}
}

// The Gamma API sometimes returns array fields JSON-encoded inside a string
// ("[\"Yes\",\"No\"]"); accept both encodings.
func parseStringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var direct []string
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct
	}
	var nested string
	if err := json.Unmarshal(raw, &nested); err == nil {
		if err := json.Unmarshal([]byte(nested), &direct); err == nil {
			return direct
		}
	}
	return nil
}

func parseFloatList(raw json.RawMessage) []float64 {
	items := parseAnyList(raw)
	if items == nil {
		return nil
	}
	out := make([]float64, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case float64:
			out = append(out, v)
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil
			}
			out = append(out, f)
		default:
			return nil
		}
	}
	return out
}

func parseAnyList(raw json.RawMessage) []any {
	if len(raw) == 0 {
		return nil
	}
	var direct []any
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct
	}
	var nested string
	if err := json.Unmarshal(raw, &nested); err == nil {
		if err := json.Unmarshal([]byte(nested), &direct); err == nil {
			return direct
		}
	}
	return nil
}

// flexFloat tolerates numbers, quoted numbers, empty strings and null,
// all of which the Gamma API emits for numeric fields.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		s = strings.TrimSpace(inner)
	}
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}
