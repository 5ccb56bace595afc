// Package chat is the caller-side adapter for the agent endpoint: it
// assembles the outbound payload with recent context, degrades to a bare
// message when the first attempt fails, and handles the embedded result
// that may trail the response text.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	agenterr "github.com/predixlabs/predix-agent/internal/errors"
	"github.com/predixlabs/predix-agent/internal/httpx"
	"github.com/predixlabs/predix-agent/internal/model"
	"github.com/predixlabs/predix-agent/internal/session"
)

// historyWindow bounds how much context rides along with a new message.
const historyWindow = 6

// ErrConnectivity is the single generic failure surfaced after both
// delivery attempts fail.
var ErrConnectivity = agenterr.New(agenterr.CodeUnavailable,
	"Sorry, there was an error connecting to the AI agent. Please make sure the backend is running.")

// Signer hands a constructed transaction to the user's wallet and returns
// the resulting transaction hash.
type Signer interface {
	Sign(ctx context.Context, tx model.TransactionRequest) (string, error)
}

// Turn is one completed exchange: the display text plus the structured
// payload extracted from the response, if any.
type Turn struct {
	Text string
	Data map[string]any
}

type Client struct {
	http     *httpx.Client
	agentURL string
	wallet   string
	store    *session.Store
	signer   Signer
	log      *zap.Logger
}

// New builds a chat client. The httpx client should be constructed with
// zero retries: delivery retries are this adapter's own two-stage logic,
// not the transport's. store and signer may be nil.
func New(httpClient *httpx.Client, agentURL, wallet string, store *session.Store, signer Signer, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		http:     httpClient,
		agentURL: strings.TrimRight(agentURL, "/"),
		wallet:   wallet,
		store:    store,
		signer:   signer,
		log:      log,
	}
}

type agentRequest struct {
	Messages      []model.Message `json:"messages"`
	WalletAddress string          `json:"walletAddress,omitempty"`
}

// Send delivers one user message and returns the completed turn. The first
// attempt carries up to the last 6 transcript messages with a wallet note
// prepended; if it fails for any reason, exactly one retry goes out with
// the bare message. Both failing collapses into ErrConnectivity.
func (c *Client) Send(ctx context.Context, sessionID, text string) (Turn, error) {
	history := c.recentHistory(sessionID)

	response, err := c.post(ctx, sessionID, c.fullPayload(history, text))
	if err != nil {
		c.log.Warn("delivery with history failed, retrying bare", zap.Error(err))
		response, err = c.post(ctx, sessionID, agentRequest{
			Messages:      []model.Message{{Role: model.RoleUser, Content: text}},
			WalletAddress: c.wallet,
		})
		if err != nil {
			return Turn{}, ErrConnectivity
		}
	}

	turn := c.completeTurn(ctx, response)
	c.persist(sessionID, text, turn)
	return turn, nil
}

func (c *Client) fullPayload(history []model.Message, text string) agentRequest {
	messages := make([]model.Message, 0, len(history)+2)
	// The wallet note goes first so it reads as early context, before any
	// history that might contradict it.
	if c.wallet != "" {
		messages = append(messages, model.Message{
			Role:    model.RoleSystem,
			Content: "User's connected wallet address is: " + c.wallet,
		})
	}
	messages = append(messages, history...)
	messages = append(messages, model.Message{Role: model.RoleUser, Content: text})
	return agentRequest{Messages: messages, WalletAddress: c.wallet}
}

func (c *Client) recentHistory(sessionID string) []model.Message {
	if c.store == nil {
		return nil
	}
	history, err := c.store.History(sessionID, historyWindow)
	if err != nil {
		c.log.Warn("load session history failed", zap.Error(err))
		return nil
	}
	for i := range history {
		if history[i].Content == "" {
			history[i].Content = " "
		}
	}
	return history
}

func (c *Client) post(ctx context.Context, sessionID string, payload agentRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", agenterr.Wrap(agenterr.CodeInternal, "encode agent request", err)
	}
	endpoint := fmt.Sprintf("%s/agent/%s", c.agentURL, url.PathEscape(sessionID))
	return httpx.DoBodyText(ctx, c.http, http.MethodPost, endpoint, body,
		map[string]string{"Content-Type": "application/json"})
}

// completeTurn extracts the embedded result and, for a pending transaction,
// runs the signing round-trip and folds the hash back into the payload.
func (c *Client) completeTurn(ctx context.Context, response string) Turn {
	data := ExtractData(response)
	text := StripData(response)
	if text == "" {
		text = "Here is the information you requested:"
	}

	tx, pending := pendingTransaction(data)
	if pending && c.signer != nil {
		hash, err := c.signer.Sign(ctx, tx)
		if err != nil {
			c.log.Warn("transaction signing failed", zap.Error(err))
			text += "\n\n❌ Transaction failed: " + err.Error()
		} else {
			data["transactionHash"] = hash
			data["status"] = model.TradeStatusExecuted
			text += "\n\n✅ Transaction sent! Hash: " + hash
		}
	}
	return Turn{Text: text, Data: data}
}

func (c *Client) persist(sessionID, userText string, turn Turn) {
	if c.store == nil {
		return
	}
	if err := c.store.Append(sessionID, model.Message{Role: model.RoleUser, Content: userText}); err != nil {
		c.log.Warn("persist user message failed", zap.Error(err))
		return
	}
	// The data artifact rides along so the final transaction status and
	// hash survive beyond the prose note.
	msg := model.Message{Role: model.RoleAssistant, Content: turn.Text}
	if err := c.store.AppendWithData(sessionID, msg, turn.Data); err != nil {
		c.log.Warn("persist assistant message failed", zap.Error(err))
	}
}

func pendingTransaction(data map[string]any) (model.TransactionRequest, bool) {
	if data == nil || data["status"] != model.TradeStatusPendingSignature {
		return model.TransactionRequest{}, false
	}
	raw, ok := data["transactionRequest"].(map[string]any)
	if !ok {
		return model.TransactionRequest{}, false
	}
	tx := model.TransactionRequest{}
	tx.To, _ = raw["to"].(string)
	tx.Value, _ = raw["value"].(string)
	tx.Data, _ = raw["data"].(string)
	if chainID, ok := raw["chainId"].(float64); ok {
		tx.ChainID = int64(chainID)
	}
	return tx, true
}
