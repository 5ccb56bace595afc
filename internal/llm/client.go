// Package llm talks to an OpenAI-compatible chat completion endpoint.
package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	agenterr "github.com/predixlabs/predix-agent/internal/errors"
	"github.com/predixlabs/predix-agent/internal/httpx"
	"github.com/predixlabs/predix-agent/internal/model"
)

// ModelClient produces one assistant completion for a conversation.
type ModelClient interface {
	Complete(ctx context.Context, system string, messages []model.Message) (string, error)
}

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	model   string
}

func New(httpClient *httpx.Client, baseURL, apiKey, modelName string) *Client {
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   modelName,
	}
}

type chatRequest struct {
	Model    string          `json:"model"`
	Messages []model.Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the system prompt plus conversation and returns the
// assistant's text. The system prompt always leads the message list.
func (c *Client) Complete(ctx context.Context, system string, messages []model.Message) (string, error) {
	payload := chatRequest{Model: c.model}
	if strings.TrimSpace(system) != "" {
		payload.Messages = append(payload.Messages, model.Message{Role: model.RoleSystem, Content: system})
	}
	payload.Messages = append(payload.Messages, messages...)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", agenterr.Wrap(agenterr.CodeInternal, "encode completion request", err)
	}
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	var resp chatResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/chat/completions", body, headers, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return "", agenterr.New(agenterr.CodeUnavailable, "model provider error: "+resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", agenterr.New(agenterr.CodeUnavailable, "model provider returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
