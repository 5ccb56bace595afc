package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/predixlabs/predix-agent/internal/httpx"
	"github.com/predixlabs/predix-agent/internal/model"
)

func TestCompleteSendsSystemPromptFirst(t *testing.T) {
	var captured struct {
		Model    string          `json:"model"`
		Messages []model.Message `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("expected bearer auth, got %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "hello there"}}]}`))
	}))
	defer srv.Close()

	client := New(httpx.New(5*time.Second, 0), srv.URL, "test-key", "gpt-4o-mini")
	out, err := client.Complete(context.Background(), "You are a market analyst.", []model.Message{
		{Role: model.RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != "hello there" {
		t.Errorf("expected completion text, got %q", out)
	}
	if captured.Model != "gpt-4o-mini" {
		t.Errorf("expected model forwarded, got %q", captured.Model)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != model.RoleSystem {
		t.Errorf("expected system message first, got %+v", captured.Messages)
	}
}

func TestCompleteProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error": {"message": "model overloaded"}}`))
	}))
	defer srv.Close()

	client := New(httpx.New(5*time.Second, 0), srv.URL, "", "gpt-4o-mini")
	_, err := client.Complete(context.Background(), "", []model.Message{{Role: model.RoleUser, Content: "hi"}})
	if err == nil {
		t.Fatal("expected error for provider-reported failure")
	}
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	client := New(httpx.New(5*time.Second, 0), srv.URL, "", "gpt-4o-mini")
	_, err := client.Complete(context.Background(), "", []model.Message{{Role: model.RoleUser, Content: "hi"}})
	if err == nil {
		t.Fatal("expected error when provider returns no choices")
	}
}
