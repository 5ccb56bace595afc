package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/predixlabs/predix-agent/internal/httpx"
	"github.com/predixlabs/predix-agent/internal/model"
	"github.com/predixlabs/predix-agent/internal/session"
)

const testWallet = "0x1234567890abcdef1234567890abcdef12345678"

func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	tmp := t.TempDir()
	store, err := session.OpenStore(filepath.Join(tmp, "s.db"), filepath.Join(tmp, "s.lock"))
	if err != nil {
		t.Fatalf("open session store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func decodeRequest(t *testing.T, r *http.Request) agentRequest {
	t.Helper()
	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decode agent request: %v", err)
	}
	return req
}

func TestSendPrependsWalletNoteAndTrimsHistory(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 10; i++ {
		_ = store.Append("s1", model.Message{Role: model.RoleUser, Content: "old"})
	}

	var captured agentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agent/s1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		captured = decodeRequest(t, r)
		_, _ = w.Write([]byte("All set."))
	}))
	defer srv.Close()

	client := New(httpx.New(5*time.Second, 0), srv.URL, testWallet, store, nil, nil)
	turn, err := client.Send(context.Background(), "s1", "check bitcoin")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if turn.Text != "All set." {
		t.Errorf("unexpected turn text %q", turn.Text)
	}

	// system note + 6 history + new user message
	if len(captured.Messages) != 8 {
		t.Fatalf("expected 8 messages, got %d", len(captured.Messages))
	}
	first := captured.Messages[0]
	if first.Role != model.RoleSystem || !strings.Contains(first.Content, testWallet) {
		t.Errorf("expected wallet note first, got %+v", first)
	}
	last := captured.Messages[len(captured.Messages)-1]
	if last.Role != model.RoleUser || last.Content != "check bitcoin" {
		t.Errorf("expected new message last, got %+v", last)
	}
}

func TestSendFallsBackToBareMessageAfterServerError(t *testing.T) {
	var requests []agentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, decodeRequest(t, r))
		if len(requests) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	store := newTestStore(t)
	_ = store.Append("s1", model.Message{Role: model.RoleUser, Content: "earlier"})

	client := New(httpx.New(5*time.Second, 0), srv.URL, testWallet, store, nil, nil)
	turn, err := client.Send(context.Background(), "s1", "hello")
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if turn.Text != "recovered" {
		t.Errorf("unexpected text %q", turn.Text)
	}
	if len(requests) != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", len(requests))
	}
	bare := requests[1]
	if len(bare.Messages) != 1 || bare.Messages[0].Content != "hello" {
		t.Errorf("expected bare retry payload, got %+v", bare.Messages)
	}
}

func TestSendBothAttemptsFailingIsOneGenericError(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(httpx.New(5*time.Second, 0), srv.URL, "", nil, nil, nil)
	_, err := client.Send(context.Background(), "s1", "hello")
	if !errors.Is(err, ErrConnectivity) {
		t.Fatalf("expected ErrConnectivity, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", attempts)
	}
}

type fakeSigner struct {
	hash string
	err  error
	tx   model.TransactionRequest
}

func (f *fakeSigner) Sign(ctx context.Context, tx model.TransactionRequest) (string, error) {
	f.tx = tx
	return f.hash, f.err
}

const pendingResponse = "Please sign.\n```json\n{\"status\": \"PENDING_SIGNATURE\", \"marketId\": \"m1\", \"transactionRequest\": {\"to\": \"0xToken\", \"value\": \"0x0\", \"data\": \"0x095ea7b3\", \"chainId\": 137}}\n```"

func TestPendingSignatureFoldsHashIntoResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(pendingResponse))
	}))
	defer srv.Close()

	signer := &fakeSigner{hash: "0xdeadbeef"}
	client := New(httpx.New(5*time.Second, 0), srv.URL, testWallet, nil, signer, nil)
	turn, err := client.Send(context.Background(), "s1", "execute the trade")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if signer.tx.To != "0xToken" || signer.tx.ChainID != 137 {
		t.Errorf("unexpected transaction handed to signer: %+v", signer.tx)
	}
	if turn.Data["status"] != model.TradeStatusExecuted {
		t.Errorf("expected status folded to EXECUTED, got %v", turn.Data["status"])
	}
	if turn.Data["transactionHash"] != "0xdeadbeef" {
		t.Errorf("expected hash folded in, got %v", turn.Data["transactionHash"])
	}
	if !strings.Contains(turn.Text, "Transaction sent! Hash: 0xdeadbeef") {
		t.Errorf("expected confirmation in text, got %q", turn.Text)
	}
}

func TestSigningFailureKeepsPendingStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(pendingResponse))
	}))
	defer srv.Close()

	signer := &fakeSigner{err: errors.New("user rejected")}
	client := New(httpx.New(5*time.Second, 0), srv.URL, testWallet, nil, signer, nil)
	turn, err := client.Send(context.Background(), "s1", "execute the trade")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if turn.Data["status"] != model.TradeStatusPendingSignature {
		t.Errorf("expected status untouched on signing failure, got %v", turn.Data["status"])
	}
	if !strings.Contains(turn.Text, "Transaction failed: user rejected") {
		t.Errorf("expected failure note in text, got %q", turn.Text)
	}
}

func TestSendPersistsDataArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(pendingResponse))
	}))
	defer srv.Close()

	store := newTestStore(t)
	signer := &fakeSigner{hash: "0xdeadbeef"}
	client := New(httpx.New(5*time.Second, 0), srv.URL, testWallet, store, signer, nil)
	if _, err := client.Send(context.Background(), "s1", "execute the trade"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	entries, err := store.Entries("s1")
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected user+assistant entries, got %d", len(entries))
	}
	assistant := entries[1]
	if assistant.Data["status"] != model.TradeStatusExecuted {
		t.Errorf("expected folded status persisted, got %+v", assistant.Data)
	}
	if assistant.Data["transactionHash"] != "0xdeadbeef" {
		t.Errorf("expected transaction hash persisted, got %+v", assistant.Data)
	}
}

func TestSendPersistsTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Markets look stable."))
	}))
	defer srv.Close()

	store := newTestStore(t)
	client := New(httpx.New(5*time.Second, 0), srv.URL, "", store, nil, nil)
	if _, err := client.Send(context.Background(), "s1", "any news?"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	history, err := store.History("s1", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected user+assistant persisted, got %d", len(history))
	}
	if history[0].Role != model.RoleUser || history[1].Role != model.RoleAssistant {
		t.Errorf("unexpected transcript: %+v", history)
	}
}
