// Package server exposes the orchestration loop over HTTP: one plain-text
// agent endpoint per session plus a JSON service descriptor.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/predixlabs/predix-agent/internal/command"
	"github.com/predixlabs/predix-agent/internal/model"
	"github.com/predixlabs/predix-agent/internal/version"
)

// TurnRunner handles one user turn. Satisfied by agent.Loop.
type TurnRunner interface {
	Run(ctx context.Context, messages []model.Message) (string, error)
}

type Server struct {
	loop        TurnRunner
	log         *zap.Logger
	http        *http.Server
	turnTimeout time.Duration
}

// New builds the server. turnTimeout bounds one whole turn (all loop
// iterations together); zero means no deadline beyond the client's.
func New(addr string, loop TurnRunner, turnTimeout time.Duration, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{loop: loop, log: log, turnTimeout: turnTimeout}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/agent/", s.handleAgent)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           withCORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops. http.ErrServerClosed is
// filtered out so a clean shutdown reads as a nil return.
func (s *Server) ListenAndServe() error {
	s.log.Info("agent server listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("agent server shutting down")
	return s.http.Shutdown(ctx)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleRoot serves a small descriptor so health checks and the front end
// can discover the agent endpoint.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"service":   version.CLIName,
		"version":   version.CLIVersion,
		"endpoints": []string{"POST /agent/{sessionId}"},
		"actions":   command.Actions(),
	})
}

type agentPayload struct {
	Messages      []model.Message `json:"messages"`
	WalletAddress string          `json:"walletAddress"`
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := strings.TrimPrefix(r.URL.Path, "/agent/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	var payload agentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(payload.Messages) == 0 {
		http.Error(w, "messages required", http.StatusBadRequest)
		return
	}
	messages := withWalletNote(payload.Messages, payload.WalletAddress)

	requestID := newRequestID()
	start := time.Now()
	s.log.Info("agent turn started",
		zap.String("request", requestID),
		zap.String("session", sessionID),
		zap.Int("messages", len(messages)))

	ctx := r.Context()
	if s.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.turnTimeout)
		defer cancel()
	}

	response, err := s.loop.Run(ctx, messages)
	if err != nil {
		s.log.Error("agent turn failed",
			zap.String("request", requestID),
			zap.String("session", sessionID),
			zap.Error(err))
		http.Error(w, "error processing message", http.StatusInternalServerError)
		return
	}

	s.log.Info("agent turn completed",
		zap.String("request", requestID),
		zap.String("session", sessionID),
		zap.Duration("elapsed", time.Since(start)))

	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(response))
}

// withWalletNote makes sure the conversation carries the caller's wallet
// address. Clients that already prepend their own system note win.
func withWalletNote(messages []model.Message, wallet string) []model.Message {
	if wallet == "" || (len(messages) > 0 && messages[0].Role == model.RoleSystem) {
		return messages
	}
	out := make([]model.Message, 0, len(messages)+1)
	out = append(out, model.Message{
		Role:    model.RoleSystem,
		Content: "User's connected wallet address is: " + wallet,
	})
	return append(out, messages...)
}

func newRequestID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(buf)
}
