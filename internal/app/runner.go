// Package app wires the CLI: configuration, shared clients, and the cobra
// command tree for serving the agent and querying market data directly.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/predixlabs/predix-agent/internal/agent"
	"github.com/predixlabs/predix-agent/internal/cache"
	"github.com/predixlabs/predix-agent/internal/chat"
	"github.com/predixlabs/predix-agent/internal/command"
	"github.com/predixlabs/predix-agent/internal/config"
	agenterr "github.com/predixlabs/predix-agent/internal/errors"
	"github.com/predixlabs/predix-agent/internal/executor"
	"github.com/predixlabs/predix-agent/internal/httpx"
	"github.com/predixlabs/predix-agent/internal/llm"
	"github.com/predixlabs/predix-agent/internal/model"
	"github.com/predixlabs/predix-agent/internal/out"
	"github.com/predixlabs/predix-agent/internal/policy"
	"github.com/predixlabs/predix-agent/internal/polymarket"
	"github.com/predixlabs/predix-agent/internal/schema"
	"github.com/predixlabs/predix-agent/internal/server"
	"github.com/predixlabs/predix-agent/internal/session"
	"github.com/predixlabs/predix-agent/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	settings    config.Settings
	cache       *cache.Store
	markets     polymarket.Provider
	root        *cobra.Command
	lastCommand string
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	if state.cache != nil {
		_ = state.cache.Close()
	}
	if err == nil {
		return 0
	}
	state.renderError(err)
	return agenterr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Prediction-market agent server and CLI",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return agenterr.Wrap(agenterr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.lastCommand = trimRootPath(cmd.CommandPath())

			// version and schema never talk to upstreams; don't touch
			// the cache.
			if cmd.Name() == "version" || cmd.Name() == "schema" {
				return nil
			}

			if s.markets == nil {
				httpClient := httpx.New(settings.Timeout, settings.Retries)
				client := polymarket.New(httpClient, settings.MarketAPIBase)
				s.markets = client
				if settings.CacheEnabled {
					store, err := cache.Open(settings.CachePath, settings.CacheLockPath)
					if err != nil {
						return agenterr.Wrap(agenterr.CodeInternal, "open cache", err)
					}
					s.cache = store
					s.markets = polymarket.NewCached(client, store, settings.CacheTTL)
				}
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return agenterr.Wrap(agenterr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Upstream request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per upstream request")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable cache reads and writes")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")

	cmd.AddCommand(s.newServeCommand())
	cmd.AddCommand(s.newChatCommand())
	cmd.AddCommand(s.newSessionsCommand())
	cmd.AddCommand(s.newMarketsCommand())
	cmd.AddCommand(s.newHistoryCommand())
	cmd.AddCommand(s.newAnalyzeCommand())
	cmd.AddCommand(s.newPortfolioCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(newVersionCommand())

	s.root = cmd
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return agenterr.Wrap(agenterr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(s.lastCommand, data)
		},
	}
}

func (s *runtimeState) newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger()
			if err != nil {
				return agenterr.Wrap(agenterr.CodeInternal, "init logger", err)
			}
			defer func() { _ = log.Sync() }()

			settings := s.settings
			if settings.ModelAPIKey == "" {
				return agenterr.New(agenterr.CodeUsage, "model API key required; set PREDIX_MODEL_API_KEY or model.api_key")
			}

			httpClient := httpx.New(settings.Timeout, settings.Retries)
			modelClient := llm.New(httpClient, settings.ModelBaseURL, settings.ModelAPIKey, settings.ModelName)
			exec := executor.New(s.markets, policy.Policy{
				TradesEnabled:  settings.TradesEnabled,
				AllowedActions: settings.AllowedActions,
			}, log)
			loop := agent.New(modelClient, exec, log)
			// A turn is up to MaxIterations upstream calls plus overhead.
			turnTimeout := settings.Timeout * time.Duration(agent.MaxIterations+1)
			srv := server.New(settings.ListenAddr, loop, turnTimeout, log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				if err != nil {
					return agenterr.Wrap(agenterr.CodeInternal, "agent server", err)
				}
				return nil
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return agenterr.Wrap(agenterr.CodeInternal, "shutdown agent server", err)
				}
				return <-errCh
			}
		},
	}
	cmd.Flags().StringVar(&s.flags.ListenAddr, "listen", "", "Listen address (default 127.0.0.1:8787)")
	cmd.Flags().BoolVar(&s.flags.EnableTrades, "enable-trades", false, "Allow execute_trade commands")
	cmd.Flags().StringSliceVar(&s.flags.AllowedActions, "allowed-actions", nil, "Restrict the agent to these actions")
	cmd.Flags().StringVar(&s.flags.Model, "model", "", "Model name for completions")
	return cmd
}

func (s *runtimeState) newChatCommand() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send one message to a running agent server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := s.settings
			store, err := session.OpenStore(settings.SessionPath, settings.SessionLockPath)
			if err != nil {
				return agenterr.Wrap(agenterr.CodeInternal, "open session store", err)
			}
			defer func() { _ = store.Close() }()

			// Zero transport retries: the chat client's own two-stage
			// delivery is the retry policy.
			httpClient := httpx.New(settings.Timeout, 0)
			client := chat.New(httpClient, settings.AgentURL, settings.WalletAddress, store, nil, nil)

			turn, err := client.Send(cmd.Context(), sessionID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(s.runner.stdout, turn.Text)
			if turn.Data != nil && settings.OutputMode == "json" {
				return s.emitSuccess("chat", turn.Data)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "default", "Session id for transcript context")
	cmd.Flags().StringVar(&s.flags.Wallet, "wallet", "", "Wallet address injected as context")
	cmd.Flags().StringVar(&s.flags.AgentURL, "agent-url", "", "Agent server base URL")
	return cmd
}

func (s *runtimeState) newSessionsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List chat sessions by most recent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := s.settings
			store, err := session.OpenStore(settings.SessionPath, settings.SessionLockPath)
			if err != nil {
				return agenterr.Wrap(agenterr.CodeInternal, "open session store", err)
			}
			defer func() { _ = store.Close() }()

			ids, err := store.Sessions(limit)
			if err != nil {
				return agenterr.Wrap(agenterr.CodeInternal, "list sessions", err)
			}
			return s.emitSuccess(s.lastCommand, ids)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of sessions to list")
	return cmd
}

func (s *runtimeState) newMarketsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "markets <query>",
		Short: "Search prediction markets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext(cmd)
			defer cancel()
			markets, err := s.markets.Search(ctx, strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			return s.emitSuccess(s.lastCommand, markets)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of markets to return")
	return cmd
}

func (s *runtimeState) newHistoryCommand() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "history <marketId>",
		Short: "Price history for a market",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext(cmd)
			defer cancel()
			exec := executor.New(s.markets, policy.Policy{}, nil)
			result := exec.Execute(ctx, executorCommand(command.ActionGetMarketHistory, map[string]any{
				"marketId": args[0],
				"days":     float64(days),
			}))
			return s.emitResult(result)
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Days of history")
	return cmd
}

func (s *runtimeState) newAnalyzeCommand() *cobra.Command {
	var balance float64
	var risk string
	cmd := &cobra.Command{
		Use:   "analyze <marketId>",
		Short: "Trading recommendation for a market",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext(cmd)
			defer cancel()
			exec := executor.New(s.markets, policy.Policy{}, nil)
			result := exec.Execute(ctx, executorCommand(command.ActionAnalyzePrediction, map[string]any{
				"marketId":      args[0],
				"userBalance":   balance,
				"riskTolerance": risk,
			}))
			return s.emitResult(result)
		},
	}
	cmd.Flags().Float64Var(&balance, "balance", 1000, "Available balance for sizing")
	cmd.Flags().StringVar(&risk, "risk", "moderate", "Risk tolerance: conservative, moderate or aggressive")
	return cmd
}

func (s *runtimeState) newPortfolioCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portfolio <walletAddress>",
		Short: "Positions and P&L for a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext(cmd)
			defer cancel()
			exec := executor.New(s.markets, policy.Policy{}, nil)
			result := exec.Execute(ctx, executorCommand(command.ActionGetPortfolio, map[string]any{
				"walletAddress": args[0],
			}))
			return s.emitResult(result)
		},
	}
	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), s.settings.Timeout)
}

func (s *runtimeState) emitResult(result model.CommandResult) error {
	if !result.Success {
		return agenterr.New(agenterr.CodeUnavailable, result.Error)
	}
	return s.emitSuccess(s.lastCommand, result.Data)
}

func (s *runtimeState) emitSuccess(commandPath string, data any) error {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    data,
		Error:   nil,
		Meta: model.EnvelopeMeta{
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(err error) {
	commandPath := s.lastCommand
	if commandPath == "" {
		commandPath = version.CLIName
	}
	message := err.Error()
	code := agenterr.ExitCode(err)
	if cErr, ok := agenterr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
	}
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Error:   &model.ErrorBody{Code: code, Message: message},
		Meta: model.EnvelopeMeta{
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
		},
	}
	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func executorCommand(action string, params map[string]any) command.Command {
	return command.Command{Action: action, Params: params}
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("PREDIX_DEBUG") != "" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := agenterr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return agenterr.Wrap(agenterr.CodeUsage, "invalid command input", err)
	}
	return agenterr.Wrap(agenterr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
