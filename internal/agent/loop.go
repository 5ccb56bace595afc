// Package agent drives the model-command orchestration loop: one user turn
// becomes a bounded sequence of model call, command parse, validate,
// execute, continue-or-terminate steps.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/predixlabs/predix-agent/internal/command"
	agenterr "github.com/predixlabs/predix-agent/internal/errors"
	"github.com/predixlabs/predix-agent/internal/llm"
	"github.com/predixlabs/predix-agent/internal/model"
)

// MaxIterations bounds model calls per turn. Three allows one full
// fetch, analyze, confirm chain while capping latency and cost.
const MaxIterations = 3

// CommandExecutor runs one validated command. Satisfied by
// executor.Executor; tests substitute fakes.
type CommandExecutor interface {
	Execute(ctx context.Context, cmd command.Command) model.CommandResult
}

type Loop struct {
	model llm.ModelClient
	exec  CommandExecutor
	log   *zap.Logger
}

func New(modelClient llm.ModelClient, exec CommandExecutor, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{model: modelClient, exec: exec, log: log}
}

// step is the tagged outcome of one iteration: either the turn terminates
// with a response, or the loop continues with an extended conversation.
type step struct {
	terminate bool
	response  string
}

func terminate(response string) step { return step{terminate: true, response: response} }

// turnState is the transient state of one user turn. The conversation slice
// is owned exclusively by this turn; callers never see intermediate
// mutations.
type turnState struct {
	conversation []model.Message
	lastResult   any
}

// Run handles one user turn. messages is the conversation so far, ending
// with the new user message. The returned text may carry a trailing fenced
// JSON block with the last command result for the caller to render.
func (l *Loop) Run(ctx context.Context, messages []model.Message) (string, error) {
	state := &turnState{conversation: append([]model.Message(nil), messages...)}

	for iteration := 1; iteration <= MaxIterations; iteration++ {
		l.log.Debug("loop iteration", zap.Int("iteration", iteration))

		response, err := l.model.Complete(ctx, SystemPrompt, state.conversation)
		if err != nil {
			return "", agenterr.Wrap(agenterr.CodeUnavailable, "model call failed", err)
		}

		outcome := l.advance(ctx, state, response, iteration)
		if outcome.terminate {
			return outcome.response, nil
		}
	}

	// Unreachable: the final iteration always terminates in advance. Kept
	// as a guard so a future edit cannot turn the loop unbounded.
	return "Maximum iterations reached", nil
}

// advance runs the parse, validate, execute, decide portion of one
// iteration and reports whether the turn is over.
func (l *Loop) advance(ctx context.Context, state *turnState, response string, iteration int) step {
	parsed := command.Parse(response)

	if !parsed.HasCommand {
		// Plain answer. If an earlier iteration produced a result, append
		// it so the caller can still render it.
		final := parsed.TextBefore
		if state.lastResult != nil {
			final += "\n\n" + fencedJSON(state.lastResult)
		}
		return terminate(final)
	}

	validation := command.Validate(parsed.Command)
	if !validation.Valid {
		l.log.Warn("invalid command", zap.String("action", parsed.Command.Action), zap.String("error", validation.Error))
		// Validation failures are never retried within a turn.
		return terminate(joinSegments(parsed.TextBefore, "❌ Error: "+validation.Error, parsed.TextAfter))
	}

	result := l.exec.Execute(ctx, parsed.Command)
	if result.Success {
		state.lastResult = result.Data
	}

	if iteration >= MaxIterations || !result.Success {
		var resultText string
		if result.Success {
			resultText = "✅ **Command Result:**\n" + fencedJSON(result.Data)
		} else {
			resultText = "❌ **Error:** " + result.Error
		}
		return terminate(joinSegments(parsed.TextBefore, resultText, parsed.TextAfter))
	}

	// Feed the result back as a synthetic user message and go around again.
	state.conversation = append(state.conversation,
		model.Message{Role: model.RoleAssistant, Content: response},
		model.Message{
			Role: model.RoleUser,
			Content: "Command executed successfully. Result:\n" + fencedJSON(result.Data) +
				"\n\nPlease analyze this data and provide your insights to the user.",
		},
	)
	return step{}
}

func fencedJSON(v any) string {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		buf = []byte(fmt.Sprintf("%q", fmt.Sprint(v)))
	}
	return "```json\n" + string(buf) + "\n```"
}

// joinSegments stitches the prose around a command fence back together with
// the outcome block in the fence's place, skipping empty segments.
func joinSegments(before, middle, after string) string {
	out := middle
	if before != "" {
		out = before + "\n\n" + out
	}
	if after != "" {
		out = out + "\n\n" + after
	}
	return out
}
