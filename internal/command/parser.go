package command

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Parsed is the result of scanning one model response for a command.
type Parsed struct {
	HasCommand bool
	Command    Command
	// TextBefore and TextAfter are the prose around the command fence,
	// trimmed. When no command is found TextBefore holds the whole text.
	TextBefore string
	TextAfter  string
}

// Only the first fenced block is considered; any later blocks stay in
// TextAfter as plain text.
var fenceRe = regexp.MustCompile("```json\\s*\\n([\\s\\S]*?)\\n```")

// Parse extracts at most one fenced JSON command from response text.
// Parsing fails open: malformed JSON or a block without action/params is
// treated as no command at all, and the surrounding prose is preserved.
func Parse(response string) Parsed {
	loc := fenceRe.FindStringSubmatchIndex(response)
	if loc == nil {
		return Parsed{TextBefore: response}
	}

	raw := strings.TrimSpace(response[loc[2]:loc[3]])
	var cmd Command
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		return Parsed{TextBefore: response}
	}
	if cmd.Action == "" || cmd.Params == nil {
		return Parsed{TextBefore: response}
	}

	return Parsed{
		HasCommand: true,
		Command:    cmd,
		TextBefore: strings.TrimSpace(response[:loc[0]]),
		TextAfter:  strings.TrimSpace(response[loc[1]:]),
	}
}
