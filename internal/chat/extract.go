package chat

import (
	"encoding/json"
	"regexp"
	"strings"
)

var dataFenceRe = regexp.MustCompile("```json\\n([\\s\\S]*?)\\n```")

// ExtractData pulls the structured payload out of a response's fenced JSON
// block. Returns nil when no block is present or it fails to parse.
func ExtractData(content string) map[string]any {
	match := dataFenceRe.FindStringSubmatch(content)
	if match == nil {
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(match[1]), &data); err != nil {
		return nil
	}
	return data
}

// StripData removes the first fenced JSON block so the remaining prose can
// be displayed on its own. Later blocks, if any, stay in place.
func StripData(content string) string {
	loc := dataFenceRe.FindStringIndex(content)
	if loc == nil {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(content[:loc[0]] + content[loc[1]:])
}
