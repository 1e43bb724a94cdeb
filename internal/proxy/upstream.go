// Package proxy is the in-host loopback interceptor. It sits between a
// wrapped AI tool and its real upstream, forwards traffic verbatim, and tees
// event streams into a provider assembler so the daemon receives one event
// per completed AI turn.
package proxy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Wrapped tool identities.
const (
	ToolClaude = "claude"
	ToolCodex  = "codex"
)

// Provider default origins.
const (
	DefaultAnthropicOrigin = "https://api.anthropic.com"
	DefaultOpenAIOrigin    = "https://api.openai.com"
)

// SuggestionToken marks request bodies issued for inline suggestions rather
// than user turns.
const SuggestionToken = "SUGGESTION MODE"

// ToolIdentity derives the tool name from an executable path: basename with
// .exe/.cmd/.bat stripped, lower-cased.
func ToolIdentity(execPath string) string {
	name := strings.ToLower(filepath.Base(execPath))
	for _, ext := range []string{".exe", ".cmd", ".bat"} {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}

// ProviderFor maps a tool identity to its assembler provider.
func ProviderFor(tool string) string {
	if tool == ToolCodex {
		return "openai"
	}
	return "anthropic"
}

// ResolveUpstream determines the upstream origin for a tool:
// environment variable first, then (for claude) the settings file's env
// block, then the provider default.
func ResolveUpstream(tool string, getenv func(string) string, home string) string {
	switch tool {
	case ToolCodex:
		if v := getenv("OPENAI_BASE_URL"); v != "" {
			return strings.TrimRight(v, "/")
		}
		return DefaultOpenAIOrigin
	default:
		if v := getenv("ANTHROPIC_BASE_URL"); v != "" {
			return strings.TrimRight(v, "/")
		}
		if v := claudeSettingsBaseURL(home); v != "" {
			return strings.TrimRight(v, "/")
		}
		return DefaultAnthropicOrigin
	}
}

// claudeSettingsBaseURL reads ~/.claude/settings.json and returns the
// env-block ANTHROPIC_BASE_URL entry, if any.
func claudeSettingsBaseURL(home string) string {
	data, err := os.ReadFile(filepath.Join(home, ".claude", "settings.json"))
	if err != nil {
		return ""
	}
	var settings struct {
		Env map[string]string `json:"env"`
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return ""
	}
	return settings.Env["ANTHROPIC_BASE_URL"]
}
