// Package toolcfg inspects and rewrites the AI tools' own configuration so
// their completion hooks call back into this daemon: the codex notify line
// in config.toml and the claude Stop hook in settings.json.
package toolcfg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manager resolves tool config files under one home directory and knows the
// executable to wire them to.
type Manager struct {
	home string
	exe  string
}

// New creates a manager. exe is the felay binary path the hooks should
// invoke; empty falls back to the current executable.
func New(home, exe string) *Manager {
	if exe == "" {
		if p, err := os.Executable(); err == nil {
			exe = p
		} else {
			exe = "felay"
		}
	}
	return &Manager{home: home, exe: exe}
}

func (m *Manager) codexConfigPath() string {
	return filepath.Join(m.home, ".codex", "config.toml")
}

func (m *Manager) claudeSettingsPath() string {
	return filepath.Join(m.home, ".claude", "settings.json")
}

// CheckCodex reports whether config.toml routes notifications to us.
func (m *Manager) CheckCodex() (configured bool, path string, err error) {
	path = m.codexConfigPath()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, path, nil
	}
	if err != nil {
		return false, path, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "notify") && strings.Contains(trimmed, "codex-notify") {
			return true, path, nil
		}
	}
	return false, path, nil
}

// SetupCodex writes or replaces the notify line in config.toml. Existing
// unrelated settings are preserved.
func (m *Manager) SetupCodex() error {
	path := m.codexConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create codex dir: %w", err)
	}

	notifyLine := fmt.Sprintf("notify = [%q, %q]", m.exe, "codex-notify")

	var lines []string
	if data, err := os.ReadFile(path); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "notify") {
				continue
			}
			lines = append(lines, line)
		}
		// Trim trailing blank lines before appending.
		for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
			lines = lines[:len(lines)-1]
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	lines = append(lines, notifyLine, "")
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}

type claudeHookMatcher struct {
	Matcher string           `json:"matcher,omitempty"`
	Hooks   []claudeHookSpec `json:"hooks"`
}

type claudeHookSpec struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// CheckClaude reports whether settings.json has a Stop hook invoking us.
func (m *Manager) CheckClaude() (configured bool, path string, err error) {
	path = m.claudeSettingsPath()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, path, nil
	}
	if err != nil {
		return false, path, err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, path, nil
	}
	var hooks map[string]json.RawMessage
	if raw, ok := doc["hooks"]; ok {
		json.Unmarshal(raw, &hooks)
	}
	stop, ok := hooks["Stop"]
	if !ok {
		return false, path, nil
	}
	return strings.Contains(string(stop), "claude-hook"), path, nil
}

// SetupClaude adds the Stop hook to settings.json, preserving every other
// key in the document.
func (m *Manager) SetupClaude() error {
	path := m.claudeSettingsPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create claude dir: %w", err)
	}

	doc := map[string]json.RawMessage{}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	hooks := map[string]json.RawMessage{}
	if raw, ok := doc["hooks"]; ok {
		json.Unmarshal(raw, &hooks)
	}

	stopEntry := []claudeHookMatcher{{
		Hooks: []claudeHookSpec{{
			Type:    "command",
			Command: fmt.Sprintf("%s claude-hook", m.exe),
		}},
	}}
	stopRaw, err := json.Marshal(stopEntry)
	if err != nil {
		return err
	}
	hooks["Stop"] = stopRaw

	hooksRaw, err := json.Marshal(hooks)
	if err != nil {
		return err
	}
	doc["hooks"] = hooksRaw

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(out, '\n'), 0o644)
}
