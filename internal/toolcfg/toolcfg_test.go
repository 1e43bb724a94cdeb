package toolcfg

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCodex_CheckAndSetup(t *testing.T) {
	home := t.TempDir()
	m := New(home, "/usr/local/bin/felay")

	configured, path, err := m.CheckCodex()
	if err != nil || configured {
		t.Fatalf("fresh home: configured=%v err=%v", configured, err)
	}
	if path != filepath.Join(home, ".codex", "config.toml") {
		t.Errorf("path = %q", path)
	}

	if err := m.SetupCodex(); err != nil {
		t.Fatal(err)
	}
	configured, _, err = m.CheckCodex()
	if err != nil || !configured {
		t.Errorf("after setup: configured=%v err=%v", configured, err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `notify = ["/usr/local/bin/felay", "codex-notify"]`) {
		t.Errorf("config.toml = %s", data)
	}
}

func TestCodex_SetupPreservesOtherSettings(t *testing.T) {
	home := t.TempDir()
	m := New(home, "felay")
	path := filepath.Join(home, ".codex", "config.toml")
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, []byte("model = \"o3\"\nnotify = [\"old-tool\"]\n"), 0o644)

	if err := m.SetupCodex(); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	s := string(data)
	if !strings.Contains(s, `model = "o3"`) {
		t.Error("unrelated setting lost")
	}
	if strings.Contains(s, "old-tool") {
		t.Error("stale notify line survived")
	}
	if strings.Count(s, "notify") != 1 {
		t.Errorf("duplicate notify lines:\n%s", s)
	}
}

func TestClaude_CheckAndSetup(t *testing.T) {
	home := t.TempDir()
	m := New(home, "/opt/felay")

	configured, _, err := m.CheckClaude()
	if err != nil || configured {
		t.Fatalf("fresh home: configured=%v err=%v", configured, err)
	}

	if err := m.SetupClaude(); err != nil {
		t.Fatal(err)
	}
	configured, path, err := m.CheckClaude()
	if err != nil || !configured {
		t.Errorf("after setup: configured=%v err=%v", configured, err)
	}

	var doc map[string]json.RawMessage
	data, _ := os.ReadFile(path)
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("settings.json not valid json: %v", err)
	}
	if !strings.Contains(string(doc["hooks"]), "/opt/felay claude-hook") {
		t.Errorf("hooks = %s", doc["hooks"])
	}
}

func TestClaude_SetupPreservesDocument(t *testing.T) {
	home := t.TempDir()
	m := New(home, "felay")
	path := filepath.Join(home, ".claude", "settings.json")
	os.MkdirAll(filepath.Dir(path), 0o755)
	existing := `{"env":{"ANTHROPIC_BASE_URL":"https://gw"},"hooks":{"PreToolUse":[{"hooks":[{"type":"command","command":"lint"}]}]}}`
	os.WriteFile(path, []byte(existing), 0o644)

	if err := m.SetupClaude(); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	s := string(data)
	for _, want := range []string{"ANTHROPIC_BASE_URL", "PreToolUse", "claude-hook"} {
		if !strings.Contains(s, want) {
			t.Errorf("settings missing %s:\n%s", want, s)
		}
	}
}
