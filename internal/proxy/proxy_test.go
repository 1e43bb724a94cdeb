package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/zqq-nuli/felay/internal/sse"
)

type emitted struct {
	msg          sse.AssembledMessage
	isSuggestion bool
}

type recorder struct {
	mu  sync.Mutex
	got []emitted
}

func (r *recorder) emit(msg sse.AssembledMessage, isSuggestion bool) {
	r.mu.Lock()
	r.got = append(r.got, emitted{msg, isSuggestion})
	r.mu.Unlock()
}

func (r *recorder) all() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.got...)
}

func startProxy(t *testing.T, upstream, provider string, rec *recorder) string {
	t.Helper()
	p, err := New(upstream, provider, rec.emit, nil)
	if err != nil {
		t.Fatal(err)
	}
	origin, err := p.Start()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	return origin
}

func TestProxy_ForwardsVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Method != "POST" || r.URL.Path != "/v1/messages" || r.URL.RawQuery != "beta=true" {
			t.Errorf("request mangled: %s %s?%s", r.Method, r.URL.Path, r.URL.RawQuery)
		}
		if string(body) != `{"x":1}` {
			t.Errorf("body = %q", body)
		}
		if r.Header.Get("X-Api-Key") != "k" {
			t.Error("header lost")
		}
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("tea"))
	}))
	defer upstream.Close()

	rec := &recorder{}
	origin := startProxy(t, upstream.URL, "anthropic", rec)

	req, _ := http.NewRequest("POST", origin+"/v1/messages?beta=true", strings.NewReader(`{"x":1}`))
	req.Header.Set("X-Api-Key", "k")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTeapot || resp.Header.Get("X-Upstream") != "yes" {
		t.Errorf("status = %d, headers = %v", resp.StatusCode, resp.Header)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "tea" {
		t.Errorf("body = %q", body)
	}
	if len(rec.all()) != 0 {
		t.Error("non-stream responses must not emit")
	}
}

const anthropicStream = `event: message_start
data: {"type":"message_start","message":{"model":"claude-sonnet-4"}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi there"}}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"}}

event: message_stop
data: {"type":"message_stop"}

`

func TestProxy_TeesEventStream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(anthropicStream))
	}))
	defer upstream.Close()

	rec := &recorder{}
	origin := startProxy(t, upstream.URL, "anthropic", rec)

	resp, err := http.Post(origin+"/v1/messages", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	// Client sees the exact upstream bytes.
	if string(body) != anthropicStream {
		t.Errorf("stream not byte-for-byte: %q", body)
	}

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("emissions = %+v", got)
	}
	msg := got[0].msg
	if msg.TextContent != "Hi there" || msg.StopReason != "end_turn" || msg.Model != "claude-sonnet-4" {
		t.Errorf("msg = %+v", msg)
	}
	if got[0].isSuggestion {
		t.Error("plain request flagged as suggestion")
	}
}

func TestProxy_SuggestionFlag(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(anthropicStream))
	}))
	defer upstream.Close()

	rec := &recorder{}
	origin := startProxy(t, upstream.URL, "anthropic", rec)

	body := `{"system":"SUGGESTION MODE: complete the line"}`
	resp, err := http.Post(origin+"/v1/messages", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	got := rec.all()
	if len(got) != 1 || !got[0].isSuggestion {
		t.Errorf("emissions = %+v", got)
	}
}

func TestProxy_UpstreamError502(t *testing.T) {
	rec := &recorder{}
	// Port from a closed listener: connection refused.
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	origin := startProxy(t, deadURL, "anthropic", rec)
	resp, err := http.Get(origin + "/v1/models")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
}

func TestProxy_PartialStreamStillEmits(t *testing.T) {
	partial := `event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"cut off"}}

`
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(partial))
		// Connection closes without message_stop.
	}))
	defer upstream.Close()

	rec := &recorder{}
	origin := startProxy(t, upstream.URL, "anthropic", rec)

	resp, err := http.Get(origin + "/v1/messages")
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	got := rec.all()
	if len(got) != 1 || got[0].msg.TextContent != "cut off" {
		t.Errorf("emissions = %+v", got)
	}
}

func TestToolIdentity(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/usr/local/bin/claude", "claude"},
		{`C:\tools\claude.exe`, "claude"},
		{"codex.cmd", "codex"},
		{"CODEX.BAT", "codex"},
		{"/opt/ai/other-tool", "other-tool"},
	}
	for _, tt := range tests {
		if got := ToolIdentity(tt.in); got != tt.want {
			t.Errorf("ToolIdentity(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveUpstream(t *testing.T) {
	home := t.TempDir()

	env := func(vars map[string]string) func(string) string {
		return func(k string) string { return vars[k] }
	}

	if got := ResolveUpstream(ToolClaude, env(map[string]string{"ANTHROPIC_BASE_URL": "https://gw.corp/v1/"}), home); got != "https://gw.corp/v1" {
		t.Errorf("env override = %q", got)
	}
	if got := ResolveUpstream(ToolClaude, env(nil), home); got != DefaultAnthropicOrigin {
		t.Errorf("default = %q", got)
	}
	if got := ResolveUpstream(ToolCodex, env(map[string]string{"OPENAI_BASE_URL": "https://alt.example"}), home); got != "https://alt.example" {
		t.Errorf("codex env = %q", got)
	}
	if got := ResolveUpstream(ToolCodex, env(nil), home); got != DefaultOpenAIOrigin {
		t.Errorf("codex default = %q", got)
	}

	// Settings-file fallback for claude.
	dir := filepath.Join(home, ".claude")
	os.MkdirAll(dir, 0o755)
	os.WriteFile(filepath.Join(dir, "settings.json"), []byte(`{"env":{"ANTHROPIC_BASE_URL":"https://from-settings"}}`), 0o644)
	if got := ResolveUpstream(ToolClaude, env(nil), home); got != "https://from-settings" {
		t.Errorf("settings fallback = %q", got)
	}
}

func TestRedirectEnv(t *testing.T) {
	base := []string{"PATH=/bin", "NODE_OPTIONS=--max-old-space-size=4096"}

	env := RedirectEnv(ToolClaude, "/tmp/hook.js", "http://127.0.0.1:1234", base)
	if got := lookupEnv(env, "NODE_OPTIONS"); got != "--max-old-space-size=4096 --require /tmp/hook.js" {
		t.Errorf("NODE_OPTIONS = %q", got)
	}

	env = RedirectEnv(ToolCodex, "", "http://127.0.0.1:1234", nil)
	for _, k := range []string{"HTTP_PROXY", "HTTPS_PROXY", "http_proxy", "https_proxy"} {
		if lookupEnv(env, k) != "http://127.0.0.1:1234" {
			t.Errorf("%s not set: %v", k, env)
		}
	}
}

func TestWriteNodeHook(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteNodeHook(dir, "https://api.anthropic.com", "http://127.0.0.1:9")
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"https://api.anthropic.com"`, `"http://127.0.0.1:9"`, "globalThis.fetch"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("hook missing %q", want)
		}
	}
}
