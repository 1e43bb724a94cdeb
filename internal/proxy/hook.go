package proxy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// nodeHookTemplate monkey-patches the Node HTTP clients so requests aimed at
// the real upstream are rewritten to the loopback proxy. Loaded via
// NODE_OPTIONS --require.
const nodeHookTemplate = `// generated; redirects %[1]s to %[2]s
const UPSTREAM = %[1]q;
const PROXY = %[2]q;

function rewrite(u) {
  if (typeof u === "string" && u.startsWith(UPSTREAM)) {
    return PROXY + u.slice(UPSTREAM.length);
  }
  return u;
}

if (typeof globalThis.fetch === "function") {
  const origFetch = globalThis.fetch;
  globalThis.fetch = function (input, init) {
    if (typeof input === "string") {
      input = rewrite(input);
    } else if (input && typeof input.url === "string") {
      const r = rewrite(input.url);
      if (r !== input.url) input = new Request(r, input);
    }
    return origFetch.call(this, input, init);
  };
}

for (const mod of ["http", "https"]) {
  const m = require(mod);
  for (const fn of ["request", "get"]) {
    const orig = m[fn];
    m[fn] = function (url, options, cb) {
      if (typeof url === "string") url = rewrite(url);
      else if (url instanceof URL) url = new URL(rewrite(url.href));
      return orig.call(this, url, options, cb);
    };
  }
}
`

// WriteNodeHook materializes the require hook under dir and returns its path.
func WriteNodeHook(dir, upstreamOrigin, proxyOrigin string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create hook dir: %w", err)
	}
	path := filepath.Join(dir, "redirect-hook.js")
	content := fmt.Sprintf(nodeHookTemplate, upstreamOrigin, proxyOrigin)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("write hook: %w", err)
	}
	return path, nil
}

// RedirectEnv returns env additions that steer the tool's outbound HTTP at
// the proxy. Node-runtime tools get the require hook; statically compiled
// tools get the standard proxy variables in both cases.
func RedirectEnv(tool, hookPath, proxyOrigin string, base []string) []string {
	env := append([]string(nil), base...)
	switch tool {
	case ToolCodex:
		env = append(env,
			"HTTP_PROXY="+proxyOrigin,
			"HTTPS_PROXY="+proxyOrigin,
			"http_proxy="+proxyOrigin,
			"https_proxy="+proxyOrigin,
		)
	default:
		opts := "--require " + hookPath
		if prev := lookupEnv(base, "NODE_OPTIONS"); prev != "" {
			opts = prev + " " + opts
		}
		env = setEnv(env, "NODE_OPTIONS", opts)
	}
	return env
}

func lookupEnv(env []string, key string) string {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return strings.TrimPrefix(kv, prefix)
		}
	}
	return ""
}

func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
