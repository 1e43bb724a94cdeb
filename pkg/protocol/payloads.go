package protocol

// RegisterSessionPayload announces a CLI-host session to the daemon.
// Re-registering a live session refreshes timestamps but keeps bindings.
type RegisterSessionPayload struct {
	SessionID string `json:"sessionId"`
	CLI       string `json:"cli"` // command name as invoked (e.g. "claude")
	Cwd       string `json:"cwd"`
	ProxyMode bool   `json:"proxyMode,omitempty"`
}

// PtyOutputPayload carries one chunk of raw PTY bytes, UTF-8 best effort.
type PtyOutputPayload struct {
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
}

// SessionEndedPayload terminates a session.
type SessionEndedPayload struct {
	SessionID string `json:"sessionId"`
}

// ToolUseBlock is one tool invocation extracted from a provider stream.
// Input is the raw accumulated JSON string, never parsed by the assembler.
type ToolUseBlock struct {
	Name  string `json:"name"`
	Input string `json:"input"`
}

// APIProxyEventPayload is one assembled AI turn captured by the in-CLI proxy.
type APIProxyEventPayload struct {
	SessionID     string         `json:"sessionId"`
	Provider      string         `json:"provider"` // "anthropic" | "openai"
	Model         string         `json:"model"`
	StopReason    string         `json:"stopReason"`
	TextContent   string         `json:"textContent"`
	ToolUseBlocks []ToolUseBlock `json:"toolUseBlocks,omitempty"`
	IsSuggestion  bool           `json:"isSuggestion"`
	CompletedAt   int64          `json:"completedAt"` // unix ms
}

// NotifyPayload is a completion hook signal from an AI tool (claude_notify /
// codex_notify). The session is matched by cwd, not by id: the hook process
// does not know the bridge session id.
type NotifyPayload struct {
	Cwd     string `json:"cwd"`
	Message string `json:"message"`
}

// FeishuInputPayload is chat text forwarded to the PTY as typed input.
// Enter retry hints work around Windows PTYs that swallow CR under load.
type FeishuInputPayload struct {
	SessionID          string   `json:"sessionId"`
	Text               string   `json:"text"`
	EnterRetryCount    int      `json:"enterRetryCount,omitempty"`
	EnterRetryInterval int      `json:"enterRetryInterval,omitempty"` // ms
	Images             []string `json:"images,omitempty"`             // local file paths
}

// Ack is the conventional response payload for side-effecting operations.
type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// SessionInfo is one row of the status response.
type SessionInfo struct {
	SessionID        string `json:"sessionId"`
	CLI              string `json:"cli"`
	Cwd              string `json:"cwd"`
	Status           string `json:"status"`
	InteractiveBotID string `json:"interactiveBotId,omitempty"`
	PushBotID        string `json:"pushBotId,omitempty"`
	PushEnabled      bool   `json:"pushEnabled"`
	ProxyMode        bool   `json:"proxyMode"`
	StartedAt        int64  `json:"startedAt"` // unix ms
	UpdatedAt        int64  `json:"updatedAt"`
}

// Warning is a user-visible connector warning surfaced on status.
type Warning struct {
	BotID   string `json:"botId"`
	Message string `json:"message"`
}

// StatusResponsePayload describes the daemon to the GUI / status command.
type StatusResponsePayload struct {
	Version   string        `json:"version"`
	PID       int           `json:"pid"`
	StartedAt int64         `json:"startedAt"`
	Sessions  []SessionInfo `json:"sessions"`
	Warnings  []Warning     `json:"warnings,omitempty"`
}

// InteractiveBotInfo mirrors config.InteractiveBot without secret material.
type InteractiveBotInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AppID     string `json:"appId"`
	HasSecret bool   `json:"hasSecret"`
	Healthy   bool   `json:"healthy"`
	Connected bool   `json:"connected"`
}

// PushBotInfo mirrors config.PushBot without secret material.
type PushBotInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	WebhookURL string `json:"webhookUrl"`
	HasSecret  bool   `json:"hasSecret"`
}

// ListBotsResponsePayload enumerates configured bots.
type ListBotsResponsePayload struct {
	Interactive []InteractiveBotInfo `json:"interactive"`
	Push        []PushBotInfo        `json:"push"`
}

// SaveBotRequestPayload upserts one bot. Kind selects the variant; secret
// fields arrive in plaintext and are encrypted by the config store.
type SaveBotRequestPayload struct {
	Kind       string `json:"kind"` // "interactive" | "push"
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	AppID      string `json:"appId,omitempty"`
	AppSecret  string `json:"appSecret,omitempty"`
	EncryptKey string `json:"encryptKey,omitempty"`
	WebhookURL string `json:"webhookUrl,omitempty"`
	SignSecret string `json:"signSecret,omitempty"`
}

// SaveBotResponsePayload acknowledges an upsert and returns the bot id.
type SaveBotResponsePayload struct {
	Ack
	ID string `json:"id,omitempty"`
}

// DeleteBotRequestPayload removes a bot by id (either variant).
type DeleteBotRequestPayload struct {
	ID string `json:"id"`
}

// BindBotRequestPayload binds a bot to a session. Kind as in SaveBot.
type BindBotRequestPayload struct {
	SessionID string `json:"sessionId"`
	BotID     string `json:"botId"`
	Kind      string `json:"kind"`
	// PushEnabled applies to push bindings only.
	PushEnabled bool `json:"pushEnabled,omitempty"`
}

// UnbindBotRequestPayload clears a binding of the given kind.
type UnbindBotRequestPayload struct {
	SessionID string `json:"sessionId"`
	Kind      string `json:"kind"`
}

// TestBotRequestPayload probes a bot's credentials / webhook target.
type TestBotRequestPayload struct {
	ID string `json:"id"`
}

// SetDefaultBotRequestPayload sets the default bot used for auto-binding.
type SetDefaultBotRequestPayload struct {
	Kind  string `json:"kind"`
	BotID string `json:"botId"` // empty clears the default
}

// DefaultsPayload mirrors config.Defaults.
type DefaultsPayload struct {
	DefaultInteractiveBotID string `json:"defaultInteractiveBotId,omitempty"`
	DefaultPushBotID        string `json:"defaultPushBotId,omitempty"`
}

// SettingsPayload is the non-bot portion of the configuration document as
// exchanged with the GUI (get_config / save_config).
type SettingsPayload struct {
	Reconnect *ReconnectSettings `json:"reconnect,omitempty"`
	Push      *PushSettings      `json:"push,omitempty"`
	Defaults  *DefaultsPayload   `json:"defaults,omitempty"`
	Input     *InputSettings     `json:"input,omitempty"`
}

// ReconnectSettings controls interactive-bot reconnection backoff.
type ReconnectSettings struct {
	MaxRetries        int     `json:"maxRetries"`
	InitialInterval   int     `json:"initialInterval"` // seconds
	BackoffMultiplier float64 `json:"backoffMultiplier"`
}

// PushSettings controls push-buffer coalescing.
type PushSettings struct {
	MergeWindowMs   int `json:"mergeWindowMs"`
	MaxMessageBytes int `json:"maxMessageBytes"`
}

// InputSettings carries the Windows Enter-retry hints.
type InputSettings struct {
	EnterRetryCount    int `json:"enterRetryCount"`
	EnterRetryInterval int `json:"enterRetryIntervalMs"`
}

// ToolConfigStatusPayload reports whether an AI tool's completion hook is
// wired to this daemon (check_codex_config / check_claude_config).
type ToolConfigStatusPayload struct {
	Ack
	Configured bool   `json:"configured"`
	Path       string `json:"path,omitempty"`
}
