// Package protocol defines the newline-delimited JSON wire protocol spoken
// over the daemon's local IPC endpoint.
//
// Every message is a single line:
//
//	{"type":"<discriminator>","payload":{...}}\n
//
// Events are one-way; control operations come in *_request / *_response
// pairs. Unknown types are ignored by both sides so that CLI hosts and
// daemons of slightly different versions can still interoperate.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Events from the CLI host to the daemon.
const (
	TypeRegisterSession = "register_session"
	TypePtyOutput       = "pty_output"
	TypeSessionEnded    = "session_ended"
	TypeAPIProxyEvent   = "api_proxy_event"
	TypeCodexNotify     = "codex_notify"
	TypeClaudeNotify    = "claude_notify"
)

// Event from the daemon to a CLI host: text to inject into the PTY.
const TypeFeishuInput = "feishu_input"

// Control request/response pairs (GUI and CLI subcommands).
const (
	TypeStatusRequest  = "status_request"
	TypeStatusResponse = "status_response"

	TypeStopRequest  = "stop_request"
	TypeStopResponse = "stop_response"

	TypeListBotsRequest  = "list_bots_request"
	TypeListBotsResponse = "list_bots_response"

	TypeSaveBotRequest  = "save_bot_request"
	TypeSaveBotResponse = "save_bot_response"

	TypeDeleteBotRequest  = "delete_bot_request"
	TypeDeleteBotResponse = "delete_bot_response"

	TypeBindBotRequest  = "bind_bot_request"
	TypeBindBotResponse = "bind_bot_response"

	TypeUnbindBotRequest  = "unbind_bot_request"
	TypeUnbindBotResponse = "unbind_bot_response"

	TypeTestBotRequest  = "test_bot_request"
	TypeTestBotResponse = "test_bot_response"

	TypeGetConfigRequest  = "get_config_request"
	TypeGetConfigResponse = "get_config_response"

	TypeSaveConfigRequest  = "save_config_request"
	TypeSaveConfigResponse = "save_config_response"

	TypeSetDefaultBotRequest  = "set_default_bot_request"
	TypeSetDefaultBotResponse = "set_default_bot_response"

	TypeGetDefaultsRequest  = "get_defaults_request"
	TypeGetDefaultsResponse = "get_defaults_response"

	TypeCheckCodexConfigRequest  = "check_codex_config_request"
	TypeCheckCodexConfigResponse = "check_codex_config_response"

	TypeSetupCodexConfigRequest  = "setup_codex_config_request"
	TypeSetupCodexConfigResponse = "setup_codex_config_response"

	TypeCheckClaudeConfigRequest  = "check_claude_config_request"
	TypeCheckClaudeConfigResponse = "check_claude_config_response"

	TypeSetupClaudeConfigRequest  = "setup_claude_config_request"
	TypeSetupClaudeConfigResponse = "setup_claude_config_response"
)

// Message is the wire envelope. Payload stays raw until the type is known.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals a message with its payload as a single LF-terminated line.
func Encode(msgType string, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s payload: %w", msgType, err)
		}
		raw = data
	}
	line, err := json.Marshal(Message{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", msgType, err)
	}
	return append(line, '\n'), nil
}

// Decode parses one line into a Message. The line may carry a trailing LF.
func Decode(line []byte) (*Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("protocol: empty line")
	}
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("protocol: parse: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("protocol: missing type discriminator")
	}
	return &msg, nil
}

// Into unmarshals the payload into dst. A missing payload leaves dst zeroed.
func (m *Message) Into(dst interface{}) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Payload, dst); err != nil {
		return fmt.Errorf("protocol: %s payload: %w", m.Type, err)
	}
	return nil
}

// ResponseType returns the paired *_response type for a *_request type,
// or "" if the type is not a request.
func ResponseType(requestType string) string {
	const reqSuffix = "_request"
	if len(requestType) > len(reqSuffix) && requestType[len(requestType)-len(reqSuffix):] == reqSuffix {
		return requestType[:len(requestType)-len(reqSuffix)] + "_response"
	}
	return ""
}
