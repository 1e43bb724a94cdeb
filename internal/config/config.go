// Package config owns the on-disk configuration document at
// ~/.felay/config.json. All secret fields pass through the secret store at
// this boundary: encrypted with an "enc:" prefix on disk, plaintext in
// memory, never the other way around.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppDirName is the per-user state directory under $HOME.
const AppDirName = ".felay"

// InteractiveBot is a chat identity holding an outbound event stream. It can
// both receive user messages and post replies.
type InteractiveBot struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AppID      string `json:"appId"`
	AppSecret  string `json:"appSecret"`            // sensitive
	EncryptKey string `json:"encryptKey,omitempty"` // sensitive
}

// PushBot is a one-way webhook identity.
type PushBot struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	WebhookURL string `json:"webhookUrl"`
	SignSecret string `json:"signSecret,omitempty"` // sensitive
}

// Bots groups both bot lists.
type Bots struct {
	Interactive []InteractiveBot `json:"interactive"`
	Push        []PushBot        `json:"push"`
}

// Reconnect controls interactive connection retry backoff.
type Reconnect struct {
	MaxRetries        int     `json:"maxRetries"`
	InitialInterval   int     `json:"initialInterval"` // seconds
	BackoffMultiplier float64 `json:"backoffMultiplier"`
}

// Push controls push-buffer coalescing and message sizing.
type Push struct {
	MergeWindowMs   int `json:"mergeWindowMs"`
	MaxMessageBytes int `json:"maxMessageBytes"`
}

// Defaults names the bots auto-bound to newly registered sessions.
type Defaults struct {
	DefaultInteractiveBotID string `json:"defaultInteractiveBotId,omitempty"`
	DefaultPushBotID        string `json:"defaultPushBotId,omitempty"`
}

// Input carries PTY input delivery hints (Windows Enter retries).
type Input struct {
	EnterRetryCount    int `json:"enterRetryCount"`
	EnterRetryInterval int `json:"enterRetryIntervalMs"`
}

// Document is the full configuration document.
type Document struct {
	Bots      Bots      `json:"bots"`
	Reconnect Reconnect `json:"reconnect"`
	Push      Push      `json:"push"`
	Defaults  Defaults  `json:"defaults"`
	Input     Input     `json:"input"`
	// AckReaction is the emoji kind placed on user messages while a reply
	// is being collected. The service token, not a semantic name.
	AckReaction string `json:"ackReaction,omitempty"`
}

// Default returns a Document with sensible defaults.
func Default() *Document {
	return &Document{
		Bots: Bots{
			Interactive: []InteractiveBot{},
			Push:        []PushBot{},
		},
		Reconnect: Reconnect{
			MaxRetries:        5,
			InitialInterval:   2,
			BackoffMultiplier: 2,
		},
		Push: Push{
			MergeWindowMs:   2000,
			MaxMessageBytes: 20000,
		},
		Input: Input{
			EnterRetryCount:    3,
			EnterRetryInterval: 150,
		},
		AckReaction: "EYES",
	}
}

// Paths locates every file the daemon owns under the app dir.
type Paths struct {
	Dir        string
	ConfigPath string
	KeyPath    string
	LockPath   string
	SocketPath string
	ImagesDir  string
}

// DefaultPaths resolves the per-user layout. On Windows the IPC endpoint is
// a named pipe, not a filesystem path.
func DefaultPaths() (Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, err
	}
	return PathsIn(filepath.Join(home, AppDirName)), nil
}

// PathsIn builds the layout rooted at dir (tests point this at a temp dir).
func PathsIn(dir string) Paths {
	sock := filepath.Join(dir, "daemon.sock")
	if runtime.GOOS == "windows" {
		sock = `\\.\pipe\felay`
	}
	return Paths{
		Dir:        dir,
		ConfigPath: filepath.Join(dir, "config.json"),
		KeyPath:    filepath.Join(dir, ".master-key"),
		LockPath:   filepath.Join(dir, "daemon.json"),
		SocketPath: sock,
		ImagesDir:  filepath.Join(dir, "images"),
	}
}
