package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/titanous/json5"

	"github.com/zqq-nuli/felay/internal/secret"
)

// ErrBotNotFound is returned by delete/default-set/test lookups.
var ErrBotNotFound = errors.New("bot not found")

// Store serializes all access to the configuration document. Writers hold
// the mutex for the full read-modify-write-save cycle so no partial state is
// ever visible on disk.
type Store struct {
	path    string
	secrets *secret.Store

	mu  sync.RWMutex
	doc *Document
}

// Open loads the document (decrypting secrets), writing defaults when the
// file is absent or corrupt. Only a key-store failure is fatal upstream.
func Open(path string, secrets *secret.Store) (*Store, error) {
	s := &Store{path: path, secrets: secrets}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		s.doc = Default()
		if err := s.saveLocked(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	doc := Default()
	if err := json5.Unmarshal(data, doc); err != nil {
		slog.Warn("config file unreadable, rewriting defaults", "path", path, "error", err)
		s.doc = Default()
		if err := s.saveLocked(); err != nil {
			return nil, err
		}
		return s, nil
	}

	if err := s.applySecrets(doc, s.secrets.Decrypt); err != nil {
		return nil, fmt.Errorf("config: decrypt secrets: %w", err)
	}
	s.doc = doc
	return s, nil
}

// applySecrets maps fn over every sensitive field in place.
func (s *Store) applySecrets(doc *Document, fn func(string) (string, error)) error {
	for i := range doc.Bots.Interactive {
		b := &doc.Bots.Interactive[i]
		var err error
		if b.AppSecret, err = fn(b.AppSecret); err != nil {
			return err
		}
		if b.EncryptKey, err = fn(b.EncryptKey); err != nil {
			return err
		}
	}
	for i := range doc.Bots.Push {
		b := &doc.Bots.Push[i]
		var err error
		if b.SignSecret, err = fn(b.SignSecret); err != nil {
			return err
		}
	}
	return nil
}

// saveLocked writes the document with secrets encrypted, atomically
// (write temp then rename). Caller holds s.mu or has exclusive access.
func (s *Store) saveLocked() error {
	onDisk := s.cloneLocked()
	if err := s.applySecrets(onDisk, s.secrets.Encrypt); err != nil {
		return fmt.Errorf("config: encrypt secrets: %w", err)
	}

	data, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("config: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("config: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: rename: %w", err)
	}
	return nil
}

// cloneLocked deep-copies the in-memory document.
func (s *Store) cloneLocked() *Document {
	out := *s.doc
	out.Bots.Interactive = append([]InteractiveBot(nil), s.doc.Bots.Interactive...)
	out.Bots.Push = append([]PushBot(nil), s.doc.Bots.Push...)
	return &out
}

// Snapshot returns a deep copy safe to read without locking.
func (s *Store) Snapshot() *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloneLocked()
}

// FindInteractiveBot looks up an interactive bot by id.
func (s *Store) FindInteractiveBot(id string) (InteractiveBot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.doc.Bots.Interactive {
		if b.ID == id {
			return b, true
		}
	}
	return InteractiveBot{}, false
}

// FindPushBot looks up a push bot by id.
func (s *Store) FindPushBot(id string) (PushBot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.doc.Bots.Push {
		if b.ID == id {
			return b, true
		}
	}
	return PushBot{}, false
}

// UpsertInteractiveBot inserts or replaces by id; an empty id gets a fresh
// one. Returns the effective id.
func (s *Store) UpsertInteractiveBot(bot InteractiveBot) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bot.ID == "" {
		bot.ID = uuid.NewString()[:8]
	}
	replaced := false
	for i := range s.doc.Bots.Interactive {
		if s.doc.Bots.Interactive[i].ID == bot.ID {
			s.doc.Bots.Interactive[i] = bot
			replaced = true
			break
		}
	}
	if !replaced {
		s.doc.Bots.Interactive = append(s.doc.Bots.Interactive, bot)
	}
	return bot.ID, s.saveLocked()
}

// UpsertPushBot inserts or replaces by id; an empty id gets a fresh one.
func (s *Store) UpsertPushBot(bot PushBot) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bot.ID == "" {
		bot.ID = uuid.NewString()[:8]
	}
	replaced := false
	for i := range s.doc.Bots.Push {
		if s.doc.Bots.Push[i].ID == bot.ID {
			s.doc.Bots.Push[i] = bot
			replaced = true
			break
		}
	}
	if !replaced {
		s.doc.Bots.Push = append(s.doc.Bots.Push, bot)
	}
	return bot.ID, s.saveLocked()
}

// DeleteBot removes a bot from whichever list holds it and clears a matching
// default binding. Returns the kind deleted ("interactive" or "push").
func (s *Store) DeleteBot(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, b := range s.doc.Bots.Interactive {
		if b.ID == id {
			s.doc.Bots.Interactive = append(s.doc.Bots.Interactive[:i], s.doc.Bots.Interactive[i+1:]...)
			if s.doc.Defaults.DefaultInteractiveBotID == id {
				s.doc.Defaults.DefaultInteractiveBotID = ""
			}
			return "interactive", s.saveLocked()
		}
	}
	for i, b := range s.doc.Bots.Push {
		if b.ID == id {
			s.doc.Bots.Push = append(s.doc.Bots.Push[:i], s.doc.Bots.Push[i+1:]...)
			if s.doc.Defaults.DefaultPushBotID == id {
				s.doc.Defaults.DefaultPushBotID = ""
			}
			return "push", s.saveLocked()
		}
	}
	return "", ErrBotNotFound
}

// SetDefaultBot validates existence, then records the default of that kind.
// An empty id clears the default.
func (s *Store) SetDefaultBot(kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case "interactive":
		if id != "" && !s.hasInteractiveLocked(id) {
			return ErrBotNotFound
		}
		s.doc.Defaults.DefaultInteractiveBotID = id
	case "push":
		if id != "" && !s.hasPushLocked(id) {
			return ErrBotNotFound
		}
		s.doc.Defaults.DefaultPushBotID = id
	default:
		return fmt.Errorf("config: unknown bot kind %q", kind)
	}
	return s.saveLocked()
}

func (s *Store) hasInteractiveLocked(id string) bool {
	for _, b := range s.doc.Bots.Interactive {
		if b.ID == id {
			return true
		}
	}
	return false
}

func (s *Store) hasPushLocked(id string) bool {
	for _, b := range s.doc.Bots.Push {
		if b.ID == id {
			return true
		}
	}
	return false
}

// Settings is the non-bot portion of the document for SaveSettings. Nil
// sub-structs are preserved from the current document (GUI versions that
// predate defaults/input keep working).
type Settings struct {
	Reconnect *Reconnect
	Push      *Push
	Defaults  *Defaults
	Input     *Input
}

// SaveSettings replaces the non-bot portion of the document.
func (s *Store) SaveSettings(in Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.Reconnect != nil {
		s.doc.Reconnect = *in.Reconnect
	}
	if in.Push != nil {
		s.doc.Push = *in.Push
	}
	if in.Defaults != nil {
		s.doc.Defaults = *in.Defaults
	}
	if in.Input != nil {
		s.doc.Input = *in.Input
	}
	return s.saveLocked()
}

// Reload re-reads the document from disk, e.g. after an external edit seen
// by the watcher. Bots and defaults stay authoritative from the IPC surface:
// only reconnect/push/input settings are refreshed.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("config: reload: %w", err)
	}
	doc := Default()
	if err := json5.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("config: reload parse: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Reconnect = doc.Reconnect
	s.doc.Push = doc.Push
	s.doc.Input = doc.Input
	return nil
}

// Path returns the backing file path (for the watcher).
func (s *Store) Path() string { return s.path }
