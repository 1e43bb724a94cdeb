// Package registry is the in-memory table of known bridge sessions. Rows are
// plain data owned here and mutated only by the router; rebinding and
// lifecycle rules live in the methods, policy lives upstream.
package registry

import (
	"sync"
	"time"
)

// Session status values. A session never leaves StatusEnded.
const (
	StatusListening = "listening"
	StatusProxyOn   = "proxy_on"
	StatusEnded     = "ended"
)

// DefaultPruneAge is how long ended rows are retained before PruneEnded
// drops them.
const DefaultPruneAge = 30 * time.Minute

// Session is one bridged CLI session.
type Session struct {
	SessionID        string
	CLI              string
	Cwd              string
	Status           string
	StartedAt        time.Time
	UpdatedAt        time.Time
	InteractiveBotID string
	PushBotID        string
	PushEnabled      bool
	ProxyMode        bool
}

// Registry maps sessionId to its row. All methods are safe for concurrent
// use; the lock is never held across I/O.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register inserts a session or refreshes an existing one. Re-registering a
// still-active session preserves its bindings and only updates cli/cwd and
// timestamps; an ended row of the same id is replaced outright (restart of
// the CLI host after a daemon crash).
func (r *Registry) Register(sessionID, cli, cwd string, proxyMode bool) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if s, ok := r.sessions[sessionID]; ok && s.Status != StatusEnded {
		s.CLI = cli
		s.Cwd = cwd
		s.ProxyMode = s.ProxyMode || proxyMode
		s.UpdatedAt = now
		return cloneOf(s)
	}

	s := &Session{
		SessionID: sessionID,
		CLI:       cli,
		Cwd:       cwd,
		Status:    StatusListening,
		ProxyMode: proxyMode,
		StartedAt: now,
		UpdatedAt: now,
	}
	r.sessions[sessionID] = s
	return cloneOf(s)
}

// Get returns a copy of the row, if present.
func (r *Registry) Get(sessionID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// End marks the session ended. Idempotent; reports whether the row existed
// and was not already ended.
func (r *Registry) End(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.Status == StatusEnded {
		return false
	}
	s.Status = StatusEnded
	s.UpdatedAt = time.Now()
	return true
}

// TouchProxy records first evidence of output: listening → proxy_on.
func (r *Registry) TouchProxy(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.Status != StatusListening {
		return
	}
	s.Status = StatusProxyOn
	s.UpdatedAt = time.Now()
}

// BindInteractive attaches an interactive bot. False when the session is
// missing or ended (callers answer with a negative ack, never create).
func (r *Registry) BindInteractive(sessionID, botID string) bool {
	return r.mutateActive(sessionID, func(s *Session) {
		s.InteractiveBotID = botID
	})
}

// BindPush attaches a push bot.
func (r *Registry) BindPush(sessionID, botID string, enabled bool) bool {
	return r.mutateActive(sessionID, func(s *Session) {
		s.PushBotID = botID
		s.PushEnabled = enabled
	})
}

// UnbindInteractive clears the interactive binding.
func (r *Registry) UnbindInteractive(sessionID string) bool {
	return r.mutateActive(sessionID, func(s *Session) {
		s.InteractiveBotID = ""
	})
}

// UnbindPush clears the push binding.
func (r *Registry) UnbindPush(sessionID string) bool {
	return r.mutateActive(sessionID, func(s *Session) {
		s.PushBotID = ""
		s.PushEnabled = false
	})
}

func (r *Registry) mutateActive(sessionID string, fn func(*Session)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.Status == StatusEnded {
		return false
	}
	fn(s)
	s.UpdatedAt = time.Now()
	return true
}

// UnbindBotEverywhere removes botID from every session binding (bot deleted).
// Returns the ids of sessions that referenced it.
func (r *Registry) UnbindBotEverywhere(botID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var touched []string
	for id, s := range r.sessions {
		hit := false
		if s.InteractiveBotID == botID {
			s.InteractiveBotID = ""
			hit = true
		}
		if s.PushBotID == botID {
			s.PushBotID = ""
			s.PushEnabled = false
			hit = true
		}
		if hit {
			s.UpdatedAt = time.Now()
			touched = append(touched, id)
		}
	}
	return touched
}

// ActiveByInteractiveBot finds the most recently updated non-ended session
// bound to the given interactive bot.
func (r *Registry) ActiveByInteractiveBot(botID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Session
	for _, s := range r.sessions {
		if s.Status == StatusEnded || s.InteractiveBotID != botID {
			continue
		}
		if best == nil || s.UpdatedAt.After(best.UpdatedAt) {
			best = s
		}
	}
	if best == nil {
		return Session{}, false
	}
	return *best, true
}

// ActiveByCwd finds a non-ended session whose cwd exactly equals cwd
// (hook notifications carry cwd, not sessionId).
func (r *Registry) ActiveByCwd(cwd string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Session
	for _, s := range r.sessions {
		if s.Status == StatusEnded || s.Cwd != cwd {
			continue
		}
		if best == nil || s.UpdatedAt.After(best.UpdatedAt) {
			best = s
		}
	}
	if best == nil {
		return Session{}, false
	}
	return *best, true
}

// CountActiveByBot counts non-ended sessions bound to botID either way.
// Used to decide whether a bot connection can be torn down.
func (r *Registry) CountActiveByBot(botID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, s := range r.sessions {
		if s.Status == StatusEnded {
			continue
		}
		if s.InteractiveBotID == botID || s.PushBotID == botID {
			n++
		}
	}
	return n
}

// List returns copies of all rows, unordered.
func (r *Registry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	return out
}

// PruneEnded drops ended rows older than maxAge and returns their ids.
func (r *Registry) PruneEnded(maxAge time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var pruned []string
	for id, s := range r.sessions {
		if s.Status == StatusEnded && s.UpdatedAt.Before(cutoff) {
			delete(r.sessions, id)
			pruned = append(pruned, id)
		}
	}
	return pruned
}

func cloneOf(s *Session) *Session {
	out := *s
	return &out
}
