// Package buffers holds the per-session output buffers and their flush
// timers. Three buffers with distinct policies:
//
//   - interactive: armed by the router when a chat message is forwarded to
//     the PTY; a silence timer finalizes one reply per arm.
//   - push: continuously coalesced over a merge window that widens under
//     rate limiting.
//   - summary: a rolling UTF-8 tail kept for the end-of-session card.
//
// Timers run their own goroutines; emission callbacks are always invoked
// outside the manager lock.
package buffers

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	// DefaultSilenceWindow finalizes an interactive reply after this much
	// PTY quiet time.
	DefaultSilenceWindow = 5 * time.Second

	// MaxMergeWindow caps rate-limit widening of the push merge window.
	MaxMergeWindow = 30 * time.Second

	// summaryTailBytes bounds the rolling summary buffer.
	summaryTailBytes = 8 * 1024

	// TruncationMarker prefixes a tail-truncated emission.
	TruncationMarker = "...(truncated)"
)

// Emit delivers one finalized buffer emission for a session.
type Emit func(sessionID, text string)

// Config tunes the manager; zero values fall back to defaults.
type Config struct {
	SilenceWindow   time.Duration
	MergeWindow     time.Duration
	MaxMessageBytes int
}

// Manager owns all per-session buffers.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*sessionBuffers

	silenceWindow   time.Duration
	baseMergeWindow time.Duration
	maxMessageBytes int

	emitInteractive Emit
	emitPush        Emit
}

type sessionBuffers struct {
	// interactive
	collecting      bool
	interactiveText strings.Builder
	silenceTimer    *time.Timer
	silenceGen      uint64 // bumped on every rearm; a stale timer carries an old value

	// push
	pushText    strings.Builder
	mergeTimer  *time.Timer
	mergeWindow time.Duration

	// summary
	summary []byte
}

// NewManager builds a buffer manager delivering through the given callbacks.
func NewManager(cfg Config, emitInteractive, emitPush Emit) *Manager {
	if cfg.SilenceWindow <= 0 {
		cfg.SilenceWindow = DefaultSilenceWindow
	}
	if cfg.MergeWindow <= 0 {
		cfg.MergeWindow = 2 * time.Second
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 20000
	}
	return &Manager{
		sessions:        make(map[string]*sessionBuffers),
		silenceWindow:   cfg.SilenceWindow,
		baseMergeWindow: cfg.MergeWindow,
		maxMessageBytes: cfg.MaxMessageBytes,
		emitInteractive: emitInteractive,
		emitPush:        emitPush,
	}
}

// SetMergeWindow updates the base merge window for future sessions
// (config reload).
func (m *Manager) SetMergeWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.baseMergeWindow = d
	m.mu.Unlock()
}

// SetMaxMessageBytes updates the emission size cap (config reload).
func (m *Manager) SetMaxMessageBytes(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.maxMessageBytes = n
	m.mu.Unlock()
}

func (m *Manager) session(id string) *sessionBuffers {
	s, ok := m.sessions[id]
	if !ok {
		s = &sessionBuffers{mergeWindow: m.baseMergeWindow}
		m.sessions[id] = s
	}
	return s
}

// StartCollecting arms the interactive buffer. A second arm while a
// collection is in flight does not restart it: the first turn's reply is
// still being gathered.
func (m *Manager) StartCollecting(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session(sessionID)
	if s.collecting {
		return
	}
	s.collecting = true
	s.interactiveText.Reset()
}

// IsCollecting reports whether an interactive collection is in flight.
func (m *Manager) IsCollecting(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return ok && s.collecting
}

// AppendInteractive feeds a PTY chunk into an armed collection and rearms
// the silence timer. Chunks outside a collection are ignored.
func (m *Manager) AppendInteractive(sessionID, chunk string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || !s.collecting {
		m.mu.Unlock()
		return
	}
	s.interactiveText.WriteString(chunk)
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
	}
	s.silenceGen++
	gen := s.silenceGen
	s.silenceTimer = time.AfterFunc(m.silenceWindow, func() {
		m.flushInteractive(sessionID, gen)
	})
	m.mu.Unlock()
}

// ForceFlushInteractive finalizes a pending collection immediately
// (session end).
func (m *Manager) ForceFlushInteractive(sessionID string) {
	m.flushInteractive(sessionID, 0)
}

// flushInteractive finalizes the collection. gen 0 is the unconditional
// force-flush path; a timer that already fired when a rearm stopped it
// carries a stale generation and must not emit.
func (m *Manager) flushInteractive(sessionID string, gen uint64) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || !s.collecting {
		m.mu.Unlock()
		return
	}
	if gen != 0 && gen != s.silenceGen {
		m.mu.Unlock()
		return
	}
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
	text := s.interactiveText.String()
	s.interactiveText.Reset()
	s.collecting = false
	max := m.maxMessageBytes
	emit := m.emitInteractive
	m.mu.Unlock()

	if text == "" || emit == nil {
		return
	}
	emit(sessionID, TruncateTail(text, max))
}

// AppendPush feeds a PTY chunk into the push buffer. The merge window timer
// starts on the first chunk and fires exactly once per window.
func (m *Manager) AppendPush(sessionID, chunk string) {
	m.mu.Lock()
	s := m.session(sessionID)
	s.pushText.WriteString(chunk)
	if s.mergeTimer == nil {
		s.mergeTimer = time.AfterFunc(s.mergeWindow, func() {
			m.flushPush(sessionID)
		})
	}
	m.mu.Unlock()
}

func (m *Manager) flushPush(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	s.mergeTimer = nil
	text := s.pushText.String()
	s.pushText.Reset()
	max := m.maxMessageBytes
	emit := m.emitPush
	m.mu.Unlock()

	if text == "" || emit == nil {
		return
	}
	emit(sessionID, TruncateTail(text, max))
}

// IncreaseMergeWindow doubles the session's merge window, capped at
// MaxMergeWindow. Called on rate-limit feedback; the dropped message is not
// retried, subsequent emissions just coalesce over a longer horizon.
func (m *Manager) IncreaseMergeWindow(sessionID string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session(sessionID)
	s.mergeWindow *= 2
	if s.mergeWindow > MaxMergeWindow {
		s.mergeWindow = MaxMergeWindow
	}
	return s.mergeWindow
}

// MergeWindow reports the session's current merge window.
func (m *Manager) MergeWindow(sessionID string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		return s.mergeWindow
	}
	return m.baseMergeWindow
}

// AppendSummary feeds every PTY chunk into the rolling tail, regardless of
// bot bindings.
func (m *Manager) AppendSummary(sessionID, chunk string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session(sessionID)
	s.summary = append(s.summary, chunk...)
	if len(s.summary) > summaryTailBytes {
		s.summary = trimTail(s.summary, summaryTailBytes)
	}
}

// Summary returns the current rolling tail.
func (m *Manager) Summary(sessionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		return string(s.summary)
	}
	return ""
}

// Drop tears down every buffer for a session, cancelling pending timers
// without emitting.
func (m *Manager) Drop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
	}
	if s.mergeTimer != nil {
		s.mergeTimer.Stop()
	}
	delete(m.sessions, sessionID)
}

// Has reports whether any buffer state exists for the session.
func (m *Manager) Has(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionID]
	return ok
}

// trimTail keeps the last max bytes, re-aligned to a rune boundary. A
// replacement character produced by bisecting a multi-byte sequence is
// stripped from the front.
func trimTail(b []byte, max int) []byte {
	b = b[len(b)-max:]
	for len(b) > 0 && b[0]&0xC0 == 0x80 { // UTF-8 continuation byte
		b = b[1:]
	}
	out := append([]byte(nil), b...)
	for {
		r, size := utf8.DecodeRune(out)
		if r == utf8.RuneError && size == 1 {
			out = out[1:]
			continue
		}
		if r == '�' {
			out = out[size:]
			continue
		}
		break
	}
	return out
}

// TruncateTail bounds an emission to max UTF-8 bytes, keeping the suffix
// with a visible marker and no broken leading code unit.
func TruncateTail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	tail := trimTail([]byte(s), max)
	return TruncationMarker + string(tail)
}
