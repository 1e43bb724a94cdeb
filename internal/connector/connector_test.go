package connector

import (
	"sync"
	"testing"
	"time"

	"github.com/zqq-nuli/felay/internal/config"
)

func testReconnect() config.Reconnect {
	return config.Reconnect{MaxRetries: 5, InitialInterval: 2, BackoffMultiplier: 2}
}

func TestTerminalUnhealthyBudget(t *testing.T) {
	// 5 × 2s × 2^4 = 160s
	if got := terminalUnhealthyBudget(testReconnect()); got != 160*time.Second {
		t.Errorf("budget = %v, want 160s", got)
	}
}

func TestIsHealthy_UnknownBot(t *testing.T) {
	m := NewManager(testReconnect(), nil, nil)
	if m.IsHealthy("ghost") {
		t.Error("unknown bot must not be healthy")
	}
}

func TestCheckHealth_StaleThenTerminal(t *testing.T) {
	m := NewManager(testReconnect(), nil, nil)
	bot := config.InteractiveBot{ID: "b1", AppID: "a", AppSecret: "s"}

	// Insert a connection without dialing anything.
	c := newIdleConn(bot)
	m.conns[bot.ID] = c

	now := time.Now()
	m.checkHealth(now)
	if m.IsHealthy("b1") {
		t.Error("silent connection must be unhealthy")
	}
	warnings := m.Warnings()
	if len(warnings) != 1 || warnings[0].BotID != "b1" {
		t.Fatalf("warnings = %+v", warnings)
	}
	first := warnings[0].Message

	// Still silent past the retry budget: warning escalates once.
	m.checkHealth(now.Add(3 * time.Minute))
	warnings = m.Warnings()
	if len(warnings) != 1 || warnings[0].Message == first {
		t.Errorf("terminal warning not raised: %+v", warnings)
	}
	c.mu.Lock()
	warned := c.terminalWarned
	c.mu.Unlock()
	if !warned {
		t.Error("terminalWarned not set")
	}
}

func TestCheckHealth_RecoveryClearsWarning(t *testing.T) {
	m := NewManager(testReconnect(), nil, nil)
	bot := config.InteractiveBot{ID: "b1", AppID: "a", AppSecret: "s"}
	c := newIdleConn(bot)
	m.conns[bot.ID] = c

	m.checkHealth(time.Now())
	if len(m.Warnings()) != 1 {
		t.Fatal("expected a warning while stale")
	}

	// Fresh event: next tick clears everything.
	touchLastEvent(c)
	m.checkHealth(time.Now())
	if !m.IsHealthy("b1") {
		t.Error("fresh event must restore health")
	}
	if len(m.Warnings()) != 0 {
		t.Errorf("warnings = %+v", m.Warnings())
	}
}

// newIdleConn builds a connection row with no live stream; its last-event
// time stays zero until touchLastEvent.
func newIdleConn(bot config.InteractiveBot) *botConn {
	last := &stubClock{}
	c := &botConn{bot: bot, healthy: true, done: make(chan struct{})}
	c.lastEvent = last.get
	idleClocks[c] = last
	return c
}

func touchLastEvent(c *botConn) {
	idleClocks[c].set(time.Now())
}

var idleClocks = map[*botConn]*stubClock{}

type stubClock struct {
	mu sync.Mutex
	t  time.Time
}

func (s *stubClock) get() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t
}

func (s *stubClock) set(t time.Time) {
	s.mu.Lock()
	s.t = t
	s.mu.Unlock()
}

func TestClient_UnknownBot(t *testing.T) {
	m := NewManager(testReconnect(), nil, nil)
	if _, ok := m.Client("nope"); ok {
		t.Error("unknown bot must not have a client")
	}
}
