package buffers

import (
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

type capture struct {
	mu    sync.Mutex
	got   []string
	fired chan struct{}
}

func newCapture() *capture {
	return &capture{fired: make(chan struct{}, 16)}
}

func (c *capture) emit(sessionID, text string) {
	c.mu.Lock()
	c.got = append(c.got, text)
	c.mu.Unlock()
	c.fired <- struct{}{}
}

func (c *capture) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

func (c *capture) wait(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case <-c.fired:
	case <-time.After(d):
		t.Fatal("timed out waiting for emission")
	}
}

func TestInteractive_SilenceFlushOnce(t *testing.T) {
	ic := newCapture()
	m := NewManager(Config{SilenceWindow: 30 * time.Millisecond}, ic.emit, nil)

	m.StartCollecting("s1")
	m.AppendInteractive("s1", "Hello ")
	time.Sleep(10 * time.Millisecond)
	m.AppendInteractive("s1", "world") // rearms the timer

	ic.wait(t, time.Second)
	if got := ic.all(); len(got) != 1 || got[0] != "Hello world" {
		t.Errorf("emissions = %q", got)
	}

	// One flush per arm: further silence emits nothing.
	time.Sleep(80 * time.Millisecond)
	if got := ic.all(); len(got) != 1 {
		t.Errorf("extra emission after flush: %q", got)
	}
	if m.IsCollecting("s1") {
		t.Error("collection must end on flush")
	}
}

func TestInteractive_SecondArmDoesNotRestart(t *testing.T) {
	ic := newCapture()
	m := NewManager(Config{SilenceWindow: 40 * time.Millisecond}, ic.emit, nil)

	m.StartCollecting("s1")
	m.AppendInteractive("s1", "first ")
	m.StartCollecting("s1") // user sent another message mid-collection
	m.AppendInteractive("s1", "second")

	ic.wait(t, time.Second)
	if got := ic.all(); len(got) != 1 || got[0] != "first second" {
		t.Errorf("emissions = %q", got)
	}
}

func TestInteractive_StaleTimerGenerationSkipped(t *testing.T) {
	ic := newCapture()
	m := NewManager(Config{SilenceWindow: time.Hour}, ic.emit, nil)

	m.StartCollecting("s1")
	m.AppendInteractive("s1", "first ") // generation 1
	m.AppendInteractive("s1", "second") // generation 2, rearms

	// A timer from the first arm that fired before its Stop must not emit
	// the half-gathered text.
	m.flushInteractive("s1", 1)
	if got := ic.all(); len(got) != 0 {
		t.Errorf("stale flush emitted: %q", got)
	}
	if !m.IsCollecting("s1") {
		t.Error("stale flush must not end the collection")
	}

	m.flushInteractive("s1", 2)
	ic.wait(t, time.Second)
	if got := ic.all(); len(got) != 1 || got[0] != "first second" {
		t.Errorf("emissions = %q", got)
	}
}

func TestInteractive_ChunksOutsideCollectionIgnored(t *testing.T) {
	ic := newCapture()
	m := NewManager(Config{SilenceWindow: 20 * time.Millisecond}, ic.emit, nil)

	m.AppendInteractive("s1", "noise")
	time.Sleep(60 * time.Millisecond)
	if got := ic.all(); len(got) != 0 {
		t.Errorf("unexpected emissions: %q", got)
	}
}

func TestForceFlushInteractive(t *testing.T) {
	ic := newCapture()
	m := NewManager(Config{SilenceWindow: time.Hour}, ic.emit, nil)

	m.StartCollecting("s1")
	m.AppendInteractive("s1", "pending reply")
	m.ForceFlushInteractive("s1")

	ic.wait(t, time.Second)
	if got := ic.all(); len(got) != 1 || got[0] != "pending reply" {
		t.Errorf("emissions = %q", got)
	}
}

func TestPush_MergeWindowCoalesces(t *testing.T) {
	pc := newCapture()
	m := NewManager(Config{MergeWindow: 40 * time.Millisecond}, nil, pc.emit)

	m.AppendPush("s1", "a")
	m.AppendPush("s1", "b")
	m.AppendPush("s1", "c")

	pc.wait(t, time.Second)
	if got := pc.all(); len(got) != 1 || got[0] != "abc" {
		t.Errorf("emissions = %q", got)
	}
}

func TestIncreaseMergeWindow_DoublesAndCaps(t *testing.T) {
	m := NewManager(Config{MergeWindow: 2 * time.Second}, nil, nil)

	if d := m.IncreaseMergeWindow("s1"); d != 4*time.Second {
		t.Errorf("after 1 increase: %v", d)
	}
	for i := 0; i < 10; i++ {
		m.IncreaseMergeWindow("s1")
	}
	if d := m.MergeWindow("s1"); d != MaxMergeWindow {
		t.Errorf("window = %v, want cap %v", d, MaxMergeWindow)
	}
	// Other sessions keep the base window.
	if d := m.MergeWindow("s2"); d != 2*time.Second {
		t.Errorf("unrelated session window = %v", d)
	}
}

func TestSummary_RollingTail(t *testing.T) {
	m := NewManager(Config{}, nil, nil)

	m.AppendSummary("s1", strings.Repeat("x", 9000))
	m.AppendSummary("s1", "END")

	sum := m.Summary("s1")
	if len(sum) > 8*1024 {
		t.Errorf("summary exceeds tail bound: %d bytes", len(sum))
	}
	if !strings.HasSuffix(sum, "END") {
		t.Error("summary must keep the tail")
	}
}

func TestSummary_TrimRepairsRuneBoundary(t *testing.T) {
	m := NewManager(Config{}, nil, nil)

	// Fill so the trim lands inside a multi-byte rune.
	m.AppendSummary("s1", strings.Repeat("a", 8*1024-1))
	m.AppendSummary("s1", strings.Repeat("你好世界", 400))

	sum := m.Summary("s1")
	if !utf8.ValidString(sum) {
		t.Error("summary must stay valid UTF-8 after trim")
	}
	if strings.HasPrefix(sum, "�") {
		t.Error("leading replacement character must be stripped")
	}
}

func TestDrop_CancelsTimers(t *testing.T) {
	ic := newCapture()
	pc := newCapture()
	m := NewManager(Config{SilenceWindow: 30 * time.Millisecond, MergeWindow: 30 * time.Millisecond}, ic.emit, pc.emit)

	m.StartCollecting("s1")
	m.AppendInteractive("s1", "text")
	m.AppendPush("s1", "push")
	m.AppendSummary("s1", "sum")
	m.Drop("s1")

	time.Sleep(80 * time.Millisecond)
	if len(ic.all()) != 0 || len(pc.all()) != 0 {
		t.Error("dropped session must not emit")
	}
	if m.Has("s1") {
		t.Error("buffers must be gone after drop")
	}
	if m.Summary("s1") != "" {
		t.Error("summary must be gone after drop")
	}
}

func TestTruncateTail(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want func(t *testing.T, out string)
	}{
		{
			"under limit unchanged",
			"short",
			100,
			func(t *testing.T, out string) {
				if out != "short" {
					t.Errorf("out = %q", out)
				}
			},
		},
		{
			"over limit keeps suffix with marker",
			strings.Repeat("a", 50) + "TAIL",
			20,
			func(t *testing.T, out string) {
				if !strings.HasPrefix(out, TruncationMarker) {
					t.Errorf("missing marker: %q", out)
				}
				if !strings.HasSuffix(out, "TAIL") {
					t.Errorf("suffix lost: %q", out)
				}
			},
		},
		{
			"broken leading rune repaired",
			strings.Repeat("界", 100),
			31, // 31 % 3 != 0 → cut lands mid-rune
			func(t *testing.T, out string) {
				body := strings.TrimPrefix(out, TruncationMarker)
				if !utf8.ValidString(body) {
					t.Errorf("invalid UTF-8 after truncation: %q", body)
				}
				if strings.HasPrefix(body, "�") {
					t.Errorf("leading replacement char: %q", body)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.want(t, TruncateTail(tt.in, tt.max))
		})
	}
}
