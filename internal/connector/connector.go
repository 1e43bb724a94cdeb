// Package connector owns the live chat-service connections: at most one
// outbound event stream per interactive bot, shared by every session bound
// to it, plus the webhook path for push bots.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/zqq-nuli/felay/internal/config"
	"github.com/zqq-nuli/felay/internal/feishu"
)

const (
	// HealthTickInterval is how often connection liveness is inspected.
	HealthTickInterval = 30 * time.Second

	// StaleAfter marks a connection unhealthy when its stream has been
	// silent this long.
	StaleAfter = 90 * time.Second
)

// Warning is a user-visible connection problem, surfaced over status.
type Warning struct {
	BotID   string `json:"botId"`
	Message string `json:"message"`
}

// MessageHandler receives inbound chat messages per bot.
type MessageHandler func(botID string, ev *feishu.MessageEvent)

// Manager multiplexes bot connections.
type Manager struct {
	log       *slog.Logger
	onMessage MessageHandler
	webhook   *feishu.WebhookSender

	mu        sync.Mutex
	reconnect config.Reconnect
	conns     map[string]*botConn

	healthCancel context.CancelFunc
}

type botConn struct {
	bot       config.InteractiveBot
	client    *feishu.Client
	events    *feishu.EventClient
	lastEvent func() time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	mu             sync.Mutex
	healthy        bool
	warning        string
	unhealthySince time.Time
	terminalWarned bool
}

// NewManager creates an empty connection manager.
func NewManager(reconnect config.Reconnect, onMessage MessageHandler, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:       log,
		onMessage: onMessage,
		webhook:   feishu.NewWebhookSender(),
		reconnect: reconnect,
		conns:     make(map[string]*botConn),
	}
}

// Start launches the shared health ticker.
func (m *Manager) Start(ctx context.Context) {
	hctx, cancel := context.WithCancel(ctx)
	m.healthCancel = cancel
	go m.healthLoop(hctx)
}

// Stop tears down every connection and the health ticker.
func (m *Manager) Stop() {
	if m.healthCancel != nil {
		m.healthCancel()
	}
	m.mu.Lock()
	conns := make([]*botConn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[string]*botConn)
	m.mu.Unlock()

	for _, c := range conns {
		c.cancel()
		c.events.Stop()
		<-c.done
	}
}

// UpdateReconnect applies reloaded backoff settings to future retry loops.
func (m *Manager) UpdateReconnect(r config.Reconnect) {
	m.mu.Lock()
	m.reconnect = r
	m.mu.Unlock()
}

// StartInteractive brings up the bot's event stream. A second call for a
// live bot is a no-op: one connection per bot, regardless of session count.
func (m *Manager) StartInteractive(ctx context.Context, bot config.InteractiveBot) {
	m.mu.Lock()
	if _, ok := m.conns[bot.ID]; ok {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c := &botConn{
		bot:     bot,
		client:  feishu.NewClient(bot.AppID, bot.AppSecret, ""),
		cancel:  cancel,
		done:    make(chan struct{}),
		healthy: true,
	}
	c.events = feishu.NewEventClient(bot.AppID, bot.AppSecret, "", func(raw []byte) {
		if ev, ok := feishu.ParseMessageEvent(raw); ok && m.onMessage != nil {
			m.onMessage(bot.ID, ev)
		}
	})
	c.lastEvent = c.events.LastEvent
	m.conns[bot.ID] = c
	m.mu.Unlock()

	go m.runLoop(runCtx, c)
	m.log.Info("interactive bot connecting", "bot", bot.ID, "name", bot.Name)
}

// StopInteractive tears the bot's connection down.
func (m *Manager) StopInteractive(botID string) {
	m.mu.Lock()
	c, ok := m.conns[botID]
	delete(m.conns, botID)
	m.mu.Unlock()
	if !ok {
		return
	}
	c.cancel()
	c.events.Stop()
	<-c.done
	m.log.Info("interactive bot stopped", "bot", botID)
}

// IsHealthy reports stream liveness; false for unknown bots.
func (m *Manager) IsHealthy(botID string) bool {
	m.mu.Lock()
	c, ok := m.conns[botID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

// Warnings lists current connection problems across all bots.
func (m *Manager) Warnings() []Warning {
	m.mu.Lock()
	conns := make([]*botConn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	var out []Warning
	for _, c := range conns {
		c.mu.Lock()
		if c.warning != "" {
			out = append(out, Warning{BotID: c.bot.ID, Message: c.warning})
		}
		c.mu.Unlock()
	}
	return out
}

// Client returns the REST client of a live bot connection.
func (m *Manager) Client(botID string) (*feishu.Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[botID]
	if !ok {
		return nil, false
	}
	return c.client, true
}

// SendCard delivers an interactive card through the bot's connection.
func (m *Manager) SendCard(ctx context.Context, botID, chatID string, card feishu.Card) (string, error) {
	client, ok := m.Client(botID)
	if !ok {
		return "", fmt.Errorf("bot %s is not connected", botID)
	}
	res, err := client.SendCard(ctx, chatID, card)
	if err != nil {
		return "", err
	}
	return res.MessageID, nil
}

// SendPost delivers a rich-text post through the bot's connection.
func (m *Manager) SendPost(ctx context.Context, botID, chatID string, post any) (string, error) {
	client, ok := m.Client(botID)
	if !ok {
		return "", fmt.Errorf("bot %s is not connected", botID)
	}
	res, err := client.SendPost(ctx, chatID, post)
	if err != nil {
		return "", err
	}
	return res.MessageID, nil
}

// AddReaction places an emoji on a message.
func (m *Manager) AddReaction(ctx context.Context, botID, messageID, emojiType string) error {
	client, ok := m.Client(botID)
	if !ok {
		return fmt.Errorf("bot %s is not connected", botID)
	}
	_, err := client.AddReaction(ctx, messageID, emojiType)
	return err
}

// RemoveReaction removes every reaction of the given kind from a message.
func (m *Manager) RemoveReaction(ctx context.Context, botID, messageID, emojiType string) error {
	client, ok := m.Client(botID)
	if !ok {
		return fmt.Errorf("bot %s is not connected", botID)
	}
	ids, err := client.ListReactions(ctx, messageID, emojiType)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := client.DeleteReaction(ctx, messageID, id); err != nil {
			return err
		}
	}
	return nil
}

// SendWebhookCard posts a card to a push bot's webhook.
func (m *Manager) SendWebhookCard(ctx context.Context, bot config.PushBot, card feishu.Card) error {
	return m.webhook.SendCard(ctx, bot.WebhookURL, bot.SignSecret, card)
}

// SendWebhookPost posts a rich-text document to a push bot's webhook.
func (m *Manager) SendWebhookPost(ctx context.Context, bot config.PushBot, post any) error {
	return m.webhook.SendPost(ctx, bot.WebhookURL, bot.SignSecret, post)
}

// TestInteractive checks the bot credentials with a live API probe.
func (m *Manager) TestInteractive(ctx context.Context, bot config.InteractiveBot) error {
	return feishu.NewClient(bot.AppID, bot.AppSecret, "").Probe(ctx)
}

// TestPush posts a small test card to the push bot's webhook.
func (m *Manager) TestPush(ctx context.Context, bot config.PushBot) error {
	return m.webhook.SendCard(ctx, bot.WebhookURL, bot.SignSecret,
		feishu.MarkdownCard("Felay", "Connectivity test passed."))
}

// runLoop keeps one bot connected, backing off per the reconnect settings.
func (m *Manager) runLoop(ctx context.Context, c *botConn) {
	defer close(c.done)

	m.mu.Lock()
	r := m.reconnect
	m.mu.Unlock()

	interval := time.Duration(r.InitialInterval) * time.Second
	retries := 0
	for {
		started := time.Now()
		err := c.events.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		// A connection that held for a while resets the backoff.
		if time.Since(started) > StaleAfter {
			retries = 0
			interval = time.Duration(r.InitialInterval) * time.Second
		}
		m.log.Warn("bot stream dropped, reconnecting", "bot", c.bot.ID, "error", err, "in", interval)

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		retries++
		if retries < r.MaxRetries {
			interval = time.Duration(float64(interval) * r.BackoffMultiplier)
		}
	}
}

// healthLoop inspects last-event times and maintains warnings.
func (m *Manager) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(HealthTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkHealth(time.Now())
		}
	}
}

func (m *Manager) checkHealth(now time.Time) {
	m.mu.Lock()
	r := m.reconnect
	conns := make([]*botConn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	terminalAfter := terminalUnhealthyBudget(r)
	for _, c := range conns {
		last := c.lastEvent()
		c.mu.Lock()
		switch {
		case last.IsZero() || now.Sub(last) > StaleAfter:
			if c.healthy {
				c.healthy = false
				c.unhealthySince = now
				c.warning = fmt.Sprintf("no events from bot %s for over %s", c.bot.ID, StaleAfter)
				m.log.Warn("bot connection unhealthy", "bot", c.bot.ID)
			} else if !c.terminalWarned && now.Sub(c.unhealthySince) > terminalAfter {
				c.terminalWarned = true
				c.warning = fmt.Sprintf("bot %s has been unreachable beyond the retry budget; check its credentials", c.bot.ID)
				m.log.Error("bot connection gave up recovering", "bot", c.bot.ID)
			}
		default:
			if !c.healthy {
				m.log.Info("bot connection recovered", "bot", c.bot.ID)
			}
			c.healthy = true
			c.warning = ""
			c.unhealthySince = time.Time{}
			c.terminalWarned = false
		}
		c.mu.Unlock()
	}
}

// terminalUnhealthyBudget is the total backoff the retry schedule can spend:
// maxRetries × initialInterval × multiplier^(maxRetries-1) seconds.
func terminalUnhealthyBudget(r config.Reconnect) time.Duration {
	secs := float64(r.MaxRetries) * float64(r.InitialInterval) * math.Pow(r.BackoffMultiplier, float64(r.MaxRetries-1))
	return time.Duration(secs * float64(time.Second))
}
