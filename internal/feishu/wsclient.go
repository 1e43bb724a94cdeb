package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

const (
	wsEndpointPath = "/callback/ws/endpoint"
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 1 << 20 // 1MB
)

// MessageEvent is the subset of an im.message.receive_v1 event the daemon
// consumes.
type MessageEvent struct {
	Header struct {
		EventType string `json:"event_type"`
	} `json:"header"`
	Event struct {
		Message struct {
			MessageID   string `json:"message_id"`
			ChatID      string `json:"chat_id"`
			MessageType string `json:"message_type"`
			Content     string `json:"content"`
		} `json:"message"`
	} `json:"event"`
}

// ParseMessageEvent decodes a raw frame; false when the frame is not a
// message-receive event.
func ParseMessageEvent(raw []byte) (*MessageEvent, bool) {
	var ev MessageEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, false
	}
	if ev.Header.EventType != "im.message.receive_v1" {
		return nil, false
	}
	return &ev, true
}

// EventClient holds one long-lived websocket event stream for a bot. One
// Run call is one connection lifetime; the connection manager owns the
// reconnect loop.
type EventClient struct {
	appID      string
	appSecret  string
	domain     string
	httpClient *http.Client
	handler    func(raw []byte)

	lastEvent atomic.Int64 // unix nanos

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewEventClient wires a handler to the bot's event stream.
func NewEventClient(appID, appSecret, domain string, handler func(raw []byte)) *EventClient {
	if domain == "" {
		domain = DefaultDomain
	}
	return &EventClient{
		appID:      appID,
		appSecret:  appSecret,
		domain:     domain,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		handler:    handler,
	}
}

// LastEvent reports when the stream last produced a frame; zero before the
// first one.
func (c *EventClient) LastEvent() time.Time {
	n := c.lastEvent.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Run connects and reads until the stream fails or ctx is done.
func (c *EventClient) Run(ctx context.Context) error {
	wsURL, err := c.fetchEndpoint(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: c.httpClient,
	})
	if err != nil {
		return fmt.Errorf("feishu ws dial: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.lastEvent.Store(time.Now().UnixNano())

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go c.pingLoop(pingCtx, conn)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feishu ws read: %w", err)
		}
		c.lastEvent.Store(time.Now().UnixNano())
		if c.handler != nil {
			c.handler(data)
		}
	}
}

// Stop closes the live connection, unblocking Run.
func (c *EventClient) Stop() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
}

func (c *EventClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// fetchEndpoint asks the platform for this app's websocket URL.
func (c *EventClient) fetchEndpoint(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"AppID":     c.appID,
		"AppSecret": c.appSecret,
	})
	req, err := http.NewRequestWithContext(ctx, "POST", c.domain+wsEndpointPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("feishu ws endpoint: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			URL string `json:"URL"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("feishu ws endpoint decode: %w", err)
	}
	if result.Code != 0 || result.Data.URL == "" {
		return "", fmt.Errorf("feishu ws endpoint error: code=%d msg=%s", result.Code, result.Msg)
	}
	return result.Data.URL, nil
}
