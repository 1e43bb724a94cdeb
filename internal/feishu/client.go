// Package feishu talks to the Feishu/Lark open platform: an authenticated
// REST client for interactive bots, a long-lived websocket event stream, and
// a signed webhook sender for push bots.
package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultDomain serves both tenant flavors; CN tenants resolve the same
	// API surface on open.feishu.cn.
	DefaultDomain = "https://open.feishu.cn"

	tokenExpiryBuffer = 3 * time.Minute
	tokenEndpoint     = "/open-apis/auth/v3/tenant_access_token/internal"
)

// Client is a Feishu/Lark REST client for one interactive bot. Handles
// tenant_access_token auto-refresh and paces calls with a shared limiter.
type Client struct {
	baseURL    string
	appID      string
	appSecret  string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewClient creates a client for the given app credentials. Empty domain
// falls back to DefaultDomain.
func NewClient(appID, appSecret, domain string) *Client {
	if domain == "" {
		domain = DefaultDomain
	}
	return &Client{
		baseURL:    domain,
		appID:      appID,
		appSecret:  appSecret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
	}
}

func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExp) {
		return c.token, nil
	}

	body, _ := json.Marshal(map[string]string{
		"app_id":     c.appID,
		"app_secret": c.appSecret,
	})
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+tokenEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("feishu token request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("feishu token decode: %w", err)
	}
	if result.Code != 0 {
		return "", fmt.Errorf("feishu token error: code=%d msg=%s", result.Code, result.Msg)
	}

	c.token = result.TenantAccessToken
	c.tokenExp = time.Now().Add(time.Duration(result.Expire)*time.Second - tokenExpiryBuffer)
	return c.token, nil
}

func (c *Client) clearToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExp = time.Time{}
	c.mu.Unlock()
}

// isTokenError reports whether the code means an expired or invalid token.
func isTokenError(code int) bool {
	return code == 99991663 || code == 99991664 || code == 99991671
}

type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// doJSON performs an authenticated JSON call, retrying once after a token
// refresh when the platform reports the token stale.
func (c *Client) doJSON(ctx context.Context, method, path string, body any) (*apiResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.doJSONOnce(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if isTokenError(resp.Code) {
		c.clearToken()
		return c.doJSONOnce(ctx, method, path, body)
	}
	return resp, nil
}

func (c *Client) doJSONOnce(ctx context.Context, method, path string, body any) (*apiResponse, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feishu api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("feishu api decode: %w", err)
	}
	return &result, nil
}

// doDownload performs an authenticated GET returning raw bytes.
func (c *Client) doDownload(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feishu download %s: %w", path, err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, _ := mime.ParseMediaType(ct); mt == "application/json" {
			var errResp apiResponse
			if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Code != 0 {
				return nil, fmt.Errorf("feishu download error: code=%d msg=%s", errResp.Code, errResp.Msg)
			}
			return nil, fmt.Errorf("feishu download: unexpected json response")
		}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("feishu read download: %w", err)
	}
	return data, nil
}

// SendMessageResult carries the platform id of a sent message.
type SendMessageResult struct {
	MessageID string `json:"message_id"`
}

// SendMessage creates a message in a chat. msgType is "interactive" for
// cards and "post" for rich text; content is the serialized payload.
func (c *Client) SendMessage(ctx context.Context, chatID, msgType, content string) (*SendMessageResult, error) {
	path := "/open-apis/im/v1/messages?receive_id_type=chat_id"
	resp, err := c.doJSON(ctx, "POST", path, map[string]string{
		"receive_id": chatID,
		"msg_type":   msgType,
		"content":    content,
	})
	if err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("send message: code=%d msg=%s", resp.Code, resp.Msg)
	}
	var data SendMessageResult
	json.Unmarshal(resp.Data, &data)
	return &data, nil
}

// SendCard sends an interactive card.
func (c *Client) SendCard(ctx context.Context, chatID string, card any) (*SendMessageResult, error) {
	content, err := json.Marshal(card)
	if err != nil {
		return nil, fmt.Errorf("marshal card: %w", err)
	}
	return c.SendMessage(ctx, chatID, "interactive", string(content))
}

// SendPost sends a rich-text post document.
func (c *Client) SendPost(ctx context.Context, chatID string, post any) (*SendMessageResult, error) {
	content, err := json.Marshal(post)
	if err != nil {
		return nil, fmt.Errorf("marshal post: %w", err)
	}
	return c.SendMessage(ctx, chatID, "post", string(content))
}

// AddReaction puts an emoji reaction on a message and returns the reaction id.
func (c *Client) AddReaction(ctx context.Context, messageID, emojiType string) (string, error) {
	path := fmt.Sprintf("/open-apis/im/v1/messages/%s/reactions", messageID)
	resp, err := c.doJSON(ctx, "POST", path, map[string]any{
		"reaction_type": map[string]string{"emoji_type": emojiType},
	})
	if err != nil {
		return "", err
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("add reaction: code=%d msg=%s", resp.Code, resp.Msg)
	}
	var data struct {
		ReactionID string `json:"reaction_id"`
	}
	json.Unmarshal(resp.Data, &data)
	return data.ReactionID, nil
}

// ListReactions returns the reaction ids of the given emoji kind on a message.
func (c *Client) ListReactions(ctx context.Context, messageID, emojiType string) ([]string, error) {
	path := fmt.Sprintf("/open-apis/im/v1/messages/%s/reactions?reaction_type=%s", messageID, url.QueryEscape(emojiType))
	resp, err := c.doJSON(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("list reactions: code=%d msg=%s", resp.Code, resp.Msg)
	}
	var data struct {
		Items []struct {
			ReactionID string `json:"reaction_id"`
		} `json:"items"`
	}
	json.Unmarshal(resp.Data, &data)
	ids := make([]string, 0, len(data.Items))
	for _, it := range data.Items {
		ids = append(ids, it.ReactionID)
	}
	return ids, nil
}

// DeleteReaction removes one reaction by id.
func (c *Client) DeleteReaction(ctx context.Context, messageID, reactionID string) error {
	path := fmt.Sprintf("/open-apis/im/v1/messages/%s/reactions/%s", messageID, reactionID)
	resp, err := c.doJSON(ctx, "DELETE", path, nil)
	if err != nil {
		return err
	}
	if resp.Code != 0 {
		return fmt.Errorf("delete reaction: code=%d msg=%s", resp.Code, resp.Msg)
	}
	return nil
}

// DownloadMessageImage fetches an image attached to a received message.
func (c *Client) DownloadMessageImage(ctx context.Context, messageID, imageKey string) ([]byte, error) {
	path := fmt.Sprintf("/open-apis/im/v1/messages/%s/resources/%s?type=image", messageID, imageKey)
	return c.doDownload(ctx, path)
}

// Probe verifies the credentials by fetching the bot identity.
func (c *Client) Probe(ctx context.Context) error {
	resp, err := c.doJSON(ctx, "GET", "/open-apis/bot/v3/info", nil)
	if err != nil {
		return err
	}
	if resp.Code != 0 {
		return fmt.Errorf("bot info: code=%d msg=%s", resp.Code, resp.Msg)
	}
	return nil
}
