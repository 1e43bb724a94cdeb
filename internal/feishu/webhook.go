package feishu

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RateLimitCode is the platform's webhook rate-limit response code.
const RateLimitCode = 11232

// ErrRateLimited signals the caller to widen its merge window; the dropped
// message is not retried.
var ErrRateLimited = errors.New("feishu webhook rate limited")

// allowedWebhookSuffixes whitelists the CN and international service hosts.
var allowedWebhookSuffixes = []string{"feishu.cn", "larksuite.com"}

// ValidateWebhookURL rejects webhook targets outside the whitelisted host
// set before any request is issued.
func ValidateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse webhook url: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("webhook url must use https, got %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	for _, suffix := range allowedWebhookSuffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return nil
		}
	}
	return fmt.Errorf("webhook host %q is not a recognized service domain", host)
}

// SignWebhook computes the webhook signature for a timestamp: HMAC-SHA256
// keyed by "timestamp\nsecret" over an empty input, base64-encoded.
func SignWebhook(timestamp int64, secret string) string {
	key := strconv.FormatInt(timestamp, 10) + "\n" + secret
	mac := hmac.New(sha256.New, []byte(key))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// WebhookSender posts cards to push-bot webhooks.
type WebhookSender struct {
	httpClient *http.Client
}

// NewWebhookSender creates a sender with a bounded request timeout.
func NewWebhookSender() *WebhookSender {
	return &WebhookSender{httpClient: &http.Client{Timeout: 15 * time.Second}}
}

// SendCard posts an interactive card to the webhook. A non-empty signSecret
// adds the timestamp+sign fields. Returns ErrRateLimited on the service's
// rate-limit code.
func (s *WebhookSender) SendCard(ctx context.Context, webhookURL, signSecret string, card any) error {
	return s.send(ctx, webhookURL, signSecret, map[string]any{
		"msg_type": "interactive",
		"card":     card,
	})
}

// SendPost posts a rich-text document to the webhook.
func (s *WebhookSender) SendPost(ctx context.Context, webhookURL, signSecret string, post any) error {
	return s.send(ctx, webhookURL, signSecret, map[string]any{
		"msg_type": "post",
		"content":  map[string]any{"post": post},
	})
}

func (s *WebhookSender) send(ctx context.Context, webhookURL, signSecret string, payload map[string]any) error {
	if err := ValidateWebhookURL(webhookURL); err != nil {
		return err
	}
	if signSecret != "" {
		ts := time.Now().Unix()
		payload["timestamp"] = strconv.FormatInt(ts, 10)
		payload["sign"] = SignWebhook(ts, signSecret)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("webhook response decode: %w", err)
	}
	switch {
	case result.Code == 0:
		return nil
	case result.Code == RateLimitCode:
		return ErrRateLimited
	default:
		return fmt.Errorf("webhook error: code=%d msg=%s", result.Code, result.Msg)
	}
}
