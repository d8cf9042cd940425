package hooks

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

const webhookRateLimit = 10

var defaultWebhookBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// RegisterBuiltInActions registers the default action handlers.
func RegisterBuiltInActions(m *HookManager) {
	m.RegisterAction(ActionLogWarning, handleLogWarning)
	m.RegisterAction(ActionNotifyWebhook, NewWebhookHandler().Handle)
}

func handleLogWarning(hook *Hook, ctx *EventContext) error {
	msg, _ := hook.Params["message"].(string)
	if msg == "" {
		msg = "Hook triggered"
	}
	entry := log.WithField("event", ctx.Event)
	if ctx.RoundID != "" {
		entry = entry.WithField("round_id", ctx.RoundID)
	}
	if ctx.Responder != "" {
		entry = entry.WithField("responder", ctx.Responder)
	}
	entry.Warnf("[Hook: %s] %s", hook.Name, msg)
	return nil
}

// WebhookHandler posts events to external URLs with per-URL rate limiting,
// optional HMAC signing and retries.
type WebhookHandler struct {
	mu           sync.Mutex
	rateLimiters map[string]*rateLimiter
	client       *http.Client
	backoff      []time.Duration
}

type rateLimiter struct {
	count    int
	lastTime time.Time
}

// NewWebhookHandler creates a handler with a 5s HTTP timeout and 1s/2s/4s retries.
func NewWebhookHandler() *WebhookHandler {
	return &WebhookHandler{
		rateLimiters: make(map[string]*rateLimiter),
		client:       &http.Client{Timeout: 5 * time.Second},
		backoff:      defaultWebhookBackoff,
	}
}

// Handle is the ActionHandler for notify_webhook.
func (h *WebhookHandler) Handle(hook *Hook, ctx *EventContext) error {
	url, _ := hook.Params["url"].(string)
	if url == "" {
		return fmt.Errorf("missing webhook url")
	}
	if !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://localhost") {
		return fmt.Errorf("insecure webhook url (must be https or localhost): %s", url)
	}
	if !h.checkRateLimit(url) {
		return fmt.Errorf("rate limit exceeded for webhook: %s", url)
	}

	body, err := webhookPayload(hook, ctx)
	if err != nil {
		return fmt.Errorf("failed to build webhook payload: %w", err)
	}
	secret, _ := hook.Params["secret"].(string)

	var lastErr error
	for i := 0; i <= len(h.backoff); i++ {
		if i > 0 {
			time.Sleep(h.backoff[i-1])
		}
		if lastErr = h.post(url, secret, body); lastErr == nil {
			return nil
		}
		log.Warnf("Webhook attempt %d failed: %v", i+1, lastErr)
	}
	return fmt.Errorf("webhook failed after retries: %w", lastErr)
}

func (h *WebhookHandler) post(url, secret string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "trustlayer-hooks/1.0")
	if secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		req.Header.Set("X-Hook-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func webhookPayload(hook *Hook, ctx *EventContext) ([]byte, error) {
	payload := []byte(`{}`)
	set := func(path string, value any) error {
		var err error
		payload, err = sjson.SetBytes(payload, path, value)
		return err
	}

	if err := set("event", string(ctx.Event)); err != nil {
		return nil, err
	}
	if err := set("timestamp", ctx.Timestamp.UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}
	if err := set("hook_id", hook.ID); err != nil {
		return nil, err
	}
	if err := set("data", ctx.Data); err != nil {
		return nil, err
	}
	if ctx.RoundID != "" {
		if err := set("round_id", ctx.RoundID); err != nil {
			return nil, err
		}
	}
	if ctx.Responder != "" {
		if err := set("responder", ctx.Responder); err != nil {
			return nil, err
		}
	}
	if ctx.ErrorMessage != "" {
		if err := set("error", ctx.ErrorMessage); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

func (h *WebhookHandler) checkRateLimit(url string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	limiter, exists := h.rateLimiters[url]
	if !exists {
		limiter = &rateLimiter{lastTime: now}
		h.rateLimiters[url] = limiter
	}
	if now.Sub(limiter.lastTime) > time.Minute {
		limiter.count = 0
		limiter.lastTime = now
	}
	if limiter.count >= webhookRateLimit {
		return false
	}
	limiter.count++
	return true
}
