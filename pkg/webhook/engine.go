// Package webhook is the Webhook Fan-out Engine (component I, spec.md
// §4.I): subscription lookup, payload composition, per-destination retry
// with backoff, delivery logging and running statistics.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/crm/pkg/entities"
	"github.com/crm/pkg/rowstore"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	deliveryTimeout    = 10 * time.Second
	responseBodyMax    = 2048
	defaultWorkerCount = 8
	defaultQueueDepth  = 512
)

// Event is what producers (Supervisor, Admission Pipeline, Send Executor)
// hand to Publish. Fields is engine-specific data merged into the
// composed payload below the fixed envelope fields.
type Event struct {
	UserID    uint
	SessionID string
	Type      entities.WebhookEventType
	Success   *bool // nil when the event has no pass/fail axis
	Fields    map[string]interface{}
}

// job is one queued (webhook, event) delivery, including retries.
type job struct {
	webhook entities.Webhook
	event   Event
	payload map[string]interface{}
}

// Engine fans events out to subscribed webhooks. Delivery is fire-and-
// forget from the producer's perspective: Publish enqueues and returns;
// a bounded worker pool (spec.md §9 redesign: "promote to a bounded
// background worker pool") does the actual HTTP calls and retries.
type Engine struct {
	db       *gorm.DB
	store    *rowstore.Store
	client   *http.Client
	limiter  *rate.Limiter
	queue    chan job
	userAgent string
}

func NewEngine(db *gorm.DB, workers int, queueDepth int) *Engine {
	if workers <= 0 {
		workers = defaultWorkerCount
	}
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	e := &Engine{
		db:        db,
		store:     rowstore.New(db),
		client:    &http.Client{Timeout: deliveryTimeout},
		limiter:   rate.NewLimiter(rate.Limit(50), 100),
		queue:     make(chan job, queueDepth),
		userAgent: "whatsapp-gateway-webhooks/1.0",
	}
	for i := 0; i < workers; i++ {
		go e.worker()
	}
	return e
}

// Publish looks up subscribers for (UserID, SessionID, Type), composes
// the payload for each, and enqueues delivery. It never blocks on the
// network and never awaits a retry loop.
func (e *Engine) Publish(ctx context.Context, evt Event) {
	var hooks []entities.Webhook
	err := e.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ? AND is_active = ? AND (webhook_type = ? OR webhook_type = ?)",
			evt.UserID, evt.SessionID, true, evt.Type, entities.WebhookAll).
		Find(&hooks).Error
	if err != nil {
		log.Error().Err(err).Msg("webhook subscription lookup failed")
		return
	}

	for _, hook := range hooks {
		payload := composePayload(evt)
		select {
		case e.queue <- job{webhook: hook, event: evt, payload: payload}:
		default:
			log.Warn().Uint("webhook_id", hook.ID).Msg("webhook queue full, dropping delivery")
		}
	}
}

// composePayload builds the engine's fixed envelope; deliver then
// deep-merges custom_payload over it — custom keys win on conflict
// (spec.md §4.I).
func composePayload(evt Event) map[string]interface{} {
	payload := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if evt.Success != nil {
		payload["success"] = *evt.Success
	}
	for k, v := range evt.Fields {
		payload[k] = v
	}
	return payload
}

func deepMerge(base map[string]interface{}, overlay map[string]interface{}) map[string]interface{} {
	for k, v := range overlay {
		if bv, ok := base[k]; ok {
			if bMap, ok1 := bv.(map[string]interface{}); ok1 {
				if oMap, ok2 := v.(map[string]interface{}); ok2 {
					base[k] = deepMerge(bMap, oMap)
					continue
				}
			}
		}
		base[k] = v
	}
	return base
}

func (e *Engine) worker() {
	for j := range e.queue {
		e.deliver(j)
	}
}

func selectURL(hook entities.Webhook, evt Event) string {
	if evt.Success != nil {
		if *evt.Success && hook.SuccessWebhookURL != "" {
			return hook.SuccessWebhookURL
		}
		if !*evt.Success && hook.FailureWebhookURL != "" {
			return hook.FailureWebhookURL
		}
	}
	return hook.URL
}

func (e *Engine) deliver(j job) {
	maxAttempts := j.webhook.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if !j.webhook.RetryEnabled {
		maxAttempts = 1
	}
	retryDelay := time.Duration(j.webhook.RetryDelaySeconds) * time.Second
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}

	var payload map[string]interface{}
	var customOverlay map[string]interface{}
	if j.webhook.CustomPayload != "" {
		_ = json.Unmarshal([]byte(j.webhook.CustomPayload), &customOverlay)
	}
	payload = deepMerge(j.payload, customOverlay)

	body, _ := json.Marshal(payload)
	url := selectURL(j.webhook, j.event)

	var lastErr error
	var lastStatus int
	success := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := e.limiter.Wait(context.Background()); err != nil {
			lastErr = err
			break
		}

		status, respBody, err := e.post(url, body, j.webhook)
		isRetry := attempt > 1
		lastErr = err
		lastStatus = status
		success = err == nil && status >= 200 && status < 300

		e.logAttempt(j.webhook.ID, j.event.Type, string(body), status, respBody, success, errString(err), attempt, isRetry)

		if success {
			break
		}
		if attempt < maxAttempts {
			time.Sleep(retryDelay)
		}
	}

	if err := e.store.UpdateWebhookStats(context.Background(), j.webhook.ID, success); err != nil {
		log.Error().Err(err).Uint("webhook_id", j.webhook.ID).Msg("webhook stats update failed")
	}

	if !success {
		log.Warn().Uint("webhook_id", j.webhook.ID).Int("status", lastStatus).Err(lastErr).
			Str("event", string(j.event.Type)).Msg("webhook delivery failed after retries")
	}
}

func (e *Engine) post(url string, body []byte, hook entities.Webhook) (int, string, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", e.userAgent)

	if hook.Secret != "" {
		mac := hmac.New(sha256.New, []byte(hook.Secret))
		mac.Write(body)
		req.Header.Set("X-Webhook-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	var customHeaders map[string]string
	if hook.Headers != "" {
		_ = json.Unmarshal([]byte(hook.Headers), &customHeaders)
	}
	for k, v := range customHeaders {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, responseBodyMax)
	respBody, _ := io.ReadAll(limited)
	return resp.StatusCode, string(respBody), nil
}

func (e *Engine) logAttempt(webhookID uint, eventType entities.WebhookEventType, payload string, status int, respBody string, success bool, errMsg string, attempt int, isRetry bool) {
	entry := entities.WebhookLog{
		WebhookID:      webhookID,
		EventType:      eventType,
		Payload:        payload,
		ResponseStatus: status,
		ResponseBody:   respBody,
		Success:        success,
		ErrorMessage:   errMsg,
		Attempt:        attempt,
		IsRetry:        isRetry,
	}
	if err := e.db.Create(&entry).Error; err != nil {
		log.Error().Err(err).Msg("webhook log write failed")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// TestFire triggers a synthetic event for the "…/test" dashboard endpoint
// in spec.md §6.
func (e *Engine) TestFire(ctx context.Context, hook entities.Webhook) {
	success := true
	e.Publish(ctx, Event{
		UserID:    hook.UserID,
		SessionID: hook.SessionID,
		Type:      hook.WebhookType,
		Success:   &success,
		Fields: map[string]interface{}{
			"event": "test",
			"id":    uuid.NewString(),
		},
	})
}
