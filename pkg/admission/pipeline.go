// Package admission is the Metering and Admission Pipeline (component G,
// spec.md §4.G): the ordered gate stack every outbound send passes
// through — session readiness, recipient validation, subscription,
// rate limit, wallet debit, dispatch and settle — with compensating
// refund semantics on failure.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crm/pkg/entities"
	"github.com/crm/pkg/ratelimit"
	"github.com/crm/pkg/registry"
	"github.com/crm/pkg/sendexecutor"
	"github.com/crm/pkg/subscription"
	"github.com/crm/pkg/supervisor"
	"github.com/crm/pkg/wallet"
	"github.com/crm/pkg/webhook"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Reason is the structured rejection code a gate returns; it doubles as
// the API surface's error body field (spec.md §7).
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonInitializing         Reason = "initializing"
	ReasonSessionBad           Reason = "session-bad"
	ReasonBadRecipient         Reason = "bad-recipient"
	ReasonSubscriptionExceeded Reason = "subscription-exceeded"
	ReasonRateLimit            Reason = "rate-limit"
	ReasonInsufficientBalance  Reason = "insufficient-balance"
)

// HTTPStatus maps a Reason to the status code spec.md §6 assigns it.
func (r Reason) HTTPStatus() int {
	switch r {
	case ReasonNone:
		return 200
	case ReasonInitializing:
		return 503
	case ReasonSessionBad, ReasonBadRecipient:
		return 400
	case ReasonSubscriptionExceeded:
		return 403
	case ReasonRateLimit:
		return 429
	case ReasonInsufficientBalance:
		return 402
	default:
		return 500
	}
}

const readinessPollInterval = 500 * time.Millisecond
const readinessPollTimeout = 15 * time.Second

// Request describes one outbound send, single or bulk.
type Request struct {
	UserID     uint
	SessionID  string
	Recipients []string
	Message    string
	Type       entities.AutomationType

	// RateLimitCount is how many messages this request counts against the
	// rate-limit windows; equals len(Recipients) unless the caller wants
	// a different weighting (unused today, kept explicit per spec.md §4.G
	// "requested count").
	RateLimitCount int
}

// RecipientResult mirrors sendexecutor.RecipientOutcome plus whether the
// recipient was rejected before dispatch (bad shape, never attempted).
type RecipientResult struct {
	Recipient string
	Sent      bool
	Reason    string
}

// Report is the pipeline's verdict: either a whole-request rejection
// (Reason set, no dispatch attempted) or a per-recipient breakdown.
type Report struct {
	Reason     Reason
	HTTPStatus int
	Results    []RecipientResult
	SentCount  int
	FailCount  int
	RefundedAmount float64

	// RateLimit is set only when Reason == ReasonRateLimit; it carries the
	// window/limit/current-count detail spec.md §4.G gate 4 and the
	// rate-limit E2E scenario require in the rejection body.
	RateLimit *RateLimitDetail
}

// RateLimitDetail is the structured detail behind a rate-limit rejection.
type RateLimitDetail struct {
	Window       ratelimit.Window
	Limit        int
	CurrentCount int64
}

type Pipeline struct {
	db       *gorm.DB
	registry *registry.Registry
	subs     *subscription.Service
	rates    *ratelimit.Service
	wallets  *wallet.Service
	exec     *sendexecutor.Executor
	webhooks *webhook.Engine
}

func NewPipeline(db *gorm.DB, reg *registry.Registry, subs *subscription.Service, rates *ratelimit.Service, wallets *wallet.Service, exec *sendexecutor.Executor, webhooks *webhook.Engine) *Pipeline {
	return &Pipeline{db: db, registry: reg, subs: subs, rates: rates, wallets: wallets, exec: exec, webhooks: webhooks}
}

// Send runs the full gate stack for req and returns the settled report.
// req.Recipients may hold one entry (single-message path) or many (bulk).
func (p *Pipeline) Send(ctx context.Context, req Request) Report {
	if req.RateLimitCount <= 0 {
		req.RateLimitCount = len(req.Recipients)
	}

	// Gate 1: session presence and readiness.
	sup, reason := p.ensureReady(ctx, req.SessionID, req.UserID)
	if reason != ReasonNone {
		return Report{Reason: reason, HTTPStatus: reason.HTTPStatus()}
	}

	// Gate 2: recipient validation. Invalid recipients never reach the
	// wallet or subscription gates; if every recipient is invalid, the
	// whole request is rejected.
	valid := make([]string, 0, len(req.Recipients))
	results := make([]RecipientResult, 0, len(req.Recipients))
	for _, raw := range req.Recipients {
		digits, ok := sendexecutor.NormalizeRecipient(raw)
		if !ok {
			results = append(results, RecipientResult{Recipient: raw, Sent: false, Reason: "bad-recipient"})
			continue
		}
		valid = append(valid, digits)
	}
	if len(valid) == 0 {
		return Report{Reason: ReasonBadRecipient, HTTPStatus: ReasonBadRecipient.HTTPStatus(), Results: results}
	}

	// Gate 3: subscription admission.
	check, err := p.subs.Check(ctx, req.UserID, len(valid), numbersNeeded(req.Type))
	if err != nil {
		log.Error().Err(err).Msg("subscription check failed")
		return Report{Reason: ReasonSubscriptionExceeded, HTTPStatus: 500, Results: results}
	}
	if !check.Allowed {
		return Report{Reason: ReasonSubscriptionExceeded, HTTPStatus: ReasonSubscriptionExceeded.HTTPStatus(), Results: results}
	}

	// Gate 4: rate limit. req.RateLimitCount (defaulted above to the
	// recipient count) is the "requested count" spec.md §4.G gate 4 adds
	// to each window's running count before comparing against its cap.
	rlResult, err := p.rates.Check(ctx, req.UserID, req.RateLimitCount)
	if err != nil {
		log.Error().Err(err).Msg("rate limit check failed")
		return Report{Reason: ReasonRateLimit, HTTPStatus: 500, Results: results}
	}
	if !rlResult.Allowed {
		return Report{
			Reason:     ReasonRateLimit,
			HTTPStatus: ReasonRateLimit.HTTPStatus(),
			Results:    results,
			RateLimit: &RateLimitDetail{
				Window:       rlResult.ExceededWindow,
				Limit:        rlResult.Limit,
				CurrentCount: rlResult.CurrentCount,
			},
		}
	}

	// Gate 5: wallet debit, upfront for the whole valid batch (spec.md §9
	// resolved open question: "upfront-and-refund").
	cost := float64(len(valid)) * sendexecutor.CostPerMessage
	referenceID := fmt.Sprintf("%s-%d", req.SessionID, time.Now().UnixNano())
	_, err = p.wallets.Debit(ctx, req.UserID, req.SessionID, cost, string(req.Type), referenceID)
	if errors.Is(err, wallet.ErrInsufficientBalance) {
		return Report{Reason: ReasonInsufficientBalance, HTTPStatus: ReasonInsufficientBalance.HTTPStatus(), Results: results}
	}
	if err != nil {
		log.Error().Err(err).Msg("wallet debit failed")
		return Report{Reason: ReasonInsufficientBalance, HTTPStatus: 500, Results: results}
	}

	// Gate 6: dispatch and settle.
	var outcomes []sendexecutor.RecipientOutcome
	if len(valid) == 1 {
		outcomes = []sendexecutor.RecipientOutcome{p.exec.SendOne(ctx, sup, req.SessionID, valid[0], req.Message)}
		_ = p.exec.LogSingle(ctx, req.UserID, req.SessionID, req.Type, valid[0], req.Message, outcomes[0])
	} else {
		outcomes = p.exec.SendBulk(ctx, sup, req.SessionID, req.Message, valid)
		_ = p.exec.LogBulk(ctx, req.UserID, req.SessionID, req.Type, req.Message, outcomes)
	}

	sentCount := 0
	failCount := 0
	for _, o := range outcomes {
		sent := o.Outcome == supervisor.OutcomeSent
		if sent {
			sentCount++
		} else {
			failCount++
		}
		results = append(results, RecipientResult{Recipient: o.Recipient, Sent: sent, Reason: string(o.Reason)})
	}

	refunded := 0.0
	if failCount > 0 {
		refunded = float64(failCount) * sendexecutor.CostPerMessage
		reason := "send failure"
		if failCount == len(valid) {
			reason = "all recipients failed"
		}
		if _, err := p.wallets.Refund(ctx, req.UserID, req.SessionID, refunded, reason, referenceID); err != nil {
			log.Error().Err(err).Msg("compensating refund failed")
		}
	}

	if sentCount > 0 {
		if err := p.subs.RecordUsage(ctx, req.UserID, sentCount, 0); err != nil {
			log.Warn().Err(err).Msg("subscription usage increment failed")
		}
	}

	p.publishOutcome(ctx, req, outcomes, sentCount, failCount)

	return Report{
		Reason:         ReasonNone,
		HTTPStatus:     200,
		Results:        results,
		SentCount:      sentCount,
		FailCount:      failCount,
		RefundedAmount: refunded,
	}
}

func numbersNeeded(atype entities.AutomationType) int {
	return 0
}

// ensureReady implements gate 1, including the on-demand restoration path
// (spec.md §4.E "On-demand restoration") and the 15s/500ms readiness poll.
func (p *Pipeline) ensureReady(ctx context.Context, sessionID string, userID uint) (*supervisor.Supervisor, Reason) {
	sup, ok := p.registry.Get(sessionID)
	if !ok {
		var row entities.Session
		if err := p.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&row).Error; err != nil {
			return nil, ReasonSessionBad
		}
		if row.Status != entities.SessionConnected {
			return nil, ReasonSessionBad
		}
		sup = p.registry.CreateIfAbsent(sessionID, userID, true)
	}

	if sup.Ready() {
		return sup, ReasonNone
	}

	deadline := time.Now().Add(readinessPollTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ReasonInitializing
		case <-time.After(readinessPollInterval):
		}
		if sup.Ready() {
			return sup, ReasonNone
		}
		if terminal(sup.Status()) {
			return nil, ReasonSessionBad
		}
	}
	return nil, ReasonInitializing
}

func terminal(status entities.SessionStatus) bool {
	return status == entities.SessionFailed || status == entities.SessionDisconnected
}

func (p *Pipeline) publishOutcome(ctx context.Context, req Request, outcomes []sendexecutor.RecipientOutcome, sentCount, failCount int) {
	if p.webhooks == nil {
		return
	}

	switch req.Type {
	case entities.AutomationOTP:
		success := failCount == 0
		eventName := "otp_sent"
		if !success {
			eventName = "otp_failed"
		}
		var recipient string
		if len(outcomes) > 0 {
			recipient = outcomes[0].Recipient
		}
		p.webhooks.Publish(ctx, webhook.Event{
			UserID:    req.UserID,
			SessionID: req.SessionID,
			Type:      entities.WebhookOTP,
			Success:   &success,
			Fields: map[string]interface{}{
				"event":     eventName,
				"recipient": recipient,
			},
		})
	case entities.AutomationAnnouncement:
		success := failCount == 0
		errs := make([]string, 0, failCount)
		for _, o := range outcomes {
			if o.Outcome != supervisor.OutcomeSent {
				errs = append(errs, fmt.Sprintf("%s: %s", o.Recipient, o.Reason))
			}
		}
		p.webhooks.Publish(ctx, webhook.Event{
			UserID:    req.UserID,
			SessionID: req.SessionID,
			Type:      entities.WebhookAnnouncement,
			Success:   &success,
			Fields: map[string]interface{}{
				"event":  "announcement_sent",
				"sent":   sentCount,
				"failed": failCount,
				"errors": errs,
			},
		})
	}
}
