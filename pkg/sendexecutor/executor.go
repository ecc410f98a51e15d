// Package sendexecutor is the Send Executor (component H, spec.md §4.H):
// recipient normalization, dispatch to a ready supervisor, delivery
// tracking, and automation-log persistence. It never touches wallets or
// quotas — that is the Admission Pipeline's job.
package sendexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/crm/pkg/entities"
	"github.com/crm/pkg/supervisor"
	"gorm.io/gorm"
)

// CostPerMessage is the flat per-message wallet debit in IQD.
const CostPerMessage = 10

var recipientPattern = regexp.MustCompile(`^\d{9,15}$`)

// NormalizeRecipient strips a leading '+' and any non-digit characters,
// then checks the result against the accepted shape (spec.md §4.G gate 2).
func NormalizeRecipient(raw string) (string, bool) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "+")
	var b strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	return digits, recipientPattern.MatchString(digits)
}

// RecipientOutcome is what one recipient resolved to within a send.
type RecipientOutcome struct {
	Recipient string
	Outcome   supervisor.Outcome
	MessageID string
	ChatID    string
	Reason    string
}

func (o RecipientOutcome) Failed() bool {
	return o.Outcome != supervisor.OutcomeSent
}

type Executor struct {
	db *gorm.DB
}

func NewExecutor(db *gorm.DB) *Executor {
	return &Executor{db: db}
}

// SendOne dispatches a single already-normalized recipient through the
// supervisor and, on success, installs a delivery-tracking row.
func (e *Executor) SendOne(ctx context.Context, sup *supervisor.Supervisor, sessionID, recipient, text string) RecipientOutcome {
	result := sup.Send(ctx, supervisor.Envelope{Recipient: recipient, Text: text})
	outcome := RecipientOutcome{
		Recipient: recipient,
		Outcome:   result.Outcome,
		MessageID: result.MessageID,
		ChatID:    result.ChatID,
		Reason:    result.Reason,
	}
	if result.Outcome == supervisor.OutcomeSent {
		e.installDeliveryTracking(ctx, sessionID, result.MessageID, recipient)
	}
	return outcome
}

// SendBulk iterates recipients sequentially, re-checking readiness before
// each attempt (spec.md §4.H: "so a mid-batch disconnect stops further
// attempts"). Once the supervisor is no longer ready, every remaining
// recipient is recorded as session-closed without a resolve/send attempt.
func (e *Executor) SendBulk(ctx context.Context, sup *supervisor.Supervisor, sessionID, text string, recipients []string) []RecipientOutcome {
	outcomes := make([]RecipientOutcome, 0, len(recipients))
	for _, r := range recipients {
		if !sup.Ready() {
			outcomes = append(outcomes, RecipientOutcome{
				Recipient: r,
				Outcome:   supervisor.OutcomeSessionClosed,
				Reason:    "session no longer ready mid-batch",
			})
			continue
		}
		outcomes = append(outcomes, e.SendOne(ctx, sup, sessionID, r, text))
	}
	return outcomes
}

func (e *Executor) installDeliveryTracking(ctx context.Context, sessionID, messageID, recipient string) {
	if messageID == "" {
		return
	}
	row := entities.MessageDeliveryTracking{
		SessionID: sessionID,
		MessageID: messageID,
		Recipient: recipient,
		Status:    entities.DeliverySent,
		SentAt:    time.Now(),
	}
	e.db.WithContext(ctx).Create(&row)
}

// LogSingle appends the automation-log row for a single-message send.
func (e *Executor) LogSingle(ctx context.Context, userID uint, sessionID string, atype entities.AutomationType, recipient, message string, outcome RecipientOutcome) error {
	status := entities.AutomationSent
	errMsg := ""
	if outcome.Failed() {
		status = entities.AutomationFailed
		errMsg = outcome.Reason
	}
	return e.db.WithContext(ctx).Create(&entities.AutomationLog{
		UserID:       userID,
		SessionID:    sessionID,
		Type:         atype,
		Recipient:    recipient,
		Message:      message,
		Status:       status,
		ErrorMessage: errMsg,
		SentAt:       time.Now(),
	}).Error
}

// LogBulk appends the single automation-log row a bulk send produces:
// recipients serialized as a JSON array, failures as a JSON error list
// (spec.md §4.H).
func (e *Executor) LogBulk(ctx context.Context, userID uint, sessionID string, atype entities.AutomationType, message string, outcomes []RecipientOutcome) error {
	recipients := make([]string, len(outcomes))
	var failures []string
	sentCount := 0
	for i, o := range outcomes {
		recipients[i] = o.Recipient
		if o.Failed() {
			failures = append(failures, fmt.Sprintf("%s: %s", o.Recipient, o.Reason))
		} else {
			sentCount++
		}
	}

	status := entities.AutomationSent
	switch {
	case sentCount == 0:
		status = entities.AutomationFailed
	case sentCount < len(outcomes):
		status = entities.AutomationPartial
	}

	recipientsJSON, _ := json.Marshal(recipients)
	errorsJSON, _ := json.Marshal(failures)

	return e.db.WithContext(ctx).Create(&entities.AutomationLog{
		UserID:       userID,
		SessionID:    sessionID,
		Type:         atype,
		Recipients:   string(recipientsJSON),
		Message:      message,
		Status:       status,
		ErrorMessage: string(errorsJSON),
		SentAt:       time.Now(),
	}).Error
}

// otpTemplates mirrors the fixed short OTP body, Arabic default (spec.md
// §4.H). Only the code and validity window are interpolated.
var otpTemplates = map[string]string{
	"ar": "رمز التحقق الخاص بك هو %s، صالح لمدة 5 دقائق.",
	"en": "Your verification code is %s, valid for 5 minutes.",
}

// ComposeOTP renders the OTP message body for the given language,
// defaulting to Arabic when lang is empty or unrecognized.
func ComposeOTP(code, lang string) string {
	tmpl, ok := otpTemplates[lang]
	if !ok {
		tmpl = otpTemplates["ar"]
	}
	return fmt.Sprintf(tmpl, code)
}
