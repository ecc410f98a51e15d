// Package supervisor implements the per-session Session Supervisor
// (component E, spec.md §4.E): the actor that owns one browser worker for
// its entire lifetime, drives the QR → authenticated → ready → terminal
// state machine, and exposes a Send operation safe to call concurrently.
//
// Rather than the source's callback-closures-over-request-objects model,
// each Supervisor runs its own event loop consuming Worker.Events() —
// spec.md §9's "explicit task + channel model" redesign — while Send
// itself is guarded by a per-supervisor mutex so dispatches against one
// session never interleave (spec.md §5 "no two event callbacks execute
// concurrently for the same session").
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crm/pkg/apikey"
	"github.com/crm/pkg/browserworker"
	"github.com/crm/pkg/entities"
	"github.com/crm/pkg/sessionstorage"
	"github.com/crm/pkg/webhook"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	restoreDeadline    = 120 * time.Second
	newSessionDeadline = 5 * time.Minute
)

// Outcome is what Send reports back to the Send Executor.
type Outcome string

const (
	OutcomeSent            Outcome = "sent"
	OutcomeNotReady        Outcome = "not-ready"
	OutcomeUnreachable     Outcome = "unreachable-recipient"
	OutcomeSessionClosed   Outcome = "session-closed"
	OutcomeSendFailed      Outcome = "send-failed"
)

// Envelope is a single outbound send request against a ready session.
type Envelope struct {
	Recipient string // digits-only, 9-15 chars, already validated by the caller
	Text      string
}

// Result carries the outcome plus whatever detail Send Executor logs.
type Result struct {
	Outcome   Outcome
	MessageID string
	ChatID    string
	Reason    string
}

// WorkerFactory builds the opaque browser worker for a session, keyed by
// its local auth directory.
type WorkerFactory func(sessionID, authDir string) browserworker.Worker

// Deps are the collaborators every Supervisor shares, injected once by
// the Registry.
type Deps struct {
	DB                  *gorm.DB
	Storage             *sessionstorage.Service
	APIKeys             *apikey.Service
	Webhooks            *webhook.Engine
	Workers             WorkerFactory
	ForceDisconnectOthers func(ctx context.Context, userID uint, exceptSessionID string)
	IncrementNumbersUsed  func(ctx context.Context, userID uint) error
	Evict                 func(sessionID string)
}

// Supervisor is the per-session actor. Exported fields are read-only
// snapshots; all mutation goes through the event loop or Send's mutex.
//
// A Supervisor outlives any single HTTP request that creates or looks it
// up, so its event loop never runs against a caller's request context —
// that context is cancelled the moment the handler returns, which would
// otherwise kill every DB write and webhook publish the loop makes after
// the response is sent. Instead it owns its own background context,
// cancelled only when the supervisor reaches a terminal state.
type Supervisor struct {
	SessionID string
	UserID    uint

	deps   Deps
	worker browserworker.Worker

	mu           sync.RWMutex
	status       entities.SessionStatus
	lastActivity time.Time

	sendMu sync.Mutex

	stopDeadline chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func New(sessionID string, userID uint, deps Deps) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		SessionID:    sessionID,
		UserID:       userID,
		deps:         deps,
		status:       entities.SessionInitializing,
		lastActivity: time.Now(),
		stopDeadline: make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (s *Supervisor) Status() entities.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Supervisor) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Ready reports whether the worker exists, reports a non-empty identity
// and a live connection, and the supervisor's status is connected.
func (s *Supervisor) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worker != nil && s.worker.IsReady() && s.status == entities.SessionConnected
}

// Start begins initialization in the background: restore-from-object-store
// (best effort), construct the worker, connect, and run the event loop.
// It returns once the worker construction attempt (not connection) has
// been kicked off — callers never block on QR resolution. The event loop
// runs against the supervisor's own lifetime context, not the caller's.
func (s *Supervisor) Start(isRestore bool) {
	go s.run(isRestore)
}

func (s *Supervisor) run(isRestore bool) {
	ctx := s.ctx
	logger := log.With().Str("session_id", s.SessionID).Uint("user_id", s.UserID).Logger()

	if s.deps.Storage != nil {
		if _, err := s.deps.Storage.Restore(ctx, s.SessionID); err != nil {
			logger.Warn().Err(err).Msg("auth directory restore failed, proceeding as first-time auth")
		}
	}

	authDir := s.SessionID
	if s.deps.Storage != nil {
		authDir = s.deps.Storage.AuthDir(s.SessionID)
	}

	worker := s.deps.Workers(s.SessionID, authDir)
	s.mu.Lock()
	s.worker = worker
	s.mu.Unlock()

	deadline := newSessionDeadline
	if isRestore {
		deadline = restoreDeadline
	}
	go s.watchDeadline(deadline, isRestore)

	if err := worker.Init(ctx); err != nil {
		logger.Error().Err(err).Msg("worker init failed")
		s.terminal(entities.SessionFailed, entities.ConnEventError, err.Error())
		return
	}

	for evt := range worker.Events() {
		s.handleWorkerEvent(evt)
	}
}

func (s *Supervisor) watchDeadline(deadline time.Duration, isRestore bool) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case <-timer.C:
		if s.Status() == entities.SessionConnected {
			return
		}
		terminalState := entities.SessionFailed
		if isRestore {
			terminalState = entities.SessionDisconnected
		}
		s.terminal(terminalState, entities.ConnEventError, "initialization deadline exceeded")
	case <-s.stopDeadline:
		return
	}
}

func (s *Supervisor) handleWorkerEvent(evt browserworker.WorkerEvent) {
	switch evt.Kind {
	case browserworker.EventQR:
		s.transition(entities.SessionQRPending, entities.ConnEventReconnecting, "qr issued")
		s.persistQR(evt.QRCode)
	case browserworker.EventAuthenticated:
		s.transition(entities.SessionConnecting, entities.ConnEventReconnecting, "authenticated, awaiting ready")
		go s.backupAuthDir(s.ctx)
	case browserworker.EventReady:
		s.onReady(evt.Identity)
	case browserworker.EventAuthFailure:
		s.terminal(entities.SessionFailed, entities.ConnEventError, evt.Reason)
	case browserworker.EventDisconnected:
		s.terminal(entities.SessionDisconnected, entities.ConnEventDisconnected, "worker reported disconnect")
	case browserworker.EventMessage:
		s.touch()
		s.publishIncoming(evt.Message)
	case browserworker.EventMessageAck:
		s.touch()
		s.updateDeliveryTracking(evt.Ack)
	}
}

func (s *Supervisor) persistQR(qr []byte) {
	s.deps.DB.Model(&entities.Session{}).Where("session_id = ?", s.SessionID).
		Update("last_qr_code", qr)
}

func (s *Supervisor) backupAuthDir(ctx context.Context) {
	if s.deps.Storage == nil {
		return
	}
	if err := s.deps.Storage.Backup(ctx, s.SessionID); err != nil {
		log.Warn().Err(err).Str("session_id", s.SessionID).Msg("auth directory backup failed")
	}
}

// onReady implements spec.md §4.E's "On ready" clause in full.
func (s *Supervisor) onReady(identity string) {
	ctx := s.ctx
	s.mu.Lock()
	alreadyConnected := s.status == entities.SessionConnected
	s.status = entities.SessionConnected
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.deps.DB.WithContext(ctx).Model(&entities.Session{}).Where("session_id = ?", s.SessionID).
		Updates(map[string]interface{}{
			"phone_number":  identity,
			"status":        entities.SessionConnected,
			"last_qr_code":  nil,
			"last_activity": time.Now(),
		})
	s.appendEvent(entities.ConnEventConnected, fmt.Sprintf("identity=%s", identity))

	if alreadyConnected {
		// Duplicate ready events must not double-run first-connect side
		// effects (spec.md §8 "duplicate ready events do not double-credit").
		return
	}

	if s.deps.ForceDisconnectOthers != nil {
		s.deps.ForceDisconnectOthers(ctx, s.UserID, s.SessionID)
	}

	if s.deps.APIKeys != nil {
		if _, err := s.deps.APIKeys.IssueIfAbsent(ctx, s.UserID, s.SessionID); err != nil {
			log.Warn().Err(err).Str("session_id", s.SessionID).Msg("api key issuance failed")
		}
	}

	if s.deps.IncrementNumbersUsed != nil {
		if err := s.deps.IncrementNumbersUsed(ctx, s.UserID); err != nil {
			log.Warn().Err(err).Str("session_id", s.SessionID).Msg("numbers_used increment failed")
		}
	}
}

func (s *Supervisor) publishIncoming(msg *browserworker.IncomingMessage) {
	if msg == nil || s.deps.Webhooks == nil {
		return
	}
	ctx := s.ctx
	eventType := entities.WebhookIncomingMessage
	switch msg.Kind {
	case "text":
		eventType = entities.WebhookIncomingText
	case "media":
		eventType = entities.WebhookIncomingMedia
	case "location":
		eventType = entities.WebhookIncomingLocation
	}

	s.deps.Webhooks.Publish(ctx, webhook.Event{
		UserID:    s.UserID,
		SessionID: s.SessionID,
		Type:      eventType,
		Fields: map[string]interface{}{
			"event":       "message_received",
			"messageType": msg.Kind,
			"from":        msg.From,
			"text":        msg.Text,
			"timestamp":   msg.Timestamp.UTC().Format(time.RFC3339),
		},
	})

	if eventType != entities.WebhookIncomingMessage {
		s.deps.Webhooks.Publish(ctx, webhook.Event{
			UserID:    s.UserID,
			SessionID: s.SessionID,
			Type:      entities.WebhookIncomingMessage,
			Fields: map[string]interface{}{
				"event":       "message_received",
				"messageType": msg.Kind,
				"from":        msg.From,
				"text":        msg.Text,
				"timestamp":   msg.Timestamp.UTC().Format(time.RFC3339),
			},
		})
	}
}

func (s *Supervisor) updateDeliveryTracking(ack *browserworker.MessageAck) {
	if ack == nil {
		return
	}
	ctx := s.ctx
	now := time.Now()
	updates := map[string]interface{}{}
	eventType := entities.WebhookMessageDelivered
	switch ack.Status {
	case browserworker.AckDelivered:
		updates["status"] = entities.DeliveryDelivered
		updates["delivered_at"] = now
		eventType = entities.WebhookMessageDelivered
	case browserworker.AckRead:
		updates["status"] = entities.DeliveryRead
		updates["read_at"] = now
		eventType = entities.WebhookMessageRead
	default:
		return
	}

	s.deps.DB.WithContext(ctx).Model(&entities.MessageDeliveryTracking{}).
		Where("message_id = ?", ack.MessageID).Updates(updates)

	if s.deps.Webhooks != nil {
		s.deps.Webhooks.Publish(ctx, webhook.Event{
			UserID:    s.UserID,
			SessionID: s.SessionID,
			Type:      eventType,
			Fields: map[string]interface{}{
				"event":      string(eventType),
				"message_id": ack.MessageID,
				"timestamp":  now.UTC().Format(time.RFC3339),
			},
		})
	}
}

func (s *Supervisor) transition(status entities.SessionStatus, eventType entities.ConnectionEventType, details string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	s.deps.DB.WithContext(s.ctx).Model(&entities.Session{}).Where("session_id = ?", s.SessionID).
		Update("status", status)
	s.appendEvent(eventType, details)
}

// terminal moves the supervisor to a terminal state, persists it, evicts
// the registry entry, cancels the supervisor's lifetime context so any
// stray goroutines still holding it unwind. It does not touch the auth
// directory; Disconnect deletes that itself. The persistence write below intentionally
// runs on context.Background(), not s.ctx: it must still land even though
// s.ctx is cancelled in the same breath.
func (s *Supervisor) terminal(status entities.SessionStatus, eventType entities.ConnectionEventType, details string) {
	s.mu.Lock()
	alreadyTerminal := s.status == entities.SessionFailed || s.status == entities.SessionDisconnected
	s.status = status
	select {
	case <-s.stopDeadline:
	default:
		close(s.stopDeadline)
	}
	s.mu.Unlock()

	defer s.cancel()

	if alreadyTerminal {
		return
	}

	s.deps.DB.WithContext(context.Background()).Model(&entities.Session{}).Where("session_id = ?", s.SessionID).
		Update("status", status)
	s.appendEvent(eventType, details)

	if s.deps.Evict != nil {
		s.deps.Evict(s.SessionID)
	}
}

// Disconnect is the explicit user-triggered teardown: close the worker
// (its connection is dropped; no WhatsApp logout is sent), mark the
// session disconnected, and delete the auth directory. The session row
// itself is not deleted here.
func (s *Supervisor) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	worker := s.worker
	s.mu.Unlock()

	if worker != nil {
		_ = worker.Close()
	}

	s.terminal(entities.SessionDisconnected, entities.ConnEventDisconnected, "explicit disconnect")

	if s.deps.Storage != nil {
		return s.deps.Storage.Delete(ctx, s.SessionID)
	}
	return nil
}

func (s *Supervisor) appendEvent(eventType entities.ConnectionEventType, details string) {
	s.deps.DB.Create(&entities.ConnectionEvent{
		SessionID: s.SessionID,
		Type:      eventType,
		Details:   details,
	})
}

// Send is safe to call from any caller provided the session is connected.
// It confirms readiness, resolves the recipient to a chat id, dispatches,
// and classifies the outcome — spec.md §4.E's send(envelope) contract.
// The supervisor does not know about wallets or quotas.
func (s *Supervisor) Send(ctx context.Context, envelope Envelope) Result {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if !s.Ready() {
		return Result{Outcome: OutcomeNotReady}
	}

	s.mu.RLock()
	worker := s.worker
	s.mu.RUnlock()

	chatID, err := worker.ResolveNumber(ctx, envelope.Recipient)
	if err != nil {
		if errIsSessionClosed(err) {
			s.terminal(entities.SessionDisconnected, entities.ConnEventDisconnected, "session closed during resolve")
			return Result{Outcome: OutcomeSessionClosed, Reason: err.Error()}
		}
		return Result{Outcome: OutcomeUnreachable, Reason: err.Error()}
	}

	messageID, err := worker.Send(ctx, chatID, envelope.Text)
	if err != nil {
		if errIsSessionClosed(err) {
			s.terminal(entities.SessionDisconnected, entities.ConnEventDisconnected, "session closed during send")
			return Result{Outcome: OutcomeSessionClosed, Reason: err.Error()}
		}
		return Result{Outcome: OutcomeSendFailed, Reason: err.Error()}
	}

	s.touch()
	return Result{Outcome: OutcomeSent, MessageID: messageID, ChatID: chatID}
}

func errIsSessionClosed(err error) bool {
	return errors.Is(err, browserworker.ErrSessionClosed)
}

// Worker exposes the underlying browser worker for callers that need
// direct access (the account-strength "strengthen-comprehensive" chain in
// spec.md §6).
func (s *Supervisor) Worker() browserworker.Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worker
}
