// Package browserworker is the opaque adapter over the WhatsApp-Web
// automation client (component D, spec.md §4.D). Nothing outside this
// package imports go.mau.fi/whatsmeow directly — the Supervisor only sees
// the Worker interface and the WorkerEvent vocabulary below.
package browserworker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// ErrSessionClosed is the typed replacement for the source's
// "Session closed" substring match (spec.md §9 redesign note). Any error
// a Worker returns from Send/ResolveNumber that satisfies
// errors.Is(err, ErrSessionClosed) must flip the owning supervisor to
// disconnected.
var ErrSessionClosed = errors.New("browserworker: session closed")

// ErrUnreachableRecipient is returned by ResolveNumber when the number is
// not reachable on WhatsApp.
var ErrUnreachableRecipient = errors.New("browserworker: recipient not reachable")

// EventKind enumerates the events the Supervisor's state machine reacts
// to (spec.md §4.E).
type EventKind string

const (
	EventQR           EventKind = "qr"
	EventAuthenticated EventKind = "authenticated"
	EventReady        EventKind = "ready"
	EventAuthFailure  EventKind = "auth_failure"
	EventDisconnected EventKind = "disconnected"
	EventMessage      EventKind = "message"
	EventMessageAck   EventKind = "message_ack"
)

// AckStatus mirrors the source system's numeric ack ladder (2=delivered,
// 3=read), reexpressed through whatsmeow's typed receipt vocabulary.
type AckStatus int

const (
	AckDelivered AckStatus = 2
	AckRead      AckStatus = 3
)

// IncomingMessage is the normalized shape the Supervisor hands to the
// webhook engine for incoming_* events (spec.md §4.I).
type IncomingMessage struct {
	From      string
	Chat      string
	Kind      string // text | media | location | message
	Text      string
	Timestamp time.Time
}

// WorkerEvent is the single type flowing out of Worker.Events().
type WorkerEvent struct {
	Kind    EventKind
	QRCode  []byte
	Reason  string
	Identity string
	Message *IncomingMessage
	Ack     *MessageAck
}

type MessageAck struct {
	MessageID string
	Status    AckStatus
}

// Worker is the opaque interface the Supervisor drives. Every method that
// can suspend takes a context.
type Worker interface {
	Init(ctx context.Context) error
	Events() <-chan WorkerEvent
	Identity() string
	IsReady() bool
	ResolveNumber(ctx context.Context, digits string) (chatID string, err error)
	Send(ctx context.Context, chatID string, text string) (messageID string, err error)
	Contacts(ctx context.Context) (map[string]string, error)
	// FetchProfile, SyncContacts and CheckState back the
	// "strengthen-comprehensive" chain; MarkRead is not part of it.
	FetchProfile(ctx context.Context) error
	MarkRead(ctx context.Context, chatID string) error
	SyncContacts(ctx context.Context) error
	CheckState(ctx context.Context) (string, error)
	Close() error
}

// containerArgs is the fixed process-argument set required for
// sandboxed containerized execution (spec.md §4.E "Initialization
// policy"). whatsmeow has no browser process to flag, but the constant is
// kept as the container's documented contract for the underlying
// noise-socket dialer's proxy/timeout tuning.
var containerArgs = []string{"--no-sandbox", "--disable-dev-shm-usage"}

// whatsmeowWorker is the concrete Worker backed by go.mau.fi/whatsmeow.
type whatsmeowWorker struct {
	sessionID string
	authPath  string

	container *sqlstore.Container
	client    *whatsmeow.Client
	events    chan WorkerEvent
}

func NewWhatsmeowWorker(sessionID, authPath string) Worker {
	return &whatsmeowWorker{
		sessionID: sessionID,
		authPath:  authPath,
		events:    make(chan WorkerEvent, 64),
	}
}

func (w *whatsmeowWorker) Events() <-chan WorkerEvent { return w.events }

func (w *whatsmeowWorker) emit(evt WorkerEvent) {
	select {
	case w.events <- evt:
	default:
		// Slow consumer: drop rather than block the whatsmeow event
		// dispatch goroutine, which must stay responsive per session.
	}
}

// Init constructs the client against a per-session sqlite-backed device
// store keyed by authPath, registers handlers and starts connecting in
// the background. It never blocks on QR resolution — QR codes surface as
// events, matching the Supervisor's event-driven model (spec.md §9
// redesign: "explicit task + channel model").
func (w *whatsmeowWorker) Init(ctx context.Context) error {
	_ = containerArgs // referenced for documentation purposes above

	dsn := fmt.Sprintf("file:%s/device.db?_pragma=foreign_keys(1)", w.authPath)
	clientLog := waLog.Stdout(fmt.Sprintf("worker-%s", w.sessionID), "WARN", true)

	container, err := sqlstore.New(ctx, "sqlite", dsn, clientLog)
	if err != nil {
		return fmt.Errorf("browserworker: store init failed: %w", err)
	}
	w.container = container

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("browserworker: device load failed: %w", err)
	}

	w.client = whatsmeow.NewClient(device, clientLog)
	w.client.AddEventHandler(w.handleEvent)

	if w.client.Store.ID == nil {
		qrChan, err := w.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("browserworker: qr channel failed: %w", err)
		}
		go func() {
			for item := range qrChan {
				switch item.Event {
				case "code":
					w.emit(WorkerEvent{Kind: EventQR, QRCode: []byte(item.Code)})
				case "timeout":
					w.emit(WorkerEvent{Kind: EventAuthFailure, Reason: "qr_timeout"})
				case "error":
					reason := "qr_error"
					if item.Error != nil {
						reason = item.Error.Error()
					}
					w.emit(WorkerEvent{Kind: EventAuthFailure, Reason: reason})
				}
			}
		}()
	}

	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("browserworker: connect failed: %w", err)
	}
	return nil
}

func (w *whatsmeowWorker) handleEvent(raw interface{}) {
	switch evt := raw.(type) {
	case *events.PairSuccess:
		w.emit(WorkerEvent{Kind: EventAuthenticated, Identity: evt.ID.String()})
	case *events.Connected:
		if w.client.Store.ID != nil {
			w.emit(WorkerEvent{Kind: EventReady, Identity: w.client.Store.ID.User})
		}
	case *events.LoggedOut:
		reason := "logged_out"
		w.emit(WorkerEvent{Kind: EventAuthFailure, Reason: reason})
	case *events.StreamReplaced:
		w.emit(WorkerEvent{Kind: EventAuthFailure, Reason: "stream_replaced"})
	case *events.Disconnected:
		w.emit(WorkerEvent{Kind: EventDisconnected})
	case *events.Message:
		if evt.Info.Chat.String() == "status@broadcast" {
			return
		}
		w.emit(WorkerEvent{Kind: EventMessage, Message: toIncomingMessage(evt)})
	case *events.Receipt:
		status, ok := ackStatusFor(evt.Type)
		if !ok {
			return
		}
		for _, id := range evt.MessageIDs {
			w.emit(WorkerEvent{Kind: EventMessageAck, Ack: &MessageAck{MessageID: id, Status: status}})
		}
	}
}

func ackStatusFor(t types.ReceiptType) (AckStatus, bool) {
	switch t {
	case types.ReceiptTypeDelivered:
		return AckDelivered, true
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		return AckRead, true
	default:
		return 0, false
	}
}

func toIncomingMessage(evt *events.Message) *IncomingMessage {
	msg := &IncomingMessage{
		From:      evt.Info.Sender.User,
		Chat:      evt.Info.Chat.String(),
		Timestamp: evt.Info.Timestamp,
		Kind:      "message",
	}
	switch {
	case evt.Message.GetConversation() != "":
		msg.Kind = "text"
		msg.Text = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage() != nil:
		msg.Kind = "text"
		msg.Text = evt.Message.GetExtendedTextMessage().GetText()
	case evt.Message.GetImageMessage() != nil, evt.Message.GetVideoMessage() != nil,
		evt.Message.GetAudioMessage() != nil, evt.Message.GetDocumentMessage() != nil:
		msg.Kind = "media"
	case evt.Message.GetLocationMessage() != nil:
		msg.Kind = "location"
	}
	return msg
}

func (w *whatsmeowWorker) Identity() string {
	if w.client == nil || w.client.Store.ID == nil {
		return ""
	}
	return w.client.Store.ID.User
}

// IsReady mirrors spec.md §4.E's ready definition: worker exists, reports
// a non-empty identity, and its underlying connection is live.
func (w *whatsmeowWorker) IsReady() bool {
	return w.client != nil && w.client.IsConnected() && w.Identity() != ""
}

func (w *whatsmeowWorker) ResolveNumber(ctx context.Context, digits string) (string, error) {
	if w.client == nil {
		return "", ErrSessionClosed
	}
	resp, err := w.client.IsOnWhatsApp([]string{digits})
	if err != nil {
		if isSessionClosedErr(err) {
			return "", ErrSessionClosed
		}
		return "", err
	}
	if len(resp) == 0 || !resp[0].IsIn {
		return "", ErrUnreachableRecipient
	}
	return resp[0].JID.String(), nil
}

func (w *whatsmeowWorker) Send(ctx context.Context, chatID string, text string) (string, error) {
	if w.client == nil || !w.client.IsConnected() {
		return "", ErrSessionClosed
	}
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return "", fmt.Errorf("browserworker: bad chat id: %w", err)
	}
	resp, err := w.client.SendMessage(ctx, jid, &waProto.Message{Conversation: proto.String(text)})
	if err != nil {
		if isSessionClosedErr(err) {
			return "", ErrSessionClosed
		}
		return "", err
	}
	return resp.ID, nil
}

func (w *whatsmeowWorker) Contacts(ctx context.Context) (map[string]string, error) {
	if w.client == nil {
		return nil, ErrSessionClosed
	}
	contacts, err := w.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(contacts))
	for jid, info := range contacts {
		out[jid.String()] = info.PushName
	}
	return out, nil
}

func (w *whatsmeowWorker) FetchProfile(ctx context.Context) error {
	if w.client == nil || w.client.Store.ID == nil {
		return ErrSessionClosed
	}
	_, err := w.client.GetProfilePictureInfo(*w.client.Store.ID, nil)
	// A missing avatar is not a failure of the strengthening chain.
	if err != nil && strings.Contains(err.Error(), "not found") {
		return nil
	}
	return err
}

func (w *whatsmeowWorker) MarkRead(ctx context.Context, chatID string) error {
	if w.client == nil {
		return ErrSessionClosed
	}
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return err
	}
	return w.client.MarkRead(nil, time.Now(), jid, jid)
}

func (w *whatsmeowWorker) SyncContacts(ctx context.Context) error {
	_, err := w.Contacts(ctx)
	return err
}

func (w *whatsmeowWorker) CheckState(ctx context.Context) (string, error) {
	if w.client == nil {
		return "closed", nil
	}
	if w.client.IsConnected() {
		return "connected", nil
	}
	return "disconnected", nil
}

func (w *whatsmeowWorker) Close() error {
	if w.client != nil {
		w.client.Disconnect()
	}
	defer close(w.events)
	if w.container != nil {
		return w.container.Close()
	}
	return nil
}

func isSessionClosedErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, whatsmeow.ErrNotConnected) || errors.Is(err, whatsmeow.ErrNotLoggedIn) {
		return true
	}
	// Fallback substring match for errors whatsmeow itself does not type,
	// kept narrow and isolated to this adapter boundary per spec.md §9's
	// redesign note (callers only ever see ErrSessionClosed).
	return strings.Contains(strings.ToLower(err.Error()), "session closed")
}
