package exchange

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sipeed/picochat/pkg/render"
)

type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Message is one bubble in the conversation. It is never mutated after
// creation.
type Message struct {
	ID        string           `json:"id"`
	Role      Role             `json:"role"`
	RawText   string           `json:"raw_text"`
	Segments  []render.Segment `json:"segments"`
	Timestamp time.Time        `json:"timestamp"`
}

// TimeLabel is the hour:minute label shown under a bubble.
func (m *Message) TimeLabel() string {
	return m.Timestamp.Format("15:04")
}

func newMessage(role Role, payload render.Payload, now time.Time) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		RawText:   payload.Text,
		Segments:  render.Render(payload),
		Timestamp: now,
	}
}

type EntryKind string

const (
	EntryMessage EntryKind = "message"
	EntryTyping  EntryKind = "typing"
)

// Entry is a row of the conversation list: a message or the transient
// typing indicator.
type Entry struct {
	Kind    EntryKind
	Message *Message
}

type State string

const (
	StateIdle     State = "idle"
	StateAwaiting State = "awaiting-response"
)

type EventType string

const (
	EventMessageAppended   EventType = "message_appended"
	EventTypingStarted     EventType = "typing_started"
	EventTypingStopped     EventType = "typing_stopped"
	EventCleared           EventType = "cleared"
	EventStateChanged      EventType = "state_changed"
	EventExchangeCompleted EventType = "exchange_completed"
)

// Event is published to observers for every change of the conversation.
type Event struct {
	Type           EventType
	ConversationID string
	Message        *Message
	State          State
	// Outcome and Elapsed are set on EventExchangeCompleted. Outcome is
	// "ok" or the failure class reported by the transport.
	Outcome string
	Elapsed time.Duration
}

// Observer receives events in the order they happen.
type Observer interface {
	OnEvent(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// NewSessionID returns a short conversation identifier of the form
// sess_xxxxxxxxx.
func NewSessionID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "sess_" + id[:9]
}
