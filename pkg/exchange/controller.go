// Package exchange owns a chat conversation: it appends user messages,
// queries the backend, tracks the typing indicator and turns every outcome
// into a bot message. Presenters observe it through events and never touch
// its state directly.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sipeed/picochat/pkg/client"
	"github.com/sipeed/picochat/pkg/logger"
	"github.com/sipeed/picochat/pkg/render"
)

const (
	ApologyText     = "Sorry, I'm having trouble connecting right now. Please try again later."
	DefaultUserName = "Guest"
	DefaultTimeout  = 30 * time.Second
)

// ErrBusy is returned by Submit while a previous exchange is still awaiting
// its response.
var ErrBusy = errors.New("exchange: a response is already pending")

// Querier sends one user query and returns the display string of the reply.
type Querier interface {
	Query(ctx context.Context, text string) (string, error)
}

// Configurable is implemented by queriers whose endpoint and headers can be
// changed at runtime.
type Configurable interface {
	Update(endpoint string, headers map[string]string)
}

type Options struct {
	UserName string
	// Timeout bounds each outbound query. Zero means DefaultTimeout;
	// negative disables the bound.
	Timeout time.Duration
	Now     func() time.Time
}

type Controller struct {
	id       string
	querier  Querier
	userName string
	timeout  time.Duration
	now      func() time.Time

	mu        sync.Mutex
	entries   []Entry
	state     State
	observers []Observer

	// dispatchMu is taken before mu is released, so events reach observers
	// in the order the state changes happened.
	dispatchMu sync.Mutex
}

// New creates a controller and seeds the conversation with the greeting.
func New(q Querier, opts Options) *Controller {
	c := &Controller{
		id:       NewSessionID(),
		querier:  q,
		userName: opts.UserName,
		timeout:  opts.Timeout,
		now:      opts.Now,
		state:    StateIdle,
	}
	if c.userName == "" {
		c.userName = DefaultUserName
	}
	if c.timeout == 0 {
		c.timeout = DefaultTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.entries = []Entry{{Kind: EntryMessage, Message: c.greeting()}}
	return c
}

func (c *Controller) ID() string { return c.id }

// Subscribe registers an observer for all subsequent events.
func (c *Controller) Subscribe(o Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Entries returns a snapshot of the conversation list.
func (c *Controller) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Messages returns the messages of the conversation, without the typing
// indicator.
func (c *Controller) Messages() []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Message, 0, len(c.entries))
	for _, e := range c.entries {
		if e.Kind == EntryMessage {
			out = append(out, e.Message)
		}
	}
	return out
}

// TypingIndicators counts typing entries; it is never more than one.
func (c *Controller) TypingIndicators() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.Kind == EntryTyping {
			n++
		}
	}
	return n
}

// Submit runs one exchange for text and returns the bot message it
// produced. Blank input is ignored and returns nil. A failed query is not
// an error: it yields the apology message and the cause is logged.
func (c *Controller) Submit(ctx context.Context, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	c.mu.Lock()
	if c.state == StateAwaiting {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	var events []Event
	userMsg := newMessage(RoleUser, render.Plain(text), c.now())
	events = c.appendLocked(events, userMsg)
	events = c.removeTypingLocked(events)
	c.entries = append(c.entries, Entry{Kind: EntryTyping})
	events = append(events, Event{Type: EventTypingStarted})
	events = c.setStateLocked(events, StateAwaiting)
	c.publishLocked(events)

	logger.InfoCF("exchange", "Sending query", map[string]interface{}{
		"conversation_id": c.id,
		"chars":           len(text),
	})

	qctx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := c.querier.Query(qctx, text)
	elapsed := time.Since(start)

	outcome := client.Classify(err)
	payload := render.Complex(reply)
	if err != nil {
		if errors.Is(qctx.Err(), context.DeadlineExceeded) {
			outcome = "timeout"
		}
		logger.ErrorCF("exchange", fmt.Sprintf("Error sending message: %v", err), map[string]interface{}{
			"conversation_id": c.id,
			"outcome":         outcome,
			"elapsed_ms":      elapsed.Milliseconds(),
		})
		payload = render.Complex(ApologyText)
	} else {
		logger.InfoCF("exchange", "Reply received", map[string]interface{}{
			"conversation_id": c.id,
			"elapsed_ms":      elapsed.Milliseconds(),
		})
	}

	c.mu.Lock()
	events = c.removeTypingLocked(nil)
	botMsg := newMessage(RoleBot, payload, c.now())
	events = c.appendLocked(events, botMsg)
	events = append(events, Event{Type: EventExchangeCompleted, Outcome: outcome, Elapsed: elapsed})
	events = c.setStateLocked(events, StateIdle)
	c.publishLocked(events)

	return botMsg, nil
}

// RemoveTypingIndicator removes the typing entry if there is one. Calling it
// with no indicator present changes nothing.
func (c *Controller) RemoveTypingIndicator() {
	c.mu.Lock()
	events := c.removeTypingLocked(nil)
	c.publishLocked(events)
}

// AddCustomMessage appends a message outside of an exchange. Bot text is
// scanned for code fences; user text is shown as typed.
func (c *Controller) AddCustomMessage(text string, role Role) *Message {
	payload := render.Plain(text)
	if role != RoleUser {
		role = RoleBot
		payload = render.Complex(text)
	}

	c.mu.Lock()
	msg := newMessage(role, payload, c.now())
	events := c.appendLocked(nil, msg)
	c.publishLocked(events)
	return msg
}

// AttachFile reports a selected file as a user message. Nothing is
// uploaded.
func (c *Controller) AttachFile(name string) *Message {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	logger.InfoCF("exchange", "File attached", map[string]interface{}{
		"conversation_id": c.id,
		"file":            name,
	})
	return c.AddCustomMessage("Attached file: "+name, RoleUser)
}

// Clear drops the whole history, typing indicator included, and re-seeds
// the greeting. A pending exchange still appends its reply when it settles.
func (c *Controller) Clear() {
	c.mu.Lock()
	greeting := c.greeting()
	c.entries = []Entry{{Kind: EntryMessage, Message: greeting}}
	events := []Event{
		{Type: EventCleared},
		{Type: EventMessageAppended, Message: greeting},
	}
	c.publishLocked(events)

	logger.InfoCF("exchange", "Conversation cleared", map[string]interface{}{
		"conversation_id": c.id,
	})
}

// UpdateConfig changes the endpoint and merges headers when the querier
// supports it. It reports whether the update was applied.
func (c *Controller) UpdateConfig(endpoint string, headers map[string]string) bool {
	cfg, ok := c.querier.(Configurable)
	if !ok {
		return false
	}
	cfg.Update(endpoint, headers)
	logger.InfoCF("exchange", "Configuration updated", map[string]interface{}{
		"conversation_id": c.id,
		"api_url":         endpoint,
		"headers":         len(headers),
	})
	return true
}

func (c *Controller) greeting() *Message {
	text := fmt.Sprintf("Hello %s! 👋\nHow can I help you today?", c.userName)
	return newMessage(RoleBot, render.Plain(text), c.now())
}

func (c *Controller) appendLocked(events []Event, msg *Message) []Event {
	c.entries = append(c.entries, Entry{Kind: EntryMessage, Message: msg})
	return append(events, Event{Type: EventMessageAppended, Message: msg})
}

func (c *Controller) removeTypingLocked(events []Event) []Event {
	kept := c.entries[:0]
	removed := false
	for _, e := range c.entries {
		if e.Kind == EntryTyping {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	c.entries = kept
	if removed {
		events = append(events, Event{Type: EventTypingStopped})
	}
	return events
}

func (c *Controller) setStateLocked(events []Event, s State) []Event {
	if c.state == s {
		return events
	}
	c.state = s
	return append(events, Event{Type: EventStateChanged, State: s})
}

// publishLocked releases mu and delivers events. It must be called with mu
// held. Observers run synchronously and must not call back into the
// controller.
func (c *Controller) publishLocked(events []Event) {
	observers := c.observers
	c.dispatchMu.Lock()
	c.mu.Unlock()
	defer c.dispatchMu.Unlock()
	c.dispatch(observers, events)
}

func (c *Controller) dispatch(observers []Observer, events []Event) {
	for _, e := range events {
		e.ConversationID = c.id
		for _, o := range observers {
			o.OnEvent(e)
		}
	}
}
