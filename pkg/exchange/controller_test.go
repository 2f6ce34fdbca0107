package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/picochat/pkg/client"
	"github.com/sipeed/picochat/pkg/render"
)

type queryFunc func(ctx context.Context, text string) (string, error)

func (f queryFunc) Query(ctx context.Context, text string) (string, error) { return f(ctx, text) }

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func backend(t *testing.T, status int, body string) *client.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return client.New(srv.URL, nil, time.Second)
}

func lastMessage(c *Controller) *Message {
	msgs := c.Messages()
	return msgs[len(msgs)-1]
}

func TestNewSeedsGreeting(t *testing.T) {
	c := New(queryFunc(nil), Options{UserName: "Aamir"})

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleBot, msgs[0].Role)
	assert.Equal(t, "Hello Aamir! 👋\nHow can I help you today?", msgs[0].RawText)
	assert.Equal(t, StateIdle, c.State())
	assert.Regexp(t, `^sess_[0-9a-f]{9}$`, c.ID())
}

func TestSubmitBlankIsNoop(t *testing.T) {
	called := false
	c := New(queryFunc(func(ctx context.Context, text string) (string, error) {
		called = true
		return "", nil
	}), Options{})
	rec := &recorder{}
	c.Subscribe(rec)

	for _, in := range []string{"", "   ", "\n\t"} {
		msg, err := c.Submit(context.Background(), in)
		assert.NoError(t, err)
		assert.Nil(t, msg)
	}

	assert.False(t, called)
	assert.Len(t, c.Messages(), 1)
	assert.Empty(t, rec.types())
}

func TestSubmitAppendsUserMessageBeforeQuery(t *testing.T) {
	var c *Controller
	var seen []*Message
	var typing int
	var state State
	c = New(queryFunc(func(ctx context.Context, text string) (string, error) {
		seen = c.Messages()
		typing = c.TypingIndicators()
		state = c.State()
		assert.Equal(t, "hello", text)
		return "hi", nil
	}), Options{})

	_, err := c.Submit(context.Background(), "  hello  ")
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, RoleUser, seen[1].Role)
	assert.Equal(t, "hello", seen[1].RawText)
	assert.Equal(t, 1, typing)
	assert.Equal(t, StateAwaiting, state)
}

func TestSubmitUserTextIsNotScannedForFences(t *testing.T) {
	c := New(queryFunc(func(ctx context.Context, text string) (string, error) { return "ok", nil }), Options{})
	_, err := c.Submit(context.Background(), "```go\nx\n```")
	require.NoError(t, err)

	user := c.Messages()[1]
	require.Len(t, user.Segments, 1)
	assert.Equal(t, render.KindProse, user.Segments[0].Kind)
}

func TestSubmitServerErrorYieldsApology(t *testing.T) {
	c := New(backend(t, http.StatusInternalServerError, `{"response":"nope"}`), Options{})
	rec := &recorder{}
	c.Subscribe(rec)

	msg, err := c.Submit(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, RoleBot, msg.Role)
	assert.Equal(t, ApologyText, msg.RawText)
	assert.Equal(t, 0, c.TypingIndicators())
	assert.Equal(t, StateIdle, c.State())

	bots := 0
	for _, m := range c.Messages()[1:] {
		if m.Role == RoleBot {
			bots++
		}
	}
	assert.Equal(t, 1, bots)

	var completed Event
	for _, e := range rec.events {
		if e.Type == EventExchangeCompleted {
			completed = e
		}
	}
	assert.Equal(t, "http", completed.Outcome)
}

func TestSubmitResponseField(t *testing.T) {
	c := New(backend(t, http.StatusOK, `{"response":"Hi there"}`), Options{})

	msg, err := c.Submit(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, "Hi there", msg.RawText)
	assert.Equal(t, render.Render(render.Complex("Hi there")), msg.Segments)
	assert.Same(t, msg, lastMessage(c))
}

func TestSubmitMessageFieldFallback(t *testing.T) {
	c := New(backend(t, http.StatusOK, `{"message":"fallback text"}`), Options{})

	msg, err := c.Submit(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "fallback text", msg.RawText)
}

func TestSubmitBotReplyIsScannedForFences(t *testing.T) {
	c := New(backend(t, http.StatusOK, `{"response":"Try:\n`+"```"+`sh\nls -la\n`+"```"+`\n"}`), Options{})

	msg, err := c.Submit(context.Background(), "how do I list files")
	require.NoError(t, err)
	require.Len(t, msg.Segments, 2)
	assert.Equal(t, render.KindCode, msg.Segments[1].Kind)
	assert.Equal(t, "ls -la", msg.Segments[1].Content)
}

func TestSubmitParseFailureYieldsApology(t *testing.T) {
	for _, body := range []string{`not json`, `null`} {
		c := New(backend(t, http.StatusOK, body), Options{})
		rec := &recorder{}
		c.Subscribe(rec)

		msg, err := c.Submit(context.Background(), "hello")
		require.NoError(t, err)
		assert.Equal(t, ApologyText, msg.RawText, "body %q", body)

		rec.mu.Lock()
		last := rec.events[len(rec.events)-2]
		rec.mu.Unlock()
		require.Equal(t, EventExchangeCompleted, last.Type)
		assert.Equal(t, "parse", last.Outcome)
	}
}

func TestSubmitNetworkFailureKeepsConversationUsable(t *testing.T) {
	fail := true
	c := New(queryFunc(func(ctx context.Context, text string) (string, error) {
		if fail {
			return "", &client.NetworkError{Err: errors.New("connection refused")}
		}
		return "back online", nil
	}), Options{})

	msg, err := c.Submit(context.Background(), "one")
	require.NoError(t, err)
	assert.Equal(t, ApologyText, msg.RawText)

	fail = false
	msg, err = c.Submit(context.Background(), "two")
	require.NoError(t, err)
	assert.Equal(t, "back online", msg.RawText)
	assert.Len(t, c.Messages(), 5)
}

func TestSubmitEventOrder(t *testing.T) {
	c := New(queryFunc(func(ctx context.Context, text string) (string, error) { return "hi", nil }), Options{})
	rec := &recorder{}
	c.Subscribe(rec)

	_, err := c.Submit(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, []EventType{
		EventMessageAppended,
		EventTypingStarted,
		EventStateChanged,
		EventTypingStopped,
		EventMessageAppended,
		EventExchangeCompleted,
		EventStateChanged,
	}, rec.types())
	for _, e := range rec.events {
		assert.Equal(t, c.ID(), e.ConversationID)
	}
}

func TestSubmitWhileAwaitingIsRejected(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	calls := 0
	c := New(queryFunc(func(ctx context.Context, text string) (string, error) {
		calls++
		close(entered)
		<-release
		return "done", nil
	}), Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.Submit(context.Background(), "first")
		assert.NoError(t, err)
	}()
	<-entered

	msg, err := c.Submit(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)
	assert.Nil(t, msg)
	assert.Len(t, c.Messages(), 2)
	assert.Equal(t, 1, c.TypingIndicators())

	close(release)
	<-done
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateIdle, c.State())
}

func TestSubmitTimeoutYieldsApology(t *testing.T) {
	c := New(queryFunc(func(ctx context.Context, text string) (string, error) {
		<-ctx.Done()
		return "", &client.NetworkError{Err: ctx.Err()}
	}), Options{Timeout: 20 * time.Millisecond})
	rec := &recorder{}
	c.Subscribe(rec)

	msg, err := c.Submit(context.Background(), "anyone there?")
	require.NoError(t, err)
	assert.Equal(t, ApologyText, msg.RawText)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 0, c.TypingIndicators())

	var outcome string
	for _, e := range rec.events {
		if e.Type == EventExchangeCompleted {
			outcome = e.Outcome
		}
	}
	assert.Equal(t, "timeout", outcome)
}

func TestRemoveTypingIndicatorIsIdempotent(t *testing.T) {
	c := New(queryFunc(nil), Options{})
	rec := &recorder{}
	c.Subscribe(rec)
	before := c.Entries()

	c.RemoveTypingIndicator()
	c.RemoveTypingIndicator()

	assert.Equal(t, before, c.Entries())
	assert.Empty(t, rec.types())
}

func TestClearReseedsGreeting(t *testing.T) {
	c := New(queryFunc(func(ctx context.Context, text string) (string, error) { return "hi", nil }), Options{UserName: "Ana"})
	_, err := c.Submit(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, c.Messages(), 3)

	rec := &recorder{}
	c.Subscribe(rec)
	c.Clear()

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].RawText, "Hello Ana!")
	assert.Equal(t, []EventType{EventCleared, EventMessageAppended}, rec.types())
}

// view mirrors what a presenter shows: cleared wipes the list.
type view struct {
	mu       sync.Mutex
	texts    []string
	onClear  func()
	clearing sync.Once
}

func (v *view) OnEvent(e Event) {
	switch e.Type {
	case EventCleared:
		v.clearing.Do(v.onClear)
		v.mu.Lock()
		v.texts = nil
		v.mu.Unlock()
	case EventMessageAppended:
		v.mu.Lock()
		v.texts = append(v.texts, e.Message.RawText)
		v.mu.Unlock()
	}
}

func (v *view) snapshot() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.texts...)
}

func TestClearDuringPendingExchangeKeepsReplyVisible(t *testing.T) {
	entered := make(chan struct{})
	releaseQuery := make(chan struct{})
	c := New(queryFunc(func(ctx context.Context, text string) (string, error) {
		close(entered)
		<-releaseQuery
		return "the reply", nil
	}), Options{})

	clearing := make(chan struct{})
	releaseClear := make(chan struct{})
	v := &view{onClear: func() {
		close(clearing)
		<-releaseClear
	}}
	c.Subscribe(v)

	submitted := make(chan struct{})
	go func() {
		defer close(submitted)
		_, err := c.Submit(context.Background(), "question")
		assert.NoError(t, err)
	}()
	<-entered

	cleared := make(chan struct{})
	go func() {
		defer close(cleared)
		c.Clear()
	}()
	<-clearing

	// The reply settles while the cleared event is still being delivered.
	close(releaseQuery)
	time.Sleep(50 * time.Millisecond)
	close(releaseClear)
	<-cleared
	<-submitted

	var model []string
	for _, m := range c.Messages() {
		model = append(model, m.RawText)
	}
	require.Len(t, model, 2)
	assert.Equal(t, "the reply", model[1])
	assert.Equal(t, model, v.snapshot())
	assert.Equal(t, 0, c.TypingIndicators())
	assert.Equal(t, StateIdle, c.State())
}

func TestAddCustomMessage(t *testing.T) {
	c := New(queryFunc(nil), Options{})

	bot := c.AddCustomMessage("see\n```\ncode\n```", RoleBot)
	assert.Len(t, bot.Segments, 2)

	user := c.AddCustomMessage("see\n```\ncode\n```", RoleUser)
	assert.Len(t, user.Segments, 1)

	other := c.AddCustomMessage("x", Role("system"))
	assert.Equal(t, RoleBot, other.Role)
}

func TestAttachFile(t *testing.T) {
	c := New(queryFunc(nil), Options{})

	msg := c.AttachFile("report.pdf")
	require.NotNil(t, msg)
	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, "Attached file: report.pdf", msg.RawText)

	assert.Nil(t, c.AttachFile("  "))
	assert.Len(t, c.Messages(), 2)
}

func TestUpdateConfig(t *testing.T) {
	cl := client.New("http://old", nil, time.Second)
	c := New(cl, Options{})

	assert.True(t, c.UpdateConfig("http://new", map[string]string{"Authorization": "Bearer x"}))
	assert.Equal(t, "http://new", cl.Endpoint())
	assert.Equal(t, "Bearer x", cl.Headers()["Authorization"])

	assert.False(t, New(queryFunc(nil), Options{}).UpdateConfig("http://x", nil))
}

func TestTimeLabel(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC)
	c := New(queryFunc(nil), Options{Now: func() time.Time { return fixed }})
	assert.Equal(t, "09:05", c.Messages()[0].TimeLabel())
}
