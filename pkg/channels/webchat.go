package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/sipeed/picochat/pkg/config"
	"github.com/sipeed/picochat/pkg/exchange"
	"github.com/sipeed/picochat/pkg/logger"
	"github.com/sipeed/picochat/pkg/metrics"
	"github.com/sipeed/picochat/pkg/render"
)

const (
	writeWait      = 10 * time.Second
	maxInboundSize = 64 * 1024
)

// ControllerFactory builds the controller for a new browser connection.
type ControllerFactory func() *exchange.Controller

// WebChatChannel serves the chat widget and binds every websocket
// connection to its own conversation. Reloading the page starts over.
type WebChatChannel struct {
	config        config.WebChatConfig
	newController ControllerFactory
	metrics       *metrics.Recorder
	server        *http.Server
	upgrader      websocket.Upgrader
	conns         map[*wsSession]struct{}
	running       atomic.Bool
	mu            sync.RWMutex
}

type inboundFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`
}

type outboundFrame struct {
	Type           string       `json:"type"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Message        *messageView `json:"message,omitempty"`
	State          string       `json:"state,omitempty"`
	Error          string       `json:"error,omitempty"`
}

type messageView struct {
	ID       string           `json:"id"`
	Role     string           `json:"role"`
	HTML     string           `json:"html"`
	Segments []render.Segment `json:"segments"`
	Time     string           `json:"time"`
}

func NewWebChatChannel(cfg config.WebChatConfig, newController ControllerFactory, rec *metrics.Recorder) (*WebChatChannel, error) {
	if newController == nil {
		return nil, fmt.Errorf("webchat: controller factory is required")
	}
	c := &WebChatChannel{
		config:        cfg,
		newController: newController,
		metrics:       rec,
		conns:         make(map[*wsSession]struct{}),
	}
	c.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     c.checkOrigin,
	}
	return c, nil
}

func (c *WebChatChannel) Name() string { return "webchat" }

func (c *WebChatChannel) IsRunning() bool { return c.running.Load() }

// Handler returns the routes of the widget.
func (c *WebChatChannel) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", c.handleUI)
	mux.HandleFunc("/ws", c.handleWS)
	mux.HandleFunc("/healthz", c.handleHealth)
	if c.metrics != nil {
		mux.Handle("/metrics", c.metrics.Handler())
	}
	return mux
}

func (c *WebChatChannel) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	c.server = &http.Server{Addr: addr, Handler: c.Handler(), ReadHeaderTimeout: 10 * time.Second}
	c.running.Store(true)

	logger.InfoCF("channels", "WebChat started", map[string]interface{}{"addr": addr})

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("channels", "WebChat server error", map[string]interface{}{"error": err.Error()})
		}
	}()

	return nil
}

func (c *WebChatChannel) Stop(ctx context.Context) error {
	c.running.Store(false)

	c.mu.Lock()
	for s := range c.conns {
		s.close()
	}
	c.mu.Unlock()

	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

func (c *WebChatChannel) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range c.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func (c *WebChatChannel) submitLimiter() *rate.Limiter {
	n := c.config.SubmitsPerMinute
	if n <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
}

func (c *WebChatChannel) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("channels", "WebChat upgrade failed", map[string]interface{}{
			"remote": r.RemoteAddr,
			"error":  err.Error(),
		})
		return
	}
	conn.SetReadLimit(maxInboundSize)

	ctrl := c.newController()
	sess := &wsSession{conn: conn, conversationID: ctrl.ID()}
	ctrl.Subscribe(sess)
	if c.metrics != nil {
		ctrl.Subscribe(c.metrics)
		c.metrics.ConversationOpened()
		defer c.metrics.ConversationClosed()
	}

	c.mu.Lock()
	c.conns[sess] = struct{}{}
	c.mu.Unlock()

	// Pending queries die with the connection.
	ctx, cancel := context.WithCancel(context.Background())
	var pending sync.WaitGroup
	defer func() {
		cancel()
		pending.Wait()
		c.mu.Lock()
		delete(c.conns, sess)
		c.mu.Unlock()
		sess.close()
		logger.InfoCF("channels", "WebChat conversation closed", map[string]interface{}{
			"conversation_id": ctrl.ID(),
		})
	}()

	logger.InfoCF("channels", "WebChat conversation opened", map[string]interface{}{
		"conversation_id": ctrl.ID(),
		"remote":          r.RemoteAddr,
	})

	for _, m := range ctrl.Messages() {
		sess.send(outboundFrame{Type: "message", Message: toMessageView(m)})
	}
	sess.send(outboundFrame{Type: "state", State: string(ctrl.State())})

	limiter := c.submitLimiter()
	for {
		var in inboundFrame
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WarnCF("channels", "WebChat read error", map[string]interface{}{
					"conversation_id": ctrl.ID(),
					"error":           err.Error(),
				})
			}
			return
		}

		switch in.Type {
		case "submit":
			if !limiter.Allow() {
				sess.send(outboundFrame{Type: "error", Error: "Too many messages, please slow down."})
				continue
			}
			text := in.Text
			pending.Add(1)
			go func() {
				defer pending.Done()
				if _, err := ctrl.Submit(ctx, text); errors.Is(err, exchange.ErrBusy) {
					sess.send(outboundFrame{Type: "error", Error: "Please wait for the current reply."})
				}
			}()
		case "clear":
			ctrl.Clear()
		case "attach":
			ctrl.AttachFile(in.Name)
		default:
			sess.send(outboundFrame{Type: "error", Error: "unknown frame type"})
		}
	}
}

func (c *WebChatChannel) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (c *WebChatChannel) handleUI(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := widgetPage.Execute(w, pageData{Title: c.title()}); err != nil {
		logger.ErrorCF("channels", "WebChat page render failed", map[string]interface{}{"error": err.Error()})
	}
}

func (c *WebChatChannel) title() string {
	if c.config.Title == "" {
		return "PicoChat"
	}
	return c.config.Title
}

func toMessageView(m *exchange.Message) *messageView {
	return &messageView{
		ID:       m.ID,
		Role:     string(m.Role),
		HTML:     render.HTML(m.Segments),
		Segments: m.Segments,
		Time:     m.TimeLabel(),
	}
}

// wsSession presents controller events on one websocket. Writes are
// serialized; after close every send is dropped.
type wsSession struct {
	conn           *websocket.Conn
	conversationID string
	mu             sync.Mutex
	closed         bool
}

func (s *wsSession) OnEvent(e exchange.Event) {
	switch e.Type {
	case exchange.EventMessageAppended:
		s.send(outboundFrame{Type: "message", Message: toMessageView(e.Message)})
	case exchange.EventTypingStarted:
		s.send(outboundFrame{Type: "typing_started"})
	case exchange.EventTypingStopped:
		s.send(outboundFrame{Type: "typing_stopped"})
	case exchange.EventCleared:
		s.send(outboundFrame{Type: "cleared"})
	case exchange.EventStateChanged:
		s.send(outboundFrame{Type: "state", State: string(e.State)})
	}
}

func (s *wsSession) send(f outboundFrame) {
	f.ConversationID = s.conversationID
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(f); err != nil {
		logger.DebugCF("channels", "WebChat write failed", map[string]interface{}{
			"conversation_id": s.conversationID,
			"error":           err.Error(),
		})
	}
}

func (s *wsSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.conn.Close()
}
