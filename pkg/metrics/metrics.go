package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sipeed/picochat/pkg/exchange"
)

// Recorder counts conversation activity. It is an exchange.Observer; one
// recorder is shared by every controller of a process.
type Recorder struct {
	registry      *prometheus.Registry
	exchanges     *prometheus.CounterVec
	latency       prometheus.Histogram
	messages      *prometheus.CounterVec
	clears        prometheus.Counter
	conversations prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "picochat",
			Name:      "exchanges_total",
			Help:      "Completed exchanges by outcome.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "picochat",
			Name:      "exchange_duration_seconds",
			Help:      "Time spent waiting for the backend.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "picochat",
			Name:      "messages_total",
			Help:      "Messages appended to conversations by role.",
		}, []string{"role"}),
		clears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "picochat",
			Name:      "clears_total",
			Help:      "Conversation resets.",
		}),
		conversations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "picochat",
			Name:      "open_conversations",
			Help:      "Conversations currently attached to a client.",
		}),
	}
	r.registry.MustRegister(r.exchanges, r.latency, r.messages, r.clears, r.conversations)
	return r
}

func (r *Recorder) OnEvent(e exchange.Event) {
	switch e.Type {
	case exchange.EventExchangeCompleted:
		r.exchanges.WithLabelValues(e.Outcome).Inc()
		r.latency.Observe(e.Elapsed.Seconds())
	case exchange.EventMessageAppended:
		if e.Message != nil {
			r.messages.WithLabelValues(string(e.Message.Role)).Inc()
		}
	case exchange.EventCleared:
		r.clears.Inc()
	}
}

func (r *Recorder) ConversationOpened() { r.conversations.Inc() }
func (r *Recorder) ConversationClosed() { r.conversations.Dec() }

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
