package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the gateway's Prometheus instruments. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	queries       *prometheus.CounterVec
	queryDuration prometheus.Histogram
	childReplies  *prometheus.CounterVec
	lateReplies   prometheus.Counter
	insufficient  prometheus.Counter
	unrecognized  prometheus.Counter
	fanoutErrors  prometheus.Counter
	children      prometheus.Gauge
	inFlight      prometheus.Gauge
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthrank_queries_total",
			Help: "Top-K and discovery requests handled, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "healthrank_query_duration_seconds",
			Help:    "Time from request arrival to publication of the merged answer.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		childReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthrank_child_replies_total",
			Help: "Replies received from child gateways, by kind.",
		}, []string{"kind"}),
		lateReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "healthrank_late_replies_total",
			Help: "Child replies dropped because their request was already closed.",
		}),
		insufficient: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "healthrank_insufficient_topk_total",
			Help: "Top-K answers that held fewer than K devices.",
		}),
		unrecognized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "healthrank_unrecognized_messages_total",
			Help: "Inbound messages that could not be decoded.",
		}),
		fanoutErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "healthrank_fanout_errors_total",
			Help: "Downward publications that failed to reach a child.",
		}),
		children: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "healthrank_topology_children",
			Help: "Child gateways currently registered.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "healthrank_requests_in_flight",
			Help: "Requests waiting for child replies.",
		}),
	}
	if reg != nil {
		reg.MustRegister(r.queries, r.queryDuration, r.childReplies, r.lateReplies,
			r.insufficient, r.unrecognized, r.fanoutErrors, r.children, r.inFlight)
	}
	return r
}

// Outcome labels.
const (
	OutcomeComplete = "complete"
	OutcomeTimeout  = "timeout"
	OutcomeEmpty    = "empty"
)

// Kind labels.
const (
	KindTopK    = "topk"
	KindSensors = "sensors"
)

func (r *Recorder) ObserveQuery(kind, outcome string, seconds float64) {
	if r == nil {
		return
	}
	r.queries.WithLabelValues(kind, outcome).Inc()
	if kind == KindTopK {
		r.queryDuration.Observe(seconds)
	}
}

func (r *Recorder) ChildReply(kind string, late bool) {
	if r == nil {
		return
	}
	r.childReplies.WithLabelValues(kind).Inc()
	if late {
		r.lateReplies.Inc()
	}
}

func (r *Recorder) Insufficient() {
	if r == nil {
		return
	}
	r.insufficient.Inc()
}

func (r *Recorder) Unrecognized() {
	if r == nil {
		return
	}
	r.unrecognized.Inc()
}

func (r *Recorder) FanoutError() {
	if r == nil {
		return
	}
	r.fanoutErrors.Inc()
}

func (r *Recorder) SetChildren(n int) {
	if r == nil {
		return
	}
	r.children.Set(float64(n))
}

func (r *Recorder) RequestStarted() {
	if r == nil {
		return
	}
	r.inFlight.Inc()
}

func (r *Recorder) RequestFinished() {
	if r == nil {
		return
	}
	r.inFlight.Dec()
}
