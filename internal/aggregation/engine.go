// Package aggregation runs the per-request fan-out/fan-in of a gateway: it
// forwards a request to every child, waits a bounded time for their answers
// in the ledger and merges them with what the gateway computes itself.
package aggregation

import (
	"context"
	"log"
	"time"

	"github.com/healthrank/internal/ledger"
	"github.com/healthrank/internal/metrics"
	"github.com/healthrank/internal/models"
	"github.com/healthrank/internal/protocol"
	"github.com/healthrank/internal/topk"
	"github.com/healthrank/internal/topology"
	"golang.org/x/sync/errgroup"
)

// LocalScorer computes answers from the devices attached to this gateway.
type LocalScorer interface {
	LocalScores(ctx context.Context, criteria []models.Criterion, allow []string) *topk.ScoreMap
	LocalSensorTypes(ctx context.Context) []string
}

// Downlink publishes on the broker of one child gateway.
type Downlink interface {
	PublishTo(ctx context.Context, addr, topic string, payload []byte) error
}

type Options struct {
	Timeout time.Duration
	Debug   bool
	Metrics *metrics.Recorder
}

// maxParallelFanout bounds concurrent connections opened to children.
const maxParallelFanout = 16

// Outcome is the merged answer of one Top-K request.
type Outcome struct {
	ID        string
	Requested int
	Result    []topk.Entry
	// Available is the size of the merged map before truncation to K.
	Available    int
	Insufficient bool
	TimedOut     bool
}

// Notice is the advisory text published when the result holds fewer than K
// devices.
func (o Outcome) Notice() string {
	return protocol.InsufficientText(o.Requested, o.Available)
}

type Engine struct {
	ledger  *ledger.Ledger
	topo    *topology.Registry
	scorer  LocalScorer
	down    Downlink
	timeout time.Duration
	debug   bool
	metrics *metrics.Recorder
	now     func() time.Time
}

func NewEngine(l *ledger.Ledger, t *topology.Registry, s LocalScorer, d Downlink, opts Options) *Engine {
	return &Engine{
		ledger:  l,
		topo:    t,
		scorer:  s,
		down:    d,
		timeout: opts.Timeout,
		debug:   opts.Debug,
		metrics: opts.Metrics,
		now:     time.Now,
	}
}

// Run answers q. It never fails: unreachable children and scoring problems
// only shrink the result.
func (e *Engine) Run(ctx context.Context, q protocol.TopKQuery) Outcome {
	start := e.now()
	out := Outcome{ID: q.ID, Requested: q.K, Result: []topk.Entry{}}

	if q.K == 0 {
		e.debugf("[Engine] %s: Top-K = 0, answering empty", q.ID)
		e.metrics.ObserveQuery(metrics.KindTopK, metrics.OutcomeEmpty, 0)
		return out
	}

	children := e.topo.List()
	deadline := start.Add(e.timeout)
	e.ledger.Open(q.ID, len(children))
	e.metrics.RequestStarted()
	defer e.metrics.RequestFinished()

	if len(children) > 0 {
		payload := q.Raw
		if len(payload) == 0 {
			var err error
			if payload, err = protocol.EncodeQuery(q); err != nil {
				log.Printf("[Engine] %s: encoding query: %v", q.ID, err)
			}
		}
		if len(payload) > 0 {
			e.debugf("[Engine] %s: forwarding to %d children", q.ID, len(children))
			fctx, cancel := context.WithDeadline(ctx, deadline)
			fanOut(fctx, e.down, children, protocol.QueryTopic(q.ID), payload, e.metrics)
			cancel()
		}

		e.debugf("[Engine] %s: waiting for children until %s", q.ID, deadline.Format(time.RFC3339))
		if !e.ledger.Wait(ctx, q.ID, deadline) {
			out.TimedOut = true
			received, expected, _ := e.ledger.Counts(q.ID)
			log.Printf("[Engine] %s: %d of %d children answered before the deadline", q.ID, received, expected)
		}
	}

	merged := e.ledger.Close(q.ID)
	if e.scorer != nil {
		merged.Merge(e.scorer.LocalScores(ctx, q.FunctionHealth, q.Devices))
	}

	out.Result = topk.Select(merged, q.K)
	out.Available = merged.Len()
	out.Insufficient = out.Available < q.K
	if out.Insufficient {
		e.metrics.Insufficient()
		e.debugf("[Engine] %s: insufficient Top-K, %d of %d", q.ID, out.Available, q.K)
	}

	outcome := metrics.OutcomeComplete
	if out.TimedOut {
		outcome = metrics.OutcomeTimeout
	}
	e.metrics.ObserveQuery(metrics.KindTopK, outcome, e.now().Sub(start).Seconds())
	e.debugf("[Engine] %s: Top-K result %+v", q.ID, out.Result)
	return out
}

func (e *Engine) debugf(format string, args ...interface{}) {
	if e.debug {
		log.Printf(format, args...)
	}
}

// fanOut publishes payload to every child concurrently. Failures are logged
// and counted, never retried.
func fanOut(ctx context.Context, down Downlink, children []string, topic string, payload []byte, rec *metrics.Recorder) {
	if down == nil {
		return
	}
	var g errgroup.Group
	g.SetLimit(maxParallelFanout)
	for _, addr := range children {
		addr := addr
		g.Go(func() error {
			if err := down.PublishTo(ctx, addr, topic, payload); err != nil {
				log.Printf("[Engine] Failed to publish %s to child %s: %v", topic, addr, err)
				rec.FanoutError()
			}
			return nil
		})
	}
	_ = g.Wait()
}
