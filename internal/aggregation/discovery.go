package aggregation

import (
	"context"
	"log"
	"time"

	"github.com/healthrank/internal/catalog"
	"github.com/healthrank/internal/ledger"
	"github.com/healthrank/internal/metrics"
	"github.com/healthrank/internal/protocol"
	"github.com/healthrank/internal/topology"
)

// DiscoveryID is the ledger slot shared by every discovery cycle; sensor
// requests carry no correlation id of their own.
const DiscoveryID = "getSensors"

// Discovery enumerates the sensor types available under the gateway.
type Discovery struct {
	ledger  *ledger.Ledger
	topo    *topology.Registry
	scorer  LocalScorer
	down    Downlink
	cache   *catalog.Cache
	timeout time.Duration
	debug   bool
	metrics *metrics.Recorder
}

func NewDiscovery(l *ledger.Ledger, t *topology.Registry, s LocalScorer, d Downlink, c *catalog.Cache, opts Options) *Discovery {
	return &Discovery{
		ledger:  l,
		topo:    t,
		scorer:  s,
		down:    d,
		cache:   c,
		timeout: opts.Timeout,
		debug:   opts.Debug,
		metrics: opts.Metrics,
	}
}

// Run returns the catalog of this subtree. Local devices are authoritative:
// when they expose sensors the children are not asked. Otherwise the first
// non-empty child catalog received before the deadline wins.
func (d *Discovery) Run(ctx context.Context) []string {
	start := time.Now()
	// a cycle already in flight keeps the catalog it is filling
	if _, _, inFlight := d.ledger.Counts(DiscoveryID); !inFlight {
		d.cache.Reset()
	}

	if d.scorer != nil && d.cache.Offer(d.scorer.LocalSensorTypes(ctx)) {
		d.debugf("[Discovery] answering with local catalog")
		d.metrics.ObserveQuery(metrics.KindSensors, metrics.OutcomeComplete, time.Since(start).Seconds())
		return d.cache.Types()
	}

	children := d.topo.List()
	if len(children) == 0 {
		d.metrics.ObserveQuery(metrics.KindSensors, metrics.OutcomeEmpty, time.Since(start).Seconds())
		return d.cache.Types()
	}

	deadline := start.Add(d.timeout)
	d.ledger.Open(DiscoveryID, len(children))
	d.metrics.RequestStarted()
	defer d.metrics.RequestFinished()

	d.debugf("[Discovery] asking %d children for their sensors", len(children))
	fctx, cancel := context.WithDeadline(ctx, deadline)
	fanOut(fctx, d.down, children, protocol.SensorsTopic, []byte(protocol.GetSensors), d.metrics)
	cancel()

	outcome := metrics.OutcomeComplete
	if !d.ledger.Wait(ctx, DiscoveryID, deadline) {
		outcome = metrics.OutcomeTimeout
		log.Printf("[Discovery] deadline passed before every child answered")
	}
	d.ledger.Close(DiscoveryID)

	d.metrics.ObserveQuery(metrics.KindSensors, outcome, time.Since(start).Seconds())
	return d.cache.Types()
}

// Offer records a child's catalog. It reports false when no discovery is in
// flight, in which case the reply is dropped.
func (d *Discovery) Offer(types []string) bool {
	return d.OfferFrom("", types)
}

// OfferFrom is Offer for a catalog that names the child it came from.
func (d *Discovery) OfferFrom(sender string, types []string) bool {
	if _, _, ok := d.ledger.Counts(DiscoveryID); !ok {
		return false
	}
	if !d.cache.Offer(types) && len(types) > 0 {
		d.debugf("[Discovery] catalog already set, ignoring %v", types)
	}
	return d.ledger.AckFrom(DiscoveryID, sender)
}

func (d *Discovery) debugf(format string, args ...interface{}) {
	if d.debug {
		log.Printf(format, args...)
	}
}
