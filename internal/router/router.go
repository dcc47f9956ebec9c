// Package router is the gateway's protocol state machine. It subscribes to
// the gateway topics, decodes every inbound message into a typed variant and
// dispatches it to the topology, the ledger or the engines.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/healthrank/internal/aggregation"
	"github.com/healthrank/internal/ledger"
	"github.com/healthrank/internal/metrics"
	"github.com/healthrank/internal/mqttclient"
	"github.com/healthrank/internal/protocol"
	"github.com/healthrank/internal/topology"
)

// Bus is a connection to one MQTT broker.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqttclient.Handler) error
	Unsubscribe(topics ...string) error
}

type Options struct {
	NodeID string
	// HasChildren enables the child-facing subscriptions (results, SYN, FIN).
	HasChildren bool
	// AdvertiseAddr is the host:port of this gateway's broker, announced to
	// the parent with SYN/FIN.
	AdvertiseAddr string
	Debug         bool
	Metrics       *metrics.Recorder
}

type Service struct {
	host      Bus
	parent    Bus
	engine    *aggregation.Engine
	discovery *aggregation.Discovery
	ledger    *ledger.Ledger
	topo      *topology.Registry
	opts      Options
	now       func() time.Time
}

// New wires the router. parent is nil on the root gateway.
func New(host, parent Bus, engine *aggregation.Engine, discovery *aggregation.Discovery,
	l *ledger.Ledger, topo *topology.Registry, opts Options) *Service {
	return &Service{
		host:      host,
		parent:    parent,
		engine:    engine,
		discovery: discovery,
		ledger:    l,
		topo:      topo,
		opts:      opts,
		now:       time.Now,
	}
}

func (s *Service) isRoot() bool {
	return s.parent == nil
}

func (s *Service) topics() []string {
	topics := []string{protocol.TopKQueryTopic + "/#", protocol.SensorsTopic}
	if s.opts.HasChildren {
		topics = append(topics,
			protocol.TopKResultTopic+"/#",
			protocol.InsufficientTopic+"/#",
			protocol.SensorsResultTopic,
			protocol.SynTopic,
			protocol.FinTopic,
		)
	}
	return topics
}

// Start subscribes on the gateway's own broker and announces the gateway to
// its parent.
func (s *Service) Start() error {
	for _, topic := range s.topics() {
		if err := s.host.Subscribe(topic, protocol.QoS, s.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		log.Printf("[%s][Router] Subscribed to %s", s.opts.NodeID, topic)
	}

	if !s.isRoot() && s.opts.AdvertiseAddr != "" {
		if err := s.parent.Publish(protocol.SynTopic, []byte(s.opts.AdvertiseAddr), protocol.QoS, false); err != nil {
			return fmt.Errorf("announce %s to parent: %w", s.opts.AdvertiseAddr, err)
		}
		log.Printf("[%s][Router] Announced %s to parent", s.opts.NodeID, s.opts.AdvertiseAddr)
	}
	return nil
}

// Stop leaves the parent and drops the subscriptions.
func (s *Service) Stop() {
	if !s.isRoot() && s.opts.AdvertiseAddr != "" {
		if err := s.parent.Publish(protocol.FinTopic, []byte(s.opts.AdvertiseAddr), protocol.QoS, false); err != nil {
			log.Printf("[%s][Router] FIN to parent failed: %v", s.opts.NodeID, err)
		}
	}
	if err := s.host.Unsubscribe(s.topics()...); err != nil {
		log.Printf("[%s][Router] Unsubscribe failed: %v", s.opts.NodeID, err)
	}
}

// Handle processes one inbound message. It never panics on bad input;
// requests that cannot be understood are answered with the usage text.
func (s *Service) Handle(topic string, payload []byte) {
	msg, err := protocol.Decode(topic, payload)
	if err != nil {
		s.reject(err)
		return
	}

	switch m := msg.(type) {
	case protocol.TopKQuery:
		s.debugf("[%s][Router] Top-K request %s (k=%d)", s.opts.NodeID, m.ID, m.K)
		s.publishOutcome(s.upBus(), s.isRoot(), s.engine.Run(context.Background(), m))

	case protocol.TopKResult:
		merged := s.ledger.MergeFrom(m.ID, m.From, m.Scores())
		s.opts.Metrics.ChildReply(metrics.KindTopK, !merged)
		if !merged {
			s.debugf("[%s][Router] Dropping late result for %s", s.opts.NodeID, m.ID)
			return
		}
		s.debugf("[%s][Router] Merged %d devices for %s", s.opts.NodeID, len(m.Devices), m.ID)

	case protocol.InsufficientNotice:
		log.Printf("[%s][Router] Child notice for %s: %s", s.opts.NodeID, m.ID, m.Text)

	case protocol.SensorQuery:
		s.publishUp(protocol.SensorsResultTopicFor(s.isRoot()), s.sensorsPayload(s.discovery.Run(context.Background())))

	case protocol.SensorResult:
		offered := s.discovery.OfferFrom(m.From, m.Sensors)
		s.opts.Metrics.ChildReply(metrics.KindSensors, !offered)
		if !offered {
			s.debugf("[%s][Router] Dropping late sensor catalog %v", s.opts.NodeID, m.Sensors)
		}

	case protocol.Membership:
		if m.Join {
			s.topo.Add(m.Addr)
		} else {
			s.topo.Remove(m.Addr)
		}

	default:
		log.Printf("[%s][Router] No handler for %T", s.opts.NodeID, msg)
	}
}

// Query runs a request that originates at this gateway and publishes the
// answer on the gateway's own broker.
func (s *Service) Query(ctx context.Context, q protocol.TopKQuery) aggregation.Outcome {
	out := s.engine.Run(ctx, q)
	s.publishOutcome(s.host, true, out)
	return out
}

// Discover runs a discovery cycle that originates at this gateway.
func (s *Service) Discover(ctx context.Context) []string {
	types := s.discovery.Run(ctx)
	s.publish(s.host, protocol.SensorsResultTopicFor(true), s.sensorsPayload(types))
	return types
}

func (s *Service) reject(err error) {
	s.opts.Metrics.Unrecognized()
	log.Printf("[%s][Router] Rejected message: %v", s.opts.NodeID, err)

	var de *protocol.DecodeError
	if !errors.As(err, &de) || !protocol.IsRequest(de.Root) {
		return
	}
	usage := []byte(protocol.Usage())
	switch de.Root {
	case protocol.TopKQueryTopic:
		id := de.ID
		if id == "" {
			id = "unknown"
		}
		s.publishUp(protocol.InsufficientTopicFor(s.isRoot(), id), usage)
	case protocol.SensorsTopic:
		s.publishUp(protocol.SensorsResultTopicFor(s.isRoot()), usage)
	}
}

func (s *Service) publishOutcome(bus Bus, root bool, out aggregation.Outcome) {
	if out.Insufficient {
		s.publish(bus, protocol.InsufficientTopicFor(root, out.ID), []byte(out.Notice()))
	}
	payload, err := protocol.EncodeResult(protocol.TopKResult{
		ID:        out.ID,
		Timestamp: s.now().UnixMilli(),
		Devices:   out.Result,
		From:      s.opts.AdvertiseAddr,
	})
	if err != nil {
		log.Printf("[%s][Router] Encoding result %s: %v", s.opts.NodeID, out.ID, err)
		return
	}
	s.publish(bus, protocol.ResultTopic(root, out.ID), payload)
}

// upBus is the parent broker, or the own broker on the root gateway.
func (s *Service) upBus() Bus {
	if s.parent == nil {
		return s.host
	}
	return s.parent
}

func (s *Service) publishUp(topic string, payload []byte) {
	s.publish(s.upBus(), topic, payload)
}

func (s *Service) publish(bus Bus, topic string, payload []byte) {
	if err := bus.Publish(topic, payload, protocol.QoS, false); err != nil {
		log.Printf("[%s][Router] Publish %s failed: %v", s.opts.NodeID, topic, err)
		return
	}
	s.debugf("[%s][Router] Published %s: %s", s.opts.NodeID, topic, string(payload))
}

func (s *Service) sensorsPayload(types []string) []byte {
	payload, err := protocol.EncodeSensors(s.opts.AdvertiseAddr, types)
	if err != nil {
		return []byte(`{"sensors":[]}`)
	}
	return payload
}

func (s *Service) debugf(format string, args ...interface{}) {
	if s.opts.Debug {
		log.Printf(format, args...)
	}
}
