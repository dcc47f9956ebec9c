// Package protocol defines the MQTT topics exchanged between gateways and
// decodes inbound messages into a closed set of typed variants.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/healthrank/internal/models"
	"github.com/healthrank/internal/score"
	"github.com/healthrank/internal/topk"
)

// QoS is used for every publish and subscription (at-least-once).
const QoS byte = 1

// Topic roots. Request-scoped topics carry the request id as the second
// level, e.g. TOP_K_HEALTH/42.
const (
	TopKQueryTopic     = "TOP_K_HEALTH"
	TopKResultTopic    = "TOP_K_HEALTH_RES"
	InsufficientTopic  = "INVALID_TOP_K"
	SensorsTopic       = "SENSORS"
	SensorsResultTopic = "SENSORS_RES"
	SynTopic           = "SYN"
	FinTopic           = "FIN"

	// Output of the root gateway, published on its own broker.
	RootTopKResultTopic    = "TOP_K_HEALTH_FOG_RES"
	RootInsufficientTopic  = "INVALID_TOP_K_FOG"
	RootSensorsResultTopic = "SENSORS_FOG_RES"

	// GetSensors is the only marker accepted on SensorsTopic.
	GetSensors = "GET sensors"
)

var (
	ErrUnrecognized = errors.New("unrecognized request")
	ErrMalformed    = errors.New("malformed payload")
)

// DecodeError reports which topic and request a rejected message belonged to
// so the router can answer on the matching reply topic.
type DecodeError struct {
	Root string
	ID   string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s/%s: %v", e.Root, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Root, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Message is implemented by every decoded variant.
type Message interface {
	topicRoot() string
}

// TopKQuery asks for the K healthiest devices under the receiving gateway.
type TopKQuery struct {
	ID             string             `json:"id"`
	K              int                `json:"k"`
	FunctionHealth []models.Criterion `json:"functionHealth"`
	// Devices restricts local scoring to these ids when non-empty.
	Devices []string `json:"devices,omitempty"`

	// Raw is the payload as received, forwarded verbatim to children.
	Raw []byte `json:"-"`
}

// TopKResult is a child's ranked answer. From is the advertised address of
// the answering gateway, empty when the sender does not name itself.
type TopKResult struct {
	ID        string       `json:"id"`
	Timestamp int64        `json:"timestamp"`
	Devices   []topk.Entry `json:"devices"`
	From      string       `json:"from,omitempty"`
}

// Scores converts the result into a mergeable map.
func (r TopKResult) Scores() *topk.ScoreMap {
	return topk.FromEntries(r.Devices)
}

// InsufficientNotice is the advisory sent when fewer than K devices exist.
type InsufficientNotice struct {
	ID   string
	Text string
}

// SensorQuery asks for the sensor catalog.
type SensorQuery struct{}

// SensorResult carries a child's sensor catalog.
type SensorResult struct {
	Sensors []string `json:"sensors"`
	From    string   `json:"from,omitempty"`
}

// Membership is a SYN (Join) or FIN announcement from a child.
type Membership struct {
	Join bool
	Addr string
}

func (TopKQuery) topicRoot() string          { return TopKQueryTopic }
func (TopKResult) topicRoot() string         { return TopKResultTopic }
func (InsufficientNotice) topicRoot() string { return InsufficientTopic }
func (SensorQuery) topicRoot() string        { return SensorsTopic }
func (SensorResult) topicRoot() string       { return SensorsResultTopic }
func (m Membership) topicRoot() string {
	if m.Join {
		return SynTopic
	}
	return FinTopic
}

// splitTopic returns the topic root and the request id segment.
func splitTopic(topic string) (string, string) {
	root, id, _ := strings.Cut(topic, "/")
	return root, id
}

// Decode turns an inbound MQTT message into one of the typed variants.
// Errors are always *DecodeError wrapping ErrUnrecognized or ErrMalformed.
func Decode(topic string, payload []byte) (Message, error) {
	root, id := splitTopic(topic)
	fail := func(err error, format string, args ...interface{}) error {
		return &DecodeError{Root: root, ID: id, Err: fmt.Errorf("%w: %s", err, fmt.Sprintf(format, args...))}
	}

	switch root {
	case TopKQueryTopic:
		var q TopKQuery
		if err := json.Unmarshal(payload, &q); err != nil {
			return nil, fail(ErrMalformed, "query: %v", err)
		}
		if id != "" {
			q.ID = id
		}
		if q.ID == "" {
			return nil, fail(ErrMalformed, "query has no id")
		}
		if q.K < 0 {
			return nil, fail(ErrMalformed, "negative k %d", q.K)
		}
		if q.K > 0 {
			if err := score.ValidateCriteria(q.FunctionHealth); err != nil {
				return nil, fail(ErrMalformed, "%v", err)
			}
		}
		q.Raw = payload
		return q, nil

	case TopKResultTopic:
		var r TopKResult
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, fail(ErrMalformed, "result: %v", err)
		}
		if id != "" {
			r.ID = id
		}
		if r.ID == "" {
			return nil, fail(ErrMalformed, "result has no id")
		}
		return r, nil

	case InsufficientTopic:
		return InsufficientNotice{ID: id, Text: string(payload)}, nil

	case SensorsTopic:
		if string(payload) != GetSensors {
			return nil, fail(ErrUnrecognized, "marker %q", string(payload))
		}
		return SensorQuery{}, nil

	case SensorsResultTopic:
		var r SensorResult
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, fail(ErrMalformed, "sensors: %v", err)
		}
		return r, nil

	case SynTopic, FinTopic:
		if len(payload) == 0 {
			return nil, fail(ErrMalformed, "membership without address")
		}
		return Membership{Join: root == SynTopic, Addr: string(payload)}, nil
	}

	return nil, fail(ErrUnrecognized, "topic %q", topic)
}

// IsRequest reports whether root names a request topic, i.e. one whose
// sender expects an answer.
func IsRequest(root string) bool {
	return root == TopKQueryTopic || root == SensorsTopic
}

// Usage is the help text sent back for requests that cannot be understood.
func Usage() string {
	return fmt.Sprintf("\nOops! the request isn't recognized...\nTry one of the options below:\n"+
		"- %s/{id} with {\"id\":\"...\",\"k\":N,\"functionHealth\":[{\"sensor\":\"...\",\"weight\":N}]}\n"+
		"- %s with %q\n", TopKQueryTopic, SensorsTopic, GetSensors)
}

func QueryTopic(id string) string { return TopKQueryTopic + "/" + id }

func ResultTopic(root bool, id string) string {
	if root {
		return RootTopKResultTopic + "/" + id
	}
	return TopKResultTopic + "/" + id
}

func InsufficientTopicFor(root bool, id string) string {
	if root {
		return RootInsufficientTopic + "/" + id
	}
	return InsufficientTopic + "/" + id
}

func SensorsResultTopicFor(root bool) string {
	if root {
		return RootSensorsResultTopic
	}
	return SensorsResultTopic
}

// EncodeQuery serializes q for publication to children.
func EncodeQuery(q TopKQuery) ([]byte, error) {
	return json.Marshal(q)
}

// EncodeResult serializes a ranked answer.
func EncodeResult(r TopKResult) ([]byte, error) {
	if r.Devices == nil {
		r.Devices = []topk.Entry{}
	}
	return json.Marshal(r)
}

// InsufficientText describes a Top-K that could not be filled.
func InsufficientText(requested, available int) string {
	return fmt.Sprintf("Can't calculate the Top-%d, sending the Top-%d! (%d of %d)", requested, available, available, requested)
}

// EncodeSensors serializes a sensor catalog sent by the gateway at from.
func EncodeSensors(from string, types []string) ([]byte, error) {
	if types == nil {
		types = []string{}
	}
	return json.Marshal(SensorResult{Sensors: types, From: from})
}
