// Package correlator matches asynchronous device command replies to the device and
// verb that produced them and renders them for chat delivery.
//
// The wire protocol carries no request id, a reply is correlated only by the device
// address and the verb family. With more than one command of a family in flight for
// a device the replies cannot be told apart.
package correlator

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/nd-schmidt/pimonitor/internal/bus"
	"github.com/nd-schmidt/pimonitor/internal/identity"
	"github.com/nd-schmidt/pimonitor/internal/model"
	"github.com/nd-schmidt/pimonitor/internal/telemetry"
	"github.com/nd-schmidt/pimonitor/types"
)

const (
	DefaultFreshness = 10 * time.Minute
)

var (
	ErrMalformed    = errors.New("malformed reply payload")
	ErrMissingField = errors.New("reply payload missing required field")
	ErrStaleReply   = errors.New("stale reply")
	ErrTopic        = errors.New("not a reply topic")
)

// Correlator turns an inbound reply message into a CommandReply.
type Correlator interface {
	Correlate(topic string, payload []byte) (*model.CommandReply, error)
}

// Option sets a TopicCorrelator parameter.
type Option func(*TopicCorrelator)

// WithClock sets the clock replies are aged against.
func WithClock(now func() time.Time) Option {
	return func(c *TopicCorrelator) {
		c.now = now
	}
}

// WithFreshness sets the age past which a reply is discarded.
func WithFreshness(d time.Duration) Option {
	return func(c *TopicCorrelator) {
		if d > 0 {
			c.freshness = d
		}
	}
}

// TopicCorrelator correlates replies by the device address in the topic and the
// verb declared in the payload type.
//
// Replies arrive either on the single reply topic <ns>/<mac>/report/config or on
// per-verb topics <ns>/<mac>/report/config/<verb>[/...], the payload type takes
// precedence and the topic path is used when the payload declares none.
type TopicCorrelator struct {
	now       func() time.Time
	freshness time.Duration
}

// New returns a TopicCorrelator.
func New(opts ...Option) *TopicCorrelator {
	c := &TopicCorrelator{
		now:       time.Now,
		freshness: DefaultFreshness,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Correlate decodes and validates the reply.
//
// A reply with a timestamp older than the freshness window is retained or replayed
// and returns ErrStaleReply, a timestamp ahead of the local clock is accepted.
func (c *TopicCorrelator) Correlate(topic string, payload []byte) (*model.CommandReply, error) {
	t, err := bus.ParseTopic(topic)
	if err != nil || t.Kind != bus.KindReply {
		return nil, errors.Wrap(ErrTopic, topic)
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}

	present := func(field string) bool {
		v, exists := fields[field]
		return exists && string(v) != "null"
	}

	if !present(types.FieldTimestamp) {
		return nil, errors.Wrap(ErrMissingField, types.FieldTimestamp)
	}

	if !present(types.FieldResult) {
		return nil, errors.Wrap(ErrMissingField, types.FieldResult)
	}

	var rawTimestamp, result, msgType, mac string

	if err := json.Unmarshal(fields[types.FieldTimestamp], &rawTimestamp); err != nil {
		return nil, errors.Wrap(ErrMalformed, types.FieldTimestamp+": "+err.Error())
	}

	timestamp, err := telemetry.ParseTimestamp(rawTimestamp)
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, types.FieldTimestamp+": "+err.Error())
	}

	if age := c.now().Sub(timestamp); age > c.freshness {
		return nil, errors.Wrapf(ErrStaleReply, "timestamp %s, age %s", rawTimestamp, age.Truncate(time.Second))
	}

	if err := json.Unmarshal(fields[types.FieldResult], &result); err != nil {
		return nil, errors.Wrap(ErrMalformed, types.FieldResult+": "+err.Error())
	}

	reply := &model.CommandReply{Timestamp: timestamp}

	switch model.ReplyResult(strings.ToLower(result)) {
	case model.ResultSuccess:
		reply.Result = model.ResultSuccess
	case model.ResultFailure:
		reply.Result = model.ResultFailure
	default:
		return nil, errors.Wrapf(ErrMalformed, "result %q", result)
	}

	if present(types.FieldType) {
		if err := json.Unmarshal(fields[types.FieldType], &msgType); err != nil {
			return nil, errors.Wrap(ErrMalformed, types.FieldType+": "+err.Error())
		}
	}

	switch {
	case msgType != "":
		reply.VariantPath = strings.Split(strings.Trim(msgType, "/"), "/")
	case len(t.Path) > 0:
		reply.VariantPath = t.Path
	default:
		return nil, errors.Wrap(ErrMissingField, types.FieldType)
	}

	reply.Verb = reply.VariantPath[0]

	if reply.Succeeded() {
		if !present(types.FieldOut) {
			return nil, errors.Wrap(ErrMissingField, types.FieldOut)
		}

		reply.Out = fields[types.FieldOut]
	}

	if present(types.FieldErr) {
		reply.Error = string(fields[types.FieldErr])
	}

	if present(types.FieldMAC) {
		_ = json.Unmarshal(fields[types.FieldMAC], &mac)
	}

	reply.HardwareAddress = replyAddress(t.Address, mac)

	return reply, nil
}

// replyAddress returns the canonical address from the topic, falling back to the
// payload address and finally the raw topic segment.
func replyAddress(topicAddress, payloadAddress string) string {
	if address, ok := identity.NormalizeAddress(topicAddress); ok {
		return address
	}

	if address, ok := identity.NormalizeAddress(payloadAddress); ok {
		return address
	}

	return topicAddress
}
