package bus

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	segmentReport = "report"
	segmentConfig = "config"
	segmentStatus = "status"
)

var (
	ErrTopic = errors.New("unexpected topic")
)

// TopicKind is the kind of message a topic carries.
type TopicKind string

const (
	// KindTelemetry is periodic device status, <ns>/<mac>/report/status.
	KindTelemetry TopicKind = "telemetry"
	// KindReply is a device command reply, <ns>/<mac>/report/config[/<verb>...].
	KindReply TopicKind = "reply"
	// KindCommand is an operator command, <ns>/<mac>/config/<verb>[/<args>...].
	KindCommand TopicKind = "command"
)

// Topic is a parsed bus topic.
type Topic struct {
	Namespace string
	// Address is the second topic segment as published, not normalized.
	Address string
	Kind    TopicKind
	// Path holds the segments following the kind segments, for a per-verb reply
	// topic <ns>/<mac>/report/config/status/ssid this is [status ssid].
	Path []string
}

// TelemetryTopic returns the wildcard subscription for device status telemetry.
func TelemetryTopic(namespace string) string {
	return strings.Join([]string{namespace, "+", segmentReport, segmentStatus}, "/")
}

// ReplyTopic returns the wildcard subscription for command replies, it matches both
// the single reply topic and the per-verb reply topics.
func ReplyTopic(namespace string) string {
	return strings.Join([]string{namespace, "+", segmentReport, segmentConfig, "#"}, "/")
}

// CommandTopic returns the topic a command is published on, path segments follow the verb.
func CommandTopic(namespace, address, verb string, segments ...string) string {
	parts := append([]string{namespace, address, segmentConfig, verb}, segments...)

	return strings.Join(parts, "/")
}

// ParseTopic parses a telemetry, reply or command topic.
func ParseTopic(topic string) (*Topic, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" {
		return nil, errors.Wrap(ErrTopic, topic)
	}

	t := &Topic{Namespace: parts[0], Address: parts[1]}

	switch {
	case parts[2] == segmentReport && len(parts) == 4 && parts[3] == segmentStatus:
		t.Kind = KindTelemetry
	case parts[2] == segmentReport && len(parts) >= 4 && parts[3] == segmentConfig:
		t.Kind = KindReply
		t.Path = parts[4:]
	case parts[2] == segmentConfig && len(parts) >= 4:
		t.Kind = KindCommand
		t.Path = parts[3:]
	default:
		return nil, errors.Wrap(ErrTopic, topic)
	}

	return t, nil
}
