package command

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nd-schmidt/pimonitor/internal/bus"
	"github.com/nd-schmidt/pimonitor/internal/identity"
	"github.com/nd-schmidt/pimonitor/internal/metrics"
	"github.com/nd-schmidt/pimonitor/internal/model"
)

const (
	pkgName = "internal/command"
)

var (
	ErrUnknownVerb     = errors.New("unknown command verb")
	ErrUnknownDevice   = errors.New("unknown device")
	ErrUsage           = errors.New("command usage error")
	ErrInvalidArgument = errors.New("invalid command argument")
	ErrPublish         = errors.New("command publish error")
)

// Publisher publishes a payload on a bus topic without awaiting delivery.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// InFlight records commands awaiting a reply, Begin returns true when a command of
// the same verb family is already pending for the address.
type InFlight interface {
	Begin(address, verb string) bool
}

// ParseRequest parses slash command text of the form <verb> <fleet id> [args].
//
// The argument text is kept as a single element so body encoded verbs receive it
// verbatim. The help verb returns a request without a fleet id.
func ParseRequest(text string) (model.CommandRequest, error) {
	rest := strings.TrimSpace(text)
	fields := strings.Fields(rest)

	req := model.CommandRequest{}
	if len(fields) == 0 {
		return req, errors.Wrap(ErrUsage, "missing verb")
	}

	req.Verb = strings.ToLower(fields[0])

	if req.Verb == VerbHelp {
		return req, nil
	}

	if len(fields) < 2 {
		return req, errors.Wrap(ErrUsage, "missing device id")
	}

	req.FleetID = fields[1]

	rest = strings.TrimSpace(rest[len(fields[0]):])
	if args := strings.TrimSpace(rest[len(fields[1]):]); args != "" {
		req.Args = []string{args}
	}

	return req, nil
}

// Dispatcher publishes operator commands to devices.
type Dispatcher struct {
	namespace string
	verbs     *VerbTable
	resolver  identity.Resolver
	publisher Publisher
	inflight  InFlight
	logger    *logrus.Logger
}

// NewDispatcher returns a Dispatcher, inflight may be nil.
func NewDispatcher(namespace string, verbs *VerbTable, resolver identity.Resolver, publisher Publisher, inflight InFlight, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		namespace: namespace,
		verbs:     verbs,
		resolver:  resolver,
		publisher: publisher,
		inflight:  inflight,
		logger:    logger,
	}
}

// Verbs returns the verb table of the dispatcher.
func (d *Dispatcher) Verbs() *VerbTable {
	return d.verbs
}

// Dispatch publishes the request and returns the topic it was published on.
//
// Unknown verbs and devices fail before any bus interaction.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.CommandRequest) (string, error) {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "Dispatch")
	defer span.End()

	span.SetAttributes(
		attribute.String("verb", req.Verb),
		attribute.String("fleetID", req.FleetID),
	)

	le := d.logger.WithFields(logrus.Fields{"verb": req.Verb, "fleetID": req.FleetID})

	verb, ok := d.verbs.Lookup(req.Verb)
	if !ok {
		metrics.CommandsCounter.WithLabelValues("unknown", "rejected").Inc()
		return "", errors.Wrap(ErrUnknownVerb, req.Verb)
	}

	address, ok := d.resolver.Address(req.FleetID)
	if !ok {
		metrics.CommandsCounter.WithLabelValues(verb.Name, "rejected").Inc()
		le.Warn("command for unknown device")

		return "", errors.Wrap(ErrUnknownDevice, req.FleetID)
	}

	topic, payload, err := d.encode(verb, address, req.Args)
	if err != nil {
		metrics.CommandsCounter.WithLabelValues(verb.Name, "rejected").Inc()
		return "", err
	}

	if d.inflight != nil && d.inflight.Begin(address, verb.Name) {
		le.WithField("mac", address).Warn("command already in flight for device, replies cannot be told apart")
	}

	if err := d.publisher.Publish(ctx, topic, payload); err != nil {
		metrics.CommandsCounter.WithLabelValues(verb.Name, "failed").Inc()
		return "", errors.Wrap(ErrPublish, err.Error())
	}

	metrics.CommandsCounter.WithLabelValues(verb.Name, "sent").Inc()
	le.WithFields(logrus.Fields{"topic": topic, "bytes": len(payload)}).Info("command published")

	return topic, nil
}

func (d *Dispatcher) encode(verb Verb, address string, args []string) (topic string, payload []byte, err error) {
	switch verb.Encoding {
	case ArgsAsBody:
		return bus.CommandTopic(d.namespace, address, verb.Name), []byte(strings.Join(args, " ")), nil
	case ArgsAsPath:
		segments := []string{}
		for _, arg := range args {
			segments = append(segments, strings.Fields(arg)...)
		}

		for _, s := range segments {
			if strings.ContainsAny(s, "/+#") {
				return "", nil, errors.Wrap(ErrInvalidArgument, s)
			}
		}

		return bus.CommandTopic(d.namespace, address, verb.Name, segments...), []byte{}, nil
	default:
		return "", nil, errors.Wrapf(ErrInvalidArgument, "verb %s has no argument encoding", verb.Name)
	}
}
