package correlator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nd-schmidt/pimonitor/internal/chat"
	"github.com/nd-schmidt/pimonitor/internal/identity"
	"github.com/nd-schmidt/pimonitor/internal/metrics"
	"github.com/nd-schmidt/pimonitor/internal/model"
	"github.com/nd-schmidt/pimonitor/internal/worker"
)

const (
	pkgName = "internal/correlator"

	deliveryTimeout = 30 * time.Second
)

// Handler is the reply subscription handler, it correlates each reply, renders it
// and delivers it to the chat channel as the device fleet id.
//
// Delivery runs on the limiter so a slow chat service does not hold up the bus
// client, when the limiter is full the reply is delivered inline.
type Handler struct {
	correlator  Correlator
	resolver    identity.Resolver
	tracker     *Tracker
	poster      chat.Poster
	limiter     *worker.Limiter
	inlineLimit int
	logger      *logrus.Logger
}

// NewHandler returns a reply Handler, tracker and limiter may be nil.
func NewHandler(
	correlator Correlator,
	resolver identity.Resolver,
	tracker *Tracker,
	poster chat.Poster,
	limiter *worker.Limiter,
	inlineLimit int,
	logger *logrus.Logger,
) *Handler {
	return &Handler{
		correlator:  correlator,
		resolver:    resolver,
		tracker:     tracker,
		poster:      poster,
		limiter:     limiter,
		inlineLimit: inlineLimit,
		logger:      logger,
	}
}

// HandleMessage processes one reply message. Stale and malformed replies are
// logged and dropped, they are never rendered.
func (h *Handler) HandleMessage(topic string, payload []byte) {
	le := h.logger.WithField("topic", topic)

	reply, err := h.correlator.Correlate(topic, payload)
	if err != nil {
		switch {
		case errors.Is(err, ErrStaleReply):
			metrics.RepliesCounter.WithLabelValues("", "stale").Inc()
			le.WithError(err).Info("discarded stale reply")
		default:
			metrics.RepliesCounter.WithLabelValues("", "invalid").Inc()
			le.WithError(err).Warn("dropped reply")
		}

		return
	}

	fleetID := identity.FleetIDOrAddress(h.resolver, reply.HardwareAddress)

	le = le.WithFields(logrus.Fields{
		"fleetID": fleetID,
		"mac":     reply.HardwareAddress,
		"type":    reply.Type(),
		"result":  reply.Result,
	})

	if h.tracker != nil {
		if elapsed, pending := h.tracker.Complete(reply.HardwareAddress, reply.Verb); pending {
			le = le.WithField("elapsed", elapsed.String())
		} else {
			le.Debug("reply without a command in flight")
		}
	}

	result, err := Decode(reply)
	if err != nil {
		metrics.RepliesCounter.WithLabelValues(reply.Verb, "invalid").Inc()
		le.WithError(err).Warn("dropped undecodable reply")

		return
	}

	if _, unknown := result.(*Unknown); unknown {
		metrics.RepliesCounter.WithLabelValues("unknown", "rendered").Inc()
		le.Warn("unknown reply type")
	} else {
		metrics.RepliesCounter.WithLabelValues(reply.Verb, "rendered").Inc()
		le.Info("reply received")
	}

	msg := Render(result, fleetID, h.inlineLimit)

	h.deliver(reply, msg, le)
}

func (h *Handler) deliver(reply *model.CommandReply, msg *chat.Message, le *logrus.Entry) {
	post := func() {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()

		ctx, span := otel.Tracer(pkgName).Start(ctx, "DeliverReply")
		defer span.End()

		span.SetAttributes(
			attribute.String("mac", reply.HardwareAddress),
			attribute.String("type", reply.Type()),
		)

		if err := h.poster.Post(ctx, msg); err != nil {
			le.WithError(err).Error("reply delivery failed")
		}
	}

	if h.limiter == nil {
		post()
		return
	}

	if err := h.limiter.Dispatch(post); err != nil {
		le.WithError(err).Debug("delivering reply inline")
		post()
	}
}
