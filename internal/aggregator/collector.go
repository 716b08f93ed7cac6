package aggregator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nd-schmidt/pimonitor/internal/metrics"
)

const (
	pkgName = "internal/aggregator"

	DefaultWindow = 10 * time.Second
)

var (
	ErrCollect = errors.New("collection error")
)

// Subscriber is the bus subscription used to receive telemetry during a window.
type Subscriber interface {
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	Unsubscribe(topic string) error
}

// Collector accumulates telemetry for a fixed collection window and returns the
// resulting snapshot.
//
// The fleet size is not known up front so a collection is complete when the
// window elapses, not when some number of devices reported in.
type Collector struct {
	subscriber Subscriber
	topic      string
	pipeline   *Pipeline
	store      *Store
	window     time.Duration
	after      func(time.Duration) <-chan time.Time
	logger     *logrus.Logger
}

// CollectorOption sets a Collector parameter.
type CollectorOption func(*Collector)

// WithWindow sets the collection window duration.
func WithWindow(d time.Duration) CollectorOption {
	return func(c *Collector) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithTimer sets the function returning the window expiry channel, tests use
// this to end a window deterministically.
func WithTimer(after func(time.Duration) <-chan time.Time) CollectorOption {
	return func(c *Collector) {
		c.after = after
	}
}

// NewCollector returns a Collector for the telemetry topic.
func NewCollector(subscriber Subscriber, topic string, pipeline *Pipeline, store *Store, logger *logrus.Logger, opts ...CollectorOption) *Collector {
	c := &Collector{
		subscriber: subscriber,
		topic:      topic,
		pipeline:   pipeline,
		store:      store,
		window:     DefaultWindow,
		after:      time.After,
		logger:     logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Collect subscribes to the telemetry topic, waits for the collection window and
// returns the snapshot. A cancelled context abandons the collection.
//
// Every collection subscribes anew so retained reports are delivered each window.
func (c *Collector) Collect(ctx context.Context) (Table, error) {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "Collect")
	defer span.End()

	runID := uuid.New()
	le := c.logger.WithFields(logrus.Fields{
		"runID":  runID.String(),
		"topic":  c.topic,
		"window": c.window.String(),
	})

	c.store.StartWindow()

	if err := c.subscriber.Subscribe(c.topic, c.pipeline.HandleMessage); err != nil {
		return nil, errors.Wrap(ErrCollect, err.Error())
	}

	defer func() {
		if err := c.subscriber.Unsubscribe(c.topic); err != nil {
			le.WithError(err).Warn("telemetry unsubscribe failed")
		}
	}()

	le.Info("collecting device reports")

	select {
	case <-c.after(c.window):
	case <-ctx.Done():
		le.Info("collection abandoned")
		return nil, ctx.Err()
	}

	c.pipeline.Refresh()

	table, err := c.store.Snapshot()
	if err != nil {
		return nil, errors.Wrap(ErrCollect, err.Error())
	}

	for state, count := range table.CountByState() {
		metrics.DevicesByAttention.WithLabelValues(string(state)).Set(float64(count))
	}

	span.SetAttributes(attribute.Int("devices", len(table)))
	le.WithField("devices", len(table)).Info("collection window closed")

	return table, nil
}
