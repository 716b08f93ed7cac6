package aggregator

import (
	"github.com/sirupsen/logrus"

	"github.com/nd-schmidt/pimonitor/internal/classify"
	"github.com/nd-schmidt/pimonitor/internal/metrics"
	"github.com/nd-schmidt/pimonitor/internal/telemetry"
)

// Pipeline normalizes, classifies and ingests inbound status telemetry.
//
// HandleMessage is invoked from the bus client callback and is safe for concurrent use.
type Pipeline struct {
	normalizer *telemetry.Normalizer
	policy     classify.Policy
	store      *Store
	logger     *logrus.Logger
}

// NewPipeline returns a Pipeline writing into store.
func NewPipeline(normalizer *telemetry.Normalizer, policy classify.Policy, store *Store, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		normalizer: normalizer,
		policy:     policy,
		store:      store,
		logger:     logger,
	}
}

// HandleMessage processes one telemetry message, a message that fails to parse is
// logged and dropped.
func (p *Pipeline) HandleMessage(topic string, payload []byte) {
	report, err := p.normalizer.Normalize(payload)
	if err != nil {
		metrics.ReportsCounter.WithLabelValues("invalid").Inc()
		p.logger.WithError(err).WithField("topic", topic).Warn("dropped telemetry message")

		return
	}

	le := p.logger.WithFields(logrus.Fields{
		"topic":   topic,
		"fleetID": report.FleetID,
		"mac":     report.HardwareAddress,
		"age":     report.Age.String(),
	})

	if report.FutureTimestamp() {
		le.Warn("device timestamp is ahead of local clock")
	}

	c := classify.Classify(report, p.policy)

	if !p.store.Ingest(report, c) {
		metrics.ReportsCounter.WithLabelValues("duplicate").Inc()
		le.Debug("duplicate report in collection window, kept first")

		return
	}

	metrics.ReportsCounter.WithLabelValues("recorded").Inc()
	le.WithField("attention", c.State).Debug("recorded report")
}

// Refresh ages and classifies every stored entry against the normalizer clock.
func (p *Pipeline) Refresh() {
	p.store.Reclassify(p.normalizer.Now(), p.policy)
}
