// Package monitor runs the aggregation flow: collect fleet telemetry for one window,
// render the fleet report and post it to the chat channel.
package monitor

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nd-schmidt/pimonitor/internal/aggregator"
	"github.com/nd-schmidt/pimonitor/internal/chat"
	"github.com/nd-schmidt/pimonitor/internal/render"
)

var (
	ErrReport = errors.New("fleet report error")
)

// Collector collects one window of fleet telemetry.
type Collector interface {
	Collect(ctx context.Context) (aggregator.Table, error)
}

// Monitor posts the fleet report after every collection window.
type Monitor struct {
	collector  Collector
	poster     chat.Poster
	username   string
	chunkLimit int
	interval   time.Duration
	after      func(time.Duration) <-chan time.Time
	logger     *logrus.Logger
}

// Option sets a Monitor parameter.
type Option func(*Monitor)

// WithInterval repeats the report at the interval, zero runs a single report.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.interval = d
	}
}

// WithUsername sets the display name reports are posted as.
func WithUsername(username string) Option {
	return func(m *Monitor) {
		m.username = username
	}
}

// WithChunkLimit sets the character limit of a posted table block.
func WithChunkLimit(limit int) Option {
	return func(m *Monitor) {
		m.chunkLimit = limit
	}
}

// WithTimer sets the function the interval between reports is awaited on.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(m *Monitor) {
		m.after = after
	}
}

func New(collector Collector, poster chat.Poster, logger *logrus.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		collector:  collector,
		poster:     poster,
		chunkLimit: render.DefaultChunkLimit,
		after:      time.After,
		logger:     logger,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Run reports once, or with an interval set, until ctx is canceled.
//
// In repeated mode a failed report is logged and the next one runs as scheduled.
func (m *Monitor) Run(ctx context.Context) error {
	if m.interval <= 0 {
		return m.Report(ctx)
	}

	for {
		if err := m.Report(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			m.logger.WithError(err).Error("fleet report failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-m.after(m.interval):
		}
	}
}

// Report collects one window and posts the report, one message per block.
//
// Every block is attempted, post errors are returned together.
func (m *Monitor) Report(ctx context.Context) error {
	table, err := m.collector.Collect(ctx)
	if err != nil {
		return err
	}

	blocks, err := render.Report(table, m.chunkLimit)
	if err != nil {
		return errors.Wrap(ErrReport, err.Error())
	}

	var merr *multierror.Error

	for _, block := range blocks {
		if err := m.poster.Post(ctx, chat.Sections(m.username, block)); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	if merr != nil {
		return errors.Wrap(ErrReport, merr.Error())
	}

	m.logger.WithFields(logrus.Fields{
		"devices":   len(table),
		"attention": len(table.Attention()),
		"blocks":    len(blocks),
	}).Info("fleet report posted")

	return nil
}
