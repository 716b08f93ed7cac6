package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	DefaultListenAddress = "0.0.0.0:9090"
)

var (
	ReportsCounter     *prometheus.CounterVec
	DevicesByAttention *prometheus.GaugeVec

	CommandsCounter *prometheus.CounterVec
	RepliesCounter  *prometheus.CounterVec

	ChatPostsCounter         *prometheus.CounterVec
	ChatPostRunTimeSummary   *prometheus.SummaryVec
	BusConnectionLostCounter prometheus.Counter
)

func init() {
	ReportsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pimonitor_reports_received",
			Help: "A counter metric to measure the total count of status reports received",
		},
		[]string{"outcome"}, // outcome is recorded/duplicate/invalid
	)

	DevicesByAttention = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pimonitor_devices",
			Help: "A gauge metric with the number of devices in each attention state at the end of the last collection window",
		},
		[]string{"state"},
	)

	CommandsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pimonitor_commands_dispatched",
			Help: "A counter metric to measure the total count of commands dispatched to devices, successful and rejected",
		},
		[]string{"verb", "status"},
	)

	RepliesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pimonitor_replies_received",
			Help: "A counter metric to measure the total count of command replies received",
		},
		[]string{"verb", "outcome"},
	)

	ChatPostsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pimonitor_chat_posts",
			Help: "A counter metric to measure the total count of chat posts",
		},
		[]string{"kind", "status"},
	)

	ChatPostRunTimeSummary = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "pimonitor_chat_post_duration_seconds",
			Help: "A summary metric to measure the time spent posting to the chat service",
		},
		[]string{"kind"},
	)

	BusConnectionLostCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pimonitor_bus_connection_lost",
			Help: "A counter metric to measure the number of times the broker connection was lost",
		},
	)
}

// ListenAndServe exposes prometheus metrics as /metrics on the given address,
// an empty address uses DefaultListenAddress.
func ListenAndServe(address string, logger *logrus.Logger) {
	if address == "" {
		address = DefaultListenAddress
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:              address,
			Handler:           mux,
			ReadHeaderTimeout: 2 * time.Second, // nolint:gomnd // time duration value is clear as is.
		}

		if err := server.ListenAndServe(); err != nil {
			logger.WithError(err).Error("metrics listener returned")
		}
	}()
}
