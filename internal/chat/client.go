package chat

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	httpRetryMax = 3
	httpTimeout  = 20 * time.Second
)

// NewHTTPClient returns a retrying http client with otel instrumentation for the chat service.
func NewHTTPClient(logger *logrus.Logger) *http.Client {
	retryableClient := retryablehttp.NewClient()
	retryableClient.RetryMax = httpRetryMax

	// set retryable HTTP client to be the otel http client to collect telemetry
	retryableClient.HTTPClient = &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   httpTimeout,
	}

	// disable default debug logging on the retryable client
	if logger.Level < logrus.DebugLevel {
		retryableClient.Logger = nil
	} else {
		retryableClient.Logger = logger
	}

	return retryableClient.StandardClient()
}
