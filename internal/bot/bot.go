// Package bot runs the command flow: the slash command endpoint publishes operator
// commands to devices and the reply subscription delivers device replies to chat.
package bot

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nd-schmidt/pimonitor/internal/correlator"
	"github.com/nd-schmidt/pimonitor/internal/worker"
)

const (
	DefaultListenAddress = "0.0.0.0:3000"
	DefaultCommandPath   = "/slack/commands"

	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

var (
	ErrServe = errors.New("bot server error")
)

// Subscriber subscribes handlers to bus topics.
type Subscriber interface {
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	Unsubscribe(topic string) error
}

// Bot serves slash commands and delivers device replies until its context is canceled.
type Bot struct {
	subscriber Subscriber
	replyTopic string
	slash      *SlashHandler
	replies    *correlator.Handler
	limiter    *worker.Limiter
	logger     *logrus.Logger
}

// New returns a Bot, limiter is the limiter the reply handler delivers on and may be nil.
func New(subscriber Subscriber, replyTopic string, slash *SlashHandler, replies *correlator.Handler, limiter *worker.Limiter, logger *logrus.Logger) *Bot {
	return &Bot{
		subscriber: subscriber,
		replyTopic: replyTopic,
		slash:      slash,
		replies:    replies,
		limiter:    limiter,
		logger:     logger,
	}
}

// Handler returns the HTTP handler serving the slash command and health endpoints.
func (b *Bot) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(DefaultCommandPath, b.slash)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return otelhttp.NewHandler(mux, "pimonitor-bot")
}

// Run listens on the address and serves until ctx is canceled.
func (b *Bot) Run(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(ErrServe, err.Error())
	}

	return b.Serve(ctx, listener)
}

// Serve subscribes to device replies and serves slash commands on the listener.
//
// On return the reply subscription is removed and pending reply deliveries have
// completed.
func (b *Bot) Serve(ctx context.Context, listener net.Listener) error {
	if err := b.subscriber.Subscribe(b.replyTopic, b.replies.HandleMessage); err != nil {
		_ = listener.Close()
		return err
	}

	defer func() {
		if err := b.subscriber.Unsubscribe(b.replyTopic); err != nil {
			b.logger.WithError(err).Warn("reply unsubscribe error")
		}

		if b.limiter != nil {
			b.limiter.StopWait()
		}
	}()

	server := &http.Server{
		Handler:           b.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- server.Serve(listener)
	}()

	b.logger.WithFields(logrus.Fields{
		"address": listener.Addr().String(),
		"topic":   b.replyTopic,
	}).Info("bot listening")

	select {
	case err := <-errCh:
		return errors.Wrap(ErrServe, err.Error())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(ErrServe, err.Error())
	}

	<-errCh

	b.logger.Info("bot stopped")

	return nil
}
