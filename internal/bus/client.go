package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nd-schmidt/pimonitor/internal/metrics"
)

const (
	// QoS is at-least-once for every publish and subscription.
	QoS byte = 1

	DefaultKeepAlive      = 60 * time.Second
	DefaultTimeout        = 10 * time.Second
	DefaultConnectRetries = 5

	disconnectQuiesceMillis = 250
)

var (
	ErrBusConnection = errors.New("bus connection error")
	ErrSubscribe     = errors.New("bus subscribe error")
	ErrPublish       = errors.New("bus publish error")

	pahoLoggersOnce sync.Once
)

// Config holds the broker connection parameters.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string

	KeepAlive      time.Duration
	Timeout        time.Duration
	ConnectRetries int
}

// Client is the process wide MQTT connection, shared by the aggregation and
// command flows.
//
// Subscriptions are remembered and restored whenever the connection is re-established.
type Client struct {
	client mqtt.Client
	cfg    Config
	logger *logrus.Logger

	mu            sync.Mutex
	subscriptions map[string]mqtt.MessageHandler
}

// NewClient returns a Client, Connect must be invoked before use.
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.ConnectRetries == 0 {
		cfg.ConnectRetries = DefaultConnectRetries
	}

	c := &Client{
		cfg:           cfg,
		logger:        logger,
		subscriptions: map[string]mqtt.MessageHandler{},
	}

	bridgePahoLoggers(logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetPingTimeout(cfg.Timeout)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		logger.WithField("topic", msg.Topic()).Debug("message without subscription handler")
	})

	c.client = mqtt.NewClient(opts)

	return c
}

// Connect connects to the broker, retrying with backoff until the configured
// number of attempts is exhausted or the context is cancelled.
func (c *Client) Connect(ctx context.Context) error {
	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	le := c.logger.WithFields(logrus.Fields{"broker": c.cfg.Broker, "clientID": c.cfg.ClientID})

	var lastErr error

	for attempt := 1; attempt <= c.cfg.ConnectRetries; attempt++ {
		token := c.client.Connect()
		if !token.WaitTimeout(c.cfg.Timeout) {
			lastErr = errors.New("connect timed out")
		} else {
			lastErr = token.Error()
		}

		if lastErr == nil {
			return nil
		}

		le.WithError(lastErr).WithField("attempt", attempt).Warn("broker connect failed")

		if attempt == c.cfg.ConnectRetries {
			break
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ErrBusConnection, ctx.Err().Error())
		case <-time.After(b.Duration()):
		}
	}

	return errors.Wrap(ErrBusConnection, lastErr.Error())
}

// Subscribe subscribes the handler to the topic filter.
func (c *Client) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	cb := func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}

	c.mu.Lock()
	c.subscriptions[topic] = cb
	c.mu.Unlock()

	if err := c.wait(c.client.Subscribe(topic, QoS, cb)); err != nil {
		return errors.Wrap(ErrSubscribe, topic+": "+err.Error())
	}

	c.logger.WithField("topic", topic).Debug("subscribed")

	return nil
}

// Unsubscribe removes the subscription for the topic filter.
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.subscriptions, topic)
	c.mu.Unlock()

	if err := c.wait(c.client.Unsubscribe(topic)); err != nil {
		return errors.Wrap(ErrSubscribe, topic+": "+err.Error())
	}

	return nil
}

// Publish publishes the payload without waiting for the broker to acknowledge it,
// a failed delivery is only logged.
func (c *Client) Publish(_ context.Context, topic string, payload []byte) error {
	if !c.client.IsConnected() {
		return errors.Wrap(ErrPublish, "not connected")
	}

	token := c.client.Publish(topic, QoS, false, payload)

	go func() {
		<-token.Done()

		if err := token.Error(); err != nil {
			c.logger.WithError(err).WithField("topic", topic).Warn("publish failed")
		}
	}()

	return nil
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.client.Disconnect(disconnectQuiesceMillis)
	c.logger.Info("disconnected from broker")
}

func (c *Client) wait(token mqtt.Token) error {
	if !token.WaitTimeout(c.cfg.Timeout) {
		return errors.New("timed out")
	}

	return token.Error()
}

func (c *Client) onConnect(client mqtt.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.WithField("broker", c.cfg.Broker).Info("connected to broker")

	for topic, cb := range c.subscriptions {
		// the callback runs on the client goroutine, so the token is not waited on
		token := client.Subscribe(topic, QoS, cb)

		go func(topic string) {
			<-token.Done()

			if err := token.Error(); err != nil {
				c.logger.WithError(err).WithField("topic", topic).Error("resubscribe failed")
			}
		}(topic)
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	metrics.BusConnectionLostCounter.Inc()
	c.logger.WithError(err).Warn("broker connection lost, reconnecting")
}

// pahoLogger adapts a logrus entry to the paho logger interface at a fixed level.
type pahoLogger struct {
	entry *logrus.Entry
	level logrus.Level
}

func (l pahoLogger) Println(v ...interface{}) {
	l.entry.Log(l.level, fmt.Sprint(v...))
}

func (l pahoLogger) Printf(format string, v ...interface{}) {
	l.entry.Logf(l.level, format, v...)
}

func bridgePahoLoggers(logger *logrus.Logger) {
	pahoLoggersOnce.Do(func() {
		entry := logger.WithField("component", "paho")

		mqtt.CRITICAL = pahoLogger{entry, logrus.ErrorLevel}
		mqtt.ERROR = pahoLogger{entry, logrus.ErrorLevel}
		mqtt.WARN = pahoLogger{entry, logrus.WarnLevel}
	})
}
