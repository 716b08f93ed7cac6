package app

import (
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jeremywohl/flatten"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"golang.org/x/exp/slices"

	"github.com/nd-schmidt/pimonitor/internal/aggregator"
	"github.com/nd-schmidt/pimonitor/internal/bot"
	"github.com/nd-schmidt/pimonitor/internal/bus"
	"github.com/nd-schmidt/pimonitor/internal/classify"
	"github.com/nd-schmidt/pimonitor/internal/correlator"
	"github.com/nd-schmidt/pimonitor/internal/identity"
	"github.com/nd-schmidt/pimonitor/internal/metrics"
	"github.com/nd-schmidt/pimonitor/internal/model"
	"github.com/nd-schmidt/pimonitor/internal/render"
)

const (
	DefaultSlashCommand       = "/pi"
	ExperimentalSlashCommand  = "/piexp"
	DefaultIdentityFile       = "devices.yaml"
	DefaultBotConcurrency     = 4
	defaultNatsConnectTimeout = 60 * time.Second

	experimentalSuffix = "-exp"
)

var (
	ErrConfig = errors.New("configuration error")
)

// Configuration holds application configuration read from a YAML or set by env variables.
//
// nolint:govet // prefer readability over field alignment optimization for this case.
type Configuration struct {
	// LogLevel is the app verbose logging level.
	// one of - info, debug, trace
	LogLevel string `mapstructure:"log_level"`

	// Namespace is the first segment of every bus topic.
	Namespace string `mapstructure:"namespace"`

	// Experimental is set by the --experimental flag, chat posts are logged and
	// never delivered.
	Experimental bool `mapstructure:"-"`

	MQTT     MQTTOptions     `mapstructure:"mqtt"`
	Slack    SlackOptions    `mapstructure:"slack"`
	Identity IdentityOptions `mapstructure:"identity"`
	Monitor  MonitorOptions  `mapstructure:"monitor"`
	Bot      BotOptions      `mapstructure:"bot"`
	Metrics  MetricsOptions  `mapstructure:"metrics"`
}

// MQTTOptions is the message bus broker configuration.
type MQTTOptions struct {
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	KeepAlive      time.Duration `mapstructure:"keepalive"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ConnectRetries int           `mapstructure:"connect_retries"`
}

// SlackOptions is the chat delivery configuration, either a bot token and channel
// or an incoming webhook URL.
type SlackOptions struct {
	Token         string `mapstructure:"token"`
	Channel       string `mapstructure:"channel"`
	WebhookURL    string `mapstructure:"webhook_url"`
	SigningSecret string `mapstructure:"signing_secret"`
	APIURL        string `mapstructure:"api_url"`
}

// IdentityOptions selects the device identity directory.
type IdentityOptions struct {
	// Source is one of file, nats.
	Source             string        `mapstructure:"source"`
	File               string        `mapstructure:"file"`
	NatsURL            string        `mapstructure:"nats_url"`
	NatsCredsFile      string        `mapstructure:"nats_creds_file"`
	NatsConnectTimeout time.Duration `mapstructure:"nats_connect_timeout"`
	Bucket             string        `mapstructure:"bucket"`
}

// MonitorOptions configures the aggregation flow.
type MonitorOptions struct {
	Window                    time.Duration `mapstructure:"window"`
	Interval                  time.Duration `mapstructure:"interval"`
	StaleThresholdMinutes     int           `mapstructure:"stale_threshold_minutes"`
	VeryStaleThresholdMinutes int           `mapstructure:"very_stale_threshold_minutes"`
	Ignore                    []string      `mapstructure:"ignore"`
	Dedup                     string        `mapstructure:"dedup"`
	ChunkLimit                int           `mapstructure:"chunk_limit"`
	Username                  string        `mapstructure:"username"`
}

// BotOptions configures the command flow.
type BotOptions struct {
	ListenAddress string        `mapstructure:"listen_address"`
	Command       string        `mapstructure:"command"`
	InlineLimit   int           `mapstructure:"inline_limit"`
	Freshness     time.Duration `mapstructure:"freshness"`
	Concurrency   int           `mapstructure:"concurrency"`
}

type MetricsOptions struct {
	ListenAddress string `mapstructure:"listen_address"`
	Disable       bool   `mapstructure:"disable"`
}

// LoadConfiguration loads application configuration
//
// Reads in the cfgFile when available and overrides from environment variables,
// a .env file in the working directory is loaded into the environment first.
func (a *App) LoadConfiguration(cfgFile string) error {
	_ = godotenv.Load()

	a.v.SetConfigType("yaml")
	a.v.SetEnvPrefix(model.AppName)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if cfgFile != "" {
		fh, err := os.Open(cfgFile)
		if err != nil {
			return errors.Wrap(ErrConfig, err.Error())
		}

		defer fh.Close()

		if err = a.v.ReadConfig(fh); err != nil {
			return errors.Wrap(ErrConfig, "ReadConfig error:"+err.Error())
		}
	}

	setDefaults(a.v)

	if err := a.envBindVars(); err != nil {
		return errors.Wrap(ErrConfig, "env var bind error:"+err.Error())
	}

	if err := a.v.Unmarshal(a.Config); err != nil {
		return errors.Wrap(ErrConfig, "Unmarshal error: "+err.Error())
	}

	if a.Config.MQTT.ClientID == "" {
		a.Config.MQTT.ClientID = model.AppName + "-" + string(a.Kind) + "-" + uuid.NewString()[:8]
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("namespace", model.DefaultNamespace)

	v.SetDefault("mqtt.keepalive", bus.DefaultKeepAlive)
	v.SetDefault("mqtt.timeout", bus.DefaultTimeout)
	v.SetDefault("mqtt.connect_retries", bus.DefaultConnectRetries)

	v.SetDefault("identity.source", model.IdentitySourceFile)
	v.SetDefault("identity.file", DefaultIdentityFile)
	v.SetDefault("identity.bucket", identity.DefaultBucket)
	v.SetDefault("identity.nats_connect_timeout", defaultNatsConnectTimeout)

	v.SetDefault("monitor.window", aggregator.DefaultWindow)
	v.SetDefault("monitor.stale_threshold_minutes", classify.DefaultStaleThresholdMinutes)
	v.SetDefault("monitor.very_stale_threshold_minutes", classify.DefaultVeryStaleThresholdMinutes)
	v.SetDefault("monitor.dedup", string(aggregator.FirstSeenWins))
	v.SetDefault("monitor.chunk_limit", render.DefaultChunkLimit)

	v.SetDefault("bot.listen_address", bot.DefaultListenAddress)
	v.SetDefault("bot.command", DefaultSlashCommand)
	v.SetDefault("bot.inline_limit", correlator.DefaultInlineLimit)
	v.SetDefault("bot.freshness", correlator.DefaultFreshness)
	v.SetDefault("bot.concurrency", DefaultBotConcurrency)

	v.SetDefault("metrics.listen_address", metrics.DefaultListenAddress)
}

// envBindVars binds environment variables to the struct
// without a configuration file being unmarshalled,
// this is a workaround for a viper bug,
//
// This can be replaced by the solution in https://github.com/spf13/viper/pull/1429
// once that PR is merged.
func (a *App) envBindVars() error {
	envKeysMap := map[string]interface{}{}
	if err := mapstructure.Decode(a.Config, &envKeysMap); err != nil {
		return err
	}

	// Flatten nested conf map
	flat, err := flatten.Flatten(envKeysMap, "", flatten.DotStyle)
	if err != nil {
		return errors.Wrap(err, "Unable to flatten config")
	}

	for k := range flat {
		if err := a.v.BindEnv(k); err != nil {
			return errors.Wrap(ErrConfig, "env var bind error: "+err.Error())
		}
	}

	return nil
}

func (c *Configuration) applyExperimental() {
	if c.Bot.Command == DefaultSlashCommand {
		c.Bot.Command = ExperimentalSlashCommand
	}

	if !strings.HasSuffix(c.MQTT.ClientID, experimentalSuffix) {
		c.MQTT.ClientID += experimentalSuffix
	}
}

// Validate checks the parameters the app kind depends on.
//
// nolint:gocyclo // parameter validation is cyclomatic
func (c *Configuration) Validate(kind model.AppKind) error {
	if c.Namespace == "" || strings.ContainsAny(c.Namespace, "/+#") {
		return errors.Wrap(ErrConfig, "invalid namespace: "+c.Namespace)
	}

	if !slices.Contains(model.IdentitySources(), c.Identity.Source) {
		return errors.Wrapf(ErrConfig, "unknown identity source %q, expected one of %s",
			c.Identity.Source, strings.Join(model.IdentitySources(), ", "))
	}

	switch c.Identity.Source {
	case model.IdentitySourceFile:
		if c.Identity.File == "" {
			return errors.Wrap(ErrConfig, "missing parameter: identity.file")
		}
	case model.IdentitySourceNATS:
		if c.Identity.NatsURL == "" {
			return errors.Wrap(ErrConfig, "missing parameter: identity.nats_url")
		}
	}

	if kind == model.AppKindFleet {
		return nil
	}

	if c.MQTT.Broker == "" {
		return errors.Wrap(ErrConfig, "missing parameter: mqtt.broker")
	}

	switch kind {
	case model.AppKindMonitor:
		if _, err := c.DedupPolicy(); err != nil {
			return errors.Wrap(ErrConfig, err.Error())
		}

		if _, err := c.ClassifyPolicy(); err != nil {
			return errors.Wrap(ErrConfig, err.Error())
		}

		if c.Monitor.Window <= 0 {
			return errors.Wrap(ErrConfig, "monitor.window must be positive")
		}

		if c.Monitor.Interval < 0 {
			return errors.Wrap(ErrConfig, "monitor.interval must not be negative")
		}

		if c.Monitor.ChunkLimit <= 0 {
			return errors.Wrap(ErrConfig, "monitor.chunk_limit must be positive")
		}

		if !c.Experimental && c.Slack.WebhookURL == "" && !c.slackTokenSet() {
			return errors.Wrap(ErrConfig, "missing parameter: slack.webhook_url or slack.token and slack.channel")
		}
	case model.AppKindBot:
		if !strings.HasPrefix(c.Bot.Command, "/") {
			return errors.Wrap(ErrConfig, "bot.command must start with /")
		}

		if c.Bot.InlineLimit <= 0 || c.Bot.Concurrency <= 0 || c.Bot.Freshness <= 0 {
			return errors.Wrap(ErrConfig, "bot.inline_limit, bot.concurrency and bot.freshness must be positive")
		}

		if !c.Experimental && !c.slackTokenSet() {
			return errors.Wrap(ErrConfig, "missing parameter: slack.token and slack.channel")
		}
	}

	return nil
}

func (c *Configuration) slackTokenSet() bool {
	return c.Slack.Token != "" && c.Slack.Channel != ""
}

// DedupPolicy returns the configured collection window dedup policy.
func (c *Configuration) DedupPolicy() (aggregator.DedupPolicy, error) {
	return aggregator.ParseDedupPolicy(c.Monitor.Dedup)
}

// ClassifyPolicy returns the configured classification policy.
func (c *Configuration) ClassifyPolicy() (classify.Policy, error) {
	return classify.NewPolicy(c.Monitor.StaleThresholdMinutes, c.Monitor.VeryStaleThresholdMinutes, c.Monitor.Ignore)
}

// BusConfig returns the bus client configuration.
func (c *Configuration) BusConfig() bus.Config {
	return bus.Config{
		Broker:         c.MQTT.Broker,
		ClientID:       c.MQTT.ClientID,
		Username:       c.MQTT.Username,
		Password:       c.MQTT.Password,
		KeepAlive:      c.MQTT.KeepAlive,
		Timeout:        c.MQTT.Timeout,
		ConnectRetries: c.MQTT.ConnectRetries,
	}
}
