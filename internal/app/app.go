package app

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	runtime "github.com/banzaicloud/logrus-runtime-formatter"
	logrusrv2 "github.com/bombsimon/logrusr/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	"github.com/nd-schmidt/pimonitor/internal/model"
)

// App holds attributes for the pimonitor application
type App struct {
	v *viper.Viper
	// Kind is the application kind the app was started as.
	Kind model.AppKind
	// Sync waitgroup to wait for running go routines on termination.
	SyncWG *sync.WaitGroup
	// Config is the loaded configuration.
	Config *Configuration
	// TermCh is the channel to terminate the app based on a signal
	TermCh chan os.Signal
	// Logger is the app logger
	Logger *logrus.Logger
}

// New returns returns a new instance of the pimonitor app
func New(appKind model.AppKind, cfgFile string, loglevel int, experimental bool) (*App, error) {
	app := &App{
		v:      viper.New(),
		Kind:   appKind,
		Config: &Configuration{},
		SyncWG: &sync.WaitGroup{},
		Logger: logrus.New(),
		TermCh: make(chan os.Signal, 1),
	}

	// set log level, format
	switch loglevel {
	case model.LogLevelDebug:
		app.Logger.Level = logrus.DebugLevel
	case model.LogLevelTrace:
		app.Logger.Level = logrus.TraceLevel
	default:
		app.Logger.Level = logrus.InfoLevel
	}

	app.Logger.SetFormatter(
		&runtime.Formatter{ChildFormatter: &logrus.JSONFormatter{}},
	)

	if err := app.LoadConfiguration(cfgFile); err != nil {
		return nil, err
	}

	app.Config.Experimental = experimental
	if experimental {
		app.Config.applyExperimental()
	}

	if err := app.Config.Validate(appKind); err != nil {
		return nil, err
	}

	// the configured level applies when no verbosity flag was given
	if loglevel == model.LogLevelInfo && app.Config.LogLevel != "" {
		if level, err := logrus.ParseLevel(app.Config.LogLevel); err == nil {
			app.Logger.Level = level
		}
	}

	otel.SetLogger(logrusrv2.New(app.Logger))

	// register for SIGINT, SIGTERM
	signal.Notify(app.TermCh, syscall.SIGINT, syscall.SIGTERM)

	return app, nil
}
