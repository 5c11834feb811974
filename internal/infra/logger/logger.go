package logger

import (
	"io"
	"os"
	"strings"

	"scheduling_autopilot/internal/infra/config"

	"github.com/sirupsen/logrus"
)

const serviceName = "scheduling-autopilot"

// Log is the global logger instance
var Log = logrus.New()

// Init configures the global logger from the application configuration.
func Init(cfg *config.AppConfig) {
	configure(Log, cfg.LogLevel, cfg.Environment, os.Stdout)
	Log.Debugf("Log level set to: %s", Log.GetLevel().String())
}

// New builds a standalone logger configured the same way as the global one.
func New(level, environment string, out io.Writer) *logrus.Logger {
	l := logrus.New()
	configure(l, level, environment, out)
	return l
}

func configure(l *logrus.Logger, level, environment string, out io.Writer) {
	l.SetOutput(out)

	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		l.SetLevel(logrus.InfoLevel)
		l.Warnf("Invalid log level '%s', defaulting to 'info'. Error: %v", level, err)
	} else {
		l.SetLevel(parsed)
	}

	if isDeployed(environment) {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00", // ISO8601
		})
		l.AddHook(serviceHook{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
}

func isDeployed(environment string) bool {
	env := strings.ToLower(environment)
	return env == "production" || env == "staging"
}

// serviceHook stamps every entry with the service name.
type serviceHook struct{}

func (serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (serviceHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["service"]; !ok {
		e.Data["service"] = serviceName
	}
	return nil
}

// Component returns an entry of the global logger tagged with the component name.
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}
