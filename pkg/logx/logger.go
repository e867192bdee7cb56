package logx

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is a structured, leveled logger wrapping one logrus.Entry per
// component tag. Call sites use either alternating key/value pairs
// (logger.Info("msg", "k", v, "k2", v2)) or a single
// map[string]interface{} of fields — both forms occur across this
// codebase (pkg/mqtt favors the map form).
type Logger struct {
	entry     *logrus.Entry
	component string
}

// NewLogger creates a component-tagged logger at the given level
// (debug|info|warn|error|trace). An unknown level defaults to info.
func NewLogger(level, component string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	l := &Logger{
		entry:     base.WithField("component", component),
		component: component,
	}
	l.SetLevel(level)
	return l
}

// NewJSONLogger creates a component-tagged logger emitting JSON lines,
// for production deployments behind a log shipper.
func NewJSONLogger(level, component string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.JSONFormatter{})

	l := &Logger{
		entry:     base.WithField("component", component),
		component: component,
	}
	l.SetLevel(level)
	return l
}

// SetLevel changes the logger's minimum level at runtime.
func (l *Logger) SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.entry.Logger.SetLevel(lvl)
}

// With returns a child logger scoped to an additional sub-component, e.g.
// logger.With("slot", 0).With("apn", "IMS").
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value), component: l.component}
}

func fieldsFrom(kv []interface{}) logrus.Fields {
	if len(kv) == 1 {
		if m, ok := kv[0].(map[string]interface{}); ok {
			f := make(logrus.Fields, len(m))
			for k, v := range m {
				f[k] = v
			}
			return f
		}
	}
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		f[key] = kv[i+1]
	}
	return f
}

func (l *Logger) Debug(msg string, kv ...interface{}) {
	l.entry.WithFields(fieldsFrom(kv)).Debug(msg)
}

func (l *Logger) Info(msg string, kv ...interface{}) {
	l.entry.WithFields(fieldsFrom(kv)).Info(msg)
}

func (l *Logger) Warn(msg string, kv ...interface{}) {
	l.entry.WithFields(fieldsFrom(kv)).Warn(msg)
}

func (l *Logger) Error(msg string, kv ...interface{}) {
	l.entry.WithFields(fieldsFrom(kv)).Error(msg)
}

func (l *Logger) Trace(msg string, kv ...interface{}) {
	l.entry.WithFields(fieldsFrom(kv)).Trace(msg)
}

// LogPublish records a qualified-network-list publish decision.
func (l *Logger) LogPublish(slot int, apn string, networks []string, reason string) {
	l.Info("Qualified networks published",
		"slot", slot, "apn", apn, "networks", networks, "reason", reason)
}

// LogRestriction records a restriction being armed or released.
func (l *Logger) LogRestriction(transport, restrictType, action string, durationMS int64) {
	l.Info("Restriction state changed",
		"transport", transport, "type", restrictType, "action", action, "duration_ms", durationMS)
}

// LogPolicyReload records a carrier-config reload that changed the active
// policy/handover-rule set.
func (l *Logger) LogPolicyReload(carrierID string, thresholdsChanged, handoverRulesChanged bool) {
	l.Info("Carrier configuration reloaded",
		"carrier_id", carrierID,
		"thresholds_changed", thresholdsChanged,
		"handover_rules_changed", handoverRulesChanged)
}
