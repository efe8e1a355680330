// Package logger provides structured logging with trace-id and actor
// context propagation for the rule engine. It deliberately holds no
// package-level mutable state: every component receives a *Logger by
// explicit construction.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried alongside a request.
type ContextKey string

const (
	// TraceIDKey is the context key for the request trace id.
	TraceIDKey ContextKey = "trace_id"
	// ActorUserKey is the context key for the mutating actor's user id.
	ActorUserKey ContextKey = "actor_user"
	// ActorGroupKey is the context key for the mutating actor's group.
	ActorGroupKey ContextKey = "actor_group"
)

// Logger wraps logrus.Logger with rule-engine specific helpers.
type Logger struct {
	*logrus.Logger
	component string
}

// Config controls logger construction.
type Config struct {
	Level     string `json:"level" env:"LOG_LEVEL"`
	Format    string `json:"format" env:"LOG_FORMAT"`
	Component string `json:"component"`
}

// New creates a new Logger instance for the given component (e.g. "executor",
// "lifecycle", "scheduler").
func New(cfg Config) *Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, component: cfg.Component}
}

// WithComponent returns a derived logger tagged with a different component
// name but sharing the underlying logrus.Logger (and therefore its level,
// formatter, and output).
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger, component: component}
}

// SetOutput redirects logger output (e.g. to a file, or io.MultiWriter).
func (l *Logger) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

// WithContext returns a log entry carrying the component name plus any
// trace id / actor identity found on ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if user := ctx.Value(ActorUserKey); user != nil {
		entry = entry.WithField("actor_user", user)
	}
	if group := ctx.Value(ActorGroupKey); group != nil {
		entry = entry.WithField("actor_group", group)
	}
	return entry
}

// WithFields returns a log entry tagged with the component name and the
// given extra fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// LogMutation logs a rule lifecycle mutation outcome.
func (l *Logger) LogMutation(ctx context.Context, action string, ruleID int64, version int, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"action":  action,
		"rule_id": ruleID,
		"version": version,
	})
	if err != nil {
		entry.WithError(err).Error("rule mutation failed")
		return
	}
	entry.Info("rule mutation applied")
}

// LogExecution logs a single rule execution outcome.
func (l *Logger) LogExecution(ctx context.Context, ruleID int64, pass bool, elapsed time.Duration, message string) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"rule_id":     ruleID,
		"pass":        pass,
		"elapsed_ms":  elapsed.Milliseconds(),
		"message":     message,
		"operation":   "execute",
	})
	if pass {
		entry.Info("rule executed")
	} else {
		entry.Warn("rule execution failed")
	}
}

// LogApproval logs an approval stage transition.
func (l *Logger) LogApproval(ctx context.Context, ruleID int64, actionType, group, user string, approved bool) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"rule_id":     ruleID,
		"action_type": actionType,
		"group":       group,
		"user":        user,
		"approved":    approved,
	})
	entry.Info("approval stage transitioned")
}

// NewTraceID generates a new request trace id.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID attaches a trace id to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithActor attaches the mutating actor's (user, group) identity to ctx.
func WithActor(ctx context.Context, user, group string) context.Context {
	ctx = context.WithValue(ctx, ActorUserKey, user)
	return context.WithValue(ctx, ActorGroupKey, group)
}

// GetTraceID retrieves the trace id from ctx, or "" if absent.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}
