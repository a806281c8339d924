// Package logger wraps logrus so every log line carries the request id of
// the HTTP request (or background job) that produced it.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// RequestIDField is the structured field name attached to every entry.
const RequestIDField = "request_id"

type ctxKey struct{}

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	return l
}

// Configure sets the output format and level. env "prod" switches to JSON.
func Configure(env, level string) {
	if strings.EqualFold(env, "prod") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
}

// SetOutput redirects log output; tests use it to capture entries.
func SetOutput(w io.Writer) { log.SetOutput(w) }

// Base returns the underlying logrus logger for libraries that need one.
func Base() *logrus.Logger { return log }

// WithRequestID stores id in ctx for later log calls.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}

// Entry returns a logrus entry carrying the request id from ctx.
func Entry(ctx context.Context) *logrus.Entry {
	return log.WithField(RequestIDField, RequestID(ctx))
}

func Debugf(ctx context.Context, format string, args ...interface{}) {
	Entry(ctx).Debugf(format, args...)
}

func Infof(ctx context.Context, format string, args ...interface{}) {
	Entry(ctx).Infof(format, args...)
}

func Warnf(ctx context.Context, format string, args ...interface{}) {
	Entry(ctx).Warnf(format, args...)
}

// Errorf flattens newlines so a wrapped multi-line error stays on one line.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	msg = strings.NewReplacer("\r\n", "\\n ", "\n", "\\n ").Replace(msg)
	Entry(ctx).Error(msg)
}

func Fatalf(ctx context.Context, format string, args ...interface{}) {
	Entry(ctx).Fatalf(format, args...)
}
