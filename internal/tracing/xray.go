// Package tracing provides AWS X-Ray distributed tracing integration.
package tracing

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/aws/aws-xray-sdk-go/xraylog"
	"github.com/sirupsen/logrus"
)

var enabled atomic.Bool

// Config contains X-Ray configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Enabled        bool
	DaemonAddr     string
}

// Logger adapter for X-Ray SDK.
type xrayLoggerAdapter struct {
	logger *logrus.Entry
}

func (l *xrayLoggerAdapter) Log(level xraylog.LogLevel, msg fmt.Stringer) {
	switch level {
	case xraylog.LogLevelDebug:
		l.logger.Debug(msg.String())
	case xraylog.LogLevelInfo:
		l.logger.Info(msg.String())
	case xraylog.LogLevelWarn:
		l.logger.Warn(msg.String())
	case xraylog.LogLevelError:
		l.logger.Error(msg.String())
	}
}

// Initialize configures X-Ray. When cfg.Enabled is false every helper in
// this package is a no-op.
func Initialize(cfg Config, logger *logrus.Logger) error {
	enabled.Store(false)
	if !cfg.Enabled {
		return nil
	}

	xray.SetLogger(&xrayLoggerAdapter{logger: logger.WithField("component", "xray")})
	if err := xray.Configure(xray.Config{
		DaemonAddr:     cfg.DaemonAddr,
		ServiceVersion: cfg.ServiceVersion,
	}); err != nil {
		return fmt.Errorf("failed to configure x-ray: %w", err)
	}
	enabled.Store(true)

	logger.WithFields(logrus.Fields{
		"daemon_addr":  cfg.DaemonAddr,
		"service_name": cfg.ServiceName,
	}).Info("AWS X-Ray initialized")

	return nil
}

// Enabled reports whether tracing is active
func Enabled() bool {
	return enabled.Load()
}

// Middleware opens a segment named name for every request
func Middleware(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		traced := xray.Handler(xray.NewFixedSegmentNamer(name), next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled.Load() {
				next.ServeHTTP(w, r)
				return
			}
			traced.ServeHTTP(w, r)
		})
	}
}

// StartSegment opens a segment for background work such as a detector
// run, or a subsegment when ctx already carries one. The returned func
// closes it and records err.
func StartSegment(ctx context.Context, name string) (context.Context, func(err error)) {
	if !enabled.Load() {
		return ctx, func(error) {}
	}

	var seg *xray.Segment
	if xray.GetSegment(ctx) != nil {
		ctx, seg = xray.BeginSubsegment(ctx, name)
	} else {
		ctx, seg = xray.BeginSegment(ctx, name)
	}
	return ctx, func(err error) {
		seg.Close(err)
	}
}

// AddAnnotation adds an indexed annotation to the current segment.
func AddAnnotation(ctx context.Context, key string, value interface{}) {
	if !enabled.Load() {
		return
	}
	if seg := xray.GetSegment(ctx); seg != nil {
		_ = seg.AddAnnotation(key, value)
	}
}

// AddMetadata adds metadata to the current segment.
func AddMetadata(ctx context.Context, key string, value interface{}) {
	if !enabled.Load() {
		return
	}
	if seg := xray.GetSegment(ctx); seg != nil {
		_ = seg.AddMetadata(key, value)
	}
}
