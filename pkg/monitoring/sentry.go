// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

// Package monitoring reports unexpected errors to Sentry.
package monitoring

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SentryConfig holds Sentry configuration options
type SentryConfig struct {
	Enabled          bool              `mapstructure:"enabled" json:"enabled"`
	DSN              string            `mapstructure:"dsn" json:"dsn"`
	Environment      string            `mapstructure:"environment" json:"environment"`
	Release          string            `mapstructure:"release" json:"release"`
	SampleRate       float64           `mapstructure:"sample_rate" json:"sample_rate"`
	TracesSampleRate float64           `mapstructure:"traces_sample_rate" json:"traces_sample_rate"`
	Debug            bool              `mapstructure:"debug" json:"debug"`
	AttachStacktrace bool              `mapstructure:"attach_stacktrace" json:"attach_stacktrace"`
	Tags             map[string]string `mapstructure:"tags" json:"tags"`
}

// Validate checks the configuration.
func (c *SentryConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.DSN == "" {
		return fmt.Errorf("sentry DSN is required when enabled")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sentry sample_rate must be between 0 and 1")
	}
	return nil
}

// SentryManager manages Sentry initialization and integration
type SentryManager struct {
	config      SentryConfig
	logger      *zap.Logger
	initialized bool
}

// NewSentryManager creates a new Sentry manager
func NewSentryManager(config SentryConfig, logger *zap.Logger) *SentryManager {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SentryManager{
		config: config,
		logger: logger,
	}
}

// Initialize initializes Sentry with the provided configuration
func (sm *SentryManager) Initialize() error {
	if !sm.config.Enabled {
		sm.logger.Info("Sentry monitoring is disabled")
		return nil
	}
	if err := sm.config.Validate(); err != nil {
		return err
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              sm.config.DSN,
		Environment:      sm.config.Environment,
		Release:          sm.config.Release,
		SampleRate:       sm.config.SampleRate,
		TracesSampleRate: sm.config.TracesSampleRate,
		Debug:            sm.config.Debug,
		AttachStacktrace: sm.config.AttachStacktrace,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			sm.logger.Debug("Sending error to Sentry",
				zap.String("event_id", string(event.EventID)),
				zap.String("level", string(event.Level)))
			return event
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Sentry: %w", err)
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		for key, value := range sm.config.Tags {
			scope.SetTag(key, value)
		}
	})

	sm.initialized = true
	sm.logger.Info("Sentry monitoring initialized",
		zap.String("environment", sm.config.Environment),
		zap.String("release", sm.config.Release))
	return nil
}

// Shutdown flushes buffered events.
func (sm *SentryManager) Shutdown(timeout time.Duration) {
	if !sm.initialized {
		return
	}

	sm.logger.Info("Shutting down Sentry monitoring")
	sentry.Flush(timeout)
}

// CaptureError captures an error and sends it to Sentry
func (sm *SentryManager) CaptureError(err error, tags map[string]string, extra map[string]interface{}) {
	if !sm.initialized || err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		for key, value := range tags {
			scope.SetTag(key, value)
		}
		for key, value := range extra {
			scope.SetExtra(key, value)
		}
		sentry.CaptureException(err)
	})
}

// HTTPMiddleware returns a Gin middleware that reports panics and 5xx
// responses. Client errors are not reported.
func (sm *SentryManager) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !sm.initialized {
			c.Next()
			return
		}

		hub := sentry.GetHubFromContext(c.Request.Context())
		if hub == nil {
			hub = sentry.CurrentHub().Clone()
			c.Request = c.Request.WithContext(sentry.SetHubOnContext(c.Request.Context(), hub))
		}
		hub.Scope().SetTag("request.method", c.Request.Method)
		hub.Scope().SetTag("request.route", c.FullPath())

		defer func() {
			if err := recover(); err != nil {
				hub.WithScope(func(scope *sentry.Scope) {
					scope.SetTag("error.type", "panic")
					scope.SetLevel(sentry.LevelFatal)
					if e, ok := err.(error); ok {
						hub.CaptureException(e)
					} else {
						hub.CaptureMessage(fmt.Sprintf("Panic: %v", err))
					}
				})
				panic(err)
			}
		}()

		c.Next()

		if status := c.Writer.Status(); status >= 500 {
			hub.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("http.status_code", fmt.Sprintf("%d", status))
				scope.SetTag("error.type", "http_error")
				scope.SetLevel(sentry.LevelError)
				if len(c.Errors) > 0 {
					hub.CaptureException(c.Errors.Last().Err)
					return
				}
				hub.CaptureMessage(fmt.Sprintf("HTTP %d: %s %s", status, c.Request.Method, c.FullPath()))
			})
		}
	}
}

// IsEnabled returns whether Sentry monitoring is enabled
func (sm *SentryManager) IsEnabled() bool {
	return sm.config.Enabled && sm.initialized
}
