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

// Package logger holds the process-wide zap logger shared by the coordinator,
// the payment processor and the command line entry points.
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the global logger for the application.
	Logger *zap.Logger

	mu          sync.RWMutex
	initialized bool
	level       = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// InitLogger initializes the global logger with the production encoder at info level.
func InitLogger() {
	if err := InitLoggerWithLevel("info"); err != nil {
		panic(err)
	}
}

// InitLoggerWithLevel initializes the global logger at the given level
// ("debug", "info", "warn", "error"). Calling it again after a successful
// initialization only adjusts the level.
func InitLoggerWithLevel(lvl string) error {
	if err := SetLevel(lvl); err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()

	if initialized && Logger != nil {
		return nil
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = level
	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	Logger = l
	initialized = true
	return nil
}

// GetLogger returns the global logger, initializing it if necessary.
func GetLogger() *zap.Logger {
	mu.RLock()
	if initialized && Logger != nil {
		defer mu.RUnlock()
		return Logger
	}
	if Logger != nil {
		// assigned directly, typically by tests
		defer mu.RUnlock()
		return Logger
	}
	mu.RUnlock()

	InitLogger()

	mu.RLock()
	defer mu.RUnlock()
	return Logger
}

// Named returns a child of the global logger scoped to a component.
func Named(component string) *zap.Logger {
	return GetLogger().Named(component)
}

// SetLevel changes the level of the global logger at runtime.
func SetLevel(lvl string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(lvl)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", lvl, err)
	}
	level.SetLevel(l)
	return nil
}

// GetLevel reports the current level of the global logger.
func GetLevel() string {
	return level.Level().String()
}

// ResetLogger resets the logger for testing purposes.
// This should only be used in tests.
func ResetLogger() {
	mu.Lock()
	defer mu.Unlock()

	if Logger != nil {
		_ = Logger.Sync()
	}
	Logger = nil
	initialized = false
	level.SetLevel(zapcore.InfoLevel)
}
