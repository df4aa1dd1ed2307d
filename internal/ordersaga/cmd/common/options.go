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

// Package common holds the flags and bootstrap shared by the ordersaga commands.
package common

import (
	"fmt"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/innovationmech/ordersaga/internal/ordersaga/config"
	cfg "github.com/innovationmech/ordersaga/pkg/config"
	"github.com/innovationmech/ordersaga/pkg/logger"
)

// Options are the persistent flags of the root command.
type Options struct {
	WorkDir    string
	ConfigFile string
	Env        string
	LogLevel   string
}

// AddFlags registers the options on fs.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.WorkDir, "workdir", ".", "directory searched for ordersaga.yaml")
	fs.StringVar(&o.ConfigFile, "config", "", "explicit config file, replaces the ordersaga.yaml lookup")
	fs.StringVar(&o.Env, "env", "", "environment overlay, e.g. prod loads ordersaga.prod.yaml")
	fs.StringVar(&o.LogLevel, "log-level", "", "log level override (debug, info, warn, error)")
}

// ManagerOptions converts the flags into config manager options.
func (o *Options) ManagerOptions() cfg.Options {
	opts := cfg.DefaultOptions()
	if o.WorkDir != "" {
		opts.WorkDir = o.WorkDir
	}
	opts.ConfigFile = o.ConfigFile
	opts.EnvironmentName = o.Env
	return opts
}

// Bootstrap loads the configuration and initialises the global logger.
func (o *Options) Bootstrap() (*config.Config, *zap.Logger, error) {
	c, err := config.Load(o.ManagerOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	level := c.Logging.Level
	if o.LogLevel != "" {
		level = o.LogLevel
	}
	if err := logger.InitLoggerWithLevel(level); err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return c, logger.GetLogger(), nil
}
