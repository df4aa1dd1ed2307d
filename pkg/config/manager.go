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

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Layer represents a configuration layer in the hierarchy.
//
// Precedence (low → high): Defaults < Base < EnvironmentFile < OverrideFile < EnvironmentVariables
type Layer int

const (
	// DefaultsLayer holds values registered through SetDefault.
	DefaultsLayer Layer = iota
	// BaseLayer is the base configuration file (ordersaga.yaml), or ConfigFile when set.
	BaseLayer
	// EnvironmentFileLayer is the environment-specific file (ordersaga.prod.yaml).
	EnvironmentFileLayer
	// OverrideFileLayer is an operator local override file (ordersaga.override.yaml).
	OverrideFileLayer
	// EnvironmentVariablesLayer represents ORDERSAGA_* environment variables.
	EnvironmentVariablesLayer
)

// Options configures the Manager.
type Options struct {
	// WorkDir is the directory used to resolve relative config file paths.
	WorkDir string

	// ConfigFile, when set, replaces the base file lookup with an explicit path.
	ConfigFile string

	// ConfigBaseName is the base file name without extension (default: "ordersaga").
	ConfigBaseName string

	// ConfigType is the file type (yaml|yml|json|toml). Default: "yaml".
	ConfigType string

	// EnvironmentName selects the environment file suffix, e.g. "prod" → ordersaga.prod.yaml.
	EnvironmentName string

	// OverrideFilename is the optional override file name.
	OverrideFilename string

	// EnvPrefix is the prefix for environment variables (default: "ORDERSAGA").
	EnvPrefix string

	// EnableAutomaticEnv binds environment variables with dot→underscore mapping.
	EnableAutomaticEnv bool
}

// DefaultOptions returns the options used by the ordersaga binaries.
func DefaultOptions() Options {
	return Options{
		WorkDir:            ".",
		ConfigBaseName:     "ordersaga",
		ConfigType:         "yaml",
		OverrideFilename:   "ordersaga.override.yaml",
		EnvPrefix:          "ORDERSAGA",
		EnableAutomaticEnv: true,
	}
}

// Manager merges the configuration layers into a single viper instance.
type Manager struct {
	mu      sync.RWMutex
	v       *viper.Viper
	options Options
	loaded  []string
}

// NewManager creates a new Manager with the given options.
func NewManager(options Options) *Manager {
	if options.ConfigType == "" {
		options.ConfigType = "yaml"
	}
	if options.ConfigBaseName == "" {
		options.ConfigBaseName = "ordersaga"
	}
	if options.WorkDir == "" {
		options.WorkDir = "."
	}

	v := viper.New()
	if options.EnableAutomaticEnv {
		if options.EnvPrefix != "" {
			v.SetEnvPrefix(options.EnvPrefix)
		}
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}

	return &Manager{v: v, options: options}
}

// SetDefault sets a default value for the given key. Only keys that have a
// default (or appear in a file) are picked up from the environment on Unmarshal.
func (m *Manager) SetDefault(key string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.v.SetDefault(key, value)
}

// SetDefaults registers a flat map of dotted keys as defaults.
func (m *Manager) SetDefaults(defaults map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range defaults {
		m.v.SetDefault(k, v)
	}
}

// Load merges the file layers in precedence order. Missing files are skipped,
// except an explicit ConfigFile which must exist.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loaded = m.loaded[:0]

	if m.options.ConfigFile != "" {
		if _, err := os.Stat(m.options.ConfigFile); err != nil {
			return fmt.Errorf("load config file: %w", err)
		}
	}
	if err := m.mergeFileIfExists(m.filePathFor(BaseLayer)); err != nil {
		return fmt.Errorf("load base config: %w", err)
	}

	if m.options.EnvironmentName != "" {
		if err := m.mergeFileIfExists(m.filePathFor(EnvironmentFileLayer)); err != nil {
			return fmt.Errorf("load env config: %w", err)
		}
	}

	if err := m.mergeFileIfExists(m.filePathFor(OverrideFileLayer)); err != nil {
		return fmt.Errorf("load override config: %w", err)
	}
	return nil
}

// LoadedFiles lists the files merged by the last Load, lowest precedence first.
func (m *Manager) LoadedFiles() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.loaded))
	copy(out, m.loaded)
	return out
}

// Unmarshal binds all merged settings into the given struct pointer.
func (m *Manager) Unmarshal(target interface{}) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if target == nil {
		return errors.New("target must not be nil")
	}
	return m.v.Unmarshal(target)
}

// Get returns a value by key from merged configuration.
func (m *Manager) Get(key string) interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.Get(key)
}

// AllSettings returns a copy of all merged settings as a map.
func (m *Manager) AllSettings() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.AllSettings()
}

func (m *Manager) filePathFor(layer Layer) string {
	dir := m.options.WorkDir
	base := m.options.ConfigBaseName
	ext := m.normalizedConfigExt()
	switch layer {
	case BaseLayer:
		if m.options.ConfigFile != "" {
			if filepath.IsAbs(m.options.ConfigFile) {
				return m.options.ConfigFile
			}
			return filepath.Join(dir, m.options.ConfigFile)
		}
		return filepath.Join(dir, fmt.Sprintf("%s.%s", base, ext))
	case EnvironmentFileLayer:
		return filepath.Join(dir, fmt.Sprintf("%s.%s.%s", base, strings.ToLower(m.options.EnvironmentName), ext))
	case OverrideFileLayer:
		name := m.options.OverrideFilename
		if name == "" {
			name = fmt.Sprintf("%s.override.%s", base, ext)
		}
		return filepath.Join(dir, name)
	default:
		return ""
	}
}

func (m *Manager) normalizedConfigExt() string {
	t := strings.ToLower(m.options.ConfigType)
	switch t {
	case "yml":
		return "yaml"
	case "yaml", "json", "toml":
		return t
	default:
		return "yaml"
	}
}

func (m *Manager) mergeFileIfExists(path string) error {
	if path == "" {
		return nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// parse into a scratch instance so a broken file leaves settings untouched
	tmp := viper.New()
	tmp.SetConfigType(m.normalizedConfigExt())
	if err := tmp.ReadConfig(bytes.NewReader(content)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if err := m.v.MergeConfigMap(tmp.AllSettings()); err != nil {
		return err
	}
	m.loaded = append(m.loaded, path)
	return nil
}
