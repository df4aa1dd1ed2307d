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

package tracing

import (
	"fmt"
	"time"
)

// Config holds the OpenTelemetry tracing settings.
type Config struct {
	Enabled     bool              `yaml:"enabled" mapstructure:"enabled"`
	ServiceName string            `yaml:"service_name" mapstructure:"service_name"`
	Sampling    SamplingConfig    `yaml:"sampling" mapstructure:"sampling"`
	Exporter    ExporterConfig    `yaml:"exporter" mapstructure:"exporter"`
	Attributes  map[string]string `yaml:"attributes" mapstructure:"attributes"`
	Propagators []string          `yaml:"propagators" mapstructure:"propagators"`
}

// SamplingConfig selects the sampler: always_on, always_off or traceidratio.
type SamplingConfig struct {
	Type string  `yaml:"type" mapstructure:"type"`
	Rate float64 `yaml:"rate" mapstructure:"rate"`
}

// ExporterConfig selects where spans go: console or otlp.
type ExporterConfig struct {
	Type        string            `yaml:"type" mapstructure:"type"`
	Endpoint    string            `yaml:"endpoint" mapstructure:"endpoint"`
	Protocol    string            `yaml:"protocol" mapstructure:"protocol"` // http or grpc
	Insecure    bool              `yaml:"insecure" mapstructure:"insecure"`
	Headers     map[string]string `yaml:"headers" mapstructure:"headers"`
	Compression string            `yaml:"compression" mapstructure:"compression"`
	Timeout     time.Duration     `yaml:"timeout" mapstructure:"timeout"`
}

// DefaultConfig returns tracing disabled with console export when turned on.
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		ServiceName: "ordersaga",
		Sampling:    SamplingConfig{Type: "always_on", Rate: 1.0},
		Exporter: ExporterConfig{
			Type:     "console",
			Protocol: "http",
			Timeout:  10 * time.Second,
		},
		Propagators: []string{"tracecontext", "baggage"},
	}
}

// Validate checks the configuration. A disabled config is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when tracing is enabled")
	}

	switch c.Sampling.Type {
	case "always_on", "always_off":
	case "traceidratio":
		if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
			return fmt.Errorf("sampling rate must be between 0.0 and 1.0, got %f", c.Sampling.Rate)
		}
	default:
		return fmt.Errorf("unsupported sampling type: %q", c.Sampling.Type)
	}

	switch c.Exporter.Type {
	case "console":
	case "otlp":
		if c.Exporter.Endpoint == "" {
			return fmt.Errorf("otlp exporter requires endpoint")
		}
		if c.Exporter.Protocol != "http" && c.Exporter.Protocol != "grpc" {
			return fmt.Errorf("unsupported otlp protocol: %q", c.Exporter.Protocol)
		}
	default:
		return fmt.Errorf("unsupported exporter type: %q", c.Exporter.Type)
	}

	if c.Exporter.Compression != "" && c.Exporter.Compression != "gzip" && c.Exporter.Compression != "none" {
		return fmt.Errorf("unsupported compression type: %q", c.Exporter.Compression)
	}
	return nil
}
