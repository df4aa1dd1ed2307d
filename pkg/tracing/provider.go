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

// Package tracing sets up OpenTelemetry for the saga services.
package tracing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Provider owns the tracer provider and propagator for one process.
type Provider struct {
	cfg        Config
	sdk        *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// Option customises New.
type Option func(*options)

type options struct {
	consoleWriter io.Writer
	setGlobal     bool
}

// WithConsoleWriter redirects the console exporter.
func WithConsoleWriter(w io.Writer) Option {
	return func(o *options) { o.consoleWriter = w }
}

// WithoutGlobal keeps the provider out of the otel globals.
func WithoutGlobal() Option {
	return func(o *options) { o.setGlobal = false }
}

// New builds a Provider. When tracing is disabled the returned provider
// hands out no-op spans.
func New(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracing config: %w", err)
	}
	o := options{consoleWriter: os.Stdout, setGlobal: true}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Provider{cfg: cfg, propagator: newPropagator(cfg.Propagators)}
	if !cfg.Enabled {
		p.tracer = noop.NewTracerProvider().Tracer(cfg.ServiceName)
		return p, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(resourceAttributes(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := newExporter(ctx, cfg.Exporter, o.consoleWriter)
	if err != nil {
		return nil, err
	}

	var processor sdktrace.SpanProcessor
	if cfg.Exporter.Type == "console" {
		processor = sdktrace.NewSimpleSpanProcessor(exporter)
	} else {
		processor = sdktrace.NewBatchSpanProcessor(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
			sdktrace.WithMaxQueueSize(2048),
		)
	}

	p.sdk = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithSampler(newSampler(cfg.Sampling)),
	)
	p.tracer = p.sdk.Tracer(cfg.ServiceName)

	if o.setGlobal {
		otel.SetTracerProvider(p.sdk)
		otel.SetTextMapPropagator(p.propagator)
	}
	return p, nil
}

func resourceAttributes(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

func newExporter(ctx context.Context, cfg ExporterConfig, console io.Writer) (sdktrace.SpanExporter, error) {
	switch cfg.Type {
	case "console":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(console), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create console exporter: %w", err)
		}
		return exp, nil
	case "otlp":
		if cfg.Protocol == "grpc" {
			opts := []otlptracegrpc.Option{
				otlptracegrpc.WithEndpoint(cfg.Endpoint),
				otlptracegrpc.WithTimeout(cfg.Timeout),
			}
			if cfg.Insecure {
				opts = append(opts, otlptracegrpc.WithInsecure())
			}
			if len(cfg.Headers) > 0 {
				opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
			}
			if cfg.Compression == "gzip" {
				opts = append(opts, otlptracegrpc.WithCompressor("gzip"))
			}
			exp, err := otlptracegrpc.New(ctx, opts...)
			if err != nil {
				return nil, fmt.Errorf("failed to create otlp grpc exporter: %w", err)
			}
			return exp, nil
		}

		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithTimeout(cfg.Timeout),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		switch cfg.Compression {
		case "gzip":
			opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
		case "none":
			opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.NoCompression))
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp http exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unsupported exporter type: %q", cfg.Type)
	}
}

func newSampler(cfg SamplingConfig) sdktrace.Sampler {
	switch cfg.Type {
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Rate))
	default:
		return sdktrace.AlwaysSample()
	}
}

func newPropagator(names []string) propagation.TextMapPropagator {
	var props []propagation.TextMapPropagator
	for _, name := range names {
		switch name {
		case "tracecontext":
			props = append(props, propagation.TraceContext{})
		case "baggage":
			props = append(props, propagation.Baggage{})
		}
	}
	if len(props) == 0 {
		props = append(props, propagation.TraceContext{})
	}
	return propagation.NewCompositeTextMapPropagator(props...)
}

// Tracer returns the process tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Propagator returns the configured text map propagator.
func (p *Provider) Propagator() propagation.TextMapPropagator {
	return p.propagator
}

// Start opens a span named after the operation.
func (p *Provider) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// InjectHTTP writes the trace context of ctx into headers.
func (p *Provider) InjectHTTP(ctx context.Context, headers http.Header) {
	p.propagator.Inject(ctx, propagation.HeaderCarrier(headers))
}

// ExtractHTTP returns ctx enriched with the trace context found in headers.
func (p *Provider) ExtractHTTP(ctx context.Context, headers http.Header) context.Context {
	return p.propagator.Extract(ctx, propagation.HeaderCarrier(headers))
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
