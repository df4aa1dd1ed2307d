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

package handler

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// EngineConfig assembles the gin engine around a Handler.
type EngineConfig struct {
	Logger      *zap.Logger
	CORSOrigins []string
	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Metrics  *HTTPMetrics
	// Tracer enables server spans when set.
	Tracer     trace.Tracer
	Propagator propagation.TextMapPropagator
	// Extra middleware, e.g. the Sentry reporter, runs after recovery.
	Extra []gin.HandlerFunc
}

// NewEngine builds the admin API engine.
func NewEngine(h *Handler, cfg EngineConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(cfg.Logger))
	if len(cfg.CORSOrigins) > 0 {
		engine.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	}
	if cfg.Tracer != nil {
		prop := cfg.Propagator
		if prop == nil {
			prop = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
		}
		engine.Use(Tracing(cfg.Tracer, prop))
	}
	if cfg.Metrics != nil {
		engine.Use(cfg.Metrics.Middleware())
	}
	engine.Use(cfg.Extra...)

	if cfg.Gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	h.RegisterHTTP(engine)
	return engine
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", RequestIDHeader},
		ExposeHeaders:    []string{RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	return c
}
