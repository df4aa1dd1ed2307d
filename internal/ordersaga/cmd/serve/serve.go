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

package serve

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/innovationmech/ordersaga/internal/ordersaga/cmd/common"
	"github.com/innovationmech/ordersaga/internal/ordersaga/deps"
	"github.com/innovationmech/ordersaga/internal/ordersaga/handler"
)

// NewServeCmd creates the serve command.
func NewServeCmd(opts *common.Options) *cobra.Command {
	var embedded bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the saga coordinator",
		Long: `Start the saga coordinator with:
- the admin HTTP API and /metrics
- the dead-letter retry scheduler
- an in-process payment processor when the transport is memory or --embedded-processor is set`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), opts, embedded)
		},
	}
	cmd.Flags().BoolVar(&embedded, "embedded-processor", false, "also run the payment processor in this process")
	return cmd
}

func runServer(parent context.Context, opts *common.Options, embedded bool) error {
	c, log, err := opts.Bootstrap()
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runProcessor := embedded || c.Messaging.Transport == "memory"
	d, err := deps.New(ctx, c, log, deps.Options{Coordinator: true, Processor: runProcessor})
	if err != nil {
		log.Error("failed to initialize dependencies", zap.Error(err))
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			log.Warn("error while closing dependencies", zap.Error(err))
		}
	}()

	recovered, err := d.DeadLetters.Recover(ctx)
	if err != nil {
		log.Error("failed to recover dead letters", zap.Error(err))
		return err
	}
	log.Info("dead-letter schedule recovered", zap.Int("tickets", recovered))

	srv := &http.Server{
		Addr:              c.Server.Addr,
		Handler:           newEngine(d, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.DeadLetters.Run(gctx) })
	if d.Worker != nil {
		g.Go(func() error { return d.Worker.Run(gctx) })
	}
	g.Go(func() error {
		log.Info("admin API listening", zap.String("addr", c.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down admin API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		return err
	}
	log.Info("server shutdown complete")
	return nil
}

func newEngine(d *deps.Dependencies, log *zap.Logger) *gin.Engine {
	c := d.Config
	if c.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ec := handler.EngineConfig{
		Logger:      log.Named("http"),
		CORSOrigins: c.Server.CORSOrigins,
		Gatherer:    d.Metrics,
		Metrics:     d.HTTPMetrics,
	}
	if c.Tracing.Enabled {
		ec.Tracer = d.Tracing.Tracer()
		ec.Propagator = d.Tracing.Propagator()
	}
	if d.Sentry.IsEnabled() {
		ec.Extra = append(ec.Extra, d.Sentry.HTTPMiddleware())
	}
	h := handler.NewHandler(d.Coordinator, d.HealthChecks(), log.Named("http"))
	return handler.NewEngine(h, ec)
}
