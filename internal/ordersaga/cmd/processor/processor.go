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

package processor

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/innovationmech/ordersaga/internal/ordersaga/cmd/common"
	"github.com/innovationmech/ordersaga/internal/ordersaga/deps"
)

// NewProcessorCmd creates the processor command.
func NewProcessorCmd(opts *common.Options) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "processor",
		Short: "Run the payment processor",
		Long:  "Consume payment commands from the configured broker, record every attempt and reply to the coordinator.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcessor(cmd.Context(), opts, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9091", "address of the /metrics endpoint, empty disables it")
	return cmd
}

func runProcessor(parent context.Context, opts *common.Options, metricsAddr string) error {
	c, log, err := opts.Bootstrap()
	if err != nil {
		return err
	}
	if c.Messaging.Transport == "memory" {
		return errors.New("the processor command needs a broker transport (nats or rabbitmq); use serve for the in-memory transport")
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := deps.New(ctx, c, log, deps.Options{Processor: true})
	if err != nil {
		log.Error("failed to initialize dependencies", zap.Error(err))
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			log.Warn("error while closing dependencies", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Worker.Run(gctx) })

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(d.Metrics, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("processor metrics listening", zap.String("addr", metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info("payment processor started",
		zap.String("transport", c.Messaging.Transport),
		zap.String("queue", c.Messaging.Subject),
		zap.Int("concurrency", c.Processor.Concurrency))
	if err := g.Wait(); err != nil {
		log.Error("processor stopped with error", zap.Error(err))
		return err
	}
	log.Info("payment processor stopped")
	return nil
}
