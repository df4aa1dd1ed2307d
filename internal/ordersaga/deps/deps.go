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

// Package deps wires the ordersaga components from configuration.
package deps

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/innovationmech/ordersaga/internal/ordersaga/config"
	"github.com/innovationmech/ordersaga/internal/ordersaga/deadletter"
	"github.com/innovationmech/ordersaga/internal/ordersaga/events"
	"github.com/innovationmech/ordersaga/internal/ordersaga/gateway"
	"github.com/innovationmech/ordersaga/internal/ordersaga/handler"
	"github.com/innovationmech/ordersaga/internal/ordersaga/inventory"
	"github.com/innovationmech/ordersaga/internal/ordersaga/processor"
	"github.com/innovationmech/ordersaga/internal/ordersaga/repository"
	"github.com/innovationmech/ordersaga/internal/ordersaga/saga"
	"github.com/innovationmech/ordersaga/pkg/messaging"
	"github.com/innovationmech/ordersaga/pkg/messaging/nats"
	"github.com/innovationmech/ordersaga/pkg/messaging/rabbitmq"
	"github.com/innovationmech/ordersaga/pkg/monitoring"
	"github.com/innovationmech/ordersaga/pkg/resilience"
	"github.com/innovationmech/ordersaga/pkg/tracing"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "ordersaga"

var (
	// ErrInfrastructure wraps failures to reach an external system.
	ErrInfrastructure = errors.New("infrastructure initialization failed")
	// ErrComponent wraps failures to assemble a component.
	ErrComponent = errors.New("component initialization failed")
)

// Options selects which roles a process runs.
type Options struct {
	Coordinator bool
	Processor   bool
}

// Dependencies holds every wired component of one process.
type Dependencies struct {
	Config *config.Config
	Logger *zap.Logger

	// Infrastructure
	Metrics   *prometheus.Registry
	Tracing   *tracing.Provider
	Sentry    *monitoring.SentryManager
	Redis     redis.UniversalClient
	OrderDB   *gorm.DB
	PaymentDB *sql.DB
	Transport messaging.Transport

	// Coordinator role
	Orders      repository.OrderRepository
	Catalog     *inventory.MemoryCatalog
	Ledger      inventory.Ledger
	Breakers    *resilience.Registry
	Gateway     *gateway.Gateway
	DeadLetters *deadletter.Router
	Events      events.Publisher
	Coordinator *saga.Coordinator
	HTTPMetrics *handler.HTTPMetrics

	// Processor role
	Payments repository.PaymentRepository
	Worker   *processor.Worker

	closers []func() error
}

// New wires the components the roles in opts need. On error every
// resource opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (d *Dependencies, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrComponent)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d = &Dependencies{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = d.Close()
			d = nil
		}
	}()

	if err := d.initObservability(ctx); err != nil {
		return nil, err
	}
	if err := d.initRedis(ctx); err != nil {
		return nil, err
	}
	if err := d.initTransport(); err != nil {
		return nil, err
	}
	if opts.Processor {
		if err := d.initProcessor(ctx); err != nil {
			return nil, err
		}
	}
	if opts.Coordinator {
		if err := d.initCoordinator(ctx); err != nil {
			return nil, err
		}
	}

	logger.Info("dependencies initialized",
		zap.Bool("coordinator", opts.Coordinator),
		zap.Bool("processor", opts.Processor),
		zap.String("transport", cfg.Messaging.Transport),
		zap.String("order_store", cfg.Database.Driver),
		zap.String("payment_store", cfg.PaymentsDB.Driver))
	return d, nil
}

func (d *Dependencies) initObservability(ctx context.Context) error {
	d.Metrics = prometheus.NewRegistry()
	d.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tp, err := tracing.New(ctx, d.Config.Tracing)
	if err != nil {
		return fmt.Errorf("%w: tracing: %v", ErrComponent, err)
	}
	d.Tracing = tp
	d.onClose(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	})

	d.Sentry = monitoring.NewSentryManager(d.Config.Sentry, d.Logger.Named("sentry"))
	if err := d.Sentry.Initialize(); err != nil {
		return fmt.Errorf("%w: sentry: %v", ErrComponent, err)
	}
	d.onClose(func() error {
		d.Sentry.Shutdown(2 * time.Second)
		return nil
	})
	return nil
}

func (d *Dependencies) initRedis(ctx context.Context) error {
	rc := d.Config.Redis
	if !rc.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
	d.onClose(client.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("%w: redis %s: %v", ErrInfrastructure, rc.Addr, err)
	}
	d.Redis = client
	return nil
}

func (d *Dependencies) initTransport() error {
	mc := d.Config.Messaging
	log := d.Logger.Named("messaging")

	var (
		t   messaging.Transport
		err error
	)
	switch mc.Transport {
	case "memory":
		t = messaging.NewMemoryTransport(mc.MemoryBuffer)
	case "nats":
		t, err = nats.Dial(mc.NATS, log)
	case "rabbitmq":
		t, err = rabbitmq.Dial(mc.RabbitMQ, log)
	default:
		err = fmt.Errorf("unsupported transport %q", mc.Transport)
	}
	if err != nil {
		return fmt.Errorf("%w: transport: %v", ErrInfrastructure, err)
	}
	d.Transport = t
	d.onClose(t.Close)
	return nil
}

func (d *Dependencies) initProcessor(ctx context.Context) error {
	pc := d.Config.Processor
	payments, err := d.openPayments(ctx)
	if err != nil {
		return err
	}
	d.Payments = payments

	maxAmount, err := pc.MaxAmountDecimal()
	if err != nil {
		return fmt.Errorf("%w: processor: %v", ErrComponent, err)
	}
	decider := processor.NewSimulatedDecider(pc.SuccessRate, maxAmount, time.Now().UnixNano())
	svc := processor.NewService(payments, decider,
		processor.WithLatency(pc.MinLatency, pc.MaxLatency),
		processor.WithLogger(d.Logger.Named("processor")),
		processor.WithTracer(d.Tracing.Tracer()),
	)
	d.Worker = processor.NewWorker(d.Transport, svc, d.Config.Messaging.Subject,
		processor.WithConcurrency(pc.Concurrency),
		processor.WithWorkerLogger(d.Logger.Named("processor")),
		processor.WithWorkerMetrics(processor.NewWorkerMetrics(d.Metrics, MetricsNamespace)),
	)
	return nil
}

func (d *Dependencies) openPayments(ctx context.Context) (repository.PaymentRepository, error) {
	dc := d.Config.PaymentsDB
	if dc.Driver == "memory" {
		return repository.NewMemoryPaymentRepository(), nil
	}

	db, err := repository.OpenSQL(dc.Driver, dc.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	d.onClose(db.Close)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: payment store: %v", ErrInfrastructure, err)
	}
	d.PaymentDB = db

	repo := repository.NewSQLPaymentRepository(db, dc.Driver)
	if dc.AutoMigrate {
		if err := repo.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("%w: migrate payment store: %v", ErrInfrastructure, err)
		}
	}
	return repo, nil
}

func (d *Dependencies) initCoordinator(ctx context.Context) error {
	cfg := d.Config
	log := d.Logger

	orders, err := d.openOrders()
	if err != nil {
		return err
	}
	d.Orders = orders

	products, err := cfg.Products()
	if err != nil {
		return fmt.Errorf("%w: catalog: %v", ErrComponent, err)
	}
	d.Catalog = inventory.NewMemoryCatalog(products...)
	if d.Redis != nil {
		d.Ledger, err = inventory.NewRedisLedger(d.Redis, cfg.Redis.KeyPrefix, log.Named("inventory"))
		if err != nil {
			return fmt.Errorf("%w: stock ledger: %v", ErrComponent, err)
		}
	} else {
		d.Ledger = inventory.NewMemoryLedger()
	}
	if err := inventory.Seed(ctx, d.Ledger, products); err != nil {
		return fmt.Errorf("%w: seed stock: %v", ErrInfrastructure, err)
	}

	d.Breakers = resilience.NewRegistry(cfg.Breaker,
		resilience.WithRegistryLogger(log.Named("breaker")),
		resilience.WithPrometheusMetrics(resilience.NewCircuitBreakerPrometheusMetrics(d.Metrics, MetricsNamespace)),
	)
	breaker, err := d.Breakers.GetOrCreate(cfg.Breaker.Name)
	if err != nil {
		return fmt.Errorf("%w: circuit breaker: %v", ErrComponent, err)
	}
	d.Gateway = gateway.New(d.Transport, breaker,
		gateway.WithSubject(cfg.Messaging.Subject),
		gateway.WithTimeout(cfg.Messaging.RequestTimeout),
		gateway.WithLogger(log.Named("gateway")),
		gateway.WithTracer(d.Tracing.Tracer()),
	)

	if err := d.initDeadLetters(); err != nil {
		return err
	}
	if err := d.initEvents(); err != nil {
		return err
	}

	coordOpts := []saga.Option{
		saga.WithLogger(log.Named("saga")),
		saga.WithTracer(d.Tracing.Tracer()),
	}
	if d.Sentry.IsEnabled() {
		coordOpts = append(coordOpts, saga.WithErrorReporter(d.Sentry))
	}
	d.Coordinator, err = saga.NewCoordinator(saga.Dependencies{
		Orders:      d.Orders,
		Catalog:     d.Catalog,
		Ledger:      d.Ledger,
		Payments:    d.Gateway,
		Breakers:    d.Breakers,
		DeadLetters: d.DeadLetters,
		Events:      d.Events,
	}, coordOpts...)
	if err != nil {
		return fmt.Errorf("%w: coordinator: %v", ErrComponent, err)
	}
	d.HTTPMetrics = handler.NewHTTPMetrics(d.Metrics, MetricsNamespace)
	return nil
}

func (d *Dependencies) openOrders() (repository.OrderRepository, error) {
	dc := d.Config.Database
	if dc.Driver == "memory" {
		return repository.NewMemoryOrderRepository(), nil
	}

	db, err := repository.OpenGorm(dc.Driver, dc.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: order store: %v", ErrInfrastructure, err)
	}
	d.onClose(sqlDB.Close)
	d.OrderDB = db

	if dc.AutoMigrate {
		if err := repository.Migrate(db); err != nil {
			return nil, fmt.Errorf("%w: migrate order store: %v", ErrInfrastructure, err)
		}
	}
	return repository.NewGormOrderRepository(db), nil
}

func (d *Dependencies) initDeadLetters() error {
	dc := d.Config.DeadLetter

	var store deadletter.Store
	switch dc.Store {
	case "redis":
		if d.Redis == nil {
			return fmt.Errorf("%w: dead-letter redis store needs redis.enabled", ErrComponent)
		}
		store = deadletter.NewRedisStore(d.Redis, d.Config.Redis.KeyPrefix)
	default:
		store = deadletter.NewMemoryStore()
	}

	policy := deadletter.DefaultPolicy()
	policy.MaxAttempts = dc.MaxAttempts
	policy.MaxAge = dc.MaxAge

	router, err := deadletter.NewRouter(store, policy, dc.Backoff,
		deadletter.WithLogger(d.Logger.Named("deadletter")),
		deadletter.WithMetrics(deadletter.NewMetrics(d.Metrics, MetricsNamespace)),
		deadletter.WithConcurrency(dc.Concurrency),
	)
	if err != nil {
		return fmt.Errorf("%w: dead-letter router: %v", ErrComponent, err)
	}
	d.DeadLetters = router
	return nil
}

func (d *Dependencies) initEvents() error {
	kc := d.Config.Kafka
	if !kc.Enabled {
		d.Events = events.NoopPublisher{}
		return nil
	}
	pub, err := events.NewKafkaPublisher(kc.Brokers, kc.Topic, d.Logger.Named("events"))
	if err != nil {
		return fmt.Errorf("%w: kafka publisher: %v", ErrComponent, err)
	}
	d.Events = pub
	d.onClose(pub.Close)
	return nil
}

// HealthChecks returns a check per external system in use.
func (d *Dependencies) HealthChecks() map[string]handler.HealthCheck {
	checks := make(map[string]handler.HealthCheck)
	if d.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return d.Redis.Ping(ctx).Err() }
	}
	if d.OrderDB != nil {
		checks["order_store"] = func(ctx context.Context) error {
			sqlDB, err := d.OrderDB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	if d.PaymentDB != nil {
		checks["payment_store"] = d.PaymentDB.PingContext
	}
	if d.Breakers != nil {
		name := d.Config.Breaker.Name
		checks["payment_breaker"] = func(context.Context) error {
			stats, err := d.Breakers.Stats(name)
			if err != nil {
				return err
			}
			if stats.State == resilience.StateOpen {
				return fmt.Errorf("circuit breaker %s is open", name)
			}
			return nil
		}
	}
	return checks
}

func (d *Dependencies) onClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (d *Dependencies) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
