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

// Package config loads the typed ordersaga configuration.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/innovationmech/ordersaga/internal/ordersaga/model"
	cfg "github.com/innovationmech/ordersaga/pkg/config"
	"github.com/innovationmech/ordersaga/pkg/messaging/nats"
	"github.com/innovationmech/ordersaga/pkg/messaging/rabbitmq"
	"github.com/innovationmech/ordersaga/pkg/monitoring"
	"github.com/innovationmech/ordersaga/pkg/resilience"
	"github.com/innovationmech/ordersaga/pkg/tracing"
)

// PaymentBreakerName is the breaker that guards the payment processor.
const PaymentBreakerName = "payment-processor"

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig                    `mapstructure:"server"`
	Logging    LoggingConfig                   `mapstructure:"logging"`
	Database   DatabaseConfig                  `mapstructure:"database"`
	PaymentsDB DatabaseConfig                  `mapstructure:"payments_db"`
	Redis      RedisConfig                     `mapstructure:"redis"`
	Messaging  MessagingConfig                 `mapstructure:"messaging"`
	Breaker    resilience.CircuitBreakerConfig `mapstructure:"breaker"`
	DeadLetter DeadLetterConfig                `mapstructure:"deadletter"`
	Processor  ProcessorConfig                 `mapstructure:"processor"`
	Kafka      KafkaConfig                     `mapstructure:"kafka"`
	Tracing    tracing.Config                  `mapstructure:"tracing"`
	Sentry     monitoring.SentryConfig         `mapstructure:"sentry"`
	Catalog    []ProductSeed                   `mapstructure:"catalog"`
}

// ServerConfig configures the admin HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// LoggingConfig sets the zap level.
type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// DatabaseConfig selects a store driver. The order store accepts
// mysql, sqlite or memory; the payment store postgres, sqlite3 or memory.
type DatabaseConfig struct {
	Driver      string `mapstructure:"driver" validate:"required"`
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// RedisConfig configures the shared redis client.
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// MessagingConfig selects the payment transport.
type MessagingConfig struct {
	Transport      string          `mapstructure:"transport" validate:"oneof=memory nats rabbitmq"`
	Subject        string          `mapstructure:"subject" validate:"required"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout" validate:"gt=0"`
	MemoryBuffer   int             `mapstructure:"memory_buffer"`
	NATS           nats.Config     `mapstructure:"nats"`
	RabbitMQ       rabbitmq.Config `mapstructure:"rabbitmq"`
}

// DeadLetterConfig configures the dead-letter policy and store.
type DeadLetterConfig struct {
	MaxAttempts int                      `mapstructure:"max_attempts" validate:"gte=1"`
	MaxAge      time.Duration            `mapstructure:"max_age" validate:"gt=0"`
	Backoff     resilience.BackoffConfig `mapstructure:"backoff"`
	Store       string                   `mapstructure:"store" validate:"oneof=memory redis"`
	Concurrency int                      `mapstructure:"concurrency" validate:"gte=1"`
}

// ProcessorConfig configures the simulated payment processor.
type ProcessorConfig struct {
	MinLatency  time.Duration `mapstructure:"min_latency"`
	MaxLatency  time.Duration `mapstructure:"max_latency"`
	SuccessRate float64       `mapstructure:"success_rate" validate:"gte=0,lte=1"`
	MaxAmount   string        `mapstructure:"max_amount"`
	Concurrency int           `mapstructure:"concurrency" validate:"gte=1"`
}

// KafkaConfig configures the lifecycle event publisher.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// ProductSeed is a catalog entry read from configuration.
type ProductSeed struct {
	Code     string `mapstructure:"code" validate:"required"`
	Name     string `mapstructure:"name"`
	Price    string `mapstructure:"price" validate:"required"`
	Quantity int    `mapstructure:"quantity" validate:"gte=0"`
	Active   bool   `mapstructure:"active"`
}

// Product converts the seed into a catalog product.
func (p ProductSeed) Product() (*model.Product, error) {
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return nil, fmt.Errorf("product %s: invalid price %q: %w", p.Code, p.Price, err)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("product %s: price must be positive", p.Code)
	}
	return &model.Product{Code: p.Code, Name: p.Name, Price: price, Quantity: p.Quantity, Active: p.Active}, nil
}

// Defaults returns the default settings keyed by dotted path.
func Defaults() map[string]interface{} {
	breaker := resilience.DefaultCircuitBreakerConfig()
	natsCfg := nats.DefaultConfig()
	amqpCfg := rabbitmq.DefaultConfig()
	tr := tracing.DefaultConfig()

	return map[string]interface{}{
		"server.addr":             ":8080",
		"server.shutdown_timeout": "15s",
		"server.cors_origins":     []string{"*"},

		"logging.level": "info",

		"database.driver":       "memory",
		"database.dsn":          "",
		"database.auto_migrate": true,

		"payments_db.driver":       "memory",
		"payments_db.dsn":          "",
		"payments_db.auto_migrate": true,

		"redis.enabled":    false,
		"redis.addr":       "localhost:6379",
		"redis.password":   "",
		"redis.db":         0,
		"redis.key_prefix": "ordersaga",

		"messaging.transport":                "memory",
		"messaging.subject":                  "payments.requests",
		"messaging.request_timeout":          "30s",
		"messaging.memory_buffer":            64,
		"messaging.nats.url":                 natsCfg.URL,
		"messaging.nats.name":                natsCfg.Name,
		"messaging.nats.queue_group":         natsCfg.QueueGroup,
		"messaging.nats.request_timeout":     natsCfg.RequestTimeout.String(),
		"messaging.nats.connect_timeout":     natsCfg.ConnectTimeout.String(),
		"messaging.nats.max_reconnects":      natsCfg.MaxReconnects,
		"messaging.nats.reconnect_wait":      natsCfg.ReconnectWait.String(),
		"messaging.nats.pending_buffer":      natsCfg.PendingBuffer,
		"messaging.rabbitmq.url":             amqpCfg.URL,
		"messaging.rabbitmq.prefetch":        amqpCfg.Prefetch,
		"messaging.rabbitmq.consumer_tag":    amqpCfg.ConsumerTag,
		"messaging.rabbitmq.request_timeout": amqpCfg.RequestTimeout.String(),
		"messaging.rabbitmq.heartbeat":       amqpCfg.Heartbeat.String(),
		"messaging.rabbitmq.durable_queues":  amqpCfg.DurableQueues,

		"breaker.name":                       PaymentBreakerName,
		"breaker.timeout":                    breaker.Timeout.String(),
		"breaker.error_threshold_percentage": breaker.ErrorThresholdPercentage,
		"breaker.rolling_window":             breaker.RollingWindow.String(),
		"breaker.rolling_buckets":            breaker.RollingBuckets,
		"breaker.reset_timeout":              breaker.ResetTimeout.String(),
		"breaker.volume_threshold":           breaker.VolumeThreshold,
		"breaker.latency_samples":            breaker.LatencySamples,

		"deadletter.max_attempts":           3,
		"deadletter.max_age":                "1h",
		"deadletter.store":                  "memory",
		"deadletter.concurrency":            4,
		"deadletter.backoff.strategy":       string(resilience.StrategyFixed),
		"deadletter.backoff.initial_delay":  "30s",
		"deadletter.backoff.max_delay":      "0s",
		"deadletter.backoff.multiplier":     1.0,
		"deadletter.backoff.max_retries":    2,
		"deadletter.backoff.jitter_percent": 0.0,

		"processor.min_latency":  "100ms",
		"processor.max_latency":  "2s",
		"processor.success_rate": 0.8,
		"processor.max_amount":   "10000",
		"processor.concurrency":  8,

		"kafka.enabled": false,
		"kafka.brokers": []string{"localhost:9092"},
		"kafka.topic":   "ordersaga.order-events",

		"tracing.enabled":           tr.Enabled,
		"tracing.service_name":      tr.ServiceName,
		"tracing.sampling.type":     tr.Sampling.Type,
		"tracing.sampling.rate":     tr.Sampling.Rate,
		"tracing.exporter.type":     tr.Exporter.Type,
		"tracing.exporter.endpoint": "",
		"tracing.exporter.protocol": tr.Exporter.Protocol,
		"tracing.exporter.insecure": false,
		"tracing.exporter.timeout":  tr.Exporter.Timeout.String(),
		"tracing.propagators":       tr.Propagators,

		"sentry.enabled":           false,
		"sentry.dsn":               "",
		"sentry.environment":       "development",
		"sentry.sample_rate":       1.0,
		"sentry.attach_stacktrace": true,

		"catalog": []map[string]interface{}{
			{"code": "SKU-KEYBOARD", "name": "Mechanical keyboard", "price": "89.90", "quantity": 50, "active": true},
			{"code": "SKU-MOUSE", "name": "Wireless mouse", "price": "29.50", "quantity": 120, "active": true},
			{"code": "SKU-MONITOR", "name": "27in monitor", "price": "329.00", "quantity": 10, "active": true},
		},
	}
}

// Load reads the layered configuration and validates it.
func Load(opts cfg.Options) (*Config, error) {
	m := cfg.NewManager(opts)
	m.SetDefaults(Defaults())
	if err := m.Load(); err != nil {
		return nil, err
	}

	var c Config
	if err := m.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

var validate = validator.New()

// Validate checks the cross-field rules the struct tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Database.Driver {
	case "mysql", "sqlite", "memory":
	default:
		return fmt.Errorf("invalid config: unsupported order store driver %q", c.Database.Driver)
	}
	switch c.PaymentsDB.Driver {
	case "postgres", "sqlite3", "memory":
	default:
		return fmt.Errorf("invalid config: unsupported payment store driver %q", c.PaymentsDB.Driver)
	}
	if c.Database.Driver != "memory" && c.Database.DSN == "" {
		return errors.New("invalid config: database.dsn is required")
	}
	if c.PaymentsDB.Driver != "memory" && c.PaymentsDB.DSN == "" {
		return errors.New("invalid config: payments_db.dsn is required")
	}

	if err := c.Breaker.Validate(); err != nil {
		return fmt.Errorf("invalid breaker config: %w", err)
	}
	if err := c.DeadLetter.Backoff.Validate(); err != nil {
		return fmt.Errorf("invalid deadletter backoff: %w", err)
	}
	if c.DeadLetter.Store == "redis" && !c.Redis.Enabled {
		return errors.New("invalid config: deadletter.store=redis requires redis.enabled")
	}

	if c.Processor.MaxLatency < c.Processor.MinLatency {
		return errors.New("invalid config: processor.max_latency is below min_latency")
	}
	if _, err := c.Processor.MaxAmountDecimal(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("invalid config: kafka requires brokers and topic")
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("invalid tracing config: %w", err)
	}
	if err := c.Sentry.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	seen := make(map[string]struct{}, len(c.Catalog))
	for _, seed := range c.Catalog {
		if _, dup := seen[seed.Code]; dup {
			return fmt.Errorf("invalid config: duplicate catalog code %q", seed.Code)
		}
		seen[seed.Code] = struct{}{}
		if _, err := seed.Product(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	return nil
}

// MaxAmountDecimal parses the processor charge ceiling.
func (p ProcessorConfig) MaxAmountDecimal() (decimal.Decimal, error) {
	if p.MaxAmount == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(p.MaxAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("processor.max_amount %q: %w", p.MaxAmount, err)
	}
	return d, nil
}

// Products converts the catalog seeds.
func (c *Config) Products() ([]*model.Product, error) {
	out := make([]*model.Product, 0, len(c.Catalog))
	for _, seed := range c.Catalog {
		p, err := seed.Product()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
