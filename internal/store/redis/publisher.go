package redis

import (
	"context"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/caseykingsley77/trade-bot/internal/model"
)

const (
	defaultStreamMaxLen = 10000
	defaultLatestTTL    = 24 * time.Hour
)

// PublisherConfig configures the Redis intent publisher.
type PublisherConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	StreamMaxLen int64 // approximate cap per symbol stream

	// breaker settings; zero means 5 failures / 10s
	MaxFailures  int
	ResetTimeout time.Duration
}

// StreamKey is the stream an order router consumes for symbol.
func StreamKey(symbol string) string { return "intents:" + symbol }

// LatestKey holds the most recent intent for symbol.
func LatestKey(symbol string) string { return "intent:latest:" + symbol }

// Channel is the pub/sub channel announcing new intents for symbol.
func Channel(symbol string) string { return "pub:intents:" + symbol }

// IntentPublisher hands trade intents to an external order router through a
// Redis stream. Writes go through a circuit breaker so a Redis outage fails
// fast instead of stalling the session.
type IntentPublisher struct {
	client *goredis.Client
	cb     *CircuitBreaker
	maxLen int64
	log    *zap.Logger
}

// Client returns the underlying Redis client for health checks.
func (p *IntentPublisher) Client() *goredis.Client { return p.client }

// Breaker returns the publisher's circuit breaker.
func (p *IntentPublisher) Breaker() *CircuitBreaker { return p.cb }

// New creates a publisher and pings the server.
func New(ctx context.Context, cfg PublisherConfig, log *zap.Logger) (*IntentPublisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis ping")
	}

	p := NewWithClient(client, cfg, log)
	p.log.Info("connected", zap.String("addr", cfg.Addr))
	return p, nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, cfg PublisherConfig, log *zap.Logger) *IntentPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = defaultStreamMaxLen
	}

	l := log.Named("redis")
	cb := NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout)
	cb.OnStateChange = func(from, to State) {
		l.Warn("circuit breaker state change", zap.Stringer("from", from), zap.Stringer("to", to))
	}
	return &IntentPublisher{client: client, cb: cb, maxLen: cfg.StreamMaxLen, log: l}
}

// Dispatch appends the intent to its symbol stream, stores it as the latest
// intent and announces it on the symbol channel, in one pipeline.
func (p *IntentPublisher) Dispatch(ctx context.Context, intent model.TradeIntent) error {
	err := p.cb.Execute(func() error { return p.publish(ctx, intent) })
	if err != nil {
		return errors.Wrapf(err, "redis publish intent %s", intent.ID)
	}
	return nil
}

func (p *IntentPublisher) publish(ctx context.Context, intent model.TradeIntent) error {
	data := string(intent.JSON())

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: StreamKey(intent.Symbol),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":         intent.ID,
			"trade_type": string(intent.TradeType),
			"data":       data,
		},
	})
	pipe.Set(ctx, LatestKey(intent.Symbol), data, defaultLatestTTL)
	pipe.Publish(ctx, Channel(intent.Symbol), data)

	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	p.log.Debug("intent published", zap.String("intent_id", intent.ID), zap.String("symbol", intent.Symbol))
	return nil
}

// Close closes the Redis client.
func (p *IntentPublisher) Close() error {
	return p.client.Close()
}
