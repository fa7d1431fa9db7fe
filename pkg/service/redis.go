package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Publisher defaults.
const (
	DefaultMetricsPrefix   = "atomws:metrics"
	DefaultPublishInterval = 5 * time.Second
	DefaultPublishTTL      = 30 * time.Second

	scanCount = 100
)

// PublisherOptions configure a RedisPublisher.
type PublisherOptions struct {
	Prefix   string
	Interval time.Duration
	// TTL expires the document of an instance that stopped publishing.
	TTL time.Duration
	// Instance identifies this process; a random id when empty.
	Instance string
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// RedisPublisher shares metrics documents between instances through redis.
// Every instance writes its own key under the prefix with a TTL; Aggregate
// cumulates whatever keys are alive.
type RedisPublisher struct {
	client   redis.UniversalClient
	prefix   string
	key      string
	interval time.Duration
	ttl      time.Duration
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger

	source func() Document
}

// NewRedisPublisher wraps client. The document source is attached by the
// service that starts the publisher.
func NewRedisPublisher(client redis.UniversalClient, opts PublisherOptions, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultMetricsPrefix
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultPublishInterval
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultPublishTTL
	}
	if opts.TTL < opts.Interval {
		opts.TTL = 2 * opts.Interval
	}
	if opts.Instance == "" {
		opts.Instance = uuid.NewString()
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 3
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	p := &RedisPublisher{
		client:   client,
		prefix:   opts.Prefix,
		key:      opts.Prefix + ":" + opts.Instance,
		interval: opts.Interval,
		ttl:      opts.TTL,
		logger:   logger.With("component", "metrics-publisher"),
	}
	threshold := opts.FailureThreshold
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-metrics",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return p
}

// Key is the redis key this instance publishes under.
func (p *RedisPublisher) Key() string { return p.key }

// Publish writes doc under this instance's key.
func (p *RedisPublisher) Publish(ctx context.Context, doc Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.client.Set(ctx, p.key, payload, p.ttl).Err()
	})
	return err
}

// Run publishes the source document immediately and then every interval
// until ctx is done.
func (p *RedisPublisher) Run(ctx context.Context) {
	if p.source == nil {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.Publish(ctx, p.source()); err != nil && ctx.Err() == nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				p.logger.Debug("metrics publish skipped", "error", err)
			} else {
				p.logger.Warn("metrics publish failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Aggregate cumulates the documents of every live instance. Workers counts the
// instances found.
func (p *RedisPublisher) Aggregate(ctx context.Context) (Document, error) {
	res, err := p.breaker.Execute(func() (interface{}, error) {
		return p.collect(ctx)
	})
	if err != nil {
		return Document{}, err
	}
	return res.(Document), nil
}

func (p *RedisPublisher) collect(ctx context.Context) (Document, error) {
	var keys []string
	iter := p.client.Scan(ctx, 0, p.prefix+":*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return Document{}, fmt.Errorf("scan metrics keys: %w", err)
	}

	var total Document
	if len(keys) == 0 {
		return total, nil
	}
	values, err := p.client.MGet(ctx, keys...).Result()
	if err != nil {
		return Document{}, fmt.Errorf("read metrics: %w", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		var doc Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			p.logger.Warn("skipping malformed metrics document", "key", keys[i], "error", err)
			continue
		}
		total.Cumulate(doc)
	}
	return total, nil
}

// Withdraw deletes this instance's document so it stops counting at once.
func (p *RedisPublisher) Withdraw(ctx context.Context) error {
	return p.client.Del(ctx, p.key).Err()
}
