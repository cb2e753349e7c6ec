package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "syntra-ledger/internal/errors"
	"syntra-ledger/internal/logging"
	"syntra-ledger/internal/services/commissions"
)

const (
	DefaultBatch      = 32
	DefaultBlock      = 5 * time.Second
	DefaultRetryDelay = 30 * time.Second
)

// ConsumerConfig names the stream and consumer group.
type ConsumerConfig struct {
	Stream     string
	Group      string
	Consumer   string
	Batch      int64
	Block      time.Duration
	RetryDelay time.Duration
}

// Consumer reads order completion events from a Redis stream through a
// consumer group. Failed messages stay pending and are retried later.
type Consumer struct {
	client    *redis.Client
	cfg       ConsumerConfig
	processor Processor
	logger    *zap.Logger
	now       func() time.Time
}

// NewConsumer builds a stream consumer.
func NewConsumer(client *redis.Client, cfg ConsumerConfig, processor Processor, logger *zap.Logger) *Consumer {
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultBatch
	}
	if cfg.Block <= 0 {
		cfg.Block = DefaultBlock
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "ledger"
	}
	return &Consumer{
		client:    client,
		cfg:       cfg,
		processor: processor,
		logger:    logging.OrNop(logger),
		now:       time.Now,
	}
}

// EnsureGroup creates the stream and consumer group if they do not exist.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", c.cfg.Group, c.cfg.Stream, err)
	}
	return nil
}

// Run consumes until ctx is cancelled. It starts by draining this consumer's
// pending entries, then reads new ones.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	c.logger.Info("order stream consumer started",
		zap.String("stream", c.cfg.Stream),
		zap.String("group", c.cfg.Group),
		zap.String("consumer", c.cfg.Consumer),
	)

	pendingDue := true
	var retryAt time.Time
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !pendingDue && !retryAt.IsZero() && !c.now().Before(retryAt) {
			pendingDue, retryAt = true, time.Time{}
		}
		start := ">"
		if pendingDue {
			start = "0"
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, start},
			Count:    c.cfg.Batch,
			Block:    c.cfg.Block,
		}).Result()
		pendingDue = false
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("order stream read failed", zap.Error(err))
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		failed := 0
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				if !c.process(ctx, msg) {
					failed++
					continue
				}
				if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
					c.logger.Warn("failed to ack order message", zap.String("message_id", msg.ID), zap.Error(err))
				}
			}
		}
		if failed > 0 && retryAt.IsZero() {
			retryAt = c.now().Add(c.cfg.RetryDelay)
		}
	}
}

// process reports whether the message should be acknowledged.
func (c *Consumer) process(ctx context.Context, msg redis.XMessage) bool {
	evt, err := ParseMessage(msg.Values)
	if err != nil {
		c.logger.Warn("dropping malformed order message", zap.String("message_id", msg.ID), zap.Error(err))
		return true
	}
	res, err := c.processor.Handle(ctx, evt)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
			c.logger.Warn("dropping invalid order event",
				zap.String("message_id", msg.ID),
				zap.String("order_id", evt.OrderID),
				zap.Error(err),
			)
			return true
		}
		c.logger.Error("order event failed, leaving it pending",
			zap.String("message_id", msg.ID),
			zap.String("order_id", evt.OrderID),
			zap.Error(err),
		)
		return false
	}
	c.logger.Debug("order event processed",
		zap.String("message_id", msg.ID),
		zap.String("order_id", evt.OrderID),
		zap.Bool("replayed", res.Replayed),
		zap.Int("commissions", len(res.Commissions)),
	)
	return true
}

// ParseMessage decodes the stream fields order_id, payer_id, amount and
// optional product_type.
func ParseMessage(values map[string]interface{}) (commissions.OrderCompleted, error) {
	field := func(name string) string {
		v, ok := values[name]
		if !ok || v == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(v))
	}

	orderID := field("order_id")
	if orderID == "" {
		return commissions.OrderCompleted{}, apperrors.New(apperrors.CodeInvalidArgument, "order_id is missing")
	}
	payerID, err := strconv.ParseInt(field("payer_id"), 10, 64)
	if err != nil {
		return commissions.OrderCompleted{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid payer_id", err)
	}
	amount, err := decimal.NewFromString(field("amount"))
	if err != nil {
		return commissions.OrderCompleted{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid amount", err)
	}
	return commissions.OrderCompleted{
		OrderID:     orderID,
		PayerID:     payerID,
		Amount:      amount,
		ProductType: field("product_type"),
	}, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
