package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/gentlecorp/shopping-cart/internal/adapter/storage"
	"github.com/gentlecorp/shopping-cart/internal/core/service"
	"github.com/gentlecorp/shopping-cart/internal/observability"
	"github.com/gentlecorp/shopping-cart/internal/port"
)

const retryDelay = 2 * time.Second

// Outcomes reported on the consumer message counter.
const (
	OutcomeCreated   = "created"
	OutcomeDeleted   = "deleted"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// CartCommands is implemented by service.CartWriteService.
type CartCommands interface {
	Create(ctx context.Context, req service.CreateRequest) (string, error)
	DeleteByCustomer(ctx context.Context, customerID, token string) error
}

type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	CreateTopic string
	DeleteTopic string
}

type createCartMessage struct {
	CustomerID string `json:"customerId"`
}

type deleteCartMessage struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

type CartConsumer struct {
	reader      MessageReader
	commands    CartCommands
	ledger      port.MessageLedger
	metrics     *observability.Metrics
	logger      *zap.Logger
	createTopic string
	deleteTopic string
}

// NewReader builds a consumer group reader subscribed to both cart topics.
func NewReader(cfg ConsumerConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: []string{cfg.CreateTopic, cfg.DeleteTopic},
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
}

func NewCartConsumer(cfg ConsumerConfig, reader MessageReader, commands CartCommands, ledger port.MessageLedger, metrics *observability.Metrics, logger *zap.Logger) *CartConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CartConsumer{
		reader:      reader,
		commands:    commands,
		ledger:      ledger,
		metrics:     metrics,
		logger:      logger,
		createTopic: cfg.CreateTopic,
		deleteTopic: cfg.DeleteTopic,
	}
}

// Run consumes until ctx is cancelled. Messages are handled one at a time
// and always committed, a failing message never stops the loop.
func (c *CartConsumer) Run(ctx context.Context) error {
	c.logger.Info("cart consumer started", zap.String("create_topic", c.createTopic), zap.String("delete_topic", c.deleteTopic))
	defer c.logger.Info("cart consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryDelay):
			}
			continue
		}

		c.HandleMessage(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

func (c *CartConsumer) Close() error {
	return c.reader.Close()
}

// HandleMessage claims the message in the ledger and dispatches it by topic.
// A failed message releases its claim.
func (c *CartConsumer) HandleMessage(ctx context.Context, msg kafka.Message) string {
	log := c.logger.With(
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	key := storage.MessageKey(msg.Topic, msg.Partition, msg.Offset)
	claimed, err := c.ledger.SetIdempotency(ctx, key)
	if err != nil {
		// ledger unavailable: handle anyway
		log.Warn("claim message", zap.Error(err))
		claimed = true
	}
	if !claimed {
		log.Info("duplicate message skipped")
		return c.record(msg.Topic, OutcomeDuplicate)
	}

	outcome, err := c.dispatch(ctx, msg)
	if err != nil {
		log.Error("handle message", zap.Error(err))
		if errors.Is(err, errUnprocessable) {
			return c.record(msg.Topic, OutcomeIgnored)
		}
		if rerr := c.ledger.ReleaseIdempotency(ctx, key); rerr != nil {
			log.Warn("release message claim", zap.Error(rerr))
		}
		return c.record(msg.Topic, OutcomeFailed)
	}

	log.Info("message handled", zap.String("outcome", outcome))
	return c.record(msg.Topic, outcome)
}

var errUnprocessable = errors.New("unprocessable message")

func (c *CartConsumer) dispatch(ctx context.Context, msg kafka.Message) (string, error) {
	switch msg.Topic {
	case c.createTopic:
		var m createCartMessage
		if err := json.Unmarshal(msg.Value, &m); err != nil {
			return "", fmt.Errorf("decode create message: %v: %w", err, errUnprocessable)
		}
		id, err := c.commands.Create(ctx, service.CreateRequest{CustomerID: m.CustomerID})
		if err != nil {
			return "", err
		}
		c.logger.Debug("cart created from message", zap.String("cart_id", id))
		return OutcomeCreated, nil

	case c.deleteTopic:
		var m deleteCartMessage
		if err := json.Unmarshal(msg.Value, &m); err != nil {
			return "", fmt.Errorf("decode delete message: %v: %w", err, errUnprocessable)
		}
		if err := c.commands.DeleteByCustomer(ctx, m.ID, m.Token); err != nil {
			return "", err
		}
		return OutcomeDeleted, nil

	default:
		return "", fmt.Errorf("unknown topic %q: %w", msg.Topic, errUnprocessable)
	}
}

func (c *CartConsumer) record(topic, outcome string) string {
	if c.metrics != nil {
		c.metrics.Messages.WithLabelValues(topic, outcome).Inc()
	}
	return outcome
}
