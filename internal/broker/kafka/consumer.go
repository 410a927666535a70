package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BearBump/TrackPool/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventHandler получает декодированное и провалидированное событие.
type EventHandler func(ctx context.Context, ev messages.AllocationEvent) error

// Consumer читает топик AllocationEvent.
type Consumer struct {
	r       messageReader
	skipped atomic.Int64
}

// NewConsumer: новая группа стартует с конца топика, история не нужна,
// сверка всё равно делает полный прогон при старте.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		StartOffset:       kafka.LastOffset,
		MaxWait:           time.Second,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return newConsumerWithReader(kafka.NewReader(cfg))
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

// Skipped число битых сообщений, закоммиченных без вызова хендлера.
func (c *Consumer) Skipped() int64 {
	return c.skipped.Load()
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume блокируется до ошибки чтения или ошибки хендлера.
// Ошибка хендлера останавливает чтение без commit: сообщение будет перечитано.
// Битые сообщения коммитятся сразу, иначе группа застрянет на них.
func (c *Consumer) Consume(ctx context.Context, handler EventHandler) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}

		ev, err := decodeAllocationEvent(msg.Value)
		if err != nil {
			c.skipped.Add(1)
			slog.Warn("skip allocation event",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"key", string(msg.Key),
				"error", err.Error(),
			)
		} else if err := handler(ctx, ev); err != nil {
			return err
		}

		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

func decodeAllocationEvent(b []byte) (messages.AllocationEvent, error) {
	var ev messages.AllocationEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return ev, errors.Wrap(err, "decode")
	}
	if err := ev.Validate(); err != nil {
		return ev, errors.Wrap(err, "validate")
	}
	return ev, nil
}
