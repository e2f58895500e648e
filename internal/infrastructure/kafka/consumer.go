package kafka

import (
	"context"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	wbfretry "github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/config"
	"github.com/yokitheyo/styleshot/internal/dto"
	"github.com/yokitheyo/styleshot/internal/retry"
)

type MessageHandler func(ctx context.Context, task *dto.TransformTask) error

// consumerClient is the part of the wbf consumer the loop needs.
type consumerClient interface {
	FetchWithRetry(ctx context.Context, strategy wbfretry.Strategy) (kafkago.Message, error)
	Commit(ctx context.Context, msg kafkago.Message) error
	Close() error
}

type Consumer struct {
	client   consumerClient
	handler  MessageHandler
	topic    string
	strategy wbfretry.Strategy
}

func NewConsumer(cfg *config.KafkaConfig, handler MessageHandler) (*Consumer, error) {
	client := wbfkafka.NewConsumer(cfg.Brokers, cfg.Topic, cfg.GroupID)

	zlog.Logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Str("group_id", cfg.GroupID).
		Msg("Kafka consumer initialized (wbf)")

	return newConsumer(client, handler, cfg.Topic, retry.HandlerStrategy), nil
}

func newConsumer(client consumerClient, handler MessageHandler, topic string, strategy wbfretry.Strategy) *Consumer {
	return &Consumer{
		client:   client,
		handler:  handler,
		topic:    topic,
		strategy: strategy,
	}
}

// Start blocks until ctx is done. The reader moves past every fetched message whether it is
// committed or not, so a failing handler is retried here with the handler strategy. After the
// last attempt the message is committed and the failure stays recorded on the job.
// A message whose handling was cut short by shutdown is left uncommitted.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			zlog.Logger.Info().Msg("Kafka consumer stopped")
			return nil
		default:
		}

		msg, err := c.client.FetchWithRetry(ctx, retry.QueueStrategy)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			zlog.Logger.Error().Err(err).Str("topic", c.topic).Msg("Failed to fetch Kafka message")
			time.Sleep(time.Second)
			continue
		}

		task, err := decodeTask(msg.Value)
		if err != nil {
			zlog.Logger.Error().
				Err(err).
				Bytes("msg", msg.Value).
				Msg("Dropping malformed transform task")
			if err := c.client.Commit(ctx, msg); err != nil {
				zlog.Logger.Error().Err(err).Msg("Failed to commit malformed message")
			}
			continue
		}

		zlog.Logger.Info().Str("job_id", task.JobID).Msg("Received new Kafka task")

		if err := c.handle(ctx, task); err != nil {
			if ctx.Err() != nil {
				zlog.Logger.Warn().Str("job_id", task.JobID).Msg("Task interrupted by shutdown, left uncommitted")
				continue
			}
			zlog.Logger.Error().
				Err(err).
				Str("job_id", task.JobID).
				Int("attempts", c.strategy.Attempts).
				Msg("Task failed after all attempts, giving up")
		}

		if err := c.client.Commit(ctx, msg); err != nil {
			zlog.Logger.Error().
				Err(err).
				Str("job_id", task.JobID).
				Msg("Failed to commit message")
			continue
		}

		zlog.Logger.Info().
			Str("job_id", task.JobID).
			Msg("Task committed")
	}
}

// handle runs the handler under the retry strategy and stops retrying once ctx is done.
func (c *Consumer) handle(ctx context.Context, task *dto.TransformTask) error {
	var (
		last    error
		attempt int
	)
	_ = wbfretry.Do(func() error {
		if err := ctx.Err(); err != nil {
			if last == nil {
				last = err
			}
			return nil
		}
		attempt++
		last = c.handler(ctx, task)
		if last != nil {
			zlog.Logger.Warn().
				Err(last).
				Str("job_id", task.JobID).
				Int("attempt", attempt).
				Msg("Task processing failed")
		}
		return last
	}, c.strategy)
	return last
}

func (c *Consumer) Close() error {
	if err := c.client.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("Failed to close Kafka consumer")
		return err
	}
	zlog.Logger.Info().Msg("Kafka consumer closed successfully")
	return nil
}
