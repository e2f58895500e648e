package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/config"
	"github.com/yokitheyo/styleshot/internal/domain"
	"github.com/yokitheyo/styleshot/internal/dto"
	"github.com/yokitheyo/styleshot/internal/retry"
)

type Producer struct {
	client *wbfkafka.Producer
	topic  string
}

// NewProducer создаёт Kafka producer через wbf.
func NewProducer(cfg *config.KafkaConfig) *Producer {
	client := wbfkafka.NewProducer(cfg.Brokers, cfg.Topic)
	zlog.Logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("Kafka producer initialized (wbf)")
	return &Producer{
		client: client,
		topic:  cfg.Topic,
	}
}

// PublishTransformTask отправляет задачу воркеру, ключ сообщения: ID задачи.
func (p *Producer) PublishTransformTask(ctx context.Context, jobID string) error {
	data, err := encodeTask(dto.TransformTask{JobID: jobID})
	if err != nil {
		zlog.Logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to marshal transform task")
		return err
	}

	if err := p.client.SendWithRetry(ctx, retry.QueueStrategy, []byte(jobID), data); err != nil {
		zlog.Logger.Error().
			Err(err).
			Str("job_id", jobID).
			Str("topic", p.topic).
			Msg("Failed to send Kafka message with retry")
		return fmt.Errorf("%w: %v", domain.ErrQueueFailed, err)
	}

	zlog.Logger.Info().
		Str("job_id", jobID).
		Str("topic", p.topic).
		Msg("Transform task sent to Kafka")
	return nil
}

// Close закрывает продюсер.
func (p *Producer) Close() error {
	if err := p.client.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("Failed to close Kafka producer")
		return err
	}
	zlog.Logger.Info().Msg("Kafka producer closed successfully")
	return nil
}

func encodeTask(task dto.TransformTask) ([]byte, error) {
	if task.JobID == "" {
		return nil, fmt.Errorf("encode task: empty job id")
	}
	return json.Marshal(task)
}

// decodeTask rejects messages that cannot name a job.
func decodeTask(value []byte) (*dto.TransformTask, error) {
	var task dto.TransformTask
	if err := json.Unmarshal(value, &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	if task.JobID == "" {
		return nil, fmt.Errorf("decode task: empty job id")
	}
	return &task, nil
}
