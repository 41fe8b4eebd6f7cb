// Package kafka emits course-sync events after a processing batch. The LMS
// page-publishing service consumes them and re-renders the course pages.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	Logger       zerolog.Logger
}

type Producer struct {
	writer *kafkago.Writer
	logger zerolog.Logger
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers list is empty")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is empty")
	}
	if cfg.WriteTimeout < 0 {
		return nil, fmt.Errorf("write_timeout cannot be negative")
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	return &Producer{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafkago.LeastBytes{},
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: cfg.Logger.With().Str("component", "course_sync").Logger(),
	}, nil
}

type courseUpdated struct {
	CourseCode string    `json:"course_code"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NotifyCourseUpdated publishes one course-sync event keyed by course code,
// so per-course ordering is preserved across partitions.
func (p *Producer) NotifyCourseUpdated(ctx context.Context, courseCode string) error {
	payload, err := json.Marshal(courseUpdated{
		CourseCode: courseCode,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal course event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(courseCode),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}

	p.logger.Debug().Str("course_code", courseCode).Msg("course sync event published")
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
