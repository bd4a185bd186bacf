package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/canopy-network/geyserx/pkg/logging"
	"github.com/canopy-network/geyserx/pkg/metrics"
	"github.com/canopy-network/geyserx/pkg/models"
	"go.uber.org/zap"
)

// Producer appends events to one stream.
type Producer struct {
	client StreamClient
	stream string
	logger *zap.Logger
}

func NewProducer(client StreamClient, stream string, logger *zap.Logger) (*Producer, error) {
	if client == nil {
		return nil, errors.New("stream client is required")
	}
	if stream == "" {
		return nil, errors.New("stream name is required")
	}
	return &Producer{
		client: client,
		stream: stream,
		logger: logging.OrNop(logger).With(zap.String("component", "producer"), zap.String("stream", stream)),
	}, nil
}

// Append writes event as one new entry and returns the id Redis assigned to it.
func (p *Producer) Append(ctx context.Context, event models.IndexEvent) (string, error) {
	payload, err := models.EncodeEvent(event)
	if err != nil {
		return "", fmt.Errorf("encode %s event: %w", event.Kind(), err)
	}

	id, err := p.client.XAdd(ctx, p.stream, map[string]interface{}{PayloadField: string(payload)})
	if err != nil {
		metrics.AppendErrors.Inc()
		return "", fmt.Errorf("append to stream %s: %w", p.stream, err)
	}

	metrics.EventsAppended.WithLabelValues(event.Kind().String()).Inc()
	p.logger.Debug("Appended event",
		zap.String("entry_id", id),
		zap.Stringer("kind", event.Kind()))
	return id, nil
}
