package api

import (
	"context"
	"time"

	"github.com/rmqwatch/dashfeed/internal/model"
)

// queueWire is the wire shape of a queue list entry.
type queueWire struct {
	QueueName    string `json:"queue_name"`
	Category     string `json:"category"`
	LastActivity string `json:"last_activity,omitempty"` // RFC 3339
}

// metricsWire is the wire shape of a current metrics entry.
type metricsWire struct {
	QueueName     string  `json:"queue_name"`
	Category      string  `json:"category"`
	Timestamp     string  `json:"timestamp"` // RFC 3339
	MessagesReady int     `json:"messages_ready"`
	ConsumerCount int     `json:"consumer_count"`
	IncomingRate  float64 `json:"incoming_rate"`
	ConsumeRate   float64 `json:"consume_rate"`
}

// overviewWire is the wire shape of the system overview response.
type overviewWire struct {
	TotalQueues    int     `json:"total_queues"`
	TotalReady     int64   `json:"total_messages_ready"`
	TotalConsumers int     `json:"total_consumers"`
	IncomingRate   float64 `json:"incoming_rate"`
	ConsumeRate    float64 `json:"consume_rate"`
	GeneratedAt    string  `json:"generated_at"` // RFC 3339
}

// ListQueues returns all monitored queues.
func (c *Client) ListQueues(ctx context.Context) ([]model.QueueInfo, error) {
	var wire []queueWire
	if err := c.get(ctx, "/api/queues", nil, &wire); err != nil {
		return nil, err
	}

	queues := make([]model.QueueInfo, 0, len(wire))
	for _, q := range wire {
		queues = append(queues, model.QueueInfo{
			Name:         q.QueueName,
			Category:     q.Category,
			LastActivity: parseTimeMicro(q.LastActivity),
		})
	}
	return queues, nil
}

// GetCurrentMetrics returns the current metrics snapshot for all
// queues. This is the idempotent read endpoint the fallback poller
// hits on its fixed interval.
func (c *Client) GetCurrentMetrics(ctx context.Context) ([]model.QueueMetrics, error) {
	var wire []metricsWire
	if err := c.get(ctx, "/api/queues/current", nil, &wire); err != nil {
		return nil, err
	}

	receivedAt := time.Now().UnixMicro()
	metrics := make([]model.QueueMetrics, 0, len(wire))
	for _, m := range wire {
		metrics = append(metrics, model.QueueMetrics{
			QueueName:     m.QueueName,
			Category:      m.Category,
			Timestamp:     parseTimeMicro(m.Timestamp),
			ReceivedAt:    receivedAt,
			MessagesReady: m.MessagesReady,
			ConsumerCount: m.ConsumerCount,
			IncomingRate:  m.IncomingRate,
			ConsumeRate:   m.ConsumeRate,
			Source:        "rest",
		})
	}
	return metrics, nil
}

// GetSystemOverview returns the aggregate snapshot across all queues.
func (c *Client) GetSystemOverview(ctx context.Context) (model.SystemOverview, error) {
	var wire overviewWire
	if err := c.get(ctx, "/api/system/overview", nil, &wire); err != nil {
		return model.SystemOverview{}, err
	}

	return model.SystemOverview{
		TotalQueues:    wire.TotalQueues,
		TotalReady:     wire.TotalReady,
		TotalConsumers: wire.TotalConsumers,
		IncomingRate:   wire.IncomingRate,
		ConsumeRate:    wire.ConsumeRate,
		GeneratedAt:    parseTimeMicro(wire.GeneratedAt),
	}, nil
}

// parseTimeMicro converts an RFC 3339 timestamp to µs since epoch,
// 0 if absent or unparseable.
func parseTimeMicro(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0
	}
	return t.UnixMicro()
}
