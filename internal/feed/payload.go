package feed

import (
	"encoding/json"
	"time"

	"github.com/rmqwatch/dashfeed/internal/model"
)

// QueueSample is the wire shape of one queue's metrics inside a
// metrics_update payload. The same shape is produced by the REST
// snapshot endpoint, so fallback-polled data re-enters the pipeline
// through the identical parse path.
type QueueSample struct {
	QueueName     string  `json:"queue_name"`
	Category      string  `json:"category"`
	Timestamp     string  `json:"timestamp"` // RFC 3339
	MessagesReady int     `json:"messages_ready"`
	ConsumerCount int     `json:"consumer_count"`
	IncomingRate  float64 `json:"incoming_rate"`
	ConsumeRate   float64 `json:"consume_rate"`
	Source        string  `json:"source,omitempty"` // "rest" for fallback-polled samples, empty for live
}

// QueueDiscoveredPayload is the payload of a queue_discovered envelope.
type QueueDiscoveredPayload struct {
	QueueName string `json:"queue_name"`
	Category  string `json:"category"`
}

// SystemAlertPayload is the payload of a system_alert envelope.
type SystemAlertPayload struct {
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	QueueName string `json:"queue_name,omitempty"`
}

// ParseMetricsUpdate decodes a metrics_update payload.
func ParseMetricsUpdate(payload json.RawMessage) ([]QueueSample, error) {
	var samples []QueueSample
	if err := json.Unmarshal(payload, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

// NewMetricsUpdate builds a metrics_update envelope from samples.
// Used by the fallback poller to feed REST snapshots through the
// same dispatch path as live-channel updates.
func NewMetricsUpdate(samples []QueueSample) (Envelope, error) {
	payload, err := json.Marshal(samples)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: TypeMetricsUpdate, Payload: payload}, nil
}

// ToMetrics converts a wire sample into a domain sample.
// Unparseable timestamps leave Timestamp at zero rather than failing
// the whole update.
func (s QueueSample) ToMetrics(receivedAt time.Time) model.QueueMetrics {
	var ts int64
	if t, err := time.Parse(time.RFC3339, s.Timestamp); err == nil {
		ts = t.UnixMicro()
	}
	source := s.Source
	if source == "" {
		source = "ws"
	}
	return model.QueueMetrics{
		QueueName:     s.QueueName,
		Category:      s.Category,
		Timestamp:     ts,
		ReceivedAt:    receivedAt.UnixMicro(),
		MessagesReady: s.MessagesReady,
		ConsumerCount: s.ConsumerCount,
		IncomingRate:  s.IncomingRate,
		ConsumeRate:   s.ConsumeRate,
		Source:        source,
	}
}

// SampleFromMetrics converts a domain sample back to the wire shape.
func SampleFromMetrics(m model.QueueMetrics) QueueSample {
	return QueueSample{
		QueueName:     m.QueueName,
		Category:      m.Category,
		Timestamp:     time.UnixMicro(m.Timestamp).UTC().Format(time.RFC3339),
		MessagesReady: m.MessagesReady,
		ConsumerCount: m.ConsumerCount,
		IncomingRate:  m.IncomingRate,
		ConsumeRate:   m.ConsumeRate,
		Source:        m.Source,
	}
}
