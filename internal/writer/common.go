package writer

import "time"

// WriterConfig holds batching parameters shared by writers.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: 1 * time.Second,
		BufferSize:    5000,
	}
}

// WriterMetrics tracks writer activity.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Dropped   int64
	Flushes   int64
}

// metricsRow is the database representation of a queue metrics sample.
type metricsRow struct {
	QueueName     string
	Category      string
	Timestamp     int64 // microseconds since epoch
	ReceivedAt    int64 // microseconds since epoch
	MessagesReady int
	ConsumerCount int
	IncomingRate  float64
	ConsumeRate   float64
	Source        string
}
