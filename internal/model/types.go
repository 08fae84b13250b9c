package model

import "github.com/google/uuid"

// -----------------------------------------------------------------------------
// Queue Metadata
// -----------------------------------------------------------------------------

// QueueInfo describes a monitored queue.
type QueueInfo struct {
	Name         string // Queue name (e.g., "gps.position.updates")
	Category     string // "core" or "support"
	LastActivity int64  // Last observed activity (µs since epoch), 0 if unknown
}

// -----------------------------------------------------------------------------
// Time-Series Types
// -----------------------------------------------------------------------------

// QueueMetrics is a single metrics sample for one queue.
type QueueMetrics struct {
	QueueName     string  // Queue name
	Category      string  // Queue category ("core", "support")
	Timestamp     int64   // Backend sample timestamp (µs since epoch)
	ReceivedAt    int64   // Local receive timestamp (µs since epoch)
	MessagesReady int     // Messages waiting in the queue
	ConsumerCount int     // Attached consumers
	IncomingRate  float64 // Publish rate (msg/s)
	ConsumeRate   float64 // Delivery rate (msg/s)
	Source        string  // "ws" or "rest"
}

// SystemAlert is a threshold alert raised by the monitoring backend.
type SystemAlert struct {
	ID        uuid.UUID // Alert identity (assigned on receipt)
	Severity  string    // "info", "warning", "critical"
	Message   string    // Human-readable description
	QueueName string    // Affected queue, empty for system-wide alerts
	RaisedAt  int64     // Receive timestamp (µs since epoch)
}

// SystemOverview is an aggregate snapshot across all monitored queues.
type SystemOverview struct {
	TotalQueues    int     // Number of monitored queues
	TotalReady     int64   // Sum of messages_ready across queues
	TotalConsumers int     // Sum of consumer counts
	IncomingRate   float64 // Aggregate publish rate (msg/s)
	ConsumeRate    float64 // Aggregate delivery rate (msg/s)
	GeneratedAt    int64   // Backend timestamp (µs since epoch)
}
