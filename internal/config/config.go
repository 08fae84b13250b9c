package config

import "time"

// FeedConfig is the root configuration for a feed instance.
type FeedConfig struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Backend     BackendConfig     `yaml:"backend"`
	Database    DatabaseConfig    `yaml:"database"`
	Connection  ConnectionConfig  `yaml:"connection"`
	Fallback    FallbackConfig    `yaml:"fallback"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Writer      WriterConfig      `yaml:"writer"`
	Health      HealthConfig      `yaml:"health"`
}

// InstanceConfig identifies this feed instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// BackendConfig holds monitoring backend endpoints.
type BackendConfig struct {
	RestURL    string        `yaml:"rest_url"`
	WSURL      string        `yaml:"ws_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// DatabaseConfig holds the TimescaleDB connection for archived metrics.
type DatabaseConfig struct {
	Timescale DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// ConnectionConfig holds live channel settings.
type ConnectionConfig struct {
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	CloseOnStale         bool          `yaml:"close_on_stale"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	BufferSize           int           `yaml:"buffer_size"`
}

// FallbackConfig holds fallback poller settings.
type FallbackConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CoordinatorConfig holds transport coordinator settings.
type CoordinatorConfig struct {
	GraceWindow        time.Duration `yaml:"grace_window"`
	DisableResubscribe bool          `yaml:"disable_resubscribe"`
}

// WriterConfig holds metrics archiver settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// HealthConfig holds the local health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}
