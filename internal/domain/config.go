package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Repository RepositoryConfig `koanf:"repository"`
	Cache      CacheConfig      `koanf:"cache"`
	EventBus   EventBusConfig   `koanf:"eventBus"`
	Logging    LoggingConfig    `koanf:"logging"`
	Screening  ScreeningConfig  `koanf:"screening"`
	Fraud      FraudConfig      `koanf:"fraud"`
	RateLimit  RateLimitConfig  `koanf:"rateLimit"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout  int    `koanf:"readTimeout"`  // seconds
	WriteTimeout int    `koanf:"writeTimeout"` // seconds
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`

	// SQLite specific
	SQLitePath string `koanf:"sqlitePath"`

	// PostgreSQL specific; PostgresDSN overrides the individual fields
	PostgresDSN      string `koanf:"postgresDsn"`
	PostgresHost     string `koanf:"postgresHost"`
	PostgresPort     int    `koanf:"postgresPort"`
	PostgresUser     string `koanf:"postgresUser"`
	PostgresPassword string `koanf:"postgresPassword"`
	PostgresDB       string `koanf:"postgresDb"`
	PostgresSSLMode  string `koanf:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `koanf:"maxOpenConns"`
	MaxIdleConns    int           `koanf:"maxIdleConns"`
	ConnMaxLifetime time.Duration `koanf:"connMaxLifetime"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `koanf:"type" validate:"oneof=memory redis"`

	LocalMaxSize int           `koanf:"localMaxSize"`
	LocalTTL     time.Duration `koanf:"localTtl"`

	RedisAddr     string `koanf:"redisAddr"`
	RedisPassword string `koanf:"redisPassword"`
	RedisDB       int    `koanf:"redisDb"`

	// EnableTwoPhase checks the local cache before Redis.
	EnableTwoPhase bool `koanf:"enableTwoPhase"`

	// ProfileTTL bounds how long an enriched customer profile is reused.
	ProfileTTL time.Duration `koanf:"profileTtl"`
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `koanf:"type" validate:"oneof=channel nats"`

	ChannelBufferSize int `koanf:"channelBufferSize"`

	NATSUrl           string `koanf:"natsUrl"`
	NATSToken         string `koanf:"natsToken"`
	NATSMaxReconnects int    `koanf:"natsMaxReconnects"`
	NATSReconnectWait int    `koanf:"natsReconnectWait"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

// AssignmentPolicy decides which rule keeps priority and agent fields when
// several matched rules set them.
type AssignmentPolicy string

const (
	// AssignLastWriterWins lets every later (lower-priority) rule overwrite the field.
	AssignLastWriterWins AssignmentPolicy = "last_writer_wins"

	// AssignFirstWriterWins keeps the value set by the highest-priority rule.
	AssignFirstWriterWins AssignmentPolicy = "first_writer_wins"
)

// ScreeningConfig holds pre-screening settings.
type ScreeningConfig struct {
	AssignmentPolicy AssignmentPolicy `koanf:"assignmentPolicy" validate:"oneof=last_writer_wins first_writer_wins"`
	BatchWorkers     int              `koanf:"batchWorkers"` // 0 means runtime.NumCPU()
	EnrichTimeout    time.Duration    `koanf:"enrichTimeout"`
	PersistResults   bool             `koanf:"persistResults"`
}

// FraudConfig holds fraud detector settings.
type FraudConfig struct {
	AnomalyScorer    string  `koanf:"anomalyScorer" validate:"oneof=device random"`
	AnomalyThreshold float64 `koanf:"anomalyThreshold"`
	MaxJitter        float64 `koanf:"maxJitter"`
}

// RateLimitConfig holds the global HTTP rate limit.
type RateLimitConfig struct {
	Enabled bool    `koanf:"enabled"`
	RPS     float64 `koanf:"rps"`
	Burst   int     `koanf:"burst"`
}

// DefaultConfig returns a single-node configuration: SQLite, in-memory cache, channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ProfileTTL:   5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Screening: ScreeningConfig{
			AssignmentPolicy: AssignLastWriterWins,
			EnrichTimeout:    2 * time.Second,
			PersistResults:   true,
		},
		Fraud: FraudConfig{
			AnomalyScorer:    "device",
			AnomalyThreshold: 0.9,
			MaxJitter:        10,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     500,
			Burst:   1000,
		},
	}
}
