package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/0xmhha/chainsync/internal/constants"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the chain synchronization core.
type Config struct {
	RPC        RPCConfig        `yaml:"rpc"`
	Log        LogConfig        `yaml:"log"`
	ChainSync  ChainSyncConfig  `yaml:"chainsync"`
	MultiChain MultiChainConfig `yaml:"multichain"`
	EventBus   EventBusConfig   `yaml:"eventbus"`
	API        APIConfig        `yaml:"api"`
	Node       NodeConfig       `yaml:"node"`
}

// RPCConfig holds the upstream JSON-RPC client configuration.
type RPCConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Timeout      time.Duration `yaml:"timeout"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
	BurstSize    int           `yaml:"burst_size"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ChainSyncConfig holds the pipeline/poller/supervisor tunables for a
// single chain's synchronization core.
type ChainSyncConfig struct {
	// Network names the chain being synchronized, used in log fields and
	// metric labels.
	Network string `yaml:"network"`
	// Sources is the path to the filter-source configuration file (the
	// set of Filters the pipeline evaluates each block against).
	Sources string `yaml:"sources"`
	// Pipeline holds the reorg-safe pipeline's queue and backoff tuning.
	Pipeline PipelineConfig `yaml:"pipeline"`
	// Poller holds the standalone poller's tick interval.
	Poller PollerConfig `yaml:"poller"`
}

// PipelineConfig tunes the reorg-safe pipeline.
type PipelineConfig struct {
	// MaxQueuedBlocks is the capacity of the pipeline's block queue. The
	// gap-fill fetch burst is bounded by constants.MaxQueuedBlocks, not by
	// this value.
	MaxQueuedBlocks int `yaml:"max_queued_blocks"`
	// FinalityBlockCount is how many confirmations behind head a block
	// must be before it is promoted to finalized.
	FinalityBlockCount uint64 `yaml:"finality_block_count"`
	// ErrorTimeouts is the consecutive-failure backoff schedule, indexed
	// by failure count. A nil/empty value falls back to the built-in
	// schedule in internal/constants. It is defaulted and validated here
	// only: the supervisor and the poller that cmd/chainsync builds use
	// constants.ErrorTimeouts and do not read this value.
	ErrorTimeouts []time.Duration `yaml:"error_timeouts"`
	// FatalThreshold is a consecutive-failure count for fatal promotion.
	// It is defaulted and validated here only: the supervisor and the
	// poller that cmd/chainsync builds use constants.FatalErrorThreshold
	// and do not read this value.
	FatalThreshold int `yaml:"fatal_threshold"`
}

// PollerConfig tunes the standalone height poller.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// MultiChainConfig holds configuration for running more than one chain's
// synchronization core in the same process.
type MultiChainConfig struct {
	// Enabled indicates whether multi-chain mode is active.
	Enabled bool `yaml:"enabled"`
	// Chains is the list of chain configurations.
	Chains []ChainConfig `yaml:"chains"`
	// HealthCheckInterval is how often to check chain health.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	// MaxUnhealthyDuration is how long a chain can be unhealthy before stopping.
	MaxUnhealthyDuration time.Duration `yaml:"max_unhealthy_duration"`
	// AutoRestart indicates whether to automatically restart failed chains.
	AutoRestart bool `yaml:"auto_restart"`
	// AutoRestartDelay is the delay before auto-restarting a failed chain.
	AutoRestartDelay time.Duration `yaml:"auto_restart_delay"`
}

// ChainConfig defines the configuration for a single chain's
// synchronization core within a multi-chain deployment.
type ChainConfig struct {
	// ID is a unique identifier for this chain instance.
	ID string `yaml:"id"`
	// Name is a human-readable name for the chain.
	Name string `yaml:"name"`
	// RPCEndpoint is the HTTP(S) JSON-RPC endpoint URL.
	RPCEndpoint string `yaml:"rpc_endpoint"`
	// ChainID is the numeric chain ID.
	ChainID uint64 `yaml:"chain_id"`
	// Sources is the path to this chain's filter-source configuration.
	Sources string `yaml:"sources"`
	// Enabled indicates whether this chain should be active.
	Enabled bool `yaml:"enabled"`
	// FinalityBlockCount is this chain's finality depth. Zero selects
	// constants.DefaultFinalityBlockCount; ChainSyncConfig.Pipeline's
	// value is not consulted in multi-chain mode.
	FinalityBlockCount uint64 `yaml:"finality_block_count,omitempty"`
	// PollingInterval is this chain's poll interval. Zero selects
	// constants.DefaultPollingInterval; ChainSyncConfig.Poller.Interval is
	// not consulted in multi-chain mode.
	PollingInterval time.Duration `yaml:"polling_interval,omitempty"`
}

// EventBusConfig selects and tunes the downstream event transport that
// the Event Builder's output is published through.
type EventBusConfig struct {
	// Type is the event bus type: "local", "redis", "kafka".
	Type string `yaml:"type"`
	// PublishBufferSize is the size of the publish buffer.
	PublishBufferSize int `yaml:"publish_buffer_size"`
	// HistorySize is the number of events to keep in history for replay.
	HistorySize int `yaml:"history_size"`
	// Redis holds Redis EventBus configuration.
	Redis EventBusRedisConfig `yaml:"redis"`
	// Kafka holds Kafka EventBus configuration.
	Kafka EventBusKafkaConfig `yaml:"kafka"`
}

// EventBusRedisConfig holds Redis Pub/Sub EventBus configuration.
type EventBusRedisConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Addresses     []string      `yaml:"addresses"`
	Password      string        `yaml:"password,omitempty"`
	DB            int           `yaml:"db"`
	PoolSize      int           `yaml:"pool_size"`
	MinIdleConns  int           `yaml:"min_idle_conns"`
	MaxRetries    int           `yaml:"max_retries"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	ChannelPrefix string        `yaml:"channel_prefix"`
	TLS           TLSConfig     `yaml:"tls"`
	ClusterMode   bool          `yaml:"cluster_mode"`
}

// EventBusKafkaConfig holds Kafka EventBus configuration.
type EventBusKafkaConfig struct {
	Enabled          bool      `yaml:"enabled"`
	Brokers          []string  `yaml:"brokers"`
	Topic            string    `yaml:"topic"`
	GroupID          string    `yaml:"group_id"`
	ClientID         string    `yaml:"client_id"`
	SecurityProtocol string    `yaml:"security_protocol"`
	SASLMechanism    string    `yaml:"sasl_mechanism"`
	SASLUsername     string    `yaml:"sasl_username,omitempty"`
	SASLPassword     string    `yaml:"sasl_password,omitempty"`
	BatchSize        int       `yaml:"batch_size"`
	LingerMs         int       `yaml:"linger_ms"`
	Compression      string    `yaml:"compression"`
	RequiredAcks     int       `yaml:"required_acks"`
	TLS              TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS configuration for secure transport connections.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CertFile           string `yaml:"cert_file,omitempty"`
	KeyFile            string `yaml:"key_file,omitempty"`
	CAFile             string `yaml:"ca_file,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	ServerName         string `yaml:"server_name,omitempty"`
}

// APIConfig holds the companion /healthz + /metrics HTTP mux configuration.
// This is deliberately NOT a query API (GraphQL/JSON-RPC/WebSocket query
// surfaces are out of scope); EnableWebSocket only toggles the reference
// event-sink fan-out hub under /ws.
type APIConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	EnableWebSocket bool     `yaml:"enable_websocket"`
	EnableCORS      bool     `yaml:"enable_cors"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

// NodeConfig identifies this process for EventBus client/channel naming.
type NodeConfig struct {
	ID string `yaml:"id"`
}

// NewConfig returns a Config with no fields set; call SetDefaults or Load.
func NewConfig() *Config {
	return &Config{}
}

// SetDefaults sets default values for the configuration.
func (c *Config) SetDefaults() {
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = 10 * time.Second
	}
	if c.RPC.RateLimitRPS == 0 {
		c.RPC.RateLimitRPS = 20
	}
	if c.RPC.BurstSize == 0 {
		c.RPC.BurstSize = 10
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.ChainSync.Network == "" {
		c.ChainSync.Network = "default"
	}
	if c.ChainSync.Pipeline.MaxQueuedBlocks == 0 {
		c.ChainSync.Pipeline.MaxQueuedBlocks = constants.MaxQueuedBlocks
	}
	if c.ChainSync.Pipeline.FinalityBlockCount == 0 {
		c.ChainSync.Pipeline.FinalityBlockCount = constants.DefaultFinalityBlockCount
	}
	if len(c.ChainSync.Pipeline.ErrorTimeouts) == 0 {
		c.ChainSync.Pipeline.ErrorTimeouts = constants.ErrorTimeouts
	}
	if c.ChainSync.Pipeline.FatalThreshold == 0 {
		c.ChainSync.Pipeline.FatalThreshold = constants.FatalErrorThreshold
	}
	if c.ChainSync.Poller.Interval == 0 {
		c.ChainSync.Poller.Interval = constants.DefaultPollingInterval
	}

	if c.MultiChain.HealthCheckInterval == 0 {
		c.MultiChain.HealthCheckInterval = 30 * time.Second
	}
	if c.MultiChain.MaxUnhealthyDuration == 0 {
		c.MultiChain.MaxUnhealthyDuration = 5 * time.Minute
	}
	if c.MultiChain.AutoRestartDelay == 0 {
		c.MultiChain.AutoRestartDelay = 30 * time.Second
	}

	if c.EventBus.Type == "" {
		c.EventBus.Type = "local"
	}
	if c.EventBus.PublishBufferSize == 0 {
		c.EventBus.PublishBufferSize = constants.DefaultEventBufferSize
	}
	if c.EventBus.HistorySize == 0 {
		c.EventBus.HistorySize = constants.DefaultEventHistorySize
	}
	if c.EventBus.Redis.PoolSize == 0 {
		c.EventBus.Redis.PoolSize = 100
	}
	if c.EventBus.Redis.MinIdleConns == 0 {
		c.EventBus.Redis.MinIdleConns = 10
	}
	if c.EventBus.Redis.MaxRetries == 0 {
		c.EventBus.Redis.MaxRetries = 3
	}
	if c.EventBus.Redis.DialTimeout == 0 {
		c.EventBus.Redis.DialTimeout = 5 * time.Second
	}
	if c.EventBus.Redis.ReadTimeout == 0 {
		c.EventBus.Redis.ReadTimeout = 3 * time.Second
	}
	if c.EventBus.Redis.WriteTimeout == 0 {
		c.EventBus.Redis.WriteTimeout = 3 * time.Second
	}
	if c.EventBus.Redis.ChannelPrefix == "" {
		c.EventBus.Redis.ChannelPrefix = "chainsync:events"
	}
	if c.EventBus.Kafka.Topic == "" {
		c.EventBus.Kafka.Topic = "chainsync-events"
	}
	if c.EventBus.Kafka.GroupID == "" {
		c.EventBus.Kafka.GroupID = "chainsync-group"
	}
	if c.EventBus.Kafka.SecurityProtocol == "" {
		c.EventBus.Kafka.SecurityProtocol = "PLAINTEXT"
	}
	if c.EventBus.Kafka.BatchSize == 0 {
		c.EventBus.Kafka.BatchSize = 16384
	}
	if c.EventBus.Kafka.LingerMs == 0 {
		c.EventBus.Kafka.LingerMs = 5
	}
	if c.EventBus.Kafka.Compression == "" {
		c.EventBus.Kafka.Compression = "snappy"
	}
	if c.EventBus.Kafka.RequiredAcks == 0 {
		c.EventBus.Kafka.RequiredAcks = -1 // All replicas
	}

	if c.API.Host == "" {
		c.API.Host = constants.DefaultAPIHost
	}
	if c.API.Port == 0 {
		c.API.Port = constants.DefaultAPIPort
	}
	if c.API.AllowedOrigins == nil {
		c.API.AllowedOrigins = []string{"*"}
	}

	if c.Node.ID == "" {
		hostname, err := os.Hostname()
		if err == nil {
			c.Node.ID = hostname
		} else {
			c.Node.ID = "node-1"
		}
	}
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables take precedence over file configuration.
func (c *Config) LoadFromEnv() error {
	if endpoint := os.Getenv("CHAINSYNC_RPC_ENDPOINT"); endpoint != "" {
		c.RPC.Endpoint = endpoint
	}
	if timeout := os.Getenv("CHAINSYNC_RPC_TIMEOUT"); timeout != "" {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid CHAINSYNC_RPC_TIMEOUT: %w", err)
		}
		c.RPC.Timeout = duration
	}

	if level := os.Getenv("CHAINSYNC_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("CHAINSYNC_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	if network := os.Getenv("CHAINSYNC_NETWORK"); network != "" {
		c.ChainSync.Network = network
	}
	if sources := os.Getenv("CHAINSYNC_SOURCES"); sources != "" {
		c.ChainSync.Sources = sources
	}
	if v := os.Getenv("CHAINSYNC_MAX_QUEUED_BLOCKS"); v != "" {
		val, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CHAINSYNC_MAX_QUEUED_BLOCKS: %w", err)
		}
		c.ChainSync.Pipeline.MaxQueuedBlocks = val
	}
	if v := os.Getenv("CHAINSYNC_FINALITY_BLOCKS"); v != "" {
		val, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid CHAINSYNC_FINALITY_BLOCKS: %w", err)
		}
		c.ChainSync.Pipeline.FinalityBlockCount = val
	}

	if enabled := os.Getenv("CHAINSYNC_API_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid CHAINSYNC_API_ENABLED: %w", err)
		}
		c.API.Enabled = val
	}
	if host := os.Getenv("CHAINSYNC_API_HOST"); host != "" {
		c.API.Host = host
	}
	if port := os.Getenv("CHAINSYNC_API_PORT"); port != "" {
		val, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid CHAINSYNC_API_PORT: %w", err)
		}
		c.API.Port = val
	}
	if origins := os.Getenv("CHAINSYNC_API_ALLOWED_ORIGINS"); origins != "" {
		c.API.AllowedOrigins = strings.Split(origins, ",")
	}

	if busType := os.Getenv("CHAINSYNC_EVENTBUS_TYPE"); busType != "" {
		c.EventBus.Type = busType
	}
	if brokers := os.Getenv("CHAINSYNC_KAFKA_BROKERS"); brokers != "" {
		c.EventBus.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if addrs := os.Getenv("CHAINSYNC_REDIS_ADDRESSES"); addrs != "" {
		c.EventBus.Redis.Addresses = strings.Split(addrs, ",")
	}

	if nodeID := os.Getenv("CHAINSYNC_NODE_ID"); nodeID != "" {
		c.Node.ID = nodeID
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file.
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.RPC.Endpoint == "" && !c.MultiChain.Enabled {
		return fmt.Errorf("RPC endpoint is required")
	}
	if c.RPC.Timeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	if c.ChainSync.Pipeline.MaxQueuedBlocks <= 0 {
		return fmt.Errorf("chainsync max queued blocks must be positive")
	}
	if c.ChainSync.Pipeline.FatalThreshold <= 0 {
		return fmt.Errorf("chainsync fatal threshold must be positive")
	}

	if c.MultiChain.Enabled {
		if len(c.MultiChain.Chains) == 0 {
			return fmt.Errorf("multichain enabled but no chains configured")
		}
		seen := make(map[string]bool, len(c.MultiChain.Chains))
		for _, chain := range c.MultiChain.Chains {
			if chain.ID == "" {
				return fmt.Errorf("chain entry missing id")
			}
			if seen[chain.ID] {
				return fmt.Errorf("duplicate chain id %q", chain.ID)
			}
			seen[chain.ID] = true
			if chain.Enabled && chain.RPCEndpoint == "" {
				return fmt.Errorf("chain %q is enabled but has no rpc_endpoint", chain.ID)
			}
		}
	}

	validEventBusTypes := map[string]bool{
		"local": true,
		"redis": true,
		"kafka": true,
	}
	if !validEventBusTypes[c.EventBus.Type] {
		return fmt.Errorf("invalid eventbus type %q, must be one of: local, redis, kafka", c.EventBus.Type)
	}
	if c.EventBus.PublishBufferSize <= 0 {
		return fmt.Errorf("eventbus publish buffer size must be positive")
	}
	if c.EventBus.HistorySize < 0 {
		return fmt.Errorf("eventbus history size cannot be negative")
	}
	if c.EventBus.Redis.Enabled {
		if len(c.EventBus.Redis.Addresses) == 0 {
			return fmt.Errorf("redis eventbus enabled but no addresses configured")
		}
		if c.EventBus.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis pool size must be positive")
		}
	}
	if c.EventBus.Kafka.Enabled {
		if len(c.EventBus.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka eventbus enabled but no brokers configured")
		}
		if c.EventBus.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka is enabled")
		}
	}

	return nil
}

// Load loads configuration in the following order:
// 1. Load from file (if provided)
// 2. Load from environment variables (override file)
// 3. Set defaults for anything still unset
// 4. Validate
func Load(configFile string) (*Config, error) {
	cfg := NewConfig()

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
