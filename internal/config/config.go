// Package config loads process configuration from the environment,
// binding every key spec.md §6 names plus the additional ambient keys
// SPEC_FULL.md §6 adds to wire concrete collaborators. It replaces the
// teacher's global viper singleton with a struct returned from Load and
// injected at process start, per the §9 design note on global clients.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved process configuration.
type Config struct {
	// Metadata store
	TenantMetadataTable  string
	ReplicaMetadataTable string
	SchemaMetadataTable  string
	TenantNameIndex      string
	DynamoEndpoint       string

	// ConfigFile, if set, is an optional YAML or TOML file of overrides for the
	// subset of tunables below that are safe to live-reload. See
	// ApplyFileOverrides and Watcher.
	ConfigFile string

	// Hot cache
	EFSMountDir         string
	RehydrationFunction string

	// mu guards the fields Watcher reloads from ConfigFile at runtime.
	mu                 sync.RWMutex
	ColdThresholdHours float64

	// Replication bus
	SNSTopicARN string

	// Migration queue
	MigrationQueueURL string

	// Schema artifact storage: the bucket(s) the canonical schema
	// artifact (not any per-tenant database file) lives in, used only by
	// the migrate-schema coordinator path (C8).
	SchemaArtifactBucket        string
	SchemaArtifactStandbyBucket string

	// Replication queue: the SQS queue subscribed to SNS_TOPIC_ARN that
	// the fan-out worker (C6) actually polls.
	ReplicationQueueURL string

	// Redis query cache
	RedisEnabled          bool
	RedisHost             string
	RedisPort             int
	RedisTLS              bool
	RedisAuthToken        string
	RedisTTLSeconds       int
	RedisConnectTimeoutMs int
	RedisSocketTimeoutMs  int
	RedisMaxValueBytes    int

	// Regions / object store
	AWSRegion        string
	AWSStandbyRegion string

	// Process
	HTTPListenAddr string
	ScratchDir     string
	LogLevel       string
	LogFile        string
}

// ColdThreshold returns the idle threshold as a time.Duration. Guarded by
// mu since Watcher may replace ColdThresholdHours from a reloaded
// ConfigFile concurrently with the demotion ticker reading it.
func (c *Config) ColdThreshold() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.ColdThresholdHours * float64(time.Hour))
}

// Load reads configuration from the environment via viper's
// AutomaticEnv/BindEnv machinery (the teacher's own configuration
// library), applying the defaults spec.md documents.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	keys := []string{
		"TENANT_METADATA_TABLE", "REPLICA_METADATA_TABLE", "SCHEMA_METADATA_TABLE",
		"TENANT_NAME_INDEX", "EFS_MOUNT_DIR", "REHYDRATION_FUNCTION_NAME", "CONFIG_FILE",
		"COLD_THRESHOLD_HOURS", "SNS_TOPIC_ARN", "MIGRATION_QUEUE_URL", "REPLICATION_QUEUE_URL",
		"SCHEMA_ARTIFACT_BUCKET", "SCHEMA_ARTIFACT_STANDBY_BUCKET",
		"REDIS_ENABLED", "REDIS_HOST", "REDIS_PORT", "REDIS_TLS", "REDIS_AUTH_TOKEN",
		"REDIS_TTL_SECONDS", "REDIS_CONNECT_TIMEOUT_MS", "REDIS_SOCKET_TIMEOUT_MS",
		"REDIS_MAX_VALUE_BYTES", "AWS_REGION", "AWS_STANDBY_REGION", "DYNAMO_ENDPOINT",
		"HTTP_LISTEN_ADDR", "SCRATCH_DIR", "LOG_LEVEL", "LOG_FILE",
	}
	for _, k := range keys {
		_ = v.BindEnv(k, k)
	}

	v.SetDefault("COLD_THRESHOLD_HOURS", 24.0)
	v.SetDefault("LOG_LEVEL", "info")

	// A YAML or TOML config file only supplies defaults, replacing the two
	// built-in ones above; any environment variable bound above still wins,
	// matching the teacher's precedence of explicit env over file-derived
	// settings.
	if path := v.GetString("CONFIG_FILE"); path != "" {
		overrides, err := decodeOverridesFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read CONFIG_FILE %s: %w", path, err)
		}
		if overrides.ColdThresholdHours != nil {
			v.SetDefault("COLD_THRESHOLD_HOURS", *overrides.ColdThresholdHours)
		}
		if overrides.LogLevel != nil {
			v.SetDefault("LOG_LEVEL", *overrides.LogLevel)
		}
	}

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_TTL_SECONDS", 60)
	v.SetDefault("REDIS_CONNECT_TIMEOUT_MS", 50)
	v.SetDefault("REDIS_SOCKET_TIMEOUT_MS", 50)
	v.SetDefault("REDIS_MAX_VALUE_BYTES", 1<<20) // 1 MiB
	v.SetDefault("HTTP_LISTEN_ADDR", ":8080")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("AWS_STANDBY_REGION", "us-west-2")

	cfg := &Config{
		TenantMetadataTable:   v.GetString("TENANT_METADATA_TABLE"),
		ReplicaMetadataTable:  v.GetString("REPLICA_METADATA_TABLE"),
		SchemaMetadataTable:   v.GetString("SCHEMA_METADATA_TABLE"),
		TenantNameIndex:       v.GetString("TENANT_NAME_INDEX"),
		DynamoEndpoint:        v.GetString("DYNAMO_ENDPOINT"),
		ConfigFile:            v.GetString("CONFIG_FILE"),
		EFSMountDir:           v.GetString("EFS_MOUNT_DIR"),
		RehydrationFunction:   v.GetString("REHYDRATION_FUNCTION_NAME"),
		ColdThresholdHours:    v.GetFloat64("COLD_THRESHOLD_HOURS"),
		SNSTopicARN:           v.GetString("SNS_TOPIC_ARN"),
		MigrationQueueURL:     v.GetString("MIGRATION_QUEUE_URL"),
		ReplicationQueueURL:   v.GetString("REPLICATION_QUEUE_URL"),
		SchemaArtifactBucket:        v.GetString("SCHEMA_ARTIFACT_BUCKET"),
		SchemaArtifactStandbyBucket: v.GetString("SCHEMA_ARTIFACT_STANDBY_BUCKET"),
		RedisEnabled:          v.GetBool("REDIS_ENABLED"),
		RedisHost:             v.GetString("REDIS_HOST"),
		RedisPort:             v.GetInt("REDIS_PORT"),
		RedisTLS:              v.GetBool("REDIS_TLS"),
		RedisAuthToken:        v.GetString("REDIS_AUTH_TOKEN"),
		RedisTTLSeconds:       v.GetInt("REDIS_TTL_SECONDS"),
		RedisConnectTimeoutMs: v.GetInt("REDIS_CONNECT_TIMEOUT_MS"),
		RedisSocketTimeoutMs:  v.GetInt("REDIS_SOCKET_TIMEOUT_MS"),
		RedisMaxValueBytes:    v.GetInt("REDIS_MAX_VALUE_BYTES"),
		AWSRegion:             v.GetString("AWS_REGION"),
		AWSStandbyRegion:      v.GetString("AWS_STANDBY_REGION"),
		HTTPListenAddr:        v.GetString("HTTP_LISTEN_ADDR"),
		ScratchDir:            v.GetString("SCRATCH_DIR"),
		LogLevel:              v.GetString("LOG_LEVEL"),
		LogFile:               v.GetString("LOG_FILE"),
	}

	if cfg.EFSMountDir == "" {
		return nil, fmt.Errorf("config: EFS_MOUNT_DIR is required")
	}

	return cfg, nil
}
