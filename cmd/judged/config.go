package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr       = "0.0.0.0:9090"
	defaultShutdownWindow = 10 * time.Second
)

// RedisConfig holds the distributed-lock Redis connection settings,
// trimmed from the teacher's cache.RedisConfig down to what
// bundlecache.RedisLocker needs.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MinIOConfig holds object storage connection settings, trimmed from the
// teacher's storage.MinIOConfig down to internal/objectstore.Config's
// fields.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
	Bucket    string `yaml:"bucket"`
}

// KafkaConfig holds broker settings plus the three topics this daemon
// speaks: incoming submissions, outgoing status events, and a dead
// letter topic for submissions that repeatedly fail to judge.
type KafkaConfig struct {
	Brokers         []string      `yaml:"brokers"`
	ClientID        string        `yaml:"clientID"`
	SubmissionTopic string        `yaml:"submissionTopic"`
	StatusTopic     string        `yaml:"statusTopic"`
	DeadLetterTopic string        `yaml:"deadLetterTopic"`
	ConsumerGroup   string        `yaml:"consumerGroup"`
	Concurrency     int           `yaml:"concurrency"`
	MaxRetries      int           `yaml:"maxRetries"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
}

// CacheConfig holds the local bundle cache's tunables.
type CacheConfig struct {
	RootDir    string        `yaml:"rootDir"`
	KeyPrefix  string        `yaml:"keyPrefix"`
	LockWait   time.Duration `yaml:"lockWait"`
	MaxEntries int           `yaml:"maxEntries"`
	MaxBytes   int64         `yaml:"maxBytes"`
}

// SandboxConfig sizes the handle pool and names the cgroup root the
// resource controller manages.
type SandboxConfig struct {
	PoolSize  int    `yaml:"poolSize"`
	WorkRoot  string `yaml:"workRoot"`
	CgroupRoot string `yaml:"cgroupRoot"`
}

// LoggerConfig mirrors pkg/utils/logger.Config's fields, except Cluster.
type LoggerConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	OutputPath string `yaml:"outputPath"`
	ErrorPath  string `yaml:"errorPath"`
	Service    string `yaml:"service"`
	Env        string `yaml:"env"`
}

// AppConfig is cmd/judged's full on-disk configuration.
type AppConfig struct {
	HTTPAddr string        `yaml:"httpAddr"`
	Logger   LoggerConfig  `yaml:"logger"`
	Redis    RedisConfig   `yaml:"redis"`
	MinIO    MinIOConfig   `yaml:"minio"`
	Kafka    KafkaConfig   `yaml:"kafka"`
	Cache    CacheConfig   `yaml:"cache"`
	Sandbox  SandboxConfig `yaml:"sandbox"`
	Language string        `yaml:"languageTable"` // path to the language table YAML
}

func loadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}

	if cfg.MinIO.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Kafka.SubmissionTopic == "" {
		cfg.Kafka.SubmissionTopic = "judge.submissions"
	}
	if cfg.Kafka.StatusTopic == "" {
		cfg.Kafka.StatusTopic = "judge.status"
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "judged"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	if cfg.Sandbox.PoolSize <= 0 {
		cfg.Sandbox.PoolSize = 4
	}
	if cfg.Sandbox.WorkRoot == "" {
		return nil, fmt.Errorf("sandbox workRoot is required")
	}
	if cfg.Language == "" {
		return nil, fmt.Errorf("languageTable path is required")
	}
	return &cfg, nil
}
