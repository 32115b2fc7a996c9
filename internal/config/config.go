package config

import (
	"errors"
	"fmt"
	"time"

	"groupmilestones/internal/progress"
	"groupmilestones/pkg/config"
)

type SnapshotConfig struct {
	RetryCounterTTL time.Duration `yaml:"retry_counter_ttl"`
}

type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

type Config struct {
	Debug    bool                `yaml:"debug"`
	DB       config.DBConfig     `yaml:"db"`
	MQ       config.MQConfig     `yaml:"mq"`
	Redis    config.RedisConfig  `yaml:"redis"`
	JWT      config.JWTConfig    `yaml:"jwt"`
	Server   config.ServerConfig `yaml:"server"`
	Engine   progress.Config     `yaml:"engine"`
	Snapshot SnapshotConfig      `yaml:"snapshot"`
	Outbox   OutboxConfig        `yaml:"outbox"`
}

// Load reads config/base.yaml plus the CONFIG_ENV overlay, then applies
// environment overrides (highest priority).
func Load() (*Config, error) {
	// 使用统一配置中心
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")
	return LoadFrom(env, configDir)
}

func LoadFrom(env, configDir string) (*Config, error) {
	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := Config{Engine: progress.DefaultConfig()}
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	defaults := progress.DefaultConfig()
	if c.Engine.DefaultTotalLevel <= 0 {
		c.Engine.DefaultTotalLevel = defaults.DefaultTotalLevel
	}
	if c.Engine.DefaultKillCount <= 0 {
		c.Engine.DefaultKillCount = defaults.DefaultKillCount
	}
	if c.Engine.FinishedQuestStatus == "" {
		c.Engine.FinishedQuestStatus = defaults.FinishedQuestStatus
	}
	if c.MQ.Queue == "" {
		c.MQ.Queue = "member.snapshot.q"
	}
	if c.MQ.RoutingKey == "" {
		c.MQ.RoutingKey = "member.snapshot"
	}
	if c.MQ.MaxRetries <= 0 {
		c.MQ.MaxRetries = 5
	}
	if c.Redis.DedupTTL <= 0 {
		c.Redis.DedupTTL = 24 * time.Hour
	}
	if c.Snapshot.RetryCounterTTL <= 0 {
		c.Snapshot.RetryCounterTTL = time.Hour
	}
	if c.Outbox.Interval <= 0 {
		c.Outbox.Interval = time.Second
	}
	if c.Outbox.BatchSize <= 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Outbox.MaxRetries <= 0 {
		c.Outbox.MaxRetries = 5
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret must be set")
	}
	return nil
}
