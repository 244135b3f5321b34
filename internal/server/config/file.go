package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/nostr-scheduler/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of a config file, JSON or YAML. Durations
// accept "30s" as well as integer milliseconds. Absent fields keep their
// current value.
type FileConfig struct {
	DatabaseDSN         string         `json:"database_dsn" yaml:"database_dsn"`
	HTTPAddr            string         `json:"http_addr" yaml:"http_addr"`
	LogLevel            string         `json:"log_level" yaml:"log_level"`
	PowDifficulty       *int           `json:"pow_difficulty" yaml:"pow_difficulty"`
	MiningWorkers       int            `json:"mining_workers" yaml:"mining_workers"`
	PublishTimeout      timex.Duration `json:"publish_timeout" yaml:"publish_timeout"`
	DefaultAPIEndpoint  string         `json:"default_api_endpoint" yaml:"default_api_endpoint"`
	DefaultRelays       []string       `json:"default_relays" yaml:"default_relays"`
	SchedulerCron       string         `json:"scheduler_cron" yaml:"scheduler_cron"`
	SigningInterval     timex.Duration `json:"signing_interval" yaml:"signing_interval"`
	PermalinkBase       string         `json:"permalink_base" yaml:"permalink_base"`
	KeyringService      string         `json:"keyring_service" yaml:"keyring_service"`
	KeyEncryptionSecret string         `json:"key_encryption_secret" yaml:"key_encryption_secret"`
	APIJWTSecret        string         `json:"api_jwt_secret" yaml:"api_jwt_secret"`
	ControlJWTSecret    string         `json:"control_jwt_secret" yaml:"control_jwt_secret"`
	MQRelays            []string       `json:"mq_relays" yaml:"mq_relays"`
	RedisAddr           string         `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword       string         `json:"redis_password" yaml:"redis_password"`
	RedisDB             int            `json:"redis_db" yaml:"redis_db"`
	KafkaBrokers        []string       `json:"kafka_brokers" yaml:"kafka_brokers"`
	KafkaTopic          string         `json:"kafka_topic" yaml:"kafka_topic"`
	S3RootUser          string         `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword      string         `json:"s3_root_password" yaml:"s3_root_password"`
	S3Bucket            string         `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region            string         `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint      string         `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
}

// parseFile overlays the file at path onto config. An empty path is a no-op.
// .yaml and .yml files are read as YAML, anything else as JSON.
func parseFile(config *Config, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	c := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	c.apply(config)
	return nil
}

func (c *FileConfig) apply(config *Config) {
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.LogLevel, c.LogLevel)
	if c.PowDifficulty != nil {
		config.PowDifficulty = *c.PowDifficulty
	}
	if c.MiningWorkers != 0 {
		config.MiningWorkers = c.MiningWorkers
	}
	if c.PublishTimeout.Duration != 0 {
		config.PublishTimeout = c.PublishTimeout.Duration
	}
	setString(&config.DefaultAPIEndpoint, c.DefaultAPIEndpoint)
	if c.DefaultRelays != nil {
		config.DefaultRelays = c.DefaultRelays
	}
	setString(&config.SchedulerCron, c.SchedulerCron)
	if c.SigningInterval.Duration != 0 {
		config.SigningInterval = c.SigningInterval.Duration
	}
	setString(&config.PermalinkBase, c.PermalinkBase)
	setString(&config.KeyringService, c.KeyringService)
	setString(&config.KeyEncryptionSecret, c.KeyEncryptionSecret)
	setString(&config.APIJWTSecret, c.APIJWTSecret)
	setString(&config.ControlJWTSecret, c.ControlJWTSecret)
	if c.MQRelays != nil {
		config.MQRelays = c.MQRelays
	}
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.RedisPassword, c.RedisPassword)
	if c.RedisDB != 0 {
		config.RedisDB = c.RedisDB
	}
	if c.KafkaBrokers != nil {
		config.KafkaBrokers = c.KafkaBrokers
	}
	setString(&config.KafkaTopic, c.KafkaTopic)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
