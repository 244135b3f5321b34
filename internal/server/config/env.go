package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/dmitrijs2005/nostr-scheduler/internal/timex"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. NOSTR_SCHED_DATABASE_DSN.
const EnvPrefix = "NOSTR_SCHED"

// dotenvFile is loaded into the environment first when present. Variables
// already set win over the file.
var dotenvFile = ".env"

// parseEnv overlays NOSTR_SCHED_* variables onto config. List values are
// comma separated; durations take a unit ("10s") or are milliseconds.
func parseEnv(config *Config) error {
	if err := godotenv.Load(dotenvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", dotenvFile, err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	list := func(key string, dst *[]string) {
		if v.IsSet(key) {
			*dst = splitList(v.GetString(key))
		}
	}

	str("database_dsn", &config.DatabaseDSN)
	str("http_addr", &config.HTTPAddr)
	str("log_level", &config.LogLevel)
	str("default_api_endpoint", &config.DefaultAPIEndpoint)
	list("default_relays", &config.DefaultRelays)
	str("scheduler_cron", &config.SchedulerCron)
	str("permalink_base", &config.PermalinkBase)
	str("keyring_service", &config.KeyringService)
	str("key_encryption_secret", &config.KeyEncryptionSecret)
	str("api_jwt_secret", &config.APIJWTSecret)
	str("control_jwt_secret", &config.ControlJWTSecret)
	list("mq_relays", &config.MQRelays)
	str("redis_addr", &config.RedisAddr)
	str("redis_password", &config.RedisPassword)
	list("kafka_brokers", &config.KafkaBrokers)
	str("kafka_topic", &config.KafkaTopic)
	str("s3_root_user", &config.S3RootUser)
	str("s3_root_password", &config.S3RootPassword)
	str("s3_bucket", &config.S3Bucket)
	str("s3_region", &config.S3Region)
	str("s3_base_endpoint", &config.S3BaseEndpoint)

	if v.IsSet("pow_difficulty") {
		config.PowDifficulty = v.GetInt("pow_difficulty")
	}
	if v.IsSet("mining_workers") {
		config.MiningWorkers = v.GetInt("mining_workers")
	}
	if v.IsSet("redis_db") {
		config.RedisDB = v.GetInt("redis_db")
	}
	dur := func(key string, dst *time.Duration) error {
		if !v.IsSet(key) {
			return nil
		}
		d, err := timex.Parse(v.GetString(key))
		if err != nil {
			return fmt.Errorf("%s_%s: %w", EnvPrefix, strings.ToUpper(key), err)
		}
		*dst = d
		return nil
	}
	if err := dur("publish_timeout", &config.PublishTimeout); err != nil {
		return err
	}
	return dur("signing_interval", &config.SigningInterval)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
