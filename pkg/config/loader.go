package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/app/configs")

	viper.SetEnvPrefix("CSMS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Allow common env vars without the CSMS_ prefix for Docker/VM deploys
	viper.BindEnv("http.port", "HTTP_PORT", "CSMS_HTTP_PORT")
	viper.BindEnv("database.url", "DATABASE_URL", "CSMS_DATABASE_URL")
	viper.BindEnv("redis.url", "REDIS_URL", "CSMS_REDIS_URL")
	viper.BindEnv("nats.url", "NATS_URL", "CSMS_NATS_URL")
	viper.BindEnv("logging.level", "LOG_LEVEL")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file: env vars and defaults only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("http.port", 8080)
	viper.SetDefault("ocpp.json_port", 8887)
	viper.SetDefault("ocpp.soap_port", 8888)
	viper.SetDefault("ocpp.heartbeat_interval_ocpps_secs", 300)
	viper.SetDefault("ocpp.heartbeat_interval_ocppj_secs", 3600)
	viper.SetDefault("ocpp.boot_reject_retry_secs", 600)
	viper.SetDefault("ocpp.max_last_seen_interval_secs", 540)
	viper.SetDefault("ocpp.post_boot_config_delay", 3*time.Second)
	viper.SetDefault("ocpp.smart_charging_delay", 5*time.Second)
	viper.SetDefault("ocpp.per_call_timeout", 10*time.Second)
	viper.SetDefault("ocpp.notifications.end_of_charge_enabled", true)
	viper.SetDefault("ocpp.notifications.before_end_of_charge_enabled", false)
	viper.SetDefault("ocpp.notifications.before_end_of_charge_percent", 85)
	viper.SetDefault("ocpp.notifications.end_of_charge_min_amps_per_phase", 6.0)
	viper.SetDefault("ocpp.inactivity_warn_secs", 1800)
	viper.SetDefault("ocpp.inactivity_error_secs", 3600)
	viper.SetDefault("pricing.price_per_kwh", 0.30)
	viper.SetDefault("pricing.currency", "EUR")
	viper.SetDefault("pricing.rounding_scale", 2)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("roaming.timeout", 10*time.Second)
}
