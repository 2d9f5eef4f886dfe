package config

import "time"

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	OCPP     OCPPConfig     `mapstructure:"ocpp"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Roaming  RoamingConfig  `mapstructure:"roaming"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// OCPPConfig carries the knobs the session handler recognizes.
type OCPPConfig struct {
	JSONPort int `mapstructure:"json_port"`
	SOAPPort int `mapstructure:"soap_port"`

	// Heartbeat interval advertised in the BootNotification response,
	// per transport.
	HeartbeatIntervalOCPPSSecs int `mapstructure:"heartbeat_interval_ocpps_secs"`
	HeartbeatIntervalOCPPJSecs int `mapstructure:"heartbeat_interval_ocppj_secs"`
	// Retry interval returned with a Rejected BootNotification.
	BootRejectRetrySecs int `mapstructure:"boot_reject_retry_secs"`
	// Online/offline boundary used in duplicate-identity diagnostics.
	MaxLastSeenIntervalSecs int `mapstructure:"max_last_seen_interval_secs"`

	// Delay before the post-boot configuration push.
	PostBootConfigDelay time.Duration `mapstructure:"post_boot_config_delay"`
	// Delay before smart-charging recomputation after a stop.
	SmartChargingDelay time.Duration `mapstructure:"smart_charging_delay"`
	// Timeout applied to each outbound integration call.
	PerCallTimeout time.Duration `mapstructure:"per_call_timeout"`

	Notifications NotificationsConfig `mapstructure:"notifications"`

	// Inactivity severity thresholds.
	InactivityWarnSecs  int `mapstructure:"inactivity_warn_secs"`
	InactivityErrorSecs int `mapstructure:"inactivity_error_secs"`

	// TemplateFile points at the station template catalog. Empty means
	// built-in defaults only.
	TemplateFile string `mapstructure:"template_file"`
}

type NotificationsConfig struct {
	// EndOfChargeEnabled turns on zero-interval and 100% SoC detection.
	EndOfChargeEnabled bool `mapstructure:"end_of_charge_enabled"`
	// BeforeEndOfChargeEnabled turns on the optimal-charge notification.
	BeforeEndOfChargeEnabled bool `mapstructure:"before_end_of_charge_enabled"`
	// BeforeEndOfChargePercent is the SoC threshold for that notification.
	BeforeEndOfChargePercent int `mapstructure:"before_end_of_charge_percent"`
	// EndOfChargeMinAmpsPerPhase: zero intervals below this profile limit are
	// treated as throttling, not a full battery.
	EndOfChargeMinAmpsPerPhase float64 `mapstructure:"end_of_charge_min_amps_per_phase"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// RoamingConfig points at the CPO/EMSP bridge endpoints.
type RoamingConfig struct {
	OCPIBaseURL string        `mapstructure:"ocpi_base_url"`
	OCPIToken   string        `mapstructure:"ocpi_token"`
	OICPBaseURL string        `mapstructure:"oicp_base_url"`
	OICPToken   string        `mapstructure:"oicp_token"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// PricingConfig drives the built-in flat tariff.
type PricingConfig struct {
	PricePerKWh   float64 `mapstructure:"price_per_kwh"`
	FlatFee       float64 `mapstructure:"flat_fee"`
	Currency      string  `mapstructure:"currency"`
	RoundingScale int     `mapstructure:"rounding_scale"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}
