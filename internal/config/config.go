/**
 * @description
 * This package handles the configuration management for the relay service.
 * It uses the Viper library to read configuration from environment
 * variables, providing a centralized and straightforward way to manage
 * application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the relay service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	// Chain access
	RPCURL             string `mapstructure:"RPC_URL"`
	ChainID            int64  `mapstructure:"CHAIN_ID"`
	TokenAddress       string `mapstructure:"TOKEN_ADDRESS"`
	RelayerPrivateKey  string `mapstructure:"RELAYER_PRIVATE_KEY"`
	ReceiptWaitSeconds int    `mapstructure:"RECEIPT_WAIT_SECONDS"`

	// Block explorer
	ExplorerAPIBaseURL string `mapstructure:"EXPLORER_API_BASE_URL"`
	ExplorerAPIKey     string `mapstructure:"EXPLORER_API_KEY"`

	// Session key policy defaults applied when the on-chain module is not
	// queried per request.
	SessionSpendingLimit     string `mapstructure:"SESSION_SPENDING_LIMIT"`
	SessionDefaultTTLMinutes int    `mapstructure:"SESSION_DEFAULT_TTL_MINUTES"`

	// Optional infrastructure: each degrades to disabled when unset.
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RelayRateLimitPerMinute int    `mapstructure:"RELAY_RATE_LIMIT_PER_MINUTE"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	InternalAPIKey          string `mapstructure:"INTERNAL_API_KEY"`
	SweepCronSpec           string `mapstructure:"SWEEP_CRON_SPEC"`
	AllowedOrigins          string `mapstructure:"ALLOWED_ORIGINS"`
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to automatically bind environment variables to the
// Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("CHAIN_ID", 11155111) // sepolia
	viper.SetDefault("RECEIPT_WAIT_SECONDS", 90)
	viper.SetDefault("SESSION_SPENDING_LIMIT", "1000000000000000000")
	viper.SetDefault("SESSION_DEFAULT_TTL_MINUTES", 60)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "vault_relay:rate_limit")
	viper.SetDefault("RELAY_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("SWEEP_CRON_SPEC", "@every 10m")
	viper.SetDefault("ALLOWED_ORIGINS", "*")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("RPC_URL")
	_ = viper.BindEnv("CHAIN_ID")
	_ = viper.BindEnv("TOKEN_ADDRESS")
	_ = viper.BindEnv("RELAYER_PRIVATE_KEY")
	_ = viper.BindEnv("RECEIPT_WAIT_SECONDS")
	_ = viper.BindEnv("EXPLORER_API_BASE_URL")
	_ = viper.BindEnv("EXPLORER_API_KEY")
	_ = viper.BindEnv("SESSION_SPENDING_LIMIT")
	_ = viper.BindEnv("SESSION_DEFAULT_TTL_MINUTES")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RELAY_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "RELAY_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("SWEEP_CRON_SPEC")
	_ = viper.BindEnv("ALLOWED_ORIGINS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "vault_relay:rate_limit"
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("RELAY_SERVICE_INTERNAL_API_KEY"))
	}

	if config.ReceiptWaitSeconds <= 0 {
		config.ReceiptWaitSeconds = 90
	}
	if config.SessionDefaultTTLMinutes <= 0 {
		config.SessionDefaultTTLMinutes = 60
	}
	if config.RelayRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative relay rate limit configured; disabling\" limit=%d", config.RelayRateLimitPerMinute)
		config.RelayRateLimitPerMinute = 0
	}
	if strings.TrimSpace(config.SweepCronSpec) == "" {
		config.SweepCronSpec = "@every 10m"
	}

	return
}
