/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the admin-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort             string `mapstructure:"SERVER_PORT"`
	DatabaseURL            string `mapstructure:"DATABASE_URL"`
	RedisURL               string `mapstructure:"REDIS_URL"`
	RedisLockPrefix        string `mapstructure:"REDIS_LOCK_PREFIX"`
	ApprovalLockTTLSeconds int    `mapstructure:"APPROVAL_LOCK_TTL_SECONDS"`
	RabbitMQURL            string `mapstructure:"RABBITMQ_URL"`
	LedgerEventQueue       string `mapstructure:"LEDGER_EVENT_QUEUE"`
	LedgerEventExchange    string `mapstructure:"LEDGER_EVENT_EXCHANGE"`
	PayPalAPIBaseURL       string `mapstructure:"PAYPAL_API_BASE_URL"`
	PayPalClientID         string `mapstructure:"PAYPAL_CLIENT_ID"`
	PayPalClientSecret     string `mapstructure:"PAYPAL_CLIENT_SECRET"`
	PayoutCurrency         string `mapstructure:"PAYOUT_CURRENCY"`
	SimulatePayouts        bool   `mapstructure:"SIMULATE_PAYOUTS"`
	AdminJWKSURL           string `mapstructure:"ADMIN_JWKS_URL"`
	InternalAPIKey         string `mapstructure:"INTERNAL_API_KEY"`
	DefaultRejectionReason string `mapstructure:"DEFAULT_REJECTION_REASON"`
	MinWithdrawalCentavos  int64  `mapstructure:"MIN_WITHDRAWAL_CENTAVOS"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
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
	viper.SetDefault("LEDGER_EVENT_QUEUE", "admin_service.ledger_events")
	viper.SetDefault("LEDGER_EVENT_EXCHANGE", "staynest.events")
	viper.SetDefault("PAYPAL_API_BASE_URL", "https://api-m.sandbox.paypal.com")
	viper.SetDefault("PAYOUT_CURRENCY", "PHP")
	viper.SetDefault("SIMULATE_PAYOUTS", false)
	viper.SetDefault("REDIS_LOCK_PREFIX", "staynest:approval_lock")
	viper.SetDefault("APPROVAL_LOCK_TTL_SECONDS", 30)
	viper.SetDefault("DEFAULT_REJECTION_REASON", "Rejected by admin")
	viper.SetDefault("MIN_WITHDRAWAL_CENTAVOS", 0)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "ADMIN_REDIS_URL")
	_ = viper.BindEnv("REDIS_LOCK_PREFIX")
	_ = viper.BindEnv("APPROVAL_LOCK_TTL_SECONDS")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("LEDGER_EVENT_QUEUE")
	_ = viper.BindEnv("LEDGER_EVENT_EXCHANGE")
	_ = viper.BindEnv("PAYPAL_API_BASE_URL")
	_ = viper.BindEnv("PAYPAL_CLIENT_ID")
	_ = viper.BindEnv("PAYPAL_CLIENT_SECRET")
	_ = viper.BindEnv("PAYOUT_CURRENCY")
	_ = viper.BindEnv("SIMULATE_PAYOUTS", "SIMULATE_PAYOUTS", "PAYOUT_SIMULATE")
	_ = viper.BindEnv("ADMIN_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "ADMIN_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("DEFAULT_REJECTION_REASON")
	_ = viper.BindEnv("MIN_WITHDRAWAL_CENTAVOS")
	_ = viper.BindEnv("MIN_WITHDRAWAL_PESOS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
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
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("ADMIN_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisLockPrefix = strings.TrimSpace(config.RedisLockPrefix)
	if config.RedisLockPrefix == "" {
		config.RedisLockPrefix = "staynest:approval_lock"
	}
	config.PayoutCurrency = strings.ToUpper(strings.TrimSpace(config.PayoutCurrency))
	if config.PayoutCurrency == "" {
		config.PayoutCurrency = "PHP"
	}

	// Allow specifying the minimum in whole pesos via MIN_WITHDRAWAL_PESOS.
	if viper.IsSet("MIN_WITHDRAWAL_PESOS") {
		minStr := strings.TrimSpace(viper.GetString("MIN_WITHDRAWAL_PESOS"))
		if minStr != "" {
			minValue, parseErr := strconv.ParseFloat(minStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid MIN_WITHDRAWAL_PESOS\" value=%q err=%v", minStr, parseErr)
			} else {
				config.MinWithdrawalCentavos = int64(math.Round(minValue * 100))
			}
		}
	}

	if config.MinWithdrawalCentavos < 0 {
		log.Printf("level=warn component=config msg=\"negative minimum withdrawal configured; coercing to zero\" min_centavos=%d", config.MinWithdrawalCentavos)
		config.MinWithdrawalCentavos = 0
	}
	if config.ApprovalLockTTLSeconds <= 0 {
		config.ApprovalLockTTLSeconds = 30
	}

	return
}
