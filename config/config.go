package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"qrpay/utils"
)

// Default configuration values
const (
	DefaultPort            = "3000"
	DefaultDataDir         = "./data"
	DefaultTransactionsDir = "./data/transactions"
	DefaultReceiptsDir     = "./data/receipts"
	DefaultExchangeName    = "qrpay.events"

	DefaultInitialPollDelaySeconds = 120
	DefaultPollIntervalSeconds     = 30
	DefaultCountdownTickMs         = 1000
	DefaultPaymentWindowMinutes    = 15
)

// AppConfig holds the application configuration.
type AppConfig struct {
	Port            string `json:"port"`
	DataDir         string `json:"dataDir"`
	TransactionsDir string `json:"transactionsDir"`
	ReceiptsDir     string `json:"receiptsDir"`

	StripeSecretKey string `json:"stripeSecretKey"`
	StripeProductID string `json:"stripeProductId"`

	// RabbitURL enables the AMQP admin notifier when set
	RabbitURL    string `json:"rabbitUrl"`
	ExchangeName string `json:"exchangeName"`

	// Confirmation schedule
	InitialPollDelaySeconds int `json:"initialPollDelaySeconds"`
	PollIntervalSeconds     int `json:"pollIntervalSeconds"`
	CountdownTickMs         int `json:"countdownTickMs"`
	// PaymentWindowMinutes is the validity window stamped on generated codes
	PaymentWindowMinutes int `json:"paymentWindowMinutes"`
}

// Config is the loaded application configuration.
var Config AppConfig

// Load reads the configuration from file, creating one with defaults if
// it does not exist, then applies environment overrides. A .env file in
// the working directory is honored.
func Load() error {
	// Best effort: absence of a .env file is not an error.
	_ = godotenv.Load()

	configPath := filepath.Join(DefaultDataDir, "config.json")

	if err := os.MkdirAll(DefaultDataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		Config = defaults()
		if err := save(configPath); err != nil {
			return fmt.Errorf("error writing default configuration: %w", err)
		}
		utils.Info("config", "Created default configuration file", "path", configPath)
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("error reading configuration file: %w", err)
		}
		if err := json.Unmarshal(data, &Config); err != nil {
			return fmt.Errorf("error parsing configuration file: %w", err)
		}
	}

	applyFallbacks()
	applyEnvOverrides()
	return nil
}

func defaults() AppConfig {
	return AppConfig{
		Port:                    DefaultPort,
		DataDir:                 DefaultDataDir,
		TransactionsDir:         DefaultTransactionsDir,
		ReceiptsDir:             DefaultReceiptsDir,
		ExchangeName:            DefaultExchangeName,
		InitialPollDelaySeconds: DefaultInitialPollDelaySeconds,
		PollIntervalSeconds:     DefaultPollIntervalSeconds,
		CountdownTickMs:         DefaultCountdownTickMs,
		PaymentWindowMinutes:    DefaultPaymentWindowMinutes,
	}
}

// applyFallbacks fills critical values an edited config file may have
// left empty.
func applyFallbacks() {
	if Config.Port == "" {
		Config.Port = DefaultPort
	}
	if Config.DataDir == "" {
		Config.DataDir = DefaultDataDir
	}
	if Config.TransactionsDir == "" {
		Config.TransactionsDir = DefaultTransactionsDir
	}
	if Config.ReceiptsDir == "" {
		Config.ReceiptsDir = DefaultReceiptsDir
	}
	if Config.ExchangeName == "" {
		Config.ExchangeName = DefaultExchangeName
	}
	if Config.InitialPollDelaySeconds <= 0 {
		Config.InitialPollDelaySeconds = DefaultInitialPollDelaySeconds
	}
	if Config.PollIntervalSeconds <= 0 {
		Config.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	if Config.CountdownTickMs <= 0 {
		Config.CountdownTickMs = DefaultCountdownTickMs
	}
	if Config.PaymentWindowMinutes <= 0 {
		Config.PaymentWindowMinutes = DefaultPaymentWindowMinutes
	}
}

func applyEnvOverrides() {
	if key := os.Getenv("STRIPE_SECRET_KEY"); key != "" && key != Config.StripeSecretKey {
		utils.Info("config", "Using environment variable for Stripe Secret Key (overrides config file)")
		Config.StripeSecretKey = key
	}
	if url := os.Getenv("RABBITMQ_URL"); url != "" {
		Config.RabbitURL = url
	}
	if port := os.Getenv("PORT"); port != "" {
		Config.Port = port
	}
}

func save(path string) error {
	jsonData, err := json.MarshalIndent(Config, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshalling configuration: %w", err)
	}
	if err := os.WriteFile(path, jsonData, 0600); err != nil {
		return fmt.Errorf("error writing configuration file: %w", err)
	}
	return nil
}

// GetStripeKey returns the Stripe API key, checking environment variable first
func GetStripeKey() string {
	if envKey := os.Getenv("STRIPE_SECRET_KEY"); envKey != "" {
		return envKey
	}
	return Config.StripeSecretKey
}

// InitialPollDelay returns the delay before the first status check.
func InitialPollDelay() time.Duration {
	return time.Duration(Config.InitialPollDelaySeconds) * time.Second
}

// PollInterval returns the spacing of subsequent status checks.
func PollInterval() time.Duration {
	return time.Duration(Config.PollIntervalSeconds) * time.Second
}

// CountdownTick returns the countdown granularity.
func CountdownTick() time.Duration {
	return time.Duration(Config.CountdownTickMs) * time.Millisecond
}

// PaymentWindow returns the validity window for generated codes.
func PaymentWindow() time.Duration {
	return time.Duration(Config.PaymentWindowMinutes) * time.Minute
}
