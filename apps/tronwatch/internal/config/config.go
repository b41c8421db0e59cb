package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

type Config struct {
	StoreBackend string
	DbURL        string

	TronGridURL    string
	TronGridAPIKey string
	TronNetwork    string

	KafkaBroker string
	KafkaTopic  string
	APIPort     int
	LogLevel    string

	SpecialOfferAddress  string
	SpecialOfferPrice    decimal.Decimal
	EnergySmartAddress   string
	EnergySmartPrice     decimal.Decimal
	EnergySmartPriceUSDT decimal.Decimal

	KuaizuAPIKey           string
	KuaizuBalanceThreshold decimal.Decimal
	BalanceCheckInterval   time.Duration
	AdminChatID            int64

	AddressPollInterval time.Duration
	AddressPause        time.Duration
	PaymentPollInterval time.Duration
	PublishInterval     time.Duration

	FulfillmentMaxAttempts int
	FulfillmentBaseDelay   time.Duration
}

// NewConfig loads configuration from the environment, reading .env first when present.
func NewConfig() (*Config, error) {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg := &Config{
		StoreBackend:   getEnvOrDefault("STORE_BACKEND", StoreBackendPostgres),
		DbURL:          os.Getenv("DB_URL"),
		TronNetwork:    strings.ToLower(getEnvOrDefault("TRON_NETWORK", "mainnet")),
		TronGridAPIKey: os.Getenv("TRONGRID_API_KEY"),
		KafkaBroker:    os.Getenv("KAFKA_BROKER"),
		KafkaTopic:     getEnvOrDefault("KAFKA_TOPIC", "tronwatch-notifications"),
		APIPort:        getEnvInt("API_PORT", 8080),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),

		SpecialOfferAddress:  os.Getenv("SPECIAL_OFFER_ADDRESS"),
		SpecialOfferPrice:    getEnvDecimal("SPECIAL_OFFER_PRICE", decimal.NewFromInt(3)),
		EnergySmartAddress:   os.Getenv("ENERGY_SMART_ADDRESS"),
		EnergySmartPrice:     getEnvDecimal("ENERGY_SMART_PRICE", decimal.NewFromInt(3)),
		EnergySmartPriceUSDT: getEnvDecimal("ENERGY_SMART_PRICE_USDT", decimal.RequireFromString("0.9")),

		KuaizuAPIKey:           os.Getenv("KUAZU_API_KEY"),
		KuaizuBalanceThreshold: getEnvDecimal("KUAZU_BALANCE_THRESHOLD", decimal.NewFromInt(20)),
		BalanceCheckInterval:   getEnvDuration("BALANCE_CHECK_INTERVAL", 15*time.Minute),
		AdminChatID:            getEnvInt64("ADMIN_CHAT_ID", 0),

		AddressPollInterval: getEnvDuration("ADDRESS_POLL_INTERVAL", 6*time.Second),
		AddressPause:        getEnvDuration("ADDRESS_PAUSE", time.Second),
		PaymentPollInterval: getEnvDuration("PAYMENT_POLL_INTERVAL", 3*time.Second),
		PublishInterval:     getEnvDuration("PUBLISH_INTERVAL", time.Second),

		FulfillmentMaxAttempts: getEnvInt("FULFILLMENT_MAX_ATTEMPTS", 3),
		FulfillmentBaseDelay:   getEnvDuration("FULFILLMENT_BASE_DELAY", 2*time.Second),
	}
	cfg.TronGridURL = getEnvOrDefault("TRONGRID_URL", defaultTronGridURL(cfg.TronNetwork))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreBackendPostgres:
		if c.DbURL == "" {
			return fmt.Errorf("DB_URL is required for the %s store", StoreBackendPostgres)
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.FulfillmentMaxAttempts < 1 {
		return fmt.Errorf("FULFILLMENT_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// IsTestnet reports whether vendor calls should be simulated.
func (c *Config) IsTestnet() bool {
	return c.TronNetwork != "mainnet"
}

// PaymentAddresses maps every collection address to the currencies it accepts.
func (c *Config) PaymentAddresses() map[string][]string {
	out := make(map[string][]string)
	add := func(address string, currencies ...string) {
		if address == "" {
			return
		}
		for _, cur := range currencies {
			if !contains(out[address], cur) {
				out[address] = append(out[address], cur)
			}
		}
	}
	add(c.SpecialOfferAddress, "TRX")
	add(c.EnergySmartAddress, "TRX", "USDT")
	return out
}

func defaultTronGridURL(network string) string {
	if network == "shasta" || network == "testnet" {
		return "https://api.shasta.trongrid.io"
	}
	return "https://api.trongrid.io"
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if parsed, err := decimal.NewFromString(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
