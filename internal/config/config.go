package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v10"
)

// Env представляет окружение приложения
type Env string

const (
	// EnvLocal - локальное окружение (для разработки на хосте)
	EnvLocal Env = "local"
	// EnvDocker - Docker окружение (для запуска в контейнерах)
	EnvDocker Env = "docker"
)

// Config содержит конфигурацию POS Terminal Service.
// Парсится из переменных окружения пакетом caarlos0/env/v10
type Config struct {
	AppEnv   Env    `env:"APP_ENV" envDefault:"local"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:"127.0.0.1:8080"`

	// Идентификаторы кассы в протоколе терминала
	SaleID string `env:"POS_SALE_ID" envDefault:"SALE_ID_POS_42"`
	POIID  string `env:"POS_POI_ID"`

	// Terminal API — синхронный endpoint платёжного терминала
	TerminalAPIEndpoint string `env:"TERMINAL_API_ENDPOINT" envDefault:"https://checkout-test.adyen.com/checkout/possdk/v68"`
	TerminalAPIKey      string `env:"TERMINAL_API_KEY"`

	// HMACKey — hex-ключ проверки подписи webhook-событий
	HMACKey string `env:"POS_HMAC_KEY"`

	// Kafka — публикация событий смены статуса оплаты.
	// Пустой список брокеров переключает приложение на no-op publisher
	KafkaBrokers           []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaPaymentEventTopic string   `env:"KAFKA_PAYMENT_EVENTS_TOPIC" envDefault:"pos.payment.status"`

	// OpenTelemetry
	OTELEnabled       bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint      string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"127.0.0.1:4317"`
	OTELSamplingRatio float64 `env:"OTEL_SAMPLING_RATIO" envDefault:"1.0"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// Load загружает конфигурацию из переменных окружения и валидирует её
func Load() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate проверяет корректность конфигурации
func (c Config) Validate() error {
	if c.AppEnv != EnvLocal && c.AppEnv != EnvDocker {
		return fmt.Errorf("invalid APP_ENV: %s (must be 'local' or 'docker')", c.AppEnv)
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR is required")
	}
	if c.POIID == "" {
		return fmt.Errorf("POS_POI_ID is required")
	}
	if c.TerminalAPIEndpoint == "" {
		return fmt.Errorf("TERMINAL_API_ENDPOINT is required")
	}
	if c.TerminalAPIKey == "" {
		return fmt.Errorf("TERMINAL_API_KEY is required")
	}
	if c.HMACKey == "" {
		return fmt.Errorf("POS_HMAC_KEY is required")
	}
	if c.OTELSamplingRatio < 0 || c.OTELSamplingRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATIO must be in [0, 1]")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

// Log выводит конфигурацию в лог (с маскировкой секретов)
func (c Config) Log() {
	log.Printf("Config loaded:")
	log.Printf("  APP_ENV: %s", c.AppEnv)
	log.Printf("  HTTP_ADDR: %s", c.HTTPAddr)
	log.Printf("  POS_SALE_ID: %s", c.SaleID)
	log.Printf("  POS_POI_ID: %s", c.POIID)
	log.Printf("  TERMINAL_API_ENDPOINT: %s", c.TerminalAPIEndpoint)
	log.Printf("  TERMINAL_API_KEY: %s", maskSecret(c.TerminalAPIKey))
	log.Printf("  POS_HMAC_KEY: %s", maskSecret(c.HMACKey))
	log.Printf("  KAFKA_BROKERS: %v", c.KafkaBrokers)
	log.Printf("  KAFKA_PAYMENT_EVENTS_TOPIC: %s", c.KafkaPaymentEventTopic)
	log.Printf("  OTEL_ENABLED: %t", c.OTELEnabled)
	log.Printf("  SHUTDOWN_TIMEOUT: %s", c.ShutdownTimeout)
}

// maskSecret маскирует секрет для безопасного логирования.
// Показывает первые 4 символа, чтобы можно было сверить ключ без раскрытия
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "***"
	}
	return s[:4] + "***"
}
