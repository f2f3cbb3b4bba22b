package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL  string
	RedisURL     string
	NatsURL      string
	KafkaBrokers string
	OTLPEndpoint string
	Port         string

	GatewayBaseURL       string
	GatewayKeyID         string
	GatewayKeySecret     string
	GatewayWebhookSecret string
	GatewayTimeout       time.Duration
}

func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8084"
	}

	otlpEndpoint := os.Getenv("OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "jaeger:4318"
	}

	gatewayBaseURL := os.Getenv("GATEWAY_BASE_URL")
	if gatewayBaseURL == "" {
		gatewayBaseURL = "https://api.razorpay.com"
	}

	timeoutSeconds, err := strconv.Atoi(os.Getenv("GATEWAY_TIMEOUT_SECONDS"))
	if err != nil || timeoutSeconds <= 0 {
		timeoutSeconds = 10
	}

	return &Config{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		NatsURL:      os.Getenv("NATS_URL"),
		KafkaBrokers: os.Getenv("KAFKA_BROKERS"),
		OTLPEndpoint: otlpEndpoint,
		Port:         port,

		GatewayBaseURL:       gatewayBaseURL,
		GatewayKeyID:         os.Getenv("GATEWAY_KEY_ID"),
		GatewayKeySecret:     os.Getenv("GATEWAY_KEY_SECRET"),
		GatewayWebhookSecret: os.Getenv("GATEWAY_WEBHOOK_SECRET"),
		GatewayTimeout:       time.Duration(timeoutSeconds) * time.Second,
	}
}
