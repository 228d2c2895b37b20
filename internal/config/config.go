package config

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Params struct {
	ServerAddr    string
	DatabaseDSN   string
	Base64Secret  string
	MigrationsURL string
	// optional integrations; empty disables them
	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string

	AllowedOrigins []string
}

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	MigrationsURL  string
	RedisURL       string
	KafkaBrokers   []string
	KafkaTopic     string
	AllowedOrigins []string
}

func NewConfig(p Params) (*Config, error) {
	if p.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if p.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if p.Base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if len(p.KafkaBrokers) > 0 && p.KafkaTopic == "" {
		return nil, fmt.Errorf("kafka topic cannot be empty when brokers are set")
	}

	// the identity provider shares this key; it arrives base64 encoded
	signingKey, err := base64.StdEncoding.DecodeString(p.Base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     p.ServerAddr,
		DatabaseDSN:    p.DatabaseDSN,
		SigningKey:     signingKey,
		MigrationsURL:  p.MigrationsURL,
		RedisURL:       p.RedisURL,
		KafkaBrokers:   p.KafkaBrokers,
		KafkaTopic:     p.KafkaTopic,
		AllowedOrigins: p.AllowedOrigins,
	}, nil
}

// LoadDotEnv loads a .env file when present; missing files are fine.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// EnvOr returns the environment variable's value or a fallback.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
