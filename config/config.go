package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultPort = "3000"

	messagePath  = "/webhook/chat"
	downloadPath = "/webhook/download"
)

type Config struct {
	WebhookURL string
	Port       string
}

// Load reads configuration from a .env file (when one exists) and from the
// process environment. The webhook URL has no sensible default: without it
// the server cannot reach the answer service, so its absence is fatal.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		WebhookURL: strings.TrimSpace(os.Getenv("N8N_WEBHOOK_URL")),
		Port:       getEnv("PORT", defaultPort),
	}

	if cfg.WebhookURL == "" {
		return Config{}, fmt.Errorf("N8N_WEBHOOK_URL is not set; expected something like http://localhost:5678/webhook/chat")
	}

	return cfg, nil
}

// DownloadWebhookURL derives the document store address from the message
// webhook by swapping the fixed path segment.
func (c Config) DownloadWebhookURL() string {
	return strings.Replace(c.WebhookURL, messagePath, downloadPath, 1)
}

func (c Config) Addr() string {
	return ":" + c.Port
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
