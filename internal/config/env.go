package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Secrets are credentials read from the environment only.
type Secrets struct {
	TelegramToken    string
	SlackToken       string
	TwilioAccountSID string
	TwilioAuthToken  string
	DatabaseURL      string
	DebugToken       string
}

// LoadDotEnv loads variables from the given .env files (default ".env").
// Missing files are ignored; variables already set are not overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func SecretsFromEnv() Secrets {
	return Secrets{
		TelegramToken:    getenv("FLOWUP_TELEGRAM_TOKEN"),
		SlackToken:       getenv("FLOWUP_SLACK_TOKEN"),
		TwilioAccountSID: getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  getenv("TWILIO_AUTH_TOKEN"),
		DatabaseURL:      getenv("DATABASE_URL"),
		DebugToken:       getenv("FLOWUP_DEBUG_TOKEN"),
	}
}

// ApplySecrets fills config fields that may come from the environment.
func (c *Config) ApplySecrets(s Secrets) {
	if strings.TrimSpace(c.Activities.URL) == "" {
		c.Activities.URL = s.DatabaseURL
	}
	if strings.TrimSpace(c.Debug.Token) == "" {
		c.Debug.Token = s.DebugToken
	}
}

func getenv(key string) string { return strings.TrimSpace(os.Getenv(key)) }
