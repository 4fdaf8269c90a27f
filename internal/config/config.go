package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Server struct {
		Port string
		Host string
		TLS  struct {
			Enabled  bool
			CertFile string
			KeyFile  string
		}
		Debug bool
	}
	App struct {
		// BaseURL is the public URL invite links point at.
		BaseURL string
	}
	Auth struct {
		GoogleKey      string
		GoogleSecret   string
		GoogleRedirect string
		SessionSecret  string
	}
	Identity struct {
		// URL and ServiceKey point at the hosted identity provider's
		// admin API. Both are required, the process refuses to start
		// without them.
		URL        string
		ServiceKey string
	}
	Database struct {
		DSN      string
		RedisURI string
	}
	Telegram struct {
		BotToken string
		ChatID   string
	}
	Resend struct {
		APIKey        string
		DefaultSender string
	}
	Sentry struct {
		DSN string
	}
}

func Load() (*Config, error) {

	envStack := os.Getenv("ENV_STACK")

	if envStack != "" {
		filePath := "./env-files/.env." + envStack
		err := godotenv.Load(filePath)
		if err != nil {
			fmt.Printf("Error loading .env file: %s\n", err)
		}
	}

	c := &Config{}

	c.Server.Port = os.Getenv("SERVER_PORT")
	if c.Server.Port == "" {
		c.Server.Port = "1926"
	}

	c.Server.Host = os.Getenv("SERVER_HOST")
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}

	c.Server.Debug = os.Getenv("ENABLE_DEBUG_ENDPOINTS") == "true"

	// TLS Configuration
	useTLS := os.Getenv("USE_TLS")
	c.Server.TLS.Enabled = useTLS != "false" && useTLS != "0"
	c.Server.TLS.CertFile = "./certs/localhost.pem"
	c.Server.TLS.KeyFile = "./certs/localhost-key.pem"

	// Invite links embed this URL. APP_URL wins over SITE_URL, with a
	// local development fallback.
	c.App.BaseURL = os.Getenv("APP_URL")
	if c.App.BaseURL == "" {
		c.App.BaseURL = os.Getenv("SITE_URL")
	}
	if c.App.BaseURL == "" {
		c.App.BaseURL = "http://localhost:3000"
	}

	c.Auth.SessionSecret = os.Getenv("SESSION_SECRET")

	c.Auth.GoogleKey = os.Getenv("GOOGLE_KEY")
	c.Auth.GoogleSecret = os.Getenv("GOOGLE_SECRET")
	c.Auth.GoogleRedirect = fmt.Sprintf("%s/api/auth/social/google/callback", c.App.BaseURL)

	c.Identity.URL = os.Getenv("IDENTITY_URL")
	c.Identity.ServiceKey = os.Getenv("IDENTITY_SERVICE_KEY")
	if c.Identity.URL == "" {
		return nil, fmt.Errorf("IDENTITY_URL environment variable is required")
	}
	if c.Identity.ServiceKey == "" {
		return nil, fmt.Errorf("IDENTITY_SERVICE_KEY environment variable is required")
	}

	c.Database.DSN = os.Getenv("DATABASE_DSN")
	c.Database.RedisURI = os.Getenv("REDIS_URI")

	c.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	c.Telegram.ChatID = os.Getenv("TELEGRAM_CHAT_ID")

	c.Resend.APIKey = os.Getenv("RESEND_API_KEY")
	c.Resend.DefaultSender = os.Getenv("RESEND_DEFAULT_SENDER")
	if c.Resend.DefaultSender == "" {
		c.Resend.DefaultSender = "noreply@taskboard.app"
	}

	c.Sentry.DSN = os.Getenv("SENTRY_DSN")

	return c, nil
}
