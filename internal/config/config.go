package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env           string
	ListenAddr    string
	DatabaseURL   string
	RedisURL      string
	RunMigrations bool

	LogLevel          string
	LogFile           string
	LogFileMaxMB      int
	LogFileMaxBackups int
	LogFileMaxAgeDays int

	PublicBaseURL    string
	AuditFallbackDir string
	ProviderTimeout  time.Duration

	PollWorkers  int
	PollInterval time.Duration
	PollMinAge   time.Duration

	CodeTTLs CodeTTLs
	QRSize   int

	DocuSign  DocuSignConfig
	AdobeSign AdobeSignConfig
}

// CodeTTLs are the default lifetimes per code type.
type CodeTTLs struct {
	Document  time.Duration
	Signature time.Duration
	Mobile    time.Duration
	Access    time.Duration
}

type DocuSignConfig struct {
	IntegrationKey string
	UserID         string
	AccountID      string
	PrivateKeyPEM  string
	BaseURL        string
	AuthHost       string
}

// Configured reports whether every credential needed for the JWT grant is set.
func (c DocuSignConfig) Configured() bool {
	return c.IntegrationKey != "" && c.UserID != "" && c.AccountID != "" && c.PrivateKeyPEM != ""
}

type AdobeSignConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	APIBase      string
}

func (c AdobeSignConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load reads the environment, after loading an optional .env file. A missing
// DATABASE_URL is reported as an error but the config is still usable.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:           getenv("APP_ENV", "development"),
		ListenAddr:    getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		RunMigrations: getenvBool("RUN_MIGRATIONS", true),

		LogLevel:          os.Getenv("LOG_LEVEL"),
		LogFile:           os.Getenv("LOG_FILE"),
		LogFileMaxMB:      getenvInt("LOG_FILE_MAX_MB", 100),
		LogFileMaxBackups: getenvInt("LOG_FILE_MAX_BACKUPS", 7),
		LogFileMaxAgeDays: getenvInt("LOG_FILE_MAX_AGE_DAYS", 30),

		PublicBaseURL:    strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		AuditFallbackDir: getenv("AUDIT_FALLBACK_DIR", "logs/audit"),
		ProviderTimeout:  getenvDuration("PROVIDER_TIMEOUT", 30*time.Second),

		PollWorkers:  getenvInt("POLL_WORKERS", 0),
		PollInterval: getenvDuration("POLL_INTERVAL", 30*time.Second),
		PollMinAge:   getenvDuration("POLL_MIN_AGE", 2*time.Minute),

		CodeTTLs: CodeTTLs{
			Document:  getenvDuration("CODE_TTL_DOCUMENT", 365*24*time.Hour),
			Signature: getenvDuration("CODE_TTL_SIGNATURE", 365*24*time.Hour),
			Mobile:    getenvDuration("CODE_TTL_MOBILE", 24*time.Hour),
			Access:    getenvDuration("CODE_TTL_ACCESS", 30*24*time.Hour),
		},
		QRSize: getenvInt("QR_SIZE", 300),

		DocuSign: DocuSignConfig{
			IntegrationKey: os.Getenv("DOCUSIGN_INTEGRATION_KEY"),
			UserID:         os.Getenv("DOCUSIGN_USER_ID"),
			AccountID:      os.Getenv("DOCUSIGN_ACCOUNT_ID"),
			PrivateKeyPEM:  os.Getenv("DOCUSIGN_PRIVATE_KEY"),
			BaseURL:        getenv("DOCUSIGN_BASE_URL", "https://demo.docusign.net/restapi"),
			AuthHost:       getenv("DOCUSIGN_AUTH_HOST", "account-d.docusign.com"),
		},
		AdobeSign: AdobeSignConfig{
			ClientID:     os.Getenv("ADOBE_SIGN_CLIENT_ID"),
			ClientSecret: os.Getenv("ADOBE_SIGN_CLIENT_SECRET"),
			RefreshToken: os.Getenv("ADOBE_SIGN_REFRESH_TOKEN"),
			APIBase:      getenv("ADOBE_SIGN_API_BASE", "https://api.na1.adobesign.com"),
		},
	}

	if cfg.DocuSign.PrivateKeyPEM == "" {
		if path := os.Getenv("DOCUSIGN_PRIVATE_KEY_PATH"); path != "" {
			pem, err := os.ReadFile(path)
			if err != nil {
				return cfg, fmt.Errorf("read DOCUSIGN_PRIVATE_KEY_PATH: %w", err)
			}
			cfg.DocuSign.PrivateKeyPEM = string(pem)
		}
	}

	if cfg.DatabaseURL == "" {
		// Not fatal for local runs; callers decide whether to fall back.
		return cfg, fmt.Errorf("DATABASE_URL not set")
	}
	return cfg, nil
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var out int
		_, err := fmt.Sscanf(v, "%d", &out)
		if err == nil {
			return out
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
