package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is loaded from the environment with the PEREPISKA_ prefix.
type Config struct {
	DBFile      string `envconfig:"DB_FILE" default:"perepiska.db"`
	APIAddr     string `envconfig:"API_ADDR" default:":8080"`
	AdminAddr   string `envconfig:"ADMIN_ADDR" default:"localhost:8081"`
	BaseURL     string `envconfig:"BASE_URL" default:"http://localhost:8080"`
	UploadsPath string `envconfig:"UPLOADS_PATH" default:"uploads"`

	AdminUser     string `envconfig:"ADMIN_USER" default:"admin"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD"`

	TokenExpiry time.Duration `envconfig:"TOKEN_EXPIRY" default:"24h"`

	// AnnounceTimeout bounds how long a connection may stay anonymous
	// before it is reclaimed.
	AnnounceTimeout time.Duration `envconfig:"ANNOUNCE_TIMEOUT" default:"30s"`

	// RequireFileName makes a file message without a fileName a hard
	// validation error instead of an unnamed attachment.
	RequireFileName bool `envconfig:"REQUIRE_FILE_NAME" default:"false"`

	MaxUploadBytes int64 `envconfig:"MAX_UPLOAD_BYTES" default:"10485760"`

	// Web push is disabled when the VAPID keys are empty.
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	PushSubscriber  string `envconfig:"PUSH_SUBSCRIBER" default:"mailto:admin@localhost"`
}

func Load(cliMode bool) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("PEREPISKA", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.AdminPassword == "" && !cliMode {
		return fmt.Errorf("PEREPISKA_ADMIN_PASSWORD is required")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if c.AnnounceTimeout <= 0 {
		return fmt.Errorf("ANNOUNCE_TIMEOUT must be greater than 0")
	}

	return nil
}
