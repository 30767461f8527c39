package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Port      string `mapstructure:"PORT"`
	GinMode   string `mapstructure:"GIN_MODE"`
	ClientURL string `mapstructure:"CLIENT_URL"`

	// StoreBackend selects the tree store: "firebase" or "memory".
	// AuthBackend selects token verification: "firebase" or "static".
	StoreBackend string `mapstructure:"STORE_BACKEND"`
	AuthBackend  string `mapstructure:"AUTH_BACKEND"`

	FirebaseProjectID                string `mapstructure:"FIREBASE_PROJECT_ID"`
	FirebaseDatabaseURL              string `mapstructure:"FIREBASE_DATABASE_URL"`
	GoogleApplicationCredentials     string `mapstructure:"GOOGLE_APPLICATION_CREDENTIALS"`
	FirebaseServiceAccountJSONBase64 string `mapstructure:"FIREBASE_SERVICE_ACCOUNT_JSON_BASE64"`

	// StaticUsers is the static auth table, comma-separated
	// "token=userID" or "token=userID:email" entries.
	StaticUsers string `mapstructure:"STATIC_USERS"`

	SessionIdleTimeout time.Duration `mapstructure:"SESSION_IDLE_TIMEOUT"`
	StorePollInterval  time.Duration `mapstructure:"STORE_POLL_INTERVAL"`
}

var appConfig *Config

// LoadConfig loads configuration from environment variables using Viper.
func LoadConfig() (*Config, error) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("GIN_MODE", "debug")
	viper.SetDefault("CLIENT_URL", "http://localhost:3000")
	viper.SetDefault("STORE_BACKEND", "firebase")
	viper.SetDefault("AUTH_BACKEND", "firebase")
	viper.SetDefault("SESSION_IDLE_TIMEOUT", "2m")
	viper.SetDefault("STORE_POLL_INTERVAL", "2s")

	// Bind environment variables
	viper.BindEnv("PORT")
	viper.BindEnv("GIN_MODE")
	viper.BindEnv("CLIENT_URL")
	viper.BindEnv("STORE_BACKEND")
	viper.BindEnv("AUTH_BACKEND")
	viper.BindEnv("FIREBASE_PROJECT_ID")
	viper.BindEnv("FIREBASE_DATABASE_URL")
	viper.BindEnv("GOOGLE_APPLICATION_CREDENTIALS")
	viper.BindEnv("FIREBASE_SERVICE_ACCOUNT_JSON_BASE64")
	viper.BindEnv("STATIC_USERS")
	viper.BindEnv("SESSION_IDLE_TIMEOUT")
	viper.BindEnv("STORE_POLL_INTERVAL")

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, errors.New("failed to unmarshal config: " + err.Error())
	}

	// Validate required fields
	switch cfg.StoreBackend {
	case "firebase":
		if cfg.FirebaseProjectID == "" {
			return nil, errors.New("FIREBASE_PROJECT_ID is required with STORE_BACKEND=firebase")
		}
		if cfg.FirebaseDatabaseURL == "" {
			return nil, errors.New("FIREBASE_DATABASE_URL is required with STORE_BACKEND=firebase")
		}
		if cfg.GoogleApplicationCredentials == "" && cfg.FirebaseServiceAccountJSONBase64 == "" {
			return nil, errors.New("either GOOGLE_APPLICATION_CREDENTIALS or FIREBASE_SERVICE_ACCOUNT_JSON_BASE64 is required")
		}
	case "memory":
	default:
		return nil, errors.New("STORE_BACKEND must be \"firebase\" or \"memory\"")
	}

	switch cfg.AuthBackend {
	case "firebase":
		if cfg.StoreBackend != "firebase" && cfg.FirebaseProjectID == "" {
			return nil, errors.New("FIREBASE_PROJECT_ID is required with AUTH_BACKEND=firebase")
		}
	case "static":
		if cfg.StaticUsers == "" {
			return nil, errors.New("STATIC_USERS is required with AUTH_BACKEND=static")
		}
	default:
		return nil, errors.New("AUTH_BACKEND must be \"firebase\" or \"static\"")
	}

	if cfg.ClientURL == "" {
		return nil, errors.New("CLIENT_URL is required")
	}

	appConfig = &cfg
	return appConfig, nil
}

// GetConfig returns the loaded application configuration.
// It panics if LoadConfig has not been called successfully.
func GetConfig() *Config {
	if appConfig == nil {
		panic("config not loaded; call LoadConfig first")
	}
	return appConfig
}
