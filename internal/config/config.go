package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendLocal  = "local"
	BackendSheets = "sheets"
)

// Config is built once at startup and passed explicitly into constructors.
// There is no hot-reload: the signing secret, admin credentials and backend
// selection are fixed for the lifetime of the process.
type Config struct {
	Server  ServerConfig
	Auth    AuthConfig
	License LicenseConfig
	Store   StoreConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout    time.Duration `mapstructure:"idleTimeout"`
	ShutdownPeriod time.Duration `mapstructure:"shutdownPeriod"`
}

type AuthConfig struct {
	AdminUsername     string        `mapstructure:"adminUsername"`
	AdminPasswordHash string        `mapstructure:"adminPasswordHash"`
	SessionSecret     string        `mapstructure:"sessionSecret"`
	TokenTTL          time.Duration `mapstructure:"tokenTTL"`
}

type LicenseConfig struct {
	SigningSecret string `mapstructure:"signingSecret"`
}

type StoreConfig struct {
	Backend string            `mapstructure:"backend"`
	Local   LocalStoreConfig  `mapstructure:"local"`
	Sheets  SheetsStoreConfig `mapstructure:"sheets"`
}

type LocalStoreConfig struct {
	Path string `mapstructure:"path"`
}

type SheetsStoreConfig struct {
	SpreadsheetID   string        `mapstructure:"spreadsheetId"`
	SheetName       string        `mapstructure:"sheetName"`
	CredentialsJSON string        `mapstructure:"credentialsJson"`
	CredentialsFile string        `mapstructure:"credentialsFile"`
	RequestTimeout  time.Duration `mapstructure:"requestTimeout"`
	MaxRetries      int           `mapstructure:"maxRetries"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func LoadConfig(configPath string) (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading it, relying on environment variables and config file")
	}

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.readTimeout", 5*time.Second)
	viper.SetDefault("server.writeTimeout", 10*time.Second)
	viper.SetDefault("server.idleTimeout", 120*time.Second)
	viper.SetDefault("server.shutdownPeriod", 15*time.Second)

	viper.SetDefault("auth.adminUsername", "admin")
	viper.SetDefault("auth.tokenTTL", 12*time.Hour)

	viper.SetDefault("store.backend", BackendLocal)
	viper.SetDefault("store.local.path", "./data/licenses.json")
	viper.SetDefault("store.sheets.sheetName", "Licenses")
	viper.SetDefault("store.sheets.requestTimeout", 3*time.Second)
	viper.SetDefault("store.sheets.maxRetries", 3)

	viper.SetDefault("log.level", "info")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AllowEmptyEnv(true)

	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			log.Printf("Warning: could not read config file: %s. Error: %v\n", configPath, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.License.SigningSecret == "" {
		return fmt.Errorf("license.signingSecret is required")
	}
	if c.Auth.SessionSecret == "" {
		return fmt.Errorf("auth.sessionSecret is required")
	}
	if c.Auth.AdminPasswordHash == "" {
		return fmt.Errorf("auth.adminPasswordHash is required (generate one with cmd/hashpw)")
	}

	switch c.Store.Backend {
	case BackendLocal:
		if c.Store.Local.Path == "" {
			return fmt.Errorf("store.local.path is required for the local backend")
		}
	case BackendSheets:
		if c.Store.Sheets.SpreadsheetID == "" {
			return fmt.Errorf("store.sheets.spreadsheetId is required for the sheets backend")
		}
		if c.Store.Sheets.CredentialsJSON == "" && c.Store.Sheets.CredentialsFile == "" {
			return fmt.Errorf("store.sheets.credentialsJson or store.sheets.credentialsFile is required for the sheets backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q (expected %q or %q)", c.Store.Backend, BackendLocal, BackendSheets)
	}

	return nil
}
