package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration values.
type Config struct {
	Secret           string        `yaml:"secret"`
	HTTPPort         string        `yaml:"http_port"`
	DBDriver         string        `yaml:"db_driver"`
	DatabaseDSN      string        `yaml:"database_dsn"`
	RedisURL         string        `yaml:"redis_url"`
	ReturnWindowDays int           `yaml:"return_window_days"`
	TaxRate          string        `yaml:"tax_rate"`
	CatalogCSV       string        `yaml:"catalog_csv"`
	LogLevel         string        `yaml:"log_level"`
	APIURL           string        `yaml:"api_url"`
	HTTPTimeout      time.Duration `yaml:"http_timeout"`
	AdminUsername    string        `yaml:"admin_username"`
	AdminPassword    string        `yaml:"admin_password"`
}

func defaults() Config {
	return Config{
		Secret:           "dev_secret",
		HTTPPort:         "8000",
		DBDriver:         "sqlite",
		DatabaseDSN:      "file:savi.db?cache=shared",
		ReturnWindowDays: 30,
		TaxRate:          "0.16",
		CatalogCSV:       "assets/products.csv",
		LogLevel:         "info",
		APIURL:           "http://localhost:8000/api",
		HTTPTimeout:      15 * time.Second,
		AdminUsername:    "admin",
		AdminPassword:    "admin",
	}
}

// Load reads configuration from .env, an optional YAML file named by SAVI_CONFIG_FILE, and
// environment variables, in that order of increasing precedence.
func Load() Config {
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("SAVI_CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			log.Printf("ignoring config file %s: %v", path, err)
		}
	}

	setString(&cfg.Secret, "SECRET")
	setString(&cfg.HTTPPort, "HTTP_PORT")
	setString(&cfg.DBDriver, "DB_DRIVER")
	setString(&cfg.DatabaseDSN, "DATABASE_DSN")
	setString(&cfg.RedisURL, "REDIS_URL")
	setString(&cfg.TaxRate, "TAX_RATE")
	setString(&cfg.CatalogCSV, "CATALOG_CSV")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.APIURL, "API_URL")
	setString(&cfg.AdminUsername, "ADMIN_USERNAME")
	setString(&cfg.AdminPassword, "ADMIN_PASSWORD")

	if v := os.Getenv("RETURN_WINDOW_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			cfg.ReturnWindowDays = days
		} else {
			log.Printf("invalid RETURN_WINDOW_DAYS value %q, keeping %d", v, cfg.ReturnWindowDays)
		}
	}
	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTPTimeout = d
		} else {
			log.Printf("invalid HTTP_TIMEOUT value %q, keeping %s", v, cfg.HTTPTimeout)
		}
	}

	// Validate that port is numeric.
	if _, err := strconv.Atoi(cfg.HTTPPort); err != nil {
		log.Printf("invalid HTTP_PORT value %q, defaulting to 8000", cfg.HTTPPort)
		cfg.HTTPPort = "8000"
	}
	if _, err := decimal.NewFromString(cfg.TaxRate); err != nil {
		log.Printf("invalid TAX_RATE value %q, defaulting to 0.16", cfg.TaxRate)
		cfg.TaxRate = "0.16"
	}

	return cfg
}

// Tax returns the configured VAT rate.
func (c Config) Tax() decimal.Decimal {
	rate, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return decimal.New(16, -2)
	}
	return rate
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
