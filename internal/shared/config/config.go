package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Matching   MatchingConfig
	Duplicate  DuplicateConfig
	Suggestion SuggestionConfig
	TLS        TLSConfig
	Telemetry  TelemetryConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type MatchingConfig struct {
	// MinFuzzyConfidence filters fuzzy-name candidates scoring below it.
	MinFuzzyConfidence int
	// MaxResults caps candidate lists when the caller does not set a limit.
	MaxResults int
}

type DuplicateConfig struct {
	// MinTotalTolerance is the floor of the item-combination total window.
	MinTotalTolerance float64
	// ScanWorkers bounds the retroactive scan concurrency.
	ScanWorkers int
}

// SuggestionConfig carries the default ledger accounts stamped onto new-item
// suggestions.
type SuggestionConfig struct {
	SalesAccount     string
	PurchaseAccount  string
	InventoryAccount string
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
}

func Load() (*Config, error) {

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	minFuzzy, err := strconv.Atoi(getEnv("MATCH_MIN_FUZZY_CONFIDENCE", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid MATCH_MIN_FUZZY_CONFIDENCE: %w", err)
	}
	maxResults, err := strconv.Atoi(getEnv("MATCH_MAX_RESULTS", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid MATCH_MAX_RESULTS: %w", err)
	}

	minTolerance, err := strconv.ParseFloat(getEnv("DUPLICATE_MIN_TOTAL_TOLERANCE", "1.00"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DUPLICATE_MIN_TOTAL_TOLERANCE: %w", err)
	}
	scanWorkers, err := strconv.Atoi(getEnv("DUPLICATE_SCAN_WORKERS", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid DUPLICATE_SCAN_WORKERS: %w", err)
	}

	// Parse TLS configuration
	tlsEnabled := getBoolEnv("TLS_ENABLED", false)
	tlsCertPath := getEnv("TLS_CERT_PATH", "")
	tlsKeyPath := getEnv("TLS_KEY_PATH", "")
	tlsRedirectHTTP := getBoolEnv("TLS_REDIRECT_HTTP", false)

	// Parse allowed hosts (comma-separated list)
	allowedHostsStr := getEnv("ALLOWED_HOSTS", "")
	var allowedHosts []string
	if allowedHostsStr != "" {
		for _, host := range strings.Split(allowedHostsStr, ",") {
			host = strings.TrimSpace(host)
			if host != "" {
				allowedHosts = append(allowedHosts, host)
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			AllowedHosts: allowedHosts,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "reckon"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "reckon"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Matching: MatchingConfig{
			MinFuzzyConfidence: minFuzzy,
			MaxResults:         maxResults,
		},
		Duplicate: DuplicateConfig{
			MinTotalTolerance: minTolerance,
			ScanWorkers:       scanWorkers,
		},
		Suggestion: SuggestionConfig{
			SalesAccount:     getEnv("SUGGEST_SALES_ACCOUNT", "4000"),
			PurchaseAccount:  getEnv("SUGGEST_PURCHASE_ACCOUNT", "5000"),
			InventoryAccount: getEnv("SUGGEST_INVENTORY_ACCOUNT", "1200"),
		},
		TLS: TLSConfig{
			Enabled:      tlsEnabled,
			CertPath:     tlsCertPath,
			KeyPath:      tlsKeyPath,
			RedirectHTTP: tlsRedirectHTTP,
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "reckon-api"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4318"),
			MetricsPort:  getEnv("OTEL_METRICS_PORT", "9090"),
		},
	}

	if cfg.Matching.MinFuzzyConfidence < 0 || cfg.Matching.MinFuzzyConfidence > 100 {
		return nil, fmt.Errorf("MATCH_MIN_FUZZY_CONFIDENCE must be between 0 and 100")
	}
	if cfg.Matching.MaxResults < 1 {
		return nil, fmt.Errorf("MATCH_MAX_RESULTS must be at least 1")
	}
	if cfg.Duplicate.ScanWorkers < 1 {
		return nil, fmt.Errorf("DUPLICATE_SCAN_WORKERS must be at least 1")
	}

	// Validate TLS configuration
	if cfg.TLS.Enabled {
		if cfg.TLS.CertPath == "" {
			return nil, fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if cfg.TLS.KeyPath == "" {
			return nil, fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
