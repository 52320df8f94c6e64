// Package config holds server configuration: environment variables for
// process-level settings, YAML deployment profiles for recovery policy.
package config

import "os"

// Config holds server configuration.
type Config struct {
	ListenAddr   string
	DatabasePath string
	RedisAddr    string
	OTLPEndpoint string
	JWTSecret    string
	ProfilesDir  string
	Profile      string
	LogLevel     string
	Telemetry    bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	addr := os.Getenv("AEGIS_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	dbPath := os.Getenv("AEGIS_DB_PATH")
	if dbPath == "" {
		dbPath = "aegis.db"
	}

	profilesDir := os.Getenv("AEGIS_PROFILES_DIR")
	if profilesDir == "" {
		profilesDir = "profiles"
	}

	profile := os.Getenv("AEGIS_PROFILE")
	if profile == "" {
		profile = "default"
	}

	logLevel := os.Getenv("AEGIS_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	otlp := os.Getenv("AEGIS_OTLP_ENDPOINT")
	if otlp == "" {
		otlp = "localhost:4317"
	}

	return &Config{
		ListenAddr:   addr,
		DatabasePath: dbPath,
		RedisAddr:    os.Getenv("AEGIS_REDIS_ADDR"),
		OTLPEndpoint: otlp,
		JWTSecret:    os.Getenv("AEGIS_JWT_SECRET"),
		ProfilesDir:  profilesDir,
		Profile:      profile,
		LogLevel:     logLevel,
		Telemetry:    os.Getenv("AEGIS_TELEMETRY") == "true",
	}
}
