package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"AEGIS_LISTEN_ADDR", "AEGIS_DB_PATH", "AEGIS_PROFILES_DIR",
		"AEGIS_PROFILE", "AEGIS_LOG_LEVEL", "AEGIS_OTLP_ENDPOINT",
		"AEGIS_REDIS_ADDR", "AEGIS_JWT_SECRET", "AEGIS_TELEMETRY",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.DatabasePath != "aegis.db" {
		t.Fatalf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.ProfilesDir != "profiles" || cfg.Profile != "default" {
		t.Fatalf("profile defaults: %q %q", cfg.ProfilesDir, cfg.Profile)
	}
	if cfg.Telemetry {
		t.Fatal("telemetry should default off")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("AEGIS_LISTEN_ADDR", ":9999")
	t.Setenv("AEGIS_DB_PATH", "/data/recovery.db")
	t.Setenv("AEGIS_PROFILE", "enterprise")
	t.Setenv("AEGIS_REDIS_ADDR", "redis:6379")
	t.Setenv("AEGIS_TELEMETRY", "true")

	cfg := Load()
	if cfg.ListenAddr != ":9999" || cfg.DatabasePath != "/data/recovery.db" {
		t.Fatalf("env not honored: %+v", cfg)
	}
	if cfg.Profile != "enterprise" || cfg.RedisAddr != "redis:6379" {
		t.Fatalf("env not honored: %+v", cfg)
	}
	if !cfg.Telemetry {
		t.Fatal("telemetry not enabled")
	}
}
