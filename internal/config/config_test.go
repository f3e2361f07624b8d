package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runtrack.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom("", envMap(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DB.Driver != "postgres" {
		t.Errorf("Driver = %q", cfg.DB.Driver)
	}
	if cfg.APIAddr() != ":8080" {
		t.Errorf("APIAddr = %q", cfg.APIAddr())
	}
	if cfg.Audit.Cron != DefaultAuditCron {
		t.Errorf("Audit.Cron = %q", cfg.Audit.Cron)
	}
	if cfg.Policy.RequireAllStepsCompleted || cfg.Policy.SoftAsHard {
		t.Error("policies should be off by default")
	}
}

func TestLoadFrom_File(t *testing.T) {
	path := writeFile(t, `
db:
  driver: sqlite
  sqlite_path: /tmp/rt.db
api_port: "9090"
audit:
  cron: "0 * * * *"
  lookback: 2h
policy:
  require_all_steps_completed: true
`)

	cfg, err := LoadFrom(path, envMap(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DB.Driver != "sqlite" || cfg.DB.SQLitePath != "/tmp/rt.db" {
		t.Errorf("DB = %+v", cfg.DB)
	}
	if cfg.APIPort != "9090" {
		t.Errorf("APIPort = %q", cfg.APIPort)
	}
	if cfg.Audit.Lookback != 2*time.Hour {
		t.Errorf("Lookback = %v", cfg.Audit.Lookback)
	}
	if !cfg.Policy.RequireAllStepsCompleted {
		t.Error("RequireAllStepsCompleted should be loaded from file")
	}
	// Не указанные в файле поля сохраняют значения по умолчанию
	if cfg.RabbitMQURL != DefaultRabbitMQURL {
		t.Errorf("RabbitMQURL = %q", cfg.RabbitMQURL)
	}
}

func TestLoadFrom_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, `
db:
  driver: sqlite
api_port: "9090"
policy:
  require_all_steps_completed: true
`)

	cfg, err := LoadFrom(path, envMap(map[string]string{
		"API_PORT":                    "7070",
		"REQUIRE_ALL_STEPS_COMPLETED": "false",
		"SOFT_INVARIANTS_FATAL":       "true",
		"AUDIT_CRON":                  "@every 1m",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIPort != "7070" {
		t.Errorf("APIPort = %q, env should win", cfg.APIPort)
	}
	if cfg.Policy.RequireAllStepsCompleted {
		t.Error("env should override file policy")
	}
	if !cfg.Policy.SoftAsHard {
		t.Error("SoftAsHard should be set from env")
	}
	if cfg.DB.Driver != "sqlite" {
		t.Errorf("Driver = %q, file value should survive", cfg.DB.Driver)
	}
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad driver", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER"},
		{"bad port", map[string]string{"API_PORT": "http"}, "API_PORT"},
		{"bad auditor port", map[string]string{"AUDITOR_PORT": "0"}, "AUDITOR_PORT"},
		{"bad cron", map[string]string{"AUDIT_CRON": "every minute"}, "AUDIT_CRON"},
		{"bad bool", map[string]string{"SOFT_INVARIANTS_FATAL": "maybe"}, "SOFT_INVARIANTS_FATAL"},
		{"bad lookback", map[string]string{"AUDIT_LOOKBACK": "-1h"}, "AUDIT_LOOKBACK"},
		{"bad format", map[string]string{"LOG_FORMAT": "xml"}, "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom("", envMap(tt.env))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %s", err, tt.want)
			}
		})
	}
}

func TestLoadFrom_MissingFile(t *testing.T) {
	if _, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"), envMap(nil)); err == nil {
		t.Error("expected error for missing file")
	}
}
