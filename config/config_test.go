package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PORT", "LOG_LEVEL", "LOG_FILE", "MODEL_PATH", "AUDIT_DB_PATH", "ALERT_WEBHOOK_URL"} {
		t.Setenv(key, "")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 8000 || cfg.Model.Path != "model/model.json" || cfg.Cache.Size != 1024 || !cfg.Model.Watch {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Model.MaxRetries != 2 || cfg.HTTP.ShutdownTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
http:
  port: 9000
log:
  level: debug
model:
  path: /models/iris.json
  watch: false
cache:
  size: 16
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 9000 || cfg.Log.Level != "debug" || cfg.Model.Path != "/models/iris.json" || cfg.Model.Watch || cfg.Cache.Size != 16 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Log.MaxBackups != 3 {
		t.Fatalf("defaults lost for unset keys: %+v", cfg.Log)
	}

	t.Setenv("PORT", "8080")
	t.Setenv("MODEL_PATH", "https://models.example.com/iris.json")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 8080 || cfg.Model.Path != "https://models.example.com/iris.json" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
	}{
		{name: "bad yaml", file: "http: [unclosed"},
		{name: "bad port env", env: map[string]string{"PORT": "eighty"}},
		{name: "port out of range", file: "http:\n  port: 70000\n"},
		{name: "negative cache", file: "cache:\n  size: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := filepath.Join(t.TempDir(), "config.yaml")
			if tt.file != "" {
				if err := os.WriteFile(path, []byte(tt.file), 0o644); err != nil {
					t.Fatalf("write: %v", err)
				}
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.File = filepath.Join(t.TempDir(), "iris.log")
	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("hello")
	logger.Sync()

	data, err := os.ReadFile(cfg.Log.File)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected log file output")
	}

	cfg.Log.Level = "loud"
	if _, err := NewLogger(cfg); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
