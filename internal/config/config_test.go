package config

import (
	"strings"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("GENERATION_DELAY", "")
	t.Setenv("STORE_DRIVER", StoreMongo)

	cfg := FromEnv()

	if cfg.GenerationDelay != 60*time.Second {
		t.Errorf("expected 60s generation delay, got %v", cfg.GenerationDelay)
	}
	if cfg.StoreDriver != StoreMongo {
		t.Errorf("expected mongo store by default, got %q", cfg.StoreDriver)
	}
	if !cfg.RunWorkers {
		t.Error("expected workers to run in-process by default")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("GENERATION_DELAY", "5s")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("RUN_WORKERS", "false")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test,")

	cfg := FromEnv()

	if cfg.GenerationDelay != 5*time.Second {
		t.Errorf("expected 5s, got %v", cfg.GenerationDelay)
	}
	if cfg.WorkerConcurrency != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.WorkerConcurrency)
	}
	if cfg.RunWorkers {
		t.Error("expected RUN_WORKERS=false to disable workers")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.test" {
		t.Errorf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "many")
	t.Setenv("JOB_TIMEOUT", "soon")

	cfg := FromEnv()

	if cfg.WorkerConcurrency != 2 {
		t.Errorf("expected default concurrency, got %d", cfg.WorkerConcurrency)
	}
	if cfg.JobTimeout != 3*time.Minute {
		t.Errorf("expected default job timeout, got %v", cfg.JobTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing secret", mutate: func(c *Config) { c.JWTSecret = "" }, wantErr: "JWT_SECRET"},
		{name: "unknown store", mutate: func(c *Config) { c.StoreDriver = "sqlite" }, wantErr: "STORE_DRIVER"},
		{name: "lease shorter than timeout", mutate: func(c *Config) { c.JobLease = time.Second }, wantErr: "JOB_LEASE"},
		{name: "zero workers", mutate: func(c *Config) { c.WorkerConcurrency = 0 }, wantErr: "WORKER_CONCURRENCY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := FromEnv()
			cfg.JWTSecret = "secret"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLogOutput(t *testing.T) {
	cfg := &Config{}
	if got := cfg.LogOutput(); got != "stdout" {
		t.Errorf("expected stdout, got %q", got)
	}
	cfg.LogFile = "/var/log/contentgen.log"
	if got := cfg.LogOutput(); got != "/var/log/contentgen.log" {
		t.Errorf("expected log file, got %q", got)
	}
}
