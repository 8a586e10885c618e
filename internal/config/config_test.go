package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if got := cfg.Platform.Sales[0].RegistrationDuration; got != 48*time.Hour {
		t.Fatalf("registration duration %s", got)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "launchpad.toml")
	body := `
[http]
addr = ":9000"

[auth]
ttl = "30m"

[platform]
owner = "0x00000000000000000000000000000000000000a0"

[[platform.sales]]
name = "seed"
sale_symbol = "SEED"
total_units = "500"
price_per_unit = "0.01"
thresholds = ["1", "2", "3", "4", "5"]
weights_bps = [2000, 2000, 2000, 2000, 2000]
registration_duration = "1h"
sale_gap = "10m"
sale_duration = "1h"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LAUNCHPAD_HTTP_ADDR", ":9100")
	t.Setenv("LAUNCHPAD_PG_DSN", "postgres://localhost/launchpad")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9100" {
		t.Fatalf("env override lost: %s", cfg.HTTP.Addr)
	}
	if cfg.Auth.TTL != 30*time.Minute {
		t.Fatalf("ttl=%s", cfg.Auth.TTL)
	}
	if cfg.Postgres.DSN == "" {
		t.Fatal("dsn not applied")
	}
	if len(cfg.Platform.Sales) != 1 || cfg.Platform.Sales[0].Name != "seed" {
		t.Fatalf("sales=%+v", cfg.Platform.Sales)
	}
	if cfg.Platform.Sales[0].SaleGap != 10*time.Minute {
		t.Fatalf("gap=%s", cfg.Platform.Sales[0].SaleGap)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[http]\nadress = \":1\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"short secret":   func(c *Config) { c.Auth.Secret = "short" },
		"bad owner":      func(c *Config) { c.Platform.Owner = "alice" },
		"weights":        func(c *Config) { c.Platform.Sales[0].WeightsBps[0] = 1 },
		"tiers":          func(c *Config) { c.Platform.Sales[0].Thresholds = []string{"1"} },
		"pool capacity":  func(c *Config) { c.Platform.Raffles[0].PoolCapacity = 0 },
		"duplicate name": func(c *Config) { c.Platform.Raffles[0].Name = c.Platform.Sales[0].Name },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestApplyEnvRejectsMalformed(t *testing.T) {
	cfg := Default()
	lookup := func(key string) (string, bool) {
		if key == "LAUNCHPAD_AUTH_TTL" {
			return "forever", true
		}
		return "", false
	}
	if err := applyEnv(&cfg, lookup); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
