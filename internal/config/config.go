// Package config loads service configuration from a TOML file, an optional
// .env file and LAUNCHPAD_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	HTTP      HTTPConfig      `toml:"http"`
	GRPC      GRPCConfig      `toml:"grpc"`
	Log       LogConfig       `toml:"log"`
	Auth      AuthConfig      `toml:"auth"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Journal   JournalConfig   `toml:"journal"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Platform  PlatformConfig  `toml:"platform"`
}

type HTTPConfig struct {
	Addr            string        `toml:"addr"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	IdleTimeout     time.Duration `toml:"idle_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

type GRPCConfig struct {
	Addr string `toml:"addr"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	Console    bool   `toml:"console"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

type AuthConfig struct {
	Secret string        `toml:"secret"`
	Issuer string        `toml:"issuer"`
	TTL    time.Duration `toml:"ttl"`
	// LoginSkew bounds how far a signed login timestamp may be from now.
	LoginSkew time.Duration `toml:"login_skew"`
}

type PostgresConfig struct {
	DSN          string        `toml:"dsn"`
	MaxOpenConns int           `toml:"max_open_conns"`
	SnapshotTick time.Duration `toml:"snapshot_interval"`
}

type JournalConfig struct {
	Path string `toml:"path"`
}

type RateLimitConfig struct {
	RPS   float64 `toml:"rps"`
	Burst int     `toml:"burst"`
}

type PlatformConfig struct {
	Owner             string         `toml:"owner"`
	Decimals          uint8          `toml:"decimals"`
	StakeSymbol       string         `toml:"stake_symbol"`
	NativeSymbol      string         `toml:"native_symbol"`
	HaltBlocksUnstake bool           `toml:"halt_blocks_unstake"`
	OracleKey         string         `toml:"oracle_key"`
	OracleDelay       time.Duration  `toml:"oracle_delay"`
	Genesis           []Allocation   `toml:"genesis"`
	Sales             []SaleConfig   `toml:"sales"`
	Raffles           []RaffleConfig `toml:"raffles"`
}

// Allocation mints Amount whole tokens of Symbol to Account at startup.
type Allocation struct {
	Symbol  string `toml:"symbol"`
	Account string `toml:"account"`
	Amount  string `toml:"amount"`
}

// SaleConfig describes one timed sale. Amounts are decimal token strings.
type SaleConfig struct {
	Name                 string        `toml:"name"`
	SaleSymbol           string        `toml:"sale_symbol"`
	TotalUnits           string        `toml:"total_units"`
	PricePerUnit         string        `toml:"price_per_unit"`
	Thresholds           []string      `toml:"thresholds"`
	WeightsBps           []uint32      `toml:"weights_bps"`
	RegistrationDuration time.Duration `toml:"registration_duration"`
	SaleGap              time.Duration `toml:"sale_gap"`
	SaleDuration         time.Duration `toml:"sale_duration"`
	LockGrace            time.Duration `toml:"lock_grace"`
	// Start initializes the sale at deploy time when non-zero (unix seconds).
	Start int64 `toml:"start"`
}

// RaffleConfig describes one raffle. Amounts are decimal token strings.
type RaffleConfig struct {
	Name         string        `toml:"name"`
	SaleSymbol   string        `toml:"sale_symbol"`
	TotalUnits   string        `toml:"total_units"`
	TotalPrice   string        `toml:"total_price"`
	MinStake     string        `toml:"min_stake"`
	PoolCapacity uint64        `toml:"pool_capacity"`
	TicketWindow time.Duration `toml:"ticket_window"`
	Start        int64         `toml:"start"`
}

// Default returns a configuration that runs a single-node launchpad with one
// sale and one raffle.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		GRPC: GRPCConfig{Addr: ":9090"},
		Log:  LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30},
		Auth: AuthConfig{
			Issuer:    "launchpad",
			TTL:       time.Hour,
			LoginSkew: 5 * time.Minute,
		},
		Postgres:  PostgresConfig{MaxOpenConns: 10, SnapshotTick: 30 * time.Second},
		Journal:   JournalConfig{Path: "launchpad-journal.db"},
		RateLimit: RateLimitConfig{RPS: 20, Burst: 40},
		Platform: PlatformConfig{
			Decimals:     18,
			StakeSymbol:  "POL",
			NativeSymbol: "ETH",
			OracleDelay:  0,
			Sales: []SaleConfig{{
				Name:                 "ido",
				SaleSymbol:           "TST",
				TotalUnits:           "10000",
				PricePerUnit:         "0.001",
				Thresholds:           []string{"100", "500", "1000", "2000", "4000"},
				WeightsBps:           []uint32{500, 1000, 1500, 2500, 4500},
				RegistrationDuration: 48 * time.Hour,
				SaleGap:              24 * time.Hour,
				SaleDuration:         12 * time.Hour,
			}},
			Raffles: []RaffleConfig{{
				Name:         "raffle",
				SaleSymbol:   "TST",
				TotalUnits:   "10000",
				TotalPrice:   "10",
				MinStake:     "0",
				PoolCapacity: 30,
				TicketWindow: 24 * time.Hour,
			}},
		},
	}
}

// Load reads .env (if present), then path (if non-empty), then the
// environment, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("LAUNCHPAD_HTTP_ADDR", &cfg.HTTP.Addr)
	str("LAUNCHPAD_GRPC_ADDR", &cfg.GRPC.Addr)
	str("LAUNCHPAD_LOG_LEVEL", &cfg.Log.Level)
	str("LAUNCHPAD_LOG_FILE", &cfg.Log.File)
	str("LAUNCHPAD_AUTH_SECRET", &cfg.Auth.Secret)
	str("LAUNCHPAD_PG_DSN", &cfg.Postgres.DSN)
	str("LAUNCHPAD_JOURNAL_PATH", &cfg.Journal.Path)
	str("LAUNCHPAD_OWNER", &cfg.Platform.Owner)
	str("LAUNCHPAD_ORACLE_KEY", &cfg.Platform.OracleKey)

	if v, ok := lookup("LAUNCHPAD_LOG_CONSOLE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: LAUNCHPAD_LOG_CONSOLE: %v", ErrInvalid, err)
		}
		cfg.Log.Console = b
	}
	if v, ok := lookup("LAUNCHPAD_AUTH_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: LAUNCHPAD_AUTH_TTL: %v", ErrInvalid, err)
		}
		cfg.Auth.TTL = d
	}
	if v, ok := lookup("LAUNCHPAD_RATE_LIMIT_RPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: LAUNCHPAD_RATE_LIMIT_RPS: %v", ErrInvalid, err)
		}
		cfg.RateLimit.RPS = f
	}
	return nil
}

// Validate checks cross-field constraints. Amount strings are parsed by the
// platform when it deploys instances.
func (c Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("%w: http.addr is required", ErrInvalid)
	}
	if len(c.Auth.Secret) > 0 && len(c.Auth.Secret) < 32 {
		return fmt.Errorf("%w: auth.secret must be at least 32 bytes", ErrInvalid)
	}
	if c.Auth.TTL <= 0 {
		return fmt.Errorf("%w: auth.ttl must be positive", ErrInvalid)
	}
	p := c.Platform
	if p.Owner != "" && !common.IsHexAddress(p.Owner) {
		return fmt.Errorf("%w: platform.owner %q is not an address", ErrInvalid, p.Owner)
	}
	if p.StakeSymbol == "" || p.NativeSymbol == "" {
		return fmt.Errorf("%w: platform asset symbols are required", ErrInvalid)
	}
	names := make(map[string]struct{})
	for _, s := range p.Sales {
		if err := s.validate(); err != nil {
			return err
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("%w: duplicate instance name %q", ErrInvalid, s.Name)
		}
		names[s.Name] = struct{}{}
	}
	for _, r := range p.Raffles {
		if err := r.validate(); err != nil {
			return err
		}
		if _, dup := names[r.Name]; dup {
			return fmt.Errorf("%w: duplicate instance name %q", ErrInvalid, r.Name)
		}
		names[r.Name] = struct{}{}
	}
	for _, g := range p.Genesis {
		if !common.IsHexAddress(g.Account) {
			return fmt.Errorf("%w: genesis account %q is not an address", ErrInvalid, g.Account)
		}
	}
	return nil
}

func (s SaleConfig) validate() error {
	if s.Name == "" || s.SaleSymbol == "" {
		return fmt.Errorf("%w: sale name and sale_symbol are required", ErrInvalid)
	}
	if len(s.Thresholds) != 5 || len(s.WeightsBps) != 5 {
		return fmt.Errorf("%w: sale %q needs exactly 5 thresholds and weights", ErrInvalid, s.Name)
	}
	var sum uint32
	for _, w := range s.WeightsBps {
		sum += w
	}
	if sum != 10_000 {
		return fmt.Errorf("%w: sale %q weights sum to %d bps", ErrInvalid, s.Name, sum)
	}
	if s.RegistrationDuration <= 0 || s.SaleDuration <= 0 || s.SaleGap < 0 || s.LockGrace < 0 {
		return fmt.Errorf("%w: sale %q has invalid durations", ErrInvalid, s.Name)
	}
	return nil
}

func (r RaffleConfig) validate() error {
	if r.Name == "" || r.SaleSymbol == "" {
		return fmt.Errorf("%w: raffle name and sale_symbol are required", ErrInvalid)
	}
	if r.PoolCapacity == 0 {
		return fmt.Errorf("%w: raffle %q pool_capacity must be positive", ErrInvalid, r.Name)
	}
	if r.TicketWindow <= 0 {
		return fmt.Errorf("%w: raffle %q ticket_window must be positive", ErrInvalid, r.Name)
	}
	return nil
}
