// Package config содержит логику чтения конфигурации сервиса денежного ящика.
package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/cash-drawer/internal/model"
)

// Типы хранилища.
const (
	DatabasePostgres = "postgres"
	DatabaseSQLite   = "sqlite"
	DatabaseMemory   = "memory"
)

// Config содержит параметры конфигурации сервиса денежного ящика.
type Config struct {
	RunAddress     string        `env:"RUN_ADDRESS"`
	DatabaseType   string        `env:"DATABASE_TYPE"`
	DatabaseURI    string        `env:"DATABASE_URI"`
	DatabasePath   string        `env:"DATABASE_PATH"`
	CatalogAddress string        `env:"CATALOG_ADDRESS"`
	RedisAddress   string        `env:"REDIS_ADDRESS"`
	SnapshotTTL    time.Duration `env:"SNAPSHOT_TTL"`
	Denominations  []int64       `env:"DENOMINATIONS" envSeparator:","`
	AllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	var denominations string
	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseType, "t", "", "storage type: postgres, sqlite or memory")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "postgres database URI")
	flag.StringVar(&cfg.DatabasePath, "p", "./cashdrawer.db", "sqlite database file")
	flag.StringVar(&cfg.CatalogAddress, "c", "", "external catalog address")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address for balance snapshots")
	flag.StringVar(&denominations, "n", "", "comma separated denominations")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseType != "" {
		cfg.DatabaseType = envCfg.DatabaseType
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.DatabasePath != "" {
		cfg.DatabasePath = envCfg.DatabasePath
	}
	if envCfg.CatalogAddress != "" {
		cfg.CatalogAddress = envCfg.CatalogAddress
	}
	if envCfg.RedisAddress != "" {
		cfg.RedisAddress = envCfg.RedisAddress
	}
	if len(envCfg.Denominations) == 0 && denominations != "" {
		values, err := parseDenominations(denominations)
		if err != nil {
			return nil, err
		}
		cfg.Denominations = values
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "./cashdrawer.db"
	}

	switch cfg.DatabaseType {
	case "":
		cfg.DatabaseType = DatabaseMemory
		if cfg.DatabaseURI != "" {
			cfg.DatabaseType = DatabasePostgres
		}
	case DatabasePostgres, DatabaseSQLite, DatabaseMemory:
	default:
		return nil, fmt.Errorf("unknown database type %q", cfg.DatabaseType)
	}

	if cfg.DatabaseType == DatabasePostgres && cfg.DatabaseURI == "" {
		return nil, fmt.Errorf("database URI is required for postgres")
	}

	if _, err := cfg.DenominationSet(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DenominationSet возвращает набор номиналов из конфигурации или набор по умолчанию.
func (c *Config) DenominationSet() (model.DenominationSet, error) {
	if len(c.Denominations) == 0 {
		return model.DefaultDenominations, nil
	}
	set, err := model.NewDenominationSet(c.Denominations...)
	if err != nil {
		return model.DenominationSet{}, fmt.Errorf("denominations: %w", err)
	}
	return set, nil
}

func parseDenominations(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	res := make([]int64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("denomination %q: %w", p, err)
		}
		res = append(res, v)
	}
	return res, nil
}
