package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	crmmigrations "github.com/goliatone/go-crm/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"

	defaultPingTimeout = 5 * time.Second
)

// DatabaseConfig describes the database behind the SQL stores. It satisfies
// the config contract of go-persistence-bun.
type DatabaseConfig struct {
	Driver      string        `koanf:"driver" mapstructure:"driver"`
	DSN         string        `koanf:"dsn" mapstructure:"dsn"`
	Debug       bool          `koanf:"debug" mapstructure:"debug"`
	PingTimeout time.Duration `koanf:"ping_timeout" mapstructure:"ping_timeout"`
	// MaxOpenConns is forced to 1 for in-memory sqlite databases.
	MaxOpenConns int `koanf:"max_open_conns" mapstructure:"max_open_conns"`
}

func (c DatabaseConfig) GetDebug() bool    { return c.Debug }
func (c DatabaseConfig) GetDriver() string { return c.Driver }
func (c DatabaseConfig) GetServer() string { return c.DSN }
func (c DatabaseConfig) GetOtelIdentifier() string {
	return "go-crm"
}

func (c DatabaseConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return defaultPingTimeout
	}
	return c.PingTimeout
}

// Open connects to cfg's database with the matching bun dialect.
func Open(cfg DatabaseConfig) (*persistence.Client, error) {
	cfg.Driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sqlstore: dsn is required")
	}
	dialect, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", cfg.Driver, err)
	}
	maxOpen := cfg.MaxOpenConns
	if cfg.Driver == DriverSQLite && strings.Contains(cfg.DSN, "mode=memory") {
		maxOpen = 1
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return client, nil
}

// Migrate registers the CRM migrations for the client's dialect and applies
// them.
func Migrate(ctx context.Context, client *persistence.Client, driver string) error {
	if client == nil {
		return fmt.Errorf("sqlstore: persistence client is required")
	}
	target, err := migrationDialect(driver)
	if err != nil {
		return err
	}
	_, err = crmmigrations.Register(ctx, func(_ context.Context, _ string, source crmmigrations.Source) error {
		client.RegisterSQLMigrations(source.FS)
		return nil
	}, crmmigrations.WithDialects(target))
	if err != nil {
		return err
	}
	return client.Migrate(ctx)
}

func dialectFor(driver string) (schema.Dialect, error) {
	switch driver {
	case DriverPostgres:
		return pgdialect.New(), nil
	case DriverSQLite:
		return sqlitedialect.New(), nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

func migrationDialect(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres:
		return crmmigrations.DialectPostgres, nil
	case DriverSQLite:
		return crmmigrations.DialectSQLite, nil
	default:
		return "", fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}
