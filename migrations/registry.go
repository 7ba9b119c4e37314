// Package migrations exposes the embedded refresh token and rate limit
// schemas per SQL dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	crm "github.com/goliatone/go-crm"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	DefaultSourceLabel = "go-crm"
)

const embeddedRoot = "data/sql/migrations"

// Source is one dialect's migration directory.
type Source struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// RegisterFunc receives every selected source, usually to hand it to a
// go-persistence-bun client's RegisterSQLMigrations.
type RegisterFunc func(ctx context.Context, label string, source Source) error

type config struct {
	label    string
	dialects []string
}

type Option func(*config)

// WithDialects limits registration to the named dialects.
func WithDialects(dialects ...string) Option {
	return func(c *config) {
		var picked []string
		for _, dialect := range dialects {
			dialect = strings.ToLower(strings.TrimSpace(dialect))
			if dialect != "" && !slices.Contains(picked, dialect) {
				picked = append(picked, dialect)
			}
		}
		if len(picked) > 0 {
			c.dialects = picked
		}
	}
}

func WithSourceLabel(label string) Option {
	return func(c *config) {
		if label = strings.TrimSpace(label); label != "" {
			c.label = label
		}
	}
}

// Sources returns the postgres and sqlite migration directories. The root
// defaults to the embedded tree; it may also be a flat directory holding
// postgres files with a sqlite/ subdirectory.
func Sources(root ...fs.FS) ([]Source, error) {
	base := crm.GetMigrationsFS()
	if len(root) > 0 && root[0] != nil {
		base = root[0]
	}
	postgres, dir, err := locate(base)
	if err != nil {
		return nil, err
	}
	sqlite, err := fs.Sub(postgres, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: sqlite directory: %w", err)
	}

	sources := []Source{
		{Dialect: DialectPostgres, Path: dir, FS: postgres},
		{Dialect: DialectSQLite, Path: path.Join(dir, "sqlite"), FS: sqlite},
	}
	for _, source := range sources {
		ups, err := fs.Glob(source.FS, "*.up.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: list %s: %w", source.Path, err)
		}
		if len(ups) == 0 {
			return nil, fmt.Errorf("migrations: no %s up migrations in %q", source.Dialect, source.Path)
		}
	}
	return sources, nil
}

// Register passes each selected dialect's source to fn. Every dialect is
// selected unless WithDialects narrows it.
func Register(ctx context.Context, fn RegisterFunc, opts ...Option) ([]Source, error) {
	if fn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	cfg := config{label: DefaultSourceLabel, dialects: []string{DialectPostgres, DialectSQLite}}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	sources, err := Sources()
	if err != nil {
		return nil, err
	}
	var registered []Source
	for _, source := range sources {
		if !slices.Contains(cfg.dialects, source.Dialect) {
			continue
		}
		if err := fn(ctx, cfg.label, source); err != nil {
			return registered, fmt.Errorf("migrations: register %s: %w", source.Dialect, err)
		}
		registered = append(registered, source)
	}
	if len(registered) == 0 {
		return nil, fmt.Errorf("migrations: no migrations for dialects %v", cfg.dialects)
	}
	return registered, nil
}

func locate(root fs.FS) (fs.FS, string, error) {
	if info, err := fs.Stat(root, embeddedRoot); err == nil && info.IsDir() {
		sub, err := fs.Sub(root, embeddedRoot)
		if err != nil {
			return nil, "", fmt.Errorf("migrations: %s: %w", embeddedRoot, err)
		}
		return sub, embeddedRoot, nil
	}
	if matches, err := fs.Glob(root, "*.sql"); err == nil && len(matches) > 0 {
		return root, ".", nil
	}
	return nil, "", fmt.Errorf("migrations: %s not found", embeddedRoot)
}
