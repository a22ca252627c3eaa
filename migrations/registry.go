package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	webhooks "github.com/goliatone/go-webhooks"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	DefaultSourceLabel = "go-webhooks"
)

type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type Registration struct {
	SourceLabel       string
	ValidationTargets []string
	Filesystems       []FilesystemSpec
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

func WithSourceLabel(label string) Option {
	return func(r *Registration) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			r.SourceLabel = trimmed
		}
	}
}

func WithValidationTargets(targets ...string) Option {
	return func(r *Registration) {
		if next := dedupe(targets); len(next) > 0 {
			r.ValidationTargets = next
		}
	}
}

// Filesystems splits the embedded watermark schema into one filesystem per
// dialect. Each must carry at least one *.up.sql file.
func Filesystems(sources ...fs.FS) ([]FilesystemSpec, error) {
	root := webhooks.GetMigrationsFS()
	if len(sources) > 0 && sources[0] != nil {
		root = sources[0]
	}
	base, err := fs.Sub(root, "data/sql/migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations: data/sql/migrations not found: %w", err)
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite filesystem: %w", err)
	}

	filesystems := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: "data/sql/migrations", FS: base},
		{Dialect: DialectSQLite, Path: "data/sql/migrations/sqlite", FS: sqliteFS},
	}
	for _, spec := range filesystems {
		matches, globErr := fs.Glob(spec.FS, "*.up.sql")
		if globErr != nil {
			return nil, fmt.Errorf("migrations: glob %s %s: %w", spec.Dialect, spec.Path, globErr)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("migrations: %s filesystem %q has no *.up.sql files", spec.Dialect, spec.Path)
		}
	}
	return filesystems, nil
}

// Register hands each targeted dialect filesystem to registerFn.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel:       DefaultSourceLabel,
		ValidationTargets: []string{DialectPostgres, DialectSQLite},
	}
	filesystems, err := Filesystems()
	if err != nil {
		return reg, err
	}
	reg.Filesystems = filesystems
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}

	for _, spec := range reg.Filesystems {
		if !slices.Contains(reg.ValidationTargets, spec.Dialect) {
			continue
		}
		if err := registerFn(ctx, spec.Dialect, reg.SourceLabel, spec.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", spec.Dialect, spec.Path, err)
		}
	}
	return reg, nil
}

// RegisterDialect hands the schema for the driver's dialect to register,
// typically a persistence client's RegisterSQLMigrations.
func RegisterDialect(ctx context.Context, driver string, register func(fsys fs.FS)) error {
	if register == nil {
		return fmt.Errorf("migrations: register function is required")
	}
	_, err := Register(ctx, func(_ context.Context, _ string, _ string, fsys fs.FS) error {
		register(fsys)
		return nil
	}, WithValidationTargets(NormalizeDialect(driver)))
	return err
}

// NormalizeDialect maps driver names onto a migration dialect.
func NormalizeDialect(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		return DialectSQLite
	default:
		return DialectPostgres
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(strings.ToLower(value))
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
