package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"

	"github.com/pressly/goose/v3"
)

// Migrator applies pending schema migrations. *goose.Provider satisfies it.
type Migrator interface {
	Up(ctx context.Context) ([]*goose.MigrationResult, error)
}

// NewMigrator builds a goose provider for the migrations in fsys. Versions are
// tracked in goose's own version table.
func NewMigrator(db *sql.DB, fsys fs.FS) (*goose.Provider, error) {
	return goose.NewProvider(goose.DialectPostgres, db, fsys)
}

// Migrate runs every pending migration and returns the file names applied,
// including those that succeeded before a failure.
func Migrate(ctx context.Context, m Migrator) ([]string, error) {
	results, err := m.Up(ctx)
	var partial *goose.PartialError
	if errors.As(err, &partial) {
		results = partial.Applied
	}
	ran := appliedNames(results)
	if err == nil {
		return ran, nil
	}
	if partial != nil && partial.Failed != nil && partial.Failed.Source != nil {
		return ran, fmt.Errorf("migrate: apply %s: %w", path.Base(partial.Failed.Source.Path), partial.Err)
	}
	return ran, fmt.Errorf("migrate: %w", err)
}

func appliedNames(results []*goose.MigrationResult) []string {
	var names []string
	for _, r := range results {
		if r == nil || r.Source == nil || r.Error != nil {
			continue
		}
		names = append(names, path.Base(r.Source.Path))
	}
	return names
}
