package sqlite

import (
	"context"
	"database/sql"

	"github.com/ctxkeeper/ctxkeeper/internal/storage/sqlite/migrate"
)

// registeredMigrations is the ordered set of schema migrations applied to
// every freshly opened or reopened database. Unlike the teacher's ad hoc
// per-version MigrateXxx(db) functions, each entry here is registered
// once with the migrate.Manager, which records {version, applied_at,
// success, execution_time} and supports apply-one/apply-all/rollback/
// dry-run uniformly (spec.md §4.2).
var registeredMigrations = []migrate.Migration{
	{
		Version: "001",
		Name:    "initial_schema",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			for _, stmt := range schemaStatements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			return nil
		},
		// The base schema has no meaningful rollback: dropping every table
		// would destroy the only copy of the data it holds.
		Down: nil,
	},
}
