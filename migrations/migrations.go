// Package migrations embeds the SQL schema.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"voice-platform/pkg/utils"
)

//go:embed *.sql
var files embed.FS

// Scripts returns the embedded migration files in apply order.
func Scripts() ([]string, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Apply runs every script in one transaction. Scripts use IF NOT EXISTS, so
// re-running against an initialized database is a no-op.
func Apply(ctx context.Context, db *sql.DB) error {
	names, err := Scripts()
	if err != nil {
		return err
	}
	return utils.WithTx(ctx, db, nil, func(ctx context.Context, tx *sql.Tx) error {
		for _, name := range names {
			body, err := files.ReadFile(name)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, string(body)); err != nil {
				return fmt.Errorf("apply %s: %w", name, err)
			}
		}
		return nil
	})
}
