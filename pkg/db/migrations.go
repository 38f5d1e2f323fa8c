package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"kis_trader/pkg/logger"
	"sort"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrations returns the embedded schema files in apply order.
func Migrations() ([]string, error) {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Migrate applies every embedded file inside a single transaction. Statements are idempotent.
func (m *PgTxManager) Migrate(ctx context.Context) error {
	names, err := Migrations()
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	return m.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		for _, name := range names {
			body, err := migrationFS.ReadFile(name)
			if err != nil {
				return fmt.Errorf("read %s: %w", name, err)
			}
			if _, err := tx.Exec(ctxTx, string(body)); err != nil {
				return fmt.Errorf("apply %s: %w", name, err)
			}
			logger.Info("[DB] applied %s", name)
		}
		return nil
	})
}
