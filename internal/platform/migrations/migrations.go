// Package migrations embeds the schema and applies it in file-name order.
// Every statement is idempotent so Apply is safe to run on each start.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

//go:embed sql/*.sql
var files embed.FS

// Execer is satisfied by *sql.DB, *sql.Tx and *sqlx.DB.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Names lists the embedded migrations in the order Apply runs them.
func Names() ([]string, error) {
	entries, err := fs.ReadDir(files, "sql")
	if err != nil {
		return nil, errors.Wrap(err, "read embedded migrations")
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Apply executes every embedded migration against db.
func Apply(ctx context.Context, db Execer) error {
	names, err := Names()
	if err != nil {
		return err
	}
	for _, name := range names {
		body, err := files.ReadFile("sql/" + name)
		if err != nil {
			return errors.Wrapf(err, "read migration %s", name)
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return errors.Wrapf(err, "apply migration %s", name)
		}
	}
	return nil
}
