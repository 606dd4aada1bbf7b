package database

import (
	"fmt"
	"io/fs"
	"sort"

	dbsql "github.com/Carey99/RentEase-sub000/pkg/database/sql"
	"github.com/Carey99/RentEase-sub000/pkg/logging"
)

// ApplySchema runs the embedded schema files in lexical order. Statements are
// written to be idempotent, so this is safe on every startup.
func ApplySchema(conn PostgresConn, logger logging.Logger) error {
	entries, err := fs.ReadDir(dbsql.Content, "schema")
	if err != nil {
		return fmt.Errorf("failed to read embedded schema: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := fs.ReadFile(dbsql.Content, "schema/"+name)
		if err != nil {
			return fmt.Errorf("failed to read schema file %s: %w", name, err)
		}
		if _, err := conn.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to apply schema file %s: %w", name, err)
		}
		logger.WithField("file", name).Info("Applied schema file")
	}
	return nil
}
