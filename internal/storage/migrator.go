package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrator applies embedded SQL migrations in lexical order and records
// applied versions in a schema_migrations table.
type Migrator struct {
	client *ClickHouseClient
	logger *slog.Logger
}

// NewMigrator creates a migrator for the given client.
func NewMigrator(client *ClickHouseClient, logger *slog.Logger) *Migrator {
	return &Migrator{client: client, logger: logger}
}

// Run applies all pending migrations. Already-applied migrations are
// skipped, so Run is safe to call on every startup.
func (m *Migrator) Run(ctx context.Context) error {
	if err := m.client.EnsureDatabase(ctx); err != nil {
		return WrapMigrationError("EnsureDatabase", err)
	}

	if err := m.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return err
	}

	names, err := m.migrationNames()
	if err != nil {
		return err
	}

	for _, name := range names {
		version := strings.TrimSuffix(name, ".sql")
		if applied[version] {
			continue
		}

		m.logger.Info("applying migration", "version", version)

		content, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return WrapMigrationError("ReadFile", err)
		}

		// Migration files reference the database as {db} so a single set
		// of migrations serves any configured database name. ClickHouse
		// executes one statement per Exec.
		sql := strings.ReplaceAll(string(content), "{db}", m.client.Database())
		for _, stmt := range splitStatements(sql) {
			if err := m.client.Exec(ctx, stmt); err != nil {
				return WrapMigrationError(fmt.Sprintf("apply %s", version), err)
			}
		}

		if err := m.recordVersion(ctx, version); err != nil {
			return err
		}
	}

	return nil
}

func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.schema_migrations (
			version String,
			applied_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = MergeTree()
		ORDER BY version
	`, m.client.Database())

	if err := m.client.Exec(ctx, query); err != nil {
		return WrapMigrationError("ensureMigrationsTable", err)
	}
	return nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	query := fmt.Sprintf("SELECT version FROM %s.schema_migrations", m.client.Database())

	rows, err := m.client.Query(ctx, query)
	if err != nil {
		return nil, WrapMigrationError("appliedVersions", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, WrapMigrationError("scan version", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) recordVersion(ctx context.Context, version string) error {
	query := fmt.Sprintf(
		"INSERT INTO %s.schema_migrations (version, applied_at) VALUES (?, ?)",
		m.client.Database(),
	)
	if err := m.client.Exec(ctx, query, version, time.Now()); err != nil {
		return WrapMigrationError("recordVersion", err)
	}
	return nil
}

func (m *Migrator) migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, WrapMigrationError("ReadDir", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func splitStatements(content string) []string {
	parts := strings.Split(content, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
