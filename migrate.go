package connkit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Migration is one named, ordered, atomic schema change. Name is the
// identity (conventionally a filename) and drives the apply order:
// lexicographic, each unit exactly once.
type Migration struct {
	Name string
	SQL  string
}

// MigrationResult represents the outcome of one applier run
type MigrationResult struct {
	Applied   []AppliedMigration
	Skipped   []string // names that were already recorded
	TotalTime time.Duration
}

// AppliedMigration describes a recorded migration. Duration is only
// populated for units applied during the current run.
type AppliedMigration struct {
	Name      string
	Checksum  string
	AppliedAt time.Time
	Duration  time.Duration
}

// migrationsTable is the record store keyed by migration filename. The
// record insert shares the transaction of the schema change it describes.
const migrationsTable = `
CREATE TABLE IF NOT EXISTS _connkit_migrations (
    filename VARCHAR(255) PRIMARY KEY,
    checksum VARCHAR(64) NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// MigrationsFromFS discovers migration units from .sql files in dir,
// ordered by filename. Works with embed.FS or any fs.FS.
func MigrationsFromFS(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, &Error{
			Code:    CodeConfiguration,
			Message: fmt.Sprintf("cannot read migrations directory %s", dir),
			Op:      "MigrationsFromFS",
			Cause:   err,
		}
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, &Error{
				Code:    CodeConfiguration,
				Message: fmt.Sprintf("cannot read migration file %s", entry.Name()),
				Op:      "MigrationsFromFS",
				Cause:   err,
			}
		}
		migrations = append(migrations, Migration{Name: entry.Name(), SQL: string(content)})
	}

	sortMigrations(migrations)
	return migrations, nil
}

func sortMigrations(migrations []Migration) {
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Name < migrations[j].Name
	})
}

// Checksum returns the content hash recorded for a migration
func Checksum(sql string) string {
	hash := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(hash[:])
}

// applyMigrations applies all unrecorded units in name order. Each unit
// runs inside its own transaction together with its record insert, so a
// failure rolls back entirely and halts the run; earlier units stay
// committed. An empty set is a no-op and touches nothing.
func applyMigrations(ctx context.Context, db *bun.DB, migrations []Migration, verifyChecksums bool, logger *slog.Logger) (*MigrationResult, error) {
	start := time.Now()
	result := &MigrationResult{
		Applied: make([]AppliedMigration, 0),
		Skipped: make([]string, 0),
	}

	if len(migrations) == 0 {
		return result, nil
	}

	units := make([]Migration, len(migrations))
	copy(units, migrations)
	sortMigrations(units)

	if _, err := db.ExecContext(ctx, migrationsTable); err != nil {
		return nil, &Error{
			Code:    CodeMigrationFailed,
			Message: "failed to create migrations table",
			Op:      "Migrate",
			Cause:   err,
		}
	}

	applied, err := appliedChecksums(ctx, db)
	if err != nil {
		return nil, err
	}

	for _, unit := range units {
		checksum := Checksum(unit.SQL)

		if recorded, ok := applied[unit.Name]; ok {
			if verifyChecksums && recorded != checksum {
				return nil, &Error{
					Code:    CodeChecksumMismatch,
					Message: fmt.Sprintf("migration %s has changed since it was applied (recorded %s, current %s)", unit.Name, recorded, checksum),
					Op:      "Migrate",
				}
			}
			result.Skipped = append(result.Skipped, unit.Name)
			continue
		}

		unitStart := time.Now()
		if err := applyOne(ctx, db, unit, checksum); err != nil {
			return nil, err
		}
		took := time.Since(unitStart)

		logger.Info("applied migration",
			slog.String("migration", unit.Name),
			slog.Duration("took", took),
		)

		result.Applied = append(result.Applied, AppliedMigration{
			Name:      unit.Name,
			Checksum:  checksum,
			AppliedAt: time.Now(),
			Duration:  took,
		})
	}

	result.TotalTime = time.Since(start)
	return result, nil
}

// appliedChecksums returns a map of recorded migration name to checksum
func appliedChecksums(ctx context.Context, db *bun.DB) (map[string]string, error) {
	var rows []struct {
		Filename string `bun:"filename"`
		Checksum string `bun:"checksum"`
	}

	err := db.NewSelect().
		TableExpr("_connkit_migrations").
		Column("filename", "checksum").
		Scan(ctx, &rows)
	if err != nil {
		return nil, wrapError(err, "Migrate.GetApplied")
	}

	applied := make(map[string]string, len(rows))
	for _, row := range rows {
		applied[row.Filename] = row.Checksum
	}
	return applied, nil
}

// applyOne executes one unit and its record insert in a single transaction
func applyOne(ctx context.Context, db *bun.DB, unit Migration, checksum string) error {
	return Transaction(ctx, db, func(tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, unit.SQL); err != nil {
			return &Error{
				Code:    CodeMigrationFailed,
				Message: fmt.Sprintf("migration %s failed", unit.Name),
				Op:      "Migrate.Apply",
				Query:   truncateSQL(unit.SQL, 200),
				Cause:   err,
			}
		}

		_, err := tx.NewRaw(`
            INSERT INTO _connkit_migrations (filename, checksum)
            VALUES (?, ?)
        `, unit.Name, checksum).Exec(ctx)
		if err != nil {
			return wrapError(err, "Migrate.Record")
		}

		return nil
	})
}

// Migrate applies any pending configured migrations against the live
// handle. Initialize already runs this; it is exposed for callers that add
// units at runtime or disable migrations during startup.
func (m *Manager) Migrate(ctx context.Context) (*MigrationResult, error) {
	db, err := m.Conn()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	migrations := m.cfg.Migrations
	verify := !m.cfg.SkipChecksumVerify
	m.mu.Unlock()

	return applyMigrations(ctx, db, migrations, verify, m.logger)
}

// MigrationStatusEntry describes one configured unit against the store
type MigrationStatusEntry struct {
	Name          string
	Checksum      string
	Applied       bool
	ChecksumMatch bool // only relevant when Applied is true
}

// MigrationStatus reports which configured units are applied and whether
// their recorded checksums still match the current content
func (m *Manager) MigrationStatus(ctx context.Context) ([]MigrationStatusEntry, error) {
	db, err := m.Conn()
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(ctx, migrationsTable); err != nil {
		return nil, &Error{
			Code:    CodeMigrationFailed,
			Message: "failed to create migrations table",
			Op:      "MigrationStatus",
			Cause:   err,
		}
	}

	applied, err := appliedChecksums(ctx, db)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	units := make([]Migration, len(m.cfg.Migrations))
	copy(units, m.cfg.Migrations)
	m.mu.Unlock()
	sortMigrations(units)

	entries := make([]MigrationStatusEntry, 0, len(units))
	for _, unit := range units {
		checksum := Checksum(unit.SQL)
		entry := MigrationStatusEntry{
			Name:     unit.Name,
			Checksum: checksum,
		}
		if recorded, ok := applied[unit.Name]; ok {
			entry.Applied = true
			entry.ChecksumMatch = recorded == checksum
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// AppliedMigrations returns every recorded migration in apply order
func (m *Manager) AppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	db, err := m.Conn()
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(ctx, migrationsTable); err != nil {
		return nil, &Error{
			Code:    CodeMigrationFailed,
			Message: "failed to create migrations table",
			Op:      "AppliedMigrations",
			Cause:   err,
		}
	}

	var rows []struct {
		Filename  string    `bun:"filename"`
		Checksum  string    `bun:"checksum"`
		AppliedAt time.Time `bun:"applied_at"`
	}

	err = db.NewSelect().
		TableExpr("_connkit_migrations").
		Column("filename", "checksum", "applied_at").
		OrderExpr("applied_at ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, wrapError(err, "AppliedMigrations")
	}

	applied := make([]AppliedMigration, len(rows))
	for i, row := range rows {
		applied[i] = AppliedMigration{
			Name:      row.Filename,
			Checksum:  row.Checksum,
			AppliedAt: row.AppliedAt,
		}
	}
	return applied, nil
}

// truncateSQL truncates SQL for error messages
func truncateSQL(sql string, maxLen int) string {
	if len(sql) <= maxLen {
		return sql
	}
	return sql[:maxLen] + "..."
}
