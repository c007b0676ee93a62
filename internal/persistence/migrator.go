package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// migrationLockKey serializes migrators across processes through
// pg_advisory_lock. The value is arbitrary but must stay fixed.
const migrationLockKey int64 = 0x4e4f54454c4544 // "NOTELED"

var ErrMissingDownMigration = errors.New("persistence: no down migration")

// Migrator applies {version}_{name}.up.sql / .down.sql files, the
// golang-migrate naming, and records them in public.schema_migrations.
// Each file runs in its own transaction while the advisory lock is held.
type Migrator struct {
	db     *sql.DB
	source fs.FS
	logger zerolog.Logger
}

// NewMigrator reads migration files from dir on disk.
func NewMigrator(db *sql.DB, dir string, logger zerolog.Logger) *Migrator {
	return NewMigratorFS(db, os.DirFS(dir), logger)
}

// NewMigratorFS reads migration files from source, such as migrations.FS.
func NewMigratorFS(db *sql.DB, source fs.FS, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, source: source, logger: logger}
}

// MigrationStatus is one row of Status.
type MigrationStatus struct {
	Version   string
	Filename  string
	Applied   bool
	AppliedAt time.Time
}

type migration struct {
	version string
	up      string
	down    string
}

// Up applies every migration not yet recorded, oldest first.
func (m *Migrator) Up(ctx context.Context) error {
	plan, err := m.plan()
	if err != nil {
		return err
	}

	return m.locked(ctx, func(conn *sql.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}

		var n int
		for _, mg := range plan {
			if _, ok := applied[mg.version]; ok || mg.up == "" {
				continue
			}
			if err := m.exec(ctx, conn, mg.up, func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx,
					`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
					mg.version, mg.up)
				return err
			}); err != nil {
				return err
			}
			m.logger.Info().Str("file", mg.up).Msg("applied migration")
			n++
		}
		if n == 0 {
			m.logger.Info().Msg("schema is up to date")
		}
		return nil
	})
}

// Down reverts the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	plan, err := m.plan()
	if err != nil {
		return err
	}

	return m.locked(ctx, func(conn *sql.Conn) error {
		var version string
		err := conn.QueryRowContext(ctx,
			`SELECT version FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
		).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			m.logger.Info().Msg("no migrations to roll back")
			return nil
		}
		if err != nil {
			return fmt.Errorf("latest migration: %w", err)
		}

		var target *migration
		for i := range plan {
			if plan[i].version == version {
				target = &plan[i]
			}
		}
		if target == nil || target.down == "" {
			return fmt.Errorf("%w for version %s", ErrMissingDownMigration, version)
		}

		if err := m.exec(ctx, conn, target.down, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `DELETE FROM public.schema_migrations WHERE version = $1`, version)
			return err
		}); err != nil {
			return err
		}
		m.logger.Info().Str("file", target.down).Msg("rolled back migration")
		return nil
	})
}

// Status lists every up migration and when it was applied.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	plan, err := m.plan()
	if err != nil {
		return nil, err
	}

	var out []MigrationStatus
	err = m.locked(ctx, func(conn *sql.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		for _, mg := range plan {
			if mg.up == "" {
				continue
			}
			at, ok := applied[mg.version]
			out = append(out, MigrationStatus{Version: mg.version, Filename: mg.up, Applied: ok, AppliedAt: at})
		}
		return nil
	})
	return out, err
}

// locked runs fn on one connection holding the migration advisory lock,
// after making sure the bookkeeping table exists.
func (m *Migrator) locked(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migration conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey)

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return fn(conn)
}

// exec runs file and then record in a single transaction.
func (m *Migrator) exec(ctx context.Context, conn *sql.Conn, file string, record func(*sql.Tx) error) error {
	body, err := fs.ReadFile(m.source, file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		tx.Rollback()
		return fmt.Errorf("exec %s: %w", file, err)
	}
	if err := record(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("record %s: %w", file, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", file, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[string]time.Time, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, applied_at FROM public.schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var v string
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, err
		}
		applied[v] = at
	}
	return applied, rows.Err()
}

// plan pairs up and down files by version, sorted by version.
func (m *Migrator) plan() ([]migration, error) {
	entries, err := fs.ReadDir(m.source, ".")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[string]*migration)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		var up bool
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			up = true
		case strings.HasSuffix(name, ".down.sql"):
		default:
			continue
		}

		v := migrationVersion(name)
		mg, ok := byVersion[v]
		if !ok {
			mg = &migration{version: v}
			byVersion[v] = mg
		}
		if up {
			mg.up = name
		} else {
			mg.down = name
		}
	}

	plan := make([]migration, 0, len(byVersion))
	for _, mg := range byVersion {
		plan = append(plan, *mg)
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].version < plan[j].version })
	return plan, nil
}

// migrationVersion is the prefix before the first underscore:
// "000001_event_log.up.sql" -> "000001".
func migrationVersion(name string) string {
	v, _, _ := strings.Cut(name, "_")
	return v
}
