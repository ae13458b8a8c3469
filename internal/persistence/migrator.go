package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// migrationLockID serialises concurrent migrators (several daemons starting
// against one database) through pg_advisory_xact_lock.
const migrationLockID = 0x6272696467 // "bridg"

// Migrator applies {version}_{name}.up.sql / .down.sql pairs read from an
// fs.FS: the embedded migrations package, or os.DirFS for an override dir.
type Migrator struct {
	db     *sql.DB
	source fs.FS
	logger zerolog.Logger
}

func NewMigrator(db *sql.DB, source fs.FS, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, source: source, logger: logger}
}

type migration struct {
	version string
	up      string
	down    string
}

// Up applies every pending migration, each in its own transaction, and
// returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	set, err := m.load()
	if err != nil {
		return 0, err
	}
	if err := m.ensureMigrationTable(ctx); err != nil {
		return 0, fmt.Errorf("ensure migration table: %w", err)
	}

	ran := 0
	for _, mig := range set {
		applied, err := m.apply(ctx, mig)
		if err != nil {
			return ran, err
		}
		if applied {
			ran++
			m.logger.Info().Str("version", mig.version).Str("file", mig.up).Msg("applied migration")
		}
	}
	return ran, nil
}

// apply runs one up file unless another migrator got there first.
func (m *Migrator) apply(ctx context.Context, mig migration) (bool, error) {
	content, err := fs.ReadFile(m.source, mig.up)
	if err != nil {
		return false, fmt.Errorf("read migration %s: %w", mig.up, err)
	}

	applied := false
	err = m.inLockedTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM public.bridge_schema_migrations WHERE version = $1)`, mig.version,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", mig.version, err)
		}
		if exists {
			return nil
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", mig.up, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO public.bridge_schema_migrations (version, filename) VALUES ($1, $2)`,
			mig.version, mig.up,
		); err != nil {
			return fmt.Errorf("record migration %s: %w", mig.version, err)
		}
		applied = true
		return nil
	})
	return applied, err
}

// Down rolls back the most recently applied migration. A database with
// nothing applied is left alone.
func (m *Migrator) Down(ctx context.Context) error {
	set, err := m.load()
	if err != nil {
		return err
	}
	if err := m.ensureMigrationTable(ctx); err != nil {
		return err
	}
	byVersion := make(map[string]migration, len(set))
	for _, mig := range set {
		byVersion[mig.version] = mig
	}

	var rolledBack string
	err = m.inLockedTx(ctx, func(tx *sql.Tx) error {
		var version string
		err := tx.QueryRowContext(ctx,
			`SELECT version FROM public.bridge_schema_migrations ORDER BY version DESC LIMIT 1`,
		).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("latest migration: %w", err)
		}

		mig, ok := byVersion[version]
		if !ok {
			return fmt.Errorf("applied migration %s has no files in the source", version)
		}
		content, err := fs.ReadFile(m.source, mig.down)
		if err != nil {
			return fmt.Errorf("read down migration %s: %w", mig.down, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("exec down migration %s: %w", mig.down, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM public.bridge_schema_migrations WHERE version = $1`, version,
		); err != nil {
			return fmt.Errorf("remove migration record %s: %w", version, err)
		}
		rolledBack = mig.down
		return nil
	})
	if err != nil {
		return err
	}

	if rolledBack == "" {
		m.logger.Info().Msg("no migrations to roll back")
	} else {
		m.logger.Info().Str("file", rolledBack).Msg("rolled back migration")
	}
	return nil
}

// Pending lists the up files not yet applied, in order.
func (m *Migrator) Pending(ctx context.Context) ([]string, error) {
	set, err := m.load()
	if err != nil {
		return nil, err
	}
	if err := m.ensureMigrationTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, mig := range set {
		if !applied[mig.version] {
			pending = append(pending, mig.up)
		}
	}
	return pending, nil
}

// load pairs up and down files by version. A version missing either half,
// or appearing twice, is an error.
func (m *Migrator) load() ([]migration, error) {
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
		version, _, ok := strings.Cut(name, "_")
		if !ok || version == "" {
			return nil, fmt.Errorf("migration %s: missing version prefix", name)
		}
		mig := byVersion[version]
		if mig == nil {
			mig = &migration{version: version}
			byVersion[version] = mig
		}
		slot := &mig.down
		if up {
			slot = &mig.up
		}
		if *slot != "" {
			return nil, fmt.Errorf("migration %s: duplicate version %s", name, version)
		}
		*slot = name
	}

	set := make([]migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.up == "" || mig.down == "" {
			return nil, fmt.Errorf("migration %s: needs both .up.sql and .down.sql", mig.version)
		}
		set = append(set, *mig)
	}
	sort.Slice(set, func(i, j int) bool { return set[i].version < set[j].version })
	return set, nil
}

func (m *Migrator) inLockedTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		tx.Rollback()
		return fmt.Errorf("migration lock: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (m *Migrator) ensureMigrationTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.bridge_schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.bridge_schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
