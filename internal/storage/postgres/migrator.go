package postgres

import (
	"cmp"
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// schemaLockName — имя advisory-блокировки, под которой меняется схема витрины.
const schemaLockName = "storefront_schema_migrations"

const schemaLedgerDDL = `
CREATE TABLE IF NOT EXISTS storefront_schema_migrations (
    version    BIGINT PRIMARY KEY,
    name       TEXT NOT NULL,
    checksum   TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// ErrSchemaDrift — применённая миграция отличается от файла в сборке.
var ErrSchemaDrift = errors.New("applied migration differs from embedded file")

//go:embed sql/migrations/*.sql
var schemaFiles embed.FS

var schemaFileName = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)

// schemaStep — пара up/down файлов одной версии схемы.
type schemaStep struct {
	Version  int64
	Name     string
	Up       string
	Down     string
	Checksum string
}

func (s schemaStep) String() string {
	return fmt.Sprintf("%04d_%s", s.Version, s.Name)
}

// MigrateUp применяет до steps неприменённых миграций; steps <= 0 применяет все.
// Перед применением сверяет контрольные суммы уже применённых версий.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withSchemaLock(ctx, func(conn *sql.Conn, plan []schemaStep, applied map[int64]string) error {
		if err := verifyApplied(plan, applied); err != nil {
			return err
		}
		done := 0
		for _, step := range plan {
			if _, ok := applied[step.Version]; ok {
				continue
			}
			if steps > 0 && done == steps {
				break
			}
			if err := runStep(ctx, conn, step, true); err != nil {
				return err
			}
			done++
		}
		return nil
	})
}

// MigrateDown откатывает steps последних применённых миграций; steps <= 0 значит одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	steps = max(steps, 1)
	return s.withSchemaLock(ctx, func(conn *sql.Conn, plan []schemaStep, applied map[int64]string) error {
		byVersion := make(map[int64]schemaStep, len(plan))
		for _, step := range plan {
			byVersion[step.Version] = step
		}
		versions := make([]int64, 0, len(applied))
		for v := range applied {
			versions = append(versions, v)
		}
		slices.Sort(versions)
		slices.Reverse(versions)

		for _, v := range versions[:min(steps, len(versions))] {
			step, ok := byVersion[v]
			if !ok {
				return fmt.Errorf("rollback version %d: no migration file in this build", v)
			}
			if err := runStep(ctx, conn, step, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrationStatus возвращает последнюю применённую версию и число применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errStoreClosed
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaLedgerDDL); err != nil {
		return 0, 0, fmt.Errorf("create migration ledger: %w", err)
	}
	var (
		version int64
		count   int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM storefront_schema_migrations`,
	).Scan(&version, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("read migration ledger: %w", err)
	}
	return version, count, nil
}

// withSchemaLock держит advisory-блокировку на выделенном соединении, пока выполняется fn.
func (s *Store) withSchemaLock(ctx context.Context, fn func(conn *sql.Conn, plan []schemaStep, applied map[int64]string) error) error {
	if s == nil || s.db == nil {
		return errStoreClosed
	}
	plan, err := loadSchemaSteps(schemaFiles)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := withTimeout(ctx)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock(hashtext($1))`, schemaLockName); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock(hashtext($1))`, schemaLockName)
	}()

	if _, err := conn.ExecContext(ctx, schemaLedgerDDL); err != nil {
		return fmt.Errorf("create migration ledger: %w", err)
	}
	applied, err := appliedChecksums(ctx, conn)
	if err != nil {
		return err
	}
	return fn(conn, plan, applied)
}

func runStep(ctx context.Context, conn *sql.Conn, step schemaStep, up bool) error {
	direction, body := "down", step.Down
	if up {
		direction, body = "up", step.Up
	}
	err := inTx(ctx, conn, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, body); err != nil {
			return err
		}
		if up {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO storefront_schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
				step.Version, step.Name, step.Checksum)
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM storefront_schema_migrations WHERE version = $1`, step.Version)
		return err
	})
	if err != nil {
		return fmt.Errorf("migrate %s %s: %w", direction, step, err)
	}
	log.WithFields(log.Fields{"component": "schema", "migration": step.String()}).Infof("migration %s applied", direction)
	return nil
}

func appliedChecksums(ctx context.Context, conn *sql.Conn) (map[int64]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM storefront_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read migration ledger: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]string)
	for rows.Next() {
		var (
			version  int64
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("scan migration ledger: %w", err)
		}
		applied[version] = checksum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration ledger: %w", err)
	}
	return applied, nil
}

// verifyApplied требует, чтобы up-файл каждой применённой версии не менялся после применения.
func verifyApplied(plan []schemaStep, applied map[int64]string) error {
	for _, step := range plan {
		sum, ok := applied[step.Version]
		if ok && sum != step.Checksum {
			return fmt.Errorf("%w: %s", ErrSchemaDrift, step)
		}
	}
	return nil
}

// loadSchemaSteps собирает шаги из файлов вида 0001_name.up.sql / 0001_name.down.sql.
func loadSchemaSteps(fsys fs.FS) ([]schemaStep, error) {
	files, err := fs.Glob(fsys, "sql/migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files embedded")
	}

	byVersion := make(map[int64]*schemaStep)
	for _, file := range files {
		base := path.Base(file)
		m := schemaFileName.FindStringSubmatch(base)
		if m == nil {
			return nil, fmt.Errorf("unexpected migration file name %q", base)
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration version in %q: %w", base, err)
		}
		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file %q is empty", base)
		}

		step, ok := byVersion[version]
		if !ok {
			step = &schemaStep{Version: version, Name: m[2]}
			byVersion[version] = step
		}
		if step.Name != m[2] {
			return nil, fmt.Errorf("version %d has two names: %s and %s", version, step.Name, m[2])
		}
		target := &step.Down
		if m[3] == "up" {
			target = &step.Up
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s file for version %d", m[3], version)
		}
		*target = body
	}

	plan := make([]schemaStep, 0, len(byVersion))
	for _, step := range byVersion {
		if step.Up == "" || step.Down == "" {
			return nil, fmt.Errorf("migration %s needs both up and down files", step)
		}
		sum := sha256.Sum256([]byte(step.Up))
		step.Checksum = hex.EncodeToString(sum[:])
		plan = append(plan, *step)
	}
	slices.SortFunc(plan, func(a, b schemaStep) int { return cmp.Compare(a.Version, b.Version) })
	return plan, nil
}
