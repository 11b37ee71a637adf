package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// importRowTimeout ограничивает обработку одной строки файла.
const importRowTimeout = 30 * time.Second

type importStore struct {
	db *sql.DB
}

// NewImportStore создаёт PostgreSQL-хранилище движка импорта.
// Запросы строятся только из колонок описания сущности.
func NewImportStore(store *Store) domain.ImportStore {
	return &importStore{db: store.DB()}
}

func (r *importStore) RunRowTx(ctx context.Context, fn func(ctx context.Context, tx domain.ImportTx) error) error {
	ctx, cancel := context.WithTimeout(ctx, importRowTimeout)
	defer cancel()

	return inTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		return fn(ctx, &importTx{tx: tx})
	})
}

func (r *importStore) AllIDs(ctx context.Context, entity domain.EntityDescriptor) ([]int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT id FROM %s ORDER BY id`, entity.Table))
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", entity.Table, err)
	}
	return collectIDs(rows)
}

func (r *importStore) InactiveIDs(ctx context.Context, entity domain.EntityDescriptor) ([]int64, error) {
	if entity.ActiveColumn == "" {
		return nil, nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id FROM %s WHERE NOT %s ORDER BY id`, entity.Table, entity.ActiveColumn,
	))
	if err != nil {
		return nil, fmt.Errorf("list inactive %s: %w", entity.Table, err)
	}
	return collectIDs(rows)
}

func (r *importStore) Deactivate(ctx context.Context, entity domain.EntityDescriptor, ids []int64) error {
	return r.setFlag(ctx, entity, entity.ActiveColumn, ids, false)
}

func (r *importStore) Activate(ctx context.Context, entity domain.EntityDescriptor, ids []int64) error {
	return r.setFlag(ctx, entity, entity.ActiveColumn, ids, true)
}

func (r *importStore) SetNotInStock(ctx context.Context, entity domain.EntityDescriptor, ids []int64) error {
	return r.setFlag(ctx, entity, entity.InStockColumn, ids, false)
}

func (r *importStore) setFlag(ctx context.Context, entity domain.EntityDescriptor, column string, ids []int64, value bool) error {
	if column == "" || len(ids) == 0 {
		return nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET %s = $1 WHERE id = ANY($2)`, entity.Table, column,
	), value, ids); err != nil {
		return fmt.Errorf("set %s.%s: %w", entity.Table, column, err)
	}
	return nil
}

func (r *importStore) Delete(ctx context.Context, entity domain.EntityDescriptor, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, entity.Table), ids); err != nil {
		return deleteError(entity, err)
	}
	return nil
}

func deleteError(entity domain.EntityDescriptor, err error) error {
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: %s is referenced", domain.ErrConflict, entity.Name)
	}
	return fmt.Errorf("delete %s: %w", entity.Table, err)
}

type importTx struct {
	tx *sql.Tx
}

// recordColumns возвращает колонки хранилища в порядке описания.
func recordColumns(entity domain.EntityDescriptor) []domain.EntityField {
	fields := make([]domain.EntityField, 0, len(entity.Fields)+1)
	for _, f := range entity.Fields {
		if f.Column != "" {
			fields = append(fields, f)
		}
	}
	if entity.ThumbnailColumn != "" {
		fields = append(fields, domain.EntityField{Name: entity.ThumbnailColumn, Column: entity.ThumbnailColumn, Kind: domain.FieldScalar, Type: domain.ValueText})
	}
	return fields
}

func columnField(entity domain.EntityDescriptor, column string) (domain.EntityField, bool) {
	for _, f := range recordColumns(entity) {
		if f.Column == column {
			return f, true
		}
	}
	return domain.EntityField{}, false
}

func (t *importTx) FindByUnique(ctx context.Context, entity domain.EntityDescriptor, keys domain.ImportRecord) (int64, error) {
	if len(keys) == 0 {
		return 0, domain.ErrRecordNotFound
	}

	var w whereBuilder
	for _, column := range sortedColumns(keys) {
		if _, ok := columnField(entity, column); !ok {
			return 0, fmt.Errorf("%w: %s.%s", domain.ErrUnknownField, entity.Name, column)
		}
		w.add(column + " = " + w.arg(keys[column]))
	}

	var id int64
	err := t.tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT id FROM %s%s ORDER BY id LIMIT 1`, entity.Table, w.sql()), w.args...).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrRecordNotFound
		}
		return 0, fmt.Errorf("find %s by unique: %w", entity.Table, err)
	}
	return id, nil
}

func (t *importTx) Get(ctx context.Context, entity domain.EntityDescriptor, id int64) (domain.ImportRecord, error) {
	fields := recordColumns(entity)
	columns := make([]string, len(fields))
	dest := make([]any, len(fields))
	for i, f := range fields {
		columns[i] = f.Column
		dest[i] = scanTarget(f)
	}

	err := t.tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE id = $1`, strings.Join(columns, ", "), entity.Table,
	), id).Scan(dest...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("get %s: %w", entity.Table, err)
	}

	rec := make(domain.ImportRecord, len(fields))
	for i, f := range fields {
		rec[f.Column] = scannedValue(dest[i])
	}
	return rec, nil
}

func (t *importTx) Create(ctx context.Context, entity domain.EntityDescriptor, values domain.ImportRecord) (int64, error) {
	var (
		columns      []string
		placeholders []string
		w            whereBuilder
	)
	for _, column := range sortedColumns(values) {
		f, ok := columnField(entity, column)
		if !ok {
			return 0, fmt.Errorf("%w: %s.%s", domain.ErrUnknownField, entity.Name, column)
		}
		value := storeValue(entity, f, values[column])
		if value == nil {
			continue
		}
		columns = append(columns, column)
		placeholders = append(placeholders, w.arg(value))
	}

	query := fmt.Sprintf(`INSERT INTO %s DEFAULT VALUES RETURNING id`, entity.Table)
	if len(columns) > 0 {
		query = fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING id`,
			entity.Table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	}

	var id int64
	if err := t.tx.QueryRowContext(ctx, query, w.args...).Scan(&id); err != nil {
		return 0, importWriteError(entity, err)
	}

	if _, explicit := values["id"]; explicit {
		if _, err := t.tx.ExecContext(ctx, fmt.Sprintf(
			`SELECT setval(pg_get_serial_sequence('%s', 'id'), GREATEST((SELECT MAX(id) FROM %s), 1))`,
			entity.Table, entity.Table,
		)); err != nil {
			return 0, fmt.Errorf("sync %s id sequence: %w", entity.Table, err)
		}
	}
	return id, nil
}

func (t *importTx) Update(ctx context.Context, entity domain.EntityDescriptor, id int64, values domain.ImportRecord) error {
	var (
		sets []string
		w    whereBuilder
	)
	for _, column := range sortedColumns(values) {
		if column == "id" {
			continue
		}
		f, ok := columnField(entity, column)
		if !ok {
			return fmt.Errorf("%w: %s.%s", domain.ErrUnknownField, entity.Name, column)
		}
		sets = append(sets, column+" = "+w.arg(storeValue(entity, f, values[column])))
	}
	if len(sets) == 0 {
		return nil
	}

	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET %s WHERE id = %s`, entity.Table, strings.Join(sets, ", "), w.arg(id),
	), w.args...)
	if err != nil {
		return importWriteError(entity, err)
	}
	return mustAffect(res, domain.ErrRecordNotFound)
}

func (t *importTx) SetRelation(ctx context.Context, entity domain.EntityDescriptor, field domain.EntityField, id int64, targetIDs []int64, mode domain.RelationMode) error {
	if field.Kind != domain.FieldMultiRelation || field.JoinTable == "" {
		return fmt.Errorf("%w: %s.%s", domain.ErrUnknownField, entity.Name, field.Name)
	}
	return replaceJoin(ctx, t.tx, field.JoinTable, field.OwnerColumn, field.TargetColumn, id, targetIDs, mode)
}

func (t *importTx) Delete(ctx context.Context, entity domain.EntityDescriptor, id int64) error {
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, entity.Table), id)
	if err != nil {
		return deleteError(entity, err)
	}
	return mustAffect(res, domain.ErrRecordNotFound)
}

func importWriteError(entity domain.EntityDescriptor, err error) error {
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("%s %s: %w", entity.Name, constraintName(err), domain.ErrConflict)
	case isForeignKeyViolation(err):
		return fmt.Errorf("%s %s: %w", entity.Name, constraintName(err), domain.ErrRecordNotFound)
	default:
		return fmt.Errorf("write %s: %w", entity.Table, err)
	}
}

// storeValue приводит значение записи к аргументу запроса.
// Пустые ссылки и пустой slug товара сохраняются как NULL.
func storeValue(entity domain.EntityDescriptor, f domain.EntityField, v any) any {
	switch f.Kind {
	case domain.FieldRelation:
		switch id := v.(type) {
		case int64:
			if id == 0 {
				return nil
			}
		case int:
			if id == 0 {
				return nil
			}
			return int64(id)
		}
	case domain.FieldDecimal:
		switch d := v.(type) {
		case decimal.Decimal:
			return d
		case decimal.NullDecimal:
			if !d.Valid {
				return nil
			}
			return d.Decimal
		}
	}
	if s, ok := v.(string); ok && s == "" && entity.Name == domain.EntityProduct && f.Column == "slug" {
		return nil
	}
	return v
}

func scanTarget(f domain.EntityField) any {
	switch {
	case f.Kind == domain.FieldBoolean:
		return new(sql.NullBool)
	case f.Kind == domain.FieldDecimal:
		return new(decimal.NullDecimal)
	case f.Kind == domain.FieldRelation || f.Type == domain.ValueInt:
		return new(sql.NullInt64)
	default:
		return new(sql.NullString)
	}
}

func scannedValue(dest any) any {
	switch v := dest.(type) {
	case *sql.NullBool:
		if v.Valid {
			return v.Bool
		}
	case *decimal.NullDecimal:
		if v.Valid {
			return v.Decimal
		}
	case *sql.NullInt64:
		if v.Valid {
			return v.Int64
		}
	case *sql.NullString:
		if v.Valid {
			return v.String
		}
	}
	return nil
}

func sortedColumns(rec domain.ImportRecord) []string {
	columns := make([]string, 0, len(rec))
	for column := range rec {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

var (
	_ domain.ImportStore = (*importStore)(nil)
	_ domain.ImportTx    = (*importTx)(nil)
)
