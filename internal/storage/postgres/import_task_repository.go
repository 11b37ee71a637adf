package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type importTaskRepository struct {
	db *sql.DB
}

// NewImportTaskRepository создаёт PostgreSQL-реализацию ImportTaskRepository.
func NewImportTaskRepository(store *Store) domain.ImportTaskRepository {
	return &importTaskRepository{db: store.DB()}
}

const taskColumns = `id, file_path, user_id, status, COALESCE(setting_id, 0), errors, created_at, end_at`

func scanTask(row interface{ Scan(...any) error }) (domain.ImportTask, error) {
	var (
		task   domain.ImportTask
		status string
		errs   []byte
		endAt  sql.NullTime
	)
	if err := row.Scan(&task.ID, &task.FilePath, &task.UserID, &status, &task.SettingID, &errs, &task.CreatedAt, &endAt); err != nil {
		return domain.ImportTask{}, err
	}
	task.Status = domain.ImportStatus(status)
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &task.Errors); err != nil {
			return domain.ImportTask{}, fmt.Errorf("decode import task errors: %w", err)
		}
	}
	if endAt.Valid {
		t := endAt.Time
		task.EndAt = &t
	}
	return task, nil
}

func encodeTaskErrors(errs []string) ([]byte, error) {
	if errs == nil {
		errs = []string{}
	}
	raw, err := json.Marshal(errs)
	if err != nil {
		return nil, fmt.Errorf("encode import task errors: %w", err)
	}
	return raw, nil
}

func (r *importTaskRepository) CreateTask(ctx context.Context, task domain.ImportTask) (domain.ImportTask, error) {
	if task.Status == "" {
		task.Status = domain.ImportStatusPending
	}
	errs, err := encodeTaskErrors(task.Errors)
	if err != nil {
		return domain.ImportTask{}, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	task.CreatedAt = time.Now().UTC()
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO import_tasks (file_path, user_id, status, setting_id, errors, created_at, end_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, task.FilePath, task.UserID, string(task.Status), nullID(task.SettingID), errs, task.CreatedAt, task.EndAt).Scan(&task.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ImportTask{}, domain.ErrImportSettingNotFound
		}
		return domain.ImportTask{}, fmt.Errorf("insert import task: %w", err)
	}
	return task, nil
}

func (r *importTaskRepository) GetTask(ctx context.Context, id int64) (domain.ImportTask, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	task, err := scanTask(r.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM import_tasks WHERE id = $1", id))
	if err != nil {
		return domain.ImportTask{}, notFound(err, domain.ErrImportTaskNotFound)
	}
	return task, nil
}

func (r *importTaskRepository) UpdateTask(ctx context.Context, task domain.ImportTask) (domain.ImportTask, error) {
	errs, err := encodeTaskErrors(task.Errors)
	if err != nil {
		return domain.ImportTask{}, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE import_tasks
		SET file_path = $2, user_id = $3, status = $4, setting_id = $5, errors = $6, end_at = $7
		WHERE id = $1
	`, task.ID, task.FilePath, task.UserID, string(task.Status), nullID(task.SettingID), errs, task.EndAt)
	if err != nil {
		return domain.ImportTask{}, fmt.Errorf("update import task: %w", err)
	}
	if err := mustAffect(res, domain.ErrImportTaskNotFound); err != nil {
		return domain.ImportTask{}, err
	}
	return r.GetTask(ctx, task.ID)
}

func (r *importTaskRepository) ListTasks(ctx context.Context, limit, offset int) ([]domain.ImportTask, int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM import_tasks`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count import tasks: %w", err)
	}

	query := "SELECT " + taskColumns + " FROM import_tasks ORDER BY id DESC OFFSET $1"
	args := []any{offset}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list import tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]domain.ImportTask, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan import task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate import tasks: %w", err)
	}
	return tasks, total, nil
}

func (r *importTaskRepository) DeleteTask(ctx context.Context, id int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM import_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete import task: %w", err)
	}
	return mustAffect(res, domain.ErrImportTaskNotFound)
}

const settingColumns = `
	id, name, slug, fields, path_to_images, items_not_in_file_action,
	inactive_items_action, relation_mode, remove_existing_price_if_empty, created_at`

func scanSetting(row interface{ Scan(...any) error }) (domain.ImportSetting, error) {
	var (
		s                        domain.ImportSetting
		fields                   []byte
		notInFile, inactive, rel string
	)
	if err := row.Scan(
		&s.ID, &s.Name, &s.Slug, &fields, &s.PathToImages, &notInFile,
		&inactive, &rel, &s.RemoveExistingPriceIfEmpty, &s.CreatedAt,
	); err != nil {
		return domain.ImportSetting{}, err
	}
	s.ItemsNotInFileAction = domain.NotInFileAction(notInFile)
	s.InactiveItemsAction = domain.InactiveItemsAction(inactive)
	s.RelationMode = domain.RelationMode(rel)
	if err := json.Unmarshal(fields, &s.Fields); err != nil {
		return domain.ImportSetting{}, fmt.Errorf("decode import setting fields: %w", err)
	}
	return s, nil
}

func (r *importTaskRepository) CreateSetting(ctx context.Context, s domain.ImportSetting) (domain.ImportSetting, error) {
	fields, err := json.Marshal(s.Fields)
	if err != nil {
		return domain.ImportSetting{}, fmt.Errorf("encode import setting fields: %w", err)
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	s.CreatedAt = time.Now().UTC()
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO import_settings (
			name, slug, fields, path_to_images, items_not_in_file_action,
			inactive_items_action, relation_mode, remove_existing_price_if_empty, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`,
		s.Name, s.Slug, fields, s.PathToImages, string(s.ItemsNotInFileAction),
		string(s.InactiveItemsAction), string(s.RelationMode), s.RemoveExistingPriceIfEmpty, s.CreatedAt,
	).Scan(&s.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ImportSetting{}, domain.ErrSlugTaken
		}
		return domain.ImportSetting{}, fmt.Errorf("insert import setting: %w", err)
	}
	return s, nil
}

func (r *importTaskRepository) GetSetting(ctx context.Context, id int64) (domain.ImportSetting, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	s, err := scanSetting(r.db.QueryRowContext(ctx, "SELECT "+settingColumns+" FROM import_settings WHERE id = $1", id))
	if err != nil {
		return domain.ImportSetting{}, notFound(err, domain.ErrImportSettingNotFound)
	}
	return s, nil
}

func (r *importTaskRepository) UpdateSetting(ctx context.Context, s domain.ImportSetting) (domain.ImportSetting, error) {
	fields, err := json.Marshal(s.Fields)
	if err != nil {
		return domain.ImportSetting{}, fmt.Errorf("encode import setting fields: %w", err)
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE import_settings
		SET name = $2, slug = $3, fields = $4, path_to_images = $5, items_not_in_file_action = $6,
		    inactive_items_action = $7, relation_mode = $8, remove_existing_price_if_empty = $9
		WHERE id = $1
	`,
		s.ID, s.Name, s.Slug, fields, s.PathToImages, string(s.ItemsNotInFileAction),
		string(s.InactiveItemsAction), string(s.RelationMode), s.RemoveExistingPriceIfEmpty,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ImportSetting{}, domain.ErrSlugTaken
		}
		return domain.ImportSetting{}, fmt.Errorf("update import setting: %w", err)
	}
	if err := mustAffect(res, domain.ErrImportSettingNotFound); err != nil {
		return domain.ImportSetting{}, err
	}
	return r.GetSetting(ctx, s.ID)
}

func (r *importTaskRepository) ListSettings(ctx context.Context) ([]domain.ImportSetting, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, "SELECT "+settingColumns+" FROM import_settings ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list import settings: %w", err)
	}
	defer rows.Close()

	result := make([]domain.ImportSetting, 0)
	for rows.Next() {
		s, err := scanSetting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import setting: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate import settings: %w", err)
	}
	return result, nil
}

func (r *importTaskRepository) DeleteSetting(ctx context.Context, id int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM import_settings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete import setting: %w", err)
	}
	return mustAffect(res, domain.ErrImportSettingNotFound)
}

var _ domain.ImportTaskRepository = (*importTaskRepository)(nil)
