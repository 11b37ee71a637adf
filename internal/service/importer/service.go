package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Service управляет настройками и задачами импорта; выполнение уходит в очередь outbox.
type Service struct {
	tasks  domain.ImportTaskRepository
	files  domain.BlobStore
	outbox domain.OutboxRepository
	logger *log.Entry
}

// NewService создаёт сервис управления импортом.
func NewService(tasks domain.ImportTaskRepository, files domain.BlobStore, outbox domain.OutboxRepository) *Service {
	return &Service{
		tasks:  tasks,
		files:  files,
		outbox: outbox,
		logger: log.WithField("component", "import-admin"),
	}
}

// ValidateSetting дополняет проверку настройки знанием о доступных сущностях и полях.
func ValidateSetting(setting domain.ImportSetting) error {
	verr := &domain.ValidationError{}
	if err := setting.Validate(); err != nil && !errors.As(err, &verr) {
		return err
	}
	for entityName, fields := range setting.Fields {
		entity, ok := domain.LookupEntity(entityName)
		if !ok {
			verr.Add("fields", fmt.Sprintf("неизвестная сущность %q", entityName))
			continue
		}
		for fieldName, column := range fields {
			if _, ok := entity.Field(fieldName); !ok {
				verr.Add("fields", fmt.Sprintf("у сущности %q нет поля %q", entityName, fieldName))
			}
			if strings.TrimSpace(column) == "" {
				verr.Add("fields", fmt.Sprintf("для поля %s.%s не указана колонка", entityName, fieldName))
			}
		}
	}
	if verr.Empty() {
		return nil
	}
	return verr
}

// CreateSetting сохраняет новую настройку.
func (s *Service) CreateSetting(ctx context.Context, setting domain.ImportSetting) (domain.ImportSetting, error) {
	setting.Normalize()
	if err := ValidateSetting(setting); err != nil {
		return domain.ImportSetting{}, err
	}
	return s.tasks.CreateSetting(ctx, setting)
}

// UpdateSetting заменяет настройку.
func (s *Service) UpdateSetting(ctx context.Context, setting domain.ImportSetting) (domain.ImportSetting, error) {
	setting.Normalize()
	if err := ValidateSetting(setting); err != nil {
		return domain.ImportSetting{}, err
	}
	return s.tasks.UpdateSetting(ctx, setting)
}

// GetSetting возвращает настройку.
func (s *Service) GetSetting(ctx context.Context, id int64) (domain.ImportSetting, error) {
	return s.tasks.GetSetting(ctx, id)
}

// ListSettings возвращает все настройки.
func (s *Service) ListSettings(ctx context.Context) ([]domain.ImportSetting, error) {
	return s.tasks.ListSettings(ctx)
}

// DeleteSetting удаляет настройку.
func (s *Service) DeleteSetting(ctx context.Context, id int64) error {
	return s.tasks.DeleteSetting(ctx, id)
}

// GetTask возвращает задачу.
func (s *Service) GetTask(ctx context.Context, id int64) (domain.ImportTask, error) {
	return s.tasks.GetTask(ctx, id)
}

// ListTasks возвращает страницу задач и их общее число.
func (s *Service) ListTasks(ctx context.Context, limit, offset int) ([]domain.ImportTask, int, error) {
	return s.tasks.ListTasks(ctx, limit, offset)
}

// DeleteTask удаляет задачу.
func (s *Service) DeleteTask(ctx context.Context, id int64) error {
	return s.tasks.DeleteTask(ctx, id)
}

// Columns возвращает заголовок файла задачи.
func (s *Service) Columns(ctx context.Context, taskID int64) ([]string, error) {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	body, _, err := s.files.Get(ctx, task.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}
	defer body.Close()
	table, err := ReadTable(task.FilePath, io.LimitReader(body, MaxFileSize))
	if err != nil {
		return nil, err
	}
	return table.Columns, nil
}

// Upload — загруженный файл импорта.
type Upload struct {
	Name string
	Body io.Reader
}

// StartImport сохраняет файл, создаёт задачу PENDING и ставит import.run в очередь.
func (s *Service) StartImport(ctx context.Context, settingID, userID int64, upload Upload) (domain.ImportTask, error) {
	if err := CheckExtension(upload.Name); err != nil {
		return domain.ImportTask{}, domain.NewValidationError("file", err.Error())
	}
	if _, err := s.tasks.GetSetting(ctx, settingID); err != nil {
		return domain.ImportTask{}, err
	}

	data, err := io.ReadAll(io.LimitReader(upload.Body, MaxFileSize+1))
	if err != nil {
		return domain.ImportTask{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxFileSize {
		return domain.ImportTask{}, domain.NewValidationError("file", fmt.Sprintf("размер файла не должен превышать %d Мб", MaxFileSize>>20))
	}

	key := path.Join("imports", uuid.NewString()+"-"+path.Base(strings.ReplaceAll(upload.Name, "\\", "/")))
	if err := s.files.Put(ctx, key, "", bytes.NewReader(data)); err != nil {
		return domain.ImportTask{}, fmt.Errorf("store import file: %w", err)
	}

	task, err := s.tasks.CreateTask(ctx, domain.ImportTask{
		FilePath:  key,
		UserID:    userID,
		SettingID: settingID,
		Status:    domain.ImportStatusPending,
	})
	if err != nil {
		return domain.ImportTask{}, fmt.Errorf("create import task: %w", err)
	}

	payload, err := json.Marshal(domain.ImportJob{TaskID: task.ID})
	if err != nil {
		return domain.ImportTask{}, fmt.Errorf("marshal import job: %w", err)
	}
	if _, err := s.outbox.Enqueue(ctx, domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: domain.AggregateImport,
		AggregateID:   strconv.FormatInt(task.ID, 10),
		EventType:     domain.EventImportRun,
		Payload:       payload,
	}); err != nil {
		return domain.ImportTask{}, fmt.Errorf("enqueue import job: %w", err)
	}

	s.logger.WithFields(log.Fields{"import_task_id": task.ID, "file": key}).Info("import queued")
	return task, nil
}
