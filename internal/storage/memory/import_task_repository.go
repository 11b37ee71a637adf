package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type importTaskRepository struct {
	s *Store
}

// NewImportTaskRepository создаёт in-memory реализацию ImportTaskRepository.
func NewImportTaskRepository(store *Store) domain.ImportTaskRepository {
	return &importTaskRepository{s: store}
}

func cloneTask(t domain.ImportTask) domain.ImportTask {
	t.Errors = append([]string(nil), t.Errors...)
	if t.EndAt != nil {
		endAt := *t.EndAt
		t.EndAt = &endAt
	}
	return t
}

func cloneSetting(s domain.ImportSetting) domain.ImportSetting {
	fields := make(map[string]map[string]string, len(s.Fields))
	for entity, mapping := range s.Fields {
		inner := make(map[string]string, len(mapping))
		for k, v := range mapping {
			inner[k] = v
		}
		fields[entity] = inner
	}
	s.Fields = fields
	return s
}

func (r *importTaskRepository) CreateTask(_ context.Context, task domain.ImportTask) (domain.ImportTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if task.SettingID != 0 {
		if _, ok := r.s.importSettings[task.SettingID]; !ok {
			return domain.ImportTask{}, domain.ErrImportSettingNotFound
		}
	}
	task.ID = r.s.nextID("import_tasks")
	if task.Status == "" {
		task.Status = domain.ImportStatusPending
	}
	task.CreatedAt = r.s.now()
	r.s.importTasks[task.ID] = cloneTask(task)
	return cloneTask(task), nil
}

func (r *importTaskRepository) GetTask(_ context.Context, id int64) (domain.ImportTask, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	task, ok := r.s.importTasks[id]
	if !ok {
		return domain.ImportTask{}, domain.ErrImportTaskNotFound
	}
	return cloneTask(task), nil
}

func (r *importTaskRepository) UpdateTask(_ context.Context, task domain.ImportTask) (domain.ImportTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.importTasks[task.ID]
	if !ok {
		return domain.ImportTask{}, domain.ErrImportTaskNotFound
	}
	task.CreatedAt = current.CreatedAt
	r.s.importTasks[task.ID] = cloneTask(task)
	return cloneTask(task), nil
}

func (r *importTaskRepository) ListTasks(_ context.Context, limit, offset int) ([]domain.ImportTask, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	tasks := make([]domain.ImportTask, 0, len(r.s.importTasks))
	for _, id := range sortedKeys(r.s.importTasks) {
		tasks = append(tasks, cloneTask(r.s.importTasks[id]))
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].ID > tasks[j].ID })
	return paginate(tasks, limit, offset), len(tasks), nil
}

func (r *importTaskRepository) DeleteTask(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.importTasks[id]; !ok {
		return domain.ErrImportTaskNotFound
	}
	delete(r.s.importTasks, id)
	return nil
}

func (r *importTaskRepository) CreateSetting(_ context.Context, setting domain.ImportSetting) (domain.ImportSetting, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.importSettings {
		if existing.Slug == setting.Slug {
			return domain.ImportSetting{}, domain.ErrSlugTaken
		}
	}
	setting.ID = r.s.nextID("import_settings")
	setting.CreatedAt = r.s.now()
	r.s.importSettings[setting.ID] = cloneSetting(setting)
	return cloneSetting(setting), nil
}

func (r *importTaskRepository) GetSetting(_ context.Context, id int64) (domain.ImportSetting, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	setting, ok := r.s.importSettings[id]
	if !ok {
		return domain.ImportSetting{}, domain.ErrImportSettingNotFound
	}
	return cloneSetting(setting), nil
}

func (r *importTaskRepository) UpdateSetting(_ context.Context, setting domain.ImportSetting) (domain.ImportSetting, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.importSettings[setting.ID]
	if !ok {
		return domain.ImportSetting{}, domain.ErrImportSettingNotFound
	}
	for id, existing := range r.s.importSettings {
		if id != setting.ID && existing.Slug == setting.Slug {
			return domain.ImportSetting{}, domain.ErrSlugTaken
		}
	}
	setting.CreatedAt = current.CreatedAt
	r.s.importSettings[setting.ID] = cloneSetting(setting)
	return cloneSetting(setting), nil
}

func (r *importTaskRepository) ListSettings(_ context.Context) ([]domain.ImportSetting, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.ImportSetting, 0, len(r.s.importSettings))
	for _, id := range sortedKeys(r.s.importSettings) {
		result = append(result, cloneSetting(r.s.importSettings[id]))
	}
	return result, nil
}

func (r *importTaskRepository) DeleteSetting(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.importSettings[id]; !ok {
		return domain.ErrImportSettingNotFound
	}
	delete(r.s.importSettings, id)
	for taskID, task := range r.s.importTasks {
		if task.SettingID == id {
			task.SettingID = 0
			r.s.importTasks[taskID] = task
		}
	}
	return nil
}

var _ domain.ImportTaskRepository = (*importTaskRepository)(nil)
