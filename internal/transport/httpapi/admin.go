package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/importer"
)

const maxUploadMemory = 32 << 20

func (s *server) listImportSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.Imports.ListSettings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]importSettingView, 0, len(settings))
	for _, setting := range settings {
		views = append(views, newImportSettingView(setting))
	}
	writeJSON(w, http.StatusOK, newList(views))
}

func (s *server) createImportSetting(w http.ResponseWriter, r *http.Request) {
	var req importSettingView
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.ID = 0
	setting, err := s.Imports.CreateSetting(r.Context(), req.setting())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newImportSettingView(setting))
}

func (s *server) getImportSetting(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	setting, err := s.Imports.GetSetting(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newImportSettingView(setting))
}

func (s *server) updateImportSetting(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req importSettingView
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.ID = id
	setting, err := s.Imports.UpdateSetting(r.Context(), req.setting())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newImportSettingView(setting))
}

func (s *server) deleteImportSetting(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Imports.DeleteSetting(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// startImport принимает multipart-форму с полями import_settings и file.
func (s *server) startImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, r, domain.NewValidationError("file", "ожидается multipart/form-data с файлом"))
		return
	}
	verr := &domain.ValidationError{}
	settingID, err := strconv.ParseInt(strings.TrimSpace(r.FormValue("import_settings")), 10, 64)
	if err != nil || settingID <= 0 {
		verr.Add("import_settings", "ожидается идентификатор настройки импорта")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		verr.Add("file", msgRequired)
	}
	if !verr.Empty() {
		writeError(w, r, verr)
		return
	}
	defer file.Close()

	p, _ := principalFrom(r.Context())
	task, err := s.Imports.StartImport(r.Context(), settingID, p.UserID, importer.Upload{Name: header.Filename, Body: file})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newImportTaskView(task))
}

func (s *server) listImportTasks(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tasks, total, err := s.Imports.ListTasks(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]importTaskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, newImportTaskView(task))
	}
	writeJSON(w, http.StatusOK, newPage(r, total, limit, offset, views))
}

func (s *server) getImportTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	task, err := s.Imports.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newImportTaskView(task))
}

func (s *server) deleteImportTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Imports.DeleteTask(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) importTaskColumns(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	columns, err := s.Imports.Columns(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"columns": columns})
}

func (s *server) reindexSearch(w http.ResponseWriter, r *http.Request) {
	if err := s.Search.Reindex(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reindexed"})
}

func (s *server) rebuildFeeds(w http.ResponseWriter, r *http.Request) {
	n, err := s.Feeds.EnqueueAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"enqueued": n})
}

func (s *server) rebuildGroupFeed(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "city_group_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Feeds.EnqueueFeed(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"enqueued": 1})
}

func (s *server) rebuildSitemap(w http.ResponseWriter, r *http.Request) {
	target := domain.NormalizeDomain(r.URL.Query().Get("domain"))
	if target == "" {
		writeError(w, r, domain.NewValidationError("domain", msgRequired))
		return
	}
	if err := s.Feeds.EnqueueSitemap(r.Context(), target); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"enqueued": 1})
}

// crmWebhook принимает событие портала CRM. Для известной CRM ответ всегда 200:
// ошибки обработчиков только логируются.
func (s *server) crmWebhook(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "crm_name")
	receiver, ok := s.Webhooks[name]
	if !ok {
		writeDetail(w, http.StatusNotFound, detailNotFound)
		return
	}
	if err := r.ParseForm(); err != nil {
		requestLogger(r).WithError(err).Warn("malformed crm webhook body")
		writeJSON(w, http.StatusOK, map[string]string{})
		return
	}
	if err := receiver.Handle(r.Context(), r.PostForm); err != nil {
		requestLogger(r).WithError(err).WithField("crm", name).Warn("crm webhook not processed")
	}
	writeJSON(w, http.StatusOK, map[string]string{})
}
