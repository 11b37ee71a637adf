// Package importer загружает табличные данные каталога (CSV, XLSX) в сущности по настройке импорта.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/media"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/tracing"
)

// Исходы обработки строки для метрик.
const (
	outcomeCreated = "created"
	outcomeUpdated = "updated"
	outcomeDeleted = "deleted"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

// ErrNoEntities — в настройке не осталось ни одной известной сущности.
var ErrNoEntities = errors.New("import setting has no known entities")

// ErrMissingKeys — строка не заполняет ни одного ключевого поля сущности с ключами.
var ErrMissingKeys = errors.New("ключевые поля не заполнены")

// TreeRebuilder пересчитывает дерево категорий после импорта.
type TreeRebuilder interface {
	RebuildCategoryTree(ctx context.Context) error
}

// ImageImporter переносит изображение из каталога импорта в хранилище медиа.
// Remove убирает перенесённые файлы, если строка не была сохранена.
type ImageImporter interface {
	ImportFile(ctx context.Context, entity, srcPath string, thumbnail bool) (media.Stored, error)
	Remove(ctx context.Context, stored media.Stored)
}

// Option настраивает Engine.
type Option func(*Engine)

// WithImages включает перенос изображений в хранилище медиа.
func WithImages(images ImageImporter) Option {
	return func(e *Engine) { e.images = images }
}

// WithIndexer включает переиндексацию поиска после импорта.
func WithIndexer(indexer domain.SearchIndexer) Option {
	return func(e *Engine) { e.indexer = indexer }
}

// WithTreeRebuilder включает перестроение дерева категорий.
func WithTreeRebuilder(tree TreeRebuilder) Option {
	return func(e *Engine) { e.tree = tree }
}

// WithOutbox включает событие catalog.updated после успешного импорта.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(e *Engine) { e.outbox = outbox }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.StorefrontMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine выполняет задачи импорта.
type Engine struct {
	store   domain.ImportStore
	tasks   domain.ImportTaskRepository
	files   domain.BlobStore
	images  ImageImporter
	indexer domain.SearchIndexer
	tree    TreeRebuilder
	outbox  domain.OutboxRepository
	metrics *metrics.StorefrontMetrics
	now     func() time.Time
	logger  *log.Entry
}

// NewEngine создаёт движок импорта. files хранит загруженные файлы задач.
func NewEngine(store domain.ImportStore, tasks domain.ImportTaskRepository, files domain.BlobStore, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		tasks:  tasks,
		files:  files,
		now:    time.Now,
		logger: log.WithField("component", "importer"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Publish принимает задачу import.run из очереди outbox. Ошибка выполнения уже
// отражена в задаче, поэтому повторять сообщение имеет смысл только при сбое хранилища задач.
func (e *Engine) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	var job domain.ImportJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		e.logger.WithError(err).WithField("message_id", msg.ID).Error("malformed import job dropped")
		return nil
	}
	_, err := e.Run(ctx, job.TaskID)
	if errors.Is(err, domain.ErrImportTaskNotFound) {
		e.logger.WithField("import_task_id", job.TaskID).Warn("import job for missing task dropped")
		return nil
	}
	var runErr *RunError
	if errors.As(err, &runErr) {
		return nil
	}
	return err
}

// RunError — фатальная ошибка выполнения, после которой задача переведена в FAILED.
type RunError struct {
	Err error
}

func (e *RunError) Error() string { return "import failed: " + e.Err.Error() }
func (e *RunError) Unwrap() error { return e.Err }

// Report — итог выполнения задачи.
type Report struct {
	Created int
	Updated int
	Deleted int
	Failed  int
	Errors  []string
}

// Run выполняет задачу: PENDING → IN_PROGRESS → COMPLETED или FAILED.
// Ошибка отдельной строки не прерывает импорт; нечитаемый файл или настройка без сущностей прерывает.
func (e *Engine) Run(ctx context.Context, taskID int64) (report Report, err error) {
	ctx, span := tracing.Start(ctx, "import.run", attribute.Int64("import_task_id", taskID))
	defer func() { tracing.End(span, err) }()

	task, err := e.tasks.GetTask(ctx, taskID)
	if err != nil {
		return Report{}, fmt.Errorf("load import task: %w", err)
	}
	logger := e.logger.WithField("import_task_id", task.ID)

	task.Status = domain.ImportStatusInProgress
	task.Errors = nil
	task.EndAt = nil
	if task, err = e.tasks.UpdateTask(ctx, task); err != nil {
		return Report{}, fmt.Errorf("mark import task in progress: %w", err)
	}
	logger.Info("import started")

	report, fatal := e.execute(ctx, task)

	end := e.now().UTC()
	task.EndAt = &end
	task.Errors = report.Errors
	task.Status = domain.ImportStatusCompleted
	if fatal != nil {
		task.Status = domain.ImportStatusFailed
		task.Errors = append(task.Errors, fatal.Error())
	}
	if _, err := e.tasks.UpdateTask(ctx, task); err != nil {
		return report, fmt.Errorf("finish import task: %w", err)
	}

	logger = logger.WithFields(log.Fields{
		"created": report.Created,
		"updated": report.Updated,
		"deleted": report.Deleted,
		"failed":  report.Failed,
	})
	if fatal != nil {
		logger.WithError(fatal).Error("import failed")
		return report, &RunError{Err: fatal}
	}
	logger.Info("import completed")
	e.notifyCatalogUpdated(ctx, task.ID, report, end)
	return report, nil
}

// notifyCatalogUpdated ставит в outbox событие catalog.updated. Сбой очереди
// не меняет итог импорта.
func (e *Engine) notifyCatalogUpdated(ctx context.Context, taskID int64, report Report, finishedAt time.Time) {
	if e.outbox == nil {
		return
	}
	payload, err := json.Marshal(domain.CatalogUpdatedEvent{
		TaskID:     taskID,
		Created:    report.Created,
		Updated:    report.Updated,
		Deleted:    report.Deleted,
		FinishedAt: finishedAt,
	})
	if err == nil {
		_, err = e.outbox.Enqueue(ctx, domain.OutboxMessage{
			AggregateType: domain.AggregateImport,
			AggregateID:   strconv.FormatInt(taskID, 10),
			EventType:     domain.EventCatalogUpdated,
			Payload:       payload,
		})
	}
	if err != nil {
		e.logger.WithError(err).WithField("import_task_id", taskID).Warn("failed to enqueue catalog.updated")
	}
}

func (e *Engine) execute(ctx context.Context, task domain.ImportTask) (Report, error) {
	var report Report

	setting, err := e.tasks.GetSetting(ctx, task.SettingID)
	if err != nil {
		return report, fmt.Errorf("load import setting: %w", err)
	}
	setting.Normalize()

	table, err := e.readTask(ctx, task)
	if err != nil {
		return report, err
	}

	plans, issues := buildPlans(setting.Fields)
	report.Errors = append(report.Errors, issues...)
	if len(plans) == 0 {
		return report, ErrNoEntities
	}

	treeTouched := false
	for _, p := range plans {
		seen, succeeded := e.importRows(ctx, p, setting, table, &report)
		if p.entity.Tree && len(seen) > 0 {
			treeTouched = true
		}
		if err := e.applyPolicies(ctx, p.entity, setting, seen, succeeded, &report); err != nil {
			return report, err
		}
	}

	if treeTouched && e.tree != nil {
		if err := e.tree.RebuildCategoryTree(ctx); err != nil {
			return report, fmt.Errorf("rebuild category tree: %w", err)
		}
	}
	if e.indexer != nil {
		if err := e.indexer.Reindex(ctx); err != nil {
			e.logger.WithError(err).WithField("import_task_id", task.ID).Warn("search reindex failed")
		}
	}
	return report, nil
}

func (e *Engine) readTask(ctx context.Context, task domain.ImportTask) (Table, error) {
	if err := CheckExtension(task.FilePath); err != nil {
		return Table{}, err
	}
	body, info, err := e.files.Get(ctx, task.FilePath)
	if err != nil {
		return Table{}, fmt.Errorf("open import file %s: %w", task.FilePath, err)
	}
	defer body.Close()
	if info.Size > MaxFileSize {
		return Table{}, fmt.Errorf("import file %s exceeds %d bytes", task.FilePath, MaxFileSize)
	}

	table, err := ReadTable(task.FilePath, io.LimitReader(body, MaxFileSize))
	if err != nil {
		return Table{}, fmt.Errorf("read import file %s: %w", task.FilePath, err)
	}
	return table, nil
}

// importRows обрабатывает строки файла для одной сущности и возвращает множество увиденных id
// и число успешно обработанных строк.
func (e *Engine) importRows(ctx context.Context, p plan, setting domain.ImportSetting, table Table, report *Report) (map[int64]struct{}, int) {
	seen := make(map[int64]struct{})
	succeeded := 0
	for i, row := range table.Rows {
		line := i + 2
		rowIssue := func(issue any) {
			report.Errors = append(report.Errors, fmt.Sprintf("строка %d: %s: %v", line, p.entity.Name, issue))
		}
		failRow := func(err error) {
			report.Failed++
			rowIssue(err)
			e.metrics.RecordImportRow(outcomeFailed)
		}

		payload, keys, cellIssues := e.prepare(p, setting, row)
		for _, issue := range cellIssues {
			rowIssue(issue)
		}
		// Без ключа строку нельзя сопоставить с записью, и повторный импорт создал бы дубль.
		if p.hasUnique() && len(keys) == 0 {
			failRow(ErrMissingKeys)
			continue
		}

		uploaded, imageIssues := e.importImages(ctx, p, row, payload)
		for _, issue := range imageIssues {
			rowIssue(issue)
		}

		var (
			id      int64
			outcome string
		)
		err := e.store.RunRowTx(ctx, func(ctx context.Context, tx domain.ImportTx) error {
			var err error
			id, outcome, err = e.upsertRow(ctx, tx, p, setting, row, payload, keys)
			if err != nil || outcome == outcomeDeleted || outcome == outcomeSkipped {
				return err
			}
			return validateRecord(ctx, tx, p.entity, id)
		})
		if err != nil {
			e.discardImages(ctx, uploaded)
			failRow(err)
			continue
		}
		succeeded++

		switch outcome {
		case outcomeCreated:
			report.Created++
		case outcomeUpdated:
			report.Updated++
		case outcomeDeleted:
			report.Deleted++
		}
		e.metrics.RecordImportRow(outcome)
		if id != 0 && outcome != outcomeDeleted {
			seen[id] = struct{}{}
		}
	}
	return seen, succeeded
}

func (e *Engine) upsertRow(ctx context.Context, tx domain.ImportTx, p plan, setting domain.ImportSetting, row Row, payload, keys domain.ImportRecord) (int64, string, error) {
	entity := p.entity
	if v, ok := payload[entity.RepriceColumn]; ok && v == nil {
		return 0, "", fmt.Errorf("%s: значение обязательно", entity.RepriceColumn)
	}

	if !p.hasUnique() {
		id, err := e.create(ctx, tx, entity, payload, keys)
		if err != nil {
			return 0, "", err
		}
		return id, outcomeCreated, e.applyMulti(ctx, tx, p, setting, row, id)
	}

	id, err := tx.FindByUnique(ctx, entity, keys)
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		if priceCleared(p, setting, row) {
			return 0, outcomeSkipped, nil
		}
		id, err = e.create(ctx, tx, entity, payload, keys)
		if err != nil {
			return 0, "", err
		}
		return id, outcomeCreated, e.applyMulti(ctx, tx, p, setting, row, id)
	case err != nil:
		return 0, "", fmt.Errorf("find by unique keys: %w", err)
	}

	if priceCleared(p, setting, row) {
		if err := tx.Delete(ctx, entity, id); err != nil {
			return 0, "", fmt.Errorf("delete price: %w", err)
		}
		return id, outcomeDeleted, nil
	}

	if entity.RepriceColumn != "" {
		if err := e.reprice(ctx, tx, entity, id, payload); err != nil {
			return 0, "", err
		}
	}
	if len(payload) > 0 {
		if err := tx.Update(ctx, entity, id, payload); err != nil {
			return 0, "", fmt.Errorf("update: %w", err)
		}
	}
	return id, outcomeUpdated, e.applyMulti(ctx, tx, p, setting, row, id)
}

// validateRecord проверяет инварианты сущности по записи после изменения строки.
// Нарушение откатывает транзакцию строки.
func validateRecord(ctx context.Context, tx domain.ImportTx, entity domain.EntityDescriptor, id int64) error {
	if entity.Name != domain.EntityCategory {
		return nil
	}
	rec, err := tx.Get(ctx, entity, id)
	if err != nil {
		return fmt.Errorf("load %s: %w", entity.Name, err)
	}
	name, _ := rec["name"].(string)
	image, _ := rec["image"].(string)
	parentID, _ := rec["parent_id"].(int64)
	category := domain.Category{ID: id, Name: name, Image: image, ParentID: parentID}
	return category.Validate()
}

func (e *Engine) create(ctx context.Context, tx domain.ImportTx, entity domain.EntityDescriptor, payload, keys domain.ImportRecord) (int64, error) {
	values := make(domain.ImportRecord, len(payload)+len(keys))
	for k, v := range keys {
		values[k] = v
	}
	for k, v := range payload {
		values[k] = v
	}
	if entity.SlugColumn != "" {
		if s, _ := values[entity.SlugColumn].(string); s == "" {
			if source, _ := values[entity.SlugSource].(string); source != "" {
				values[entity.SlugColumn] = domain.MakeSlug(source)
			}
		}
	}
	id, err := tx.Create(ctx, entity, values)
	if err != nil {
		return 0, fmt.Errorf("create: %w", err)
	}
	return id, nil
}

// reprice переносит прежнюю цену в предыдущую, если файл меняет цену и не задаёт предыдущую явно.
func (e *Engine) reprice(ctx context.Context, tx domain.ImportTx, entity domain.EntityDescriptor, id int64, payload domain.ImportRecord) error {
	next, ok := payload[entity.RepriceColumn].(decimal.Decimal)
	if !ok {
		return nil
	}
	if _, explicit := payload[entity.PreviousColumn]; explicit {
		return nil
	}
	current, err := tx.Get(ctx, entity, id)
	if err != nil {
		return fmt.Errorf("load current price: %w", err)
	}
	prev, ok := current[entity.RepriceColumn].(decimal.Decimal)
	if ok && !prev.Equal(next) {
		payload[entity.PreviousColumn] = prev
	}
	return nil
}

func (e *Engine) applyMulti(ctx context.Context, tx domain.ImportTx, p plan, setting domain.ImportSetting, row Row, id int64) error {
	for _, m := range p.multi {
		cell, ok := row.Cell(m.column)
		if !ok {
			continue
		}
		ids, err := parseIDList(cell)
		if err != nil {
			return fmt.Errorf("%s: %w", m.field.Name, err)
		}
		if err := tx.SetRelation(ctx, p.entity, m.field, id, ids, setting.RelationMode); err != nil {
			return fmt.Errorf("%s: %w", m.field.Name, err)
		}
	}
	return nil
}

// priceCleared сообщает, что строка цены пришла с пустой ценой при включённом удалении.
func priceCleared(p plan, setting domain.ImportSetting, row Row) bool {
	if !setting.RemoveExistingPriceIfEmpty || p.entity.RepriceColumn == "" {
		return false
	}
	for _, m := range p.decimals {
		if m.field.Column == p.entity.RepriceColumn {
			_, present := row.Cell(m.column)
			return !present
		}
	}
	return false
}

// prepare приводит ячейки строки к значениям колонок хранилища. Пути изображений
// только разрешаются относительно каталога настройки; перенос файлов делает importImages.
// Ошибочная ячейка даёт замечание; десятичное поле при этом обнуляется, прочие пропускаются.
func (e *Engine) prepare(p plan, setting domain.ImportSetting, row Row) (payload, keys domain.ImportRecord, issues []string) {
	payload = make(domain.ImportRecord)
	keys = make(domain.ImportRecord)

	for _, m := range p.unique {
		cell, ok := row.Cell(m.column)
		if !ok {
			continue
		}
		v, err := typedValue(m.field, cell)
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", m.field.Name, err))
			continue
		}
		keys[m.field.Column] = v
	}

	for _, m := range p.relations {
		cell, ok := row.Cell(m.column)
		if !ok {
			continue
		}
		id, err := parseID(cell)
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", m.field.Name, err))
			continue
		}
		payload[m.field.Column] = id
	}

	for _, m := range p.decimals {
		cell, ok := row.Cell(m.column)
		if !ok {
			continue
		}
		d, err := decimal.NewFromString(strings.ReplaceAll(cell, ",", "."))
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s: не удалось преобразовать %q в число", m.field.Name, cell))
			payload[m.field.Column] = nil
			continue
		}
		payload[m.field.Column] = d
	}

	for _, m := range p.booleans {
		if cell, ok := row.Cell(m.column); ok {
			payload[m.field.Column] = strings.EqualFold(cell, "true")
		}
	}

	for _, m := range p.images {
		if cell, ok := row.Cell(m.column); ok {
			payload[m.field.Column] = path.Join(setting.PathToImages, cell)
		}
	}

	for _, m := range p.scalars {
		cell, ok := row.Cell(m.column)
		if !ok {
			continue
		}
		v, err := typedValue(m.field, cell)
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", m.field.Name, err))
			continue
		}
		payload[m.field.Column] = v
	}
	return payload, keys, issues
}

// importImages переносит изображения строки в хранилище медиа и подменяет пути в payload
// ключами сохранённых файлов. Файл, который не удалось перенести, остаётся исходным путём.
func (e *Engine) importImages(ctx context.Context, p plan, row Row, payload domain.ImportRecord) (uploaded []media.Stored, issues []string) {
	if e.images == nil {
		return nil, nil
	}
	for _, m := range p.images {
		if _, ok := row.Cell(m.column); !ok {
			continue
		}
		src, _ := payload[m.field.Column].(string)
		stored, err := e.images.ImportFile(ctx, p.entity.Name, src, p.entity.ThumbnailColumn != "")
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", m.field.Name, err))
			continue
		}
		uploaded = append(uploaded, stored)
		payload[m.field.Column] = stored.Image
		if p.entity.ThumbnailColumn != "" && stored.Thumbnail != "" {
			payload[p.entity.ThumbnailColumn] = stored.Thumbnail
		}
	}
	return uploaded, issues
}

// discardImages удаляет файлы, перенесённые для строки, которая не была сохранена.
func (e *Engine) discardImages(ctx context.Context, uploaded []media.Stored) {
	for _, stored := range uploaded {
		e.images.Remove(ctx, stored)
	}
}

func typedValue(field domain.EntityField, cell string) (any, error) {
	if field.Type == domain.ValueInt || field.Kind == domain.FieldRelation {
		return parseID(cell)
	}
	return cell, nil
}

// parseID принимает целые в виде "12" и "12.0" (так их отдают табличные редакторы).
func parseID(cell string) (int64, error) {
	cell = strings.TrimSuffix(strings.TrimSpace(cell), ".0")
	id, err := strconv.ParseInt(cell, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ожидается целое число, получено %q", cell)
	}
	return id, nil
}

func parseIDList(cell string) ([]int64, error) {
	parts := strings.FieldsFunc(cell, func(r rune) bool { return r == ',' || r == ';' || r == ' ' })
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := parseID(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// applyPolicies применяет политики настройки к записям сущности. Сначала обрабатываются
// неактивные записи, затем отсутствующие в файле, поэтому DEACTIVATE не отменяется ACTIVATE.
// Если ни одна строка сущности не обработана, политика для отсутствующих в файле не применяется.
func (e *Engine) applyPolicies(ctx context.Context, entity domain.EntityDescriptor, setting domain.ImportSetting, seen map[int64]struct{}, succeeded int, report *Report) error {
	if setting.InactiveItemsAction == domain.InactiveActivate && entity.ActiveColumn != "" {
		inactive, err := e.store.InactiveIDs(ctx, entity)
		if err != nil {
			return fmt.Errorf("%s: list inactive: %w", entity.Name, err)
		}
		if err := e.store.Activate(ctx, entity, inactive); err != nil {
			return fmt.Errorf("%s: activate: %w", entity.Name, err)
		}
	}

	if setting.ItemsNotInFileAction == domain.NotInFileIgnore {
		return nil
	}
	if succeeded == 0 {
		report.Errors = append(report.Errors, fmt.Sprintf("%s: нет успешно обработанных строк, политика %s не применена",
			entity.Name, setting.ItemsNotInFileAction))
		e.logger.WithField("entity", entity.Name).Warn("items-not-in-file policy skipped: no rows imported")
		return nil
	}
	all, err := e.store.AllIDs(ctx, entity)
	if err != nil {
		return fmt.Errorf("%s: list ids: %w", entity.Name, err)
	}
	missing := make([]int64, 0)
	for _, id := range all {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	switch setting.ItemsNotInFileAction {
	case domain.NotInFileDeactivate:
		if entity.ActiveColumn == "" {
			return nil
		}
		err = e.store.Deactivate(ctx, entity, missing)
	case domain.NotInFileSetNotInStock:
		if entity.InStockColumn == "" {
			return nil
		}
		err = e.store.SetNotInStock(ctx, entity, missing)
	case domain.NotInFileDelete:
		err = e.store.Delete(ctx, entity, missing)
		if err == nil {
			report.Deleted += len(missing)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: apply %s: %w", entity.Name, setting.ItemsNotInFileAction, err)
	}
	return nil
}
