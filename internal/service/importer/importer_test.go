package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/media"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/geo"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/objectstore"
)

type countingIndexer struct {
	calls int
	err   error
}

func (c *countingIndexer) Reindex(context.Context) error {
	c.calls++
	return c.err
}

type fixture struct {
	svc      *Service
	engine   *Engine
	tasks    domain.ImportTaskRepository
	catalog  domain.CatalogRepository
	prices   domain.PriceRepository
	outbox   *memory.OutboxRepository
	indexer  *countingIndexer
	group    domain.CityGroup
	city     domain.City
	category domain.Category
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	cities := memory.NewCityRepository(store)
	resolver := geo.NewResolver(cities, geo.Config{})
	group, err := resolver.SaveCityGroup(ctx, domain.CityGroup{Name: "Moscow"})
	require.NoError(t, err)
	city, err := resolver.SaveCity(ctx, domain.City{Name: "moskva", Domain: "moskva.example.com", GroupID: group.ID})
	require.NoError(t, err)

	files := objectstore.NewFSStore(t.TempDir())
	f := &fixture{
		tasks:   memory.NewImportTaskRepository(store),
		catalog: memory.NewCatalogRepository(store),
		prices:  memory.NewPriceRepository(store),
		outbox:  memory.NewOutboxRepository(),
		indexer: &countingIndexer{},
		group:   group,
		city:    city,
	}
	catalogSvc := catalog.NewService(f.catalog, resolver, pricing.NewService(resolver, f.prices))
	f.svc = NewService(f.tasks, files, f.outbox)
	f.engine = NewEngine(memory.NewImportStore(store), f.tasks, files,
		WithIndexer(f.indexer),
		WithTreeRebuilder(catalogSvc),
		WithOutbox(f.outbox),
	)

	f.category, err = f.catalog.CreateCategory(ctx, domain.Category{Name: "Инструменты", Slug: "tools", Active: true, Visible: true})
	require.NoError(t, err)
	return f
}

func (f *fixture) product(t *testing.T, article string) domain.Product {
	t.Helper()
	p, err := f.catalog.CreateProduct(context.Background(), domain.Product{
		Article: article, Title: "Товар " + article, Slug: domain.MakeSlug(article),
		CategoryID: f.category.ID, Active: true, InStock: true,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) setting(t *testing.T, setting domain.ImportSetting) domain.ImportSetting {
	t.Helper()
	saved, err := f.svc.CreateSetting(context.Background(), setting)
	require.NoError(t, err)
	return saved
}

// run загружает файл, достаёт задачу из outbox и выполняет её так же, как воркер.
func (f *fixture) run(t *testing.T, settingID int64, name string, body []byte) domain.ImportTask {
	t.Helper()
	ctx := context.Background()
	task, err := f.svc.StartImport(ctx, settingID, 1, Upload{Name: name, Body: bytes.NewReader(body)})
	require.NoError(t, err)
	require.Equal(t, domain.ImportStatusPending, task.Status)

	var job domain.OutboxMessage
	for _, msg := range f.outbox.AllPending() {
		if msg.EventType == domain.EventImportRun && msg.AggregateID == fmt.Sprint(task.ID) {
			job = msg
		}
	}
	require.NotEmpty(t, job.ID, "import job must be enqueued")
	require.NoError(t, f.engine.Publish(ctx, job))

	done, err := f.tasks.GetTask(ctx, task.ID)
	require.NoError(t, err)
	return done
}

// catalogEvents возвращает события catalog.updated, поставленные в outbox.
func (f *fixture) catalogEvents(t *testing.T) []domain.CatalogUpdatedEvent {
	t.Helper()
	var events []domain.CatalogUpdatedEvent
	for _, msg := range f.outbox.AllPending() {
		if msg.EventType != domain.EventCatalogUpdated {
			continue
		}
		var event domain.CatalogUpdatedEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		require.Equal(t, fmt.Sprint(event.TaskID), msg.AggregateID)
		events = append(events, event)
	}
	return events
}

func (f *fixture) productByArticle(t *testing.T, article string) (domain.Product, bool) {
	t.Helper()
	products, _, err := f.catalog.ListProducts(context.Background(), domain.ProductFilter{Search: article})
	require.NoError(t, err)
	for _, p := range products {
		if p.Article == article {
			return p, true
		}
	}
	return domain.Product{}, false
}

func TestImport_DeactivatesItemsNotInFile(t *testing.T) {
	f := newFixture(t)
	x := f.product(t, "X-1")
	y := f.product(t, "Y-1")
	z := f.product(t, "Z-1")

	setting := f.setting(t, domain.ImportSetting{
		Name: "Товары",
		Fields: map[string]map[string]string{
			domain.EntityProduct: {"article": "Артикул", "title": "Название", "category": "Категория"},
		},
		ItemsNotInFileAction: domain.NotInFileDeactivate,
	})
	csv := fmt.Sprintf("Артикул,Название,Категория\nX-1,Икс обновлённый,%d\nW-1,Новый товар,%d\n", f.category.ID, f.category.ID)

	task := f.run(t, setting.ID, "goods.csv", []byte(csv))
	require.Equal(t, domain.ImportStatusCompleted, task.Status)
	require.Empty(t, task.Errors)
	require.NotNil(t, task.EndAt)

	w, ok := f.productByArticle(t, "W-1")
	require.True(t, ok, "new product created")
	require.True(t, w.Active)
	require.Equal(t, domain.MakeSlug("Новый товар"), w.Slug)

	got, err := f.catalog.GetProduct(context.Background(), x.ID)
	require.NoError(t, err)
	require.Equal(t, "Икс обновлённый", got.Title)
	require.True(t, got.Active)

	for _, id := range []int64{y.ID, z.ID} {
		got, err := f.catalog.GetProduct(context.Background(), id)
		require.NoError(t, err)
		require.False(t, got.Active, "product %d is absent from the file", id)
	}
	require.Equal(t, 1, f.indexer.calls)

	events := f.catalogEvents(t)
	require.Len(t, events, 1)
	require.Equal(t, task.ID, events[0].TaskID)
	require.Equal(t, 1, events[0].Created)
	require.Equal(t, 1, events[0].Updated)
	require.Zero(t, events[0].Deleted, "deactivation is not deletion")
	require.True(t, events[0].FinishedAt.Equal(*task.EndAt))
}

func TestImport_IsIdempotentUnderUniqueKeys(t *testing.T) {
	f := newFixture(t)
	setting := f.setting(t, domain.ImportSetting{
		Name: "Бренды",
		Fields: map[string]map[string]string{
			domain.EntityBrand: {"slug": "slug", "name": "name"},
		},
	})

	book := excelize.NewFile()
	sheet := book.GetSheetName(0)
	require.NoError(t, book.SetSheetRow(sheet, "A1", &[]any{"slug", "name"}))
	require.NoError(t, book.SetSheetRow(sheet, "A2", &[]any{"bosch", "Bosch"}))
	require.NoError(t, book.SetSheetRow(sheet, "A3", &[]any{"makita", "Makita"}))
	buf, err := book.WriteToBuffer()
	require.NoError(t, err)

	first := f.run(t, setting.ID, "brands.xlsx", buf.Bytes())
	require.Equal(t, domain.ImportStatusCompleted, first.Status)
	brands, err := f.catalog.ListBrands(context.Background())
	require.NoError(t, err)
	require.Len(t, brands, 2)

	second := f.run(t, setting.ID, "brands.xlsx", buf.Bytes())
	require.Equal(t, domain.ImportStatusCompleted, second.Status)
	again, err := f.catalog.ListBrands(context.Background())
	require.NoError(t, err)
	require.Equal(t, brands, again)
}

func TestImport_PricesRepriceAndRemoveIfEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.product(t, "X-1")
	y := f.product(t, "Y-1")
	z := f.product(t, "Z-1")
	_, err := f.prices.UpsertPrice(ctx, x.ID, f.group.ID, decimal.RequireFromString("100.00"))
	require.NoError(t, err)
	_, err = f.prices.UpsertPrice(ctx, y.ID, f.group.ID, decimal.RequireFromString("70.00"))
	require.NoError(t, err)

	setting := f.setting(t, domain.ImportSetting{
		Name: "Цены",
		Fields: map[string]map[string]string{
			domain.EntityPrice: {"product": "product", "city_group": "group", "price": "price"},
		},
		RemoveExistingPriceIfEmpty: true,
	})
	csv := fmt.Sprintf("product,group,price\n%d,%d,150.50\n%d,%d,\n%d,%d,abc\n",
		x.ID, f.group.ID, y.ID, f.group.ID, z.ID, f.group.ID)

	task := f.run(t, setting.ID, "prices.csv", []byte(csv))
	require.Equal(t, domain.ImportStatusCompleted, task.Status)

	px, err := f.prices.GetPrice(ctx, x.ID, f.group.ID)
	require.NoError(t, err)
	require.True(t, px.Current.Equal(decimal.RequireFromString("150.5")))
	require.True(t, px.Previous.Valid)
	require.True(t, px.Previous.Decimal.Equal(decimal.RequireFromString("100")))

	_, err = f.prices.GetPrice(ctx, y.ID, f.group.ID)
	require.ErrorIs(t, err, domain.ErrPriceNotFound)

	_, err = f.prices.GetPrice(ctx, z.ID, f.group.ID)
	require.ErrorIs(t, err, domain.ErrPriceNotFound)
	require.Len(t, task.Errors, 2, "bad decimal cell and the failed row are both reported")
	require.Contains(t, task.Comment(), "строка 4")
}

func TestImport_BadRowDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	setting := f.setting(t, domain.ImportSetting{
		Name: "Товары",
		Fields: map[string]map[string]string{
			domain.EntityProduct: {"article": "article", "title": "title", "category": "category", "unavailable_in": "blocked"},
		},
		RelationMode: domain.RelationAdd,
	})
	csv := fmt.Sprintf("article,title,category,blocked\nA-1,Первый,%d,%d\nB-1,Второй,99999,\nC-1,Третий,%d,\n",
		f.category.ID, f.city.ID, f.category.ID)

	task := f.run(t, setting.ID, "goods.csv", []byte(csv))
	require.Equal(t, domain.ImportStatusCompleted, task.Status)
	require.Len(t, task.Errors, 1)
	require.Contains(t, task.Errors[0], "строка 3")

	a, ok := f.productByArticle(t, "A-1")
	require.True(t, ok)
	require.Equal(t, []int64{f.city.ID}, a.UnavailableIn)
	_, ok = f.productByArticle(t, "B-1")
	require.False(t, ok)
	_, ok = f.productByArticle(t, "C-1")
	require.True(t, ok)
}

func TestImport_CategoriesRebuildTree(t *testing.T) {
	f := newFixture(t)
	setting := f.setting(t, domain.ImportSetting{
		Name: "Категории",
		Fields: map[string]map[string]string{
			domain.EntityCategory: {"slug": "slug", "name": "name", "parent": "parent"},
		},
	})
	csv := fmt.Sprintf("slug,name,parent\ndrills,Дрели,%d\n", f.category.ID)

	task := f.run(t, setting.ID, "categories.csv", []byte(csv))
	require.Equal(t, domain.ImportStatusCompleted, task.Status)

	drills, err := f.catalog.GetCategoryBySlug(context.Background(), "drills")
	require.NoError(t, err)
	require.Equal(t, 1, drills.Level)
	require.Equal(t, 2, drills.Lft)

	root, err := f.catalog.GetCategory(context.Background(), f.category.ID)
	require.NoError(t, err)
	require.Equal(t, 4, root.Rght)
}

func TestImport_RowsWithoutKeysAreRejected(t *testing.T) {
	f := newFixture(t)
	setting := f.setting(t, domain.ImportSetting{
		Name: "Бренды",
		Fields: map[string]map[string]string{
			domain.EntityBrand: {"slug": "slug", "name": "name"},
		},
	})
	csv := []byte("slug,name\n,Noname\nbosch,Bosch\n")

	for range 2 {
		task := f.run(t, setting.ID, "brands.csv", csv)
		require.Equal(t, domain.ImportStatusCompleted, task.Status)
		require.Len(t, task.Errors, 1)
		require.Contains(t, task.Errors[0], "строка 2")
		require.Contains(t, task.Errors[0], ErrMissingKeys.Error())
	}

	brands, err := f.catalog.ListBrands(context.Background())
	require.NoError(t, err)
	require.Len(t, brands, 1, "a keyless row must not be inserted on every run")
	require.Equal(t, "bosch", brands[0].Slug)
}

func TestImport_CategoryImageOnlyOnRoot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setting := f.setting(t, domain.ImportSetting{
		Name: "Категории",
		Fields: map[string]map[string]string{
			domain.EntityCategory: {"slug": "slug", "name": "name", "parent": "parent", "image": "image"},
		},
	})
	csv := fmt.Sprintf("slug,name,parent,image\ndrills,Дрели,%d,drills.png\nsaws,Пилы,%d,\ngarden,Сад,,garden.png\n",
		f.category.ID, f.category.ID)

	task := f.run(t, setting.ID, "categories.csv", []byte(csv))
	require.Equal(t, domain.ImportStatusCompleted, task.Status)
	require.Len(t, task.Errors, 1)
	require.Contains(t, task.Errors[0], "строка 2")

	_, err := f.catalog.GetCategoryBySlug(ctx, "drills")
	require.ErrorIs(t, err, domain.ErrCategoryNotFound)
	saws, err := f.catalog.GetCategoryBySlug(ctx, "saws")
	require.NoError(t, err)
	require.Empty(t, saws.Image)
	garden, err := f.catalog.GetCategoryBySlug(ctx, "garden")
	require.NoError(t, err)
	require.NotEmpty(t, garden.Image)

	update := fmt.Sprintf("slug,name,parent,image\nsaws,Пилы,%d,saws.png\n", f.category.ID)
	task = f.run(t, setting.ID, "categories.csv", []byte(update))
	require.Len(t, task.Errors, 1, "existing child category cannot gain an image")
	saws, err = f.catalog.GetCategoryBySlug(ctx, "saws")
	require.NoError(t, err)
	require.Empty(t, saws.Image)
}

func TestImport_NotInFilePolicySkippedWhenNoRowSucceeds(t *testing.T) {
	for _, action := range []domain.NotInFileAction{domain.NotInFileDelete, domain.NotInFileDeactivate} {
		t.Run(string(action), func(t *testing.T) {
			f := newFixture(t)
			x := f.product(t, "X-1")
			y := f.product(t, "Y-1")
			setting := f.setting(t, domain.ImportSetting{
				Name: "Товары",
				Fields: map[string]map[string]string{
					domain.EntityProduct: {"article": "article", "title": "title", "category": "category"},
				},
				ItemsNotInFileAction: action,
			})
			csv := "article,title,category\nA-1,Первый,99999\n,Без артикула,99999\n"

			task := f.run(t, setting.ID, "goods.csv", []byte(csv))
			require.Equal(t, domain.ImportStatusCompleted, task.Status)
			require.Contains(t, task.Comment(), "политика "+string(action)+" не применена")

			for _, id := range []int64{x.ID, y.ID} {
				got, err := f.catalog.GetProduct(context.Background(), id)
				require.NoError(t, err, "product %d must survive a file with no valid rows", id)
				require.True(t, got.Active)
			}
		})
	}
}

type recordingImages struct {
	imported []media.Stored
	removed  []media.Stored
}

func (r *recordingImages) ImportFile(_ context.Context, entity, srcPath string, thumbnail bool) (media.Stored, error) {
	stored := media.Stored{Image: entity + "/" + path.Base(srcPath)}
	if thumbnail {
		stored.Thumbnail = entity + "/thumb_" + path.Base(srcPath)
	}
	r.imported = append(r.imported, stored)
	return stored, nil
}

func (r *recordingImages) Remove(_ context.Context, stored media.Stored) {
	r.removed = append(r.removed, stored)
}

func TestImport_FailedRowDiscardsImportedImages(t *testing.T) {
	f := newFixture(t)
	images := &recordingImages{}
	f.engine.images = images
	setting := f.setting(t, domain.ImportSetting{
		Name: "Товары",
		Fields: map[string]map[string]string{
			domain.EntityProduct: {"article": "article", "title": "title", "category": "category", "image": "image"},
		},
	})
	csv := fmt.Sprintf("article,title,category,image\nA-1,Первый,%d,a.jpg\nB-1,Второй,99999,b.jpg\n", f.category.ID)

	task := f.run(t, setting.ID, "goods.csv", []byte(csv))
	require.Equal(t, domain.ImportStatusCompleted, task.Status)
	require.Len(t, task.Errors, 1)
	require.Len(t, images.imported, 2)
	require.Equal(t, []media.Stored{images.imported[1]}, images.removed, "only the failed row's files are removed")

	a, ok := f.productByArticle(t, "A-1")
	require.True(t, ok)
	require.Equal(t, images.imported[0].Image, a.Image)
}

func TestImport_UnknownEntitiesAndFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mixed, err := f.tasks.CreateSetting(ctx, domain.ImportSetting{
		Name: "mixed", Slug: "mixed",
		Fields: map[string]map[string]string{
			"widget":             {"name": "name"},
			domain.EntityProduct: {"article": "article", "title": "title", "colour": "colour"},
		},
	})
	require.NoError(t, err)
	task := f.run(t, mixed.ID, "goods.csv", []byte("article,title,colour\nQ-1,Кью,red\n"))
	require.Equal(t, domain.ImportStatusCompleted, task.Status)
	require.Len(t, task.Errors, 2)
	_, ok := f.productByArticle(t, "Q-1")
	require.True(t, ok)

	unknown, err := f.tasks.CreateSetting(ctx, domain.ImportSetting{
		Name: "unknown", Slug: "unknown",
		Fields: map[string]map[string]string{"widget": {"name": "name"}},
	})
	require.NoError(t, err)
	task = f.run(t, unknown.ID, "goods.csv", []byte("name\nx\n"))
	require.Equal(t, domain.ImportStatusFailed, task.Status)
	require.Contains(t, task.Comment(), ErrNoEntities.Error())
}

func TestImport_RejectsXLS(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setting := f.setting(t, domain.ImportSetting{
		Name:   "Товары",
		Fields: map[string]map[string]string{domain.EntityProduct: {"article": "article"}},
	})

	_, err := f.svc.StartImport(ctx, setting.ID, 1, Upload{Name: "old.xls", Body: strings.NewReader("x")})
	require.True(t, domain.IsValidation(err))

	task, err := f.tasks.CreateTask(ctx, domain.ImportTask{FilePath: "imports/old.xls", SettingID: setting.ID})
	require.NoError(t, err)
	_, err = f.engine.Run(ctx, task.ID)
	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	require.ErrorIs(t, err, domain.ErrUnsupportedFile)

	failed, err := f.tasks.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ImportStatusFailed, failed.Status)
	require.Empty(t, f.catalogEvents(t), "failed import does not announce catalog changes")
}

func TestImport_ReindexFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.indexer.err = errors.New("search is down")
	setting := f.setting(t, domain.ImportSetting{
		Name:   "Бренды",
		Fields: map[string]map[string]string{domain.EntityBrand: {"name": "name"}},
	})

	task := f.run(t, setting.ID, "brands.csv", []byte("name\nBosch\n"))
	require.Equal(t, domain.ImportStatusCompleted, task.Status)
	require.Equal(t, 1, f.indexer.calls)

	brand, err := f.catalog.GetBrandBySlug(context.Background(), "bosch")
	require.NoError(t, err)
	require.Equal(t, "Bosch", brand.Name)
}

func TestValidateSetting(t *testing.T) {
	err := ValidateSetting(domain.ImportSetting{
		Name:   "x",
		Fields: map[string]map[string]string{"widget": {"a": "b"}, domain.EntityBrand: {"colour": "c", "name": ""}},
	})
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields["fields"], 3)

	require.NoError(t, ValidateSetting(domain.ImportSetting{
		Name:   "ok",
		Fields: map[string]map[string]string{domain.EntityBrand: {"name": "Название"}},
	}))
}

func TestReadTable(t *testing.T) {
	table, err := ReadTable("a.csv", strings.NewReader("\ufeffa, b\n1,\n,\n3,4\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, table.Columns)
	require.Len(t, table.Rows, 2, "blank rows are skipped")
	_, ok := table.Rows[0].Cell("b")
	require.False(t, ok)

	_, err = ReadTable("a.xls", strings.NewReader(""))
	require.ErrorIs(t, err, domain.ErrUnsupportedFile)
}

func TestParseID(t *testing.T) {
	id, err := parseID("12.0")
	require.NoError(t, err)
	require.Equal(t, int64(12), id)

	ids, err := parseIDList("1; 2,3")
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, ids)

	_, err = parseID("abc")
	require.Error(t, err)
}
