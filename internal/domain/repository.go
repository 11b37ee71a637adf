package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CityRepository описывает требования к хранилищу городов и групп городов.
type CityRepository interface {
	GetCity(ctx context.Context, id int64) (City, error)
	// GetCityByDomain ищет город по нормализованному домену или возвращает ErrCityNotFound.
	GetCityByDomain(ctx context.Context, domain string) (City, error)
	// GetCityByName ищет город по имени без учёта регистра.
	GetCityByName(ctx context.Context, name string) (City, error)
	CreateCity(ctx context.Context, city City) (City, error)
	UpdateCity(ctx context.Context, city City) (City, error)
	ListCities(ctx context.Context) ([]City, error)

	GetCityGroup(ctx context.Context, id int64) (CityGroup, error)
	// GetCityGroupByName ищет группу по имени без учёта регистра.
	GetCityGroupByName(ctx context.Context, name string) (CityGroup, error)
	CreateCityGroup(ctx context.Context, group CityGroup) (CityGroup, error)
	UpdateCityGroup(ctx context.Context, group CityGroup) (CityGroup, error)
	ListCityGroups(ctx context.Context) ([]CityGroup, error)
	// ListGroupCities возвращает города группы в порядке идентификаторов.
	ListGroupCities(ctx context.Context, groupID int64) ([]City, error)
}

// ProductFilter описывает выборку каталога.
type ProductFilter struct {
	// CityGroupID задаёт группу, по которой фильтруются и подставляются цены.
	CityGroupID int64
	PriceGTE    decimal.NullDecimal
	PriceLTE    decimal.NullDecimal
	BrandSlug   string
	// CategoryIDs — категории вместе с потомками (канонические или дополнительные).
	CategoryIDs []int64
	// Characteristics — slug характеристики → допустимые slug значений.
	Characteristics map[string][]string
	Search          string
	IDs             []int64
	OnlyActive      bool
	OnlyPriced      bool
	Limit           int
	Offset          int
}

// CatalogRepository описывает хранилище каталога: товары, категории, бренды, характеристики.
type CatalogRepository interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetProductBySlug(ctx context.Context, slug string) (Product, error)
	// GetProducts возвращает найденные товары; отсутствующие идентификаторы пропускаются.
	GetProducts(ctx context.Context, ids []int64) (map[int64]Product, error)
	CreateProduct(ctx context.Context, product Product) (Product, error)
	UpdateProduct(ctx context.Context, product Product) (Product, error)
	// ListProducts возвращает страницу товаров и общее число подходящих строк.
	// Сортировка: priority по убыванию, затем title, затем id.
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error)
	// FrequentlyBought возвращает пары from=productID по убыванию purchase_count.
	FrequentlyBought(ctx context.Context, productID int64, limit int) ([]FrequentlyBoughtTogether, error)

	GetCategory(ctx context.Context, id int64) (Category, error)
	GetCategoryBySlug(ctx context.Context, slug string) (Category, error)
	CreateCategory(ctx context.Context, category Category) (Category, error)
	UpdateCategory(ctx context.Context, category Category) (Category, error)
	ListCategories(ctx context.Context) ([]Category, error)
	// UpdateCategoryTree записывает пересчитанные поля nested set для всех категорий.
	UpdateCategoryTree(ctx context.Context, nodes []Category) error

	GetBrand(ctx context.Context, id int64) (Brand, error)
	GetBrandBySlug(ctx context.Context, slug string) (Brand, error)
	CreateBrand(ctx context.Context, brand Brand) (Brand, error)
	ListBrands(ctx context.Context) ([]Brand, error)

	CreateCharacteristic(ctx context.Context, ch Characteristic) (Characteristic, error)
	SetCharacteristicValue(ctx context.Context, value CharacteristicValue) (CharacteristicValue, error)
	ListCharacteristicValues(ctx context.Context, productID int64) ([]CharacteristicValue, error)

	GetPage(ctx context.Context, slug string) (Page, error)
	CreatePage(ctx context.Context, page Page) (Page, error)
	ListPages(ctx context.Context) ([]Page, error)
}

// PriceRepository описывает хранилище цен по группам городов.
type PriceRepository interface {
	// GetPrice возвращает цену пары (товар, группа) или ErrPriceNotFound.
	GetPrice(ctx context.Context, productID, cityGroupID int64) (Price, error)
	// ListPrices возвращает цены товаров группы; неоценённые товары отсутствуют в карте.
	ListPrices(ctx context.Context, productIDs []int64, cityGroupID int64) (map[int64]Price, error)
	// UpsertPrice создаёт цену или переоценивает существующую, перенося старое значение в Previous.
	UpsertPrice(ctx context.Context, productID, cityGroupID int64, current decimal.Decimal) (Price, error)
	DeletePrice(ctx context.Context, productID, cityGroupID int64) error
}

// UserRepository описывает хранилище пользователей.
type UserRepository interface {
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUserByPhone(ctx context.Context, phone string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	CreateUser(ctx context.Context, user User) (User, error)
	UpdateUser(ctx context.Context, user User) (User, error)
	SetEmailConfirmed(ctx context.Context, id int64, confirmed bool) error
	// DeactivateUser выполняет мягкое удаление: active=false, строка остаётся.
	DeactivateUser(ctx context.Context, id int64) error
}

// CartRepository описывает хранилище корзин.
type CartRepository interface {
	// Upsert создаёт позицию или заменяет количество у существующей пары (пользователь, товар).
	Upsert(ctx context.Context, userID, productID int64, qty int) (CartLine, error)
	// UpsertMany применяет Upsert ко всем позициям атомарно.
	UpsertMany(ctx context.Context, userID int64, items []CartItemInput) ([]CartLine, error)
	// Update меняет количество существующей позиции или возвращает ErrCartLineNotFound.
	Update(ctx context.Context, userID, productID int64, qty int) (CartLine, error)
	Delete(ctx context.Context, userID, productID int64) error
	DeleteAll(ctx context.Context, userID int64) (int, error)
	// DeleteSome удаляет позиции пользователя по идентификаторам позиций.
	DeleteSome(ctx context.Context, userID int64, lineIDs []int64) (int, error)
	List(ctx context.Context, userID int64) ([]CartLine, error)
	Count(ctx context.Context, userID int64) (int, error)
}

// OrderRepository описывает чтение и смену статуса заказов.
type OrderRepository interface {
	// Get возвращает заказ с позициями или ErrOrderNotFound.
	Get(ctx context.Context, id int64) (Order, error)
	ListByUser(ctx context.Context, userID int64) ([]Order, error)
	// ListActive возвращает заказы пользователя, кроме DELIVERED, новые первыми.
	ListActive(ctx context.Context, userID int64) ([]Order, error)
	UpdateStatus(ctx context.Context, id int64, status OrderStatus) error
}

// OrderTx — операции, доступные внутри транзакции оформления заказа.
type OrderTx interface {
	// LockCartLines блокирует позиции пользователя до конца транзакции.
	// Пустой lineIDs означает всю корзину. Возвращает позиции в порядке id.
	LockCartLines(ctx context.Context, userID int64, lineIDs []int64) ([]CartLine, error)
	GetProducts(ctx context.Context, ids []int64) (map[int64]Product, error)
	GetPrice(ctx context.Context, productID, cityGroupID int64) (Price, error)
	CreateOrder(ctx context.Context, order Order) (Order, error)
	CreateOrderLine(ctx context.Context, line OrderLine) (OrderLine, error)
	// IncrementFrequentlyBought атомарно увеличивает счётчик пары from→to на единицу.
	IncrementFrequentlyBought(ctx context.Context, fromID, toID int64) error
	DeleteCartLine(ctx context.Context, lineID int64) error
	SetOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal) error
}

// OrderUnitOfWork выполняет функцию в одной транзакции; ошибка fn откатывает все изменения.
type OrderUnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx OrderTx) error) error
}

// ImportTx — операции над строками одной сущности внутри транзакции строки файла.
type ImportTx interface {
	// FindByUnique ищет строку по значениям уникальных полей; ErrRecordNotFound если нет.
	FindByUnique(ctx context.Context, entity EntityDescriptor, keys ImportRecord) (int64, error)
	Get(ctx context.Context, entity EntityDescriptor, id int64) (ImportRecord, error)
	Create(ctx context.Context, entity EntityDescriptor, values ImportRecord) (int64, error)
	Update(ctx context.Context, entity EntityDescriptor, id int64, values ImportRecord) error
	// SetRelation заменяет (set) или дополняет (add) множественную связь.
	SetRelation(ctx context.Context, entity EntityDescriptor, field EntityField, id int64, targetIDs []int64, mode RelationMode) error
	Delete(ctx context.Context, entity EntityDescriptor, id int64) error
}

// ImportStore описывает хранилище, в которое пишет движок импорта.
type ImportStore interface {
	// RunRowTx выполняет обработку одной строки файла в отдельной транзакции.
	RunRowTx(ctx context.Context, fn func(ctx context.Context, tx ImportTx) error) error
	AllIDs(ctx context.Context, entity EntityDescriptor) ([]int64, error)
	InactiveIDs(ctx context.Context, entity EntityDescriptor) ([]int64, error)
	Deactivate(ctx context.Context, entity EntityDescriptor, ids []int64) error
	Activate(ctx context.Context, entity EntityDescriptor, ids []int64) error
	SetNotInStock(ctx context.Context, entity EntityDescriptor, ids []int64) error
	Delete(ctx context.Context, entity EntityDescriptor, ids []int64) error
}

// ImportTaskRepository хранит задачи и настройки импорта.
type ImportTaskRepository interface {
	CreateTask(ctx context.Context, task ImportTask) (ImportTask, error)
	GetTask(ctx context.Context, id int64) (ImportTask, error)
	UpdateTask(ctx context.Context, task ImportTask) (ImportTask, error)
	ListTasks(ctx context.Context, limit, offset int) ([]ImportTask, int, error)
	DeleteTask(ctx context.Context, id int64) error

	CreateSetting(ctx context.Context, setting ImportSetting) (ImportSetting, error)
	GetSetting(ctx context.Context, id int64) (ImportSetting, error)
	UpdateSetting(ctx context.Context, setting ImportSetting) (ImportSetting, error)
	ListSettings(ctx context.Context) ([]ImportSetting, error)
	DeleteSetting(ctx context.Context, id int64) error
}

// MetaRepository хранит переопределения и шаблоны метаданных.
type MetaRepository interface {
	// GetMeta возвращает запись владельца; ownerID == 0 — шаблон по умолчанию.
	GetMeta(ctx context.Context, kind OwnerKind, ownerID int64) (OpenGraphMeta, error)
	SaveMeta(ctx context.Context, meta OpenGraphMeta) (OpenGraphMeta, error)
	// ProductStats возвращает число активных товаров владельца и минимальную цену в группе.
	ProductStats(ctx context.Context, kind OwnerKind, ownerID, cityGroupID int64) (count int, minPrice decimal.NullDecimal, err error)
}

// CodeCache — кэш кодов подтверждения с одной записью на соль.
type CodeCache interface {
	// Get возвращает запись и true, если она существует и не истекла.
	Get(ctx context.Context, salt string) (CodeEntry, bool, error)
	// CompareAndSwap записывает next, только если текущее значение совпадает с expected
	// (nil — запись отсутствует). При расхождении возвращает ErrCacheConflict.
	CompareAndSwap(ctx context.Context, salt string, expected *CodeEntry, next CodeEntry, ttl time.Duration) error
	// CompareAndDelete удаляет запись, только если она совпадает с expected.
	CompareAndDelete(ctx context.Context, salt string, expected CodeEntry) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID int64) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
