package domain

import (
	"strings"
	"time"
)

// ImportStatus — состояние задачи импорта.
type ImportStatus string

const (
	ImportStatusPending    ImportStatus = "PENDING"
	ImportStatusInProgress ImportStatus = "IN_PROGRESS"
	ImportStatusCompleted  ImportStatus = "COMPLETED"
	ImportStatusFailed     ImportStatus = "FAILED"
)

// NotInFileAction — политика для записей, которых нет в файле.
type NotInFileAction string

const (
	NotInFileDeactivate    NotInFileAction = "DEACTIVATE"
	NotInFileDelete        NotInFileAction = "DELETE"
	NotInFileSetNotInStock NotInFileAction = "SET_NOT_IN_STOCK"
	NotInFileIgnore        NotInFileAction = "IGNORE"
)

// InactiveItemsAction — политика для неактивных записей.
type InactiveItemsAction string

const (
	InactiveLeave    InactiveItemsAction = "LEAVE"
	InactiveActivate InactiveItemsAction = "ACTIVATE"
)

// RelationMode — способ применения many-to-many связей.
type RelationMode string

const (
	// RelationSet заменяет связи значениями из файла.
	RelationSet RelationMode = "set"
	// RelationAdd добавляет связи к существующим.
	RelationAdd RelationMode = "add"
)

// DefaultImagesPath — каталог изображений импорта по умолчанию.
const DefaultImagesPath = "/var/import_images/"

// ImportSetting — именованное описание соответствия колонок файла полям сущностей.
type ImportSetting struct {
	ID   int64
	Name string
	Slug string
	// Fields: сущность → {поле сущности → колонка файла}.
	Fields                     map[string]map[string]string
	PathToImages               string
	ItemsNotInFileAction       NotInFileAction
	InactiveItemsAction        InactiveItemsAction
	RelationMode               RelationMode
	RemoveExistingPriceIfEmpty bool
	CreatedAt                  time.Time
}

// Normalize заполняет значения по умолчанию.
func (s *ImportSetting) Normalize() {
	if s.Slug == "" {
		s.Slug = MakeSlug(s.Name)
	}
	if s.PathToImages == "" {
		s.PathToImages = DefaultImagesPath
	}
	if s.ItemsNotInFileAction == "" {
		s.ItemsNotInFileAction = NotInFileIgnore
	}
	if s.InactiveItemsAction == "" {
		s.InactiveItemsAction = InactiveLeave
	}
	if s.RelationMode == "" {
		s.RelationMode = RelationSet
	}
}

// Validate проверяет настройку импорта.
func (s ImportSetting) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(s.Name) == "" {
		verr.Add("name", "обязательное поле")
	}
	if len(s.Fields) == 0 {
		verr.Add("fields", "нужно указать хотя бы одну сущность")
	}
	switch s.ItemsNotInFileAction {
	case NotInFileDeactivate, NotInFileDelete, NotInFileSetNotInStock, NotInFileIgnore, "":
	default:
		verr.Add("items_not_in_file_action", "недопустимое значение")
	}
	switch s.InactiveItemsAction {
	case InactiveLeave, InactiveActivate, "":
	default:
		verr.Add("inactive_items_action", "недопустимое значение")
	}
	switch s.RelationMode {
	case RelationSet, RelationAdd, "":
	default:
		verr.Add("relation_mode", "допустимые значения: set, add")
	}
	if verr.Empty() {
		return nil
	}
	return verr
}

// ImportTask — запуск импорта конкретного файла.
type ImportTask struct {
	ID        int64
	FilePath  string
	UserID    int64
	Status    ImportStatus
	SettingID int64
	Errors    []string
	CreatedAt time.Time
	EndAt     *time.Time
}

// Comment склеивает накопленные ошибки построчно.
func (t ImportTask) Comment() string {
	return strings.Join(t.Errors, "\n")
}

// FieldKind — корзина классификации поля при импорте.
type FieldKind string

const (
	FieldUnique        FieldKind = "unique"
	FieldRelation      FieldKind = "relation"
	FieldMultiRelation FieldKind = "multi_relation"
	FieldDecimal       FieldKind = "decimal"
	FieldBoolean       FieldKind = "boolean"
	FieldImage         FieldKind = "image"
	FieldScalar        FieldKind = "scalar"
)

// ValueType — тип значения скалярного или ключевого поля.
type ValueType string

const (
	ValueText ValueType = "text"
	ValueInt  ValueType = "int"
)

// EntityField описывает поле импортируемой сущности.
type EntityField struct {
	Name   string
	Column string
	Kind   FieldKind
	// Unique отмечает первичный или естественный ключ.
	Unique bool
	Type   ValueType
	// Target — сущность, на которую ссылается связь.
	Target string
	// JoinTable, OwnerColumn и TargetColumn описывают таблицу many-to-many.
	JoinTable    string
	OwnerColumn  string
	TargetColumn string
}

// Bucket возвращает корзину классификации: ключевые поля имеют приоритет.
func (f EntityField) Bucket() FieldKind {
	if f.Unique {
		return FieldUnique
	}
	return f.Kind
}

// EntityDescriptor описывает сущность, доступную импорту.
type EntityDescriptor struct {
	Name  string
	Table string
	// Fields — поля в порядке объявления.
	Fields []EntityField
	// ActiveColumn и InStockColumn пусты, если у сущности нет такого флага.
	ActiveColumn  string
	InStockColumn string
	// SlugColumn заполняется из SlugSource, если slug не пришёл в файле.
	SlugColumn string
	SlugSource string
	// RepriceColumn при изменении переносит прежнее значение в PreviousColumn.
	RepriceColumn  string
	PreviousColumn string
	// ThumbnailColumn получает путь к миниатюре импортированного изображения.
	ThumbnailColumn string
	// Tree — сущность хранится деревом и требует перестроения после импорта.
	Tree bool
}

// Field ищет поле по имени.
func (d EntityDescriptor) Field(name string) (EntityField, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return EntityField{}, false
}

// ImportRecord — значения строки по колонкам хранилища.
type ImportRecord map[string]any

// Имена импортируемых сущностей.
const (
	EntityProduct             = "product"
	EntityCategory            = "category"
	EntityBrand               = "brand"
	EntityCharacteristic      = "characteristic"
	EntityCharacteristicValue = "characteristic_value"
	EntityPrice               = "price"
)

var importEntities = map[string]EntityDescriptor{
	EntityProduct: {
		Name:  EntityProduct,
		Table: "products",
		Fields: []EntityField{
			{Name: "id", Column: "id", Kind: FieldScalar, Unique: true, Type: ValueInt},
			{Name: "article", Column: "article", Kind: FieldScalar, Unique: true, Type: ValueText},
			{Name: "title", Column: "title", Kind: FieldScalar, Type: ValueText},
			{Name: "slug", Column: "slug", Kind: FieldScalar, Type: ValueText},
			{Name: "description", Column: "description", Kind: FieldScalar, Type: ValueText},
			{Name: "category", Column: "category_id", Kind: FieldRelation, Target: EntityCategory},
			{Name: "brand", Column: "brand_id", Kind: FieldRelation, Target: EntityBrand},
			{Name: "additional_categories", Kind: FieldMultiRelation, Target: EntityCategory,
				JoinTable: "product_additional_categories", OwnerColumn: "product_id", TargetColumn: "category_id"},
			{Name: "similar_products", Kind: FieldMultiRelation, Target: EntityProduct,
				JoinTable: "product_similar", OwnerColumn: "product_id", TargetColumn: "similar_id"},
			{Name: "unavailable_in", Kind: FieldMultiRelation, Target: "city",
				JoinTable: "product_unavailable_in", OwnerColumn: "product_id", TargetColumn: "city_id"},
			{Name: "in_stock", Column: "in_stock", Kind: FieldBoolean},
			{Name: "is_popular", Column: "is_popular", Kind: FieldBoolean},
			{Name: "is_new", Column: "is_new", Kind: FieldBoolean},
			{Name: "is_active", Column: "is_active", Kind: FieldBoolean},
			{Name: "priority", Column: "priority", Kind: FieldScalar, Type: ValueInt},
			{Name: "image", Column: "image", Kind: FieldImage},
			{Name: "barcode", Column: "barcode", Kind: FieldScalar, Type: ValueText},
			{Name: "weight", Column: "weight", Kind: FieldScalar, Type: ValueText},
		},
		ActiveColumn:    "is_active",
		InStockColumn:   "in_stock",
		SlugColumn:      "slug",
		SlugSource:      "title",
		ThumbnailColumn: "thumbnail",
	},
	EntityCategory: {
		Name:  EntityCategory,
		Table: "categories",
		Fields: []EntityField{
			{Name: "id", Column: "id", Kind: FieldScalar, Unique: true, Type: ValueInt},
			{Name: "slug", Column: "slug", Kind: FieldScalar, Unique: true, Type: ValueText},
			{Name: "name", Column: "name", Kind: FieldScalar, Type: ValueText},
			{Name: "description", Column: "description", Kind: FieldScalar, Type: ValueText},
			{Name: "parent", Column: "parent_id", Kind: FieldRelation, Target: EntityCategory},
			{Name: "image", Column: "image", Kind: FieldImage},
			{Name: "is_visible", Column: "is_visible", Kind: FieldBoolean},
			{Name: "is_popular", Column: "is_popular", Kind: FieldBoolean},
			{Name: "is_active", Column: "is_active", Kind: FieldBoolean},
			{Name: "order", Column: "ordering", Kind: FieldScalar, Type: ValueInt},
		},
		ActiveColumn: "is_active",
		SlugColumn:   "slug",
		SlugSource:   "name",
		Tree:         true,
	},
	EntityBrand: {
		Name:  EntityBrand,
		Table: "brands",
		Fields: []EntityField{
			{Name: "id", Column: "id", Kind: FieldScalar, Unique: true, Type: ValueInt},
			{Name: "slug", Column: "slug", Kind: FieldScalar, Unique: true, Type: ValueText},
			{Name: "name", Column: "name", Kind: FieldScalar, Type: ValueText},
			{Name: "image", Column: "image", Kind: FieldImage},
			{Name: "order", Column: "ordering", Kind: FieldScalar, Type: ValueInt},
			{Name: "is_active", Column: "is_active", Kind: FieldBoolean},
		},
		ActiveColumn: "is_active",
		SlugColumn:   "slug",
		SlugSource:   "name",
	},
	EntityCharacteristic: {
		Name:  EntityCharacteristic,
		Table: "characteristics",
		Fields: []EntityField{
			{Name: "id", Column: "id", Kind: FieldScalar, Unique: true, Type: ValueInt},
			{Name: "slug", Column: "slug", Kind: FieldScalar, Unique: true, Type: ValueText},
			{Name: "name", Column: "name", Kind: FieldScalar, Type: ValueText},
			{Name: "for_filtering", Column: "for_filtering", Kind: FieldBoolean},
			{Name: "categories", Kind: FieldMultiRelation, Target: EntityCategory,
				JoinTable: "characteristic_categories", OwnerColumn: "characteristic_id", TargetColumn: "category_id"},
		},
		SlugColumn: "slug",
		SlugSource: "name",
	},
	EntityCharacteristicValue: {
		Name:  EntityCharacteristicValue,
		Table: "characteristic_values",
		Fields: []EntityField{
			{Name: "id", Column: "id", Kind: FieldScalar, Unique: true, Type: ValueInt},
			{Name: "product", Column: "product_id", Kind: FieldRelation, Unique: true, Type: ValueInt, Target: EntityProduct},
			{Name: "characteristic", Column: "characteristic_id", Kind: FieldRelation, Unique: true, Type: ValueInt, Target: EntityCharacteristic},
			{Name: "value", Column: "value", Kind: FieldScalar, Type: ValueText},
			{Name: "slug", Column: "slug", Kind: FieldScalar, Type: ValueText},
		},
		SlugColumn: "slug",
		SlugSource: "value",
	},
	EntityPrice: {
		Name:  EntityPrice,
		Table: "prices",
		Fields: []EntityField{
			{Name: "id", Column: "id", Kind: FieldScalar, Unique: true, Type: ValueInt},
			{Name: "product", Column: "product_id", Kind: FieldRelation, Unique: true, Type: ValueInt, Target: EntityProduct},
			{Name: "city_group", Column: "city_group_id", Kind: FieldRelation, Unique: true, Type: ValueInt, Target: "city_group"},
			{Name: "price", Column: "price", Kind: FieldDecimal},
			{Name: "old_price", Column: "old_price", Kind: FieldDecimal},
		},
		RepriceColumn:  "price",
		PreviousColumn: "old_price",
	},
}

// LookupEntity возвращает описание импортируемой сущности.
func LookupEntity(name string) (EntityDescriptor, bool) {
	d, ok := importEntities[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}

// ImportableEntities перечисляет имена сущностей, доступных импорту.
func ImportableEntities() []string {
	return []string{
		EntityCategory, EntityBrand, EntityProduct,
		EntityCharacteristic, EntityCharacteristicValue, EntityPrice,
	}
}
