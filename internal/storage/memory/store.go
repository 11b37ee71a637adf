package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type priceKey struct {
	productID   int64
	cityGroupID int64
}

type fbtKey struct {
	from int64
	to   int64
}

type metaKey struct {
	kind    domain.OwnerKind
	ownerID int64
}

// Store — in-memory хранилище сущностей витрины для локальной разработки и тестов.
// Все таблицы защищены одним мьютексом; транзакции держат его эксклюзивно.
type Store struct {
	mu  sync.RWMutex
	seq map[string]int64
	now func() time.Time

	cities          map[int64]domain.City
	groups          map[int64]domain.CityGroup
	products        map[int64]domain.Product
	categories      map[int64]domain.Category
	brands          map[int64]domain.Brand
	characteristics map[int64]domain.Characteristic
	charValues      map[int64]domain.CharacteristicValue
	pages           map[int64]domain.Page
	prices          map[priceKey]domain.Price
	users           map[int64]domain.User
	cartLines       map[int64]domain.CartLine
	orders          map[int64]domain.Order
	fbt             map[fbtKey]int64
	metas           map[metaKey]domain.OpenGraphMeta
	importTasks     map[int64]domain.ImportTask
	importSettings  map[int64]domain.ImportSetting
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{
		seq:             make(map[string]int64),
		now:             func() time.Time { return time.Now().UTC() },
		cities:          make(map[int64]domain.City),
		groups:          make(map[int64]domain.CityGroup),
		products:        make(map[int64]domain.Product),
		categories:      make(map[int64]domain.Category),
		brands:          make(map[int64]domain.Brand),
		characteristics: make(map[int64]domain.Characteristic),
		charValues:      make(map[int64]domain.CharacteristicValue),
		pages:           make(map[int64]domain.Page),
		prices:          make(map[priceKey]domain.Price),
		users:           make(map[int64]domain.User),
		cartLines:       make(map[int64]domain.CartLine),
		orders:          make(map[int64]domain.Order),
		fbt:             make(map[fbtKey]int64),
		metas:           make(map[metaKey]domain.OpenGraphMeta),
		importTasks:     make(map[int64]domain.ImportTask),
		importSettings:  make(map[int64]domain.ImportSetting),
	}
}

// nextID выдаёт следующий идентификатор таблицы; вызывается под s.mu.
func (s *Store) nextID(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

// bumpID сдвигает последовательность, если запись пришла с явным идентификатором.
func (s *Store) bumpID(table string, id int64) {
	if id > s.seq[table] {
		s.seq[table] = id
	}
}

// journal накапливает откаты изменений транзакции.
type journal []func()

func (j *journal) rollback() {
	for i := len(*j) - 1; i >= 0; i-- {
		(*j)[i]()
	}
	*j = nil
}

// remember сохраняет прежнее состояние ключа до изменения.
func remember[K comparable, V any](j *journal, m map[K]V, k K) {
	if j == nil {
		return
	}
	prev, existed := m[k]
	*j = append(*j, func() {
		if existed {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func cloneIDs(ids []int64) []int64 {
	if ids == nil {
		return nil
	}
	return append([]int64(nil), ids...)
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func cloneCases(c domain.NameCases) domain.NameCases {
	if c == nil {
		return nil
	}
	out := make(domain.NameCases, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

func cloneProduct(p domain.Product) domain.Product {
	p.AdditionalCategoryIDs = cloneIDs(p.AdditionalCategoryIDs)
	p.SimilarIDs = cloneIDs(p.SimilarIDs)
	p.UnavailableIn = cloneIDs(p.UnavailableIn)
	return p
}

func cloneOrder(o domain.Order) domain.Order {
	o.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return o
}
