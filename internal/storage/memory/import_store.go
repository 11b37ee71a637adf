package memory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type importStore struct {
	s *Store
}

// NewImportStore создаёт in-memory хранилище, в которое пишет движок импорта.
func NewImportStore(store *Store) domain.ImportStore {
	return &importStore{s: store}
}

// RunRowTx выполняет fn под эксклюзивной блокировкой; ошибка откатывает изменения строки.
func (r *importStore) RunRowTx(ctx context.Context, fn func(ctx context.Context, tx domain.ImportTx) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	tx := &importTx{s: r.s}
	if err := fn(ctx, tx); err != nil {
		tx.j.rollback()
		return err
	}
	return nil
}

func (r *importStore) AllIDs(_ context.Context, entity domain.EntityDescriptor) ([]int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.s.entityIDs(entity)
}

func (r *importStore) InactiveIDs(_ context.Context, entity domain.EntityDescriptor) ([]int64, error) {
	if entity.ActiveColumn == "" {
		return nil, nil
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ids, err := r.s.entityIDs(entity)
	if err != nil {
		return nil, err
	}
	result := make([]int64, 0)
	for _, id := range ids {
		rec, err := r.s.entityRecord(entity, id)
		if err != nil {
			return nil, err
		}
		if active, _ := rec[entity.ActiveColumn].(bool); !active {
			result = append(result, id)
		}
	}
	return result, nil
}

func (r *importStore) Deactivate(_ context.Context, entity domain.EntityDescriptor, ids []int64) error {
	return r.setFlag(entity, entity.ActiveColumn, ids, false)
}

func (r *importStore) Activate(_ context.Context, entity domain.EntityDescriptor, ids []int64) error {
	return r.setFlag(entity, entity.ActiveColumn, ids, true)
}

func (r *importStore) SetNotInStock(_ context.Context, entity domain.EntityDescriptor, ids []int64) error {
	return r.setFlag(entity, entity.InStockColumn, ids, false)
}

func (r *importStore) setFlag(entity domain.EntityDescriptor, column string, ids []int64, value bool) error {
	if column == "" {
		return nil
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, id := range ids {
		if err := r.s.writeEntity(nil, entity, id, domain.ImportRecord{column: value}); err != nil {
			return err
		}
	}
	return nil
}

func (r *importStore) Delete(_ context.Context, entity domain.EntityDescriptor, ids []int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, id := range ids {
		if err := r.s.deleteEntity(nil, entity, id); err != nil {
			return err
		}
	}
	return nil
}

type importTx struct {
	s *Store
	j journal
}

func (tx *importTx) FindByUnique(_ context.Context, entity domain.EntityDescriptor, keys domain.ImportRecord) (int64, error) {
	ids, err := tx.s.entityIDs(entity)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		rec, err := tx.s.entityRecord(entity, id)
		if err != nil {
			return 0, err
		}
		matched := true
		for column, want := range keys {
			if !sameValue(rec[column], want) {
				matched = false
				break
			}
		}
		if matched {
			return id, nil
		}
	}
	return 0, domain.ErrRecordNotFound
}

func (tx *importTx) Get(_ context.Context, entity domain.EntityDescriptor, id int64) (domain.ImportRecord, error) {
	return tx.s.entityRecord(entity, id)
}

func (tx *importTx) Create(_ context.Context, entity domain.EntityDescriptor, values domain.ImportRecord) (int64, error) {
	return tx.s.createEntity(&tx.j, entity, values)
}

func (tx *importTx) Update(_ context.Context, entity domain.EntityDescriptor, id int64, values domain.ImportRecord) error {
	return tx.s.writeEntity(&tx.j, entity, id, values)
}

func (tx *importTx) SetRelation(_ context.Context, entity domain.EntityDescriptor, field domain.EntityField, id int64, targetIDs []int64, mode domain.RelationMode) error {
	return tx.s.setEntityRelation(&tx.j, entity, field, id, targetIDs, mode)
}

func (tx *importTx) Delete(_ context.Context, entity domain.EntityDescriptor, id int64) error {
	return tx.s.deleteEntity(&tx.j, entity, id)
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func unsupportedEntity(entity domain.EntityDescriptor) error {
	return fmt.Errorf("%w: %s", domain.ErrUnknownEntity, entity.Name)
}

// entityIDs и остальные методы ниже вызываются под s.mu.
func (s *Store) entityIDs(entity domain.EntityDescriptor) ([]int64, error) {
	switch entity.Name {
	case domain.EntityProduct:
		return sortedKeys(s.products), nil
	case domain.EntityCategory:
		return sortedKeys(s.categories), nil
	case domain.EntityBrand:
		return sortedKeys(s.brands), nil
	case domain.EntityCharacteristic:
		return sortedKeys(s.characteristics), nil
	case domain.EntityCharacteristicValue:
		return sortedKeys(s.charValues), nil
	case domain.EntityPrice:
		byID := make(map[int64]struct{}, len(s.prices))
		for _, p := range s.prices {
			byID[p.ID] = struct{}{}
		}
		return sortedKeys(byID), nil
	default:
		return nil, unsupportedEntity(entity)
	}
}

func (s *Store) priceByID(id int64) (domain.Price, bool) {
	for _, p := range s.prices {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Price{}, false
}

func (s *Store) entityRecord(entity domain.EntityDescriptor, id int64) (domain.ImportRecord, error) {
	switch entity.Name {
	case domain.EntityProduct:
		p, ok := s.products[id]
		if !ok {
			return nil, domain.ErrRecordNotFound
		}
		return domain.ImportRecord{
			"id": p.ID, "article": p.Article, "title": p.Title, "slug": p.Slug,
			"description": p.Description, "category_id": nullableID(p.CategoryID),
			"brand_id": nullableID(p.BrandID), "in_stock": p.InStock, "is_popular": p.Popular,
			"is_new": p.New, "is_active": p.Active, "priority": int64(p.Priority),
			"image": p.Image, "thumbnail": p.Thumbnail, "barcode": p.Barcode, "weight": p.Weight,
		}, nil
	case domain.EntityCategory:
		c, ok := s.categories[id]
		if !ok {
			return nil, domain.ErrRecordNotFound
		}
		return domain.ImportRecord{
			"id": c.ID, "slug": c.Slug, "name": c.Name, "description": c.Description,
			"parent_id": nullableID(c.ParentID), "image": c.Image, "is_visible": c.Visible,
			"is_popular": c.Popular, "is_active": c.Active, "ordering": int64(c.Order),
		}, nil
	case domain.EntityBrand:
		b, ok := s.brands[id]
		if !ok {
			return nil, domain.ErrRecordNotFound
		}
		return domain.ImportRecord{
			"id": b.ID, "slug": b.Slug, "name": b.Name, "image": b.Image,
			"ordering": int64(b.Order), "is_active": b.Active,
		}, nil
	case domain.EntityCharacteristic:
		ch, ok := s.characteristics[id]
		if !ok {
			return nil, domain.ErrRecordNotFound
		}
		return domain.ImportRecord{
			"id": ch.ID, "slug": ch.Slug, "name": ch.Name, "for_filtering": ch.ForFiltering,
		}, nil
	case domain.EntityCharacteristicValue:
		v, ok := s.charValues[id]
		if !ok {
			return nil, domain.ErrRecordNotFound
		}
		return domain.ImportRecord{
			"id": v.ID, "product_id": v.ProductID, "characteristic_id": v.CharacteristicID,
			"value": v.Value, "slug": v.Slug,
		}, nil
	case domain.EntityPrice:
		p, ok := s.priceByID(id)
		if !ok {
			return nil, domain.ErrRecordNotFound
		}
		rec := domain.ImportRecord{
			"id": p.ID, "product_id": p.ProductID, "city_group_id": p.CityGroupID,
			"price": p.Current, "old_price": nil,
		}
		if p.Previous.Valid {
			rec["old_price"] = p.Previous.Decimal
		}
		return rec, nil
	default:
		return nil, unsupportedEntity(entity)
	}
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func (s *Store) createEntity(j *journal, entity domain.EntityDescriptor, values domain.ImportRecord) (int64, error) {
	id := recInt(values, "id")
	switch entity.Name {
	case domain.EntityProduct:
		p := domain.Product{ID: id, Active: true, InStock: true, Priority: domain.DefaultProductPriority}
		applyProduct(&p, values)
		if err := s.checkRefs(p.CategoryID, p.BrandID); err != nil {
			return 0, err
		}
		created, err := s.insertProduct(j, p)
		return created.ID, err
	case domain.EntityCategory:
		c := domain.Category{ID: id, Active: true, Visible: true}
		applyCategory(&c, values)
		created, err := s.insertCategory(j, c)
		return created.ID, err
	case domain.EntityBrand:
		b := domain.Brand{ID: id, Active: true}
		applyBrand(&b, values)
		created, err := s.insertBrand(j, b)
		return created.ID, err
	case domain.EntityCharacteristic:
		ch := domain.Characteristic{ID: id}
		applyCharacteristic(&ch, values)
		for _, existing := range s.characteristics {
			if existing.Slug == ch.Slug {
				return 0, domain.ErrSlugTaken
			}
		}
		if ch.ID == 0 {
			ch.ID = s.nextID("characteristics")
		} else {
			s.bumpID("characteristics", ch.ID)
		}
		remember(j, s.characteristics, ch.ID)
		s.characteristics[ch.ID] = ch
		return ch.ID, nil
	case domain.EntityCharacteristicValue:
		v := domain.CharacteristicValue{ID: id}
		applyCharacteristicValue(&v, values)
		if _, ok := s.products[v.ProductID]; !ok {
			return 0, domain.ErrProductNotFound
		}
		if _, ok := s.characteristics[v.CharacteristicID]; !ok {
			return 0, domain.ErrRecordNotFound
		}
		if v.ID == 0 {
			v.ID = s.nextID("characteristic_values")
		} else {
			s.bumpID("characteristic_values", v.ID)
		}
		remember(j, s.charValues, v.ID)
		s.charValues[v.ID] = v
		return v.ID, nil
	case domain.EntityPrice:
		p := domain.Price{ID: id}
		applyPrice(&p, values)
		if err := s.checkPriceRefs(p); err != nil {
			return 0, err
		}
		key := priceKey{productID: p.ProductID, cityGroupID: p.CityGroupID}
		if _, exists := s.prices[key]; exists {
			return 0, domain.ErrConflict
		}
		if p.ID == 0 {
			p.ID = s.nextID("prices")
		} else {
			s.bumpID("prices", p.ID)
		}
		p.UpdatedAt = s.now()
		remember(j, s.prices, key)
		s.prices[key] = p
		return p.ID, nil
	default:
		return 0, unsupportedEntity(entity)
	}
}

func (s *Store) writeEntity(j *journal, entity domain.EntityDescriptor, id int64, values domain.ImportRecord) error {
	switch entity.Name {
	case domain.EntityProduct:
		p, ok := s.products[id]
		if !ok {
			return domain.ErrRecordNotFound
		}
		p = cloneProduct(p)
		applyProduct(&p, values)
		if err := s.checkRefs(p.CategoryID, p.BrandID); err != nil {
			return err
		}
		_, err := s.replaceProduct(j, p)
		return err
	case domain.EntityCategory:
		c, ok := s.categories[id]
		if !ok {
			return domain.ErrRecordNotFound
		}
		applyCategory(&c, values)
		_, err := s.replaceCategory(j, c)
		return err
	case domain.EntityBrand:
		b, ok := s.brands[id]
		if !ok {
			return domain.ErrRecordNotFound
		}
		applyBrand(&b, values)
		remember(j, s.brands, id)
		s.brands[id] = b
		return nil
	case domain.EntityCharacteristic:
		ch, ok := s.characteristics[id]
		if !ok {
			return domain.ErrRecordNotFound
		}
		applyCharacteristic(&ch, values)
		remember(j, s.characteristics, id)
		s.characteristics[id] = ch
		return nil
	case domain.EntityCharacteristicValue:
		v, ok := s.charValues[id]
		if !ok {
			return domain.ErrRecordNotFound
		}
		applyCharacteristicValue(&v, values)
		remember(j, s.charValues, id)
		s.charValues[id] = v
		return nil
	case domain.EntityPrice:
		p, ok := s.priceByID(id)
		if !ok {
			return domain.ErrRecordNotFound
		}
		oldKey := priceKey{productID: p.ProductID, cityGroupID: p.CityGroupID}
		applyPrice(&p, values)
		if err := s.checkPriceRefs(p); err != nil {
			return err
		}
		newKey := priceKey{productID: p.ProductID, cityGroupID: p.CityGroupID}
		if newKey != oldKey {
			if _, exists := s.prices[newKey]; exists {
				return domain.ErrConflict
			}
			remember(j, s.prices, oldKey)
			delete(s.prices, oldKey)
		}
		p.UpdatedAt = s.now()
		remember(j, s.prices, newKey)
		s.prices[newKey] = p
		return nil
	default:
		return unsupportedEntity(entity)
	}
}

func (s *Store) checkRefs(categoryID, brandID int64) error {
	if categoryID != 0 {
		if _, ok := s.categories[categoryID]; !ok {
			return domain.ErrCategoryNotFound
		}
	}
	if brandID != 0 {
		if _, ok := s.brands[brandID]; !ok {
			return domain.ErrBrandNotFound
		}
	}
	return nil
}

func (s *Store) checkPriceRefs(p domain.Price) error {
	if _, ok := s.products[p.ProductID]; !ok {
		return domain.ErrProductNotFound
	}
	if _, ok := s.groups[p.CityGroupID]; !ok {
		return domain.ErrCityGroupNotFound
	}
	return p.Validate()
}

func (s *Store) setEntityRelation(j *journal, entity domain.EntityDescriptor, field domain.EntityField, id int64, targetIDs []int64, mode domain.RelationMode) error {
	merge := func(current []int64) []int64 {
		next := make([]int64, 0, len(current)+len(targetIDs))
		if mode == domain.RelationAdd {
			next = append(next, current...)
		}
		for _, target := range targetIDs {
			if !containsID(next, target) {
				next = append(next, target)
			}
		}
		return next
	}

	switch entity.Name {
	case domain.EntityProduct:
		p, ok := s.products[id]
		if !ok {
			return domain.ErrRecordNotFound
		}
		p = cloneProduct(p)
		switch field.Name {
		case "additional_categories":
			for _, target := range targetIDs {
				if _, ok := s.categories[target]; !ok {
					return domain.ErrCategoryNotFound
				}
			}
			p.AdditionalCategoryIDs = merge(p.AdditionalCategoryIDs)
		case "similar_products":
			for _, target := range targetIDs {
				if _, ok := s.products[target]; !ok {
					return domain.ErrProductNotFound
				}
			}
			p.SimilarIDs = merge(p.SimilarIDs)
		case "unavailable_in":
			for _, target := range targetIDs {
				if _, ok := s.cities[target]; !ok {
					return domain.ErrCityNotFound
				}
			}
			p.UnavailableIn = merge(p.UnavailableIn)
		default:
			return fmt.Errorf("%w: %s.%s", domain.ErrUnknownField, entity.Name, field.Name)
		}
		remember(j, s.products, id)
		s.products[id] = p
		return nil
	case domain.EntityCharacteristic:
		ch, ok := s.characteristics[id]
		if !ok {
			return domain.ErrRecordNotFound
		}
		if field.Name != "categories" {
			return fmt.Errorf("%w: %s.%s", domain.ErrUnknownField, entity.Name, field.Name)
		}
		for _, target := range targetIDs {
			if _, ok := s.categories[target]; !ok {
				return domain.ErrCategoryNotFound
			}
		}
		ch.CategoryIDs = merge(cloneIDs(ch.CategoryIDs))
		remember(j, s.characteristics, id)
		s.characteristics[id] = ch
		return nil
	default:
		return fmt.Errorf("%w: %s.%s", domain.ErrUnknownField, entity.Name, field.Name)
	}
}

func (s *Store) deleteEntity(j *journal, entity domain.EntityDescriptor, id int64) error {
	switch entity.Name {
	case domain.EntityProduct:
		if _, ok := s.products[id]; !ok {
			return domain.ErrRecordNotFound
		}
		remember(j, s.products, id)
		delete(s.products, id)
		for key := range s.prices {
			if key.productID == id {
				remember(j, s.prices, key)
				delete(s.prices, key)
			}
		}
		for vid, v := range s.charValues {
			if v.ProductID == id {
				remember(j, s.charValues, vid)
				delete(s.charValues, vid)
			}
		}
		for lid, line := range s.cartLines {
			if line.ProductID == id {
				remember(j, s.cartLines, lid)
				delete(s.cartLines, lid)
			}
		}
		for key := range s.fbt {
			if key.from == id || key.to == id {
				remember(j, s.fbt, key)
				delete(s.fbt, key)
			}
		}
		return nil
	case domain.EntityCategory:
		if _, ok := s.categories[id]; !ok {
			return domain.ErrRecordNotFound
		}
		for _, p := range s.products {
			if p.CategoryID == id {
				return fmt.Errorf("%w: category %d has products", domain.ErrConflict, id)
			}
		}
		for cid, c := range s.categories {
			if c.ParentID == id {
				remember(j, s.categories, cid)
				c.ParentID = 0
				s.categories[cid] = c
			}
		}
		remember(j, s.categories, id)
		delete(s.categories, id)
		return nil
	case domain.EntityBrand:
		if _, ok := s.brands[id]; !ok {
			return domain.ErrRecordNotFound
		}
		for pid, p := range s.products {
			if p.BrandID == id {
				remember(j, s.products, pid)
				p = cloneProduct(p)
				p.BrandID = 0
				s.products[pid] = p
			}
		}
		remember(j, s.brands, id)
		delete(s.brands, id)
		return nil
	case domain.EntityCharacteristic:
		if _, ok := s.characteristics[id]; !ok {
			return domain.ErrRecordNotFound
		}
		for vid, v := range s.charValues {
			if v.CharacteristicID == id {
				remember(j, s.charValues, vid)
				delete(s.charValues, vid)
			}
		}
		remember(j, s.characteristics, id)
		delete(s.characteristics, id)
		return nil
	case domain.EntityCharacteristicValue:
		if _, ok := s.charValues[id]; !ok {
			return domain.ErrRecordNotFound
		}
		remember(j, s.charValues, id)
		delete(s.charValues, id)
		return nil
	case domain.EntityPrice:
		p, ok := s.priceByID(id)
		if !ok {
			return domain.ErrRecordNotFound
		}
		key := priceKey{productID: p.ProductID, cityGroupID: p.CityGroupID}
		remember(j, s.prices, key)
		delete(s.prices, key)
		return nil
	default:
		return unsupportedEntity(entity)
	}
}

func applyProduct(p *domain.Product, rec domain.ImportRecord) {
	for column, v := range rec {
		switch column {
		case "article":
			p.Article = asString(v)
		case "title":
			p.Title = asString(v)
		case "slug":
			p.Slug = asString(v)
		case "description":
			p.Description = asString(v)
		case "category_id":
			p.CategoryID = asInt(v)
		case "brand_id":
			p.BrandID = asInt(v)
		case "in_stock":
			p.InStock = asBool(v)
		case "is_popular":
			p.Popular = asBool(v)
		case "is_new":
			p.New = asBool(v)
		case "is_active":
			p.Active = asBool(v)
		case "priority":
			p.Priority = int(asInt(v))
		case "image":
			p.Image = asString(v)
		case "thumbnail":
			p.Thumbnail = asString(v)
		case "barcode":
			p.Barcode = asString(v)
		case "weight":
			p.Weight = asString(v)
		}
	}
}

func applyCategory(c *domain.Category, rec domain.ImportRecord) {
	for column, v := range rec {
		switch column {
		case "slug":
			c.Slug = asString(v)
		case "name":
			c.Name = asString(v)
		case "description":
			c.Description = asString(v)
		case "parent_id":
			c.ParentID = asInt(v)
		case "image":
			c.Image = asString(v)
		case "is_visible":
			c.Visible = asBool(v)
		case "is_popular":
			c.Popular = asBool(v)
		case "is_active":
			c.Active = asBool(v)
		case "ordering":
			c.Order = int(asInt(v))
		}
	}
}

func applyBrand(b *domain.Brand, rec domain.ImportRecord) {
	for column, v := range rec {
		switch column {
		case "slug":
			b.Slug = asString(v)
		case "name":
			b.Name = asString(v)
		case "image":
			b.Image = asString(v)
		case "ordering":
			b.Order = int(asInt(v))
		case "is_active":
			b.Active = asBool(v)
		}
	}
}

func applyCharacteristic(ch *domain.Characteristic, rec domain.ImportRecord) {
	for column, v := range rec {
		switch column {
		case "slug":
			ch.Slug = asString(v)
		case "name":
			ch.Name = asString(v)
		case "for_filtering":
			ch.ForFiltering = asBool(v)
		}
	}
}

func applyCharacteristicValue(cv *domain.CharacteristicValue, rec domain.ImportRecord) {
	for column, v := range rec {
		switch column {
		case "product_id":
			cv.ProductID = asInt(v)
		case "characteristic_id":
			cv.CharacteristicID = asInt(v)
		case "value":
			cv.Value = asString(v)
		case "slug":
			cv.Slug = asString(v)
		}
	}
}

func applyPrice(p *domain.Price, rec domain.ImportRecord) {
	for column, v := range rec {
		switch column {
		case "product_id":
			p.ProductID = asInt(v)
		case "city_group_id":
			p.CityGroupID = asInt(v)
		case "price":
			if d, ok := asDecimal(v); ok {
				p.Current = d
			}
		case "old_price":
			if d, ok := asDecimal(v); ok {
				p.Previous = decimal.NewNullDecimal(d)
			} else {
				p.Previous = decimal.NullDecimal{}
			}
		}
	}
}

func recInt(rec domain.ImportRecord, column string) int64 {
	v, ok := rec[column]
	if !ok {
		return 0
	}
	return asInt(v)
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func asInt(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	default:
		return 0
	}
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, true
	case decimal.NullDecimal:
		return t.Decimal, t.Valid
	default:
		return decimal.Decimal{}, false
	}
}

var (
	_ domain.ImportStore = (*importStore)(nil)
	_ domain.ImportTx    = (*importTx)(nil)
)
