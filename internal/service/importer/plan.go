package importer

import (
	"fmt"
	"sort"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// mapping связывает поле сущности с колонкой файла.
type mapping struct {
	field  domain.EntityField
	column string
}

// plan — поля одной сущности, разложенные по непересекающимся корзинам.
type plan struct {
	entity    domain.EntityDescriptor
	unique    []mapping
	relations []mapping
	multi     []mapping
	decimals  []mapping
	booleans  []mapping
	images    []mapping
	scalars   []mapping
}

func (p plan) hasUnique() bool { return len(p.unique) > 0 }

// buildPlans классифицирует поля настройки. Сущности обрабатываются в порядке
// ImportableEntities, чтобы категории и бренды появлялись раньше ссылающихся на них товаров.
// Неизвестные сущности и поля попадают в issues и пропускаются.
func buildPlans(fields map[string]map[string]string) (plans []plan, issues []string) {
	names := orderedEntityNames(fields)
	for _, name := range names {
		entity, ok := domain.LookupEntity(name)
		if !ok {
			issues = append(issues, fmt.Sprintf("%s: %v", name, domain.ErrUnknownEntity))
			continue
		}
		p := plan{entity: entity}

		fieldNames := make([]string, 0, len(fields[name]))
		for fieldName := range fields[name] {
			fieldNames = append(fieldNames, fieldName)
		}
		sort.Strings(fieldNames)

		for _, fieldName := range fieldNames {
			field, ok := entity.Field(fieldName)
			if !ok {
				issues = append(issues, fmt.Sprintf("%s.%s: %v", name, fieldName, domain.ErrUnknownField))
				continue
			}
			m := mapping{field: field, column: fields[name][fieldName]}
			switch field.Bucket() {
			case domain.FieldUnique:
				p.unique = append(p.unique, m)
			case domain.FieldRelation:
				p.relations = append(p.relations, m)
			case domain.FieldMultiRelation:
				p.multi = append(p.multi, m)
			case domain.FieldDecimal:
				p.decimals = append(p.decimals, m)
			case domain.FieldBoolean:
				p.booleans = append(p.booleans, m)
			case domain.FieldImage:
				p.images = append(p.images, m)
			default:
				p.scalars = append(p.scalars, m)
			}
		}
		plans = append(plans, p)
	}
	return plans, issues
}

func orderedEntityNames(fields map[string]map[string]string) []string {
	rank := make(map[string]int)
	for i, name := range domain.ImportableEntities() {
		rank[name] = i
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, okI := rank[names[i]]
		rj, okJ := rank[names[j]]
		switch {
		case okI && okJ:
			return ri < rj
		case okI != okJ:
			return okI
		default:
			return names[i] < names[j]
		}
	})
	return names
}
