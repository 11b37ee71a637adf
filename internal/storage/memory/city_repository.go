package memory

import (
	"context"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type cityRepository struct {
	s *Store
}

// NewCityRepository создаёт in-memory реализацию CityRepository.
func NewCityRepository(store *Store) domain.CityRepository {
	return &cityRepository{s: store}
}

func (r *cityRepository) GetCity(_ context.Context, id int64) (domain.City, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	city, ok := r.s.cities[id]
	if !ok {
		return domain.City{}, domain.ErrCityNotFound
	}
	city.Cases = cloneCases(city.Cases)
	return city, nil
}

func (r *cityRepository) GetCityByDomain(_ context.Context, domainName string) (domain.City, error) {
	domainName = domain.NormalizeDomain(domainName)

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, id := range sortedKeys(r.s.cities) {
		city := r.s.cities[id]
		if city.Domain == domainName {
			city.Cases = cloneCases(city.Cases)
			return city, nil
		}
	}
	return domain.City{}, domain.ErrCityNotFound
}

func (r *cityRepository) GetCityByName(_ context.Context, name string) (domain.City, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, id := range sortedKeys(r.s.cities) {
		city := r.s.cities[id]
		if strings.EqualFold(city.Name, strings.TrimSpace(name)) {
			city.Cases = cloneCases(city.Cases)
			return city, nil
		}
	}
	return domain.City{}, domain.ErrCityNotFound
}

func (r *cityRepository) CreateCity(_ context.Context, city domain.City) (domain.City, error) {
	city.Domain = domain.NormalizeDomain(city.Domain)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.domainTaken(city.Domain, 0) {
		return domain.City{}, domain.ErrDomainTaken
	}
	if city.GroupID != 0 {
		if _, ok := r.s.groups[city.GroupID]; !ok {
			return domain.City{}, domain.ErrCityGroupNotFound
		}
	}

	city.ID = r.s.nextID("cities")
	now := r.s.now()
	city.CreatedAt = now
	city.UpdatedAt = now
	city.Cases = cloneCases(city.Cases)
	r.s.cities[city.ID] = city
	return city, nil
}

func (r *cityRepository) UpdateCity(_ context.Context, city domain.City) (domain.City, error) {
	city.Domain = domain.NormalizeDomain(city.Domain)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.cities[city.ID]
	if !ok {
		return domain.City{}, domain.ErrCityNotFound
	}
	if r.domainTaken(city.Domain, city.ID) {
		return domain.City{}, domain.ErrDomainTaken
	}
	if city.GroupID != 0 {
		if _, ok := r.s.groups[city.GroupID]; !ok {
			return domain.City{}, domain.ErrCityGroupNotFound
		}
	}

	city.CreatedAt = current.CreatedAt
	city.UpdatedAt = r.s.now()
	city.Cases = cloneCases(city.Cases)
	r.s.cities[city.ID] = city
	return city, nil
}

func (r *cityRepository) ListCities(_ context.Context) ([]domain.City, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.City, 0, len(r.s.cities))
	for _, id := range sortedKeys(r.s.cities) {
		city := r.s.cities[id]
		city.Cases = cloneCases(city.Cases)
		result = append(result, city)
	}
	return result, nil
}

func (r *cityRepository) GetCityGroup(_ context.Context, id int64) (domain.CityGroup, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	group, ok := r.s.groups[id]
	if !ok {
		return domain.CityGroup{}, domain.ErrCityGroupNotFound
	}
	group.Cases = cloneCases(group.Cases)
	return group, nil
}

func (r *cityRepository) GetCityGroupByName(_ context.Context, name string) (domain.CityGroup, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, id := range sortedKeys(r.s.groups) {
		group := r.s.groups[id]
		if strings.EqualFold(group.Name, strings.TrimSpace(name)) {
			group.Cases = cloneCases(group.Cases)
			return group, nil
		}
	}
	return domain.CityGroup{}, domain.ErrCityGroupNotFound
}

func (r *cityRepository) CreateCityGroup(_ context.Context, group domain.CityGroup) (domain.CityGroup, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.groups {
		if strings.EqualFold(existing.Name, group.Name) {
			return domain.CityGroup{}, domain.ErrConflict
		}
	}

	group.ID = r.s.nextID("city_groups")
	group.CreatedAt = r.s.now()
	group.Cases = cloneCases(group.Cases)
	r.s.groups[group.ID] = group
	return group, nil
}

func (r *cityRepository) UpdateCityGroup(_ context.Context, group domain.CityGroup) (domain.CityGroup, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.groups[group.ID]
	if !ok {
		return domain.CityGroup{}, domain.ErrCityGroupNotFound
	}
	for id, existing := range r.s.groups {
		if id != group.ID && strings.EqualFold(existing.Name, group.Name) {
			return domain.CityGroup{}, domain.ErrConflict
		}
	}

	group.CreatedAt = current.CreatedAt
	group.Cases = cloneCases(group.Cases)
	r.s.groups[group.ID] = group
	return group, nil
}

func (r *cityRepository) ListCityGroups(_ context.Context) ([]domain.CityGroup, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.CityGroup, 0, len(r.s.groups))
	for _, id := range sortedKeys(r.s.groups) {
		group := r.s.groups[id]
		group.Cases = cloneCases(group.Cases)
		result = append(result, group)
	}
	return result, nil
}

func (r *cityRepository) ListGroupCities(_ context.Context, groupID int64) ([]domain.City, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.City, 0)
	for _, id := range sortedKeys(r.s.cities) {
		city := r.s.cities[id]
		if city.GroupID == groupID {
			city.Cases = cloneCases(city.Cases)
			result = append(result, city)
		}
	}
	return result, nil
}

func (r *cityRepository) domainTaken(domainName string, exceptID int64) bool {
	for id, city := range r.s.cities {
		if id != exceptID && city.Domain == domainName {
			return true
		}
	}
	return false
}

var _ domain.CityRepository = (*cityRepository)(nil)
