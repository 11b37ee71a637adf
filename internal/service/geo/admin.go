package geo

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/morph"
)

// SaveCity создаёт или обновляет город. Падежные формы пересчитываются при создании,
// смене названия и когда сохранённый набор неполон.
func (r *Resolver) SaveCity(ctx context.Context, city domain.City) (domain.City, error) {
	city.Domain = domain.NormalizeDomain(city.Domain)
	if err := city.Validate(); err != nil {
		return domain.City{}, err
	}

	if city.ID == 0 {
		city.Cases = morph.Cases(city.Name)
		created, err := r.cities.CreateCity(ctx, city)
		if err != nil {
			return domain.City{}, fmt.Errorf("create city: %w", err)
		}
		return created, nil
	}

	current, err := r.cities.GetCity(ctx, city.ID)
	if err != nil {
		return domain.City{}, fmt.Errorf("get city: %w", err)
	}
	city.Cases = current.Cases
	if current.Name != city.Name || !city.Cases.Complete() {
		city.Cases = morph.Cases(city.Name)
	}

	updated, err := r.cities.UpdateCity(ctx, city)
	if err != nil {
		return domain.City{}, fmt.Errorf("update city: %w", err)
	}
	return updated, nil
}

// SaveCityGroup создаёт или обновляет группу городов с теми же правилами склонения.
func (r *Resolver) SaveCityGroup(ctx context.Context, group domain.CityGroup) (domain.CityGroup, error) {
	if group.Name == "" {
		return domain.CityGroup{}, domain.NewValidationError("name", "обязательное поле")
	}

	if group.ID == 0 {
		group.Cases = morph.Cases(group.Name)
		created, err := r.cities.CreateCityGroup(ctx, group)
		if err != nil {
			return domain.CityGroup{}, fmt.Errorf("create city group: %w", err)
		}
		return created, nil
	}

	current, err := r.cities.GetCityGroup(ctx, group.ID)
	if err != nil {
		return domain.CityGroup{}, fmt.Errorf("get city group: %w", err)
	}
	group.Cases = current.Cases
	if current.Name != group.Name || !group.Cases.Complete() {
		group.Cases = morph.Cases(group.Name)
	}

	updated, err := r.cities.UpdateCityGroup(ctx, group)
	if err != nil {
		return domain.CityGroup{}, fmt.Errorf("update city group: %w", err)
	}
	return updated, nil
}
