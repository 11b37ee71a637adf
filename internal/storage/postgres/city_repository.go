package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type cityRepository struct {
	db *sql.DB
}

// NewCityRepository создаёт PostgreSQL-реализацию CityRepository.
func NewCityRepository(store *Store) domain.CityRepository {
	return &cityRepository{db: store.DB()}
}

const citySelect = `
	SELECT id, name, domain, population, address, phone, schedule,
	       COALESCE(group_id, 0), cases, created_at, updated_at
	FROM cities`

func scanCity(row interface{ Scan(...any) error }) (domain.City, error) {
	var (
		city  domain.City
		cases []byte
	)
	if err := row.Scan(
		&city.ID, &city.Name, &city.Domain, &city.Population, &city.Address,
		&city.Phone, &city.Schedule, &city.GroupID, &cases, &city.CreatedAt, &city.UpdatedAt,
	); err != nil {
		return domain.City{}, err
	}
	decoded, err := decodeCases(cases)
	if err != nil {
		return domain.City{}, err
	}
	city.Cases = decoded
	return city, nil
}

func (r *cityRepository) getCity(ctx context.Context, where string, arg any) (domain.City, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	city, err := scanCity(r.db.QueryRowContext(ctx, citySelect+" WHERE "+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.City{}, domain.ErrCityNotFound
		}
		return domain.City{}, fmt.Errorf("get city: %w", err)
	}
	return city, nil
}

func (r *cityRepository) GetCity(ctx context.Context, id int64) (domain.City, error) {
	return r.getCity(ctx, "id = $1", id)
}

func (r *cityRepository) GetCityByDomain(ctx context.Context, host string) (domain.City, error) {
	return r.getCity(ctx, "domain = $1", domain.NormalizeDomain(host))
}

func (r *cityRepository) GetCityByName(ctx context.Context, name string) (domain.City, error) {
	return r.getCity(ctx, "LOWER(name) = LOWER($1) ORDER BY id LIMIT 1", strings.TrimSpace(name))
}

func (r *cityRepository) CreateCity(ctx context.Context, city domain.City) (domain.City, error) {
	if err := city.Validate(); err != nil {
		return domain.City{}, err
	}
	city.Domain = domain.NormalizeDomain(city.Domain)
	cases, err := encodeCases(city.Cases)
	if err != nil {
		return domain.City{}, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO cities (name, domain, population, address, phone, schedule, group_id, cases, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
		RETURNING id
	`,
		city.Name, city.Domain, city.Population, city.Address, city.Phone,
		city.Schedule, nullID(city.GroupID), cases, now,
	).Scan(&city.ID)
	if err != nil {
		return domain.City{}, cityWriteError(err)
	}
	city.CreatedAt, city.UpdatedAt = now, now
	return city, nil
}

func (r *cityRepository) UpdateCity(ctx context.Context, city domain.City) (domain.City, error) {
	if err := city.Validate(); err != nil {
		return domain.City{}, err
	}
	city.Domain = domain.NormalizeDomain(city.Domain)
	cases, err := encodeCases(city.Cases)
	if err != nil {
		return domain.City{}, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE cities
		SET name = $2, domain = $3, population = $4, address = $5, phone = $6,
		    schedule = $7, group_id = $8, cases = $9, updated_at = $10
		WHERE id = $1
	`,
		city.ID, city.Name, city.Domain, city.Population, city.Address, city.Phone,
		city.Schedule, nullID(city.GroupID), cases, time.Now().UTC(),
	)
	if err != nil {
		return domain.City{}, cityWriteError(err)
	}
	if err := mustAffect(res, domain.ErrCityNotFound); err != nil {
		return domain.City{}, err
	}
	return r.GetCity(ctx, city.ID)
}

func cityWriteError(err error) error {
	switch {
	case isUniqueViolation(err):
		return domain.ErrDomainTaken
	case isForeignKeyViolation(err):
		return domain.ErrCityGroupNotFound
	default:
		return fmt.Errorf("write city: %w", err)
	}
}

func (r *cityRepository) ListCities(ctx context.Context) ([]domain.City, error) {
	return r.listCities(ctx, citySelect+" ORDER BY id")
}

func (r *cityRepository) ListGroupCities(ctx context.Context, groupID int64) ([]domain.City, error) {
	return r.listCities(ctx, citySelect+" WHERE group_id = $1 ORDER BY id", groupID)
}

func (r *cityRepository) listCities(ctx context.Context, query string, args ...any) ([]domain.City, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cities: %w", err)
	}
	defer rows.Close()

	cities := make([]domain.City, 0)
	for rows.Next() {
		city, err := scanCity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan city: %w", err)
		}
		cities = append(cities, city)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cities: %w", err)
	}
	return cities, nil
}

const groupSelect = `SELECT id, name, COALESCE(main_city_id, 0), cases, created_at FROM city_groups`

func scanGroup(row interface{ Scan(...any) error }) (domain.CityGroup, error) {
	var (
		group domain.CityGroup
		cases []byte
	)
	if err := row.Scan(&group.ID, &group.Name, &group.MainCityID, &cases, &group.CreatedAt); err != nil {
		return domain.CityGroup{}, err
	}
	decoded, err := decodeCases(cases)
	if err != nil {
		return domain.CityGroup{}, err
	}
	group.Cases = decoded
	return group, nil
}

func (r *cityRepository) getGroup(ctx context.Context, where string, arg any) (domain.CityGroup, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	group, err := scanGroup(r.db.QueryRowContext(ctx, groupSelect+" WHERE "+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CityGroup{}, domain.ErrCityGroupNotFound
		}
		return domain.CityGroup{}, fmt.Errorf("get city group: %w", err)
	}
	return group, nil
}

func (r *cityRepository) GetCityGroup(ctx context.Context, id int64) (domain.CityGroup, error) {
	return r.getGroup(ctx, "id = $1", id)
}

func (r *cityRepository) GetCityGroupByName(ctx context.Context, name string) (domain.CityGroup, error) {
	return r.getGroup(ctx, "LOWER(name) = LOWER($1)", strings.TrimSpace(name))
}

func (r *cityRepository) CreateCityGroup(ctx context.Context, group domain.CityGroup) (domain.CityGroup, error) {
	if strings.TrimSpace(group.Name) == "" {
		return domain.CityGroup{}, domain.NewValidationError("name", "обязательное поле")
	}
	cases, err := encodeCases(group.Cases)
	if err != nil {
		return domain.CityGroup{}, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	group.CreatedAt = time.Now().UTC()
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO city_groups (name, main_city_id, cases, created_at)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, group.Name, nullID(group.MainCityID), cases, group.CreatedAt).Scan(&group.ID)
	if err != nil {
		return domain.CityGroup{}, groupWriteError(err)
	}
	return group, nil
}

func (r *cityRepository) UpdateCityGroup(ctx context.Context, group domain.CityGroup) (domain.CityGroup, error) {
	cases, err := encodeCases(group.Cases)
	if err != nil {
		return domain.CityGroup{}, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE city_groups SET name = $2, main_city_id = $3, cases = $4 WHERE id = $1
	`, group.ID, group.Name, nullID(group.MainCityID), cases)
	if err != nil {
		return domain.CityGroup{}, groupWriteError(err)
	}
	if err := mustAffect(res, domain.ErrCityGroupNotFound); err != nil {
		return domain.CityGroup{}, err
	}
	return r.GetCityGroup(ctx, group.ID)
}

func groupWriteError(err error) error {
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("city group name already taken: %w", domain.ErrConflict)
	case isForeignKeyViolation(err):
		return domain.ErrCityNotFound
	default:
		return fmt.Errorf("write city group: %w", err)
	}
}

func (r *cityRepository) ListCityGroups(ctx context.Context) ([]domain.CityGroup, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, groupSelect+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list city groups: %w", err)
	}
	defer rows.Close()

	groups := make([]domain.CityGroup, 0)
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan city group: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate city groups: %w", err)
	}
	return groups, nil
}

var _ domain.CityRepository = (*cityRepository)(nil)
