package geo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/morph"
)

// Config задаёт город и группу по умолчанию.
type Config struct {
	DefaultCityName  string
	DefaultGroupName string
	// BaseDomain — домен, который получает созданный город по умолчанию.
	BaseDomain string
	// Strict запрещает создавать город и группу по умолчанию: их отсутствие становится ошибкой.
	Strict bool
}

// Location — результат разрешения домена.
type Location struct {
	City  domain.City
	Group domain.CityGroup
	// Fallback сообщает, что домен не распознан и возвращена пара по умолчанию.
	Fallback bool
}

// Resolver сопоставляет домен запроса городу и группе городов.
type Resolver struct {
	cities domain.CityRepository
	cfg    Config
	logger *log.Entry

	// mu сериализует get-or-create пары по умолчанию внутри процесса.
	mu sync.Mutex
}

// NewResolver создаёт резолвер географии.
func NewResolver(cities domain.CityRepository, cfg Config) *Resolver {
	if strings.TrimSpace(cfg.DefaultCityName) == "" {
		cfg.DefaultCityName = "Москва"
	}
	if strings.TrimSpace(cfg.DefaultGroupName) == "" {
		cfg.DefaultGroupName = cfg.DefaultCityName
	}
	return &Resolver{
		cities: cities,
		cfg:    cfg,
		logger: log.WithField("component", "geo-resolver"),
	}
}

// Resolve возвращает город домена и его группу. Нераспознанный или пустой домен даёт пару по умолчанию;
// город без группы получает группу по умолчанию. Ошибка возможна только при сбое хранилища
// или в строгом режиме, когда пары по умолчанию нет.
func (r *Resolver) Resolve(ctx context.Context, cityDomain string) (Location, error) {
	if strings.TrimSpace(cityDomain) != "" {
		city, err := r.cities.GetCityByDomain(ctx, cityDomain)
		switch {
		case err == nil:
			group, err := r.groupOf(ctx, city)
			if err != nil {
				return Location{}, err
			}
			return Location{City: city, Group: group}, nil
		case !errors.Is(err, domain.ErrCityNotFound):
			return Location{}, fmt.Errorf("lookup city by domain: %w", err)
		}
		r.logger.WithField("city_domain", cityDomain).Debug("unknown city domain, using default city")
	}

	city, group, err := r.defaults(ctx)
	if err != nil {
		return Location{}, err
	}
	return Location{City: city, Group: group, Fallback: true}, nil
}

func (r *Resolver) groupOf(ctx context.Context, city domain.City) (domain.CityGroup, error) {
	if city.GroupID != 0 {
		group, err := r.cities.GetCityGroup(ctx, city.GroupID)
		if err == nil {
			return group, nil
		}
		if !errors.Is(err, domain.ErrCityGroupNotFound) {
			return domain.CityGroup{}, fmt.Errorf("get city group: %w", err)
		}
	}
	return r.defaultGroup(ctx)
}

func (r *Resolver) defaults(ctx context.Context) (domain.City, domain.CityGroup, error) {
	city, err := r.defaultCity(ctx)
	if err != nil {
		return domain.City{}, domain.CityGroup{}, err
	}
	group, err := r.defaultGroup(ctx)
	if err != nil {
		return domain.City{}, domain.CityGroup{}, err
	}
	return city, group, nil
}

func (r *Resolver) defaultCity(ctx context.Context) (domain.City, error) {
	city, err := r.cities.GetCityByName(ctx, r.cfg.DefaultCityName)
	if err == nil || !errors.Is(err, domain.ErrCityNotFound) {
		return city, wrapErr("get default city", err)
	}
	if r.cfg.Strict {
		return domain.City{}, fmt.Errorf("default city %q: %w", r.cfg.DefaultCityName, domain.ErrCityNotFound)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Повторная проверка под блокировкой: город мог создать соседний запрос.
	if city, err := r.cities.GetCityByName(ctx, r.cfg.DefaultCityName); err == nil {
		return city, nil
	}

	city, err = r.cities.CreateCity(ctx, domain.City{
		Name:   r.cfg.DefaultCityName,
		Domain: r.cfg.BaseDomain,
		Cases:  morph.Cases(r.cfg.DefaultCityName),
	})
	if errors.Is(err, domain.ErrConflict) {
		// Город создал другой процесс.
		return r.cities.GetCityByName(ctx, r.cfg.DefaultCityName)
	}
	if err != nil {
		return domain.City{}, fmt.Errorf("create default city: %w", err)
	}
	r.logger.WithField("city", city.Name).Warn("default city was missing and has been created")
	return city, nil
}

func (r *Resolver) defaultGroup(ctx context.Context) (domain.CityGroup, error) {
	group, err := r.cities.GetCityGroupByName(ctx, r.cfg.DefaultGroupName)
	if err == nil || !errors.Is(err, domain.ErrCityGroupNotFound) {
		return group, wrapErr("get default city group", err)
	}
	if r.cfg.Strict {
		return domain.CityGroup{}, fmt.Errorf("default city group %q: %w", r.cfg.DefaultGroupName, domain.ErrCityGroupNotFound)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if group, err := r.cities.GetCityGroupByName(ctx, r.cfg.DefaultGroupName); err == nil {
		return group, nil
	}

	group, err = r.cities.CreateCityGroup(ctx, domain.CityGroup{
		Name:  r.cfg.DefaultGroupName,
		Cases: morph.Cases(r.cfg.DefaultGroupName),
	})
	if errors.Is(err, domain.ErrConflict) {
		return r.cities.GetCityGroupByName(ctx, r.cfg.DefaultGroupName)
	}
	if err != nil {
		return domain.CityGroup{}, fmt.Errorf("create default city group: %w", err)
	}
	r.logger.WithField("city_group", group.Name).Warn("default city group was missing and has been created")
	return group, nil
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
