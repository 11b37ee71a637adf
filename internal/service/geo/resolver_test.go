package geo

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func newResolver(t *testing.T, strict bool) (*Resolver, domain.CityRepository) {
	t.Helper()
	cities := memory.NewCityRepository(memory.NewStore())
	return NewResolver(cities, Config{
		DefaultCityName:  "Москва",
		DefaultGroupName: "Moscow",
		BaseDomain:       "example.com",
		Strict:           strict,
	}), cities
}

func TestResolve_KnownDomain(t *testing.T) {
	t.Parallel()

	resolver, _ := newResolver(t, false)
	ctx := context.Background()

	group, err := resolver.SaveCityGroup(ctx, domain.CityGroup{Name: "Центр"})
	require.NoError(t, err)
	city, err := resolver.SaveCity(ctx, domain.City{Name: "Тверь", Domain: "Tver.Example.com", GroupID: group.ID})
	require.NoError(t, err)
	require.Equal(t, "Твери", city.Cases[domain.CaseGent])

	loc, err := resolver.Resolve(ctx, "https://tver.example.com/")
	require.NoError(t, err)
	require.False(t, loc.Fallback)
	require.Equal(t, city.ID, loc.City.ID)
	require.Equal(t, group.ID, loc.Group.ID)
}

func TestResolve_UnlinkedCityGetsDefaultGroup(t *testing.T) {
	t.Parallel()

	resolver, _ := newResolver(t, false)
	ctx := context.Background()

	city, err := resolver.SaveCity(ctx, domain.City{Name: "Калуга", Domain: "kaluga.example.com"})
	require.NoError(t, err)

	loc, err := resolver.Resolve(ctx, "kaluga.example.com")
	require.NoError(t, err)
	require.Equal(t, city.ID, loc.City.ID)
	require.Equal(t, "Moscow", loc.Group.Name)
}

func TestResolve_UnknownDomainCreatesDefaultsOnce(t *testing.T) {
	t.Parallel()

	resolver, cities := newResolver(t, false)
	ctx := context.Background()

	var wg sync.WaitGroup
	locations := make([]Location, 8)
	errs := make([]error, len(locations))
	for i := range locations {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			locations[i], errs[i] = resolver.Resolve(ctx, "")
		}(i)
	}
	wg.Wait()

	for i, loc := range locations {
		require.NoError(t, errs[i])
		require.True(t, loc.Fallback)
		require.Equal(t, locations[0].City.ID, loc.City.ID)
		require.Equal(t, locations[0].Group.ID, loc.Group.ID)
	}

	all, err := cities.ListCities(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "example.com", all[0].Domain)
	require.Equal(t, "Москвой", all[0].Cases[domain.CaseAblt])
}

func TestResolve_StrictModeFailsWithoutDefaults(t *testing.T) {
	t.Parallel()

	resolver, _ := newResolver(t, true)

	_, err := resolver.Resolve(context.Background(), "nowhere.example.com")
	require.ErrorIs(t, err, domain.ErrCityNotFound)
}

func TestSaveCity_RecomputesCasesOnRename(t *testing.T) {
	t.Parallel()

	resolver, _ := newResolver(t, false)
	ctx := context.Background()

	city, err := resolver.SaveCity(ctx, domain.City{Name: "Тверь", Domain: "tver.example.com"})
	require.NoError(t, err)

	city.Name = "Калуга"
	city, err = resolver.SaveCity(ctx, city)
	require.NoError(t, err)
	require.Equal(t, "Калугу", city.Cases[domain.CaseAccs])

	_, err = resolver.SaveCity(ctx, domain.City{Name: "Дубль", Domain: "tver.example.com"})
	require.ErrorIs(t, err, domain.ErrDomainTaken)

	_, err = resolver.SaveCity(ctx, domain.City{Name: "", Domain: "x.example.com"})
	require.ErrorIs(t, err, domain.ErrValidation)
}
