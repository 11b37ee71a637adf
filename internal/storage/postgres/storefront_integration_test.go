package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type integrationCatalog struct {
	group    domain.CityGroup
	city     domain.City
	category domain.Category
	products []domain.Product
}

func seedIntegrationCatalog(t *testing.T, store *Store) integrationCatalog {
	t.Helper()
	ctx := context.Background()
	cities := NewCityRepository(store)
	catalog := NewCatalogRepository(store)
	prices := NewPriceRepository(store)

	var (
		seed integrationCatalog
		err  error
	)
	seed.group, err = cities.CreateCityGroup(ctx, domain.CityGroup{Name: "Центр"})
	require.NoError(t, err)
	seed.city, err = cities.CreateCity(ctx, domain.City{Name: "Москва", Domain: "moskva.example.com", GroupID: seed.group.ID})
	require.NoError(t, err)
	seed.category, err = catalog.CreateCategory(ctx, domain.Category{Name: "Инструменты", Slug: "tools", Active: true, Visible: true})
	require.NoError(t, err)

	for i, article := range []string{"A-1", "B-1"} {
		p, err := catalog.CreateProduct(ctx, domain.Product{
			Article: article, Title: "Товар " + article, Slug: domain.MakeSlug(article),
			CategoryID: seed.category.ID, Active: true, InStock: true,
		})
		require.NoError(t, err)
		_, err = prices.UpsertPrice(ctx, p.ID, seed.group.ID, decimal.NewFromInt(int64(100*(i+1))))
		require.NoError(t, err)
		seed.products = append(seed.products, p)
	}
	return seed
}

func placeIntegrationOrder(t *testing.T, store *Store) domain.Order {
	t.Helper()
	ctx := context.Background()

	var order domain.Order
	err := store.RunInTx(ctx, func(ctx context.Context, tx domain.OrderTx) error {
		var err error
		order, err = tx.CreateOrder(ctx, domain.Order{
			UserID: 1, Status: domain.OrderStatusPending,
			Address: "Тверская, 1", DeliveryType: domain.DeliveryTypePickup,
		})
		return err
	})
	require.NoError(t, err)
	return order
}

func TestCityRepository_PostgresDomainLookup(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seed := seedIntegrationCatalog(t, store)
	repo := NewCityRepository(store)
	ctx := context.Background()

	got, err := repo.GetCityByDomain(ctx, "https://Moskva.example.com/")
	require.NoError(t, err)
	require.Equal(t, seed.city.ID, got.ID)

	_, err = repo.CreateCity(ctx, domain.City{Name: "Дубль", Domain: "moskva.example.com"})
	require.ErrorIs(t, err, domain.ErrDomainTaken)
}

func TestCatalogRepository_PostgresListAndReprice(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seed := seedIntegrationCatalog(t, store)
	catalog := NewCatalogRepository(store)
	prices := NewPriceRepository(store)
	ctx := context.Background()

	items, total, err := catalog.ListProducts(ctx, domain.ProductFilter{
		CityGroupID: seed.group.ID,
		OnlyActive:  true,
		PriceGTE:    decimal.NewNullDecimal(decimal.NewFromInt(150)),
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, seed.products[1].ID, items[0].ID)

	price, err := prices.UpsertPrice(ctx, seed.products[0].ID, seed.group.ID, decimal.NewFromInt(90))
	require.NoError(t, err)
	require.True(t, price.Previous.Valid)
	require.True(t, price.Previous.Decimal.Equal(decimal.NewFromInt(100)))
}

func TestOrderUnitOfWork_PostgresRollbackKeepsCart(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seed := seedIntegrationCatalog(t, store)
	carts := NewCartRepository(store)
	ctx := context.Background()

	_, err := carts.UpsertMany(ctx, 7, []domain.CartItemInput{
		{ProductID: seed.products[0].ID, Quantity: 1},
		{ProductID: seed.products[1].ID, Quantity: 2},
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = store.RunInTx(ctx, func(ctx context.Context, tx domain.OrderTx) error {
		lines, err := tx.LockCartLines(ctx, 7, nil)
		require.NoError(t, err)
		require.Len(t, lines, 2)
		require.NoError(t, tx.IncrementFrequentlyBought(ctx, seed.products[0].ID, seed.products[1].ID))
		require.NoError(t, tx.DeleteCartLine(ctx, lines[0].ID))
		return boom
	})
	require.ErrorIs(t, err, boom)

	count, err := carts.Count(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	pairs, err := NewCatalogRepository(store).FrequentlyBought(ctx, seed.products[0].ID, 10)
	require.NoError(t, err)
	require.Empty(t, pairs)
}

func TestImportStore_PostgresRowLifecycle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seed := seedIntegrationCatalog(t, store)
	imports := NewImportStore(store)
	ctx := context.Background()

	products, ok := domain.LookupEntity(domain.EntityProduct)
	require.True(t, ok)

	var id int64
	err := imports.RunRowTx(ctx, func(ctx context.Context, tx domain.ImportTx) error {
		var err error
		id, err = tx.Create(ctx, products, domain.ImportRecord{
			"article": "IMP-1", "title": "Импорт", "category_id": seed.category.ID,
		})
		if err != nil {
			return err
		}
		field, _ := products.Field("unavailable_in")
		return tx.SetRelation(ctx, products, field, id, []int64{seed.city.ID}, domain.RelationSet)
	})
	require.NoError(t, err)

	err = imports.RunRowTx(ctx, func(ctx context.Context, tx domain.ImportTx) error {
		found, err := tx.FindByUnique(ctx, products, domain.ImportRecord{"article": "IMP-1"})
		require.NoError(t, err)
		require.Equal(t, id, found)
		rec, err := tx.Get(ctx, products, found)
		require.NoError(t, err)
		require.Equal(t, true, rec["is_active"])
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, imports.Deactivate(ctx, products, []int64{id}))
	inactive, err := imports.InactiveIDs(ctx, products)
	require.NoError(t, err)
	require.Equal(t, []int64{id}, inactive)

	p, err := NewCatalogRepository(store).GetProduct(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []int64{seed.city.ID}, p.UnavailableIn)
}

func TestMetaRepository_PostgresCategoryStats(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seed := seedIntegrationCatalog(t, store)
	meta := NewMetaRepository(store)
	ctx := context.Background()

	count, minPrice, err := meta.ProductStats(ctx, domain.OwnerCategory, seed.category.ID, seed.group.ID)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.True(t, minPrice.Decimal.Equal(decimal.NewFromInt(100)))

	_, err = meta.GetMeta(ctx, domain.OwnerCategory, 0)
	require.ErrorIs(t, err, domain.ErrMetaNotFound)
}
