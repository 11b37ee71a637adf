package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func mustEntity(t *testing.T, name string) domain.EntityDescriptor {
	t.Helper()
	d, ok := domain.LookupEntity(name)
	require.True(t, ok)
	return d
}

func TestImportStore_CreateFindUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	imports := memory.NewImportStore(f.store)
	products := mustEntity(t, domain.EntityProduct)

	var id int64
	err := imports.RunRowTx(ctx, func(ctx context.Context, tx domain.ImportTx) error {
		var err error
		id, err = tx.Create(ctx, products, domain.ImportRecord{
			"article": "W-1", "title": "Новый", "slug": "novyi", "category_id": f.category.ID,
		})
		return err
	})
	require.NoError(t, err)

	err = imports.RunRowTx(ctx, func(ctx context.Context, tx domain.ImportTx) error {
		found, err := tx.FindByUnique(ctx, products, domain.ImportRecord{"article": "W-1"})
		if err != nil {
			return err
		}
		require.Equal(t, id, found)
		if err := tx.Update(ctx, products, found, domain.ImportRecord{"title": "Обновлён", "is_new": true}); err != nil {
			return err
		}
		field, _ := products.Field("unavailable_in")
		return tx.SetRelation(ctx, products, field, found, []int64{f.city.ID}, domain.RelationSet)
	})
	require.NoError(t, err)

	p, err := f.catalog.GetProduct(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Обновлён", p.Title)
	require.True(t, p.New)
	require.True(t, p.Active, "created products default to active")
	require.Equal(t, []int64{f.city.ID}, p.UnavailableIn)
}

func TestImportStore_RowRollback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	imports := memory.NewImportStore(f.store)
	products := mustEntity(t, domain.EntityProduct)

	boom := errors.New("bad row")
	err := imports.RunRowTx(ctx, func(ctx context.Context, tx domain.ImportTx) error {
		if _, err := tx.Create(ctx, products, domain.ImportRecord{"article": "R-1", "title": "r"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	ids, err := imports.AllIDs(ctx, products)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestImportStore_PoliciesAndPrices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	imports := memory.NewImportStore(f.store)
	products := mustEntity(t, domain.EntityProduct)
	prices := mustEntity(t, domain.EntityPrice)

	x := f.product(t, "X")
	y := f.product(t, "Y")

	require.NoError(t, imports.Deactivate(ctx, products, []int64{y.ID}))
	inactive, err := imports.InactiveIDs(ctx, products)
	require.NoError(t, err)
	require.Equal(t, []int64{y.ID}, inactive)

	require.NoError(t, imports.Activate(ctx, products, inactive))
	require.NoError(t, imports.SetNotInStock(ctx, products, []int64{x.ID}))
	gotX, err := f.catalog.GetProduct(ctx, x.ID)
	require.NoError(t, err)
	require.False(t, gotX.InStock)

	err = imports.RunRowTx(ctx, func(ctx context.Context, tx domain.ImportTx) error {
		_, err := tx.Create(ctx, prices, domain.ImportRecord{
			"product_id": x.ID, "city_group_id": f.group.ID, "price": decimal.RequireFromString("10.50"),
		})
		return err
	})
	require.NoError(t, err)
	price, err := f.prices.GetPrice(ctx, x.ID, f.group.ID)
	require.NoError(t, err)
	require.True(t, price.Current.Equal(decimal.RequireFromString("10.5")))

	require.NoError(t, imports.Delete(ctx, products, []int64{x.ID}))
	_, err = f.prices.GetPrice(ctx, x.ID, f.group.ID)
	require.ErrorIs(t, err, domain.ErrPriceNotFound, "deleting a product cascades to its prices")
}
