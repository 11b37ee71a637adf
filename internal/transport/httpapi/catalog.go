package httpapi

import (
	"net/http"

	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
)

func (s *server) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := catalog.Query{
		CityDomain:      cityDomain(r),
		BrandSlug:       q.Get("brand_slug"),
		Category:        q.Get("category"),
		Characteristics: q.Get("characteristics"),
		Search:          q.Get("search"),
	}
	var err error
	if query.PriceGTE, err = queryDecimal(r, "price_gte"); err != nil {
		writeError(w, r, err)
		return
	}
	if query.PriceLTE, err = queryDecimal(r, "price_lte"); err != nil {
		writeError(w, r, err)
		return
	}
	if query.Limit, err = queryInt(r, "limit", 0); err != nil {
		writeError(w, r, err)
		return
	}
	if query.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeError(w, r, err)
		return
	}

	page, err := s.Catalog.ListProducts(r.Context(), query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(r, page.Count, page.Limit, page.Offset, newProductViews(page.Items)))
}

func (s *server) frequentlyBought(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := s.Catalog.FrequentlyBought(r.Context(), id, cityDomain(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(newProductViews(items)))
}

func (s *server) similarProducts(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := s.Catalog.Similar(r.Context(), id, cityDomain(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(newProductViews(items)))
}
