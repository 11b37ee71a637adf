package httpapi

import (
	"net/http"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type cartItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,min=1,max=999999"`
}

type quantityRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1,max=999999"`
}

type idsRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1"`
}

type deletedResponse struct {
	Deleted int `json:"deleted"`
}

func (s *server) listCart(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	lines, err := s.Cart.List(r.Context(), p.UserID, cityDomain(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]cartLineView, 0, len(lines))
	for _, line := range lines {
		views = append(views, newCartLineView(line))
	}
	writeJSON(w, http.StatusOK, newList(views))
}

// addToCart принимает массив позиций; повторы товара во входе суммируются.
func (s *server) addToCart(w http.ResponseWriter, r *http.Request) {
	var req []cartItemRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req) == 0 {
		writeError(w, r, domain.NewValidationError(nonFieldErrors, "список позиций пуст"))
		return
	}
	items := make([]domain.CartItemInput, 0, len(req))
	for _, item := range req {
		items = append(items, domain.CartItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	p, _ := principalFrom(r.Context())
	lines, err := s.Cart.BulkAdd(r.Context(), p.UserID, items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]cartLineView, 0, len(lines))
	for _, line := range lines {
		views = append(views, newCartLine(line))
	}
	writeJSON(w, http.StatusCreated, newList(views))
}

func (s *server) updateCartLine(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "product_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req quantityRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, _ := principalFrom(r.Context())
	line, err := s.Cart.UpdateQuantity(r.Context(), p.UserID, productID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartLine(line))
}

func (s *server) deleteCartLine(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "product_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, _ := principalFrom(r.Context())
	if err := s.Cart.Delete(r.Context(), p.UserID, productID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) clearCart(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	n, err := s.Cart.DeleteAll(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deletedResponse{Deleted: n})
}

func (s *server) deleteSomeFromCart(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, _ := principalFrom(r.Context())
	n, err := s.Cart.DeleteSome(r.Context(), p.UserID, req.IDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deletedResponse{Deleted: n})
}

func (s *server) cartCount(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	n, err := s.Cart.Count(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}
