package httpapi

import (
	"net/http"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type orderRequest struct {
	Address           string `json:"address" validate:"required"`
	DeliveryType      string `json:"delivery_type" validate:"omitempty,oneof=delivery pickup"`
	ReceiverFirstName string `json:"receiver_first_name"`
	ReceiverLastName  string `json:"receiver_last_name"`
	ReceiverPhone     string `json:"receiver_phone" validate:"omitempty,e164"`
	ReceiverEmail     string `json:"receiver_email" validate:"omitempty,email"`
}

func (o orderRequest) draft() domain.OrderDraft {
	delivery := domain.DeliveryType(o.DeliveryType)
	if delivery == "" {
		delivery = domain.DeliveryTypeDelivery
	}
	return domain.OrderDraft{
		Address:      strings.TrimSpace(o.Address),
		DeliveryType: delivery,
		Receiver: domain.Receiver{
			FirstName: strings.TrimSpace(o.ReceiverFirstName),
			LastName:  strings.TrimSpace(o.ReceiverLastName),
			Phone:     strings.TrimSpace(o.ReceiverPhone),
			Email:     strings.TrimSpace(o.ReceiverEmail),
		},
	}
}

type selectedOrderRequest struct {
	orderRequest
	CartItemIDs []int64 `json:"cartitem_ids" validate:"required,min=1"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=PENDING PROCESSING SHIPPED DELIVERED"`
}

// orderDomain возвращает обязательный параметр city_domain оформления.
func orderDomain(r *http.Request) (string, error) {
	d := domain.NormalizeDomain(r.URL.Query().Get("city_domain"))
	if d == "" {
		return "", domain.NewValidationError("city_domain", msgRequired)
	}
	return d, nil
}

func (s *server) placeOrder(w http.ResponseWriter, r *http.Request) {
	cityDomain, err := orderDomain(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req orderRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, _ := principalFrom(r.Context())
	order, err := s.Orders.PlaceFromCart(r.Context(), p.UserID, req.draft(), cityDomain)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderView(order))
}

func (s *server) placeSelectedOrder(w http.ResponseWriter, r *http.Request) {
	cityDomain, err := orderDomain(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req selectedOrderRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, _ := principalFrom(r.Context())
	order, err := s.Orders.PlaceFromSelection(r.Context(), p.UserID, req.CartItemIDs, req.draft(), cityDomain)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderView(order))
}

func (s *server) listOrders(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	orders, err := s.Orders.List(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(orderViews(orders)))
}

// activeOrders возвращает заказы пользователя, кроме вручённых.
func (s *server) activeOrders(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	orders, err := s.Orders.ListActive(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(orderViews(orders)))
}

func (s *server) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, _ := principalFrom(r.Context())
	order, err := s.Orders.Get(r.Context(), p.UserID, p.Staff, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(order))
}

func (s *server) orderTimeline(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, _ := principalFrom(r.Context())
	events, err := s.Orders.Timeline(r.Context(), p.UserID, p.Staff, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]timelineView, 0, len(events))
	for _, e := range events {
		views = append(views, timelineView{Type: e.Type, Reason: e.Reason, Occurred: e.Occurred})
	}
	writeJSON(w, http.StatusOK, newList(views))
}

func (s *server) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req statusRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Orders.UpdateStatus(r.Context(), id, domain.OrderStatus(req.Status)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

func orderViews(orders []domain.Order) []orderView {
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, newOrderView(o))
	}
	return views
}
