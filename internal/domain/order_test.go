package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// helper для создания базового заказа с двумя позициями.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:           1,
		UserID:       10,
		Status:       domain.OrderStatusPending,
		Address:      "Тверская, 1",
		DeliveryType: domain.DeliveryTypeDelivery,
		Total:        decimal.RequireFromString("250.00"),
		Lines: []domain.OrderLine{
			{ID: 1, ProductID: 100, Quantity: 2, Price: decimal.RequireFromString("100.00"), CreatedAt: now},
			{ID: 2, ProductID: 200, Quantity: 1, Price: decimal.RequireFromString("50.00"), CreatedAt: now},
		},
		CreatedAt: now,
	}
}

func TestOrderValidateInvariants_Success(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Failures(t *testing.T) {
	order := makeOrder()
	order.UserID = 0
	order.Lines[0].Quantity = 0
	order.Lines[1].Price = decimal.NewFromInt(-1)

	errs := order.ValidateInvariants()
	for _, want := range []error{domain.ErrUserRequired, domain.ErrLineQtyInvalid, domain.ErrLinePriceInvalid, domain.ErrTotalMismatch} {
		found := false
		for _, err := range errs {
			if errors.Is(err, want) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("expected %v in %v", want, errs)
		}
	}
}

func TestOrderLinesTotal(t *testing.T) {
	order := makeOrder()
	if got := order.LinesTotal(); !got.Equal(decimal.RequireFromString("250")) {
		t.Fatalf("LinesTotal() = %s, want 250", got)
	}
}

func TestOrderStatusValid(t *testing.T) {
	for _, s := range []domain.OrderStatus{
		domain.OrderStatusPending, domain.OrderStatusProcessing,
		domain.OrderStatusShipped, domain.OrderStatusDelivered,
	} {
		if !s.Valid() {
			t.Fatalf("status %s must be valid", s)
		}
	}
	if domain.OrderStatus("CANCELLED").Valid() {
		t.Fatal("unexpected valid status")
	}
}

func TestOrderDraftValidate(t *testing.T) {
	draft := domain.OrderDraft{Address: "Тверская, 1", DeliveryType: domain.DeliveryTypePickup}
	if err := draft.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	draft = domain.OrderDraft{DeliveryType: "courier", Receiver: domain.Receiver{Phone: "8-900"}}
	err := draft.Validate()
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"address", "delivery_type", "receiver_phone"} {
		if len(verr.Fields[field]) == 0 {
			t.Fatalf("expected message for %s, got %v", field, verr.Fields)
		}
	}
}
