package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан и ожидает обработки.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusProcessing — заказ принят в работу.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered — заказ вручён покупателю.
	OrderStatusDelivered OrderStatus = "DELIVERED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered:
		return true
	default:
		return false
	}
}

// DeliveryType — способ получения заказа.
type DeliveryType string

const (
	DeliveryTypeDelivery DeliveryType = "delivery"
	DeliveryTypePickup   DeliveryType = "pickup"
)

var (
	// ErrUserRequired — у заказа нет покупателя.
	ErrUserRequired = errors.New("user is required")
	// ErrLinesRequired — в заказе нет ни одной позиции.
	ErrLinesRequired = errors.New("order must contain at least one line")
	// ErrLineQtyInvalid — некорректное количество в позиции.
	ErrLineQtyInvalid = errors.New("line quantity must be greater than zero")
	// ErrLinePriceInvalid — отрицательная цена позиции.
	ErrLinePriceInvalid = errors.New("line price must be non-negative")
	// ErrTotalMismatch — сумма заказа не совпадает с суммой позиций.
	ErrTotalMismatch = errors.New("order total does not match lines sum")
)

// Receiver — данные получателя заказа.
type Receiver struct {
	FirstName string
	LastName  string
	Phone     string
	Email     string
}

// FullName возвращает имя и фамилию получателя.
func (r Receiver) FullName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// OrderDraft — поля заказа, которые передаёт покупатель.
type OrderDraft struct {
	Address      string
	DeliveryType DeliveryType
	Receiver     Receiver
}

// Validate проверяет поля черновика заказа.
func (d OrderDraft) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(d.Address) == "" {
		verr.Add("address", "обязательное поле")
	}
	switch d.DeliveryType {
	case DeliveryTypeDelivery, DeliveryTypePickup:
	default:
		verr.Add("delivery_type", "допустимые значения: delivery, pickup")
	}
	if d.Receiver.Phone != "" && !ValidPhone(d.Receiver.Phone) {
		verr.Add("receiver_phone", "телефон должен быть в формате +<цифры>")
	}
	if verr.Empty() {
		return nil
	}
	return verr
}

// OrderLine — позиция заказа со снимком цены на момент оформления.
type OrderLine struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Quantity  int
	Price     decimal.Decimal
	CreatedAt time.Time
}

// Total возвращает стоимость позиции.
func (l OrderLine) Total() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order агрегирует заказ и его позиции.
type Order struct {
	ID           int64
	UserID       int64
	Status       OrderStatus
	Address      string
	DeliveryType DeliveryType
	Receiver     Receiver
	// CityDomain — домен, по которому снимались цены.
	CityDomain string
	Total      decimal.Decimal
	Lines      []OrderLine
	CreatedAt  time.Time
}

// LinesTotal считает сумму по позициям.
func (o *Order) LinesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range o.Lines {
		total = total.Add(line.Total())
	}
	return total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == 0 {
		errs = append(errs, ErrUserRequired)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrLinesRequired)
	}

	for _, line := range o.Lines {
		if line.Quantity <= 0 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if line.Price.IsNegative() {
			errs = append(errs, ErrLinePriceInvalid)
		}
	}
	if !o.LinesTotal().Equal(o.Total) {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}
