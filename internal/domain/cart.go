package domain

import (
	"fmt"
	"time"
)

const (
	// MinCartQuantity и MaxCartQuantity ограничивают количество в позиции корзины.
	MinCartQuantity = 1
	MaxCartQuantity = 999_999
)

// CartLine — позиция корзины, уникальна по паре (пользователь, товар).
type CartLine struct {
	ID        int64
	UserID    int64
	ProductID int64
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartItemInput — входная позиция для добавления в корзину.
type CartItemInput struct {
	ProductID int64
	Quantity  int
}

// ValidateCartQuantity проверяет диапазон количества.
func ValidateCartQuantity(qty int) error {
	if qty < MinCartQuantity || qty > MaxCartQuantity {
		return NewValidationError("quantity", fmt.Sprintf("значение должно быть в диапазоне %d..%d", MinCartQuantity, MaxCartQuantity))
	}
	return nil
}
