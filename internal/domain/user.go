package domain

import (
	"regexp"
	"strings"
	"time"
)

var phonePattern = regexp.MustCompile(`^\+\d+$`)

// User — учётная запись покупателя или сотрудника.
type User struct {
	ID        int64
	Username  string
	Phone     string
	Email     string
	FirstName string
	LastName  string
	// CityID — выбранный пользователем город; 0 если не выбран.
	CityID         int64
	Active         bool
	Staff          bool
	EmailConfirmed bool
	IsCustomer     bool
	CreatedAt      time.Time
}

// FullName возвращает имя и фамилию через пробел.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Validate проверяет формат полей пользователя.
func (u User) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(u.Username) == "" {
		verr.Add("username", "обязательное поле")
	}
	if u.Phone != "" && !ValidPhone(u.Phone) {
		verr.Add("phone", "телефон должен быть в формате +<цифры>")
	}
	if verr.Empty() {
		return nil
	}
	return verr
}

// ValidPhone проверяет формат телефона `+<digits>`.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}
