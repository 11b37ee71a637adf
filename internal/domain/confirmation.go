package domain

import (
	"fmt"
	"time"
)

// ConfirmationFlow — сценарий подтверждения кодом.
type ConfirmationFlow string

const (
	// ConfirmationEmail подтверждает email пользователя.
	ConfirmationEmail ConfirmationFlow = "email"
	// ConfirmationPhone подтверждает телефон и выполняет вход по коду.
	ConfirmationPhone ConfirmationFlow = "phone"
)

// CodeEntry — единственная запись кэша кодов для соли.
type CodeEntry struct {
	Code string `json:"code"`
	// ExpiresAt — момент, до которого повторная отправка запрещена.
	ExpiresAt time.Time `json:"expiration_time"`
	// Lookup — адресат (email или телефон), которому ушёл код.
	Lookup string `json:"lookup"`
}

// Throttling сообщает, действует ли ещё окно запрета повторной отправки.
func (e CodeEntry) Throttling(now time.Time) bool {
	return e.ExpiresAt.After(now)
}

// Remaining возвращает остаток окна запрета.
func (e CodeEntry) Remaining(now time.Time) time.Duration {
	d := e.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// FormatRemaining форматирует длительность как MM:SS с отбрасыванием долей секунды.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// AuthTokens — пара токенов, выдаваемая после успешной проверки кода.
type AuthTokens struct {
	Access           string
	Refresh          string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
