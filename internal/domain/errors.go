package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound — базовая ошибка отсутствующей сущности.
	ErrNotFound = errors.New("not found")
	// ErrConflict — нарушение уникальности или дубликат.
	ErrConflict = errors.New("conflict")
	// ErrValidation — данные запроса или файла нарушают инвариант.
	ErrValidation = errors.New("validation failed")

	// ErrCityNotFound возвращается, если город с таким доменом или именем отсутствует.
	ErrCityNotFound = fmt.Errorf("city %w", ErrNotFound)
	// ErrCityGroupNotFound возвращается, если группа городов отсутствует.
	ErrCityGroupNotFound = fmt.Errorf("city group %w", ErrNotFound)
	// ErrProductNotFound возвращается, если товар отсутствует.
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)
	// ErrCategoryNotFound возвращается, если категория отсутствует.
	ErrCategoryNotFound = fmt.Errorf("category %w", ErrNotFound)
	// ErrBrandNotFound возвращается, если бренд отсутствует.
	ErrBrandNotFound = fmt.Errorf("brand %w", ErrNotFound)
	// ErrPriceNotFound означает, что товар не оценён в группе городов.
	ErrPriceNotFound = fmt.Errorf("price %w", ErrNotFound)
	// ErrUserNotFound возвращается, если пользователь отсутствует.
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
	// ErrCartLineNotFound возвращается, если позиции корзины нет.
	ErrCartLineNotFound = fmt.Errorf("cart line %w", ErrNotFound)
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)
	// ErrImportTaskNotFound возвращается, если задача импорта отсутствует.
	ErrImportTaskNotFound = fmt.Errorf("import task %w", ErrNotFound)
	// ErrImportSettingNotFound возвращается, если настройка импорта отсутствует.
	ErrImportSettingNotFound = fmt.Errorf("import setting %w", ErrNotFound)
	// ErrMetaNotFound возвращается, если метаданных для владельца нет.
	ErrMetaNotFound = fmt.Errorf("open graph meta %w", ErrNotFound)
	// ErrRecordNotFound возвращается импортом, если строка сущности не найдена.
	ErrRecordNotFound = fmt.Errorf("record %w", ErrNotFound)
	// ErrBlobNotFound возвращается объектным хранилищем для отсутствующего ключа.
	ErrBlobNotFound = fmt.Errorf("blob %w", ErrNotFound)
	// ErrFeedNotBuilt — фид группы городов ещё не собран.
	ErrFeedNotBuilt = fmt.Errorf("feed %w", ErrNotFound)
	// ErrSitemapNotBuilt — sitemap домена ещё не собран.
	ErrSitemapNotBuilt = fmt.Errorf("sitemap %w", ErrNotFound)

	// ErrEmptyCart — в корзине нет позиций для оформления.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrCartLinesNotFound — выбранные позиции корзины не найдены.
	ErrCartLinesNotFound = errors.New("selected cart lines not found")
	// ErrUnavailable — часть товаров недоступна в городе заказа.
	ErrUnavailable = errors.New("products unavailable in city")
	// ErrUnpriced — у товара нет цены в группе городов заказа.
	ErrUnpriced = errors.New("product is not priced in city group")
	// ErrThrottled — код подтверждения уже выдан и ещё действует.
	ErrThrottled = errors.New("confirmation code already issued")
	// ErrSendFailed — внешний канал не доставил сообщение.
	ErrSendFailed = errors.New("message send failed")
	// ErrNoCode — в кэше нет кода для проверки.
	ErrNoCode = errors.New("confirmation code not found")
	// ErrInvalidCode — код не совпадает с сохранённым.
	ErrInvalidCode = errors.New("confirmation code is invalid")
	// ErrTemplateMissing — для поля метаданных нет шаблона.
	ErrTemplateMissing = errors.New("metadata template missing")
	// ErrCacheConflict — запись кэша изменилась между чтением и записью.
	ErrCacheConflict = errors.New("code cache entry changed concurrently")

	// ErrPhoneTaken — телефон уже принадлежит другому пользователю.
	ErrPhoneTaken = fmt.Errorf("phone already taken: %w", ErrConflict)
	// ErrUsernameTaken — имя пользователя занято.
	ErrUsernameTaken = fmt.Errorf("username already taken: %w", ErrConflict)
	// ErrDomainTaken — домен города уже используется.
	ErrDomainTaken = fmt.Errorf("city domain already taken: %w", ErrConflict)
	// ErrSlugTaken — slug уже используется.
	ErrSlugTaken = fmt.Errorf("slug already taken: %w", ErrConflict)
	// ErrArticleTaken — артикул уже используется.
	ErrArticleTaken = fmt.Errorf("article already taken: %w", ErrConflict)

	// ErrUnsupportedFile — расширение файла импорта не поддерживается.
	ErrUnsupportedFile = errors.New("unsupported import file format")
	// ErrUnknownEntity — в настройке импорта указана неизвестная сущность.
	ErrUnknownEntity = errors.New("unknown import entity")
	// ErrUnknownField — в настройке импорта указано неизвестное поле.
	ErrUnknownField = errors.New("unknown import field")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrUnknownEvent — для типа события нет обработчика.
	ErrUnknownEvent = errors.New("unknown outbox event type")
)

// UnavailableError перечисляет позиции корзины, которые нельзя заказать в городе.
type UnavailableError struct {
	CartLineIDs []int64
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: cart lines %v", ErrUnavailable.Error(), e.CartLineIDs)
}

func (e *UnavailableError) Unwrap() error { return ErrUnavailable }

// UnpricedError указывает товар без цены в группе городов.
type UnpricedError struct {
	ProductID int64
}

func (e *UnpricedError) Error() string {
	return fmt.Sprintf("%s: product %d", ErrUnpriced.Error(), e.ProductID)
}

func (e *UnpricedError) Unwrap() error { return ErrUnpriced }

// ThrottledError несёт остаток времени до повторной отправки кода.
type ThrottledError struct {
	Remaining time.Duration
	ExpiresAt time.Time
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%s: remaining %s", ErrThrottled.Error(), FormatRemaining(e.Remaining))
}

func (e *ThrottledError) Unwrap() error { return ErrThrottled }

// ValidationError содержит сообщения по полям.
type ValidationError struct {
	Fields map[string][]string
}

// NewValidationError создаёт ошибку с одним сообщением для поля.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string][]string{field: {message}}}
}

// Add добавляет сообщение к полю.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], message)
}

// Empty сообщает, что замечаний нет.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], "; "))
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// TemplateMissingError указывает поле, для которого не нашлось шаблона.
type TemplateMissingError struct {
	Owner string
	Field string
}

func (e *TemplateMissingError) Error() string {
	return fmt.Sprintf("%s: %s.%s", ErrTemplateMissing.Error(), e.Owner, e.Field)
}

func (e *TemplateMissingError) Unwrap() error { return ErrTemplateMissing }

// IsNotFound проверяет, что ошибка означает отсутствие сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict проверяет, что ошибка означает конфликт уникальности.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation проверяет, что ошибка связана с валидацией.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
