package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	maxJSONBody     = 1 << 20
	nonFieldErrors  = "non_field_errors"
	msgRequired     = "обязательное поле"
	msgInvalidJSON  = "некорректный JSON"
	msgInvalidValue = "некорректное значение"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// decodeJSON читает тело запроса и проверяет его тегами validate.
func (s *server) decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return domain.NewValidationError(nonFieldErrors, msgInvalidJSON)
	}
	return s.validateStruct(dst)
}

func (s *server) validateStruct(v any) error {
	if reflect.Indirect(reflect.ValueOf(v)).Kind() != reflect.Struct {
		return s.validateSlice(v)
	}
	return toValidationError(s.validate.Struct(v))
}

func (s *server) validateSlice(v any) error {
	rv := reflect.Indirect(reflect.ValueOf(v))
	if rv.Kind() != reflect.Slice {
		return nil
	}
	verr := &domain.ValidationError{}
	for i := 0; i < rv.Len(); i++ {
		err := toValidationError(s.validate.Struct(rv.Index(i).Interface()))
		var item *domain.ValidationError
		if errors.As(err, &item) {
			for field, msgs := range item.Fields {
				for _, msg := range msgs {
					verr.Add(fmt.Sprintf("%d.%s", i, field), msg)
				}
			}
		} else if err != nil {
			return err
		}
	}
	if verr.Empty() {
		return nil
	}
	return verr
}

// toValidationError переводит ошибки validator в {поле: [сообщения]}.
func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	verr := &domain.ValidationError{}
	for _, fe := range fieldErrs {
		verr.Add(fe.Field(), fieldMessage(fe))
	}
	return verr
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return msgRequired
	case "min", "gte":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("список должен содержать не меньше %s элементов", fe.Param())
		}
		return "значение должно быть не меньше " + fe.Param()
	case "max", "lte":
		return "значение должно быть не больше " + fe.Param()
	case "oneof":
		return "допустимые значения: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "email":
		return "некорректный email"
	case "e164":
		return "телефон должен быть в формате +<цифры>"
	default:
		return msgInvalidValue
	}
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.NewValidationError(name, "ожидается неотрицательное целое число")
	}
	return n, nil
}

func queryDecimal(r *http.Request, name string) (decimal.NullDecimal, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, domain.NewValidationError(name, "ожидается число")
	}
	return decimal.NewNullDecimal(d), nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := urlParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError(name, "ожидается положительный идентификатор")
	}
	return id, nil
}
