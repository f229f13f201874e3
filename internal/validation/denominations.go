// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mmeshcher/cash-drawer/internal/model"
)

// MaxCount ограничивает количество единиц одного номинала в одной операции.
const MaxCount = 1_000_000

var (
	// ErrUnknownDenomination возвращается для номинала вне набора.
	ErrUnknownDenomination = errors.New("unknown denomination")
	// ErrInvalidCount возвращается для отрицательного или слишком большого количества.
	ErrInvalidCount = errors.New("invalid denomination count")
	// ErrEmptyName возвращается для пустого имени стороны.
	ErrEmptyName = errors.New("name must not be empty")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct проверяет структуру по тегам validate.
func Struct(v any) error {
	return validate.Struct(v)
}

// Details превращает ошибку валидатора в описание по полям.
func Details(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}

	res := make(map[string]string, len(verrs))
	for _, e := range verrs {
		res[e.Field()] = fmt.Sprintf("failed on '%s'", e.Tag())
	}
	return res
}

// DenominationCount проверяет, что все номиналы входят в набор,
// а количества неотрицательны и не превышают MaxCount.
func DenominationCount(set model.DenominationSet, c model.DenominationCount) error {
	for d, n := range c {
		if !set.Contains(d) {
			return fmt.Errorf("%w: %d", ErrUnknownDenomination, d)
		}
		if n < 0 || n > MaxCount {
			return fmt.Errorf("%w: %d x %d", ErrInvalidCount, n, d)
		}
	}
	return nil
}

// PartyName проверяет имя продавца или вносителя.
func PartyName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	return nil
}
