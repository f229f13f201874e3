package drawer

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/cash-drawer/internal/model"
)

var (
	// ErrInsufficientFunds возвращается, если сумму нельзя точно набрать из имеющихся номиналов.
	ErrInsufficientFunds = errors.New("insufficient funds in drawer")
	// ErrNegativeAmount возвращается при попытке набрать отрицательную сумму.
	ErrNegativeAmount = errors.New("amount must not be negative")
)

// ComputeChange жадно набирает сумму due из available, начиная с крупных номиналов.
// Жадный подбор может не найти разложение, которое существует при другом сочетании
// номиналов; в этом случае возвращается ErrInsufficientFunds.
// Общую достаточность суммы в ящике проверяет вызывающий.
func ComputeChange(set model.DenominationSet, available model.DenominationCount, due int64) (model.DenominationCount, error) {
	if due < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeAmount, due)
	}

	remaining := due
	working := available.Clone()
	result := make(model.DenominationCount)

	for _, d := range set.Values() {
		if remaining == 0 {
			break
		}
		have := working[d]
		if have <= 0 {
			continue
		}
		use := min(remaining/int64(d), have)
		if use > 0 {
			result[d] = use
			working[d] -= use
			remaining -= use * int64(d)
		}
	}

	if remaining > 0 {
		return nil, fmt.Errorf("%w: cannot pay remaining %d of %d", ErrInsufficientFunds, remaining, due)
	}

	return result, nil
}
