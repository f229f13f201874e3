// Package discount рассчитывает итоговую цену корзины с учётом условий скидок кассы.
package discount

import (
	"context"
	"fmt"

	"github.com/mmeshcher/cash-drawer/internal/model"
)

// Applied описывает сработавшее условие скидки.
type Applied struct {
	DiscountID int64
	Amount     int64
}

// Apply применяет условия к корзине и возвращает итоговую цену и сработавшие скидки.
// Корзина содержит товар столько раз, сколько он куплен, в порядке добавления.
// Каждое условие срабатывает за каждый полный набор из RequiredQuantity подходящих товаров.
// Итоговая цена не бывает отрицательной.
func Apply(cart []model.Product, conditions []model.Discount) (int64, []Applied) {
	var subtotal int64
	for _, p := range cart {
		subtotal += p.Price
	}

	var (
		discount int64
		applied  []Applied
	)
	for _, c := range conditions {
		amount := conditionAmount(cart, c)
		if amount > 0 {
			discount += amount
			applied = append(applied, Applied{DiscountID: c.ID, Amount: amount})
		}
	}

	return max(subtotal-discount, 0), applied
}

func conditionAmount(cart []model.Product, c model.Discount) int64 {
	if c.IsDeleted || c.Details.RequiredQuantity <= 0 {
		return 0
	}

	var matching []model.Product
	for _, p := range cart {
		if c.Details.Covers(p.ID) {
			matching = append(matching, p)
		}
	}

	sets := int64(len(matching)) / c.Details.RequiredQuantity
	if sets == 0 {
		return 0
	}

	switch c.Type {
	case model.DiscountTypeValue:
		return sets * c.Details.DiscountValue
	case model.DiscountTypeQuantity:
		var value int64
		for _, p := range matching[:sets*c.Details.RequiredQuantity] {
			value += p.Price
		}
		return value * c.Details.DiscountRate / 100
	}
	return 0
}

// Store описывает чтение условий скидок кассы.
type Store interface {
	ListDiscounts(ctx context.Context, instanceID string) ([]model.Discount, error)
}

// Engine считает цену корзины по условиям скидок из хранилища.
type Engine struct {
	store Store
}

// NewEngine создаёт движок скидок поверх store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Price возвращает цену корзины после всех действующих скидок кассы.
func (e *Engine) Price(ctx context.Context, instanceID string, cart []model.Product) (int64, error) {
	conditions, err := e.store.ListDiscounts(ctx, instanceID)
	if err != nil {
		return 0, fmt.Errorf("list discounts: %w", err)
	}
	total, _ := Apply(cart, conditions)
	return total, nil
}
