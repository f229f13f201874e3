package service

import (
	"context"
	"fmt"

	"github.com/mmeshcher/cash-drawer/internal/model"
	"github.com/mmeshcher/cash-drawer/internal/repository"
)

// DiscountEngine рассчитывает итоговую цену корзины с учётом скидок.
// Корзина содержит товары с ценами каталога в порядке покупки.
type DiscountEngine interface {
	Price(ctx context.Context, instanceID string, cart []model.Product) (int64, error)
}

// WithDiscounts включает расчёт цены продажи через движок скидок.
// Без него цена продажи равна сумме цен корзины.
func WithDiscounts(d DiscountEngine) Option {
	return func(s *Service) {
		s.discounts = d
	}
}

// ListDiscounts возвращает действующие условия скидок кассы.
func (s *Service) ListDiscounts(ctx context.Context, instanceID string) ([]model.Discount, error) {
	if _, err := s.repo.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	return s.repo.ListDiscounts(ctx, instanceID)
}

// CreateDiscount добавляет условие скидки кассы.
func (s *Service) CreateDiscount(ctx context.Context, instanceID string, in repository.DiscountInput) (model.Discount, error) {
	in, err := normalizeDiscount(in)
	if err != nil {
		return model.Discount{}, err
	}
	return s.repo.CreateDiscount(ctx, instanceID, in)
}

// DeleteDiscount удаляет условие скидки. Проведённые продажи не пересчитываются.
func (s *Service) DeleteDiscount(ctx context.Context, discountID int64) error {
	return s.repo.DeleteDiscount(ctx, discountID)
}

func normalizeDiscount(in repository.DiscountInput) (repository.DiscountInput, error) {
	d := &in.Details
	if !in.Type.Valid() {
		return in, fmt.Errorf("%w: type %q", ErrInvalidDiscount, in.Type)
	}
	if len(d.ProductIDs) == 0 {
		return in, fmt.Errorf("%w: no products", ErrInvalidDiscount)
	}
	for _, id := range d.ProductIDs {
		if id <= 0 {
			return in, fmt.Errorf("%w: product id %d", ErrInvalidDiscount, id)
		}
	}
	if d.RequiredQuantity < 1 {
		return in, fmt.Errorf("%w: required quantity %d", ErrInvalidDiscount, d.RequiredQuantity)
	}

	switch in.Type {
	case model.DiscountTypeQuantity:
		if d.DiscountRate < 1 || d.DiscountRate > 100 {
			return in, fmt.Errorf("%w: rate %d", ErrInvalidDiscount, d.DiscountRate)
		}
		d.DiscountValue = 0
	case model.DiscountTypeValue:
		if d.DiscountValue < 1 {
			return in, fmt.Errorf("%w: value %d", ErrInvalidDiscount, d.DiscountValue)
		}
		d.DiscountRate = 0
	}
	return in, nil
}

// salePrice возвращает цену корзины: subtotal или результат движка скидок.
func (s *Service) salePrice(ctx context.Context, instanceID string, cart []model.Product, subtotal int64) (int64, error) {
	if s.discounts == nil {
		return subtotal, nil
	}

	price, err := s.discounts.Price(ctx, instanceID, cart)
	if err != nil {
		return 0, err
	}
	if price < 0 || price > subtotal {
		return 0, fmt.Errorf("discount engine returned %d for subtotal %d", price, subtotal)
	}
	return price, nil
}
