package model

import (
	"slices"
	"time"
)

// DiscountType описывает вид условия скидки.
type DiscountType string

const (
	// DiscountTypeQuantity снижает цену набора товаров на процент.
	DiscountTypeQuantity DiscountType = "quantity_discount"
	// DiscountTypeValue снижает цену на фиксированную сумму за каждый набор.
	DiscountTypeValue DiscountType = "value_discount"
)

// Valid сообщает, является ли вид скидки одним из известных.
func (t DiscountType) Valid() bool {
	return t == DiscountTypeQuantity || t == DiscountTypeValue
}

// DiscountDetails задаёт условие скидки: набор из RequiredQuantity товаров из ProductIDs.
// Для процентной скидки используется DiscountRate, для фиксированной DiscountValue.
type DiscountDetails struct {
	ProductIDs       []int64 `json:"product_ids"`
	RequiredQuantity int64   `json:"required_quantity"`
	DiscountRate     int64   `json:"discount_rate,omitempty"`
	DiscountValue    int64   `json:"discount_value,omitempty"`
}

// Covers сообщает, участвует ли товар в условии.
func (d DiscountDetails) Covers(productID int64) bool {
	return slices.Contains(d.ProductIDs, productID)
}

// Discount описывает условие скидки кассы.
type Discount struct {
	ID            int64           `json:"id"`
	PosInstanceID string          `json:"pos_instance_id"`
	Type          DiscountType    `json:"type"`
	Details       DiscountDetails `json:"details"`
	IsDeleted     bool            `json:"is_deleted"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
