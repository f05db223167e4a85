package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order placed on an exchange (§6).
type OrderStatus string

const (
	OrderPending         OrderStatus = "Pending"
	OrderPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderFilled          OrderStatus = "Filled"
	OrderCancelled       OrderStatus = "Cancelled"
	OrderFailed          OrderStatus = "Failed"
	OrderRejected        OrderStatus = "Rejected"
)

// Filled reports whether a status counts as at least a partial fill, the
// condition the executor treats as "leg proceeded".
func (s OrderStatus) Filled() bool {
	return s == OrderFilled || s == OrderPartiallyFilled
}

// OrderResponse is what an ExchangeClient order placement call returns (§6).
type OrderResponse struct {
	OrderID      string
	Status       OrderStatus
	OriginalQty  decimal.Decimal
	ExecutedQty  decimal.Decimal
	Price        decimal.Decimal
	AvgPrice     decimal.Decimal
	Fee          decimal.Decimal
	FeeCurrency  string
	ErrorMessage string
	CreatedAt    time.Time
}
