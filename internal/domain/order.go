package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

type Order struct {
	ID            int64
	OrderNumber   string
	UserID        int64
	AddressID     int64
	CouponID      *int64
	Status        OrderStatus
	PaymentStatus PaymentStatus
	Subtotal      decimal.Decimal
	DiscountTotal decimal.Decimal
	Total         decimal.Decimal
	Items         []OrderItem
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type OrderItem struct {
	ID        int64
	OrderID   int64
	ProductID int64
	VariantID int64
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

type User struct {
	ID        int64
	Email     string
	Name      string
	CreatedAt time.Time
}

type Address struct {
	ID      int64
	UserID  int64
	Line1   string
	City    string
	Country string
}
