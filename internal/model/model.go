// Package model содержит доменные сущности контроллера вендингового автомата.
package model

import (
	"errors"
	"fmt"
)

// Ограничения на состав заказа.
const (
	MaxOrderItems = 10
	MaxSlotNumber = 99
	MaxQuantity   = 10
)

// OrderStatus описывает статус заказа, полученный от бэкенда.
type OrderStatus string

const (
	OrderStatusActive    OrderStatus = "ACTIVE"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Ошибки валидации заказа.
var (
	ErrMissingOrderID   = errors.New("missing order_id")
	ErrMissingMachineID = errors.New("missing machine_id")
	ErrInvalidItemCount = errors.New("invalid item count")
)

// OrderItem описывает одну позицию заказа: продукт, слот автомата и количество.
type OrderItem struct {
	ProductID  string `json:"product_id"`
	SlotNumber int    `json:"slot_number"`
	Quantity   int    `json:"quantity"`
}

// Validate проверяет позицию заказа на допустимость значений.
func (it *OrderItem) Validate() error {
	if it.ProductID == "" {
		return errors.New("missing product_id")
	}
	if it.SlotNumber <= 0 || it.SlotNumber > MaxSlotNumber {
		return fmt.Errorf("invalid slot_number %d", it.SlotNumber)
	}
	if it.Quantity <= 0 || it.Quantity > MaxQuantity {
		return fmt.Errorf("invalid quantity %d", it.Quantity)
	}
	return nil
}

// Order описывает единственный активный заказ автомата.
type Order struct {
	OrderID   string      `json:"order_id"`
	MachineID string      `json:"machine_id"`
	Timestamp string      `json:"timestamp"`
	Status    OrderStatus `json:"status"`
	Items     []OrderItem `json:"items"`
	Valid     bool        `json:"-"`
}

// Validate проверяет инвариант заказа: непустые идентификаторы,
// от 1 до MaxOrderItems позиций, каждая позиция допустима.
func (o *Order) Validate() error {
	if o.OrderID == "" {
		return ErrMissingOrderID
	}
	if o.MachineID == "" {
		return ErrMissingMachineID
	}
	if len(o.Items) == 0 || len(o.Items) > MaxOrderItems {
		return fmt.Errorf("%w: %d", ErrInvalidItemCount, len(o.Items))
	}
	for i := range o.Items {
		if err := o.Items[i].Validate(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}
