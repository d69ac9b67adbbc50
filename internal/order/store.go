// Package order содержит хранилище единственного активного заказа
// и генерацию исходящих данных по нему.
package order

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mmeshcher/vending-controller/internal/model"
)

// Store хранит не более одного активного заказа. Запись выполняет только
// цикл оркестратора; чтение снимка доступно диагностическим обработчикам.
type Store struct {
	mu      sync.RWMutex
	current model.Order
	active  bool
}

// NewStore создаёт пустое хранилище заказа.
func NewStore() *Store {
	return &Store{}
}

// ParseOrder разбирает JSON-ответ бэкенда в заказ. Лишние позиции сверх
// model.MaxOrderItems молча отбрасываются. Возвращённый заказ прошёл полную
// валидацию: при семантических нарушениях флаг Valid сброшен, а ошибка
// описывает первое нарушение.
func ParseOrder(raw []byte) (*model.Order, error) {
	var o model.Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}

	if len(o.Items) > model.MaxOrderItems {
		o.Items = o.Items[:model.MaxOrderItems]
	}

	if err := o.Validate(); err != nil {
		o.Valid = false
		return &o, fmt.Errorf("validate order: %w", err)
	}

	o.Valid = true
	return &o, nil
}

// SetCurrent устанавливает заказ текущим. Невалидный заказ не устанавливается.
// Предыдущий заказ замещается безусловно.
func (s *Store) SetCurrent(o *model.Order) {
	if o == nil || !o.Valid {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = *o
	s.active = true
}

// Current возвращает копию текущего заказа, если он установлен и валиден.
func (s *Store) Current() (model.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.active || !s.current.Valid {
		return model.Order{}, false
	}
	return s.current, true
}

// HasActive сообщает, установлен ли валидный текущий заказ.
func (s *Store) HasActive() bool {
	_, ok := s.Current()
	return ok
}

// Clear очищает хранилище. Повторные вызовы безопасны.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = model.Order{}
	s.active = false
}

// DeliveryCommands сериализует позиции заказа в команды механизму выдачи
// вида "VEND <slot> <qty> <product>", разделённые точкой с запятой.
// Возвращает пустую строку при отсутствии валидного заказа.
func (s *Store) DeliveryCommands() string {
	o, ok := s.Current()
	if !ok {
		return ""
	}

	parts := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		parts = append(parts, fmt.Sprintf("VEND %d %d %s", it.SlotNumber, it.Quantity, it.ProductID))
	}
	return strings.Join(parts, ";")
}

type stockUpdateItem struct {
	ProductID         string `json:"product_id"`
	SlotNumber        int    `json:"slot_number"`
	QuantityDelivered int    `json:"quantity_delivered"`
}

type stockUpdatePayload struct {
	OrderID   string            `json:"order_id"`
	MachineID string            `json:"machine_id"`
	Items     []stockUpdateItem `json:"items"`
}

// StockUpdateData формирует JSON для обновления остатков после выдачи.
// Пустая строка означает отсутствие валидного заказа и служит сигналом
// прерывания рабочего процесса.
func (s *Store) StockUpdateData() string {
	o, ok := s.Current()
	if !ok {
		return ""
	}

	p := stockUpdatePayload{
		OrderID:   o.OrderID,
		MachineID: o.MachineID,
		Items:     make([]stockUpdateItem, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		p.Items = append(p.Items, stockUpdateItem{
			ProductID:         it.ProductID,
			SlotNumber:        it.SlotNumber,
			QuantityDelivered: it.Quantity,
		})
	}

	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(data)
}

type confirmationPayload struct {
	OrderID        string            `json:"order_id"`
	MachineID      string            `json:"machine_id"`
	Timestamp      string            `json:"timestamp"`
	ItemsDelivered []model.OrderItem `json:"items_delivered"`
}

// DeliveryConfirmationData формирует JSON подтверждения выдачи заказа.
// Пустая строка — тот же сигнал прерывания, что и у StockUpdateData.
func (s *Store) DeliveryConfirmationData() string {
	o, ok := s.Current()
	if !ok {
		return ""
	}

	p := confirmationPayload{
		OrderID:        o.OrderID,
		MachineID:      o.MachineID,
		Timestamp:      o.Timestamp,
		ItemsDelivered: o.Items,
	}

	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(data)
}
