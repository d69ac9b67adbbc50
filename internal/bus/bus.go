// Package bus реализует ограниченную очередь событий оркестратора.
package bus

import (
	"sync/atomic"
	"time"
)

// DefaultCapacity — ёмкость очереди событий по умолчанию.
const DefaultCapacity = 10

// EventType описывает тип события, публикуемого задачами-производителями.
type EventType int

const (
	// EventUIDRead — со считывателя карт получен UID.
	EventUIDRead EventType = iota + 1
	// EventTextRead — со считывателя карт получен текст.
	EventTextRead
	// EventReadError — ошибка чтения карты.
	EventReadError
	// EventPayingState — механизм выдачи перешёл в состояние оплаты.
	EventPayingState
	// EventQRToken — сканер считал токен QR-кода.
	EventQRToken
	// EventDeliveryCompleted — механизм сообщил о завершении выдачи.
	EventDeliveryCompleted
	// EventDeliveryFailed — механизм сообщил об ошибке выдачи.
	EventDeliveryFailed
)

// String возвращает текстовое представление типа события.
func (t EventType) String() string {
	switch t {
	case EventUIDRead:
		return "UID_READ"
	case EventTextRead:
		return "TEXT_READ"
	case EventReadError:
		return "READ_ERROR"
	case EventPayingState:
		return "PAYING_STATE"
	case EventQRToken:
		return "QR_TOKEN"
	case EventDeliveryCompleted:
		return "DELIVERY_COMPLETED"
	case EventDeliveryFailed:
		return "DELIVERY_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Event — событие, передаваемое оркестратору.
type Event struct {
	Type    EventType
	Payload string
}

// Bus — ограниченная FIFO-очередь событий с несколькими производителями
// и одним потребителем. Публикация неблокирующая: при заполненной очереди
// событие отбрасывается.
type Bus struct {
	ch      chan Event
	dropped atomic.Int64
}

// New создаёт очередь событий указанной ёмкости.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{ch: make(chan Event, capacity)}
}

// TryPublish пытается поместить событие в очередь без блокировки.
// Возвращает false, если очередь заполнена и событие отброшено.
func (b *Bus) TryPublish(evt Event) bool {
	select {
	case b.ch <- evt:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// Receive ожидает событие не дольше указанного времени.
// Возвращает false, если за отведённое время событий не поступило.
func (b *Bus) Receive(timeout time.Duration) (Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case evt := <-b.ch:
		return evt, true
	case <-timer.C:
		return Event{}, false
	}
}

// TryReceive возвращает событие без ожидания, если оно есть.
func (b *Bus) TryReceive() (Event, bool) {
	select {
	case evt := <-b.ch:
		return evt, true
	default:
		return Event{}, false
	}
}

// Dropped возвращает количество отброшенных событий.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
