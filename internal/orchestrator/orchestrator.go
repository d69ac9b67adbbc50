// Package orchestrator реализует машину состояний рабочего процесса заказа.
//
// Единственная горутина цикла владеет состоянием процесса и хранилищем
// заказа; остальные задачи взаимодействуют с ней только через ограниченные
// очереди событий и ответов.
package orchestrator

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/vending-controller/internal/backend"
	"github.com/mmeshcher/vending-controller/internal/bus"
	"github.com/mmeshcher/vending-controller/internal/order"
	"github.com/mmeshcher/vending-controller/internal/supervision"
)

// pollInterval задаёт шаг ожидания событий: за это время цикл гарантированно
// возвращается к разбору очереди ответов.
const pollInterval = 100 * time.Millisecond

// State описывает состояние рабочего процесса заказа.
type State int32

const (
	StateIdle State = iota
	StateValidatingToken
	StateDelivering
	StateUpdatingQuantities
	StateConfirmingDelivery
	StateCompleted
)

// String возвращает текстовое представление состояния.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateValidatingToken:
		return "VALIDATING_TOKEN"
	case StateDelivering:
		return "DELIVERING"
	case StateUpdatingQuantities:
		return "UPDATING_QUANTITIES"
	case StateConfirmingDelivery:
		return "CONFIRMING_DELIVERY"
	case StateCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// Mechanism — контракт отправки строк механизму выдачи.
type Mechanism interface {
	SendLine(line string) error
}

// ScanTrigger — контракт запуска окна сканирования карты.
type ScanTrigger interface {
	TriggerScan() bool
}

// Backend — контракт очередей HTTP-обмена с бэкендом.
type Backend interface {
	Enqueue(req backend.Request) bool
	TryResponse() (backend.Response, bool)
}

// Supervisor — контракт уведомления о критических сбоях.
type Supervisor interface {
	Report(kind supervision.ErrorKind, message string)
}

// Endpoints содержит адреса вызовов бэкенда, используемые процессом.
type Endpoints struct {
	ValidateToken    string
	UpdateQuantities string
	ConfirmDelivery  string
}

// Orchestrator — единственный потребитель очередей событий и ответов,
// владелец состояния процесса и текущего заказа.
type Orchestrator struct {
	bus          *bus.Bus
	backend      Backend
	store        *order.Store
	mech         Mechanism
	scanner      ScanTrigger
	networkReady func() bool
	supervisor   Supervisor
	endpoints    Endpoints
	stateTimeout time.Duration
	logger       *zap.Logger

	state          atomic.Int32
	stateEnteredAt time.Time
}

// Config собирает зависимости оркестратора.
type Config struct {
	Bus          *bus.Bus
	Backend      Backend
	Store        *order.Store
	Mechanism    Mechanism
	Scanner      ScanTrigger
	NetworkReady func() bool
	Supervisor   Supervisor
	Endpoints    Endpoints
	// StateTimeout ограничивает пребывание процесса вне Idle.
	// Нулевое значение отключает сторожевой таймер.
	StateTimeout time.Duration
	Logger       *zap.Logger
}

// New создаёт оркестратор в состоянии Idle.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		bus:          cfg.Bus,
		backend:      cfg.Backend,
		store:        cfg.Store,
		mech:         cfg.Mechanism,
		scanner:      cfg.Scanner,
		networkReady: cfg.NetworkReady,
		supervisor:   cfg.Supervisor,
		endpoints:    cfg.Endpoints,
		stateTimeout: cfg.StateTimeout,
		logger:       cfg.Logger,
	}
	o.stateEnteredAt = time.Now()
	return o
}

// State возвращает текущее состояние процесса. Безопасно из любой горутины.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(next State) {
	prev := o.State()
	if prev != next {
		o.logger.Info("workflow transition",
			zap.String("from", prev.String()),
			zap.String("to", next.String()))
	}
	o.state.Store(int32(next))
	o.stateEnteredAt = time.Now()
}

// Run обрабатывает события и ответы до отмены контекста. Ответы бэкенда
// разбираются раньше новых событий на каждой итерации.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		for {
			resp, ok := o.backend.TryResponse()
			if !ok {
				break
			}
			o.handleResponse(resp)
		}

		if evt, ok := o.bus.Receive(pollInterval); ok {
			o.handleEvent(evt)
		}

		o.checkWatchdog()
	}
}

func (o *Orchestrator) handleEvent(evt bus.Event) {
	switch evt.Type {
	case bus.EventUIDRead:
		o.sendLine("NFC_UID:" + evt.Payload)
	case bus.EventTextRead:
		o.sendLine("NFC_TEXT:" + evt.Payload)
	case bus.EventReadError:
		o.sendLine("NFC_ERR:" + evt.Payload)
	case bus.EventPayingState:
		o.handlePayingState()
	case bus.EventQRToken:
		o.handleToken(evt.Payload)
	case bus.EventDeliveryCompleted:
		o.handleDeliveryCompleted()
	case bus.EventDeliveryFailed:
		o.handleDeliveryFailed(evt.Payload)
	default:
		o.logger.Warn("unknown event ignored", zap.Int("type", int(evt.Type)))
	}
}

func (o *Orchestrator) handlePayingState() {
	if !o.networkReady() {
		o.logger.Warn("paying state ignored: network not ready")
		return
	}
	if o.scanner == nil {
		return
	}
	if !o.scanner.TriggerScan() {
		o.logger.Warn("nfc scan not started: scanner busy")
	}
}

type validateTokenRequest struct {
	Token string `json:"qr_code_token"`
}

func (o *Orchestrator) handleToken(token string) {
	if o.State() != StateIdle {
		o.logger.Warn("qr token rejected: workflow busy",
			zap.String("state", o.State().String()))
		o.sendLine("QR_TOKEN_BUSY")
		return
	}
	if !o.networkReady() {
		o.logger.Warn("qr token rejected: network not ready")
		o.sendLine("QR_TOKEN_NO_NETWORK")
		return
	}

	body, err := json.Marshal(validateTokenRequest{Token: token})
	if err != nil {
		o.logger.Error("marshal token request", zap.Error(err))
		o.sendLine("QR_TOKEN_ERROR")
		return
	}

	if !o.backend.Enqueue(backend.Request{
		Kind: backend.KindValidateToken,
		URL:  o.endpoints.ValidateToken,
		Body: string(body),
	}) {
		o.sendLine("QR_TOKEN_ERROR")
		return
	}

	o.setState(StateValidatingToken)
}

func (o *Orchestrator) handleDeliveryCompleted() {
	if o.State() != StateDelivering {
		o.logger.Warn("delivery completion ignored",
			zap.String("state", o.State().String()))
		return
	}

	payload := o.store.StockUpdateData()
	if payload == "" {
		o.criticalAbort("empty stock update payload after delivery")
		return
	}

	if !o.backend.Enqueue(backend.Request{
		Kind: backend.KindUpdateQuantities,
		URL:  o.endpoints.UpdateQuantities,
		Body: payload,
	}) {
		o.criticalAbort("stock update request rejected: queue full")
		return
	}

	o.setState(StateUpdatingQuantities)
}

func (o *Orchestrator) handleDeliveryFailed(reason string) {
	if o.State() != StateDelivering {
		o.logger.Warn("delivery failure ignored",
			zap.String("state", o.State().String()))
		return
	}

	o.logger.Error("delivery failed", zap.String("reason", reason))
	o.sendLine("ORDER_FAILED")
	o.supervisor.Report(supervision.ErrHardwareFault, "delivery failed: "+reason)
	o.abort()
}

func (o *Orchestrator) handleResponse(resp backend.Response) {
	state := o.State()

	expected, ok := expectedKind(state)
	if !ok {
		o.logger.Warn("backend response ignored: unexpected state",
			zap.String("state", state.String()),
			zap.String("kind", resp.Kind.String()),
			zap.Int("status", resp.StatusCode))
		return
	}
	if resp.Kind != expected {
		o.logger.Warn("backend response ignored: kind mismatch",
			zap.String("state", state.String()),
			zap.String("kind", resp.Kind.String()))
		return
	}

	switch state {
	case StateValidatingToken:
		o.onValidateResponse(resp)
	case StateUpdatingQuantities:
		o.onQuantitiesResponse(resp)
	case StateConfirmingDelivery:
		o.onConfirmResponse(resp)
	}
}

func expectedKind(state State) (backend.RequestKind, bool) {
	switch state {
	case StateValidatingToken:
		return backend.KindValidateToken, true
	case StateUpdatingQuantities:
		return backend.KindUpdateQuantities, true
	case StateConfirmingDelivery:
		return backend.KindConfirmDelivery, true
	default:
		return 0, false
	}
}

func (o *Orchestrator) onValidateResponse(resp backend.Response) {
	if resp.StatusCode != 200 {
		o.logger.Warn("token validation rejected", zap.Int("status", resp.StatusCode))
		o.sendLine("QR_TOKEN_INVALID")
		o.abort()
		return
	}

	ord, err := order.ParseOrder([]byte(resp.Body))
	if err != nil || !ord.Valid {
		o.logger.Error("order parse failed on successful validation", zap.Error(err))
		o.sendLine("QR_TOKEN_INVALID")
		o.supervisor.Report(supervision.ErrCriticalServiceFailure,
			"order parse failed on validate-token 200")
		o.abort()
		return
	}

	o.store.SetCurrent(ord)

	commands := o.store.DeliveryCommands()
	if commands == "" {
		o.criticalAbort("empty delivery commands for validated order")
		return
	}

	o.logger.Info("order accepted",
		zap.String("order_id", ord.OrderID),
		zap.Int("items", len(ord.Items)))
	o.sendLine("ORDER_START:" + commands)
	o.setState(StateDelivering)
}

func (o *Orchestrator) onQuantitiesResponse(resp backend.Response) {
	if resp.StatusCode != 200 {
		o.logger.Warn("stock update rejected", zap.Int("status", resp.StatusCode))
		o.abort()
		return
	}

	payload := o.store.DeliveryConfirmationData()
	if payload == "" {
		o.criticalAbort("empty delivery confirmation payload")
		return
	}

	if !o.backend.Enqueue(backend.Request{
		Kind: backend.KindConfirmDelivery,
		URL:  o.endpoints.ConfirmDelivery,
		Body: payload,
	}) {
		o.criticalAbort("delivery confirmation request rejected: queue full")
		return
	}

	o.setState(StateConfirmingDelivery)
}

func (o *Orchestrator) onConfirmResponse(resp backend.Response) {
	if resp.StatusCode != 200 {
		o.logger.Warn("delivery confirmation rejected", zap.Int("status", resp.StatusCode))
		o.abort()
		return
	}

	o.setState(StateCompleted)
	o.logger.Info("workflow completed")
	o.store.Clear()
	o.setState(StateIdle)
}

// abort возвращает процесс в Idle, всегда очищая хранилище заказа.
func (o *Orchestrator) abort() {
	o.store.Clear()
	o.setState(StateIdle)
}

// criticalAbort — прерывание из-за внутренней несогласованности:
// дополнительно уведомляет сервис мониторинга.
func (o *Orchestrator) criticalAbort(message string) {
	o.logger.Error("workflow aborted", zap.String("reason", message))
	o.supervisor.Report(supervision.ErrCriticalServiceFailure, message)
	o.abort()
}

func (o *Orchestrator) checkWatchdog() {
	if o.stateTimeout <= 0 {
		return
	}
	state := o.State()
	if state == StateIdle {
		return
	}
	if time.Since(o.stateEnteredAt) < o.stateTimeout {
		return
	}

	o.logger.Error("workflow watchdog expired", zap.String("state", state.String()))
	o.sendLine("ORDER_FAILED")
	o.supervisor.Report(supervision.ErrTaskHang,
		"workflow stuck in state "+state.String())
	o.abort()
}

func (o *Orchestrator) sendLine(line string) {
	if err := o.mech.SendLine(line); err != nil {
		o.logger.Error("send to mechanism failed", zap.String("line", line), zap.Error(err))
	}
}
