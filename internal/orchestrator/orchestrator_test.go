package orchestrator

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/vending-controller/internal/backend"
	"github.com/mmeshcher/vending-controller/internal/bus"
	"github.com/mmeshcher/vending-controller/internal/order"
	"github.com/mmeshcher/vending-controller/internal/supervision"
)

const validOrderJSON = `{
	"order_id": "order_1",
	"machine_id": "machine_1",
	"timestamp": "2024-01-15T10:30:00.000Z",
	"status": "ACTIVE",
	"items": [
		{"product_id": "P1", "slot_number": 1, "quantity": 2},
		{"product_id": "P2", "slot_number": 3, "quantity": 1}
	]
}`

type fakeMech struct {
	lines []string
}

func (m *fakeMech) SendLine(line string) error {
	m.lines = append(m.lines, line)
	return nil
}

func (m *fakeMech) last(t *testing.T) string {
	t.Helper()
	if len(m.lines) == 0 {
		t.Fatalf("no lines sent to mechanism")
	}
	return m.lines[len(m.lines)-1]
}

type fakeBackend struct {
	requests  []backend.Request
	responses []backend.Response
	rejectAll bool
}

func (b *fakeBackend) Enqueue(req backend.Request) bool {
	if b.rejectAll {
		return false
	}
	b.requests = append(b.requests, req)
	return true
}

func (b *fakeBackend) TryResponse() (backend.Response, bool) {
	if len(b.responses) == 0 {
		return backend.Response{}, false
	}
	resp := b.responses[0]
	b.responses = b.responses[1:]
	return resp, true
}

func (b *fakeBackend) lastRequest(t *testing.T) backend.Request {
	t.Helper()
	if len(b.requests) == 0 {
		t.Fatalf("no requests enqueued")
	}
	return b.requests[len(b.requests)-1]
}

type fakeSupervisor struct {
	kinds    []supervision.ErrorKind
	messages []string
}

func (s *fakeSupervisor) Report(kind supervision.ErrorKind, message string) {
	s.kinds = append(s.kinds, kind)
	s.messages = append(s.messages, message)
}

type fakeScanner struct {
	triggered int
	accept    bool
}

func (s *fakeScanner) TriggerScan() bool {
	s.triggered++
	return s.accept
}

type fixture struct {
	orch    *Orchestrator
	mech    *fakeMech
	backend *fakeBackend
	sup     *fakeSupervisor
	scanner *fakeScanner
	store   *order.Store
	network bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		mech:    &fakeMech{},
		backend: &fakeBackend{},
		sup:     &fakeSupervisor{},
		scanner: &fakeScanner{accept: true},
		store:   order.NewStore(),
		network: true,
	}

	f.orch = New(Config{
		Bus:          bus.New(10),
		Backend:      f.backend,
		Store:        f.store,
		Mechanism:    f.mech,
		Scanner:      f.scanner,
		NetworkReady: func() bool { return f.network },
		Supervisor:   f.sup,
		Endpoints: Endpoints{
			ValidateToken:    "http://backend/validate",
			UpdateQuantities: "http://backend/quantities",
			ConfirmDelivery:  "http://backend/confirm",
		},
		Logger: zap.NewNop(),
	})
	return f
}

// driveToDelivering проводит процесс от токена до состояния Delivering.
func (f *fixture) driveToDelivering(t *testing.T) {
	t.Helper()

	f.orch.handleEvent(bus.Event{Type: bus.EventQRToken, Payload: "tok1"})
	if f.orch.State() != StateValidatingToken {
		t.Fatalf("state = %v, want ValidatingToken", f.orch.State())
	}

	f.orch.handleResponse(backend.Response{
		Kind:       backend.KindValidateToken,
		StatusCode: 200,
		Body:       validOrderJSON,
	})
	if f.orch.State() != StateDelivering {
		t.Fatalf("state = %v, want Delivering", f.orch.State())
	}
}

func TestHappyPath(t *testing.T) {
	f := newFixture(t)

	// Idle + QrTokenRead: запрос проверки токена.
	f.orch.handleEvent(bus.Event{Type: bus.EventQRToken, Payload: "tok1"})
	req := f.backend.lastRequest(t)
	if req.Kind != backend.KindValidateToken {
		t.Fatalf("request kind = %v, want KindValidateToken", req.Kind)
	}
	if req.URL != "http://backend/validate" {
		t.Fatalf("request url = %q", req.URL)
	}
	if req.Body != `{"qr_code_token":"tok1"}` {
		t.Fatalf("request body = %q", req.Body)
	}
	if f.orch.State() != StateValidatingToken {
		t.Fatalf("state = %v, want ValidatingToken", f.orch.State())
	}

	// 200 с валидным заказом: заказ установлен, команды отправлены.
	f.orch.handleResponse(backend.Response{
		Kind:       backend.KindValidateToken,
		StatusCode: 200,
		Body:       validOrderJSON,
	})
	if f.orch.State() != StateDelivering {
		t.Fatalf("state = %v, want Delivering", f.orch.State())
	}
	if got := f.mech.last(t); got != "ORDER_START:VEND 1 2 P1;VEND 3 1 P2" {
		t.Fatalf("mechanism line = %q", got)
	}
	if !f.store.HasActive() {
		t.Fatalf("order must be installed")
	}

	// Выдача завершена: запрос обновления остатков.
	f.orch.handleEvent(bus.Event{Type: bus.EventDeliveryCompleted})
	if f.orch.State() != StateUpdatingQuantities {
		t.Fatalf("state = %v, want UpdatingQuantities", f.orch.State())
	}
	if req := f.backend.lastRequest(t); req.Kind != backend.KindUpdateQuantities {
		t.Fatalf("request kind = %v, want KindUpdateQuantities", req.Kind)
	}

	// Остатки обновлены: запрос подтверждения выдачи.
	f.orch.handleResponse(backend.Response{Kind: backend.KindUpdateQuantities, StatusCode: 200})
	if f.orch.State() != StateConfirmingDelivery {
		t.Fatalf("state = %v, want ConfirmingDelivery", f.orch.State())
	}
	if req := f.backend.lastRequest(t); req.Kind != backend.KindConfirmDelivery {
		t.Fatalf("request kind = %v, want KindConfirmDelivery", req.Kind)
	}

	// Подтверждение принято: процесс завершён, заказ очищен.
	f.orch.handleResponse(backend.Response{Kind: backend.KindConfirmDelivery, StatusCode: 200})
	if f.orch.State() != StateIdle {
		t.Fatalf("state = %v, want Idle", f.orch.State())
	}
	if f.store.HasActive() {
		t.Fatalf("order must be cleared after completion")
	}
	if len(f.sup.kinds) != 0 {
		t.Fatalf("no supervision reports expected, got %v", f.sup.kinds)
	}
}

func TestValidationRejectedReturnsToIdle(t *testing.T) {
	f := newFixture(t)

	f.orch.handleEvent(bus.Event{Type: bus.EventQRToken, Payload: "tok1"})
	f.orch.handleResponse(backend.Response{Kind: backend.KindValidateToken, StatusCode: 500})

	if f.orch.State() != StateIdle {
		t.Fatalf("state = %v, want Idle", f.orch.State())
	}
	if f.store.HasActive() {
		t.Fatalf("no order must be installed")
	}
	if got := f.mech.last(t); got != "QR_TOKEN_INVALID" {
		t.Fatalf("mechanism line = %q, want QR_TOKEN_INVALID", got)
	}
}

func TestValidationSentinelStatusTreatedAsError(t *testing.T) {
	f := newFixture(t)

	f.orch.handleEvent(bus.Event{Type: bus.EventQRToken, Payload: "tok1"})
	f.orch.handleResponse(backend.Response{Kind: backend.KindValidateToken, StatusCode: 0})

	if f.orch.State() != StateIdle {
		t.Fatalf("state = %v, want Idle", f.orch.State())
	}
	if got := f.mech.last(t); got != "QR_TOKEN_INVALID" {
		t.Fatalf("mechanism line = %q, want QR_TOKEN_INVALID", got)
	}
}

func TestParseFailureOn200Escalates(t *testing.T) {
	f := newFixture(t)

	f.orch.handleEvent(bus.Event{Type: bus.EventQRToken, Payload: "tok1"})
	f.orch.handleResponse(backend.Response{
		Kind:       backend.KindValidateToken,
		StatusCode: 200,
		Body:       `{"order_id":"","machine_id":"","items":[]}`,
	})

	if f.orch.State() != StateIdle {
		t.Fatalf("state = %v, want Idle", f.orch.State())
	}
	if got := f.mech.last(t); got != "QR_TOKEN_INVALID" {
		t.Fatalf("mechanism line = %q", got)
	}
	if len(f.sup.kinds) != 1 || f.sup.kinds[0] != supervision.ErrCriticalServiceFailure {
		t.Fatalf("supervision kinds = %v, want one CRITICAL_SERVICE_FAILURE", f.sup.kinds)
	}
}

func TestBusyRejection(t *testing.T) {
	f := newFixture(t)
	f.driveToDelivering(t)

	requestsBefore := len(f.backend.requests)

	f.orch.handleEvent(bus.Event{Type: bus.EventQRToken, Payload: "tok2"})

	if f.orch.State() != StateDelivering {
		t.Fatalf("state changed on busy token: %v", f.orch.State())
	}
	if got := f.mech.last(t); got != "QR_TOKEN_BUSY" {
		t.Fatalf("mechanism line = %q, want QR_TOKEN_BUSY", got)
	}
	if len(f.backend.requests) != requestsBefore {
		t.Fatalf("no request must be issued for a busy token")
	}
}

func TestNoNetworkRejection(t *testing.T) {
	f := newFixture(t)
	f.network = false

	f.orch.handleEvent(bus.Event{Type: bus.EventQRToken, Payload: "tok1"})

	if f.orch.State() != StateIdle {
		t.Fatalf("state = %v, want Idle", f.orch.State())
	}
	if got := f.mech.last(t); got != "QR_TOKEN_NO_NETWORK" {
		t.Fatalf("mechanism line = %q, want QR_TOKEN_NO_NETWORK", got)
	}
	if len(f.backend.requests) != 0 {
		t.Fatalf("no request must be issued without network")
	}
}

func TestEnqueueFailureNotifiesError(t *testing.T) {
	f := newFixture(t)
	f.backend.rejectAll = true

	f.orch.handleEvent(bus.Event{Type: bus.EventQRToken, Payload: "tok1"})

	if f.orch.State() != StateIdle {
		t.Fatalf("state = %v, want Idle", f.orch.State())
	}
	if got := f.mech.last(t); got != "QR_TOKEN_ERROR" {
		t.Fatalf("mechanism line = %q, want QR_TOKEN_ERROR", got)
	}
}

func TestDeliveryFailedClearsOrder(t *testing.T) {
	f := newFixture(t)
	f.driveToDelivering(t)

	f.orch.handleEvent(bus.Event{Type: bus.EventDeliveryFailed, Payload: "JAM"})

	if f.orch.State() != StateIdle {
		t.Fatalf("state = %v, want Idle", f.orch.State())
	}
	if f.store.HasActive() {
		t.Fatalf("order must be cleared after delivery failure")
	}
	if got := f.mech.last(t); got != "ORDER_FAILED" {
		t.Fatalf("mechanism line = %q, want ORDER_FAILED", got)
	}
	if len(f.sup.kinds) != 1 || f.sup.kinds[0] != supervision.ErrHardwareFault {
		t.Fatalf("supervision kinds = %v, want one HARDWARE_FAULT", f.sup.kinds)
	}
}

func TestQuantitiesRejectedClearsOrder(t *testing.T) {
	f := newFixture(t)
	f.driveToDelivering(t)
	f.orch.handleEvent(bus.Event{Type: bus.EventDeliveryCompleted})

	f.orch.handleResponse(backend.Response{Kind: backend.KindUpdateQuantities, StatusCode: 503})

	if f.orch.State() != StateIdle {
		t.Fatalf("state = %v, want Idle", f.orch.State())
	}
	if f.store.HasActive() {
		t.Fatalf("order must be cleared")
	}
}

func TestConfirmationRejectedClearsOrder(t *testing.T) {
	f := newFixture(t)
	f.driveToDelivering(t)
	f.orch.handleEvent(bus.Event{Type: bus.EventDeliveryCompleted})
	f.orch.handleResponse(backend.Response{Kind: backend.KindUpdateQuantities, StatusCode: 200})

	f.orch.handleResponse(backend.Response{Kind: backend.KindConfirmDelivery, StatusCode: 500})

	if f.orch.State() != StateIdle {
		t.Fatalf("state = %v, want Idle", f.orch.State())
	}
	if f.store.HasActive() {
		t.Fatalf("order must be cleared")
	}
}

func TestResponseIgnoredInIdle(t *testing.T) {
	f := newFixture(t)

	f.orch.handleResponse(backend.Response{Kind: backend.KindValidateToken, StatusCode: 200, Body: validOrderJSON})

	if f.orch.State() != StateIdle {
		t.Fatalf("state = %v, want Idle", f.orch.State())
	}
	if f.store.HasActive() {
		t.Fatalf("unexpected response must not install an order")
	}
}

func TestResponseKindMismatchIgnored(t *testing.T) {
	f := newFixture(t)

	f.orch.handleEvent(bus.Event{Type: bus.EventQRToken, Payload: "tok1"})

	// Запоздавший ответ другого назначения не двигает процесс.
	f.orch.handleResponse(backend.Response{Kind: backend.KindConfirmDelivery, StatusCode: 200})

	if f.orch.State() != StateValidatingToken {
		t.Fatalf("state = %v, want ValidatingToken", f.orch.State())
	}
}

func TestDeliveryEventsIgnoredOutsideDelivering(t *testing.T) {
	f := newFixture(t)

	f.orch.handleEvent(bus.Event{Type: bus.EventDeliveryCompleted})
	f.orch.handleEvent(bus.Event{Type: bus.EventDeliveryFailed, Payload: "X"})

	if f.orch.State() != StateIdle {
		t.Fatalf("state = %v, want Idle", f.orch.State())
	}
	if len(f.backend.requests) != 0 {
		t.Fatalf("no requests expected, got %v", f.backend.requests)
	}
}

func TestCardEventsForwardedInAnyState(t *testing.T) {
	f := newFixture(t)
	f.driveToDelivering(t)

	f.orch.handleEvent(bus.Event{Type: bus.EventUIDRead, Payload: "04A1"})
	f.orch.handleEvent(bus.Event{Type: bus.EventTextRead, Payload: "hello"})
	f.orch.handleEvent(bus.Event{Type: bus.EventReadError, Payload: "SCAN_TIMEOUT"})

	n := len(f.mech.lines)
	if n < 3 {
		t.Fatalf("expected forwarded card lines, got %v", f.mech.lines)
	}
	got := f.mech.lines[n-3:]
	want := []string{"NFC_UID:04A1", "NFC_TEXT:hello", "NFC_ERR:SCAN_TIMEOUT"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
	if f.orch.State() != StateDelivering {
		t.Fatalf("card events must not change workflow state")
	}
}

func TestPayingStateTriggersScan(t *testing.T) {
	f := newFixture(t)

	f.orch.handleEvent(bus.Event{Type: bus.EventPayingState})
	if f.scanner.triggered != 1 {
		t.Fatalf("triggered = %d, want 1", f.scanner.triggered)
	}
	if f.orch.State() != StateIdle {
		t.Fatalf("paying state must not change workflow state")
	}
}

func TestPayingStateIgnoredWithoutNetwork(t *testing.T) {
	f := newFixture(t)
	f.network = false

	f.orch.handleEvent(bus.Event{Type: bus.EventPayingState})
	if f.scanner.triggered != 0 {
		t.Fatalf("scan must not be triggered without network")
	}
}

func TestWatchdogAbortsStuckWorkflow(t *testing.T) {
	f := newFixture(t)
	f.orch.stateTimeout = 50 * time.Millisecond
	f.driveToDelivering(t)

	f.orch.stateEnteredAt = time.Now().Add(-time.Second)
	f.orch.checkWatchdog()

	if f.orch.State() != StateIdle {
		t.Fatalf("state = %v, want Idle after watchdog", f.orch.State())
	}
	if f.store.HasActive() {
		t.Fatalf("order must be cleared by watchdog")
	}
	if len(f.sup.kinds) != 1 || f.sup.kinds[0] != supervision.ErrTaskHang {
		t.Fatalf("supervision kinds = %v, want one TASK_HANG", f.sup.kinds)
	}
}

func TestWatchdogIdleUntouched(t *testing.T) {
	f := newFixture(t)
	f.orch.stateTimeout = time.Nanosecond
	f.orch.stateEnteredAt = time.Now().Add(-time.Hour)

	f.orch.checkWatchdog()

	if f.orch.State() != StateIdle {
		t.Fatalf("watchdog must not fire in Idle")
	}
	if len(f.sup.kinds) != 0 {
		t.Fatalf("no supervision reports expected in Idle")
	}
}
