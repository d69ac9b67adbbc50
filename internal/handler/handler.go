// Package handler содержит HTTP-обработчики диагностического API контроллера.
package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/vending-controller/internal/orchestrator"
	"github.com/mmeshcher/vending-controller/internal/order"
)

// Workflow — контракт чтения состояния рабочего процесса.
type Workflow interface {
	State() orchestrator.State
}

// ScanTrigger — контракт ручного запуска сканирования карты.
type ScanTrigger interface {
	TriggerScan() bool
}

// Handler реализует обработчики диагностического API.
type Handler struct {
	workflow     Workflow
	store        *order.Store
	scanner      ScanTrigger
	networkReady func() bool
	machineID    string
	logger       *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика диагностического API.
func NewHandler(workflow Workflow, store *order.Store, scanner ScanTrigger, networkReady func() bool, machineID string, logger *zap.Logger) *Handler {
	return &Handler{
		workflow:     workflow,
		store:        store,
		scanner:      scanner,
		networkReady: networkReady,
		machineID:    machineID,
		logger:       logger,
	}
}

type statusResponse struct {
	MachineID     string `json:"machine_id"`
	WorkflowState string `json:"workflow_state"`
	NetworkReady  bool   `json:"network_ready"`
	ActiveOrderID string `json:"active_order_id,omitempty"`
}

// Status возвращает снимок состояния контроллера.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		MachineID:     h.machineID,
		WorkflowState: h.workflow.State().String(),
		NetworkReady:  h.networkReady(),
	}
	if o, ok := h.store.Current(); ok {
		resp.ActiveOrderID = o.OrderID
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("encode status response", zap.Error(err))
	}
}

// TriggerScan запускает окно сканирования карты вручную.
func (h *Handler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	if h.scanner == nil {
		http.Error(w, "scanner not available", http.StatusServiceUnavailable)
		return
	}
	if !h.scanner.TriggerScan() {
		http.Error(w, "scanner busy", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Ping отвечает на проверку живости.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
