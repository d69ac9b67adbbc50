// Package supervision отправляет уведомления о критических сбоях
// на внешний сервис мониторинга.
package supervision

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Cooldown — минимальный интервал между уведомлениями. Уведомления внутри
// интервала молча отбрасываются, чтобы не заливать бэкенд при каскадных сбоях.
const Cooldown = 30 * time.Second

// ErrorKind описывает категорию критического сбоя.
type ErrorKind string

const (
	ErrWatchdogTimeout        ErrorKind = "WATCHDOG_TIMEOUT"
	ErrTaskHang               ErrorKind = "TASK_HANG"
	ErrMemoryLow              ErrorKind = "MEMORY_LOW"
	ErrNetworkDisconnected    ErrorKind = "NETWORK_DISCONNECTED"
	ErrCriticalServiceFailure ErrorKind = "CRITICAL_SERVICE_FAILURE"
	ErrHardwareFault          ErrorKind = "HARDWARE_FAULT"
	ErrSystemCrash            ErrorKind = "SYSTEM_CRASH"
	ErrUnknown                ErrorKind = "UNKNOWN_ERROR"
)

type notification struct {
	ErrorID   string `json:"error_id"`
	MachineID string `json:"machine_id"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// Reporter отправляет уведомления о сбоях без гарантии доставки:
// без очереди и без повторов.
type Reporter struct {
	url          string
	machineID    string
	networkReady func() bool
	httpClient   *http.Client
	logger       *zap.Logger

	mu       sync.Mutex
	lastSent time.Time
	now      func() time.Time
}

// NewReporter создаёт репортёр для указанного адреса сервиса мониторинга.
func NewReporter(url, machineID string, networkReady func() bool, logger *zap.Logger) *Reporter {
	return &Reporter{
		url:          url,
		machineID:    machineID,
		networkReady: networkReady,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger,
		now:    time.Now,
	}
}

// MachineID возвращает идентификатор автомата, присвоенный репортёру.
func (r *Reporter) MachineID() string {
	return r.machineID
}

// Report отправляет уведомление о сбое. Внутри окна Cooldown, при
// недоступной сети или ненастроенном адресе уведомление отбрасывается.
func (r *Reporter) Report(kind ErrorKind, message string) {
	if r.url == "" {
		r.logger.Warn("supervision URL not configured")
		return
	}
	if r.networkReady != nil && !r.networkReady() {
		r.logger.Warn("supervision notification skipped: network not ready",
			zap.String("error_type", string(kind)))
		return
	}

	r.mu.Lock()
	if r.now().Sub(r.lastSent) < Cooldown {
		r.mu.Unlock()
		r.logger.Debug("supervision notification skipped: cooldown",
			zap.String("error_type", string(kind)))
		return
	}
	r.lastSent = r.now()
	r.mu.Unlock()

	n := notification{
		ErrorID:   GenerateErrorID(),
		MachineID: r.machineID,
		ErrorType: string(kind),
		Message:   message,
	}

	body, err := json.Marshal(n)
	if err != nil {
		r.logger.Error("marshal supervision notification", zap.Error(err))
		return
	}

	go r.send(n.ErrorID, body)
}

func (r *Reporter) send(errorID string, body []byte) {
	req, err := http.NewRequest(http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		r.logger.Error("create supervision request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "vending-controller-supervision/1.0")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Error("send supervision notification", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		r.logger.Error("supervision notification rejected",
			zap.Int("status", resp.StatusCode))
		return
	}

	r.logger.Info("supervision notification sent", zap.String("error_id", errorID))
}

// GenerateErrorID генерирует уникальный идентификатор сбоя
// вида err_<время-hex>_<случайное-hex>.
func GenerateErrorID() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		binary.BigEndian.PutUint32(buf[:], uint32(time.Now().UnixNano()))
	}
	return fmt.Sprintf("err_%x_%s", time.Now().UnixMilli(), hex.EncodeToString(buf[:]))
}

// DeriveMachineID возвращает стабильный идентификатор автомата: явно
// заданный, иначе по MAC-адресу первого аппаратного интерфейса,
// иначе по имени хоста.
func DeriveMachineID(configured string) string {
	if configured != "" {
		return configured
	}

	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
				continue
			}
			return "vmc_" + hex.EncodeToString(iface.HardwareAddr)
		}
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return "vmc_" + host
}
