// Package netstate отслеживает доступность сети до бэкенда.
package netstate

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	probeInterval = 5 * time.Second
	probeTimeout  = 3 * time.Second
)

// Monitor периодически проверяет доступность бэкенда и публикует
// флаг готовности сети для остальных задач.
type Monitor struct {
	probeURL   string
	httpClient *http.Client
	ready      atomic.Bool
	logger     *zap.Logger
}

// NewMonitor создаёт монитор доступности для указанного базового URL бэкенда.
func NewMonitor(probeURL string, logger *zap.Logger) *Monitor {
	return &Monitor{
		probeURL: probeURL,
		httpClient: &http.Client{
			Timeout: probeTimeout,
		},
		logger: logger,
	}
}

// Ready сообщает, доступна ли сеть по результату последней проверки.
func (m *Monitor) Ready() bool {
	return m.ready.Load()
}

// SetReady выставляет флаг готовности напрямую. Используется в тестах
// и при работе без настроенного бэкенда.
func (m *Monitor) SetReady(ready bool) {
	m.ready.Store(ready)
}

func (m *Monitor) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		return err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return retry.RetryableError(err)
	}
	resp.Body.Close()
	return nil
}

// WaitReady ожидает первой успешной проверки связи с растущими паузами.
func (m *Monitor) WaitReady(ctx context.Context) error {
	backoff := retry.WithMaxDuration(2*time.Minute, retry.NewFibonacci(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		return m.probe(ctx)
	})
	if err != nil {
		return err
	}
	m.ready.Store(true)
	m.logger.Info("network ready", zap.String("probe_url", m.probeURL))
	return nil
}

// Run периодически проверяет связь до отмены контекста,
// обновляя флаг готовности.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := m.probe(ctx)
			wasReady := m.ready.Load()
			nowReady := err == nil
			m.ready.Store(nowReady)

			if wasReady && !nowReady {
				m.logger.Warn("network lost", zap.Error(err))
			}
			if !wasReady && nowReady {
				m.logger.Info("network restored")
			}
		}
	}
}
