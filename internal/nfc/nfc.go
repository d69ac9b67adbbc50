// Package nfc управляет окнами сканирования бесконтактных карт
// и публикует результаты чтения в очередь событий.
package nfc

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/mmeshcher/vending-controller/internal/bus"
)

const (
	// DefaultScanWindow — длительность окна сканирования после триггера.
	DefaultScanWindow = 15 * time.Second
	// TriggerCooldown — минимальный интервал между триггерами сканирования.
	TriggerCooldown = 1 * time.Second
	// MaxTextLength ограничивает длину текста, прочитанного с карты.
	MaxTextLength = 120
)

// Card содержит результат чтения карты: UID и, при наличии, текст.
type Card struct {
	UID  string
	Text string
}

// Reader — контракт драйвера считывателя карт. Низкоуровневый протокол
// считывателя остаётся за реализацией.
type Reader interface {
	// ReadCard блокируется до появления карты или отмены контекста.
	ReadCard(ctx context.Context) (Card, error)
}

// Service выполняет чтение карт по запросу: окно сканирования открывается
// триггером, ограничено по времени и завершается ровно одним исходом.
type Service struct {
	reader     Reader
	bus        *bus.Bus
	scanWindow time.Duration
	logger     *zap.Logger

	trigger chan struct{}

	mu          sync.Mutex
	busy        bool
	lastTrigger time.Time
}

// NewService создаёт сервис сканирования поверх драйвера считывателя.
func NewService(reader Reader, eventBus *bus.Bus, scanWindow time.Duration, logger *zap.Logger) *Service {
	if scanWindow <= 0 {
		scanWindow = DefaultScanWindow
	}
	return &Service{
		reader:     reader,
		bus:        eventBus,
		scanWindow: scanWindow,
		logger:     logger,
		trigger:    make(chan struct{}, 1),
	}
}

// TriggerScan запрашивает открытие окна сканирования. Возвращает false,
// если окно уже открыто или не истёк интервал между триггерами.
func (s *Service) TriggerScan() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.lastTrigger) < TriggerCooldown {
		s.logger.Warn("nfc scan trigger rate limited")
		return false
	}
	if s.busy {
		s.logger.Warn("nfc scanner busy")
		return false
	}

	select {
	case s.trigger <- struct{}{}:
		s.busy = true
		s.lastTrigger = time.Now()
		s.logger.Info("nfc scan triggered")
		return true
	default:
		return false
	}
}

// Busy сообщает, открыто ли сейчас окно сканирования.
func (s *Service) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Run обслуживает окна сканирования до отмены контекста.
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.trigger:
			s.scan(ctx)
			s.mu.Lock()
			s.busy = false
			s.mu.Unlock()
		}
	}
}

func (s *Service) scan(ctx context.Context) {
	scanCtx, cancel := context.WithTimeout(ctx, s.scanWindow)
	defer cancel()

	card, err := s.reader.ReadCard(scanCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "SCAN_TIMEOUT"
		}
		s.logger.Warn("nfc read failed", zap.Error(err))
		s.publish(bus.Event{Type: bus.EventReadError, Payload: reason})
		return
	}

	if !IsValidUID(card.UID) {
		s.logger.Warn("nfc read rejected: invalid uid", zap.String("uid", card.UID))
		s.publish(bus.Event{Type: bus.EventReadError, Payload: "INVALID_UID"})
		return
	}

	s.publish(bus.Event{Type: bus.EventUIDRead, Payload: card.UID})

	if card.Text != "" {
		s.publish(bus.Event{Type: bus.EventTextRead, Payload: truncateText(card.Text)})
	}
}

// truncateText усекает текст карты до MaxTextLength байт,
// не разрезая многобайтовые символы.
func truncateText(text string) string {
	if len(text) <= MaxTextLength {
		return text
	}
	cut := MaxTextLength
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func (s *Service) publish(evt bus.Event) {
	if !s.bus.TryPublish(evt) {
		s.logger.Warn("event dropped: queue full", zap.String("type", evt.Type.String()))
	}
}

// IsValidUID проверяет формат UID карты: непустая строка чётной длины
// из шестнадцатеричных цифр в верхнем регистре.
func IsValidUID(uid string) bool {
	if uid == "" || len(uid)%2 != 0 {
		return false
	}
	for i := 0; i < len(uid); i++ {
		ch := uid[i]
		if (ch < '0' || ch > '9') && (ch < 'A' || ch > 'F') {
			return false
		}
	}
	return true
}
