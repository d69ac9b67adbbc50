// Package qr читает токены со сканера QR-кодов и публикует их
// в очередь событий оркестратора.
package qr

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/vending-controller/internal/bus"
)

// MaxTokenLength ограничивает длину принимаемого токена.
// Более длинные строки усекаются.
const MaxTokenLength = 250

// Service читает строки со сканера и превращает их в события QR-токена.
type Service struct {
	port   io.Reader
	bus    *bus.Bus
	logger *zap.Logger
}

// NewService создаёт сервис чтения сканера поверх последовательного порта.
func NewService(port io.Reader, eventBus *bus.Bus, logger *zap.Logger) *Service {
	return &Service{
		port:   port,
		bus:    eventBus,
		logger: logger,
	}
}

// Run читает строки до конца потока или отмены контекста.
// Строки любой длины безопасны: излишек усекается, чтение продолжается.
func (s *Service) Run(ctx context.Context) error {
	reader := bufio.NewReader(s.port)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		raw, err := reader.ReadString('\n')
		if token := strings.TrimSpace(raw); token != "" {
			if len(token) > MaxTokenLength {
				token = token[:MaxTokenLength]
			}

			s.logger.Info("qr token read", zap.Int("length", len(token)))
			if !s.bus.TryPublish(bus.Event{Type: bus.EventQRToken, Payload: token}) {
				s.logger.Warn("qr token dropped: queue full")
			}
		}
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read token: %w", err)
		}
	}
}
