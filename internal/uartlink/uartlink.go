// Package uartlink обслуживает последовательную линию связи
// с механизмом выдачи товара.
package uartlink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mmeshcher/vending-controller/internal/bus"
	"github.com/mmeshcher/vending-controller/internal/protocol"
)

// maxRawLine — предел длины сырой строки; более длинные отбрасываются
// целиком до разбора.
const maxRawLine = 120

// ErrPortClosed возвращается, если порт механизма закрылся
// до отмены контекста. Без линии связи контроллер работать не может.
var ErrPortClosed = errors.New("mechanism port closed")

// Link — задача обмена с механизмом выдачи: читает отчётные строки и
// команды, публикует события и отправляет подтверждения.
type Link struct {
	port         io.ReadWriter
	bus          *bus.Bus
	networkReady func() bool
	logger       *zap.Logger

	writeMu sync.Mutex
}

// New создаёт задачу обмена поверх открытого последовательного порта.
func New(port io.ReadWriter, eventBus *bus.Bus, networkReady func() bool, logger *zap.Logger) *Link {
	return &Link{
		port:         port,
		bus:          eventBus,
		networkReady: networkReady,
		logger:       logger,
	}
}

// SendLine отправляет одну строку механизму выдачи.
// Метод безопасен для конкурентных вызовов.
func (l *Link) SendLine(line string) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if _, err := io.WriteString(l.port, line+"\n"); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	return nil
}

// Run читает входящие строки до конца потока или отмены контекста.
func (l *Link) Run(ctx context.Context) error {
	reader := bufio.NewReader(l.port)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		raw, err := reader.ReadString('\n')
		if len(raw) > 0 {
			line := strings.Trim(raw, "\r\n")
			if line != "" {
				if len(line) > maxRawLine {
					l.logger.Warn("uart line discarded: raw overflow", zap.Int("length", len(line)))
				} else {
					l.handleLine(line)
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == io.EOF {
				return ErrPortClosed
			}
			return fmt.Errorf("read line: %w", err)
		}
	}
}

func (l *Link) handleLine(line string) {
	l.logger.Debug("uart line received", zap.String("line", line))

	switch protocol.Classify(line, l.networkReady()) {
	case protocol.Ack:
		l.publish(bus.Event{Type: bus.EventPayingState})
		l.reply("ACK:STATE:PAYING")
	case protocol.Nak:
		l.reply("NAK:STATE:PAYING:NO_NET")
	case protocol.ErrTooLong:
		l.reply("ERR:LINE_TOO_LONG")
	case protocol.ErrBadChar:
		l.reply("ERR:BAD_CHAR")
	case protocol.Unknown:
		l.handleReport(line)
	}
}

func (l *Link) handleReport(line string) {
	report, ok := protocol.ParseReport(line)
	if !ok {
		l.reply("ERR:UNKNOWN_CMD")
		return
	}

	switch report.Kind {
	case protocol.ReportDeliveryCompleted:
		l.publish(bus.Event{Type: bus.EventDeliveryCompleted, Payload: report.Detail})
	case protocol.ReportDeliveryFailed:
		l.publish(bus.Event{Type: bus.EventDeliveryFailed, Payload: report.Detail})
	case protocol.ReportOrderAck, protocol.ReportOrderNak,
		protocol.ReportVendCompleted, protocol.ReportVendFailed:
		// Информационные отчёты: фиксируются в журнале, процесс не двигают.
		l.logger.Info("mechanism report", zap.String("line", line))
	}
}

func (l *Link) publish(evt bus.Event) {
	if !l.bus.TryPublish(evt) {
		l.logger.Warn("event dropped: queue full", zap.String("type", evt.Type.String()))
	}
}

func (l *Link) reply(line string) {
	if err := l.SendLine(line); err != nil {
		l.logger.Error("uart reply failed", zap.String("line", line), zap.Error(err))
	}
}
