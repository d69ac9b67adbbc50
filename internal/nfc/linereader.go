package nfc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"
)

// LineReader адаптирует считыватель карт, выдающий результаты чтения
// строками по последовательной линии:
//
//	CARD:<hex-uid>[:<текст>]
//	ERR:<причина>
//
// Строки, пришедшие вне открытого окна сканирования, отбрасываются.
type LineReader struct {
	port   io.Reader
	cards  chan Card
	errs   chan string
	logger *zap.Logger
}

// NewLineReader создаёт адаптер поверх порта считывателя.
func NewLineReader(port io.Reader, logger *zap.Logger) *LineReader {
	return &LineReader{
		port:   port,
		cards:  make(chan Card),
		errs:   make(chan string),
		logger: logger,
	}
}

// Run читает строки считывателя до конца потока или отмены контекста.
// Строки любой длины безопасны: не распознанные отбрасываются, чтение
// продолжается.
func (lr *LineReader) Run(ctx context.Context) error {
	reader := bufio.NewReader(lr.port)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		raw, err := reader.ReadString('\n')
		if line := strings.TrimSpace(raw); line != "" {
			lr.handleLine(line)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

func (lr *LineReader) handleLine(line string) {
	switch {
	case strings.HasPrefix(line, "CARD:"):
		uid, text, _ := strings.Cut(strings.TrimPrefix(line, "CARD:"), ":")
		select {
		case lr.cards <- Card{UID: uid, Text: text}:
		default:
			lr.logger.Debug("card read dropped: no scan window open")
		}
	case strings.HasPrefix(line, "ERR:"):
		select {
		case lr.errs <- strings.TrimPrefix(line, "ERR:"):
		default:
		}
	default:
		lr.logger.Debug("card reader line ignored", zap.String("line", line))
	}
}

// ReadCard ожидает следующий результат чтения или отмену контекста.
func (lr *LineReader) ReadCard(ctx context.Context) (Card, error) {
	select {
	case card := <-lr.cards:
		return card, nil
	case reason := <-lr.errs:
		return Card{}, errors.New(reason)
	case <-ctx.Done():
		return Card{}, ctx.Err()
	}
}
