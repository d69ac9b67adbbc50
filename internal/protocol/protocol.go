// Package protocol содержит разбор строкового протокола обмена
// с механизмом выдачи товара по последовательной линии.
package protocol

import "strings"

// MaxLineLength ограничивает длину принимаемой команды.
const MaxLineLength = 64

// Result описывает результат классификации входящей команды.
type Result int

const (
	// Unknown — корректная строка, не являющаяся известной командой.
	Unknown Result = iota
	// Ack — команда STATE:PAYING принята, сеть доступна.
	Ack
	// Nak — команда STATE:PAYING отклонена, сети нет.
	Nak
	// ErrTooLong — строка длиннее MaxLineLength.
	ErrTooLong
	// ErrBadChar — строка содержит недопустимый символ.
	ErrBadChar
)

// String возвращает текстовое представление результата.
func (r Result) String() string {
	switch r {
	case Ack:
		return "ACK"
	case Nak:
		return "NAK"
	case ErrTooLong:
		return "ERR_TOO_LONG"
	case ErrBadChar:
		return "ERR_BAD_CHAR"
	default:
		return "UNKNOWN"
	}
}

func isAllowedChar(ch byte) bool {
	return ch == ':' || ch == '_' || ch == '-' || ch == ' ' || (ch >= 0x20 && ch <= 0x7E)
}

// Classify классифицирует одну строку команды (без терминаторов).
// Функция чистая и не имеет побочных эффектов.
func Classify(line string, networkReady bool) Result {
	if len(line) > MaxLineLength {
		return ErrTooLong
	}
	for i := 0; i < len(line); i++ {
		if !isAllowedChar(line[i]) {
			return ErrBadChar
		}
	}
	if state, ok := strings.CutPrefix(line, "STATE:"); ok {
		state = strings.TrimLeft(state, " ")
		if state == "PAYING" {
			if networkReady {
				return Ack
			}
			return Nak
		}
	}
	return Unknown
}

// ReportKind описывает тип отчётной строки механизма выдачи.
type ReportKind int

const (
	ReportDeliveryCompleted ReportKind = iota
	ReportDeliveryFailed
	ReportOrderAck
	ReportOrderNak
	ReportVendCompleted
	ReportVendFailed
)

// Report содержит распознанную отчётную строку механизма и её детализацию.
type Report struct {
	Kind   ReportKind
	Detail string
}

var reportPrefixes = []struct {
	prefix string
	kind   ReportKind
}{
	{"DELIVERY_COMPLETED", ReportDeliveryCompleted},
	{"DELIVERY_FAILED", ReportDeliveryFailed},
	{"ORDER_ACK", ReportOrderAck},
	{"ORDER_NAK", ReportOrderNak},
	{"VEND_COMPLETED", ReportVendCompleted},
	{"VEND_FAILED", ReportVendFailed},
}

// ParseReport распознаёт отчётную строку механизма выдачи.
// Детализация отделяется двоеточием: DELIVERY_FAILED:JAM_SLOT_3.
func ParseReport(line string) (Report, bool) {
	for _, p := range reportPrefixes {
		if line == p.prefix {
			return Report{Kind: p.kind}, true
		}
		if rest, ok := strings.CutPrefix(line, p.prefix+":"); ok {
			return Report{Kind: p.kind, Detail: rest}, true
		}
	}
	return Report{}, false
}
