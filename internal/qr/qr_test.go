package qr

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/vending-controller/internal/bus"
)

func TestRunPublishesTokens(t *testing.T) {
	input := "tok1\r\n\r\n  tok2  \ntok3\n"
	b := bus.New(10)
	svc := NewService(strings.NewReader(input), b, zap.NewNop())

	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	want := []string{"tok1", "tok2", "tok3"}
	for _, w := range want {
		evt, ok := b.Receive(time.Second)
		if !ok {
			t.Fatalf("missing event for %q", w)
		}
		if evt.Type != bus.EventQRToken {
			t.Fatalf("event type = %v, want EventQRToken", evt.Type)
		}
		if evt.Payload != w {
			t.Fatalf("payload = %q, want %q", evt.Payload, w)
		}
	}

	if _, ok := b.Receive(50 * time.Millisecond); ok {
		t.Fatalf("blank lines must not produce events")
	}
}

func TestRunSurvivesOversizedLine(t *testing.T) {
	// Мусор без перевода строки длиннее любого внутреннего буфера
	// не должен останавливать чтение последующих токенов.
	input := strings.Repeat("X", 5000) + "\ntok_after\n"
	b := bus.New(10)
	svc := NewService(strings.NewReader(input), b, zap.NewNop())

	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	evt, ok := b.Receive(time.Second)
	if !ok {
		t.Fatalf("missing event for oversized line")
	}
	if len(evt.Payload) != MaxTokenLength {
		t.Fatalf("token length = %d, want %d", len(evt.Payload), MaxTokenLength)
	}

	evt, ok = b.Receive(time.Second)
	if !ok {
		t.Fatalf("token after oversized line was not published")
	}
	if evt.Payload != "tok_after" {
		t.Fatalf("payload = %q, want %q", evt.Payload, "tok_after")
	}
}

func TestRunTruncatesLongToken(t *testing.T) {
	long := strings.Repeat("x", MaxTokenLength+100)
	b := bus.New(10)
	svc := NewService(strings.NewReader(long+"\n"), b, zap.NewNop())

	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	evt, ok := b.Receive(time.Second)
	if !ok {
		t.Fatalf("missing event")
	}
	if len(evt.Payload) != MaxTokenLength {
		t.Fatalf("token length = %d, want %d", len(evt.Payload), MaxTokenLength)
	}
}
