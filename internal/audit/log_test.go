package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"modmarket.org/internal/auth"
)

func TestLogIncludesContext(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = auth.ContextWithPrincipal(ctx, auth.Principal{UserID: 7, Login: "admin", Role: "admin"})

	Log(ctx, log, "ledger.deposit", map[string]any{"amount": int64(500)})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode audit entry: %v", err)
	}
	if entry["type"] != "audit" || entry["event"] != "ledger.deposit" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("request id missing: %v", entry)
	}
	if entry["actor"] != "admin" || entry["actor_id"].(float64) != 7 {
		t.Fatalf("principal missing: %v", entry)
	}
	if entry["amount"].(float64) != 500 {
		t.Fatalf("fields missing: %v", entry)
	}
}

func TestLogDropsBlankEvent(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	Log(context.Background(), log, "  ", nil)
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %s", buf.String())
	}
}
