package streams

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/jimdaga/docpilot/internal/notifications"
)

type markCall struct {
	id  string
	at  time.Time
	err string
}

type fakeMarker struct {
	calls []markCall
	fail  error
}

func (f *fakeMarker) MarkDelivered(_ context.Context, id string, at time.Time, deliveryErr string) error {
	f.calls = append(f.calls, markCall{id, at, deliveryErr})
	return f.fail
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecodeReceipt(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]interface{}
		wantErr bool
	}{
		{name: "delivered", values: map[string]interface{}{"payload": `{"delivery_id":"1-0","status":"delivered"}`}},
		{name: "failed", values: map[string]interface{}{"payload": `{"delivery_id":"1-0","status":"failed","error":"bounced"}`}},
		{name: "no payload", values: map[string]interface{}{}, wantErr: true},
		{name: "not json", values: map[string]interface{}{"payload": "nope"}, wantErr: true},
		{name: "no id", values: map[string]interface{}{"payload": `{"status":"delivered"}`}, wantErr: true},
		{name: "unknown status", values: map[string]interface{}{"payload": `{"delivery_id":"1-0","status":"lost"}`}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeReceipt(tt.values)
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestHandleReceipt(t *testing.T) {
	marker := &fakeMarker{}
	handle := HandleReceipt(marker, discard())
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := handle(context.Background(), DigestReceipt{DeliveryID: "1-0", Status: ReceiptDelivered, DeliveredAt: at}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := handle(context.Background(), DigestReceipt{DeliveryID: "2-0", Status: ReceiptFailed}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(marker.calls) != 2 {
		t.Fatalf("expected 2 marks, got %d", len(marker.calls))
	}
	if !marker.calls[0].at.Equal(at) || marker.calls[0].err != "" {
		t.Errorf("unexpected delivered mark: %+v", marker.calls[0])
	}
	if marker.calls[1].err != "delivery failed" || marker.calls[1].at.IsZero() {
		t.Errorf("unexpected failed mark: %+v", marker.calls[1])
	}

	marker.fail = errors.New("no digest")
	if err := handle(context.Background(), DigestReceipt{DeliveryID: "3-0", Status: ReceiptDelivered}); err == nil {
		t.Error("expected marker error to be returned so the message is not acked")
	}
}

func TestDigestValues(t *testing.T) {
	d := notifications.Digest{
		Recipient: notifications.Recipient{UserID: 1, Email: "dev@docpilot.local"},
		Subject:   "Docs: 1 completed",
		BatchKey:  "abc",
	}
	values, err := digestValues(d, time.Unix(100, 0))
	if err != nil {
		t.Fatalf("digestValues: %v", err)
	}
	if values["recipient"] != "dev@docpilot.local" || values["batch_key"] != "abc" || values["schema_version"] != SchemaVersionV1 {
		t.Errorf("unexpected values: %v", values)
	}

	var decoded notifications.Digest
	if err := json.Unmarshal([]byte(values["payload"].(string)), &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.Subject != d.Subject {
		t.Errorf("unexpected payload subject %q", decoded.Subject)
	}
}
