package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	providerdomain "github.com/smallbiznis/memberly/internal/provider/domain"
	webhookdomain "github.com/smallbiznis/memberly/internal/webhook/domain"
)

func buildSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signed := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signed))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"customer.subscription.updated","data":{"object":{}}}`)
	timestamp := time.Now().Unix()

	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", buildSignatureHeader(secret, payload, timestamp))

	adapter := NewAdapter(secret)
	if err := adapter.Verify(context.Background(), payload, reqHeader); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	reqHeader.Set("Stripe-Signature", buildSignatureHeader("wrong", payload, timestamp))
	if !errors.Is(adapter.Verify(context.Background(), payload, reqHeader), webhookdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature error")
	}

	reqHeader.Del("Stripe-Signature")
	if !errors.Is(adapter.Verify(context.Background(), payload, reqHeader), webhookdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature error for missing header")
	}
}

func TestParseSubscriptionEvent(t *testing.T) {
	created := time.Now().UTC().Unix()
	periodEnd := time.Now().UTC().AddDate(0, 1, 0).Unix()

	payload, err := json.Marshal(map[string]any{
		"id":      "evt_sub",
		"type":    "customer.subscription.updated",
		"created": created,
		"data": map[string]any{
			"object": map[string]any{
				"id":                   "sub_1",
				"customer":             "cus_1",
				"status":               "active",
				"cancel_at_period_end": true,
				"current_period_end":   periodEnd,
				"start_date":           created,
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	adapter := NewAdapter("whsec_test")
	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != webhookdomain.EventTypeSubscriptionUpdated {
		t.Fatalf("unexpected event type %q", event.Type)
	}
	if event.SubscriptionRef != "sub_1" {
		t.Fatalf("unexpected subscription ref %q", event.SubscriptionRef)
	}
	if !event.Remote.CancelAtPeriodEnd {
		t.Fatalf("expected cancel_at_period_end carried over")
	}
	if got := event.Remote.CurrentPeriodEnd.Unix(); got != periodEnd {
		t.Fatalf("unexpected period end %d, want %d", got, periodEnd)
	}
}

func TestParseDeletedMapsCanceled(t *testing.T) {
	payload := []byte(`{"id":"evt_del","type":"customer.subscription.deleted","created":1700000000,"data":{"object":{"id":"sub_1","customer":"cus_1","status":"active"}}}`)

	adapter := NewAdapter("whsec_test")
	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != webhookdomain.EventTypeSubscriptionDeleted {
		t.Fatalf("unexpected event type %q", event.Type)
	}
	if event.Remote.Status != providerdomain.SubscriptionCanceled {
		t.Fatalf("deleted event should force canceled status, got %q", event.Remote.Status)
	}
}

func TestParsePauseCollection(t *testing.T) {
	payload := []byte(`{"id":"evt_pause","type":"customer.subscription.updated","created":1700000000,"data":{"object":{"id":"sub_1","customer":"cus_1","status":"active","pause_collection":{"behavior":"void","resumes_at":1702000000}}}}`)

	adapter := NewAdapter("whsec_test")
	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Remote.Status != providerdomain.SubscriptionPaused {
		t.Fatalf("expected paused status, got %q", event.Remote.Status)
	}
	if event.Remote.PauseEndAt == nil || event.Remote.PauseEndAt.Unix() != 1702000000 {
		t.Fatalf("expected pause end from resumes_at")
	}
}

func TestParseInvoiceEvents(t *testing.T) {
	failed := []byte(`{"id":"evt_inv","type":"invoice.payment_failed","created":1700000000,"data":{"object":{"id":"in_1","customer":"cus_1","subscription":"sub_1"}}}`)

	adapter := NewAdapter("whsec_test")
	event, err := adapter.Parse(context.Background(), failed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != webhookdomain.EventTypePaymentFailed {
		t.Fatalf("unexpected event type %q", event.Type)
	}
	if event.SubscriptionRef != "sub_1" {
		t.Fatalf("unexpected subscription ref %q", event.SubscriptionRef)
	}

	detached := []byte(`{"id":"evt_inv2","type":"invoice.paid","created":1700000000,"data":{"object":{"id":"in_2","customer":"cus_1"}}}`)
	if _, err := adapter.Parse(context.Background(), detached); !errors.Is(err, webhookdomain.ErrEventIgnored) {
		t.Fatalf("expected detached invoice to be ignored, got %v", err)
	}
}

func TestParseIgnoresUnknownTypes(t *testing.T) {
	payload := []byte(`{"id":"evt_x","type":"checkout.session.completed","data":{"object":{}}}`)

	adapter := NewAdapter("whsec_test")
	if _, err := adapter.Parse(context.Background(), payload); !errors.Is(err, webhookdomain.ErrEventIgnored) {
		t.Fatalf("expected ignored event, got %v", err)
	}
}
