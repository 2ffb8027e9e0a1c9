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

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/fastingvibe/api/internal/payment/domain"
)

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"payment_intent.succeeded","data":{"object":{}}}`)
	timestamp := time.Now().Unix()

	header := buildStripeSignatureHeader(secret, payload, timestamp)
	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", header)

	adapter := &Adapter{webhookSecret: []byte(secret)}
	if err := adapter.Verify(context.Background(), payload, reqHeader); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader("wrong", payload, timestamp))
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature error, got %v", err)
	}

	reqHeader.Del("Stripe-Signature")
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature error for missing header, got %v", err)
	}
}

func TestVerifySignatureMultipleCandidates(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_multi"}`)
	timestamp := time.Now().Unix()

	good := buildStripeSignatureHeader(secret, payload, timestamp)
	header := fmt.Sprintf("t=%d,v1=deadbeef,%s", timestamp, good[len(fmt.Sprintf("t=%d,", timestamp)):])

	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", header)

	adapter := &Adapter{webhookSecret: []byte(secret)}
	if err := adapter.Verify(context.Background(), payload, reqHeader); err != nil {
		t.Fatalf("expected one matching candidate to pass, got %v", err)
	}
}

func TestParseEvent(t *testing.T) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	userID := node.Generate().String()
	planID := node.Generate().String()
	created := time.Now().UTC().Unix()
	periodEnd := time.Now().UTC().Add(30 * 24 * time.Hour).Unix()

	metadata := map[string]any{
		"fv_version": "1",
		"user_id":    userID,
		"device_id":  "device-abc",
		"plan_id":    planID,
		"product_id": "prod_fasting_monthly",
	}

	tests := []struct {
		name     string
		event    any
		wantKind paymentdomain.EventKind
		wantRef  string
		amount   int64
	}{{
		name: "payment_intent.succeeded",
		event: map[string]any{
			"id":      "evt_pi",
			"type":    "payment_intent.succeeded",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":                   "pi_1",
					"amount":               2500,
					"currency":             "usd",
					"payment_method_types": []string{"card"},
					"metadata":             metadata,
				},
			},
		},
		wantKind: paymentdomain.EventPaymentSucceeded,
		wantRef:  "pi_1",
		amount:   2500,
	}, {
		name: "payment_intent.payment_failed",
		event: map[string]any{
			"id":      "evt_fail",
			"type":    "payment_intent.payment_failed",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":       "pi_2",
					"amount":   2500,
					"currency": "usd",
					"metadata": metadata,
				},
			},
		},
		wantKind: paymentdomain.EventPaymentFailed,
		wantRef:  "pi_2",
		amount:   2500,
	}, {
		name: "checkout.session.completed",
		event: map[string]any{
			"id":      "evt_cs",
			"type":    "checkout.session.completed",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":             "cs_1",
					"payment_intent": "pi_3",
					"amount_total":   4900,
					"currency":       "usd",
					"metadata":       metadata,
				},
			},
		},
		wantKind: paymentdomain.EventPaymentSucceeded,
		wantRef:  "pi_3",
		amount:   4900,
	}, {
		name: "invoice.paid",
		event: map[string]any{
			"id":      "evt_inv",
			"type":    "invoice.paid",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":           "in_1",
					"subscription": "sub_1",
					"amount_paid":  2500,
					"currency":     "usd",
					"lines": map[string]any{
						"data": []map[string]any{{
							"period": map[string]any{"end": periodEnd},
						}},
					},
					"subscription_details": map[string]any{"metadata": metadata},
				},
			},
		},
		wantKind: paymentdomain.EventInvoicePaid,
		wantRef:  "sub_1",
		amount:   2500,
	}}

	adapter := &Adapter{webhookSecret: []byte("whsec_test")}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("marshal payload: %v", err)
			}
			event, err := adapter.Parse(context.Background(), payload)
			if err != nil {
				t.Fatalf("parse event: %v", err)
			}
			if event.Kind != tt.wantKind {
				t.Fatalf("expected kind %s, got %s", tt.wantKind, event.Kind)
			}
			if event.TransactionRef != tt.wantRef {
				t.Fatalf("expected transaction ref %s, got %s", tt.wantRef, event.TransactionRef)
			}
			if event.Amount != tt.amount {
				t.Fatalf("expected amount %d, got %d", tt.amount, event.Amount)
			}
			if event.Currency != "USD" {
				t.Fatalf("expected currency USD, got %s", event.Currency)
			}
			if event.UserID == nil || event.UserID.String() != userID {
				t.Fatalf("expected user id %s, got %v", userID, event.UserID)
			}
			if event.DeviceID != "device-abc" {
				t.Fatalf("expected device id device-abc, got %s", event.DeviceID)
			}
			if event.PlanID == nil || event.PlanID.String() != planID {
				t.Fatalf("expected plan id %s, got %v", planID, event.PlanID)
			}
		})
	}
}

func TestParseInvoicePeriodEnd(t *testing.T) {
	end := time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC).Unix()
	payload, _ := json.Marshal(map[string]any{
		"id":      "evt_inv2",
		"type":    "invoice.paid",
		"created": time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":           "in_2",
				"subscription": "sub_2",
				"amount_paid":  2500,
				"currency":     "usd",
				"lines": map[string]any{
					"data": []map[string]any{{
						"period": map[string]any{"end": end},
					}},
				},
			},
		},
	})

	adapter := &Adapter{webhookSecret: []byte("whsec_test")}
	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if event.PeriodEnd == nil || !event.PeriodEnd.Equal(time.Unix(end, 0).UTC()) {
		t.Fatalf("expected period end %d, got %v", end, event.PeriodEnd)
	}
}

func TestParseSubscriptionEvents(t *testing.T) {
	adapter := &Adapter{webhookSecret: []byte("whsec_test")}

	payload, _ := json.Marshal(map[string]any{
		"id":      "evt_sub",
		"type":    "customer.subscription.updated",
		"created": time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":       "sub_9",
				"status":   "past_due",
				"currency": "usd",
			},
		},
	})
	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if event.Kind != paymentdomain.EventSubscriptionUpdated {
		t.Fatalf("expected subscription updated, got %s", event.Kind)
	}
	if event.RemoteStatus != "past_due" {
		t.Fatalf("expected remote status past_due, got %s", event.RemoteStatus)
	}

	payload, _ = json.Marshal(map[string]any{
		"id":      "evt_sub_del",
		"type":    "customer.subscription.deleted",
		"created": time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":     "sub_9",
				"status": "canceled",
			},
		},
	})
	event, err = adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if event.Kind != paymentdomain.EventSubscriptionDeleted {
		t.Fatalf("expected subscription deleted, got %s", event.Kind)
	}
}

func TestParseIgnoredAndInvalid(t *testing.T) {
	adapter := &Adapter{webhookSecret: []byte("whsec_test")}

	payload, _ := json.Marshal(map[string]any{
		"id":      "evt_other",
		"type":    "customer.created",
		"created": time.Now().Unix(),
		"data":    map[string]any{"object": map[string]any{"id": "cus_1"}},
	})
	if _, err := adapter.Parse(context.Background(), payload); !errors.Is(err, paymentdomain.ErrEventIgnored) {
		t.Fatalf("expected ignored event error, got %v", err)
	}

	if _, err := adapter.Parse(context.Background(), []byte("not-json")); !errors.Is(err, paymentdomain.ErrInvalidPayload) {
		t.Fatalf("expected invalid payload error, got %v", err)
	}

	payload, _ = json.Marshal(map[string]any{
		"id":      "evt_badmeta",
		"type":    "payment_intent.succeeded",
		"created": time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":       "pi_bad",
				"amount":   2500,
				"currency": "usd",
				"metadata": map[string]any{"fv_version": "1", "user_id": "not-a-snowflake"},
			},
		},
	})
	if _, err := adapter.Parse(context.Background(), payload); !errors.Is(err, paymentdomain.ErrInvalidMetadata) {
		t.Fatalf("expected invalid metadata error, got %v", err)
	}
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}
