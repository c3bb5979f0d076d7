package paygate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"contract-service/config"
	"contract-service/internal/provider"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(config.GatewayConfig{BaseURL: srv.URL, APIKey: "k", APISecret: "s", Timeout: time.Second}, zap.NewNop())
}

func chargeReq() *provider.ChargeRequest {
	return &provider.ChargeRequest{
		IdempotencyKey:  "pay_123",
		Amount:          decimal.RequireFromString("90"),
		Currency:        "usd",
		PaymentMethodID: "pm_card",
	}
}

func TestChargeOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		want    provider.Outcome
		wantErr error
	}{
		{"succeeded", 200, `{"id":"ch_1","status":"succeeded"}`, provider.OutcomeSucceeded, nil},
		{"pending", 202, `{"id":"ch_1","status":"pending"}`, provider.OutcomePending, nil},
		{"declined", 402, `{"error":{"code":"card_declined","message":"declined"}}`, provider.OutcomeFailedTerminal, nil},
		{"transient code", 402, `{"error":{"code":"issuer_unavailable"}}`, provider.OutcomeFailedRetryable, nil},
		{"failed body retryable", 200, `{"id":"ch_1","status":"failed","failure_code":"processing_error"}`, provider.OutcomeFailedRetryable, nil},
		{"rate limited", 429, `{}`, provider.OutcomeFailedRetryable, nil},
		{"server error", 503, `oops`, "", provider.ErrNoResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Idempotency-Key") != "pay_123" {
					t.Errorf("missing idempotency key header")
				}
				if user, _, ok := r.BasicAuth(); !ok || user != "k" {
					t.Errorf("missing basic auth")
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			res, err := c.Charge(context.Background(), chargeReq())
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("charge: %v", err)
			}
			if res.Outcome != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, res.Outcome)
			}
		})
	}
}

func TestChargeTimeoutIsNoResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Charge(ctx, chargeReq()); !errors.Is(err, provider.ErrNoResponse) {
		t.Fatalf("expected ErrNoResponse on timeout, got %v", err)
	}
}

func TestQueryChargeNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/charges/by-reference/pay_123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
	})
	if _, err := c.QueryCharge(context.Background(), "pay_123"); !errors.Is(err, provider.ErrChargeNotFound) {
		t.Fatalf("expected ErrChargeNotFound, got %v", err)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"type":"charge.succeeded","data":{"id":"ch_1","reference":"pay_1","status":"succeeded"}}`)
	now := time.Unix(1_700_000_000, 0)
	sig := Sign(body, now.Unix(), "whsec")

	if err := VerifySignature(body, "1700000000", sig, "whsec", 5*time.Minute, now); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := VerifySignature(body, "1700000000", sig, "other", 5*time.Minute, now); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected bad signature, got %v", err)
	}
	if err := VerifySignature(body, "1700000000", sig, "whsec", time.Minute, now.Add(10*time.Minute)); !errors.Is(err, ErrStaleCallback) {
		t.Fatalf("expected stale callback, got %v", err)
	}

	cb, err := ParseCallback(body)
	if err != nil {
		t.Fatalf("parse callback: %v", err)
	}
	if cb.IdempotencyKey != "pay_1" || cb.Outcome != provider.OutcomeSucceeded {
		t.Fatalf("unexpected callback %+v", cb)
	}
}
