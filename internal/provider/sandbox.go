package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sandbox is an in-process gateway for local runs. The payment method id picks the result:
// pm_decline* declines, pm_retry* fails transiently, pm_async* stays pending,
// pm_timeout* hangs until the context expires; anything else succeeds.
type Sandbox struct {
	mu      sync.Mutex
	charges map[string]*ChargeResult
	calls   map[string]int
}

func NewSandbox() *Sandbox {
	return &Sandbox{charges: make(map[string]*ChargeResult), calls: make(map[string]int)}
}

func (s *Sandbox) Name() string { return "sandbox" }

func (s *Sandbox) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error) {
	s.mu.Lock()
	s.calls[req.IdempotencyKey]++
	if prior, ok := s.charges[req.IdempotencyKey]; ok {
		s.mu.Unlock()
		cp := *prior
		return &cp, nil
	}
	s.mu.Unlock()

	method := req.PaymentMethodID
	var res *ChargeResult
	switch {
	case strings.HasPrefix(method, "pm_timeout"):
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrNoResponse, ctx.Err())
		case <-time.After(time.Minute):
			return nil, fmt.Errorf("%w: sandbox hang", ErrNoResponse)
		}
	case strings.HasPrefix(method, "pm_decline"):
		res = &ChargeResult{Outcome: OutcomeFailedTerminal, Code: "card_declined", Message: "the card was declined"}
	case strings.HasPrefix(method, "pm_retry"):
		res = &ChargeResult{Outcome: OutcomeFailedRetryable, Code: "processing_error", Message: "temporary processing error"}
	case strings.HasPrefix(method, "pm_async"):
		res = &ChargeResult{Outcome: OutcomePending}
	default:
		res = &ChargeResult{Outcome: OutcomeSucceeded}
	}
	res.ChargeID = "ch_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	s.mu.Lock()
	s.charges[req.IdempotencyKey] = res
	s.mu.Unlock()
	cp := *res
	return &cp, nil
}

func (s *Sandbox) QueryCharge(_ context.Context, idempotencyKey string) (*ChargeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.charges[idempotencyKey]
	if !ok {
		return nil, ErrChargeNotFound
	}
	cp := *res
	return &cp, nil
}

// Settle resolves a pending sandbox charge, standing in for the provider's async completion.
func (s *Sandbox) Settle(idempotencyKey string, outcome Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.charges[idempotencyKey]
	if !ok || res.Outcome != OutcomePending {
		return false
	}
	res.Outcome = outcome
	return true
}

// Calls reports how many times a key was submitted.
func (s *Sandbox) Calls(idempotencyKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[idempotencyKey]
}
