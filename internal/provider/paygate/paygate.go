// internal/provider/paygate/paygate.go
package paygate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"contract-service/config"
	"contract-service/internal/provider"

	"go.uber.org/zap"
)

// Client talks to the PayGate card-charging REST API.
type Client struct {
	config     config.GatewayConfig
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func New(cfg config.GatewayConfig, logger *zap.Logger) *Client {
	return &Client{
		config:  cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		// The orchestrator bounds every call with its own deadline; this is a backstop.
		httpClient: &http.Client{Timeout: cfg.Timeout + 5*time.Second},
		logger:     logger,
	}
}

func (c *Client) Name() string { return "paygate" }

type chargeBody struct {
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
	PaymentMethod string            `json:"payment_method"`
	Reference     string            `json:"reference"`
	Description   string            `json:"description,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type chargeResponse struct {
	ID             string `json:"id"`
	Reference      string `json:"reference"`
	Status         string `json:"status"`
	FailureCode    string `json:"failure_code"`
	FailureMessage string `json:"failure_message"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) Charge(ctx context.Context, req *provider.ChargeRequest) (*provider.ChargeResult, error) {
	body := chargeBody{
		Amount:        req.Amount.StringFixed(2),
		Currency:      strings.ToUpper(req.Currency),
		PaymentMethod: req.PaymentMethodID,
		Reference:     req.IdempotencyKey,
		Description:   req.Description,
		Metadata:      req.Metadata,
	}

	status, raw, err := c.makeRequest(ctx, http.MethodPost, c.baseURL+"/v1/charges", req.IdempotencyKey, body)
	if err != nil {
		c.logger.Warn("paygate charge got no response",
			zap.String("reference", req.IdempotencyKey),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", provider.ErrNoResponse, err)
	}
	return c.interpret(status, raw, req.IdempotencyKey)
}

func (c *Client) QueryCharge(ctx context.Context, idempotencyKey string) (*provider.ChargeResult, error) {
	endpoint := c.baseURL + "/v1/charges/by-reference/" + url.PathEscape(idempotencyKey)
	status, raw, err := c.makeRequest(ctx, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrNoResponse, err)
	}
	if status == http.StatusNotFound {
		return nil, provider.ErrChargeNotFound
	}
	return c.interpret(status, raw, idempotencyKey)
}

// interpret maps an HTTP answer onto a ChargeResult. 5xx answers are not definitive:
// the charge may have been captured, so they surface as ErrNoResponse.
func (c *Client) interpret(status int, raw []byte, reference string) (*provider.ChargeResult, error) {
	switch {
	case status >= 500:
		return nil, fmt.Errorf("%w: gateway returned %d", provider.ErrNoResponse, status)
	case status == http.StatusTooManyRequests:
		return &provider.ChargeResult{Outcome: provider.OutcomeFailedRetryable, Code: "rate_limited", Message: "gateway rate limit"}, nil
	case status >= 400:
		var e errorResponse
		_ = json.Unmarshal(raw, &e)
		code := e.Error.Code
		if code == "" {
			code = fmt.Sprintf("http_%d", status)
		}
		outcome := provider.OutcomeFailedTerminal
		if retryableCodes[code] {
			outcome = provider.OutcomeFailedRetryable
		}
		c.logger.Info("paygate rejected charge",
			zap.String("reference", reference),
			zap.Int("status_code", status),
			zap.String("code", code))
		return &provider.ChargeResult{Outcome: outcome, Code: code, Message: e.Error.Message}, nil
	}

	var resp chargeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: unreadable gateway response: %v", provider.ErrNoResponse, err)
	}
	return &provider.ChargeResult{
		Outcome:  Normalize(resp.Status, resp.FailureCode),
		ChargeID: resp.ID,
		Code:     resp.FailureCode,
		Message:  resp.FailureMessage,
	}, nil
}

// Failure codes the gateway documents as safe to retry with the same payment method.
var retryableCodes = map[string]bool{
	"processing_error":   true,
	"try_again_later":    true,
	"issuer_unavailable": true,
	"rate_limited":       true,
	"network_error":      true,
}

// Normalize maps a gateway charge status and failure code to an Outcome.
func Normalize(status, failureCode string) provider.Outcome {
	switch strings.ToLower(status) {
	case "succeeded", "captured", "paid":
		return provider.OutcomeSucceeded
	case "pending", "processing", "requires_action":
		return provider.OutcomePending
	case "failed", "declined", "canceled":
		if retryableCodes[failureCode] {
			return provider.OutcomeFailedRetryable
		}
		return provider.OutcomeFailedTerminal
	}
	return provider.OutcomePending
}

func (c *Client) makeRequest(ctx context.Context, method, endpoint, idempotencyKey string, payload interface{}) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.config.APIKey, c.config.APISecret)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, raw, nil
}

type callbackBody struct {
	Type string         `json:"type"`
	Data chargeResponse `json:"data"`
}

var ErrUnknownEvent = errors.New("unsupported callback event")

// ParseCallback decodes a charge.* webhook body. The signature must be verified first.
func ParseCallback(payload []byte) (*provider.CallbackResult, error) {
	var cb callbackBody
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, fmt.Errorf("failed to parse callback: %w", err)
	}
	if !strings.HasPrefix(cb.Type, "charge.") {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, cb.Type)
	}
	if cb.Data.Reference == "" {
		return nil, errors.New("callback carries no charge reference")
	}
	return &provider.CallbackResult{
		IdempotencyKey: cb.Data.Reference,
		ChargeID:       cb.Data.ID,
		Outcome:        Normalize(cb.Data.Status, cb.Data.FailureCode),
		Code:           cb.Data.FailureCode,
		Message:        cb.Data.FailureMessage,
	}, nil
}
