// internal/handler/callback_handler.go
package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"contract-service/internal/domain"
	"contract-service/internal/provider/paygate"
	"contract-service/internal/response"
	"contract-service/internal/usecase"

	"go.uber.org/zap"
)

type CallbackHandler struct {
	paymentUC *usecase.PaymentUsecase
	secret    string
	tolerance time.Duration
	logger    *zap.Logger
}

func NewCallbackHandler(paymentUC *usecase.PaymentUsecase, secret string, tolerance time.Duration, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		paymentUC: paymentUC,
		secret:    secret,
		tolerance: tolerance,
		logger:    logger,
	}
}

// HandleGatewayCallback handles POST /payments/callbacks/gateway.
// The callback is applied synchronously so the provider redelivers when it fails.
func (h *CallbackHandler) HandleGatewayCallback(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error("failed to read callback payload", zap.Error(err))
		response.Error(w, http.StatusBadRequest, response.CodeValidation, "failed to read payload", nil)
		return
	}

	if h.secret == "" {
		h.logger.Warn("gateway callback rejected: no webhook secret configured")
		response.Error(w, http.StatusUnauthorized, response.CodeUnauthenticated, "callbacks are not enabled", nil)
		return
	}
	if err := paygate.VerifySignature(payload, r.Header.Get("X-Timestamp"), r.Header.Get("X-Signature"), h.secret, h.tolerance, time.Now()); err != nil {
		h.logger.Warn("gateway callback signature rejected",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		response.Error(w, http.StatusUnauthorized, response.CodeUnauthenticated, "invalid signature", nil)
		return
	}

	cb, err := paygate.ParseCallback(payload)
	if errors.Is(err, paygate.ErrUnknownEvent) {
		h.logger.Debug("ignoring gateway callback", zap.Error(err))
		response.JSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeValidation, err.Error(), nil)
		return
	}

	p, err := h.paymentUC.HandleGatewayCallback(r.Context(), cb)
	if errors.Is(err, domain.ErrNotFound) {
		// Not ours; acknowledge so the provider stops redelivering.
		h.logger.Warn("gateway callback for unknown payment",
			zap.String("reference", cb.IdempotencyKey),
			zap.String("charge_id", cb.ChargeID))
		response.JSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}

	h.logger.Info("gateway callback applied",
		zap.String("payment_id", p.ID),
		zap.String("status", string(p.Status)))
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"received":   true,
		"payment_id": p.ID,
		"status":     p.Status,
	})
}
