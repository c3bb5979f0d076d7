// internal/handler/payment_handler.go
package handler

import (
	"net/http"

	"contract-service/internal/domain"
	"contract-service/internal/response"
	"contract-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	paymentUC *usecase.PaymentUsecase
	logger    *zap.Logger
}

func NewPaymentHandler(paymentUC *usecase.PaymentUsecase, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{paymentUC: paymentUC, logger: logger}
}

type payRequest struct {
	PaymentMethodID string `json:"payment_method_id" validate:"required,max=128"`
}

type retryRequest struct {
	PaymentMethodID string `json:"payment_method_id" validate:"omitempty,max=128"`
}

// Pay handles POST /payments/milestones/{contractId}/{index}/pay
func (h *PaymentHandler) Pay(w http.ResponseWriter, r *http.Request) {
	actor, err := identity(r)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	idx, err := milestoneIndex(r)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	var req payRequest
	if err := decode(r, &req, false); err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	p, err := h.paymentUC.PayMilestone(r.Context(), chi.URLParam(r, "contractId"), idx, req.PaymentMethodID, actor)
	h.respond(w, p, err)
}

// Retry handles POST /payments/milestones/{contractId}/{index}/retry. The body is optional.
func (h *PaymentHandler) Retry(w http.ResponseWriter, r *http.Request) {
	actor, err := identity(r)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	idx, err := milestoneIndex(r)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	var req retryRequest
	if err := decode(r, &req, true); err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	p, err := h.paymentUC.RetryMilestonePayment(r.Context(), chi.URLParam(r, "contractId"), idx, req.PaymentMethodID, actor)
	h.respond(w, p, err)
}

func (h *PaymentHandler) respond(w http.ResponseWriter, p *domain.Payment, err error) {
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	if p.Status == domain.PaymentStatusProcessing {
		// Accepted by the gateway, settled later by callback or reconciliation.
		response.JSON(w, http.StatusAccepted, p)
		return
	}
	response.JSON(w, http.StatusOK, p)
}

// Status handles GET /payments/milestones/{contractId}/{index}/status
func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	actor, err := identity(r)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	idx, err := milestoneIndex(r)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	view, err := h.paymentUC.GetMilestonePaymentStatus(r.Context(), chi.URLParam(r, "contractId"), idx, actor)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, view)
}
