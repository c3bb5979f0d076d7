// internal/handler/withdrawal_handler.go
package handler

import (
	"net/http"

	"contract-service/internal/domain"
	"contract-service/internal/response"
	"contract-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type WithdrawalHandler struct {
	withdrawalUC *usecase.WithdrawalUsecase
	logger       *zap.Logger
}

func NewWithdrawalHandler(withdrawalUC *usecase.WithdrawalUsecase, logger *zap.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawalUC: withdrawalUC, logger: logger}
}

type withdrawalInfoRequest struct {
	BankName      string `json:"bank_name" validate:"required,max=120"`
	AccountName   string `json:"account_name" validate:"required,max=120"`
	AccountNumber string `json:"account_number" validate:"required,min=4,max=34"`
	BranchCode    string `json:"branch_code" validate:"max=20"`
	SwiftCode     string `json:"swift_code" validate:"omitempty,min=8,max=11,alphanum"`
}

type withdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type adminWithdrawalRequest struct {
	Status            string `json:"status" validate:"required,oneof=processing completed rejected"`
	Note              string `json:"note" validate:"max=1000"`
	ExternalReference string `json:"external_reference" validate:"max=128"`
	Reason            string `json:"reason" validate:"max=1000"`
}

// Balance handles GET /payments/balance
func (h *WithdrawalHandler) Balance(w http.ResponseWriter, r *http.Request) {
	actor, err := identity(r)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	b, err := h.withdrawalUC.GetBalance(r.Context(), actor)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, b)
}

// GetInfo handles GET /payments/withdrawal-info
func (h *WithdrawalHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	actor, err := identity(r)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	info, err := h.withdrawalUC.GetWithdrawalInfo(r.Context(), actor)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, info)
}

// UpdateInfo handles PUT /payments/withdrawal-info
func (h *WithdrawalHandler) UpdateInfo(w http.ResponseWriter, r *http.Request) {
	actor, err := identity(r)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	var req withdrawalInfoRequest
	if err := decode(r, &req, false); err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	info, err := h.withdrawalUC.UpdateWithdrawalInfo(r.Context(), domain.WithdrawalInfo{
		BankName:      req.BankName,
		AccountName:   req.AccountName,
		AccountNumber: req.AccountNumber,
		BranchCode:    req.BranchCode,
		SwiftCode:     req.SwiftCode,
	}, actor)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, info)
}

// Withdraw handles POST /payments/withdraw
func (h *WithdrawalHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	actor, err := identity(r)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	var req withdrawRequest
	if err := decode(r, &req, false); err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	wd, err := h.withdrawalUC.RequestWithdrawal(r.Context(), req.Amount, actor)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusCreated, wd)
}

func statusFilter(r *http.Request) *domain.WithdrawalStatus {
	s := r.URL.Query().Get("status")
	if s == "" {
		return nil
	}
	st := domain.WithdrawalStatus(s)
	return &st
}

// ListMine handles GET /payments/withdrawals
func (h *WithdrawalHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	actor, err := identity(r)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	limit, offset := pagination(r)
	list, err := h.withdrawalUC.ListMine(r.Context(), actor, statusFilter(r), limit, offset)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []*domain.Withdrawal{}
	}
	response.JSON(w, http.StatusOK, list)
}

// AdminList handles GET /payments/admin/withdrawals?status=&contributor_id=
func (h *WithdrawalHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	actor, err := identity(r)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	limit, offset := pagination(r)
	list, err := h.withdrawalUC.AdminList(r.Context(), domain.WithdrawalFilter{
		ContributorID: r.URL.Query().Get("contributor_id"),
		Status:        statusFilter(r),
		Limit:         limit,
		Offset:        offset,
	}, actor)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []*domain.Withdrawal{}
	}
	response.JSON(w, http.StatusOK, list)
}

// AdminProcess handles PATCH /payments/admin/withdrawals/{id}
func (h *WithdrawalHandler) AdminProcess(w http.ResponseWriter, r *http.Request) {
	actor, err := identity(r)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	var req adminWithdrawalRequest
	if err := decode(r, &req, false); err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	wd, err := h.withdrawalUC.AdminProcess(r.Context(), chi.URLParam(r, "id"), domain.WithdrawalUpdate{
		To:                domain.WithdrawalStatus(req.Status),
		Note:              req.Note,
		ExternalReference: req.ExternalReference,
		Reason:            req.Reason,
	}, actor)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, wd)
}
