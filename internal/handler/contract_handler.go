// internal/handler/contract_handler.go
package handler

import (
	"net/http"
	"time"

	"contract-service/internal/domain"
	"contract-service/internal/response"
	"contract-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ContractHandler struct {
	contractUC *usecase.ContractUsecase
	logger     *zap.Logger
}

func NewContractHandler(contractUC *usecase.ContractUsecase, logger *zap.Logger) *ContractHandler {
	return &ContractHandler{contractUC: contractUC, logger: logger}
}

type milestoneRequest struct {
	Name        string          `json:"name" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=5000"`
	Budget      decimal.Decimal `json:"budget"`
	DueDate     *time.Time      `json:"due_date"`
}

type contractRequest struct {
	ContributorID   string             `json:"contributor_id" validate:"omitempty,max=128"`
	Name            string             `json:"name" validate:"required,max=200"`
	Description     string             `json:"description" validate:"max=10000"`
	Category        string             `json:"category" validate:"max=100"`
	Type            string             `json:"type" validate:"required,oneof=fixed hourly"`
	Currency        string             `json:"currency" validate:"omitempty,len=3,alpha"`
	Budget          decimal.Decimal    `json:"budget"`
	HourlyRate      decimal.Decimal    `json:"hourly_rate"`
	WeeklyHourCap   int                `json:"weekly_hour_cap" validate:"gte=0"`
	DueDate         *time.Time         `json:"due_date"`
	PlatformFee     *decimal.Decimal   `json:"platform_fee"`
	SplitMilestones bool               `json:"split_milestones"`
	Milestones      []milestoneRequest `json:"milestones" validate:"max=100,dive"`
}

func (req *contractRequest) input() usecase.ContractInput {
	in := usecase.ContractInput{
		ContributorID:   req.ContributorID,
		Name:            req.Name,
		Description:     req.Description,
		Category:        req.Category,
		Type:            domain.ContractType(req.Type),
		Currency:        req.Currency,
		Budget:          req.Budget,
		HourlyRate:      req.HourlyRate,
		WeeklyHourCap:   req.WeeklyHourCap,
		DueDate:         req.DueDate,
		PlatformFee:     req.PlatformFee,
		SplitMilestones: req.SplitMilestones,
	}
	for _, m := range req.Milestones {
		in.Milestones = append(in.Milestones, usecase.MilestoneInput{
			Name:        m.Name,
			Description: m.Description,
			Budget:      m.Budget,
			DueDate:     m.DueDate,
		})
	}
	return in
}

type statusRequest struct {
	Status          string `json:"status" validate:"required"`
	Reason          string `json:"reason" validate:"max=1000"`
	InvitationToken string `json:"invitation_token" validate:"max=64"`
}

type milestoneStatusRequest struct {
	Status            string `json:"status" validate:"required,oneof=in-progress submitted approved rejected"`
	SubmissionDetails string `json:"submission_details" validate:"max=10000"`
	Feedback          string `json:"feedback" validate:"max=5000"`
}

// Create handles POST /contracts
func (h *ContractHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, err := identity(r)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	var req contractRequest
	if err := decode(r, &req, false); err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	c, err := h.contractUC.Create(r.Context(), req.input(), actor)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusCreated, c)
}

// List handles GET /contracts?role=&status=
func (h *ContractHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, err := identity(r)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	q := r.URL.Query()
	var status *domain.ContractStatus
	if s := q.Get("status"); s != "" {
		st := domain.ContractStatus(s)
		status = &st
	}
	limit, offset := pagination(r)
	contracts, err := h.contractUC.List(r.Context(), actor, q.Get("role"), status, limit, offset)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	if contracts == nil {
		contracts = []*domain.Contract{}
	}
	response.JSON(w, http.StatusOK, contracts)
}

func (h *ContractHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, err := identity(r)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	c, err := h.contractUC.Get(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, c)
}

func (h *ContractHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, err := identity(r)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	var req contractRequest
	if err := decode(r, &req, false); err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	c, err := h.contractUC.Update(r.Context(), chi.URLParam(r, "id"), req.input(), actor)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, c)
}

// ChangeStatus handles PATCH /contracts/{id}/status
func (h *ContractHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := identity(r)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	var req statusRequest
	if err := decode(r, &req, false); err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	c, err := h.contractUC.ChangeStatus(r.Context(), chi.URLParam(r, "id"), domain.StatusChange{
		To:              domain.ContractStatus(req.Status),
		Reason:          req.Reason,
		InvitationToken: req.InvitationToken,
	}, actor)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, c)
}

// ChangeMilestoneStatus handles PATCH /contracts/{id}/milestones/{index}/status
func (h *ContractHandler) ChangeMilestoneStatus(w http.ResponseWriter, r *http.Request) {
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
	var req milestoneStatusRequest
	if err := decode(r, &req, false); err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	c, err := h.contractUC.ChangeMilestoneStatus(r.Context(), chi.URLParam(r, "id"), idx, domain.MilestoneChange{
		To:                domain.MilestoneStatus(req.Status),
		SubmissionDetails: req.SubmissionDetails,
		Feedback:          req.Feedback,
	}, actor)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, c)
}

func (h *ContractHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, err := identity(r)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.contractUC.Delete(r.Context(), id, actor); err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"id": id, "deleted": "true"})
}

// GetInvitation handles GET /contracts/invitation/{token}; no authentication.
func (h *ContractHandler) GetInvitation(w http.ResponseWriter, r *http.Request) {
	view, err := h.contractUC.GetByInvitation(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, view)
}
