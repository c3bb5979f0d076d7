package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"contract-service/internal/domain"

	"go.uber.org/zap"
)

const (
	CodeValidation              = "VALIDATION_ERROR"
	CodeInvalidTransition       = "INVALID_TRANSITION"
	CodeUnauthenticated         = "UNAUTHENTICATED"
	CodeForbidden               = "FORBIDDEN"
	CodeNotFound                = "NOT_FOUND"
	CodeNotDraft                = "CONTRACT_NOT_DRAFT"
	CodeAlreadyPaid             = "ALREADY_PAID"
	CodePaymentInProgress       = "PAYMENT_IN_PROGRESS"
	CodePaymentFailed           = "PAYMENT_FAILED"
	CodeInsufficientBalance     = "INSUFFICIENT_BALANCE"
	CodePendingWithdrawalExists = "PENDING_WITHDRAWAL_EXISTS"
	CodeAlreadyProcessed        = "ALREADY_PROCESSED"
	CodeConcurrentModification  = "CONCURRENT_MODIFICATION"
	CodeRateLimited             = "RATE_LIMITED"
	CodeInternal                = "INTERNAL_ERROR"
)

type ErrorBody struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
	Details   interface{} `json:"details,omitempty"`
}

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func Error(w http.ResponseWriter, status int, code, msg string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error: &ErrorBody{
			Code:      code,
			Message:   msg,
			Timestamp: time.Now().UTC(),
			Details:   details,
		},
	})
}

// FromError writes the client-facing form of err. Anything unrecognised is logged and
// collapsed into a generic internal error.
func FromError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		perr *domain.PaymentFailedError
		verr *domain.ValidationError
		terr *domain.TransitionError
	)
	switch {
	case errors.As(err, &perr):
		Error(w, http.StatusInternalServerError, CodePaymentFailed, perr.Reason, map[string]interface{}{
			"payment_id": perr.PaymentID,
			"retryable":  perr.Retryable,
		})
	case errors.As(err, &verr):
		Error(w, http.StatusBadRequest, CodeValidation, verr.Error(), map[string]string{"field": verr.Field})
	case errors.As(err, &terr):
		Error(w, http.StatusBadRequest, CodeInvalidTransition, terr.Error(), map[string]string{"from": terr.From, "to": terr.To})
	case errors.Is(err, domain.ErrInvalidTransition):
		Error(w, http.StatusBadRequest, CodeInvalidTransition, err.Error(), nil)
	case errors.Is(err, domain.ErrValidation):
		Error(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
	case errors.Is(err, domain.ErrUnauthorized):
		Error(w, http.StatusUnauthorized, CodeUnauthenticated, "authentication required", nil)
	case errors.Is(err, domain.ErrForbidden):
		Error(w, http.StatusForbidden, CodeForbidden, err.Error(), nil)
	case errors.Is(err, domain.ErrNotFound):
		Error(w, http.StatusNotFound, CodeNotFound, "resource not found", nil)
	case errors.Is(err, domain.ErrNotDraft):
		Error(w, http.StatusConflict, CodeNotDraft, err.Error(), nil)
	case errors.Is(err, domain.ErrAlreadyPaid):
		Error(w, http.StatusConflict, CodeAlreadyPaid, "milestone is already paid", nil)
	case errors.Is(err, domain.ErrPaymentInProgress):
		Error(w, http.StatusConflict, CodePaymentInProgress, "a payment for this milestone is already in progress", nil)
	case errors.Is(err, domain.ErrInsufficientBalance):
		Error(w, http.StatusBadRequest, CodeInsufficientBalance, "insufficient available balance", nil)
	case errors.Is(err, domain.ErrPendingWithdrawalExists):
		Error(w, http.StatusConflict, CodePendingWithdrawalExists, "a withdrawal is already pending", nil)
	case errors.Is(err, domain.ErrAlreadyProcessed):
		Error(w, http.StatusConflict, CodeAlreadyProcessed, err.Error(), nil)
	case errors.Is(err, domain.ErrConcurrentModification):
		Error(w, http.StatusConflict, CodeConcurrentModification, "the resource was modified concurrently; reload and retry", nil)
	default:
		if logger != nil {
			logger.Error("internal error", zap.Error(err))
		}
		Error(w, http.StatusInternalServerError, CodeInternal, "internal server error", nil)
	}
}
