package http

import (
	"log/slog"
	"net/http"

	"github.com/buja23/OpiticaPruden/pkg/httputil"
	"github.com/buja23/OpiticaPruden/pkg/middleware"
	"github.com/buja23/OpiticaPruden/pkg/validator"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/service"
)

// CheckoutHandler handles HTTP requests for checkout endpoints.
type CheckoutHandler struct {
	service *service.CheckoutService
	logger  *slog.Logger
}

// NewCheckoutHandler creates a new checkout HTTP handler.
func NewCheckoutHandler(svc *service.CheckoutService, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service: svc,
		logger:  logger,
	}
}

// preferenceResponse repeats init_point at the top level, where the
// storefront reads it to redirect the buyer.
type preferenceResponse struct {
	Data      *service.CheckoutResult `json:"data"`
	InitPoint string                  `json:"init_point"`
}

// CreatePreference handles POST /api/v1/checkout/preference
func (h *CheckoutHandler) CreatePreference(w http.ResponseWriter, r *http.Request) {
	var req service.CreatePreferenceInput
	if err := httputil.DecodeJSON(w, r, &req, false); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	res, err := h.service.CreatePreference(r.Context(), middleware.UserIDFromContext(r.Context()), &req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, preferenceResponse{Data: res, InitPoint: res.InitPoint})
}
