package http

import (
	"log/slog"
	"net/http"

	"github.com/buja23/OpiticaPruden/pkg/httputil"
	"github.com/buja23/OpiticaPruden/pkg/validator"
	mockgateway "github.com/buja23/OpiticaPruden/services/checkout/internal/gateway/mock"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/service"
)

// DevPaymentHandler settles payments on the in-memory gateway and feeds them
// through reconciliation, the way a gateway notification would. It is only
// mounted when the mock gateway is active.
type DevPaymentHandler struct {
	gateway   *mockgateway.Gateway
	reconcile *service.ReconcileService
	logger    *slog.Logger
}

// NewDevPaymentHandler creates a new dev payment handler.
func NewDevPaymentHandler(gw *mockgateway.Gateway, reconcile *service.ReconcileService, logger *slog.Logger) *DevPaymentHandler {
	return &DevPaymentHandler{gateway: gw, reconcile: reconcile, logger: logger}
}

// SimulatePaymentRequest is the JSON body for a simulated payment.
type SimulatePaymentRequest struct {
	PaymentID string `json:"payment_id" validate:"max=64"`
	OrderID   int64  `json:"order_id" validate:"required,gt=0"`
	Status    string `json:"status" validate:"required,oneof=approved pending in_process authorized rejected cancelled refunded charged_back"`
}

// SimulatePayment handles POST /api/v1/dev/payments
func (h *DevPaymentHandler) SimulatePayment(w http.ResponseWriter, r *http.Request) {
	var req SimulatePaymentRequest
	if err := httputil.DecodeJSON(w, r, &req, false); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	payment := h.gateway.SetPayment(req.PaymentID, req.OrderID, req.Status)

	res, err := h.reconcile.HandleNotification(r.Context(), service.Notification{
		Type:      service.NotificationTypePayment,
		Action:    "payment.updated",
		PaymentID: payment.ID,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: res})
}
