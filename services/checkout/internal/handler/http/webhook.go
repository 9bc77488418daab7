package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/buja23/OpiticaPruden/pkg/httputil"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/service"
)

// WebhookHandler receives payment gateway notifications.
type WebhookHandler struct {
	service *service.ReconcileService
	logger  *slog.Logger
}

// NewWebhookHandler creates a new webhook HTTP handler.
func NewWebhookHandler(svc *service.ReconcileService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		service: svc,
		logger:  logger,
	}
}

// notificationID accepts ids sent either as JSON strings or numbers.
type notificationID string

func (n *notificationID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = notificationID(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return fmt.Errorf("notification id: %w", err)
	}
	*n = notificationID(num.String())
	return nil
}

type notificationBody struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID notificationID `json:"id"`
	} `json:"data"`
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
	OrderID  int64  `json:"order_id,omitempty"`
}

// MercadoPago handles POST /api/v1/webhooks/mercadopago. The notification
// only names the payment; its status is fetched from the gateway.
func (h *WebhookHandler) MercadoPago(w http.ResponseWriter, r *http.Request) {
	var body notificationBody
	if err := httputil.DecodeJSON(w, r, &body, true); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	res, err := h.service.HandleNotification(r.Context(), notificationFrom(r, &body))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, webhookResponse{
		Received: true,
		Outcome:  res.Outcome,
		OrderID:  res.OrderID,
	})
}

// notificationFrom merges the body with the query string. Body fields win.
func notificationFrom(r *http.Request, body *notificationBody) service.Notification {
	q := r.URL.Query()

	n := service.Notification{
		Type:      firstNonEmpty(body.Type, body.Topic, q.Get("type"), q.Get("topic")),
		Action:    body.Action,
		PaymentID: firstNonEmpty(string(body.Data.ID), q.Get("data.id"), q.Get("id")),
	}
	n.Type = strings.ToLower(strings.TrimSpace(n.Type))
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
