package http

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/buja23/OpiticaPruden/pkg/errors"
	"github.com/buja23/OpiticaPruden/pkg/httputil"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/service"
)

// SweepTokenHeader carries the shared secret of the scheduler.
const SweepTokenHeader = "X-Sweep-Token"

// SweepHandler lets an external scheduler trigger the expiry sweep.
type SweepHandler struct {
	service *service.SweeperService
	token   string
	logger  *slog.Logger
}

// NewSweepHandler creates a sweep handler. An empty token leaves the
// endpoint unguarded.
func NewSweepHandler(svc *service.SweeperService, token string, logger *slog.Logger) *SweepHandler {
	return &SweepHandler{service: svc, token: token, logger: logger}
}

// Sweep handles POST /api/v1/internal/sweep
func (h *SweepHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.token != "" {
		got := r.Header.Get(SweepTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			httputil.WriteError(w, r, apperrors.Unauthorized("invalid sweep token"), h.logger)
			return
		}
	}

	report, err := h.service.Sweep(r.Context())
	if err != nil {
		if report != nil {
			h.logger.WarnContext(r.Context(), "expiry sweep ended early",
				slog.Int("cancelled", report.Cancelled),
				slog.Int("settled", report.Settled),
				slog.Int("failed", report.Failed),
				slog.Any("results", report.Results),
			)
		}
		if errors.Is(err, service.ErrSweepInProgress) {
			httputil.WriteError(w, r, apperrors.Conflict(err.Error()), h.logger)
			return
		}
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, report)
}
