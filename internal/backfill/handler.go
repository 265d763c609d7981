package backfill

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stockbook/stockbook/internal/platform/httpx"
	"github.com/stockbook/stockbook/internal/shared"
)

// Handler exposes the repairs as privileged HTTP endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the admin ledger routes. Callers wrap them in the
// admin gate.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/initialize", h.handleInitialize)
	r.Post("/sync-orders", h.handleSync)
	r.Post("/recompute", h.handleRecompute)
	r.Post("/normalize-types", h.handleNormalize)
}

func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.InitializeLedger(r.Context(), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "initialize", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.SyncOrderLedger(r.Context(), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "sync orders", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleRecompute(w http.ResponseWriter, r *http.Request) {
	mode, err := ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.RecomputeStock(r.Context(), mode, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "recompute", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleNormalize(w http.ResponseWriter, r *http.Request) {
	mode, err := ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.NormalizeTypes(r.Context(), mode, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "normalize types", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error("ledger repair failed", slog.String("op", op), slog.Any("error", err))
	httpx.RespondError(w, err)
}
