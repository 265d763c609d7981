package backup

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stockbook/stockbook/internal/platform/httpx"
	"github.com/stockbook/stockbook/internal/shared"
)

// maxBodyBytes caps uploaded backup documents.
const maxBodyBytes = 64 << 20

// Handler exposes backup export, validation and restore.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers backup routes. Callers wrap them in the admin gate.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleExport)
	r.Post("/validate", h.handleValidate)
	r.Post("/restore", h.handleRestore)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Export(r.Context())
	if err != nil {
		h.fail(w, "export", err)
		return
	}
	name := fmt.Sprintf("stockbook-backup-%s.json", doc.ExportedAt.Format("20060102-150405"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	doc, err := Parse(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err == nil {
		err = h.service.Validate(doc)
	}
	if err != nil {
		respondInvalid(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"valid": true, "counts": doc.Counts()})
}

func (h *Handler) handleRestore(w http.ResponseWriter, r *http.Request) {
	doc, err := Parse(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondInvalid(w, err)
		return
	}
	counts, err := h.service.Restore(r.Context(), doc, shared.ActorFromContext(r.Context()))
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			respondInvalid(w, err)
			return
		}
		h.fail(w, "restore", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"restored": counts, "at": time.Now().UTC()})
}

func respondInvalid(w http.ResponseWriter, err error) {
	var verr *ValidationError
	if !errors.As(err, &verr) {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusUnprocessableEntity, map[string]any{
		"valid":    false,
		"problems": verr.Problems,
	})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error("backup request failed", slog.String("op", op), slog.Any("error", err))
	httpx.RespondError(w, err)
}
