package ledger

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stockbook/stockbook/internal/platform/httpx"
	"github.com/stockbook/stockbook/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/materials", h.handleMaterials)
	r.Get("/transactions", h.handleList)
	r.Post("/stock-in", h.handleStockIn)
	r.Post("/stock-out", h.handleStockOut)
	r.Put("/transactions/{id}", h.handleUpdate)
	r.Delete("/transactions/{id}", h.handleDelete)
}

func (h *Handler) handleMaterials(w http.ResponseWriter, r *http.Request) {
	materials, err := h.service.Materials(r.Context())
	if err != nil {
		h.fail(w, "list materials", err)
		return
	}
	httpx.JSON(w, http.StatusOK, materials)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	txs, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.fail(w, "list transactions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, txs)
}

func (h *Handler) handleStockIn(w http.ResponseWriter, r *http.Request) {
	var input StockInInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.ActorID = shared.ActorFromContext(r.Context())
	input.IdempotencyKey = r.Header.Get("Idempotency-Key")
	tx, err := h.service.RecordStockIn(r.Context(), input)
	if err != nil {
		h.fail(w, "stock in", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tx)
}

func (h *Handler) handleStockOut(w http.ResponseWriter, r *http.Request) {
	var input StockOutInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.ActorID = shared.ActorFromContext(r.Context())
	input.IdempotencyKey = r.Header.Get("Idempotency-Key")
	tx, err := h.service.RecordStockOut(r.Context(), input)
	if err != nil {
		h.fail(w, "stock out", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tx)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input UpdateTransactionInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.ActorID = shared.ActorFromContext(r.Context())
	tx, err := h.service.UpdateTransaction(r.Context(), id, input)
	if err != nil {
		h.fail(w, "update transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tx)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteTransaction(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, "delete transaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error("ledger request failed", slog.String("op", op), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func parseFilter(r *http.Request) (TransactionFilter, error) {
	var (
		filter TransactionFilter
		err    error
	)
	if filter.MaterialID, err = httpx.QueryUUID(r, "material_id"); err != nil {
		return filter, err
	}
	if filter.PartyID, err = httpx.QueryUUID(r, "party_id"); err != nil {
		return filter, err
	}
	if filter.OrderID, err = httpx.QueryUUID(r, "order_id"); err != nil {
		return filter, err
	}
	if filter.From, err = httpx.QueryDate(r, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = httpx.QueryDate(r, "to"); err != nil {
		return filter, err
	}
	return filter, nil
}
