package reports

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stockbook/stockbook/internal/platform/httpx"
	"github.com/stockbook/stockbook/internal/shared"
)

const (
	contentCSV  = "text/csv; charset=utf-8"
	contentXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Handler serves the report views as JSON, CSV or XLSX.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the reports handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/materials", h.handleMaterials)
	r.Get("/parties", h.handleParties)
	r.Get("/orders", h.handleOrders)
	r.Get("/ledger", h.handleLedger)
}

func (h *Handler) handleMaterials(w http.ResponseWriter, r *http.Request) {
	f, format, ok := h.parse(w, r)
	if !ok {
		return
	}
	report, err := h.service.Materials(r.Context(), f)
	if err != nil {
		h.fail(w, "materials", err)
		return
	}
	h.render(w, format, "materials", report, func(out io.Writer) error { return WriteMaterialsCSV(out, report) },
		func(out io.Writer) error { return WriteMaterialsXLSX(out, report) })
}

func (h *Handler) handleParties(w http.ResponseWriter, r *http.Request) {
	f, format, ok := h.parse(w, r)
	if !ok {
		return
	}
	report, err := h.service.Parties(r.Context(), f)
	if err != nil {
		h.fail(w, "parties", err)
		return
	}
	h.render(w, format, "parties", report, func(out io.Writer) error { return WritePartiesCSV(out, report) }, nil)
}

func (h *Handler) handleOrders(w http.ResponseWriter, r *http.Request) {
	f, format, ok := h.parse(w, r)
	if !ok {
		return
	}
	report, err := h.service.Orders(r.Context(), f)
	if err != nil {
		h.fail(w, "orders", err)
		return
	}
	h.render(w, format, "orders", report, func(out io.Writer) error { return WriteOrdersCSV(out, report) }, nil)
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	f, format, ok := h.parse(w, r)
	if !ok {
		return
	}
	report, err := h.service.Ledger(r.Context(), f)
	if err != nil {
		h.fail(w, "ledger", err)
		return
	}
	h.render(w, format, "ledger", report, func(out io.Writer) error { return WriteLedgerCSV(out, report) },
		func(out io.Writer) error { return WriteLedgerXLSX(out, report) })
}

func (h *Handler) parse(w http.ResponseWriter, r *http.Request) (Filter, string, bool) {
	var (
		f   Filter
		err error
	)
	if f.MaterialID, err = httpx.QueryUUID(r, "material_id"); err == nil {
		if f.PartyID, err = httpx.QueryUUID(r, "party_id"); err == nil {
			if f.From, err = httpx.QueryDate(r, "from"); err == nil {
				f.To, err = httpx.QueryDate(r, "to")
			}
		}
	}
	if err != nil {
		httpx.RespondError(w, err)
		return Filter{}, "", false
	}
	format := r.URL.Query().Get("format")
	switch format {
	case "", "json", "csv", "xlsx":
	default:
		httpx.RespondError(w, shared.NewValidationError("format", "must be json, csv or xlsx"))
		return Filter{}, "", false
	}
	return f, format, true
}

func (h *Handler) render(w http.ResponseWriter, format, name string, report any, csvFn, xlsxFn func(io.Writer) error) {
	var (
		buf         bytes.Buffer
		contentType string
		ext         string
		err         error
	)
	switch format {
	case "csv":
		contentType, ext, err = contentCSV, "csv", csvFn(&buf)
	case "xlsx":
		if xlsxFn == nil {
			httpx.RespondError(w, shared.NewValidationError("format", "xlsx is not available for this report"))
			return
		}
		contentType, ext, err = contentXLSX, "xlsx", xlsxFn(&buf)
	default:
		httpx.JSON(w, http.StatusOK, report)
		return
	}
	if err != nil {
		h.fail(w, "export "+name, err)
		return
	}
	httpx.Attachment(w, contentType, name+"."+ext, buf.Bytes())
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error("report request failed", slog.String("op", op), slog.Any("error", err))
	httpx.RespondError(w, err)
}
