package reports_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/stockbook/stockbook/internal/reports"
)

func newRouter(t *testing.T) http.Handler {
	f := newFixture()
	svc, _ := newService(t, f.store, false)
	r := chi.NewRouter()
	r.Route("/reports", reports.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes)
	return r
}

func TestHandlerMaterialsCSV(t *testing.T) {
	router := newRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/materials?from=2024-02-01&to=2024-02-29&format=csv", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Header().Get("Content-Disposition"), "materials.csv")
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Equal(t, "Material,Unit,Opening,In,Out,Closing", lines[0])
	require.Contains(t, lines, "Thread White,Pcs,0,150,35,115")
}

func TestHandlerRejectsUnknownFormat(t *testing.T) {
	router := newRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/ledger?format=pdf", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/parties?format=xlsx", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/orders?from=2024-03-01&to=2024-02-01", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
