package ledger_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stockbook/stockbook/internal/ledger"
	"github.com/stockbook/stockbook/internal/ledger/ledgertest"
)

func newRouter(store *ledgertest.Store) http.Handler {
	svc, _, _ := newService(store, ledger.ServiceConfig{})
	r := chi.NewRouter()
	r.Route("/ledger", ledger.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes)
	return r
}

func TestHandlerStockInCreatesEntry(t *testing.T) {
	store := ledgertest.NewStore()
	m := store.AddMaterial(ledger.Material{Name: "Cotton White"})
	router := newRouter(store)

	body := `{"material_id":"` + m.ID.String() + `","quantity":"25.5","source_type":"market_purchase","remarks":"bill 42"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ledger/stock-in", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var tx ledger.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tx))
	require.Equal(t, ledger.TypeIn, tx.Type)
	require.True(t, store.Stock(m.ID).Equal(decimal.RequireFromString("25.5")))
}

func TestHandlerStockOutInsufficientIsBadRequest(t *testing.T) {
	store := ledgertest.NewStore()
	m := store.AddMaterial(ledger.Material{Name: "Thread"})
	router := newRouter(store)

	body := `{"material_id":"` + m.ID.String() + `","quantity":"1","reason_type":"wastage"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ledger/stock-out", strings.NewReader(body)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "insufficient stock")
}

func TestHandlerListRejectsBadDate(t *testing.T) {
	router := newRouter(ledgertest.NewStore())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ledger/transactions?from=01/02/2024", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "from")
}

func TestHandlerDeleteUnknownIsNotFound(t *testing.T) {
	router := newRouter(ledgertest.NewStore())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/ledger/transactions/7f7d3b59-3d3c-4b4e-9a55-2f6c1d8e0a11", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}
