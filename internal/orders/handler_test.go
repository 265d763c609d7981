package orders_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/stockbook/stockbook/internal/ledger"
	"github.com/stockbook/stockbook/internal/orders"
)

func newRouter(svc *orders.Service) http.Handler {
	r := chi.NewRouter()
	r.Route("/orders", orders.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes)
	return r
}

func TestHandlerCreateAndFetchOrder(t *testing.T) {
	store, svc, _ := setup(t)
	m := store.AddMaterial(ledger.Material{Name: "Thread White", CurrentStock: d(100)})
	router := newRouter(svc)

	body := `{"order_number":"H/1","order_date":"2024-02-10T00:00:00Z",
"items":[{"particular":"Shirts","quantity":"10","rate_per_dzn":"120"}],
"deductions":[{"material_name":"Thread White","quantity":"32","rate":"2"}]}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created orders.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Len(t, created.Lines, 1)
	require.Equal(t, orders.ActionApplied, created.Lines[0].Action)
	require.True(t, store.Stock(m.ID).Equal(d(68)))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/"+created.Order.ID.String()+"/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	require.Equal(t, "H/1", fetched.OrderNumber)
	require.True(t, fetched.NetTotal.Equal(d(1136)))
}

func TestHandlerStatusRejectsUnknownValue(t *testing.T) {
	_, svc, _ := setup(t)
	router := newRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/?status=shipped", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/orders/not-a-uuid/", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
