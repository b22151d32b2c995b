package controllers

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/smartpay-pos/smartpay-backend/internal/cart"
	"github.com/smartpay-pos/smartpay-backend/internal/ledger"
	"github.com/smartpay-pos/smartpay-backend/internal/products"
	"github.com/smartpay-pos/smartpay-backend/internal/users"
	"github.com/smartpay-pos/smartpay-backend/pkg/db"
	"github.com/smartpay-pos/smartpay-backend/pkg/db/dbtest"
	"github.com/smartpay-pos/smartpay-backend/pkg/db/models"
	"github.com/smartpay-pos/smartpay-backend/pkg/enums"
)

func newCartRouter(t *testing.T, conn *gorm.DB) http.Handler {
	t.Helper()
	svc, err := cart.NewService(cart.NewRepository(conn), db.NewFromGorm(conn), users.NewRepository(conn), products.NewRepository(conn))
	require.NoError(t, err)
	r := chi.NewRouter()
	r.Get("/cart/{userId}", CartGet(svc, nil))
	r.Get("/cart/{userId}/total", CartTotals(svc, nil))
	r.Delete("/cart/{userId}", CartClear(svc, nil))
	r.Put("/cart/{userId}/items/{lineId}", CartUpdateLine(svc, nil))
	r.Delete("/cart/{userId}/items/{lineId}", CartRemoveLine(svc, nil))
	return r
}

func TestCartEndpoints(t *testing.T) {
	conn := dbtest.Open(t)
	user := dbtest.MustCreateUser(t, conn, "leela")
	milk := dbtest.MustCreateProduct(t, conn, "Milk", "2.50", 10)
	bread := dbtest.MustCreateProduct(t, conn, "Bread", "3.00", 10)
	basket := dbtest.MustCreateCart(t, conn, user.ID,
		dbtest.LineSpec{Product: milk, Quantity: 2},
		dbtest.LineSpec{Product: bread, Quantity: 1},
	)
	router := newCartRouter(t, conn)
	base := "/cart/" + strconv.FormatInt(user.ID, 10)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, base, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]any)
	require.Equal(t, "8.00", data["total"])
	require.Len(t, data["lines"], 2)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, base+"/total", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	totals := decodeBody(t, rec)["data"].(map[string]any)
	require.Equal(t, "0.00", totals["tax"])
	require.Equal(t, "8.00", totals["total"])
	require.EqualValues(t, 3, totals["item_count"])

	lineID := strconv.FormatInt(basket.Lines[0].ID, 10)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, base+"/items/"+lineID, strings.NewReader(`{"quantity":4}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "10.00", decodeBody(t, rec)["data"].(map[string]any)["subtotal"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, base+"/items/"+lineID, strings.NewReader(`{"quantity":0}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, base+"/items/"+lineID, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, base+"/items/"+lineID, nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCartClearEndpoint(t *testing.T) {
	conn := dbtest.Open(t)
	user := dbtest.MustCreateUser(t, conn, "nadia")
	milk := dbtest.MustCreateProduct(t, conn, "Milk", "2.50", 10)
	basket := dbtest.MustCreateCart(t, conn, user.ID, dbtest.LineSpec{Product: milk, Quantity: 3})
	router := newCartRouter(t, conn)
	base := "/cart/" + strconv.FormatInt(user.ID, 10)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, base, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]any)
	require.EqualValues(t, basket.ID, data["cart_id"])
	require.EqualValues(t, 1, data["removed_lines"])
	require.False(t, dbtest.ReloadCart(t, conn, basket.ID).IsActive)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, base, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 0, decodeBody(t, rec)["data"].(map[string]any)["removed_lines"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, base, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decodeBody(t, rec)["data"].(map[string]any)["lines"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/cart/0", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCartUnknownUser(t *testing.T) {
	router := newCartRouter(t, dbtest.Open(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cart/999", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cart/abc", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLedgerEndpoints(t *testing.T) {
	conn := dbtest.Open(t)
	user := dbtest.MustCreateUser(t, conn, "ishaan")
	record := &models.Settlement{
		Reference:     "TXN-abc",
		UserID:        user.ID,
		CartID:        1,
		TotalAmount:   dbtest.Money(t, "12.50"),
		BalanceBefore: dbtest.Money(t, "20.00"),
		BalanceAfter:  dbtest.Money(t, "7.50"),
		ItemCount:     1,
		PaymentMethod: enums.PaymentMethodWallet,
		Status:        enums.SettlementStatusSuccess,
		Lines: []models.SettlementLine{{
			ProductID: 1, ProductName: "Tea", ProductBrand: "House", Quantity: 1,
			UnitPrice: dbtest.Money(t, "12.50"), Subtotal: dbtest.Money(t, "12.50"),
		}},
	}
	require.NoError(t, conn.Create(record).Error)

	svc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	r := chi.NewRouter()
	r.Get("/users/{userId}/settlements", UserSettlements(svc, nil))
	r.Get("/settlements/{reference}", SettlementByReference(svc, nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/settlements/TXN-abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]any)
	require.Equal(t, "12.50", data["total_amount"])
	require.Equal(t, "WALLET", data["payment_method"])
	require.Len(t, data["lines"], 1)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/settlements/TXN-missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/"+strconv.FormatInt(user.ID, 10)+"/settlements?limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody(t, rec)["data"].(map[string]any)
	require.Len(t, page["items"], 1)
	require.Nil(t, page["next_cursor"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/"+strconv.FormatInt(user.ID, 10)+"/settlements?limit=0", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
