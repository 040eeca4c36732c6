package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/supplychain/internal/app/domain/escrow"
	"github.com/R3E-Network/supplychain/internal/app/domain/product"
	"github.com/R3E-Network/supplychain/internal/app/domain/rating"
	"github.com/R3E-Network/supplychain/internal/app/halt"
	"github.com/R3E-Network/supplychain/internal/app/notify"
	"github.com/R3E-Network/supplychain/internal/app/oracle"
	"github.com/R3E-Network/supplychain/internal/app/services/ratings"
	"github.com/R3E-Network/supplychain/internal/app/services/supplychain"
	"github.com/R3E-Network/supplychain/internal/app/storage/memory"
	"github.com/R3E-Network/supplychain/internal/app/title"
	"github.com/R3E-Network/supplychain/internal/httputil"
	"github.com/R3E-Network/supplychain/internal/middleware"
)

type testAPI struct {
	svc     *supplychain.Service
	bus     *notify.Bus
	handler http.Handler
}

func newTestAPI(t *testing.T, mutate func(*Options)) testAPI {
	t.Helper()
	bus := notify.NewBus(100)
	svc := supplychain.New(supplychain.Options{
		Store:     memory.New(),
		Titles:    title.NewMemory(),
		Halt:      halt.NewFlag(false),
		Publisher: bus,
	})
	_, err := svc.Bootstrap(context.Background(), "root")
	require.NoError(t, err)

	opts := Options{
		Service: svc,
		Bus:     bus,
		Oracle: oracle.FetcherFunc(func(ctx context.Context, symbol string) (oracle.Quote, error) {
			return oracle.Quote{Symbol: symbol, Price: decimal.RequireFromString("12.50"), Source: "test"}, nil
		}),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return testAPI{svc: svc, bus: bus, handler: NewHandler(opts)}
}

func (a testAPI) do(t *testing.T, method, path, account string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if account != "" {
		req.Header.Set(middleware.AccountHeader, account)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorBody {
	t.Helper()
	var body httputil.ErrorBody
	decode(t, rec, &body)
	return body
}

// seed leaves product 1 Packed and owned by supplier A, with customer B
// holding deposit.
func (a testAPI) seed(t *testing.T, deposit int64) {
	t.Helper()
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/roles/select", "A", map[string]string{"role": "Supplier"}).Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/roles/select", "B", map[string]string{"role": "customer"}).Code)
	if deposit > 0 {
		require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/escrow/deposit", "B", map[string]int64{"amount": deposit}).Code)
	}

	rec := a.do(t, http.MethodPost, "/products", "A", map[string]interface{}{"name": "Widget", "price": 100})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p product.Product
	decode(t, rec, &p)
	require.Equal(t, int64(1), p.ID)
	require.Equal(t, "Created", p.Status)

	rec = a.do(t, http.MethodPost, "/products/1/status", "A", map[string]string{"status": "Packed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestProductLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seed(t, 100)

	rec := api.do(t, http.MethodPost, "/products/1/transfer", "A", map[string]string{"new_owner": "B"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/products/1/transitions", "B", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var allowed struct {
		Allowed []product.State `json:"allowed"`
	}
	decode(t, rec, &allowed)
	assert.Contains(t, allowed.Allowed, product.StateDeliveredToCustomer)

	rec = api.do(t, http.MethodPost, "/products/1/status", "B", map[string]string{"status": "delivered_to_customer"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var seller escrow.Balance
	decode(t, api.do(t, http.MethodGet, "/accounts/A/balance", "A", nil), &seller)
	assert.Equal(t, int64(100), seller.Balance)
	var buyer escrow.Balance
	decode(t, api.do(t, http.MethodGet, "/accounts/B/balance", "B", nil), &buyer)
	assert.Equal(t, int64(0), buyer.Balance)

	var owned struct {
		ProductIDs []int64 `json:"product_ids"`
	}
	decode(t, api.do(t, http.MethodGet, "/accounts/B/products", "B", nil), &owned)
	assert.Equal(t, []int64{1}, owned.ProductIDs)
	decode(t, api.do(t, http.MethodGet, "/accounts/A/products", "A", nil), &owned)
	assert.Empty(t, owned.ProductIDs)

	var hist []product.StatusRecord
	decode(t, api.do(t, http.MethodGet, "/products/1/history", "A", nil), &hist)
	assert.Len(t, hist, 3)

	var records []map[string]interface{}
	decode(t, api.do(t, http.MethodGet, "/audit", "A", nil), &records)
	assert.Len(t, records, 4)

	var moves []escrow.Movement
	decode(t, api.do(t, http.MethodGet, "/accounts/B/movements", "B", nil), &moves)
	require.Len(t, moves, 2)
	assert.Equal(t, escrow.MovementSettlementDebit, moves[1].Type)
}

func TestErrorMapping(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seed(t, 0)

	cases := []struct {
		name    string
		method  string
		path    string
		account string
		body    interface{}
		status  int
		code    string
	}{
		{"unknown product", http.MethodGet, "/products/99", "A", nil, http.StatusNotFound, "NOT_FOUND"},
		{"customer cannot create", http.MethodPost, "/products", "B", map[string]interface{}{"name": "x", "price": 1}, http.StatusForbidden, "NOT_AUTHORIZED"},
		{"not owner", http.MethodPost, "/products/1/status", "B", map[string]string{"status": "ShippedToCustomer"}, http.StatusForbidden, "NOT_AUTHORIZED"},
		{"bad label", http.MethodPost, "/products/1/status", "A", map[string]string{"status": "Teleported"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"denied transition", http.MethodPost, "/products/1/status", "A", map[string]string{"status": "DeliveredToCustomer"}, http.StatusConflict, "INVALID_TRANSITION"},
		{"insufficient funds", http.MethodPost, "/products/1/transfer", "A", map[string]string{"new_owner": "B"}, http.StatusPaymentRequired, "INSUFFICIENT_FUNDS"},
		{"role twice", http.MethodPost, "/roles/select", "A", map[string]string{"role": "Customer"}, http.StatusConflict, "ALREADY_ASSIGNED"},
		{"unknown field", http.MethodPost, "/escrow/deposit", "A", map[string]interface{}{"amount": 1, "extra": true}, http.StatusBadRequest, "INVALID_INPUT"},
		{"non numeric id", http.MethodGet, "/products/abc", "A", nil, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := api.do(t, tc.method, tc.path, tc.account, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, tc.code, errorCode(t, rec).Code)
		})
	}

	rec := api.do(t, http.MethodPost, "/products/1/status", "A", map[string]string{"status": "DeliveredToCustomer"})
	assert.NotEmpty(t, errorCode(t, rec).Details["reason"])
}

func TestAuthentication(t *testing.T) {
	const secret = "s3cret"
	api := newTestAPI(t, func(o *Options) {
		o.Auth = middleware.NewAuthMiddleware(secret, "supplychain", false, nil, PublicPaths)
	})

	rec := api.do(t, http.MethodGet, "/accounts/root/role", "root", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	token, err := middleware.IssueToken(secret, "supplychain", "root", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/accounts/root/role", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var info supplychain.RoleInfo
	decode(t, rec, &info)
	assert.True(t, info.Admin)
	assert.Equal(t, "Admin", info.Role.String())
}

func TestHaltEndpoint(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodPost, "/admin/halt", "mallory", map[string]bool{"halted": true})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPost, "/admin/halt", "root", map[string]bool{"halted": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPost, "/escrow/deposit", "B", map[string]int64{"amount": 5})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "HALTED", errorCode(t, rec).Code)

	var health map[string]interface{}
	decode(t, api.do(t, http.MethodGet, "/healthz", "", nil), &health)
	assert.Equal(t, true, health["halted"])

	rec = api.do(t, http.MethodPost, "/admin/halt", "root", map[string]bool{"halted": false})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, http.MethodPost, "/escrow/deposit", "B", map[string]int64{"amount": 5})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRatingFromComment(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seed(t, 0)

	rec := api.do(t, http.MethodPost, "/products/1/ratings", "B", map[string]interface{}{"stars": 4, "comment": "arrived cold"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var r rating.Rating
	decode(t, rec, &r)
	assert.Equal(t, ratings.Fingerprint("arrived cold"), r.Fingerprint)

	rec = api.do(t, http.MethodPost, "/products/1/ratings", "C", map[string]interface{}{"stars": 2})
	require.Equal(t, http.StatusCreated, rec.Code)

	var summary rating.Summary
	decode(t, api.do(t, http.MethodGet, "/products/1/ratings/average", "B", nil), &summary)
	assert.Equal(t, int64(2), summary.Count)
	assert.Equal(t, int64(3), summary.Average)

	decode(t, api.do(t, http.MethodGet, "/products/1/ratings/B", "B", nil), &r)
	assert.Equal(t, 4, r.Stars)

	rec = api.do(t, http.MethodPost, "/products/1/ratings", "B", map[string]interface{}{"stars": 6})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestAuditIsAdminOnly(t *testing.T) {
	api := newTestAPI(t, nil)
	api.do(t, http.MethodGet, "/products/7", "B", nil)

	rec := api.do(t, http.MethodGet, "/admin/requests", "B", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodGet, "/admin/requests", "root", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []RequestEntry
	decode(t, rec, &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "/products/7", entries[0].Path)
	assert.Equal(t, "B", entries[0].Account)
	assert.Equal(t, http.StatusNotFound, entries[0].Status)
	assert.NotEmpty(t, entries[0].TraceID)
	assert.Equal(t, http.StatusForbidden, entries[1].Status)
}

func TestRecentEvents(t *testing.T) {
	api := newTestAPI(t, nil)
	api.do(t, http.MethodPost, "/escrow/deposit", "B", map[string]int64{"amount": 5})
	api.do(t, http.MethodPost, "/roles/select", "B", map[string]string{"role": "Customer"})

	var events []notify.Event
	decode(t, api.do(t, http.MethodGet, "/events/recent?type=escrow.deposit", "B", nil), &events)
	require.Len(t, events, 1)
	assert.Equal(t, "B", events[0].Actor)
	assert.NotEmpty(t, events[0].TraceID)

	decode(t, api.do(t, http.MethodGet, "/events/recent?limit=1", "B", nil), &events)
	require.Len(t, events, 1)
	assert.Equal(t, notify.RoleAssigned, events[0].Type)
}

func TestEventStream(t *testing.T) {
	api := newTestAPI(t, nil)
	srv := httptest.NewServer(api.handler)
	defer srv.Close()

	header := http.Header{}
	header.Set(middleware.AccountHeader, "watcher")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events?type=escrow.deposit"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	_, err = api.svc.Deposit(context.Background(), "B", 9)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev notify.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, notify.EscrowDeposit, ev.Type)
	assert.Equal(t, "B", ev.Actor)
}

func TestOraclePrice(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodGet, "/oracle/price?symbol=NEO", "B", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var q oracle.Quote
	decode(t, rec, &q)
	assert.Equal(t, "NEO", q.Symbol)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("12.5")))

	rec = api.do(t, http.MethodGet, "/oracle/price", "B", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bare := newTestAPI(t, func(o *Options) { o.Oracle = nil })
	rec = bare.do(t, http.MethodGet, "/oracle/price?symbol=NEO", "B", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminManagement(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodPost, "/admins", "root", map[string]string{"account": "ops"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var admins struct {
		Admins []string `json:"admins"`
	}
	decode(t, api.do(t, http.MethodGet, "/admins", "ops", nil), &admins)
	assert.Equal(t, []string{"ops", "root"}, admins.Admins)

	rec = api.do(t, http.MethodPost, "/roles/assign", "ops", map[string]string{"account": "C", "role": "Supplier"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var info supplychain.RoleInfo
	decode(t, rec, &info)
	assert.Equal(t, "Supplier", info.Role.String())

	rec = api.do(t, http.MethodPost, "/roles/remove", "ops", map[string]string{"account": "C", "role": "Customer"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodDelete, "/admins/ops", "root", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
