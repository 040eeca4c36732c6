// Package httpapi exposes the supply-chain ledger over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/supplychain/internal/app/metrics"
	"github.com/R3E-Network/supplychain/internal/app/notify"
	"github.com/R3E-Network/supplychain/internal/app/oracle"
	"github.com/R3E-Network/supplychain/internal/app/services/supplychain"
	apperrors "github.com/R3E-Network/supplychain/internal/errors"
	"github.com/R3E-Network/supplychain/internal/httputil"
	"github.com/R3E-Network/supplychain/internal/middleware"
	"github.com/R3E-Network/supplychain/pkg/logger"
)

// Options wires the HTTP surface. Service is required.
type Options struct {
	Service *supplychain.Service
	Bus     *notify.Bus
	Oracle  oracle.Fetcher

	Auth      *middleware.AuthMiddleware
	RateLimit *middleware.RateLimiter
	CORS      *middleware.CORSMiddleware

	// AuditSink receives every request audit entry in addition to the
	// in-memory window of AuditWindow entries.
	AuditSink   AuditSink
	AuditWindow int

	Logger *logger.Logger
}

const productPath = "/products/{id:[0-9]+}"

// PublicPaths are served without caller identification.
var PublicPaths = []string{"/healthz", "/metrics"}

// handler bundles HTTP endpoints for the ledger.
type handler struct {
	svc      *supplychain.Service
	bus      *notify.Bus
	oracle   oracle.Fetcher
	requests *auditLog
	log      *logger.Logger
}

// NewHandler returns the routed and wrapped API handler.
func NewHandler(opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{
		svc:      opts.Service,
		bus:      opts.Bus,
		oracle:   opts.Oracle,
		requests: newAuditLog(opts.AuditWindow, opts.AuditSink),
		log:      log,
	}

	var chain http.Handler = h.requests.middleware(h.routes())
	if opts.RateLimit != nil {
		chain = opts.RateLimit.Handler(chain)
	}
	auth := opts.Auth
	if auth == nil {
		auth = middleware.NewAuthMiddleware("", "", true, log.Named("auth"), PublicPaths)
	}
	chain = auth.Handler(chain)
	if opts.CORS != nil {
		chain = opts.CORS.Handler(chain)
	}
	chain = middleware.NewTracingMiddleware(log.Named("http")).Handler(chain)
	return metrics.InstrumentHandler(chain)
}

func (h *handler) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/roles/select", h.selectRole).Methods(http.MethodPost)
	r.HandleFunc("/roles/assign", h.assignRole).Methods(http.MethodPost)
	r.HandleFunc("/roles/remove", h.removeRole).Methods(http.MethodPost)
	r.HandleFunc("/admins", h.listAdmins).Methods(http.MethodGet)
	r.HandleFunc("/admins", h.addAdmin).Methods(http.MethodPost)
	r.HandleFunc("/admins/{account}", h.removeAdmin).Methods(http.MethodDelete)

	r.HandleFunc("/accounts/{account}/role", h.accountRole).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{account}/products", h.accountProducts).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{account}/balance", h.accountBalance).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{account}/movements", h.accountMovements).Methods(http.MethodGet)
	r.HandleFunc("/escrow/deposit", h.deposit).Methods(http.MethodPost)
	r.HandleFunc("/escrow/withdraw", h.withdraw).Methods(http.MethodPost)

	r.HandleFunc("/products", h.createProduct).Methods(http.MethodPost)
	r.HandleFunc(productPath, h.getProduct).Methods(http.MethodGet)
	r.HandleFunc(productPath, h.updateDetails).Methods(http.MethodPatch)
	r.HandleFunc(productPath, h.removeProduct).Methods(http.MethodDelete)
	r.HandleFunc(productPath+"/history", h.productHistory).Methods(http.MethodGet)
	r.HandleFunc(productPath+"/transactions", h.productTransactions).Methods(http.MethodGet)
	r.HandleFunc(productPath+"/transitions", h.productTransitions).Methods(http.MethodGet)
	r.HandleFunc(productPath+"/status", h.updateStatus).Methods(http.MethodPost)
	r.HandleFunc(productPath+"/force-status", h.forceStatus).Methods(http.MethodPost)
	r.HandleFunc(productPath+"/transfer", h.transfer).Methods(http.MethodPost)
	r.HandleFunc(productPath+"/return", h.returnProduct).Methods(http.MethodPost)
	r.HandleFunc(productPath+"/verify", h.verify).Methods(http.MethodPost)
	r.HandleFunc(productPath+"/ratings", h.rate).Methods(http.MethodPost)
	r.HandleFunc(productPath+"/ratings/average", h.averageRating).Methods(http.MethodGet)
	r.HandleFunc(productPath+"/ratings/{rater}", h.raterRating).Methods(http.MethodGet)

	r.HandleFunc("/audit", h.fullHistory).Methods(http.MethodGet)
	r.HandleFunc("/oracle/price", h.oraclePrice).Methods(http.MethodGet)
	r.HandleFunc("/admin/halt", h.haltStatus).Methods(http.MethodGet)
	r.HandleFunc("/admin/halt", h.setHalt).Methods(http.MethodPost)
	r.HandleFunc("/admin/requests", h.listRequests).Methods(http.MethodGet)

	r.HandleFunc("/events", h.streamEvents).Methods(http.MethodGet)
	r.HandleFunc("/events/recent", h.recentEvents).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorResponse(w, r, http.StatusNotFound, string(apperrors.CodeNotFound), "route not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"halted": h.svc.Halted(r.Context()),
	})
}

// caller returns the identified account of the request.
func caller(r *http.Request) string {
	return middleware.GetAccount(r.Context())
}

func productID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.InvalidInput("invalid product id %q", mux.Vars(r)["id"])
	}
	return id, nil
}

func queryLimit(r *http.Request, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.InvalidInput("request body is required")
		}
		return apperrors.InvalidInput("invalid request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	httputil.WriteJSON(w, status, data)
}

// writeError maps a service error onto its status and envelope. Anything
// untyped is reported as an internal error.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := apperrors.GetServiceError(err)
	if se == nil {
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		se = apperrors.Internal("internal error", err)
	}
	httputil.WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}
