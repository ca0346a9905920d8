// Package httpapi is the HTTP surface of the marketplace: auth token
// issuance, deposits, checkout, allocation batches and the profit trail.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"modmarket.org/internal/allocation"
	"modmarket.org/internal/checkout"
	"modmarket.org/internal/ledger"
	"modmarket.org/internal/market"
	"modmarket.org/internal/obs"
)

// ReadyProbe pings the backing database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer. It owns the mux and builds the core services on
// top of the store it was given.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	store    market.Store
	ledger   *ledger.Ledger
	checkout *checkout.Service
	alloc    *allocation.Reconciler
	log      *slog.Logger
	tokenTTL time.Duration

	rateBurst  int
	ratePerSec float64
}

func New(rp ReadyProbe, version string, st market.Store, log *slog.Logger, tokenTTL time.Duration) *API {
	ldg := ledger.New(st, log)
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		store:      st,
		ledger:     ldg,
		checkout:   checkout.New(st, ldg),
		alloc:      allocation.New(st),
		log:        log,
		tokenTTL:   tokenTTL,
		rateBurst:  100,
		ratePerSec: 50,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/deposit", a.handleDeposit)
	a.mux.HandleFunc("/v1/profit", a.handleProfitCollection)
	a.mux.HandleFunc("/v1/profit/", a.handleProfitResource)

	a.mux.HandleFunc("/v1/checkout/mods", a.handleCheckoutMods)
	a.mux.HandleFunc("/v1/checkout/subscription", a.handleCheckoutSubscription)
	a.mux.HandleFunc("/v1/allocations", a.handleAllocations)
	a.mux.HandleFunc("/v1/claims", a.handleClaims)
	a.mux.HandleFunc("/v1/entitlements/", a.handleEntitlementResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// SetRateLimit overrides the default per-IP limiter settings.
func (a *API) SetRateLimit(perSecond float64, burst int) {
	a.ratePerSec = perSecond
	a.rateBurst = burst
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h, a.log)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "modmarket-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "modmarket-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleMarketError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, market.ErrInvalidAmount), errors.Is(err, market.ErrEmptyBatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, market.ErrInsufficientFunds):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, market.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, market.ErrUserNotFound), errors.Is(err, market.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
