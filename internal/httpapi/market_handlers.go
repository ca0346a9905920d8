package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"modmarket.org/internal/audit"
	"modmarket.org/internal/auth"
	"modmarket.org/internal/claims"
	"modmarket.org/internal/ledger"
)

type depositRequest struct {
	UserID int64  `json:"user_id"`
	Amount int64  `json:"amount"`
	Mode   string `json:"mode"`
}

type checkoutModsRequest struct {
	ServerAddress string  `json:"server_address"`
	ModIDs        []int64 `json:"mod_ids"`
}

type checkoutSubscriptionRequest struct {
	Developer string `json:"developer"`
}

type allocationRequest struct {
	ServerAddress string  `json:"server_address"`
	ToServer      []int64 `json:"to_server"`
	ToStorage     []int64 `json:"to_storage"`
}

type allocationResponse struct {
	ServerMods  string          `json:"server_mods"`
	ClaimedMods claims.Multiset `json:"claimed_mods"`
}

type autoRenewResponse struct {
	EntitlementID int64 `json:"entitlement_id"`
	AutoRenew     bool  `json:"auto_renew"`
}

type profitEntryResponse struct {
	ID        string    `json:"id"`
	PayerID   int64     `json:"payer_id"`
	ItemRef   string    `json:"item_ref"`
	Amount    int64     `json:"amount"`
	PayeeID   int64     `json:"payee_id"`
	Profit    int64     `json:"profit"`
	CreatedAt time.Time `json:"created_at"`
	CashedOut bool      `json:"cashed_out"`
}

func (a *API) handleDeposit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	principal, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	var req depositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := ledger.ParseDepositMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.ledger.RecordDeposit(r.Context(), req.UserID, req.Amount, mode); err != nil {
		handleMarketError(w, err)
		return
	}

	audit.Log(r.Context(), a.log, "ledger.deposit", map[string]any{
		"admin":   principal.Login,
		"user_id": req.UserID,
		"amount":  req.Amount,
		"mode":    mode.String(),
	})
	writeJSON(w, http.StatusCreated, map[string]any{"status": "recorded"})
}

func (a *API) handleProfitCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = v
	}

	entries, err := a.store.Profit().List(r.Context(), limit)
	if err != nil {
		handleMarketError(w, err)
		return
	}
	items := make([]profitEntryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, profitEntryResponse{
			ID:        e.ID,
			PayerID:   e.PayerID,
			ItemRef:   e.ItemRef,
			Amount:    e.Amount,
			PayeeID:   e.PayeeID,
			Profit:    e.Profit,
			CreatedAt: e.CreatedAt,
			CashedOut: e.CashedOut,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"as_of": time.Now().UTC(),
	})
}

func (a *API) handleProfitResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/profit/")
	id, ok := strings.CutSuffix(path, "/cashout")
	if !ok || id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	principal, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	if err := a.store.Profit().MarkCashedOut(r.Context(), id); err != nil {
		handleMarketError(w, err)
		return
	}
	audit.Log(r.Context(), a.log, "ledger.profit.cashout", map[string]any{
		"admin": principal.Login,
		"entry": id,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "cashed_out"})
}

func (a *API) handleCheckoutMods(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req checkoutModsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ServerAddress) == "" {
		writeError(w, http.StatusBadRequest, "server_address is required")
		return
	}
	if len(req.ModIDs) == 0 {
		writeError(w, http.StatusBadRequest, "mod_ids must not be empty")
		return
	}

	if err := a.checkout.BuyMods(r.Context(), principal.Login, req.ServerAddress, req.ModIDs); err != nil {
		handleMarketError(w, err)
		return
	}
	audit.Log(r.Context(), a.log, "checkout.mods", map[string]any{
		"server": req.ServerAddress,
		"mods":   req.ModIDs,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"status": "purchased"})
}

func (a *API) handleCheckoutSubscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req checkoutSubscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	developer := strings.TrimSpace(req.Developer)
	if developer == "" {
		writeError(w, http.StatusBadRequest, "developer is required")
		return
	}

	if err := a.checkout.BuySubscription(r.Context(), principal.Login, developer); err != nil {
		handleMarketError(w, err)
		return
	}
	audit.Log(r.Context(), a.log, "checkout.subscription", map[string]any{
		"developer": developer,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"status": "subscribed"})
}

func (a *API) handleAllocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req allocationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ServerAddress) == "" {
		writeError(w, http.StatusBadRequest, "server_address is required")
		return
	}

	res, err := a.alloc.Reconcile(r.Context(), principal.Login, req.ServerAddress, req.ToServer, req.ToStorage)
	if err != nil {
		handleMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, allocationResponse{
		ServerMods:  res.ServerMods,
		ClaimedMods: res.ClaimedMods,
	})
}

func (a *API) handleClaims(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	user, err := a.store.Users().FindByLogin(r.Context(), principal.Login)
	if err != nil {
		handleMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"claims": claims.Decode(user.ClaimedMods),
	})
}

func (a *API) handleEntitlementResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/entitlements/")
	rawID, ok := strings.CutSuffix(path, "/autorenew")
	if !ok || rawID == "" || strings.Contains(rawID, "/") {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "entitlement id must be a positive integer")
		return
	}

	enabled, err := a.checkout.ToggleAutoRenew(r.Context(), principal.Login, id)
	if err != nil {
		handleMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, autoRenewResponse{
		EntitlementID: id,
		AutoRenew:     enabled,
	})
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return auth.Principal{}, false
	}
	return principal, true
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return auth.Principal{}, false
	}
	if !principal.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin role required")
		return auth.Principal{}, false
	}
	return principal, true
}
