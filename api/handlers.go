/*
handlers.go - HTTP API handlers for the vending fleet backend

PURPOSE:
  Exposes the vending core via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Distributor (device token auth):
    POST /api/distributor/boot       Provision a per-boot device token
    POST /api/distributor/reset      Revoke the presented token
    GET  /api/distributor/poll       Merged status + attached customer
    GET  /api/distributor/beverages  Active menu
    POST /api/distributor/purchase   Atomic dispense transaction

  Customer (bearer token auth):
    POST /api/customer/connect             Attach to a machine
    POST /api/customer/disconnect          Detach
    GET  /api/customer/current-connection  Where am I attached
    POST /api/customer/topup               Add credit

  Fleet (staff bearer token auth):
    POST /api/monitor/sync                      Pull + apply monitor statuses
    POST /api/monitor/push                      Push local snapshot
    GET  /api/distributors/state                Fleet report
    POST /api/maintainer/distributors/refill    Reset counters to capacity
    POST /api/maintainer/distributors/status    Override local status
    POST /api/admin/distributors                Register a machine (manager)

ERROR HANDLING:
  Domain errors carry stable machine codes (vending.Code); httpStatus
  maps each code to exactly one HTTP status. Conflict-shaped purchase
  failures (no customer, out of stock, insufficient credit, bad price)
  are all 409 so machine firmware can branch on the code alone.

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Principal resolution and route guards
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/brewnet/vendcore/metrics"
	"github.com/brewnet/vendcore/vending"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      vending.TxStore
	Registry   *vending.ConnectionRegistry
	Lifecycle  *vending.DeviceLifecycle
	Engine     *vending.PurchaseEngine
	Reconciler *vending.Reconciler
}

// NewHandler wires the domain components over one store and monitor
// gateway.
func NewHandler(store vending.TxStore, monitor vending.MonitorGateway) *Handler {
	return &Handler{
		Store:      store,
		Registry:   vending.NewConnectionRegistry(store),
		Lifecycle:  vending.NewDeviceLifecycle(store, monitor),
		Engine:     vending.NewPurchaseEngine(store),
		Reconciler: vending.NewReconciler(store, monitor),
	}
}

// =============================================================================
// DISTRIBUTOR (DEVICE) HANDLERS
// =============================================================================

// BootDistributor provisions a fresh device token.
// POST /api/distributor/boot
func (h *Handler) BootDistributor(w http.ResponseWriter, r *http.Request) {
	var req BootRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "code is required")
		return
	}

	token, err := h.Lifecycle.Boot(r.Context(), req.Code)
	if err != nil {
		metrics.DeviceBoots.WithLabelValues(bootOutcome(err)).Inc()
		writeDomainError(w, err)
		return
	}

	metrics.DeviceBoots.WithLabelValues("issued").Inc()
	writeJSON(w, http.StatusOK, BootResponse{OK: true, Token: token})
}

// ResetDistributor revokes the presented device token. The machine
// must re-boot to obtain a new one.
// POST /api/distributor/reset
func (h *Handler) ResetDistributor(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	if err := h.Lifecycle.Reset(r.Context(), p.DistributorCode); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// PollDistributor is the idle-screen endpoint: merged operational
// status plus the currently attached customer, if any.
// GET /api/distributor/poll
func (h *Handler) PollDistributor(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	code := r.URL.Query().Get("code")
	if code == "" {
		code = p.DistributorCode
	}
	if code != p.DistributorCode {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "token does not match distributor")
		return
	}

	status, err := h.Reconciler.MergedStatus(r.Context(), code)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	cc, err := h.Registry.ActiveCustomerFor(r.Context(), code)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := PollResponse{OK: true, Status: string(status)}
	if cc != nil {
		credit := money(cc.Credit)
		resp.Connected = true
		resp.CustomerID = &cc.CustomerID
		resp.Username = &cc.Username
		resp.Credit = &credit
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListBeverages returns the active menu.
// GET /api/distributor/beverages
func (h *Handler) ListBeverages(w http.ResponseWriter, r *http.Request) {
	beverages, err := h.Store.ActiveBeverages(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to list beverages")
		return
	}
	writeJSON(w, http.StatusOK, BeverageListResponse{OK: true, Beverages: toBeverageDTOs(beverages)})
}

// Purchase runs the atomic dispense transaction and returns the
// customer's remaining credit.
// POST /api/distributor/purchase
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if req.Code == "" {
		req.Code = p.DistributorCode
	}
	if req.Code != p.DistributorCode {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "token does not match distributor")
		return
	}

	credit, err := h.Engine.Purchase(r.Context(), req.Code, req.BeverageID, req.SugarQty)
	if err != nil {
		metrics.Purchases.WithLabelValues(purchaseOutcome(err)).Inc()
		writeDomainError(w, err)
		return
	}

	metrics.Purchases.WithLabelValues("dispensed").Inc()
	writeJSON(w, http.StatusOK, CreditResponse{OK: true, Credit: money(credit)})
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// Connect attaches the calling customer to a machine, displacing any
// previous attachment.
// POST /api/customer/connect
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())

	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "code is required")
		return
	}

	if err := h.Registry.Connect(r.Context(), p.CustomerID, req.Code); err != nil {
		writeDomainError(w, err)
		return
	}

	metrics.Connections.WithLabelValues("connect").Inc()
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// Disconnect detaches the calling customer. Safe to call when not
// attached.
// POST /api/customer/disconnect
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	if err := h.Registry.Disconnect(r.Context(), p.CustomerID); err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.Connections.WithLabelValues("disconnect").Inc()
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// CurrentConnection reports where the calling customer is attached.
// GET /api/customer/current-connection
func (h *Handler) CurrentConnection(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())

	conn, err := h.Registry.ActiveDistributorFor(r.Context(), p.CustomerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := CurrentConnectionResponse{OK: true}
	if conn != nil {
		resp.Connection = &ConnectionDTO{
			DistributorCode: conn.DistributorCode,
			ConnectedAt:     conn.ConnectedAt.UTC().Format(timeLayout),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Profile returns the calling customer's account and current balance.
// GET /api/customer/me
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())

	cust, err := h.Store.CustomerByID(r.Context(), p.CustomerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if cust == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "customer not found")
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{
		OK:       true,
		Username: cust.Username,
		Role:     string(cust.Role),
		Credit:   money(cust.Credit),
	})
}

// TopUp adds credit to the calling customer's balance.
// POST /api/customer/topup
func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())

	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "amount must be a positive decimal")
		return
	}

	credit, err := h.Store.TopUpCredit(r.Context(), p.CustomerID, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CreditResponse{OK: true, Credit: money(credit)})
}

// =============================================================================
// FLEET / STAFF HANDLERS
// =============================================================================

// SyncMonitor pulls the monitor's status map and applies it. An empty
// map means the monitor was unreachable: 502, nothing applied.
// POST /api/monitor/sync
func (h *Handler) SyncMonitor(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Reconciler.Pull(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if summary.Empty() {
		writeError(w, http.StatusBadGateway, "MONITOR_UNREACHABLE", "monitor returned no data")
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{
		OK:       true,
		Received: summary.Received,
		Updated:  summary.Updated,
		Missing:  summary.Missing,
		Invalid:  summary.Invalid,
	})
}

// PushMonitor sends the local distributor snapshot to the monitor.
// Best-effort: delivery failures are not surfaced.
// POST /api/monitor/push
func (h *Handler) PushMonitor(w http.ResponseWriter, r *http.Request) {
	if err := h.Reconciler.Push(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// FleetState returns every machine with merged status, supply levels,
// and open faults.
// GET /api/distributors/state
func (h *Handler) FleetState(w http.ResponseWriter, r *http.Request) {
	states, err := h.Reconciler.FleetState(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FleetStateResponse{OK: true, Distributors: toStateDTOs(states)})
}

// RefillDistributor resets a machine's counters to full capacity.
// POST /api/maintainer/distributors/refill
func (h *Handler) RefillDistributor(w http.ResponseWriter, r *http.Request) {
	var req RefillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "code is required")
		return
	}

	if err := h.Store.RefillSupplies(r.Context(), req.Code, vending.FullSupplyLevels()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// SetDistributorStatus overrides the local authoritative status.
// Setting ACTIVE also closes open faults for the machine.
// POST /api/maintainer/distributors/status
func (h *Handler) SetDistributorStatus(w http.ResponseWriter, r *http.Request) {
	var req SetStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "code is required")
		return
	}
	status, ok := vending.ParseStatus(req.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown status")
		return
	}

	err := h.Store.WithTx(r.Context(), func(tx vending.Store) error {
		if err := tx.UpdateDistributorStatus(r.Context(), req.Code, status); err != nil {
			return err
		}
		if status == vending.StatusActive {
			return tx.CloseFaults(r.Context(), req.Code)
		}
		return nil
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// CreateDistributor registers a new machine with a zeroed supply row.
// POST /api/admin/distributors
func (h *Handler) CreateDistributor(w http.ResponseWriter, r *http.Request) {
	var req CreateDistributorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "code is required")
		return
	}

	status := vending.StatusActive
	if req.Status != "" {
		parsed, ok := vending.ParseStatus(req.Status)
		if !ok {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown status")
			return
		}
		status = parsed
	}

	// The code column is unique; the store maps a duplicate insert to
	// ErrConflict, so there is no racy check-then-insert here.
	id, err := h.Store.CreateDistributor(r.Context(), req.Code, req.Location, status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateDistributorResponse{OK: true, ID: id, Code: req.Code})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

const timeLayout = "2006-01-02T15:04:05Z07:00"

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{OK: false, Code: code, Error: message})
}

// writeDomainError translates a domain error into its one HTTP status
// via the stable machine code.
func writeDomainError(w http.ResponseWriter, err error) {
	code := vending.Code(err)
	writeError(w, httpStatus(code), code, err.Error())
}

func httpStatus(code string) int {
	switch code {
	case "NO_CUSTOMER_CONNECTED", "OUT_OF_STOCK", "INSUFFICIENT_CREDIT", "INVALID_PRICE", "CONFLICT":
		return http.StatusConflict
	case "INVALID_BEVERAGE", "NOT_FOUND":
		return http.StatusNotFound
	case "UNAUTHORIZED":
		return http.StatusUnauthorized
	case "MONITOR_UNREACHABLE":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func purchaseOutcome(err error) string {
	switch {
	case errors.Is(err, vending.ErrNoCustomerConnected):
		return "no_customer"
	case errors.Is(err, vending.ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, vending.ErrInsufficientCredit):
		return "insufficient_credit"
	case errors.Is(err, vending.ErrInvalidBeverage):
		return "invalid_beverage"
	case errors.Is(err, vending.ErrInvalidPrice):
		return "invalid_price"
	default:
		return "error"
	}
}

func bootOutcome(err error) string {
	switch {
	case errors.Is(err, vending.ErrConflict):
		return "conflict"
	case errors.Is(err, vending.ErrNotFound):
		return "unknown"
	default:
		return "error"
	}
}
