/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

CONVENTION:
  Every response body carries "ok". Monetary amounts are serialized as
  decimal strings ("1.00"), never floats.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/brewnet/vendcore/vending"
)

// =============================================================================
// GENERIC RESPONSES
// =============================================================================

// OKResponse is the body for operations with nothing else to say.
type OKResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is the uniform error body. Code is the stable machine
// code clients branch on; Error is human-readable.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// =============================================================================
// DISTRIBUTOR (DEVICE) TYPES
// =============================================================================

// BootRequest announces a machine boot by code.
type BootRequest struct {
	Code string `json:"code"`
}

// BootResponse carries the one-time device token.
type BootResponse struct {
	OK    bool   `json:"ok"`
	Token string `json:"token"`
}

// PollResponse is what an idle machine shows on its screen: merged
// operational status plus whoever is attached right now.
type PollResponse struct {
	OK         bool    `json:"ok"`
	Status     string  `json:"status"`
	Connected  bool    `json:"connected"`
	CustomerID *int64  `json:"customerId,omitempty"`
	Username   *string `json:"username,omitempty"`
	Credit     *string `json:"credit,omitempty"`
}

// BeverageDTO is one purchasable item.
type BeverageDTO struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

// BeverageListResponse lists the active menu.
type BeverageListResponse struct {
	OK        bool          `json:"ok"`
	Beverages []BeverageDTO `json:"beverages"`
}

// PurchaseRequest is a dispense attempt from a machine.
type PurchaseRequest struct {
	Code       string `json:"code"`
	BeverageID int64  `json:"beverageId"`
	SugarQty   int    `json:"sugarQty"`
}

// CreditResponse carries a credit balance after a purchase or top-up.
type CreditResponse struct {
	OK     bool   `json:"ok"`
	Credit string `json:"credit"`
}

// =============================================================================
// CUSTOMER TYPES
// =============================================================================

// ProfileResponse is the calling customer's account view.
type ProfileResponse struct {
	OK       bool   `json:"ok"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Credit   string `json:"credit"`
}

// ConnectRequest attaches the calling customer to a machine.
type ConnectRequest struct {
	Code string `json:"code"`
}

// ConnectionDTO is the customer's current attachment.
type ConnectionDTO struct {
	DistributorCode string `json:"distributorCode"`
	ConnectedAt     string `json:"connectedAt"`
}

// CurrentConnectionResponse reports the customer's open connection,
// null when not attached anywhere.
type CurrentConnectionResponse struct {
	OK         bool           `json:"ok"`
	Connection *ConnectionDTO `json:"connection"`
}

// TopUpRequest adds credit. Amount is a decimal string.
type TopUpRequest struct {
	Amount string `json:"amount"`
}

// =============================================================================
// FLEET / STAFF TYPES
// =============================================================================

// SyncResponse reports one reconciliation pass.
type SyncResponse struct {
	OK       bool `json:"ok"`
	Received int  `json:"received"`
	Updated  int  `json:"updated"`
	Missing  int  `json:"missing"`
	Invalid  int  `json:"invalid"`
}

// FaultDTO is one open hardware fault.
type FaultDTO struct {
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
}

// SupplyLevelsDTO mirrors the four stock counters.
type SupplyLevelsDTO struct {
	CoffeeGrams int `json:"coffeeGrams"`
	MilkMl      int `json:"milkMl"`
	SugarGrams  int `json:"sugarGrams"`
	Cups        int `json:"cups"`
}

// DistributorStateDTO is the fleet-report view of one machine.
type DistributorStateDTO struct {
	Code     string          `json:"code"`
	Location string          `json:"location"`
	Status   string          `json:"status"`
	Supplies SupplyLevelsDTO `json:"supplies"`
	Faults   []FaultDTO      `json:"faults"`
}

// FleetStateResponse is the full fleet snapshot.
type FleetStateResponse struct {
	OK           bool                  `json:"ok"`
	Distributors []DistributorStateDTO `json:"distributors"`
}

// RefillRequest resets one machine's counters to full capacity.
type RefillRequest struct {
	Code string `json:"code"`
}

// SetStatusRequest overrides the local authoritative status.
type SetStatusRequest struct {
	Code   string `json:"code"`
	Status string `json:"status"`
}

// CreateDistributorRequest registers a new machine.
type CreateDistributorRequest struct {
	Code     string `json:"code"`
	Location string `json:"location"`
	Status   string `json:"status"`
}

// CreateDistributorResponse acknowledges the new machine.
type CreateDistributorResponse struct {
	OK   bool   `json:"ok"`
	ID   int64  `json:"id"`
	Code string `json:"code"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func toBeverageDTOs(beverages []vending.Beverage) []BeverageDTO {
	dtos := make([]BeverageDTO, len(beverages))
	for i, b := range beverages {
		dtos[i] = BeverageDTO{ID: b.ID, Name: b.Name, Price: money(b.Price)}
	}
	return dtos
}

func toStateDTOs(states []vending.DistributorState) []DistributorStateDTO {
	dtos := make([]DistributorStateDTO, len(states))
	for i, st := range states {
		faults := make([]FaultDTO, len(st.Faults))
		for j, f := range st.Faults {
			faults[j] = FaultDTO{
				Description: f.Description,
				CreatedAt:   f.CreatedAt.UTC().Format(time.RFC3339),
			}
		}
		dtos[i] = DistributorStateDTO{
			Code:     st.Code,
			Location: st.Location,
			Status:   string(st.Status),
			Supplies: SupplyLevelsDTO{
				CoffeeGrams: st.Supplies.CoffeeGrams,
				MilkMl:      st.Supplies.MilkMl,
				SugarGrams:  st.Supplies.SugarGrams,
				Cups:        st.Supplies.Cups,
			},
			Faults: faults,
		}
	}
	return dtos
}
