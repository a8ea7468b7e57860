/*
Package vending is the transactional core of the fleet backend.

It owns the domain model (customers, distributors, supplies, beverages,
connections, purchases), the error taxonomy, and the four operational
components built on top of the Store interfaces:

  ConnectionRegistry:  who is attached to which machine
  DeviceLifecycle:     one-time bearer credential per boot cycle
  PurchaseEngine:      the atomic purchase transaction
  Reconciler:          local/remote operational-status reconciliation

The package holds no mutable state of its own; every read-modify-write
sequence goes through a store transaction. Money is shopspring decimal
end to end - never floating point.
*/
package vending

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the authoritative operational status of a distributor.
type Status string

const (
	StatusActive      Status = "ACTIVE"
	StatusMaintenance Status = "MAINTENANCE"
	StatusFault       Status = "FAULT"
)

// Role of an authenticated user.
type Role string

const (
	RoleCustomer   Role = "CUSTOMER"
	RoleMaintainer Role = "MAINTAINER"
	RoleManager    Role = "MANAGER"
)

// Per-purchase supply consumption. Sugar is the clamped per-request
// quantity; everything else is fixed per dispense.
const (
	CoffeeGramsPerPurchase = 7
	MilkMlPerPurchase      = 0
	CupsPerPurchase        = 1

	SugarQtyMin = 0
	SugarQtyMax = 10
)

// Full-capacity levels a refill resets every counter to.
const (
	RefillCoffeeGrams = 2000
	RefillMilkMl      = 5000 // 5 liters
	RefillSugarGrams  = 2000
	RefillCups        = 200
)

// Customer is a registered account with a prepaid credit balance.
// Credit only moves through top-ups (+) and purchases (-).
type Customer struct {
	ID        int64
	Username  string
	Email     string
	Role      Role
	Credit    decimal.Decimal
	CreatedAt time.Time
}

// Distributor is a physical vending machine.
type Distributor struct {
	ID          int64
	Code        string
	Location    string
	Status      Status
	DeviceToken string // empty when UNPROVISIONED
	CreatedAt   time.Time
}

// SupplyLevels are the four non-negative counters attached 1:1 to a
// distributor.
type SupplyLevels struct {
	DistributorID int64
	CoffeeGrams   int
	MilkMl        int
	SugarGrams    int
	Cups          int
}

// SupplyDeduction is what one dispense subtracts from the counters.
type SupplyDeduction struct {
	CoffeeGrams int
	MilkMl      int
	SugarGrams  int
	Cups        int
}

// DeductionFor returns the per-purchase deduction for a (already
// clamped) sugar quantity.
func DeductionFor(sugarQty int) SupplyDeduction {
	return SupplyDeduction{
		CoffeeGrams: CoffeeGramsPerPurchase,
		MilkMl:      MilkMlPerPurchase,
		SugarGrams:  sugarQty,
		Cups:        CupsPerPurchase,
	}
}

// FullSupplyLevels returns the counters a refill resets to.
func FullSupplyLevels() SupplyLevels {
	return SupplyLevels{
		CoffeeGrams: RefillCoffeeGrams,
		MilkMl:      RefillMilkMl,
		SugarGrams:  RefillSugarGrams,
		Cups:        RefillCups,
	}
}

// Beverage is a purchasable item. Only active beverages are sold.
type Beverage struct {
	ID       int64
	Name     string
	Price    decimal.Decimal
	IsActive bool
}

// Connection binds a customer to the distributor they are operating.
// At most one row per customer has DisconnectedAt == nil.
type Connection struct {
	ID              int64
	CustomerID      int64
	DistributorID   int64
	DistributorCode string
	ConnectedAt     time.Time
	DisconnectedAt  *time.Time
}

// ConnectedCustomer is the resolved identity on the other side of a
// distributor's open connection. It is what the purchase transaction
// locks in step 1.
type ConnectedCustomer struct {
	CustomerID    int64
	DistributorID int64
	Username      string
	Credit        decimal.Decimal
}

// Purchase is the immutable record of a successful dispense.
type Purchase struct {
	ID            int64
	CustomerID    int64
	DistributorID int64
	BeverageID    int64
	SugarQty      int
	PricePaid     decimal.Decimal
	CreatedAt     time.Time
}

// Fault is an open or resolved hardware fault reported for a machine.
type Fault struct {
	ID            int64
	DistributorID int64
	Description   string
	IsOpen        bool
	CreatedAt     time.Time
}

// DistributorState is the fleet-report view of one machine: merged
// operational status, supply levels, and open faults.
type DistributorState struct {
	Code     string
	Location string
	Status   Status // merged, not the raw local row
	Supplies SupplyLevels
	Faults   []Fault
}
