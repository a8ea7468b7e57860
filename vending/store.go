/*
store.go - Persistence interfaces for the vending core

PURPOSE:
  Defines the interface between the domain components and the database.
  The components in this package never hold entity state across calls;
  everything is read and written through these interfaces.

KEY INTERFACES:
  Store:   The full operation set. A call on a plain Store runs in its
           own implicit transaction.
  TxStore: Adds WithTx, the scoped-transaction abstraction: run a
           closure against a Store bound to one database transaction,
           commit on nil, roll back on error, release on every path.

CONDITIONAL UPDATES:
  DeductSupplies and DeductCredit are compare-and-swap-style SQL
  updates (WHERE counters >= deduction / WHERE credit >= price). They
  report matched=false instead of erroring when the condition fails.
  This is what keeps the purchase engine correct under concurrency
  without application-level locks - implementations must preserve it.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: production SQLite
*/
package vending

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store is the persistence operation set shared by direct and
// transactional access.
type Store interface {
	// --- customers ---

	// CustomerByID returns nil, nil when absent.
	CustomerByID(ctx context.Context, id int64) (*Customer, error)

	// CustomerByToken resolves a customer/staff API token. nil, nil for
	// unknown or blank tokens.
	CustomerByToken(ctx context.Context, token string) (*Customer, error)

	// CreateCustomer inserts a customer with zero credit and returns
	// the generated id.
	CreateCustomer(ctx context.Context, username, email string, role Role, apiToken string) (int64, error)

	// CustomerCredit returns the current balance. ErrNotFound when the
	// customer does not exist.
	CustomerCredit(ctx context.Context, customerID int64) (decimal.Decimal, error)

	// TopUpCredit adds amount (> 0, validated by the caller) and
	// returns the new balance.
	TopUpCredit(ctx context.Context, customerID int64, amount decimal.Decimal) (decimal.Decimal, error)

	// DeductCredit subtracts price conditioned on credit >= price.
	// matched=false means insufficient credit; nothing was changed.
	DeductCredit(ctx context.Context, customerID int64, price decimal.Decimal) (matched bool, err error)

	// --- distributors ---

	// DistributorByCode returns nil, nil when absent.
	DistributorByCode(ctx context.Context, code string) (*Distributor, error)

	// CreateDistributor inserts the distributor and its zeroed supply
	// row atomically, returning the generated id.
	CreateDistributor(ctx context.Context, code, location string, status Status) (int64, error)

	// UpdateDistributorStatus sets the authoritative status.
	// ErrNotFound when the code does not exist.
	UpdateDistributorStatus(ctx context.Context, code string, status Status) error

	// ApplyStatus is UpdateDistributorStatus for reconciliation:
	// changed=true only when the row existed and the stored status
	// actually moved. ErrNotFound when the code is unknown.
	ApplyStatus(ctx context.Context, code string, status Status) (changed bool, err error)

	// ListDistributors returns every distributor ordered by code.
	ListDistributors(ctx context.Context) ([]Distributor, error)

	// --- device identity ---

	// SetDeviceToken stores the bearer token for a code; an empty token
	// moves the machine back to UNPROVISIONED. ErrNotFound when absent.
	SetDeviceToken(ctx context.Context, code, token string) error

	// ClaimDeviceToken installs token only if the machine currently has
	// none, in one conditional write. claimed=false means a token
	// already exists; ErrNotFound when the code is unknown. Concurrent
	// boots race on this and exactly one wins.
	ClaimDeviceToken(ctx context.Context, code, token string) (claimed bool, err error)

	// DistributorCodeByToken resolves a presented device token.
	// Returns "" (no error) for unknown or blank tokens.
	DistributorCodeByToken(ctx context.Context, token string) (string, error)

	// --- supplies ---

	// SupplyLevelsFor returns the counters. ErrNotFound when the
	// distributor has no supply row.
	SupplyLevelsFor(ctx context.Context, distributorID int64) (*SupplyLevels, error)

	// RefillSupplies resets every counter to the given levels.
	// ErrNotFound when the code does not exist.
	RefillSupplies(ctx context.Context, code string, levels SupplyLevels) error

	// DeductSupplies subtracts d from all counters conditioned on every
	// counter staying >= 0. matched=false means out of stock; nothing
	// was changed.
	DeductSupplies(ctx context.Context, distributorID int64, d SupplyDeduction) (matched bool, err error)

	// --- beverages ---

	// ActiveBeverageByID returns nil, nil when the beverage is absent
	// or inactive.
	ActiveBeverageByID(ctx context.Context, id int64) (*Beverage, error)

	// ActiveBeverages lists purchasable beverages ordered by name.
	ActiveBeverages(ctx context.Context) ([]Beverage, error)

	// CreateBeverage inserts a beverage and returns the generated id.
	CreateBeverage(ctx context.Context, name string, price decimal.Decimal, active bool) (int64, error)

	// --- connections ---

	// CloseOpenConnection stamps disconnected_at on the customer's open
	// connection. No-op (nil) when none exists.
	CloseOpenConnection(ctx context.Context, customerID int64) error

	// InsertConnection opens a new connection row. Anything but exactly
	// one inserted row is a persistence failure.
	InsertConnection(ctx context.Context, customerID, distributorID int64) error

	// ActiveConnectionByCustomer returns the customer's single open
	// connection (latest connected_at wins), or nil, nil.
	ActiveConnectionByCustomer(ctx context.Context, customerID int64) (*Connection, error)

	// ActiveCustomerByDistributor returns the customer attached to the
	// distributor code, or nil, nil. Inside a WithTx closure this read
	// is the row-locking concurrency anchor of the purchase flow: the
	// transaction it runs in blocks concurrent writers on the same
	// connection row until commit or rollback.
	ActiveCustomerByDistributor(ctx context.Context, code string) (*ConnectedCustomer, error)

	// --- purchases ---

	// InsertPurchase records an immutable purchase row. Anything but
	// exactly one inserted row is a persistence failure.
	InsertPurchase(ctx context.Context, p Purchase) error

	// --- faults ---

	// ReportFault opens a fault entry for a distributor code.
	// ErrNotFound when the code does not exist.
	ReportFault(ctx context.Context, code, description string) error

	// CloseFaults marks all open faults for a code as resolved.
	CloseFaults(ctx context.Context, code string) error

	// FleetState returns one entry per distributor with its raw local
	// status, supply levels, and open faults, ordered by code.
	FleetState(ctx context.Context) ([]DistributorState, error)
}

// TxStore is a Store that can scope a batch of operations to a single
// database transaction.
type TxStore interface {
	Store

	// WithTx executes fn against a Store bound to one transaction.
	// Commit when fn returns nil, roll back when it returns an error,
	// release the handle on every exit path.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// MonitorGateway is the wire boundary to the external runtime monitor.
// Every method is best-effort: implementations swallow network errors
// and degrade to empty data, because the monitor is advisory only.
type MonitorGateway interface {
	// Heartbeat announces that a machine booted. Failures are ignored.
	Heartbeat(ctx context.Context, code string)

	// FetchStatuses returns the monitor's code -> raw status map.
	// Empty on any network or parse failure.
	FetchStatuses(ctx context.Context) map[string]string

	// PushSnapshot sends the local distributor list to the monitor.
	// Failures are ignored.
	PushSnapshot(ctx context.Context, distributors []Distributor)
}
