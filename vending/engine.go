package vending

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// PurchaseEngine runs the atomic purchase transaction. Every step of
// Purchase happens inside one store transaction; on any failure the
// whole thing rolls back, so no partial stock or credit change is ever
// observable.
type PurchaseEngine struct {
	store TxStore
}

// NewPurchaseEngine creates an engine over the given store.
func NewPurchaseEngine(store TxStore) *PurchaseEngine {
	return &PurchaseEngine{store: store}
}

// ClampSugar clamps a requested sugar quantity into [0, 10]. Out-of-
// range values are not an error; they only affect the sweetener
// deduction.
func ClampSugar(qty int) int {
	if qty < SugarQtyMin {
		return SugarQtyMin
	}
	if qty > SugarQtyMax {
		return SugarQtyMax
	}
	return qty
}

// Purchase dispenses beverageID on the distributor identified by code,
// charging whoever is connected to it, and returns the customer's new
// balance.
//
// Ordered steps, all in one transaction:
//
//  1. Resolve the open connection for the code. The read runs inside
//     the transaction, so a concurrent disconnect or second purchase on
//     the same machine serializes against it; the customer resolved
//     here is the customer charged, no matter what commits later.
//  2. Resolve the price server-side from the active beverage row.
//  3. Clamp sugar to [0, 10], silently.
//  4. Conditionally deduct supplies (every counter must stay >= 0).
//     Zero matched rows means OutOfStock - there is no separate
//     read-then-check, so there is no race window.
//  5. Conditionally deduct credit (credit >= price). Zero matched rows
//     means InsufficientCredit.
//  6. Insert the immutable purchase row.
//  7. Read back the new balance.
//
// OutOfStock and InsufficientCredit are legitimate outcomes, not
// transient faults; callers must not retry the same request.
func (e *PurchaseEngine) Purchase(ctx context.Context, code string, beverageID int64, sugarQty int) (decimal.Decimal, error) {
	var newCredit decimal.Decimal

	err := e.store.WithTx(ctx, func(tx Store) error {
		// 1. Lock & resolve the connected customer.
		cc, err := tx.ActiveCustomerByDistributor(ctx, code)
		if err != nil {
			return Persistence("engine.Purchase", err)
		}
		if cc == nil {
			return fmt.Errorf("distributor %q: %w", code, ErrNoCustomerConnected)
		}

		// 2. Server-side price resolution. Client-supplied prices are
		// never trusted.
		bev, err := tx.ActiveBeverageByID(ctx, beverageID)
		if err != nil {
			return Persistence("engine.Purchase", err)
		}
		if bev == nil {
			return fmt.Errorf("beverage %d: %w", beverageID, ErrInvalidBeverage)
		}
		if !bev.Price.IsPositive() {
			return fmt.Errorf("beverage %d price %s: %w", beverageID, bev.Price, ErrInvalidPrice)
		}

		// 3. Clamp sugar.
		sugar := ClampSugar(sugarQty)

		// 4. Conditional supply deduction.
		matched, err := tx.DeductSupplies(ctx, cc.DistributorID, DeductionFor(sugar))
		if err != nil {
			return Persistence("engine.Purchase", err)
		}
		if !matched {
			return fmt.Errorf("distributor %q: %w", code, ErrOutOfStock)
		}

		// 5. Conditional credit deduction.
		matched, err = tx.DeductCredit(ctx, cc.CustomerID, bev.Price)
		if err != nil {
			return Persistence("engine.Purchase", err)
		}
		if !matched {
			return fmt.Errorf("customer %d: %w", cc.CustomerID, ErrInsufficientCredit)
		}

		// 6. Immutable purchase record.
		if err := tx.InsertPurchase(ctx, Purchase{
			CustomerID:    cc.CustomerID,
			DistributorID: cc.DistributorID,
			BeverageID:    beverageID,
			SugarQty:      sugar,
			PricePaid:     bev.Price,
		}); err != nil {
			return err
		}

		// 7. Read back the balance to return.
		newCredit, err = tx.CustomerCredit(ctx, cc.CustomerID)
		if err != nil {
			return Persistence("engine.Purchase", err)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return newCredit, nil
}
