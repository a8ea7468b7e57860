package vending

import (
	"context"
	"fmt"
)

// ConnectionRegistry tracks which customer is attached to which
// distributor. Connection state is the join key between "who is in
// front of the machine" and "whose credit may be charged", so every
// mutation runs in a store transaction.
type ConnectionRegistry struct {
	store TxStore
}

// NewConnectionRegistry creates a registry over the given store.
func NewConnectionRegistry(store TxStore) *ConnectionRegistry {
	return &ConnectionRegistry{store: store}
}

// Connect attaches the customer to the distributor identified by code.
// Any prior open connection for the customer is closed in the same
// transaction (last-writer-wins per customer), so the previous machine
// immediately shows no connected customer.
func (r *ConnectionRegistry) Connect(ctx context.Context, customerID int64, code string) error {
	dist, err := r.store.DistributorByCode(ctx, code)
	if err != nil {
		return Persistence("registry.Connect", err)
	}
	if dist == nil {
		return fmt.Errorf("distributor %q: %w", code, ErrNotFound)
	}

	return r.store.WithTx(ctx, func(tx Store) error {
		if err := tx.CloseOpenConnection(ctx, customerID); err != nil {
			return Persistence("registry.Connect", err)
		}
		if err := tx.InsertConnection(ctx, customerID, dist.ID); err != nil {
			return err
		}
		return nil
	})
}

// Disconnect closes the customer's open connection. No-op when none
// exists.
func (r *ConnectionRegistry) Disconnect(ctx context.Context, customerID int64) error {
	if err := r.store.CloseOpenConnection(ctx, customerID); err != nil {
		return Persistence("registry.Disconnect", err)
	}
	return nil
}

// ActiveDistributorFor returns the open connection of a customer, or
// nil when there is none.
func (r *ConnectionRegistry) ActiveDistributorFor(ctx context.Context, customerID int64) (*Connection, error) {
	conn, err := r.store.ActiveConnectionByCustomer(ctx, customerID)
	if err != nil {
		return nil, Persistence("registry.ActiveDistributorFor", err)
	}
	return conn, nil
}

// ActiveCustomerFor returns the customer attached to a distributor
// code, or nil when the machine is idle.
func (r *ConnectionRegistry) ActiveCustomerFor(ctx context.Context, code string) (*ConnectedCustomer, error) {
	cc, err := r.store.ActiveCustomerByDistributor(ctx, code)
	if err != nil {
		return nil, Persistence("registry.ActiveCustomerFor", err)
	}
	return cc, nil
}
