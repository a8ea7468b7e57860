package vending_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewnet/vendcore/vending"
)

func TestConnect_SwitchingMachinesClosesPrevious(t *testing.T) {
	// GIVEN: A customer connected to machine A
	// WHEN: Connecting to machine B
	// THEN: A shows idle, B shows the customer, exactly one open row

	store := newTestStore(t)
	ctx := context.Background()

	seedDistributor(t, store, "VM-A", vending.SupplyLevels{})
	seedDistributor(t, store, "VM-B", vending.SupplyLevels{})
	custID := seedCustomer(t, store, "alice", "1.00")

	registry := vending.NewConnectionRegistry(store)
	require.NoError(t, registry.Connect(ctx, custID, "VM-A"))
	require.NoError(t, registry.Connect(ctx, custID, "VM-B"))

	onA, err := registry.ActiveCustomerFor(ctx, "VM-A")
	require.NoError(t, err)
	assert.Nil(t, onA, "machine A should be idle after the switch")

	onB, err := registry.ActiveCustomerFor(ctx, "VM-B")
	require.NoError(t, err)
	require.NotNil(t, onB)
	assert.Equal(t, custID, onB.CustomerID)
	assert.Equal(t, "alice", onB.Username)

	conn, err := registry.ActiveDistributorFor(ctx, custID)
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, "VM-B", conn.DistributorCode)
}

func TestConnect_UnknownDistributor(t *testing.T) {
	store := newTestStore(t)
	custID := seedCustomer(t, store, "bob", "")

	registry := vending.NewConnectionRegistry(store)
	err := registry.Connect(context.Background(), custID, "VM-GHOST")
	require.ErrorIs(t, err, vending.ErrNotFound)
}

func TestDisconnect_IsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedDistributor(t, store, "VM-A", vending.SupplyLevels{})
	custID := seedCustomer(t, store, "carol", "")

	registry := vending.NewConnectionRegistry(store)

	// Disconnect with no open connection is a no-op.
	require.NoError(t, registry.Disconnect(ctx, custID))

	require.NoError(t, registry.Connect(ctx, custID, "VM-A"))
	require.NoError(t, registry.Disconnect(ctx, custID))
	require.NoError(t, registry.Disconnect(ctx, custID))

	conn, err := registry.ActiveDistributorFor(ctx, custID)
	require.NoError(t, err)
	assert.Nil(t, conn)
}

func TestConnect_TwoCustomersSameMachine_LatestWins(t *testing.T) {
	// GIVEN: Alice is connected to the machine
	// WHEN: Bob connects to the same machine
	// THEN: The machine resolves to Bob; Alice keeps her open row
	//       until she connects elsewhere or disconnects

	store := newTestStore(t)
	ctx := context.Background()

	seedDistributor(t, store, "VM-A", vending.SupplyLevels{})
	alice := seedCustomer(t, store, "alice", "")
	bob := seedCustomer(t, store, "bob", "")

	registry := vending.NewConnectionRegistry(store)
	require.NoError(t, registry.Connect(ctx, alice, "VM-A"))
	require.NoError(t, registry.Connect(ctx, bob, "VM-A"))

	cc, err := registry.ActiveCustomerFor(ctx, "VM-A")
	require.NoError(t, err)
	require.NotNil(t, cc)
	assert.Equal(t, bob, cc.CustomerID)

	conn, err := registry.ActiveDistributorFor(ctx, alice)
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, "VM-A", conn.DistributorCode)
}
