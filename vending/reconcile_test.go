package vending_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewnet/vendcore/vending"
)

// =============================================================================
// PULL
// =============================================================================

func TestPull_TalliesEveryEntry(t *testing.T) {
	// GIVEN: Three local machines and a monitor map with one real
	//        change, one no-op, one unknown code, one legacy synonym,
	//        and one garbage status
	store := newTestStore(t)
	ctx := context.Background()

	seedDistributor(t, store, "VM-A", vending.SupplyLevels{}) // ACTIVE locally
	seedDistributor(t, store, "VM-B", vending.SupplyLevels{})
	seedDistributor(t, store, "VM-C", vending.SupplyLevels{})

	monitor := &stubMonitor{statuses: map[string]string{
		"VM-A":     "FAULT",   // change
		"VM-B":     "ACTIVE",  // no-op
		"VM-C":     "GUASTO",  // legacy synonym, change
		"VM-GHOST": "FAULT",   // unknown locally
		"VM-BAD":   "UNKNOWN", // unparseable status
	}}

	reconciler := vending.NewReconciler(store, monitor)
	summary, err := reconciler.Pull(ctx)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Received)
	assert.Equal(t, 2, summary.Updated)
	assert.Equal(t, 1, summary.Missing)
	assert.Equal(t, 1, summary.Invalid)
	assert.False(t, summary.Empty())

	// The changes landed.
	a, err := store.DistributorByCode(ctx, "VM-A")
	require.NoError(t, err)
	assert.Equal(t, vending.StatusFault, a.Status)

	c, err := store.DistributorByCode(ctx, "VM-C")
	require.NoError(t, err)
	assert.Equal(t, vending.StatusFault, c.Status)

	b, err := store.DistributorByCode(ctx, "VM-B")
	require.NoError(t, err)
	assert.Equal(t, vending.StatusActive, b.Status)
}

func TestPull_SilentMonitorIsEmptyNotError(t *testing.T) {
	store := newTestStore(t)
	seedDistributor(t, store, "VM-A", vending.SupplyLevels{})

	reconciler := vending.NewReconciler(store, &stubMonitor{})
	summary, err := reconciler.Pull(context.Background())

	require.NoError(t, err)
	assert.True(t, summary.Empty())
	assert.Zero(t, summary.Updated)
}

func TestPull_RepeatPassIsIdempotent(t *testing.T) {
	// GIVEN: A pass that already applied FAULT to VM-A
	// WHEN: The same map arrives again
	// THEN: Received counts, Updated does not

	store := newTestStore(t)
	seedDistributor(t, store, "VM-A", vending.SupplyLevels{})
	monitor := &stubMonitor{statuses: map[string]string{"VM-A": "FAULT"}}

	reconciler := vending.NewReconciler(store, monitor)

	first, err := reconciler.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Updated)

	second, err := reconciler.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Received)
	assert.Zero(t, second.Updated)
}

// =============================================================================
// MERGED VIEWS
// =============================================================================

func TestMergedStatus_RemoteFaultShadowsLocalActive(t *testing.T) {
	store := newTestStore(t)
	seedDistributor(t, store, "VM-A", vending.SupplyLevels{})
	monitor := &stubMonitor{statuses: map[string]string{"VM-A": "GUASTO"}}

	reconciler := vending.NewReconciler(store, monitor)
	status, err := reconciler.MergedStatus(context.Background(), "VM-A")
	require.NoError(t, err)
	assert.Equal(t, vending.StatusFault, status)

	// The local row itself was not modified by the merged read.
	dist, err := store.DistributorByCode(context.Background(), "VM-A")
	require.NoError(t, err)
	assert.Equal(t, vending.StatusActive, dist.Status)
}

func TestMergedStatus_LocalMaintenanceShadowsRemote(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedDistributor(t, store, "VM-A", vending.SupplyLevels{})
	require.NoError(t, store.UpdateDistributorStatus(ctx, "VM-A", vending.StatusMaintenance))

	monitor := &stubMonitor{statuses: map[string]string{"VM-A": "ACTIVE"}}
	reconciler := vending.NewReconciler(store, monitor)

	status, err := reconciler.MergedStatus(ctx, "VM-A")
	require.NoError(t, err)
	assert.Equal(t, vending.StatusMaintenance, status)
}

func TestMergedStatus_UnknownCode(t *testing.T) {
	store := newTestStore(t)
	reconciler := vending.NewReconciler(store, &stubMonitor{})

	_, err := reconciler.MergedStatus(context.Background(), "VM-GHOST")
	require.ErrorIs(t, err, vending.ErrNotFound)
}

func TestFleetState_MergesAndCollectsFaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedDistributor(t, store, "VM-A", vending.SupplyLevels{
		CoffeeGrams: 100, SugarGrams: 50, Cups: 20,
	})
	seedDistributor(t, store, "VM-B", vending.SupplyLevels{})
	require.NoError(t, store.ReportFault(ctx, "VM-B", "grinder jam"))

	monitor := &stubMonitor{statuses: map[string]string{"VM-A": "FAULT"}}
	reconciler := vending.NewReconciler(store, monitor)

	states, err := reconciler.FleetState(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)

	byCode := map[string]vending.DistributorState{}
	for _, st := range states {
		byCode[st.Code] = st
	}

	assert.Equal(t, vending.StatusFault, byCode["VM-A"].Status)
	assert.Equal(t, 100, byCode["VM-A"].Supplies.CoffeeGrams)
	assert.Empty(t, byCode["VM-A"].Faults)

	assert.Equal(t, vending.StatusActive, byCode["VM-B"].Status)
	require.Len(t, byCode["VM-B"].Faults, 1)
	assert.Equal(t, "grinder jam", byCode["VM-B"].Faults[0].Description)
	assert.True(t, byCode["VM-B"].Faults[0].IsOpen)
}

// =============================================================================
// PUSH
// =============================================================================

func TestPush_SendsFullList(t *testing.T) {
	store := newTestStore(t)
	seedDistributor(t, store, "VM-A", vending.SupplyLevels{})
	seedDistributor(t, store, "VM-B", vending.SupplyLevels{})

	monitor := &stubMonitor{}
	reconciler := vending.NewReconciler(store, monitor)

	require.NoError(t, reconciler.Push(context.Background()))
	require.Len(t, monitor.pushed, 1)
	assert.Len(t, monitor.pushed[0], 2)
}
