package vending_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/brewnet/vendcore/store/sqlite"
	"github.com/brewnet/vendcore/vending"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// stubMonitor is a canned MonitorGateway for tests.
type stubMonitor struct {
	statuses   map[string]string
	heartbeats []string
	pushed     [][]vending.Distributor
}

func (m *stubMonitor) Heartbeat(_ context.Context, code string) {
	m.heartbeats = append(m.heartbeats, code)
}

func (m *stubMonitor) FetchStatuses(context.Context) map[string]string {
	if m.statuses == nil {
		return map[string]string{}
	}
	return m.statuses
}

func (m *stubMonitor) PushSnapshot(_ context.Context, distributors []vending.Distributor) {
	m.pushed = append(m.pushed, distributors)
}

func seedDistributor(t *testing.T, store *sqlite.Store, code string, levels vending.SupplyLevels) int64 {
	ctx := context.Background()
	id, err := store.CreateDistributor(ctx, code, "test hall", vending.StatusActive)
	require.NoError(t, err)
	require.NoError(t, store.RefillSupplies(ctx, code, levels))
	return id
}

func seedCustomer(t *testing.T, store *sqlite.Store, username, credit string) int64 {
	ctx := context.Background()
	id, err := store.CreateCustomer(ctx, username, username+"@example.com", vending.RoleCustomer, "")
	require.NoError(t, err)
	if credit != "" && credit != "0" {
		_, err = store.TopUpCredit(ctx, id, decimal.RequireFromString(credit))
		require.NoError(t, err)
	}
	return id
}

func seedBeverage(t *testing.T, store *sqlite.Store, name, price string) int64 {
	id, err := store.CreateBeverage(context.Background(), name, decimal.RequireFromString(price), true)
	require.NoError(t, err)
	return id
}

func connect(t *testing.T, store *sqlite.Store, customerID int64, code string) {
	registry := vending.NewConnectionRegistry(store)
	require.NoError(t, registry.Connect(context.Background(), customerID, code))
}

func supplyLevels(t *testing.T, store *sqlite.Store, distributorID int64) vending.SupplyLevels {
	levels, err := store.SupplyLevelsFor(context.Background(), distributorID)
	require.NoError(t, err)
	return *levels
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func creditOf(t *testing.T, store *sqlite.Store, customerID int64) string {
	credit, err := store.CustomerCredit(context.Background(), customerID)
	require.NoError(t, err)
	return credit.StringFixed(2)
}
