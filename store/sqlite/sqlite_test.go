package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewnet/vendcore/store/sqlite"
	"github.com/brewnet/vendcore/vending"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// CONDITIONAL CREDIT UPDATE
// =============================================================================

func TestDeductCredit_ExactBalanceMatches(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	id, err := store.CreateCustomer(ctx, "alice", "a@example.com", vending.RoleCustomer, "")
	require.NoError(t, err)
	_, err = store.TopUpCredit(ctx, id, dec("1.00"))
	require.NoError(t, err)

	matched, err := store.DeductCredit(ctx, id, dec("1.00"))
	require.NoError(t, err)
	assert.True(t, matched)

	credit, err := store.CustomerCredit(ctx, id)
	require.NoError(t, err)
	assert.True(t, credit.IsZero())
}

func TestDeductCredit_InsufficientLeavesBalance(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	id, err := store.CreateCustomer(ctx, "bob", "b@example.com", vending.RoleCustomer, "")
	require.NoError(t, err)
	_, err = store.TopUpCredit(ctx, id, dec("0.99"))
	require.NoError(t, err)

	matched, err := store.DeductCredit(ctx, id, dec("1.00"))
	require.NoError(t, err)
	assert.False(t, matched, "one cent short must not match")

	credit, err := store.CustomerCredit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "0.99", credit.StringFixed(2))
}

func TestTopUpCredit_Accumulates(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	id, err := store.CreateCustomer(ctx, "carol", "c@example.com", vending.RoleCustomer, "")
	require.NoError(t, err)

	credit, err := store.TopUpCredit(ctx, id, dec("2.50"))
	require.NoError(t, err)
	assert.Equal(t, "2.50", credit.StringFixed(2))

	credit, err = store.TopUpCredit(ctx, id, dec("0.75"))
	require.NoError(t, err)
	assert.Equal(t, "3.25", credit.StringFixed(2))
}

func TestTopUpCredit_UnknownCustomer(t *testing.T) {
	store := newStore(t)
	_, err := store.TopUpCredit(context.Background(), 4242, dec("1.00"))
	require.ErrorIs(t, err, vending.ErrNotFound)
}

// =============================================================================
// CONDITIONAL SUPPLY UPDATE
// =============================================================================

func TestDeductSupplies_AllCountersChecked(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	id, err := store.CreateDistributor(ctx, "VM-001", "lobby", vending.StatusActive)
	require.NoError(t, err)
	require.NoError(t, store.RefillSupplies(ctx, "VM-001", vending.SupplyLevels{
		CoffeeGrams: 7, MilkMl: 0, SugarGrams: 5, Cups: 1,
	}))

	// Sugar request exceeds stock: nothing moves.
	matched, err := store.DeductSupplies(ctx, id, vending.SupplyDeduction{
		CoffeeGrams: 7, SugarGrams: 6, Cups: 1,
	})
	require.NoError(t, err)
	assert.False(t, matched)

	levels, err := store.SupplyLevelsFor(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 7, levels.CoffeeGrams)
	assert.Equal(t, 5, levels.SugarGrams)
	assert.Equal(t, 1, levels.Cups)

	// Within stock: all four counters move together.
	matched, err = store.DeductSupplies(ctx, id, vending.SupplyDeduction{
		CoffeeGrams: 7, SugarGrams: 5, Cups: 1,
	})
	require.NoError(t, err)
	assert.True(t, matched)

	levels, err = store.SupplyLevelsFor(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, levels.CoffeeGrams)
	assert.Zero(t, levels.SugarGrams)
	assert.Zero(t, levels.Cups)
}

func TestRefillSupplies_UnknownCode(t *testing.T) {
	store := newStore(t)
	err := store.RefillSupplies(context.Background(), "VM-GHOST", vending.FullSupplyLevels())
	require.ErrorIs(t, err, vending.ErrNotFound)
}

func TestCreateDistributor_SeedsZeroedSupplyRow(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	id, err := store.CreateDistributor(ctx, "VM-001", "lobby", vending.StatusActive)
	require.NoError(t, err)

	levels, err := store.SupplyLevelsFor(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, levels.CoffeeGrams)
	assert.Zero(t, levels.Cups)
}

func TestCreateDistributor_DuplicateCodeConflicts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.CreateDistributor(ctx, "VM-001", "lobby", vending.StatusActive)
	require.NoError(t, err)

	// The unique index on code is the only arbiter; no check-then-insert.
	_, err = store.CreateDistributor(ctx, "VM-001", "hall", vending.StatusActive)
	require.ErrorIs(t, err, vending.ErrConflict)
}

// =============================================================================
// STATUS APPLICATION
// =============================================================================

func TestApplyStatus_DistinguishesChangeNoopMissing(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.CreateDistributor(ctx, "VM-001", "", vending.StatusActive)
	require.NoError(t, err)

	changed, err := store.ApplyStatus(ctx, "VM-001", vending.StatusFault)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.ApplyStatus(ctx, "VM-001", vending.StatusFault)
	require.NoError(t, err)
	assert.False(t, changed, "same status is a no-op, not a change")

	_, err = store.ApplyStatus(ctx, "VM-GHOST", vending.StatusFault)
	require.ErrorIs(t, err, vending.ErrNotFound)
}

// =============================================================================
// CONNECTIONS
// =============================================================================

func TestConnections_LatestOpenRowWinsPerDistributor(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	distID, err := store.CreateDistributor(ctx, "VM-001", "", vending.StatusActive)
	require.NoError(t, err)
	alice, err := store.CreateCustomer(ctx, "alice", "a@example.com", vending.RoleCustomer, "")
	require.NoError(t, err)
	bob, err := store.CreateCustomer(ctx, "bob", "b@example.com", vending.RoleCustomer, "")
	require.NoError(t, err)

	require.NoError(t, store.InsertConnection(ctx, alice, distID))
	require.NoError(t, store.InsertConnection(ctx, bob, distID))

	cc, err := store.ActiveCustomerByDistributor(ctx, "VM-001")
	require.NoError(t, err)
	require.NotNil(t, cc)
	assert.Equal(t, bob, cc.CustomerID)
}

func TestCloseOpenConnection_OnlyTouchesOpenRows(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	distID, err := store.CreateDistributor(ctx, "VM-001", "", vending.StatusActive)
	require.NoError(t, err)
	alice, err := store.CreateCustomer(ctx, "alice", "a@example.com", vending.RoleCustomer, "")
	require.NoError(t, err)

	require.NoError(t, store.InsertConnection(ctx, alice, distID))
	require.NoError(t, store.CloseOpenConnection(ctx, alice))

	conn, err := store.ActiveConnectionByCustomer(ctx, alice)
	require.NoError(t, err)
	assert.Nil(t, conn)

	// Closing again is harmless.
	require.NoError(t, store.CloseOpenConnection(ctx, alice))
}

// =============================================================================
// DEVICE TOKENS
// =============================================================================

func TestDeviceTokenRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.CreateDistributor(ctx, "VM-001", "", vending.StatusActive)
	require.NoError(t, err)

	require.NoError(t, store.SetDeviceToken(ctx, "VM-001", "tok-123"))

	code, err := store.DistributorCodeByToken(ctx, "tok-123")
	require.NoError(t, err)
	assert.Equal(t, "VM-001", code)

	// Clearing the token removes resolution; a blank token never
	// resolves even though the column stores "".
	require.NoError(t, store.SetDeviceToken(ctx, "VM-001", ""))

	code, err = store.DistributorCodeByToken(ctx, "tok-123")
	require.NoError(t, err)
	assert.Empty(t, code)

	code, err = store.DistributorCodeByToken(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, code)
}

func TestClaimDeviceToken_ConditionalOnBlankSlot(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.CreateDistributor(ctx, "VM-001", "", vending.StatusActive)
	require.NoError(t, err)

	claimed, err := store.ClaimDeviceToken(ctx, "VM-001", "tok-first")
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claim is refused and the stored token survives.
	claimed, err = store.ClaimDeviceToken(ctx, "VM-001", "tok-second")
	require.NoError(t, err)
	assert.False(t, claimed)

	code, err := store.DistributorCodeByToken(ctx, "tok-first")
	require.NoError(t, err)
	assert.Equal(t, "VM-001", code)

	_, err = store.ClaimDeviceToken(ctx, "VM-GHOST", "tok-x")
	require.ErrorIs(t, err, vending.ErrNotFound)
}

func TestClaimDeviceToken_ConcurrentClaimsOneWinner(t *testing.T) {
	// GIVEN: A machine with a blank token slot
	// WHEN: Many claims race on the one conditional update
	// THEN: Exactly one matches

	store := newStore(t)
	ctx := context.Background()

	_, err := store.CreateDistributor(ctx, "VM-001", "", vending.StatusActive)
	require.NoError(t, err)

	const claims = 8
	results := make([]bool, claims)
	errs := make([]error, claims)
	var wg sync.WaitGroup
	for i := 0; i < claims; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.ClaimDeviceToken(ctx, "VM-001", fmt.Sprintf("tok-%d", i))
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < claims; i++ {
		require.NoError(t, errs[i])
		if results[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one claim must match")
}

// =============================================================================
// API TOKENS
// =============================================================================

func TestCustomerByToken(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	id, err := store.CreateCustomer(ctx, "ops", "ops@example.com", vending.RoleManager, "api-tok-1")
	require.NoError(t, err)

	customer, err := store.CustomerByToken(ctx, "api-tok-1")
	require.NoError(t, err)
	require.NotNil(t, customer)
	assert.Equal(t, id, customer.ID)
	assert.Equal(t, vending.RoleManager, customer.Role)

	customer, err = store.CustomerByToken(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, customer)

	customer, err = store.CustomerByToken(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, customer)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollbackOnError(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	id, err := store.CreateCustomer(ctx, "alice", "a@example.com", vending.RoleCustomer, "")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = store.WithTx(ctx, func(tx vending.Store) error {
		if _, err := tx.TopUpCredit(ctx, id, dec("5.00")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	credit, err := store.CustomerCredit(ctx, id)
	require.NoError(t, err)
	assert.True(t, credit.IsZero(), "rolled-back top-up must not stick")
}

func TestWithTx_CommitOnNil(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	id, err := store.CreateCustomer(ctx, "bob", "b@example.com", vending.RoleCustomer, "")
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx vending.Store) error {
		_, err := tx.TopUpCredit(ctx, id, dec("5.00"))
		return err
	})
	require.NoError(t, err)

	credit, err := store.CustomerCredit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "5.00", credit.StringFixed(2))
}

// =============================================================================
// FAULTS & FLEET STATE
// =============================================================================

func TestFaults_ReportAndClose(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.CreateDistributor(ctx, "VM-001", "", vending.StatusActive)
	require.NoError(t, err)

	require.NoError(t, store.ReportFault(ctx, "VM-001", "grinder jam"))
	require.NoError(t, store.ReportFault(ctx, "VM-001", "door ajar"))
	require.ErrorIs(t, store.ReportFault(ctx, "VM-GHOST", "x"), vending.ErrNotFound)

	states, err := store.FleetState(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Len(t, states[0].Faults, 2)

	require.NoError(t, store.CloseFaults(ctx, "VM-001"))

	states, err = store.FleetState(ctx)
	require.NoError(t, err)
	assert.Empty(t, states[0].Faults)
}

func TestFleetState_IncludesSupplies(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.CreateDistributor(ctx, "VM-002", "cafeteria", vending.StatusMaintenance)
	require.NoError(t, err)
	require.NoError(t, store.RefillSupplies(ctx, "VM-002", vending.FullSupplyLevels()))

	states, err := store.FleetState(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)

	st := states[0]
	assert.Equal(t, "VM-002", st.Code)
	assert.Equal(t, "cafeteria", st.Location)
	assert.Equal(t, vending.StatusMaintenance, st.Status)
	assert.Equal(t, vending.RefillCoffeeGrams, st.Supplies.CoffeeGrams)
	assert.Equal(t, vending.RefillCups, st.Supplies.Cups)
}
