package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewnet/vendcore/vending"
)

// =============================================================================
// TIMESTAMP ORDERING
// =============================================================================

func TestTimestampLayout_FixedWidthSortsChronologically(t *testing.T) {
	// Stored timestamps are compared as strings, so every value must
	// have the same width. RFC3339Nano trims trailing fraction zeros
	// and would make ".123Z" sort after ".1234Z".
	earlier := time.Date(2026, 1, 2, 3, 4, 5, 123000000, time.UTC)
	later := time.Date(2026, 1, 2, 3, 4, 5, 123400000, time.UTC)

	a := earlier.Format(timestampLayout)
	b := later.Format(timestampLayout)
	assert.Len(t, b, len(a))
	assert.Less(t, a, b, "later instant must sort after the earlier one")
}

func TestActiveCustomer_LatestWinsWithVariableWidthTimestamps(t *testing.T) {
	// GIVEN: Two open connections whose stored connected_at strings
	//        invert under lexicographic comparison (".123Z" > ".1234Z")
	// WHEN: The machine resolves its attached customer
	// THEN: The later connection wins; resolution orders by row id and
	//       never trusts timestamp strings

	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	distID, err := store.CreateDistributor(ctx, "VM-001", "", vending.StatusActive)
	require.NoError(t, err)
	alice, err := store.CreateCustomer(ctx, "alice", "a@example.com", vending.RoleCustomer, "")
	require.NoError(t, err)
	bob, err := store.CreateCustomer(ctx, "bob", "b@example.com", vending.RoleCustomer, "")
	require.NoError(t, err)

	insert := func(customerID int64, connectedAt string) {
		_, err := store.db.ExecContext(ctx,
			"INSERT INTO connections (customer_id, distributor_id, connected_at) VALUES (?, ?, ?)",
			customerID, distID, connectedAt)
		require.NoError(t, err)
	}
	insert(alice, "2026-01-01T00:00:00.123Z")
	insert(bob, "2026-01-01T00:00:00.1234Z")

	cc, err := store.ActiveCustomerByDistributor(ctx, "VM-001")
	require.NoError(t, err)
	require.NotNil(t, cc)
	assert.Equal(t, bob, cc.CustomerID, "latest connection must win")
}
