/*
Package sqlite provides the SQLite-backed implementation of the vending
storage interfaces.

PURPOSE:
  Implements vending.Store and vending.TxStore. In production the same
  patterns apply to MySQL/PostgreSQL - only dialect differences.

MONEY:
  Balances and prices are stored as INTEGER cents so the conditional
  credit update (WHERE credit_cents >= ?) compares exactly. The domain
  sees shopspring decimal on both sides of the boundary; floats never
  appear.

CONDITIONAL UPDATES:
  DeductSupplies and DeductCredit are single UPDATE statements whose
  WHERE clause re-checks the invariant (counters >= deduction,
  credit >= price). Zero affected rows means the precondition failed
  and nothing changed. This is the race-free core of the purchase
  engine; do not replace it with read-then-check.

KEY TABLES:
  customers:    accounts, roles, credit in cents, API tokens
  distributors: machines, authoritative status, device token
  supplies:     1:1 non-negative counters per machine
  beverages:    purchasable items with price in cents
  connections:  customer<->machine attachment history
  purchases:    immutable dispense records
  topups:       immutable credit additions
  faults:       open/resolved hardware faults

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of a single *sql.DB. The
  mutex also serializes WithTx bodies, which stands in for the
  row-level FOR UPDATE lock SQLite does not have; with PostgreSQL the
  SELECT in ActiveCustomerByDistributor would carry FOR UPDATE instead.

WAL MODE:
  SQLite is opened with WAL for better concurrency and crash recovery.

USAGE:
  store, err := sqlite.New("./data/vendcore.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/brewnet/vendcore/vending"
)

// Store implements vending.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ vending.TxStore = (*Store)(nil)

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: writers are serialized by the store mutex anyway,
	// and a second pooled connection to ":memory:" would open a second,
	// empty database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'CUSTOMER',
		credit_cents INTEGER NOT NULL DEFAULT 0 CHECK (credit_cents >= 0),
		api_token TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_customers_api_token
		ON customers(api_token) WHERE api_token IS NOT NULL AND api_token <> '';

	CREATE TABLE IF NOT EXISTS distributors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		location TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'ACTIVE'
			CHECK (status IN ('ACTIVE','MAINTENANCE','FAULT')),
		device_token TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_distributors_device_token
		ON distributors(device_token) WHERE device_token <> '';

	-- One-to-one with distributors; every counter is non-negative.
	CREATE TABLE IF NOT EXISTS supplies (
		distributor_id INTEGER PRIMARY KEY
			REFERENCES distributors(id) ON DELETE CASCADE,
		coffee_grams INTEGER NOT NULL DEFAULT 0 CHECK (coffee_grams >= 0),
		milk_ml INTEGER NOT NULL DEFAULT 0 CHECK (milk_ml >= 0),
		sugar_grams INTEGER NOT NULL DEFAULT 0 CHECK (sugar_grams >= 0),
		cups INTEGER NOT NULL DEFAULT 0 CHECK (cups >= 0)
	);

	CREATE TABLE IF NOT EXISTS beverages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		price_cents INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS connections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL REFERENCES customers(id),
		distributor_id INTEGER NOT NULL REFERENCES distributors(id),
		connected_at TEXT NOT NULL,
		disconnected_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_connections_open_customer
		ON connections(customer_id) WHERE disconnected_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_connections_open_distributor
		ON connections(distributor_id) WHERE disconnected_at IS NULL;

	-- Immutable: no UPDATE or DELETE statements exist for purchases.
	CREATE TABLE IF NOT EXISTS purchases (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL REFERENCES customers(id),
		distributor_id INTEGER NOT NULL REFERENCES distributors(id),
		beverage_id INTEGER NOT NULL REFERENCES beverages(id),
		sugar_qty INTEGER NOT NULL,
		price_paid_cents INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_purchases_customer
		ON purchases(customer_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS topups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL REFERENCES customers(id),
		amount_cents INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS faults (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		distributor_id INTEGER NOT NULL REFERENCES distributors(id) ON DELETE CASCADE,
		description TEXT NOT NULL,
		is_open INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_faults_open
		ON faults(distributor_id, created_at DESC) WHERE is_open = 1;
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is the subset of *sql.DB and *sql.Tx the query helpers need.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// timestampLayout keeps every stored timestamp the same width, so
// lexicographic string comparison matches chronological order.
// RFC3339Nano trims trailing fraction zeros and breaks that.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func nowUTC() string {
	return time.Now().UTC().Format(timestampLayout)
}

// isUniqueViolation reports whether err is a SQLite unique-constraint
// failure, letting inserts race instead of check-then-insert.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// toCents converts an exact decimal amount to integer cents.
func toCents(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// fromCents converts integer cents back to a two-place decimal.
func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

// =============================================================================
// TRANSACTIONAL STORE (vending.TxStore)
// =============================================================================

// WithTx executes fn against a Store bound to one database
// transaction: commit on nil, roll back on error, release always.
func (s *Store) WithTx(ctx context.Context, fn func(vending.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs the shared query helpers against a live *sql.Tx.
type txStore struct {
	q dbtx
}

var _ vending.Store = (*txStore)(nil)

// =============================================================================
// CUSTOMERS
// =============================================================================

const customerCols = "id, username, email, role, credit_cents, created_at"

func scanCustomer(row *sql.Row) (*vending.Customer, error) {
	var (
		c         vending.Customer
		role      string
		cents     int64
		createdAt string
	)
	err := row.Scan(&c.ID, &c.Username, &c.Email, &role, &cents, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan customer: %w", err)
	}
	c.Role = vending.Role(role)
	c.Credit = fromCents(cents)
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func customerByID(ctx context.Context, q dbtx, id int64) (*vending.Customer, error) {
	return scanCustomer(q.QueryRowContext(ctx,
		"SELECT "+customerCols+" FROM customers WHERE id = ?", id))
}

func customerByToken(ctx context.Context, q dbtx, token string) (*vending.Customer, error) {
	if token == "" {
		return nil, nil
	}
	return scanCustomer(q.QueryRowContext(ctx,
		"SELECT "+customerCols+" FROM customers WHERE api_token = ?", token))
}

func createCustomer(ctx context.Context, q dbtx, username, email string, role vending.Role, apiToken string) (int64, error) {
	res, err := q.ExecContext(ctx,
		"INSERT INTO customers (username, email, role, credit_cents, api_token, created_at) VALUES (?, ?, ?, 0, ?, ?)",
		username, email, string(role), nullString(apiToken), nowUTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert customer: %w", err)
	}
	return res.LastInsertId()
}

func customerCredit(ctx context.Context, q dbtx, customerID int64) (decimal.Decimal, error) {
	var cents int64
	err := q.QueryRowContext(ctx,
		"SELECT credit_cents FROM customers WHERE id = ?", customerID).Scan(&cents)
	if err == sql.ErrNoRows {
		return decimal.Zero, fmt.Errorf("customer %d: %w", customerID, vending.ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read credit: %w", err)
	}
	return fromCents(cents), nil
}

func topUpCredit(ctx context.Context, q dbtx, customerID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	res, err := q.ExecContext(ctx,
		"UPDATE customers SET credit_cents = credit_cents + ? WHERE id = ?",
		toCents(amount), customerID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to top up credit: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return decimal.Zero, fmt.Errorf("customer %d: %w", customerID, vending.ErrNotFound)
	}

	if _, err := q.ExecContext(ctx,
		"INSERT INTO topups (customer_id, amount_cents, created_at) VALUES (?, ?, ?)",
		customerID, toCents(amount), nowUTC()); err != nil {
		return decimal.Zero, fmt.Errorf("failed to record topup: %w", err)
	}

	return customerCredit(ctx, q, customerID)
}

// deductCredit is the conditional credit update: matched=false when
// credit < price, and in that case nothing changed.
func deductCredit(ctx context.Context, q dbtx, customerID int64, price decimal.Decimal) (bool, error) {
	cents := toCents(price)
	res, err := q.ExecContext(ctx,
		"UPDATE customers SET credit_cents = credit_cents - ? WHERE id = ? AND credit_cents >= ?",
		cents, customerID, cents)
	if err != nil {
		return false, fmt.Errorf("failed to deduct credit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) CustomerByID(ctx context.Context, id int64) (*vending.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return customerByID(ctx, s.db, id)
}

func (s *Store) CustomerByToken(ctx context.Context, token string) (*vending.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return customerByToken(ctx, s.db, token)
}

func (s *Store) CreateCustomer(ctx context.Context, username, email string, role vending.Role, apiToken string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createCustomer(ctx, s.db, username, email, role, apiToken)
}

func (s *Store) CustomerCredit(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return customerCredit(ctx, s.db, customerID)
}

func (s *Store) TopUpCredit(ctx context.Context, customerID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	var credit decimal.Decimal
	err := s.WithTx(ctx, func(tx vending.Store) error {
		var err error
		credit, err = tx.TopUpCredit(ctx, customerID, amount)
		return err
	})
	return credit, err
}

func (s *Store) DeductCredit(ctx context.Context, customerID int64, price decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deductCredit(ctx, s.db, customerID, price)
}

func (t *txStore) CustomerByID(ctx context.Context, id int64) (*vending.Customer, error) {
	return customerByID(ctx, t.q, id)
}

func (t *txStore) CustomerByToken(ctx context.Context, token string) (*vending.Customer, error) {
	return customerByToken(ctx, t.q, token)
}

func (t *txStore) CreateCustomer(ctx context.Context, username, email string, role vending.Role, apiToken string) (int64, error) {
	return createCustomer(ctx, t.q, username, email, role, apiToken)
}

func (t *txStore) CustomerCredit(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	return customerCredit(ctx, t.q, customerID)
}

func (t *txStore) TopUpCredit(ctx context.Context, customerID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	return topUpCredit(ctx, t.q, customerID, amount)
}

func (t *txStore) DeductCredit(ctx context.Context, customerID int64, price decimal.Decimal) (bool, error) {
	return deductCredit(ctx, t.q, customerID, price)
}

// =============================================================================
// DISTRIBUTORS
// =============================================================================

const distributorCols = "id, code, location, status, device_token, created_at"

func scanDistributor(row *sql.Row) (*vending.Distributor, error) {
	var (
		d         vending.Distributor
		status    string
		createdAt string
	)
	err := row.Scan(&d.ID, &d.Code, &d.Location, &status, &d.DeviceToken, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan distributor: %w", err)
	}
	d.Status = vending.Status(status)
	d.CreatedAt = parseTime(createdAt)
	return &d, nil
}

func distributorByCode(ctx context.Context, q dbtx, code string) (*vending.Distributor, error) {
	return scanDistributor(q.QueryRowContext(ctx,
		"SELECT "+distributorCols+" FROM distributors WHERE code = ?", code))
}

func createDistributor(ctx context.Context, q dbtx, code, location string, status vending.Status) (int64, error) {
	res, err := q.ExecContext(ctx,
		"INSERT INTO distributors (code, location, status, device_token, created_at) VALUES (?, ?, ?, '', ?)",
		code, location, string(status), nowUTC())
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("distributor %q already registered: %w", code, vending.ErrConflict)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert distributor: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if _, err := q.ExecContext(ctx,
		"INSERT INTO supplies (distributor_id) VALUES (?)", id); err != nil {
		return 0, fmt.Errorf("failed to insert supply row: %w", err)
	}
	return id, nil
}

func updateDistributorStatus(ctx context.Context, q dbtx, code string, status vending.Status) error {
	res, err := q.ExecContext(ctx,
		"UPDATE distributors SET status = ? WHERE code = ?", string(status), code)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("distributor %q: %w", code, vending.ErrNotFound)
	}
	return nil
}

// applyStatus only reports changed=true when the stored status moved,
// so reconciliation can tally no-op entries separately.
func applyStatus(ctx context.Context, q dbtx, code string, status vending.Status) (bool, error) {
	res, err := q.ExecContext(ctx,
		"UPDATE distributors SET status = ? WHERE code = ? AND status <> ?",
		string(status), code, string(status))
	if err != nil {
		return false, fmt.Errorf("failed to apply status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	var count int
	if err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM distributors WHERE code = ?", code).Scan(&count); err != nil {
		return false, err
	}
	if count == 0 {
		return false, fmt.Errorf("distributor %q: %w", code, vending.ErrNotFound)
	}
	return false, nil // row exists, status already matched
}

func listDistributors(ctx context.Context, q dbtx) ([]vending.Distributor, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+distributorCols+" FROM distributors ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("failed to list distributors: %w", err)
	}
	defer rows.Close()

	var out []vending.Distributor
	for rows.Next() {
		var (
			d         vending.Distributor
			status    string
			createdAt string
		)
		if err := rows.Scan(&d.ID, &d.Code, &d.Location, &status, &d.DeviceToken, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan distributor: %w", err)
		}
		d.Status = vending.Status(status)
		d.CreatedAt = parseTime(createdAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

// claimDeviceToken installs a token only while the slot is blank, the
// same conditional-update shape as deductCredit: concurrent boots race
// on one UPDATE and exactly one row-matches.
func claimDeviceToken(ctx context.Context, q dbtx, code, token string) (bool, error) {
	res, err := q.ExecContext(ctx,
		"UPDATE distributors SET device_token = ? WHERE code = ? AND device_token = ''",
		token, code)
	if err != nil {
		return false, fmt.Errorf("failed to claim device token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	var count int
	if err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM distributors WHERE code = ?", code).Scan(&count); err != nil {
		return false, err
	}
	if count == 0 {
		return false, fmt.Errorf("distributor %q: %w", code, vending.ErrNotFound)
	}
	return false, nil // row exists, token already claimed
}

func setDeviceToken(ctx context.Context, q dbtx, code, token string) error {
	res, err := q.ExecContext(ctx,
		"UPDATE distributors SET device_token = ? WHERE code = ?", token, code)
	if err != nil {
		return fmt.Errorf("failed to set device token: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("distributor %q: %w", code, vending.ErrNotFound)
	}
	return nil
}

func distributorCodeByToken(ctx context.Context, q dbtx, token string) (string, error) {
	var code string
	err := q.QueryRowContext(ctx,
		"SELECT code FROM distributors WHERE device_token = ? AND device_token <> ''",
		token).Scan(&code)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve device token: %w", err)
	}
	return code, nil
}

func (s *Store) DistributorByCode(ctx context.Context, code string) (*vending.Distributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return distributorByCode(ctx, s.db, code)
}

func (s *Store) CreateDistributor(ctx context.Context, code, location string, status vending.Status) (int64, error) {
	var id int64
	err := s.WithTx(ctx, func(tx vending.Store) error {
		var err error
		id, err = tx.CreateDistributor(ctx, code, location, status)
		return err
	})
	return id, err
}

func (s *Store) UpdateDistributorStatus(ctx context.Context, code string, status vending.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateDistributorStatus(ctx, s.db, code, status)
}

func (s *Store) ApplyStatus(ctx context.Context, code string, status vending.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return applyStatus(ctx, s.db, code, status)
}

func (s *Store) ListDistributors(ctx context.Context) ([]vending.Distributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listDistributors(ctx, s.db)
}

func (s *Store) SetDeviceToken(ctx context.Context, code, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setDeviceToken(ctx, s.db, code, token)
}

func (s *Store) ClaimDeviceToken(ctx context.Context, code, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return claimDeviceToken(ctx, s.db, code, token)
}

func (s *Store) DistributorCodeByToken(ctx context.Context, token string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return distributorCodeByToken(ctx, s.db, token)
}

func (t *txStore) DistributorByCode(ctx context.Context, code string) (*vending.Distributor, error) {
	return distributorByCode(ctx, t.q, code)
}

func (t *txStore) CreateDistributor(ctx context.Context, code, location string, status vending.Status) (int64, error) {
	return createDistributor(ctx, t.q, code, location, status)
}

func (t *txStore) UpdateDistributorStatus(ctx context.Context, code string, status vending.Status) error {
	return updateDistributorStatus(ctx, t.q, code, status)
}

func (t *txStore) ApplyStatus(ctx context.Context, code string, status vending.Status) (bool, error) {
	return applyStatus(ctx, t.q, code, status)
}

func (t *txStore) ListDistributors(ctx context.Context) ([]vending.Distributor, error) {
	return listDistributors(ctx, t.q)
}

func (t *txStore) SetDeviceToken(ctx context.Context, code, token string) error {
	return setDeviceToken(ctx, t.q, code, token)
}

func (t *txStore) ClaimDeviceToken(ctx context.Context, code, token string) (bool, error) {
	return claimDeviceToken(ctx, t.q, code, token)
}

func (t *txStore) DistributorCodeByToken(ctx context.Context, token string) (string, error) {
	return distributorCodeByToken(ctx, t.q, token)
}

// =============================================================================
// SUPPLIES
// =============================================================================

func supplyLevelsFor(ctx context.Context, q dbtx, distributorID int64) (*vending.SupplyLevels, error) {
	var l vending.SupplyLevels
	err := q.QueryRowContext(ctx,
		"SELECT distributor_id, coffee_grams, milk_ml, sugar_grams, cups FROM supplies WHERE distributor_id = ?",
		distributorID).Scan(&l.DistributorID, &l.CoffeeGrams, &l.MilkMl, &l.SugarGrams, &l.Cups)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("supplies for distributor %d: %w", distributorID, vending.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read supplies: %w", err)
	}
	return &l, nil
}

func refillSupplies(ctx context.Context, q dbtx, code string, levels vending.SupplyLevels) error {
	res, err := q.ExecContext(ctx, `
		UPDATE supplies
		SET coffee_grams = ?, milk_ml = ?, sugar_grams = ?, cups = ?
		WHERE distributor_id = (SELECT id FROM distributors WHERE code = ?)`,
		levels.CoffeeGrams, levels.MilkMl, levels.SugarGrams, levels.Cups, code)
	if err != nil {
		return fmt.Errorf("failed to refill supplies: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("distributor %q: %w", code, vending.ErrNotFound)
	}
	return nil
}

// deductSupplies is the conditional stock update: a single UPDATE whose
// WHERE clause requires every counter to survive the subtraction.
// matched=false means some counter would have gone negative and nothing
// changed.
func deductSupplies(ctx context.Context, q dbtx, distributorID int64, d vending.SupplyDeduction) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE supplies
		SET coffee_grams = coffee_grams - ?,
		    milk_ml      = milk_ml - ?,
		    sugar_grams  = sugar_grams - ?,
		    cups         = cups - ?
		WHERE distributor_id = ?
		  AND coffee_grams >= ?
		  AND milk_ml      >= ?
		  AND sugar_grams  >= ?
		  AND cups         >= ?`,
		d.CoffeeGrams, d.MilkMl, d.SugarGrams, d.Cups,
		distributorID,
		d.CoffeeGrams, d.MilkMl, d.SugarGrams, d.Cups)
	if err != nil {
		return false, fmt.Errorf("failed to deduct supplies: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) SupplyLevelsFor(ctx context.Context, distributorID int64) (*vending.SupplyLevels, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return supplyLevelsFor(ctx, s.db, distributorID)
}

func (s *Store) RefillSupplies(ctx context.Context, code string, levels vending.SupplyLevels) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return refillSupplies(ctx, s.db, code, levels)
}

func (s *Store) DeductSupplies(ctx context.Context, distributorID int64, d vending.SupplyDeduction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deductSupplies(ctx, s.db, distributorID, d)
}

func (t *txStore) SupplyLevelsFor(ctx context.Context, distributorID int64) (*vending.SupplyLevels, error) {
	return supplyLevelsFor(ctx, t.q, distributorID)
}

func (t *txStore) RefillSupplies(ctx context.Context, code string, levels vending.SupplyLevels) error {
	return refillSupplies(ctx, t.q, code, levels)
}

func (t *txStore) DeductSupplies(ctx context.Context, distributorID int64, d vending.SupplyDeduction) (bool, error) {
	return deductSupplies(ctx, t.q, distributorID, d)
}

// =============================================================================
// BEVERAGES
// =============================================================================

func activeBeverageByID(ctx context.Context, q dbtx, id int64) (*vending.Beverage, error) {
	var (
		b     vending.Beverage
		cents int64
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, name, price_cents FROM beverages WHERE id = ? AND is_active = 1",
		id).Scan(&b.ID, &b.Name, &cents)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read beverage: %w", err)
	}
	b.Price = fromCents(cents)
	b.IsActive = true
	return &b, nil
}

func activeBeverages(ctx context.Context, q dbtx) ([]vending.Beverage, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, name, price_cents FROM beverages WHERE is_active = 1 ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list beverages: %w", err)
	}
	defer rows.Close()

	var out []vending.Beverage
	for rows.Next() {
		var (
			b     vending.Beverage
			cents int64
		)
		if err := rows.Scan(&b.ID, &b.Name, &cents); err != nil {
			return nil, fmt.Errorf("failed to scan beverage: %w", err)
		}
		b.Price = fromCents(cents)
		b.IsActive = true
		out = append(out, b)
	}
	return out, rows.Err()
}

func createBeverage(ctx context.Context, q dbtx, name string, price decimal.Decimal, active bool) (int64, error) {
	res, err := q.ExecContext(ctx,
		"INSERT INTO beverages (name, price_cents, is_active) VALUES (?, ?, ?)",
		name, toCents(price), boolToInt(active))
	if err != nil {
		return 0, fmt.Errorf("failed to insert beverage: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) ActiveBeverageByID(ctx context.Context, id int64) (*vending.Beverage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeBeverageByID(ctx, s.db, id)
}

func (s *Store) ActiveBeverages(ctx context.Context) ([]vending.Beverage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeBeverages(ctx, s.db)
}

func (s *Store) CreateBeverage(ctx context.Context, name string, price decimal.Decimal, active bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createBeverage(ctx, s.db, name, price, active)
}

func (t *txStore) ActiveBeverageByID(ctx context.Context, id int64) (*vending.Beverage, error) {
	return activeBeverageByID(ctx, t.q, id)
}

func (t *txStore) ActiveBeverages(ctx context.Context) ([]vending.Beverage, error) {
	return activeBeverages(ctx, t.q)
}

func (t *txStore) CreateBeverage(ctx context.Context, name string, price decimal.Decimal, active bool) (int64, error) {
	return createBeverage(ctx, t.q, name, price, active)
}

// =============================================================================
// CONNECTIONS
// =============================================================================

func closeOpenConnection(ctx context.Context, q dbtx, customerID int64) error {
	_, err := q.ExecContext(ctx,
		"UPDATE connections SET disconnected_at = ? WHERE customer_id = ? AND disconnected_at IS NULL",
		nowUTC(), customerID)
	if err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

func insertConnection(ctx context.Context, q dbtx, customerID, distributorID int64) error {
	res, err := q.ExecContext(ctx,
		"INSERT INTO connections (customer_id, distributor_id, connected_at) VALUES (?, ?, ?)",
		customerID, distributorID, nowUTC())
	if err != nil {
		return vending.Persistence("InsertConnection", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return vending.Persistence("InsertConnection",
			fmt.Errorf("expected 1 inserted row, got %d", n))
	}
	return nil
}

func activeConnectionByCustomer(ctx context.Context, q dbtx, customerID int64) (*vending.Connection, error) {
	var (
		c           vending.Connection
		connectedAt string
	)
	err := q.QueryRowContext(ctx, `
		SELECT c.id, c.customer_id, c.distributor_id, d.code, c.connected_at
		FROM connections c
		JOIN distributors d ON d.id = c.distributor_id
		WHERE c.customer_id = ? AND c.disconnected_at IS NULL
		ORDER BY c.id DESC
		LIMIT 1`,
		customerID).Scan(&c.ID, &c.CustomerID, &c.DistributorID, &c.DistributorCode, &connectedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read connection: %w", err)
	}
	c.ConnectedAt = parseTime(connectedAt)
	return &c, nil
}

// activeCustomerByDistributor resolves the customer a machine charges.
// Newest open connection wins; ordering is by row id, which is
// monotonic within a database regardless of timestamp formatting.
func activeCustomerByDistributor(ctx context.Context, q dbtx, code string) (*vending.ConnectedCustomer, error) {
	var (
		cc    vending.ConnectedCustomer
		cents int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT u.id, d.id, u.username, u.credit_cents
		FROM connections c
		JOIN distributors d ON d.id = c.distributor_id
		JOIN customers u ON u.id = c.customer_id
		WHERE d.code = ? AND c.disconnected_at IS NULL
		ORDER BY c.id DESC
		LIMIT 1`,
		code).Scan(&cc.CustomerID, &cc.DistributorID, &cc.Username, &cents)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read connected customer: %w", err)
	}
	cc.Credit = fromCents(cents)
	return &cc, nil
}

func (s *Store) CloseOpenConnection(ctx context.Context, customerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return closeOpenConnection(ctx, s.db, customerID)
}

func (s *Store) InsertConnection(ctx context.Context, customerID, distributorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertConnection(ctx, s.db, customerID, distributorID)
}

func (s *Store) ActiveConnectionByCustomer(ctx context.Context, customerID int64) (*vending.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeConnectionByCustomer(ctx, s.db, customerID)
}

func (s *Store) ActiveCustomerByDistributor(ctx context.Context, code string) (*vending.ConnectedCustomer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeCustomerByDistributor(ctx, s.db, code)
}

func (t *txStore) CloseOpenConnection(ctx context.Context, customerID int64) error {
	return closeOpenConnection(ctx, t.q, customerID)
}

func (t *txStore) InsertConnection(ctx context.Context, customerID, distributorID int64) error {
	return insertConnection(ctx, t.q, customerID, distributorID)
}

func (t *txStore) ActiveConnectionByCustomer(ctx context.Context, customerID int64) (*vending.Connection, error) {
	return activeConnectionByCustomer(ctx, t.q, customerID)
}

func (t *txStore) ActiveCustomerByDistributor(ctx context.Context, code string) (*vending.ConnectedCustomer, error) {
	return activeCustomerByDistributor(ctx, t.q, code)
}

// =============================================================================
// PURCHASES
// =============================================================================

func insertPurchase(ctx context.Context, q dbtx, p vending.Purchase) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO purchases (customer_id, distributor_id, beverage_id, sugar_qty, price_paid_cents, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.CustomerID, p.DistributorID, p.BeverageID, p.SugarQty, toCents(p.PricePaid), nowUTC())
	if err != nil {
		return vending.Persistence("InsertPurchase", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return vending.Persistence("InsertPurchase",
			fmt.Errorf("expected 1 inserted row, got %d", n))
	}
	return nil
}

func (s *Store) InsertPurchase(ctx context.Context, p vending.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertPurchase(ctx, s.db, p)
}

func (t *txStore) InsertPurchase(ctx context.Context, p vending.Purchase) error {
	return insertPurchase(ctx, t.q, p)
}

// =============================================================================
// FAULTS & FLEET STATE
// =============================================================================

func reportFault(ctx context.Context, q dbtx, code, description string) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO faults (distributor_id, description, created_at)
		SELECT id, ?, ? FROM distributors WHERE code = ?`,
		description, nowUTC(), code)
	if err != nil {
		return fmt.Errorf("failed to report fault: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("distributor %q: %w", code, vending.ErrNotFound)
	}
	return nil
}

func closeFaults(ctx context.Context, q dbtx, code string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE faults SET is_open = 0
		WHERE is_open = 1
		  AND distributor_id = (SELECT id FROM distributors WHERE code = ?)`,
		code)
	if err != nil {
		return fmt.Errorf("failed to close faults: %w", err)
	}
	return nil
}

func fleetState(ctx context.Context, q dbtx) ([]vending.DistributorState, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT d.id, d.code, d.location, d.status,
		       COALESCE(s.coffee_grams, 0), COALESCE(s.milk_ml, 0),
		       COALESCE(s.sugar_grams, 0), COALESCE(s.cups, 0)
		FROM distributors d
		LEFT JOIN supplies s ON s.distributor_id = d.id
		ORDER BY d.code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query fleet state: %w", err)
	}
	defer rows.Close()

	var out []vending.DistributorState
	byID := make(map[int64]int)
	for rows.Next() {
		var (
			id     int64
			st     vending.DistributorState
			status string
		)
		if err := rows.Scan(&id, &st.Code, &st.Location, &status,
			&st.Supplies.CoffeeGrams, &st.Supplies.MilkMl,
			&st.Supplies.SugarGrams, &st.Supplies.Cups); err != nil {
			return nil, fmt.Errorf("failed to scan fleet state: %w", err)
		}
		st.Status = vending.Status(status)
		st.Supplies.DistributorID = id
		byID[id] = len(out)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	faultRows, err := q.QueryContext(ctx, `
		SELECT id, distributor_id, description, created_at
		FROM faults
		WHERE is_open = 1
		ORDER BY distributor_id, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query faults: %w", err)
	}
	defer faultRows.Close()

	for faultRows.Next() {
		var (
			f         vending.Fault
			createdAt string
		)
		if err := faultRows.Scan(&f.ID, &f.DistributorID, &f.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan fault: %w", err)
		}
		f.IsOpen = true
		f.CreatedAt = parseTime(createdAt)
		if i, ok := byID[f.DistributorID]; ok {
			out[i].Faults = append(out[i].Faults, f)
		}
	}
	return out, faultRows.Err()
}

func (s *Store) ReportFault(ctx context.Context, code, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return reportFault(ctx, s.db, code, description)
}

func (s *Store) CloseFaults(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return closeFaults(ctx, s.db, code)
}

func (s *Store) FleetState(ctx context.Context) ([]vending.DistributorState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fleetState(ctx, s.db)
}

func (t *txStore) ReportFault(ctx context.Context, code, description string) error {
	return reportFault(ctx, t.q, code, description)
}

func (t *txStore) CloseFaults(ctx context.Context, code string) error {
	return closeFaults(ctx, t.q, code)
}

func (t *txStore) FleetState(ctx context.Context) ([]vending.DistributorState, error) {
	return fleetState(ctx, t.q)
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
