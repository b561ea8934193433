// Package ledger persists facilitated transactions, their customers, and
// the durable cloud-event log a stateful replay reads from, on top of a
// local SQLite database in WAL mode.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/txtx/moneymq-go"
)

// Ledger is a SQLite-backed store for facilitated transactions and the
// cloud-event log that feeds stateful replay.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite database at path, enables WAL
// mode and a 5-second busy timeout, and runs schema migrations.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, x402.NewPaymentError(x402.CodeInternal, "failed to open ledger database", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn under WAL.

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, x402.NewPaymentError(x402.CodeInternal, "failed to set pragma", err).WithDetails("pragma", p)
		}
	}

	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

func (l *Ledger) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transaction_customers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			address TEXT NOT NULL,
			label TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS facilitated_transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			product TEXT,
			customer_id INTEGER REFERENCES transaction_customers(id),
			amount TEXT NOT NULL,
			currency TEXT,
			status TEXT,
			signature TEXT,
			x402_payment_requirement TEXT NOT NULL,
			x402_verify_request TEXT,
			x402_verify_response TEXT,
			x402_settle_request TEXT,
			x402_settle_response TEXT,
			payment_hash TEXT,
			facilitator_id TEXT NOT NULL,
			is_sandbox INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_facilitated_transactions_payment_hash
			ON facilitated_transactions(payment_hash) WHERE payment_hash IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_facilitated_transactions_listing
			ON facilitated_transactions(facilitator_id, is_sandbox, id)`,
		`CREATE TABLE IF NOT EXISTS cloud_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			stream_id TEXT NOT NULL,
			payment_stack_id TEXT NOT NULL,
			is_sandbox INTEGER NOT NULL,
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			event_json TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cloud_events_scope
			ON cloud_events(stream_id, payment_stack_id, is_sandbox, seq)`,
		`CREATE TABLE IF NOT EXISTS stream_cursors (
			stream_id TEXT NOT NULL,
			payment_stack_id TEXT NOT NULL,
			is_sandbox INTEGER NOT NULL,
			cursor INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (stream_id, payment_stack_id, is_sandbox)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.Exec(stmt); err != nil {
			return x402.NewPaymentError(x402.CodeInternal, "failed to run migration", err)
		}
	}
	return nil
}

// Transaction mirrors the facilitated_transactions row shape.
type Transaction struct {
	ID                      int64
	CreatedAt               int64
	UpdatedAt               int64
	Product                 *string
	CustomerID              *int64
	Amount                  string
	Currency                *string
	Status                  *string
	Signature               *string
	X402PaymentRequirement  string
	X402VerifyRequest       *string
	X402VerifyResponse      *string
	X402SettleRequest       *string
	X402SettleResponse      *string
	PaymentHash             *string
	FacilitatorID           string
	IsSandbox               bool
}

// NewTransaction is the set of fields required to record a fresh,
// unsettled facilitated transaction.
type NewTransaction struct {
	Product                string
	CustomerID              *int64
	Amount                 string
	Currency               string
	X402PaymentRequirement string
	X402VerifyRequest      string
	X402VerifyResponse     string
	PaymentHash            string
	FacilitatorID          string
	IsSandbox              bool
}

// InsertTransaction records a verified-but-unsettled transaction. A
// payment_hash collision with an existing row is reported as a
// CodeSequenceConflict PaymentError so callers can treat it as the
// verify/settle idempotency signal it is.
func (l *Ledger) InsertTransaction(ctx context.Context, tx NewTransaction) (int64, error) {
	now := time.Now().Unix()
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO facilitated_transactions
			(created_at, updated_at, product, customer_id, amount, currency,
			 x402_payment_requirement, x402_verify_request, x402_verify_response,
			 payment_hash, facilitator_id, is_sandbox, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'verified')`,
		now, now, nullableString(tx.Product), tx.CustomerID, tx.Amount, nullableString(tx.Currency),
		tx.X402PaymentRequirement, tx.X402VerifyRequest, tx.X402VerifyResponse,
		tx.PaymentHash, tx.FacilitatorID, boolToInt(tx.IsSandbox))
	if err != nil {
		if isUniqueConstraintViolation(err) {
			return 0, x402.NewPaymentError(x402.CodeSequenceConflict, "payment hash already recorded", err).
				WithDetails("paymentHash", tx.PaymentHash)
		}
		return 0, x402.NewPaymentError(x402.CodeInternal, "failed to insert transaction", err).
			WithDetails("paymentHash", tx.PaymentHash)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, x402.NewPaymentError(x402.CodeInternal, "failed to read inserted transaction id", err)
	}
	return id, nil
}

// IsAlreadySettled reports whether a transaction with paymentHash exists
// and carries both a settle request and settle response.
func (l *Ledger) IsAlreadySettled(ctx context.Context, paymentHash string) (bool, error) {
	var id int64
	err := l.db.QueryRowContext(ctx, `
		SELECT id FROM facilitated_transactions
		WHERE payment_hash = ? AND x402_settle_request IS NOT NULL AND x402_settle_response IS NOT NULL`,
		paymentHash).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, x402.NewPaymentError(x402.CodeInternal, "failed to query settlement status", err)
	}
	return true, nil
}

// FindUnsettledByPaymentHash returns the id of the most recent unsettled
// transaction recorded under paymentHash, if any.
func (l *Ledger) FindUnsettledByPaymentHash(ctx context.Context, paymentHash string) (int64, bool, error) {
	var id int64
	err := l.db.QueryRowContext(ctx, `
		SELECT id FROM facilitated_transactions
		WHERE payment_hash = ? AND x402_settle_request IS NULL AND x402_settle_response IS NULL
		ORDER BY created_at DESC LIMIT 1`,
		paymentHash).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, x402.NewPaymentError(x402.CodeInternal, "failed to query unsettled transaction", err)
	}
	return id, true, nil
}

// FindUnsettledForSettlementUpdate is the legacy lookup path kept for
// payment flows recorded before payment_hash was populated on every row:
// it matches on amount, currency, product and customer instead.
func (l *Ledger) FindUnsettledForSettlementUpdate(ctx context.Context, product *string, customerID *int64, amount string, currency *string, paymentRequirement string) (int64, bool, error) {
	query := `
		SELECT id FROM facilitated_transactions
		WHERE amount = ? AND x402_payment_requirement = ?
		AND x402_settle_request IS NULL AND x402_settle_response IS NULL
		AND product IS ? AND customer_id IS ? AND currency IS ?
		ORDER BY created_at DESC LIMIT 1`
	var id int64
	err := l.db.QueryRowContext(ctx, query, amount, paymentRequirement,
		nullableString(derefString(product)), customerID, nullableString(derefString(currency))).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, x402.NewPaymentError(x402.CodeInternal, "failed to query legacy settlement match", err)
	}
	return id, true, nil
}

// UpdateAfterSettlement writes a settle request/response, status and
// signature onto an existing transaction row.
func (l *Ledger) UpdateAfterSettlement(ctx context.Context, id int64, status, signature, settleRequestJSON, settleResponseJSON string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE facilitated_transactions
		SET status = ?, signature = ?, x402_settle_request = ?, x402_settle_response = ?, updated_at = ?
		WHERE id = ?`,
		status, signature, settleRequestJSON, settleResponseJSON, time.Now().Unix(), id)
	if err != nil {
		return x402.NewPaymentError(x402.CodeInternal, "failed to update transaction after settlement", err)
	}
	return nil
}

// FindByPaymentHash returns the most recent transaction row recorded
// under paymentHash, regardless of settlement status, for channel
// attachment lookups that need the full snapshot.
func (l *Ledger) FindByPaymentHash(ctx context.Context, paymentHash string) (*Transaction, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, created_at, updated_at, product, customer_id, amount, currency, status,
			signature, x402_payment_requirement, x402_verify_request, x402_verify_response,
			x402_settle_request, x402_settle_response, payment_hash, facilitator_id, is_sandbox
		FROM facilitated_transactions WHERE payment_hash = ? ORDER BY created_at DESC LIMIT 1`, paymentHash)
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, x402.NewPaymentError(x402.CodeNotFound, "transaction not found", nil).WithDetails("paymentHash", paymentHash)
	}
	if err != nil {
		return nil, x402.NewPaymentError(x402.CodeInternal, "failed to scan transaction", err)
	}
	return tx, nil
}

// GetByID returns a single transaction row.
func (l *Ledger) GetByID(ctx context.Context, id int64) (*Transaction, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, created_at, updated_at, product, customer_id, amount, currency, status,
			signature, x402_payment_requirement, x402_verify_request, x402_verify_response,
			x402_settle_request, x402_settle_response, payment_hash, facilitator_id, is_sandbox
		FROM facilitated_transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, x402.NewPaymentError(x402.CodeNotFound, "transaction not found", nil).WithDetails("id", id)
	}
	if err != nil {
		return nil, x402.NewPaymentError(x402.CodeInternal, "failed to scan transaction", err)
	}
	return tx, nil
}

// ListPage returns up to limit transactions with id greater than
// startingAfter, scoped to facilitatorID/isSandbox, plus whether more
// rows exist beyond the page.
func (l *Ledger) ListPage(ctx context.Context, facilitatorID string, isSandbox bool, limit int, startingAfter int64) ([]*Transaction, bool, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, created_at, updated_at, product, customer_id, amount, currency, status,
			signature, x402_payment_requirement, x402_verify_request, x402_verify_response,
			x402_settle_request, x402_settle_response, payment_hash, facilitator_id, is_sandbox
		FROM facilitated_transactions
		WHERE id > ? AND facilitator_id = ? AND is_sandbox = ?
		ORDER BY id ASC LIMIT ?`,
		startingAfter, facilitatorID, boolToInt(isSandbox), limit+1)
	if err != nil {
		return nil, false, x402.NewPaymentError(x402.CodeInternal, "failed to list transactions", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, false, x402.NewPaymentError(x402.CodeInternal, "failed to scan transaction row", err)
		}
		out = append(out, tx)
	}
	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var tx Transaction
	var isSandboxInt int
	if err := row.Scan(&tx.ID, &tx.CreatedAt, &tx.UpdatedAt, &tx.Product, &tx.CustomerID, &tx.Amount,
		&tx.Currency, &tx.Status, &tx.Signature, &tx.X402PaymentRequirement, &tx.X402VerifyRequest,
		&tx.X402VerifyResponse, &tx.X402SettleRequest, &tx.X402SettleResponse, &tx.PaymentHash,
		&tx.FacilitatorID, &isSandboxInt); err != nil {
		return nil, err
	}
	tx.IsSandbox = isSandboxInt != 0
	return &tx, nil
}

// StoredEvent is one row of the durable cloud-event log.
type StoredEvent struct {
	Seq            int64
	StreamID       string
	PaymentStackID string
	IsSandbox      bool
	EventID        string
	EventType      string
	EventJSON      string
	CreatedAt      int64
}

// AppendEvent appends a cloud event to the durable log for
// (streamID, paymentStackID, isSandbox) and returns its sequence number.
func (l *Ledger) AppendEvent(ctx context.Context, streamID, paymentStackID string, isSandbox bool, eventID, eventType string, payload any) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, x402.NewPaymentError(x402.CodeInternal, "failed to marshal event payload", err)
	}
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO cloud_events (stream_id, payment_stack_id, is_sandbox, event_id, event_type, event_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		streamID, paymentStackID, boolToInt(isSandbox), eventID, eventType, string(body), time.Now().Unix())
	if err != nil {
		return 0, x402.NewPaymentError(x402.CodeInternal, "failed to append event", err)
	}
	return res.LastInsertId()
}

// EventsAfter returns events for the given scope with seq > cursor, up to
// limit rows, ordered oldest first.
func (l *Ledger) EventsAfter(ctx context.Context, streamID, paymentStackID string, isSandbox bool, cursor int64, limit int) ([]StoredEvent, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT seq, stream_id, payment_stack_id, is_sandbox, event_id, event_type, event_json, created_at
		FROM cloud_events
		WHERE stream_id = ? AND payment_stack_id = ? AND is_sandbox = ? AND seq > ?
		ORDER BY seq ASC LIMIT ?`,
		streamID, paymentStackID, boolToInt(isSandbox), cursor, limit)
	if err != nil {
		return nil, x402.NewPaymentError(x402.CodeInternal, "failed to query events", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LastEvents returns up to limit of the most recent events for the scope,
// oldest first, used when no durable cursor has been recorded yet.
func (l *Ledger) LastEvents(ctx context.Context, streamID, paymentStackID string, isSandbox bool, limit int) ([]StoredEvent, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT seq, stream_id, payment_stack_id, is_sandbox, event_id, event_type, event_json, created_at
		FROM (
			SELECT seq, stream_id, payment_stack_id, is_sandbox, event_id, event_type, event_json, created_at
			FROM cloud_events
			WHERE stream_id = ? AND payment_stack_id = ? AND is_sandbox = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`,
		streamID, paymentStackID, boolToInt(isSandbox), limit)
	if err != nil {
		return nil, x402.NewPaymentError(x402.CodeInternal, "failed to query recent events", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]StoredEvent, error) {
	var out []StoredEvent
	for rows.Next() {
		var e StoredEvent
		var isSandboxInt int
		if err := rows.Scan(&e.Seq, &e.StreamID, &e.PaymentStackID, &isSandboxInt, &e.EventID, &e.EventType, &e.EventJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.IsSandbox = isSandboxInt != 0
		out = append(out, e)
	}
	return out, nil
}

// CursorFor returns the durable replay cursor for a scope, defaulting to
// zero when none has been recorded.
func (l *Ledger) CursorFor(ctx context.Context, streamID, paymentStackID string, isSandbox bool) (int64, error) {
	var cursor int64
	err := l.db.QueryRowContext(ctx, `
		SELECT cursor FROM stream_cursors WHERE stream_id = ? AND payment_stack_id = ? AND is_sandbox = ?`,
		streamID, paymentStackID, boolToInt(isSandbox)).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, x402.NewPaymentError(x402.CodeInternal, "failed to read stream cursor", err)
	}
	return cursor, nil
}

// AdvanceCursor records cursor as the new replay position for a scope.
// Cursors only ever move forward: the durable-replay contract yields
// each event at-least-once, and a regression here would replay a range
// twice.
func (l *Ledger) AdvanceCursor(ctx context.Context, streamID, paymentStackID string, isSandbox bool, cursor int64) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO stream_cursors (stream_id, payment_stack_id, is_sandbox, cursor)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (stream_id, payment_stack_id, is_sandbox)
		DO UPDATE SET cursor = excluded.cursor WHERE excluded.cursor > stream_cursors.cursor`,
		streamID, paymentStackID, boolToInt(isSandbox), cursor)
	if err != nil {
		return x402.NewPaymentError(x402.CodeInternal, "failed to advance stream cursor", err)
	}
	return nil
}

// Customer mirrors the transaction_customers row shape.
type Customer struct {
	ID      int64
	Address string
	Label   *string
}

// FindOrCreateCustomer looks up a customer by address, inserting a new
// row if none exists.
func (l *Ledger) FindOrCreateCustomer(ctx context.Context, address string, label *string) (int64, error) {
	var id int64
	err := l.db.QueryRowContext(ctx, `SELECT id FROM transaction_customers WHERE address = ?`, address).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, x402.NewPaymentError(x402.CodeInternal, "failed to look up customer", err)
	}
	res, err := l.db.ExecContext(ctx, `INSERT INTO transaction_customers (address, label) VALUES (?, ?)`, address, label)
	if err != nil {
		return 0, x402.NewPaymentError(x402.CodeInternal, "failed to create customer", err)
	}
	return res.LastInsertId()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintViolation reports whether err is SQLite's own
// unique-constraint failure, as opposed to any other write error
// (disk full, corruption, connection loss). modernc.org/sqlite
// doesn't export a typed constraint-violation error, but it carries
// SQLite's own wording verbatim, so matching that text is the stable
// signal across SQLite driver implementations.
func isUniqueConstraintViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
