package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id               TEXT PRIMARY KEY,
	kind             TEXT NOT NULL,
	sender           TEXT NOT NULL,
	recipient        TEXT NOT NULL DEFAULT '',
	group_id         TEXT NOT NULL DEFAULT '',
	group_name       TEXT NOT NULL DEFAULT '',
	recipients       TEXT NOT NULL DEFAULT '[]',
	total_recipients INTEGER NOT NULL DEFAULT 0,
	body             TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'sent',
	sent_at          DATETIME NOT NULL,
	delivered_at     DATETIME,
	read_at          DATETIME
);

CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, recipient, sent_at);
CREATE INDEX IF NOT EXISTS idx_messages_group ON messages(group_id, sent_at);

CREATE TABLE IF NOT EXISTS message_receipts (
	message_id TEXT NOT NULL,
	identity   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	at         DATETIME NOT NULL,
	PRIMARY KEY (message_id, identity, kind),
	FOREIGN KEY (message_id) REFERENCES messages(id)
);
`

const messageColumns = `id, kind, sender, recipient, group_id, group_name, recipients, total_recipients,
	body, status, sent_at, delivered_at, read_at`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements store.MessageStore for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.MessageStore = (*SQLiteStore)(nil)

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, nil)
}

// NewWithSetup is New followed by a setup function, e.g. for seeding test data.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateMessage inserts a new message record.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	recipients, err := json.Marshal(nonNil(msg.Recipients))
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}
	status := msg.Status
	if status == "" {
		status = store.StatusSent
	}

	query := `
		INSERT INTO messages (id, kind, sender, recipient, group_id, group_name, recipients,
			total_recipients, body, status, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		msg.ID,
		msg.Kind,
		msg.Sender,
		msg.Recipient,
		msg.GroupID,
		msg.GroupName,
		string(recipients),
		msg.TotalRecipients,
		msg.Body,
		status,
		msg.SentAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("insert message %s: %w", msg.ID, store.ErrDuplicateID)
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message with its receipt sets.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	return getMessage(ctx, s.db, id)
}

// AddReceipt unions a receipt into the message inside one transaction.
// Receipts are keyed by (message, identity, kind) so replays are ignored.
func (s *SQLiteStore) AddReceipt(ctx context.Context, id, identity string, kind store.ReceiptKind, at time.Time) (*store.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	msg, err := getMessage(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !store.ApplyReceipt(msg, identity, kind, at) {
		return msg, nil
	}

	insert := `INSERT OR IGNORE INTO message_receipts (message_id, identity, kind, at) VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, id, identity, store.ReceiptDelivered, at); err != nil {
		return nil, fmt.Errorf("insert delivery receipt: %w", err)
	}
	if kind == store.ReceiptRead {
		if _, err := tx.ExecContext(ctx, insert, id, identity, store.ReceiptRead, at); err != nil {
			return nil, fmt.Errorf("insert read receipt: %w", err)
		}
	}

	update := `UPDATE messages SET status = ?, delivered_at = ?, read_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, update, msg.Status, nullTime(msg.DeliveredAt), nullTime(msg.ReadAt), id); err != nil {
		return nil, fmt.Errorf("update message status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit receipt: %w", err)
	}
	return msg, nil
}

// ListConversation returns private messages between a and b, oldest first.
func (s *SQLiteStore) ListConversation(ctx context.Context, a, b string, limit int) ([]*store.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE kind = 'private'
		  AND ((sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?))
		ORDER BY sent_at DESC, rowid DESC
		LIMIT ?
	`
	return s.listMessages(ctx, query, a, b, b, a, sqlLimit(limit))
}

// ListGroupMessages returns messages of a group, oldest first.
func (s *SQLiteStore) ListGroupMessages(ctx context.Context, groupID string, limit int) ([]*store.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE kind = 'group' AND group_id = ?
		ORDER BY sent_at DESC, rowid DESC
		LIMIT ?
	`
	return s.listMessages(ctx, query, groupID, sqlLimit(limit))
}

func (s *SQLiteStore) listMessages(ctx context.Context, query string, args ...any) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	rows.Close()

	// Receipts are loaded after the cursor is released; there is only one connection.
	for _, msg := range messages {
		if err := loadReceipts(ctx, s.db, msg); err != nil {
			return nil, err
		}
	}

	// Newest-first from the query, callers want send order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func getMessage(ctx context.Context, q querier, id string) (*store.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`
	msg, err := scanMessage(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
		}
		return nil, err
	}
	if err := loadReceipts(ctx, q, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	var recipients string
	var deliveredAt, readAt sql.NullTime
	err := row.Scan(
		&msg.ID,
		&msg.Kind,
		&msg.Sender,
		&msg.Recipient,
		&msg.GroupID,
		&msg.GroupName,
		&recipients,
		&msg.TotalRecipients,
		&msg.Body,
		&msg.Status,
		&msg.SentAt,
		&deliveredAt,
		&readAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}

	if err := json.Unmarshal([]byte(recipients), &msg.Recipients); err != nil {
		return nil, fmt.Errorf("decode recipients: %w", err)
	}
	if deliveredAt.Valid {
		msg.DeliveredAt = &deliveredAt.Time
	}
	if readAt.Valid {
		msg.ReadAt = &readAt.Time
	}
	return &msg, nil
}

func loadReceipts(ctx context.Context, q querier, msg *store.Message) error {
	query := `
		SELECT identity, kind
		FROM message_receipts
		WHERE message_id = ?
		ORDER BY rowid
	`
	rows, err := q.QueryContext(ctx, query, msg.ID)
	if err != nil {
		return fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	msg.DeliveredBy = nil
	msg.ReadBy = nil
	for rows.Next() {
		var identity string
		var kind store.ReceiptKind
		if err := rows.Scan(&identity, &kind); err != nil {
			return fmt.Errorf("scan receipt: %w", err)
		}
		switch kind {
		case store.ReceiptDelivered:
			msg.DeliveredBy = append(msg.DeliveredBy, identity)
		case store.ReceiptRead:
			msg.ReadBy = append(msg.ReadBy, identity)
		}
	}
	return rows.Err()
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
