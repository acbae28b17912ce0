// Package db owns the service's SQLite state: the audit log and the durable
// processed-events table. Both are process-local; the processed-events insert
// is the atomic check-and-set that backs up the in-memory idempotency cache.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"time"

	"github.com/pressly/goose/v3"
	// SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/fr0stylo/payhook/internal/audit"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const driver = "sqlite"

// Database wraps the shared SQLite connection.
type Database struct {
	db *sql.DB
}

// Open opens (and migrates) the SQLite database at path.
func Open(path string) (*Database, error) {
	if path == "" {
		path = "data/payhook"
	}
	db, err := sql.Open(driver, sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect(driver); err != nil {
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Database{db: db}, nil
}

func sqliteDSN(path string) string {
	values := url.Values{}
	values.Add("_pragma", "journal_mode(WAL)")
	values.Add("_pragma", "synchronous(NORMAL)")
	values.Add("_pragma", "busy_timeout(5000)")
	values.Add("_pragma", "temp_store(MEMORY)")
	return "file:" + path + "?" + values.Encode()
}

// Close closes the underlying connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// InsertAudit persists one audit entry.
func (d *Database) InsertAudit(ctx context.Context, entry audit.Entry) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, request_id, created_at, provider, event_type, source_ip,
			event_id, signature_valid, processing_ms, outcome,
			rejection_reason, mutation_called, sync_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.RequestID,
		entry.Timestamp.UTC(),
		entry.Provider,
		entry.EventType,
		entry.SourceIP,
		entry.EventID,
		boolInt(entry.SignatureValid),
		entry.ProcessingTime.Milliseconds(),
		string(entry.Outcome),
		entry.RejectionReason,
		boolInt(entry.MutationCalled),
		boolInt(entry.SyncStatus),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// AuditCount returns the number of audit entries for eventID.
func (d *Database) AuditCount(ctx context.Context, eventID string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log WHERE event_id = ?`, eventID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return count, nil
}

// MarkProcessed records eventID as processed and reports whether the row was
// new. The conflict clause makes check and set one atomic statement.
func (d *Database) MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO processed_events (event_id, event_type, processed_at)
		VALUES (?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("mark processed event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark processed event: %w", err)
	}
	return affected > 0, nil
}

// WasProcessed reports whether eventID is already in the durable store.
func (d *Database) WasProcessed(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := d.db.QueryRowContext(ctx, `SELECT 1 FROM processed_events WHERE event_id = ?`, eventID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query processed event: %w", err)
	}
	return true, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
