package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/roundscout/internal/model"
)

// FileName is the name of the database file inside the data directory.
const FileName = "roundscout.db"

// Store provides SQLite-based key-value persistence for a node.
// It holds crawled records per round, proofs, the session cookie jar,
// per-round search terms and peer audit results.
//
// Design decision: records keep their JSON form in a single column and
// only the lookup keys are real columns. The artifact format is owned by
// model.Record, so schema changes never ripple into stored rows.
type Store struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures Store behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a Store in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*Store, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a missing file; mode=rwc allows it.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (s *Store) createTables() error {
	schema := `
	-- Records collected per round; seq keeps insertion order
	CREATE TABLE IF NOT EXISTS records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		round INTEGER NOT NULL,
		id TEXT NOT NULL,
		posted_at INTEGER NOT NULL DEFAULT 0,
		data TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(round, id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_round ON records(round);
	CREATE INDEX IF NOT EXISTS idx_records_id ON records(id);

	-- One proof per round
	CREATE TABLE IF NOT EXISTS proofs (
		round INTEGER PRIMARY KEY,
		cid TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Cookie jars keyed by account
	CREATE TABLE IF NOT EXISTS cookies (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Search term assigned to each round
	CREATE TABLE IF NOT EXISTS search_terms (
		round INTEGER PRIMARY KEY,
		term TEXT NOT NULL
	);

	-- Results of validating peer proofs
	CREATE TABLE IF NOT EXISTS audits (
		id TEXT PRIMARY KEY,
		round INTEGER NOT NULL,
		peer TEXT NOT NULL,
		cid TEXT NOT NULL,
		verdict TEXT NOT NULL,
		data TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audits_round ON audits(round);
	`

	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// InsertRecord stores rec under round.
// It returns model.ErrDuplicate when the round already holds rec.ID.
func (s *Store) InsertRecord(ctx context.Context, round int64, rec model.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}

	query := `
	INSERT INTO records (round, id, posted_at, data)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(round, id) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query, round, rec.ID, rec.PostedAt, string(data))
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record %s in round %d: %w", rec.ID, round, model.ErrDuplicate)
	}
	return nil
}

// FindRecord returns the record with id in round, or nil when absent.
func (s *Store) FindRecord(ctx context.Context, round int64, id string) (*model.Record, error) {
	query := `SELECT data FROM records WHERE round = ? AND id = ?`

	var data string
	err := s.db.QueryRowContext(ctx, query, round, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	var rec model.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record: %w", err)
	}
	return &rec, nil
}

// ReplaceRecord overwrites the stored record with the same ID in place,
// so it keeps its position in the round's order. A record that is not
// stored yet is inserted.
func (s *Store) ReplaceRecord(ctx context.Context, round int64, rec model.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}

	query := `
	INSERT INTO records (round, id, posted_at, data)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(round, id) DO UPDATE SET
		posted_at = excluded.posted_at,
		data = excluded.data
	`

	if _, err := s.db.ExecContext(ctx, query, round, rec.ID, rec.PostedAt, string(data)); err != nil {
		return fmt.Errorf("failed to replace record: %w", err)
	}
	return nil
}

// RemoveRecord deletes the record with id from round.
// Removing a missing record is not an error.
func (s *Store) RemoveRecord(ctx context.Context, round int64, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE round = ? AND id = ?`, round, id); err != nil {
		return fmt.Errorf("failed to remove record: %w", err)
	}
	return nil
}

// ListRecords returns the records of round in insertion order.
func (s *Store) ListRecords(ctx context.Context, round int64) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM records WHERE round = ? ORDER BY seq`, round)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := make([]model.Record, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		var rec model.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("failed to parse record: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// CountRecords returns how many records round holds.
func (s *Store) CountRecords(ctx context.Context, round int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE round = ?`, round).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// SaveProof stores a proof record.
// It returns model.ErrDuplicate when the round already has a proof.
func (s *Store) SaveProof(ctx context.Context, p model.ProofRecord) error {
	query := `
	INSERT INTO proofs (round, cid, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT(round) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query, p.Round, p.CID, p.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save proof: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save proof: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("proof for round %d: %w", p.Round, model.ErrDuplicate)
	}
	return nil
}

// GetProof returns the proof of round, or nil when none exists.
func (s *Store) GetProof(ctx context.Context, round int64) (*model.ProofRecord, error) {
	var p model.ProofRecord
	var createdAt string

	err := s.db.QueryRowContext(ctx, `SELECT round, cid, created_at FROM proofs WHERE round = ?`, round).
		Scan(&p.Round, &p.CID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proof: %w", err)
	}

	p.CreatedAt = parseTimestamp(createdAt)
	return &p, nil
}

// ListProofs returns proofs, newest round first, up to limit (0 means all).
func (s *Store) ListProofs(ctx context.Context, limit int) ([]model.ProofRecord, error) {
	query := `SELECT round, cid, created_at FROM proofs ORDER BY round DESC`
	args := make([]any, 0)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list proofs: %w", err)
	}
	defer rows.Close()

	var proofs []model.ProofRecord
	for rows.Next() {
		var p model.ProofRecord
		var createdAt string
		if err := rows.Scan(&p.Round, &p.CID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan proof: %w", err)
		}
		p.CreatedAt = parseTimestamp(createdAt)
		proofs = append(proofs, p)
	}

	return proofs, rows.Err()
}

// SaveCookies upserts the cookie jar stored under id.
func (s *Store) SaveCookies(ctx context.Context, id string, cookies []model.Cookie) error {
	data, err := json.Marshal(cookies)
	if err != nil {
		return fmt.Errorf("failed to serialize cookies: %w", err)
	}

	query := `
	INSERT INTO cookies (id, data)
	VALUES (?, ?)
	ON CONFLICT(id) DO UPDATE SET
		data = excluded.data,
		updated_at = CURRENT_TIMESTAMP
	`

	if _, err := s.db.ExecContext(ctx, query, id, string(data)); err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}
	return nil
}

// LoadCookies returns the cookie jar stored under id, or nil when none exists.
func (s *Store) LoadCookies(ctx context.Context, id string) ([]model.Cookie, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM cookies WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cookies: %w", err)
	}

	var cookies []model.Cookie
	if err := json.Unmarshal([]byte(data), &cookies); err != nil {
		return nil, fmt.Errorf("failed to parse cookies: %w", err)
	}
	return cookies, nil
}

// SaveSearchTerm records the term assigned to round. The first term wins.
func (s *Store) SaveSearchTerm(ctx context.Context, round int64, term string) error {
	query := `INSERT INTO search_terms (round, term) VALUES (?, ?) ON CONFLICT(round) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, round, term); err != nil {
		return fmt.Errorf("failed to save search term: %w", err)
	}
	return nil
}

// GetSearchTerm returns the term assigned to round, or "" when none was saved.
func (s *Store) GetSearchTerm(ctx context.Context, round int64) (string, error) {
	var term string
	err := s.db.QueryRowContext(ctx, `SELECT term FROM search_terms WHERE round = ?`, round).Scan(&term)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get search term: %w", err)
	}
	return term, nil
}

// SaveAudit stores the result of validating a peer proof.
func (s *Store) SaveAudit(ctx context.Context, a model.AuditResult) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to serialize audit: %w", err)
	}

	query := `
	INSERT INTO audits (id, round, peer, cid, verdict, data)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	if _, err := s.db.ExecContext(ctx, query, a.ID, a.Round, a.Peer, a.CID, string(a.Verdict), string(data)); err != nil {
		return fmt.Errorf("failed to save audit: %w", err)
	}
	return nil
}

// ListAudits returns the audits of round ordered by ID (creation time).
func (s *Store) ListAudits(ctx context.Context, round int64) ([]model.AuditResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM audits WHERE round = ? ORDER BY id`, round)
	if err != nil {
		return nil, fmt.Errorf("failed to list audits: %w", err)
	}
	defer rows.Close()

	audits := make([]model.AuditResult, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan audit: %w", err)
		}

		var a model.AuditResult
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			continue // Skip malformed rows
		}
		audits = append(audits, a)
	}

	return audits, rows.Err()
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999",
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
