package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_reports (
	product_id       TEXT PRIMARY KEY,
	seller_id        TEXT NOT NULL,
	category         TEXT NOT NULL,
	compliance_score INTEGER NOT NULL,
	risk_level       TEXT NOT NULL,
	created_at       INTEGER NOT NULL,
	payload          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_reports_created ON audit_reports (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_reports_seller ON audit_reports (seller_id);
CREATE INDEX IF NOT EXISTS idx_audit_reports_risk ON audit_reports (risk_level);`

// SQLStore keeps reports in SQLite. The full report is stored as JSON next
// to the columns used for filtering.
type SQLStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens (creating if needed) the database at dsn.
func OpenSQLite(dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening report database: %w", err)
	}
	// SQLite has a single writer; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	s := NewSQLStore(db, logger)
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database. Call Migrate before use on a new database.
func NewSQLStore(db *sql.DB, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{db: db, logger: logger}
}

// Migrate creates the schema.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrating report schema: %w", err)
	}
	return nil
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, r *AuditReport) error {
	if err := r.validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_reports (product_id, seller_id, category, compliance_score, risk_level, created_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ProductID, r.SellerID, string(r.Category), r.ComplianceScore, string(r.RiskLevel), r.CreatedAt.UnixNano(), string(payload),
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: %s", ErrDuplicate, r.ProductID)
		}
		return fmt.Errorf("saving report %s: %w", r.ProductID, err)
	}
	return nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, productID string) (*AuditReport, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM audit_reports WHERE product_id = ?`, productID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading report %s: %w", productID, err)
	}
	return decode(payload)
}

// Find implements Store.
func (s *SQLStore) Find(ctx context.Context, f Filter) ([]*AuditReport, error) {
	query, args := findQuery(f)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reports: %w", err)
	}
	defer rows.Close()

	out := []*AuditReport{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		r, err := decode(payload)
		if err != nil {
			s.logger.Warn("skipping undecodable report", zap.Error(err))
			continue
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reports: %w", err)
	}
	return out, nil
}

// Close implements Store.
func (s *SQLStore) Close() error { return s.db.Close() }

func findQuery(f Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		where = append(where, clause)
		args = append(args, v)
	}
	if f.RiskLevel != "" {
		add("risk_level = ?", string(f.RiskLevel))
	}
	if f.MinScore != nil {
		add("compliance_score >= ?", *f.MinScore)
	}
	if f.MaxScore != nil {
		add("compliance_score <= ?", *f.MaxScore)
	}
	if !f.From.IsZero() {
		add("created_at >= ?", f.From.UnixNano())
	}
	if !f.To.IsZero() {
		add("created_at <= ?", f.To.UnixNano())
	}
	if f.SellerID != "" {
		add("seller_id = ?", f.SellerID)
	}
	if f.Category != "" {
		add("category = ?", string(f.Category))
	}

	var b strings.Builder
	b.WriteString("SELECT payload FROM audit_reports")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, product_id DESC")
	if f.Limit > 0 || f.Offset > 0 {
		limit := f.Limit
		if limit <= 0 {
			limit = -1
		}
		b.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, limit, f.Offset)
	}
	return b.String(), args
}

func decode(payload string) (*AuditReport, error) {
	var r AuditReport
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	r.CreatedAt = r.CreatedAt.In(time.UTC)
	return &r, nil
}

// Open returns the store selected by driver.
func Open(driver, dsn string, logger *zap.Logger) (Store, error) {
	switch driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		return OpenSQLite(dsn, logger)
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}
