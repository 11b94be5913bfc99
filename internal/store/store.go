// Package store archives analyses and trend snapshots in Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mohammad-safakhou/brandscope/internal/helpers"
)

type Store struct {
	DB *sql.DB
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// AnalysisRecord is one archived analysis run.
type AnalysisRecord struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"sessionId"`
	Brand       string          `json:"brand"`
	Competitors []string        `json:"competitors"`
	Category    string          `json:"category"`
	Country     string          `json:"country"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// TrendSnapshot is one archived trends refresh.
type TrendSnapshot struct {
	ID        string    `json:"id"`
	Brand     string    `json:"brand"`
	Lines     []string  `json:"lines"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"createdAt"`
}

// Snapshot returns the fingerprint used for change detection.
func (t TrendSnapshot) Snapshot() helpers.Snapshot {
	return helpers.Snapshot{Hash: t.Hash, TakenAt: t.CreatedAt}
}

// SaveAnalysis inserts rec and returns its id.
func (s *Store) SaveAnalysis(ctx context.Context, rec AnalysisRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Competitors == nil {
		rec.Competitors = []string{}
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO analyses (id, session_id, brand, competitors, category, country, payload, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, rec.SessionID, rec.Brand, pq.Array(rec.Competitors), rec.Category, rec.Country, []byte(rec.Payload), rec.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert analysis: %w", err)
	}
	return rec.ID, nil
}

const analysisColumns = `id, session_id, brand, competitors, category, country, payload, created_at`

func scanAnalysis(row interface{ Scan(...any) error }) (AnalysisRecord, error) {
	var (
		rec     AnalysisRecord
		payload []byte
	)
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.Brand, pq.Array(&rec.Competitors), &rec.Category, &rec.Country, &payload, &rec.CreatedAt); err != nil {
		return AnalysisRecord{}, err
	}
	rec.Payload = json.RawMessage(payload)
	return rec, nil
}

// LatestAnalysis returns the newest analysis archived for sessionID.
func (s *Store) LatestAnalysis(ctx context.Context, sessionID string) (AnalysisRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE session_id=$1 ORDER BY created_at DESC LIMIT 1`, sessionID)
	rec, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AnalysisRecord{}, false, nil
	}
	if err != nil {
		return AnalysisRecord{}, false, fmt.Errorf("latest analysis: %w", err)
	}
	return rec, true, nil
}

// ListAnalyses returns a session's analyses, newest first.
func (s *Store) ListAnalyses(ctx context.Context, sessionID string, limit int) ([]AnalysisRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()
	var out []AnalysisRecord
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveTrendSnapshot archives a trends refresh for brand.
func (s *Store) SaveTrendSnapshot(ctx context.Context, brand string, lines []string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO trend_snapshots (id, brand, lines, hash, created_at)
VALUES ($1,$2,$3,$4,NOW())`,
		uuid.NewString(), brand, pq.Array(lines), helpers.LinesHash(lines))
	if err != nil {
		return fmt.Errorf("insert trend snapshot: %w", err)
	}
	return nil
}

// LatestTrendSnapshot returns the newest snapshot for brand.
func (s *Store) LatestTrendSnapshot(ctx context.Context, brand string) (TrendSnapshot, bool, error) {
	var snap TrendSnapshot
	err := s.DB.QueryRowContext(ctx, `
SELECT id, brand, lines, hash, created_at FROM trend_snapshots
WHERE LOWER(brand)=LOWER($1) ORDER BY created_at DESC LIMIT 1`, brand).
		Scan(&snap.ID, &snap.Brand, pq.Array(&snap.Lines), &snap.Hash, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return TrendSnapshot{}, false, nil
	}
	if err != nil {
		return TrendSnapshot{}, false, fmt.Errorf("latest trend snapshot: %w", err)
	}
	return snap, true, nil
}

// ListTrackedBrands returns the distinct brands analysed since the given time.
func (s *Store) ListTrackedBrands(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT ON (LOWER(brand)) brand FROM analyses WHERE created_at >= $1 ORDER BY LOWER(brand), created_at DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("list tracked brands: %w", err)
	}
	defer rows.Close()
	var brands []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		if b = strings.TrimSpace(b); b != "" {
			brands = append(brands, b)
		}
	}
	return brands, rows.Err()
}
