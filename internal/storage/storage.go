// Package storage provides SQLite-backed persistence for anomaly records,
// analysis runs and fitted model blobs.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/tradeguard/internal/ensemble"
	"github.com/rewired-gh/tradeguard/internal/models"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db      *sql.DB
	maxRuns int
}

// Storage is the engine's model store.
var _ ensemble.ModelStore = (*Storage)(nil)

// New opens or creates the SQLite database at dbPath and keeps at most
// maxRuns analysis runs. An empty dbPath defaults to $TMPDIR/tradeguard/data.db.
func New(maxRuns int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "tradeguard", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxRuns: maxRuns}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS anomalies (
			id            TEXT PRIMARY KEY,
			symbol        TEXT NOT NULL,
			date          INTEGER NOT NULL,
			anomaly_type  TEXT NOT NULL,
			risk_score    REAL NOT NULL,
			risk_level    TEXT NOT NULL,
			price_zscore  REAL NOT NULL,
			volume_zscore REAL NOT NULL,
			ml_score      REAL NOT NULL,
			detected_at   INTEGER NOT NULL,
			UNIQUE(symbol, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_score ON anomalies(risk_score DESC)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			symbol      TEXT NOT NULL,
			total_days  INTEGER NOT NULL,
			anomalies   INTEGER NOT NULL,
			high_risk   INTEGER NOT NULL,
			avg_risk    REAL NOT NULL,
			max_risk    REAL NOT NULL,
			finished_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS models (
			name       TEXT PRIMARY KEY,
			blob       BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// NewRecord converts a scored row into its persisted form.
func NewRecord(symbol string, row models.ScoredRow, detectedAt time.Time) models.AnomalyRecord {
	return models.AnomalyRecord{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Date:         row.Date,
		AnomalyType:  row.AnomalyType,
		RiskScore:    row.RiskScore,
		RiskLevel:    row.RiskLevel,
		PriceZScore:  row.PriceZScore,
		VolumeZScore: row.VolumeZScore,
		MLScore:      row.MLScoreIF,
		DetectedAt:   detectedAt,
	}
}

// ReplaceAnomalies swaps every stored record for symbol with the anomalous
// rows of a fresh analysis, in one transaction. It returns the number of
// records written.
func (s *Storage) ReplaceAnomalies(symbol string, rows []models.ScoredRow) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM anomalies WHERE symbol = ?`, symbol); err != nil {
		return 0, fmt.Errorf("failed to clear anomalies: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO anomalies
			(id, symbol, date, anomaly_type, risk_score, risk_level,
			 price_zscore, volume_zscore, ml_score, detected_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(symbol, date) DO UPDATE SET
			anomaly_type=excluded.anomaly_type, risk_score=excluded.risk_score,
			risk_level=excluded.risk_level, price_zscore=excluded.price_zscore,
			volume_zscore=excluded.volume_zscore, ml_score=excluded.ml_score,
			detected_at=excluded.detected_at`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	var n int
	for _, row := range rows {
		if !row.IsAnomaly {
			continue
		}
		r := NewRecord(symbol, row, now)
		if _, err := stmt.Exec(
			r.ID, r.Symbol, r.Date.UnixNano(), r.AnomalyType, r.RiskScore, string(r.RiskLevel),
			r.PriceZScore, r.VolumeZScore, r.MLScore, r.DetectedAt.UnixNano(),
		); err != nil {
			return 0, fmt.Errorf("failed to insert anomaly: %w", err)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit anomalies: %w", err)
	}
	return n, nil
}

const anomalyCols = `id, symbol, date, anomaly_type, risk_score, risk_level,
	price_zscore, volume_zscore, ml_score, detected_at`

// GetAnomalies lists a symbol's records newest date first. A limit <= 0
// returns all of them.
func (s *Storage) GetAnomalies(symbol string, limit int) ([]models.AnomalyRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+anomalyCols+` FROM anomalies
		WHERE symbol = ? ORDER BY date DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query anomalies: %w", err)
	}
	return scanAnomalies(rows)
}

// GetTopAnomalies returns the k highest-risk records across all symbols.
func (s *Storage) GetTopAnomalies(k int) ([]models.AnomalyRecord, error) {
	rows, err := s.db.Query(`SELECT `+anomalyCols+` FROM anomalies
		ORDER BY risk_score DESC, date ASC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query anomalies: %w", err)
	}
	return scanAnomalies(rows)
}

func scanAnomalies(rows *sql.Rows) ([]models.AnomalyRecord, error) {
	defer rows.Close()

	records := []models.AnomalyRecord{}
	for rows.Next() {
		var r models.AnomalyRecord
		var dateNano, detectedAtNano int64
		var level string
		err := rows.Scan(
			&r.ID, &r.Symbol, &dateNano, &r.AnomalyType, &r.RiskScore, &level,
			&r.PriceZScore, &r.VolumeZScore, &r.MLScore, &detectedAtNano,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		r.Date = time.Unix(0, dateNano).UTC()
		r.DetectedAt = time.Unix(0, detectedAtNano)
		r.RiskLevel = models.RiskLevel(level)
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecordRun stores a batch summary and rotates the runs table down to
// maxRuns entries. It returns the run ID.
func (s *Storage) RecordRun(summary models.BatchSummary, finishedAt time.Time) (string, error) {
	id := uuid.NewString()
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`
		INSERT INTO runs (id, symbol, total_days, anomalies, high_risk, avg_risk, max_risk, finished_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		id, summary.Symbol, summary.TotalDays, summary.Anomalies, summary.HighRisk,
		summary.AvgRiskScore, summary.MaxRiskScore, finishedAt.UnixNano(),
	); err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	if s.maxRuns > 0 {
		if _, err := tx.Exec(`
			DELETE FROM runs WHERE id NOT IN (
				SELECT id FROM runs ORDER BY finished_at DESC LIMIT ?
			)`, s.maxRuns); err != nil {
			return "", fmt.Errorf("failed to enforce run cap: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	return id, nil
}

// CountRuns returns how many runs are stored.
func (s *Storage) CountRuns() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}

// SaveModel upserts a named model blob.
func (s *Storage) SaveModel(name string, blob []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO models (name, blob, updated_at) VALUES (?,?,?)
		ON CONFLICT(name) DO UPDATE SET blob=excluded.blob, updated_at=excluded.updated_at`,
		name, blob, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}
	return nil
}

// LoadModel returns the blob stored under name, or ensemble.ErrModelNotFound.
func (s *Storage) LoadModel(name string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT blob FROM models WHERE name = ?`, name).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ensemble.ErrModelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	return blob, nil
}
