// Package store writes quantification results to a SQLite database.
// Each run gets its own id, so one database can hold many runs.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/524D/mzquant/internal/quant"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Date format for RunTable (ISO 8601)
const runDateFormat = time.RFC3339

// Writer writes quantification runs to a SQLite database file
type Writer struct {
	db         *sql.DB
	outputPath string
}

// NewWriter opens (or creates) the database and its tables
func NewWriter(outputPath string) (*Writer, error) {
	db, err := sql.Open("sqlite3", outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	w := &Writer{db: db, outputPath: outputPath}
	if err := w.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS RunTable (
		RunId TEXT PRIMARY KEY,
		Method TEXT,
		Reference TEXT,
		Labels TEXT,
		Settings TEXT,
		CreationDate TEXT
	);

	CREATE TABLE IF NOT EXISTS RatioTable (
		RunId TEXT REFERENCES RunTable(RunId),
		Level TEXT,
		EntityId TEXT,
		Label TEXT,
		Ratio DOUBLE,
		Intensity DOUBLE,
		LogWindow DOUBLE,
		Support INTEGER,
		Score DOUBLE,
		Children INTEGER,
		Ignored BOOL,
		Validated BOOL
	);

	CREATE INDEX IF NOT EXISTS RatioEntity ON RatioTable (RunId, Level, EntityId);
	`
	if _, err := w.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// WriteRun stores a result in one transaction and returns its run id
func (w *Writer) WriteRun(res *quant.Result, cfg quant.Config) (uuid.UUID, error) {
	runID := uuid.New()
	settings, err := json.Marshal(cfg)
	if err != nil {
		return runID, fmt.Errorf("failed to encode settings: %w", err)
	}
	labels, err := json.Marshal(res.Labels)
	if err != nil {
		return runID, fmt.Errorf("failed to encode labels: %w", err)
	}

	tx, err := w.db.Begin()
	if err != nil {
		return runID, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO RunTable (RunId, Method, Reference, Labels, Settings, CreationDate)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID.String(), res.Method, res.Reference, string(labels), string(settings),
		time.Now().Format(runDateFormat))
	if err != nil {
		return runID, fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO RatioTable (
			RunId, Level, EntityId, Label, Ratio, Intensity,
			LogWindow, Support, Score, Children, Ignored, Validated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return runID, fmt.Errorf("failed to prepare ratio statement: %w", err)
	}
	defer stmt.Close()

	levels := []struct {
		name string
		qs   []*quant.Quant
	}{
		{"spectrum", res.Spectra},
		{"peptide", res.Peptides},
		{"protein", res.Proteins},
	}
	for _, level := range levels {
		for _, q := range level.qs {
			for _, label := range res.Labels {
				// Optional columns stay NULL where a level has no value
				var intensity, window, support, score interface{}
				if v, ok := q.Intensities[label]; ok {
					intensity = v
				}
				if est, ok := q.Estimates[label]; ok {
					window, support, score = est.Window, est.Support, est.Score
				}
				_, err := stmt.Exec(
					runID.String(),
					level.name,
					q.ID,
					label,
					q.Ratios[label],
					intensity,
					window,
					support,
					score,
					q.Children,
					q.Ignored[label],
					q.Validated,
				)
				if err != nil {
					return runID, fmt.Errorf("failed to insert %s %s: %w", level.name, q.ID, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return runID, fmt.Errorf("failed to commit run: %w", err)
	}
	return runID, nil
}

// Close closes the database connection
func (w *Writer) Close() error {
	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
