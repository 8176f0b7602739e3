package train

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// History records per-epoch training metrics into a SQLite database next
// to the checkpoints, so a run can be inspected after the fact without
// scraping logs.
type History struct {
	db    *sql.DB
	runID string
}

const historySchema = `
CREATE TABLE IF NOT EXISTS epochs (
	run_id     TEXT    NOT NULL,
	epoch      INTEGER NOT NULL,
	train_loss REAL    NOT NULL,
	val_f1     REAL    NOT NULL,
	improved   INTEGER NOT NULL,
	created_at TEXT    NOT NULL,
	PRIMARY KEY (run_id, epoch)
)`

// OpenHistory opens (or creates) history.db in the output directory.
func OpenHistory(outputDir, runID string) (*History, error) {
	path := filepath.Join(outputDir, "history.db")
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &History{db: db, runID: runID}, nil
}

// Record inserts one epoch's metrics.
func (h *History) Record(epoch int, trainLoss, valF1 float64, improved bool) error {
	_, err := h.db.Exec(
		`INSERT INTO epochs (run_id, epoch, train_loss, val_f1, improved, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		h.runID, epoch, trainLoss, valF1, improved, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("recording epoch %d: %w", epoch, err)
	}
	return nil
}

// Close closes the underlying database.
func (h *History) Close() error {
	return h.db.Close()
}
