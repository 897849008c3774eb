package telemetry

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/joyshmitz/sbh/model"
)

// SQLiteSink persists decision records to a WAL-mode SQLite database,
// the indexed backend behind `sbh explain` once the
// activity history grows past what a linear JSONL scan should serve.
type SQLiteSink struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	decision_id INTEGER PRIMARY KEY,
	timestamp   TEXT NOT NULL,
	path        TEXT NOT NULL,
	action      TEXT NOT NULL,
	total_score REAL NOT NULL,
	vetoed      INTEGER NOT NULL,
	policy_mode TEXT NOT NULL,
	record      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS decisions_timestamp_idx ON decisions(timestamp);
`

// OpenSQLiteSink opens (creating if absent) a WAL-mode SQLite database at
// path and ensures the decisions schema exists.
func OpenSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite telemetry db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create telemetry schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Write inserts one decision record, replacing any prior row with the
// same decision_id (a crash-recovery re-send is idempotent).
func (s *SQLiteSink) Write(rec model.DecisionRecord) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal decision record: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO decisions (decision_id, timestamp, path, action, total_score, vetoed, policy_mode, record)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.DecisionID, rec.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"),
		rec.Path, rec.Action.Effective, rec.TotalScore, rec.Vetoed, rec.PolicyMode, string(blob),
	)
	if err != nil {
		return fmt.Errorf("insert decision record: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteSink) Close() error { return s.db.Close() }

// DecisionByID looks up one decision record by id.
func (s *SQLiteSink) DecisionByID(id uint64) (*model.DecisionRecord, error) {
	var blob string
	err := s.db.QueryRow(`SELECT record FROM decisions WHERE decision_id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query decision record: %w", err)
	}
	var rec model.DecisionRecord
	if err := json.Unmarshal([]byte(blob), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal decision record: %w", err)
	}
	return &rec, nil
}

// Recent returns the last n decision records ordered oldest to newest.
func (s *SQLiteSink) Recent(n int) ([]model.DecisionRecord, error) {
	rows, err := s.db.Query(`SELECT record FROM decisions ORDER BY decision_id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent decisions: %w", err)
	}
	defer rows.Close()

	var out []model.DecisionRecord
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var rec model.DecisionRecord
		if err := json.Unmarshal([]byte(blob), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}
