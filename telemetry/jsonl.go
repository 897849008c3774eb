package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"github.com/joyshmitz/sbh/model"
)

// JSONLSink appends decision records to an append-only JSONL file,
// directly adapted from the teacher's EventLogWriter.
type JSONLSink struct {
	path string
	mu   sync.Mutex
}

// NewJSONLSink creates a sink writing to path.
func NewJSONLSink(path string) *JSONLSink {
	return &JSONLSink{path: path}
}

// Write appends one decision record to the log file.
func (s *JSONLSink) Write(rec model.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(rec)
}

// Close is a no-op; JSONLSink holds no long-lived handle between writes.
func (s *JSONLSink) Close() error { return nil }

// ReadDecisionLog reads every decision record from a JSONL file, skipping
// malformed trailing lines the way the teacher's ReadEventLog does so a
// crash mid-write never corrupts the whole history.
func ReadDecisionLog(path string) ([]model.DecisionRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []model.DecisionRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var rec model.DecisionRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

// JSONLReader satisfies TelemetryReader by scanning a JSONL log linearly.
// Adequate for the CLI's occasional explain lookups; SQLiteSink is
// the indexed backend for anything latency-sensitive.
type JSONLReader struct {
	path string
}

// NewJSONLReader constructs a reader over path.
func NewJSONLReader(path string) *JSONLReader {
	return &JSONLReader{path: path}
}

// DecisionByID returns the most recent record with the given id, or nil
// if none is found.
func (r *JSONLReader) DecisionByID(id uint64) (*model.DecisionRecord, error) {
	records, err := ReadDecisionLog(r.path)
	if err != nil {
		return nil, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].DecisionID == id {
			rec := records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

// Recent returns the last n decision records, most recent last.
func (r *JSONLReader) Recent(n int) ([]model.DecisionRecord, error) {
	records, err := ReadDecisionLog(r.path)
	if err != nil {
		return nil, err
	}
	if len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}
