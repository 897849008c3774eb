// Package telemetry persists decision records and daemon state snapshots
// for offline inspection by the CLI, mirroring the teacher's event-log
// and incident-snapshot idioms but generalized to the decision-record
// domain (spec §6).
package telemetry

import "github.com/joyshmitz/sbh/model"

// TelemetrySink accepts decision records as they are produced, in either
// append-only (JSONL) or indexed (SQLite) form.
type TelemetrySink interface {
	Write(rec model.DecisionRecord) error
	Close() error
}

// TelemetryReader answers point and range queries over persisted decision
// records, independent of the backend that wrote them.
type TelemetryReader interface {
	DecisionByID(id uint64) (*model.DecisionRecord, error)
	Recent(n int) ([]model.DecisionRecord, error)
}

// CompositeReader tries each reader in order and returns the first
// non-nil, error-free result, letting `sbh explain` consult an indexed
// SQLite backend first and fall back to a linear JSONL scan if the index
// is absent or the id predates it.
type CompositeReader struct {
	readers []TelemetryReader
}

// NewCompositeReader builds a reader trying each of readers in order.
func NewCompositeReader(readers ...TelemetryReader) *CompositeReader {
	return &CompositeReader{readers: readers}
}

func (c *CompositeReader) DecisionByID(id uint64) (*model.DecisionRecord, error) {
	for _, r := range c.readers {
		rec, err := r.DecisionByID(id)
		if err != nil {
			continue
		}
		if rec != nil {
			return rec, nil
		}
	}
	return nil, nil
}

func (c *CompositeReader) Recent(n int) ([]model.DecisionRecord, error) {
	for _, r := range c.readers {
		recs, err := r.Recent(n)
		if err == nil && len(recs) > 0 {
			return recs, nil
		}
	}
	return nil, nil
}
