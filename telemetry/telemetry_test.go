package telemetry

import (
	"path/filepath"
	"testing"
)

func TestCompositeReaderFallsBackToSecondReader(t *testing.T) {
	sqlitePath := filepath.Join(t.TempDir(), "telemetry.db")
	sink, err := OpenSQLiteSink(sqlitePath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sink.Close()
	sink.Write(sampleRecord(1, "/tmp/indexed"))

	jsonlPath := filepath.Join(t.TempDir(), "decisions.jsonl")
	jsonlSink := NewJSONLSink(jsonlPath)
	jsonlSink.Write(sampleRecord(2, "/tmp/fallback"))

	reader := NewCompositeReader(sink, NewJSONLReader(jsonlPath))

	fromIndex, err := reader.DecisionByID(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fromIndex == nil || fromIndex.Path != "/tmp/indexed" {
		t.Fatalf("want the indexed record, got %+v", fromIndex)
	}

	fromFallback, err := reader.DecisionByID(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fromFallback == nil || fromFallback.Path != "/tmp/fallback" {
		t.Fatalf("want the fallback record, got %+v", fromFallback)
	}
}

func TestCompositeReaderReturnsNilWhenNoReaderHasIt(t *testing.T) {
	jsonlPath := filepath.Join(t.TempDir(), "decisions.jsonl")
	jsonlSink := NewJSONLSink(jsonlPath)
	jsonlSink.Write(sampleRecord(1, "/tmp/a"))

	reader := NewCompositeReader(NewJSONLReader(jsonlPath))
	rec, err := reader.DecisionByID(404)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Fatalf("want nil, got %+v", rec)
	}
}
