package engine

import (
	"bytes"
	"testing"
	"time"

	"github.com/joyshmitz/sbh/model"
)

func TestRecorderRoundTripsThroughPlayer(t *testing.T) {
	var buf bytes.Buffer
	e := NewEngine(DefaultEngineConfig(), time.Unix(0, 0))
	rec := NewRecorder(e, &buf)

	candidates := []model.CandidateInput{{Path: "/x", AgeHours: 1000, SizeBytes: 1 << 20}}
	rec.RecordTick(nil, nil, candidates, time.Unix(0, 0))
	rec.RecordTick(nil, nil, candidates, time.Unix(1, 0))

	player, err := NewPlayer(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if player.Len() != 2 {
		t.Fatalf("want 2 recorded frames, got %d", player.Len())
	}

	first, ok := player.Next()
	if !ok || len(first) != 1 {
		t.Fatalf("want first frame with 1 record, got %v ok=%v", first, ok)
	}
	second, ok := player.Next()
	if !ok || len(second) != 1 {
		t.Fatalf("want second frame with 1 record, got %v ok=%v", second, ok)
	}
	if _, ok := player.Next(); ok {
		t.Fatalf("want exhausted player to return ok=false")
	}
}

func TestPlayerToleratesTruncatedTrailingLine(t *testing.T) {
	var buf bytes.Buffer
	e := NewEngine(DefaultEngineConfig(), time.Unix(0, 0))
	rec := NewRecorder(e, &buf)
	candidates := []model.CandidateInput{{Path: "/x", AgeHours: 1000, SizeBytes: 1 << 20}}
	rec.RecordTick(nil, nil, candidates, time.Unix(0, 0))

	buf.WriteString(`{"timestamp":"2026-01-01T00:00:00Z","records":[{`) // truncated, no closing

	player, err := NewPlayer(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if player.Len() != 1 {
		t.Fatalf("want the one well-formed frame retained, got %d", player.Len())
	}
}
