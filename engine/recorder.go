package engine

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/joyshmitz/sbh/model"
)

// tickFrame is one tick's worth of state written to the recorder file,
// sufficient to replay and diff a run byte-for-byte (spec's S6
// determinism scenario).
type tickFrame struct {
	Timestamp time.Time                    `json:"timestamp"`
	WorstMount string                      `json:"worst_mount"`
	Worst     model.PressureResponse       `json:"worst"`
	Rates     map[string]model.RateEstimate `json:"rates"`
	Guard     model.GuardDiagnostics       `json:"guard"`
	Mode      model.ActiveMode             `json:"mode"`
	Records   []model.DecisionRecord       `json:"records"`
}

// Recorder wraps an Engine and appends every tick to a JSONL stream.
type Recorder struct {
	Engine *Engine
	writer *json.Encoder
	mu     sync.Mutex
}

// NewRecorder creates a recorder that writes JSON lines to w.
func NewRecorder(eng *Engine, w io.Writer) *Recorder {
	return &Recorder{
		Engine: eng,
		writer: json.NewEncoder(w),
	}
}

// RecordTick runs one engine tick and appends its frame to the stream.
func (r *Recorder) RecordTick(
	readings []model.PressureReading,
	thresholds map[string]uint64,
	candidates []model.CandidateInput,
	now time.Time,
) TickResult {
	result := r.Engine.Tick(readings, thresholds, candidates, now)

	frame := tickFrame{
		Timestamp:  now,
		WorstMount: result.WorstMount,
		Worst:      result.Worst,
		Rates:      result.Rates,
		Guard:      result.Guard,
		Mode:       result.Decision.Mode,
		Records:    result.Decision.Records,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.writer.Encode(frame)

	return result
}

// Player replays a recorded tick stream without re-running the engine,
// so a prior run's decisions can be checked without touching the
// filesystem again.
type Player struct {
	frames []tickFrame
	idx    int
}

// NewPlayer loads every tick frame from a recorded JSONL stream.
// Malformed trailing lines (e.g. a partially-written last line from a
// crash) are tolerated and stop replay at the last well-formed frame.
func NewPlayer(r io.Reader) (*Player, error) {
	dec := json.NewDecoder(r)
	var frames []tickFrame
	for {
		var frame tickFrame
		if err := dec.Decode(&frame); err != nil {
			if err == io.EOF {
				break
			}
			break
		}
		frames = append(frames, frame)
	}
	return &Player{frames: frames}, nil
}

// Next returns the next recorded frame's decision records, or false when
// the stream is exhausted.
func (p *Player) Next() ([]model.DecisionRecord, bool) {
	if p.idx >= len(p.frames) {
		return nil, false
	}
	f := p.frames[p.idx]
	p.idx++
	return f.Records, true
}

// Len reports the total number of recorded frames.
func (p *Player) Len() int { return len(p.frames) }
