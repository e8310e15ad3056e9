package dosing

import (
	"encoding/json"
	"io"
)

// recordSchemaVersion is bumped whenever RunRecord's JSON shape changes in
// a way a consumer would need to branch on.
const recordSchemaVersion = 1

// RunRecord is the terminal, one-per-run JSON-lines record describing how
// a dosing run ended: the target and final mass, how long it took, the
// last slope estimate of the run, the reading and in-flight compensation
// at stop, and the abort reason, if any. AbortReason is null on a
// successful run.
type RunRecord struct {
	SchemaVersion int     `json:"schema_version"`
	Timestamp     string  `json:"timestamp"`
	TargetG       float64 `json:"target_g"`
	FinalG        float64 `json:"final_g"`
	DurationMs    int64   `json:"duration_ms"`
	Profile       string  `json:"profile"`
	SlopeEma      float64 `json:"slope_ema"`
	StopAtG       float64 `json:"stop_at_g"`
	CoastCompG    float64 `json:"coast_comp_g"`
	AbortReason   *string `json:"abort_reason"`
}

// NewRunRecord builds a RunRecord from a finished Engine. timestamp is
// caller-supplied (RFC3339) rather than taken from time.Now so that
// virtual-clock runs stay deterministic end to end.
func NewRunRecord(e *Engine, timestamp, profile string, targetG float64, durationMs int64) RunRecord {
	r := RunRecord{
		SchemaVersion: recordSchemaVersion,
		Timestamp:     timestamp,
		TargetG:       targetG,
		FinalG:        e.FinalCg().Grams(),
		DurationMs:    durationMs,
		Profile:       profile,
		SlopeEma:      e.SlopeEma(),
		StopAtG:       e.StopAtCg().Grams(),
		CoastCompG:    e.InflightAtStopCg().Grams(),
	}
	if e.State() == StateAborted {
		reason := e.AbortReason().String()
		r.AbortReason = &reason
	}
	return r
}

// RecordWriter appends RunRecords to a stream as JSON lines, one object
// per run, written directly to the stream rather than buffered into an
// in-memory array first.
type RecordWriter struct {
	w   io.Writer
	enc *json.Encoder
}

// NewRecordWriter wraps w; each Write call emits exactly one JSON object
// followed by a newline.
func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{w: w, enc: json.NewEncoder(w)}
}

// Write appends one record.
func (rw *RecordWriter) Write(r RunRecord) error {
	return rw.enc.Encode(r)
}
