package dosing

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/cesuratx/doser/pkg/config"
	"github.com/cesuratx/doser/pkg/system/clock"
	"github.com/cesuratx/doser/pkg/system/hardware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunRecord_SuccessfulRunHasNilAbortReason(t *testing.T) {
	clk := clock.NewVirtual()
	act := &hardware.SimActuator{}
	e := buildTestEngine(t, clk, act, hardware.NoEstop{},
		config.SafetyConfig{MaxRunMs: 60_000, MaxOvershootG: 10, NoProgressEpsilonG: 0.01, NoProgressMs: 60_000},
		config.ControlConfig{CoarseSpeed: 1000, FineSpeed: 200, SlowAtG: 0.50, HysteresisG: 0.02, StableMs: 0, EpsilonG: 0},
		config.PredictorConfig{Enabled: false, Window: 4, MinProgressRatio: 1},
		config.EstopConfig{DebounceN: 1000},
		1.00)

	var raw int64
	result := driveUntilTerminal(t, e, clk, &raw, 1, 10*time.Millisecond, 10_000)
	require.Equal(t, StatusComplete, result.Status)

	rec := NewRunRecord(e, "2026-07-31T00:00:00Z", "test-profile", 1.00, 1234)
	assert.Equal(t, 1, rec.SchemaVersion)
	assert.Nil(t, rec.AbortReason)
	assert.Equal(t, "test-profile", rec.Profile)
	assert.InDelta(t, 1.00, rec.TargetG, 0.001)
}

func TestNewRunRecord_AbortedRunCarriesReasonString(t *testing.T) {
	clk := clock.NewVirtual()
	act := &hardware.SimActuator{}
	e := buildTestEngine(t, clk, act, hardware.NoEstop{},
		config.SafetyConfig{MaxRunMs: 0, MaxOvershootG: 10, NoProgressEpsilonG: 0.01, NoProgressMs: 60_000},
		config.ControlConfig{CoarseSpeed: 1000, FineSpeed: 200, SlowAtG: 0.50, HysteresisG: 0.02, StableMs: 0, EpsilonG: 0},
		config.PredictorConfig{Enabled: false, Window: 4, MinProgressRatio: 1},
		config.EstopConfig{DebounceN: 1000},
		5.00)

	var raw int64
	result := e.Step(&raw)
	require.Equal(t, StatusAborted, result.Status)

	rec := NewRunRecord(e, "2026-07-31T00:00:00Z", "test-profile", 5.00, 0)
	require.NotNil(t, rec.AbortReason)
	assert.Equal(t, "MaxRuntime", *rec.AbortReason)
}

func TestRecordWriter_WritesOneJSONObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	rw := NewRecordWriter(&buf)
	require.NoError(t, rw.Write(RunRecord{SchemaVersion: 1, Profile: "a"}))
	require.NoError(t, rw.Write(RunRecord{SchemaVersion: 1, Profile: "b"}))

	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n"))
	require.Len(t, lines, 2)
	for i, want := range []string{"a", "b"} {
		var got RunRecord
		require.NoError(t, json.Unmarshal(lines[i], &got))
		assert.Equal(t, want, got.Profile)
	}
}
