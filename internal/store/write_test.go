package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DirkWillem/HAL2/internal/trace"
)

func TestWriteRun_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	want := createTestTrace("run-1", "echo")

	require.NoError(t, s.WriteRun(ctx, want))

	got, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	wantJSON, err := trace.MarshalTrace(want)
	require.NoError(t, err)
	gotJSON, err := trace.MarshalTrace(got)
	require.NoError(t, err)
	assert.Equal(t, string(wantJSON), string(gotJSON))
}

func TestWriteRun_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	tr := createTestTrace("run-1", "echo")

	require.NoError(t, s.WriteRun(ctx, tr))
	require.NoError(t, s.WriteRun(ctx, tr))

	runs, err := s.ListRuns(ctx, "")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].EventCount)
	assert.Len(t, runs[0].TraceHash, 64)
}

func TestWriteRun_RecordsErrors(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var r trace.Recorder
	r.Record(0, "gpio_state", "LED", nil, errors.New("expected high, got low"))
	require.NoError(t, s.WriteRun(ctx, trace.Trace{RunID: "run-f", Scenario: "led", Events: r.Events()}))

	got, err := s.ReadRun(ctx, "run-f")
	require.NoError(t, err)
	assert.False(t, got.Passed)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "expected high, got low", got.Events[0].Error)
	assert.Nil(t, got.Events[0].Fields)
}

func TestWriteRun_RejectsFloatFields(t *testing.T) {
	s := createTestStore(t)

	var r trace.Recorder
	r.Record(0, "gpio_monitor", "PWM", trace.Fields{"frequency": 1.5}, nil)
	err := s.WriteRun(context.Background(), trace.Trace{RunID: "run-x", Scenario: "pwm", Events: r.Events()})

	assert.ErrorContains(t, err, "floats are forbidden")

	_, err = s.ReadRun(context.Background(), "run-x")
	assert.ErrorIs(t, err, ErrRunNotFound, "failed write leaves nothing behind")
}
