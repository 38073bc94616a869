package audit

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_RoundTrip(t *testing.T) {
	l := NewLogger(filepath.Join(t.TempDir(), "nested", "audit.sqlite"))

	require.NoError(t, l.LogEvent("pipeline", EventIncidentStarted, "inc-1", map[string]any{"scenario": "a.yaml"}))
	require.NoError(t, l.LogEvent("operator", EventPlanSelected, "inc-1", map[string]any{"plan_id": "PLAN-002"}))
	require.NoError(t, l.LogEvent("pipeline", EventIncidentStarted, "inc-2", nil))

	all, err := l.Events("")
	require.NoError(t, err)
	require.Len(t, all, 3)

	events, err := l.Events("inc-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventIncidentStarted, events[0].Type)
	assert.Equal(t, "operator", events[1].Actor)
	assert.False(t, events[1].Timestamp.IsZero())

	var payload map[string]string
	require.NoError(t, json.Unmarshal(events[1].Payload, &payload))
	assert.Equal(t, "PLAN-002", payload["plan_id"])
}

func TestLogEvent_EnvDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.sqlite")
	t.Setenv("THREATFUSION_AUDIT_DB", path)

	require.NoError(t, LogEvent("cli", EventIncidentFailed, "inc-9", map[string]string{"stage": "fusion"}))
	var nilLogger *Logger
	events, err := nilLogger.Events("inc-9")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventIncidentFailed, events[0].Type)

	_, err = NewLogger(path).Events("")
	require.NoError(t, err)
}

func TestLogEvent_UnmarshalablePayload(t *testing.T) {
	l := NewLogger(filepath.Join(t.TempDir(), "audit.sqlite"))
	err := l.LogEvent("pipeline", EventFusionCompleted, "inc-1", map[string]any{"bad": func() {}})
	assert.Error(t, err)
}
