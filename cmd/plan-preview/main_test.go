package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/types"
)

func previewJobs() []types.PlannedJob {
	start := time.Date(2026, time.October, 19, 8, 0, 0, 0, time.UTC)
	afternoon := time.Date(2026, time.October, 19, 13, 0, 0, 0, time.UTC)
	return []types.PlannedJob{
		{
			Session:    types.Session{Name: "Algo", Start: start, End: start.Add(90 * time.Minute)},
			FiringTime: start.Add(4 * time.Minute),
			Window:     types.WindowInstance{ID: "M1"},
		},
		{
			Session:    types.Session{Name: "Réseaux", Start: afternoon, End: afternoon.Add(90 * time.Minute)},
			FiringTime: afternoon.Add(6 * time.Minute),
			Window:     types.WindowInstance{ID: "S1"},
		},
	}
}

func TestPrintPlan_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printPlan(&buf, previewJobs(), time.UTC, types.MessagesFor(types.LocaleEN), false))

	out := buf.String()
	assert.Contains(t, out, "FIRING  WINDOW  SESSION")
	assert.Contains(t, out, "08:04   M1      Algo (08:00 - 09:30)")
	assert.Contains(t, out, "Attendance planned for Réseaux (13:00 - 14:30) at 13:06.")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("Algo")), bytes.Index(buf.Bytes(), []byte("Réseaux")))
}

func TestPrintPlan_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printPlan(&buf, nil, time.UTC, types.MessagesFor(types.LocaleFR), false))
	assert.Equal(t, "No attendance to plan today.\n", buf.String())
}

func TestPrintPlan_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printPlan(&buf, previewJobs(), time.UTC, types.MessagesFor(types.LocaleFR), true))

	var got []previewJob
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "Algo (08:00 - 09:30)", got[0].Session)
	assert.Equal(t, "M1", got[0].Window)
	assert.True(t, got[1].FiringTime.Equal(time.Date(2026, time.October, 19, 13, 6, 0, 0, time.UTC)))
}
