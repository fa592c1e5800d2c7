package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReport_Finalize_SummaryAndUTC(t *testing.T) {
	r := RunReport{
		StartedAt:  time.Date(2026, 2, 9, 10, 0, 0, 0, time.FixedZone("X", 8*3600)),
		FinishedAt: time.Date(2026, 2, 9, 10, 0, 1, 0, time.FixedZone("X", 8*3600)),
		Records: []Record{
			{ID: "b", Name: "b.TXT", Size: 3, Status: StatusDone, FastDigest: "f", SecureDigest: "s", Progress: 100},
			{ID: "a", Name: "a.txt", Size: 5, Status: StatusError},
			{ID: "c", Name: "README", Size: 1, Status: StatusPending},
			{ID: "d", Name: "trailing.", Size: 0, Status: StatusProcessing},
		},
	}

	r.Finalize()

	// 记录保持入库顺序。
	assert.Equal(t, "b", r.Records[0].ID)
	assert.Equal(t, "a", r.Records[1].ID)

	s := r.Summary
	assert.Equal(t, 4, s.TotalFiles)
	assert.EqualValues(t, 9, s.TotalSize)
	assert.Equal(t, 1, s.ProcessedCount)
	assert.Equal(t, 1, s.FailedCount)
	assert.Equal(t, map[string]int{"TXT": 1, "txt": 1, "README": 1, "unknown": 1}, s.Extensions)

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"started_at":"2026-02-09T02:00:00Z"`, "started_at 应为 UTC RFC3339")
}

func TestRunReport_Finalize_EmptyIsNotNull(t *testing.T) {
	var r RunReport
	r.Finalize()

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"records":[]`)
	assert.Contains(t, string(b), `"roots":[]`)
}
