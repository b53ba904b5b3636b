package report

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studygroup-assistant/scraper"
)

func TestBuild(t *testing.T) {
	due := time.Date(2025, 11, 25, 16, 0, 0, 0, time.UTC)
	snap := &scraper.Snapshot{
		Assignments: []scraper.Item{{Title: "Problem Set 3", Course: "C111 Finance I", Type: scraper.TypeAssignment, When: due}},
		Events:      []scraper.Item{{Title: "Guest lecture", Course: "C120 Strategy", Type: scraper.TypeEvent, When: due.Add(-6 * time.Hour)}},
		Members:     []string{"Ada Lovelace", "Grace Hopper"},
		Details: map[string]scraper.MemberDetails{
			"Ada Lovelace": {Origin: "United Kingdom", Education: "BSc Mathematics", Occupation: "Analyst"},
		},
	}

	got := Build(snap, time.Date(2025, 11, 24, 8, 5, 0, 0, time.UTC))
	want := `REPORT 2025-11-24 08:05

ASSIGNMENTS:
2025-11-25 16:00 | C111 Finance I | Assignment | Problem Set 3

EVENTS:
2025-11-25 10:00 | C120 Strategy | Guest lecture

MEMBERS:
Ada Lovelace | United Kingdom | BSc Mathematics | Analyst
Grace Hopper | N/A | N/A | N/A`
	assert.Equal(t, want, got)
}

func TestBuildEmpty(t *testing.T) {
	got := Build(&scraper.Snapshot{}, time.Date(2025, 11, 24, 8, 5, 0, 0, time.UTC))
	assert.Equal(t, "REPORT 2025-11-24 08:05\n\nASSIGNMENTS:\nNone\n\nEVENTS:\nNone\n\nMEMBERS:\nNone", got)
}

func TestWriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.md")
	require.NoError(t, Write(path, "REPORT x"))
	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "REPORT x", got)

	_, err = Read(filepath.Join(t.TempDir(), "missing.md"))
	assert.Error(t, err)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 2, EstimateTokens("12345678"))
}
