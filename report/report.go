// Package report renders a scrape into the compact text handed to the LLM.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"studygroup-assistant/scraper"
)

const stamp = "2006-01-02 15:04"

// Build renders snap as plain sections: assignments, events and members,
// one pipe-separated line each.
func Build(snap *scraper.Snapshot, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "REPORT %s\n\n", now.Format(stamp))

	b.WriteString("ASSIGNMENTS:\n")
	if len(snap.Assignments) == 0 {
		b.WriteString("None\n")
	}
	for _, it := range snap.Assignments {
		fmt.Fprintf(&b, "%s | %s | %s | %s\n", it.When.Format(stamp), orDefault(it.Course, "Unknown"), orDefault(it.Type, scraper.TypeAssignment), orDefault(it.Title, "Untitled"))
	}

	b.WriteString("\nEVENTS:\n")
	if len(snap.Events) == 0 {
		b.WriteString("None\n")
	}
	for _, it := range snap.Events {
		fmt.Fprintf(&b, "%s | %s | %s\n", it.When.Format(stamp), orDefault(it.Course, "Unknown"), orDefault(it.Title, "Untitled"))
	}

	b.WriteString("\nMEMBERS:\n")
	if len(snap.Members) == 0 {
		b.WriteString("None\n")
	}
	for _, m := range snap.Members {
		d, ok := snap.Details[m]
		if !ok {
			fmt.Fprintf(&b, "%s | N/A | N/A | N/A\n", m)
			continue
		}
		fmt.Fprintf(&b, "%s | %s | %s | %s\n", m, d.Origin, d.Education, d.Occupation)
	}

	return strings.TrimRight(b.String(), "\n")
}

// Write saves text to path, creating parent directories.
func Write(path, text string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Read loads a previously written report.
func Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read report: %w", err)
	}
	return string(data), nil
}

// EstimateTokens is a rough token count at four characters per token.
func EstimateTokens(text string) int {
	return len(text) / 4
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
