package backfill

import (
	"time"
)

// dedupWindow is the tolerance for matching timestamps across formats.
const dedupWindow = 1 * time.Second

// overlapThreshold is the fraction of timestamps that must match for two
// files to count as the same conversation.
const overlapThreshold = 0.8

// fileFingerprint holds the timing of one parsed file.
type fileFingerprint struct {
	Path       string
	Format     FileFormat
	Timestamps []time.Time
}

// BuildFingerprint records the timestamps of a file's turns.
func BuildFingerprint(path string, format FileFormat, turns []Turn) fileFingerprint {
	fp := fileFingerprint{Path: path, Format: format}
	for _, t := range turns {
		if !t.Timestamp.IsZero() {
			fp.Timestamps = append(fp.Timestamps, t.Timestamp)
		}
	}
	return fp
}

// FindDuplicates returns the gateway files that repeat a session file.
// Session transcripts win because they keep the thread structure.
func FindDuplicates(sessionFPs, gwFPs []fileFingerprint) map[string]bool {
	duplicates := make(map[string]bool)
	for _, gw := range gwFPs {
		if len(gw.Timestamps) == 0 {
			continue
		}
		for _, s := range sessionFPs {
			if isOverlapping(s, gw) {
				duplicates[gw.Path] = true
				break
			}
		}
	}
	return duplicates
}

// isOverlapping reports whether enough of b's timestamps appear in a within
// dedupWindow.
func isOverlapping(a, b fileFingerprint) bool {
	if len(b.Timestamps) == 0 {
		return false
	}
	matches := 0
	for _, bt := range b.Timestamps {
		for _, at := range a.Timestamps {
			diff := bt.Sub(at)
			if diff < 0 {
				diff = -diff
			}
			if diff <= dedupWindow {
				matches++
				break
			}
		}
	}
	return float64(matches)/float64(len(b.Timestamps)) >= overlapThreshold
}
