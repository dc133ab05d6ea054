package scanner

import (
	"strings"
	"testing"
	"time"
)

const sampleLog = `2026-07-31 10:00:00.100 WARN [conn-1] stray_response tid=7
2026-07-31 10:00:01.200 INFO [conn-1] out_of_order tid_rewrite 2->1 rtt=12ms
2026-07-31 10:00:05.000 WARN [conn-2] duplicate_request tid=4
2026-07-31 10:01:00.050 WARN [conn-2] stray_response tid=9 expected=3
2026-07-31 10:01:02.000 DEBUG [conn-2] C>W len=12 tid=4 uid=17 func=3
`

func TestScanGroupsByMinuteAndKind(t *testing.T) {
	result, err := Scan(strings.NewReader(sampleLog), Options{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if got := result.Counts["stray_response"]; got != 2 {
		t.Fatalf("stray_response count = %d, want 2", got)
	}
	if got := result.Counts["out_of_order"]; got != 1 {
		t.Fatalf("out_of_order count = %d, want 1", got)
	}
	if got := result.Counts["duplicate_request"]; got != 1 {
		t.Fatalf("duplicate_request count = %d, want 1", got)
	}

	// The plain per-frame debug line must not be mistaken for an anomaly.
	if got := result.Counts["total"]; got != 4 {
		t.Fatalf("total = %d, want 4", got)
	}

	if len(result.Series) == 0 {
		t.Fatal("expected a non-empty series")
	}
	foundMinuteBucket := false
	for _, p := range result.Series {
		// The series "t" field is the spec's stable "HH:MM" contract
		// shape, not a day-qualified key.
		if p.T == "10:00" && p.Kind == "stray_response" && p.N == 1 {
			foundMinuteBucket = true
		}
		if len(p.T) != 5 || p.T[2] != ':' {
			t.Fatalf("series t = %q, want HH:MM", p.T)
		}
	}
	if !foundMinuteBucket {
		t.Fatalf("expected a 10:00 stray_response bucket with n=1, got %+v", result.Series)
	}

	if result.RTT.Samples != 1 {
		t.Fatalf("rtt samples = %d, want 1", result.RTT.Samples)
	}
	if result.RTT.AvgMs != 12 {
		t.Fatalf("rtt avg = %v, want 12", result.RTT.AvgMs)
	}

	// tid=7, tid=4 (duplicate_request), tid=9 are the three distinct
	// tids carried by anomaly lines; the tid=4 on the plain debug line
	// doesn't count since that line isn't an anomaly line.
	if result.DistinctTIDs != 3 {
		t.Fatalf("distinct tids = %d, want 3", result.DistinctTIDs)
	}

	if result.RunID == "" {
		t.Fatal("expected a non-empty run id")
	}
}

func TestScanIgnoresLinesWithoutTimestamp(t *testing.T) {
	result, err := Scan(strings.NewReader("not a log line stray_response\n"), Options{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Counts["total"] != 0 {
		t.Fatalf("expected zero anomalies, got %+v", result.Counts)
	}
}

func TestScanWindowExcludesOldLines(t *testing.T) {
	old := nowFunc
	defer func() { nowFunc = old }()
	nowFunc = func() time.Time {
		return time.Date(2026, 7, 31, 10, 30, 0, 0, time.Local)
	}

	result, err := Scan(strings.NewReader(sampleLog), Options{Window: 5 * time.Minute})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	// Cutoff is 10:25; every sample line is at 10:00/10:01, so all of
	// them fall outside a 5-minute window ending at 10:30.
	if result.Counts["total"] != 0 {
		t.Fatalf("expected all lines excluded by window, got %+v", result.Counts)
	}

	result, err = Scan(strings.NewReader(sampleLog), Options{Window: 45 * time.Minute})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Counts["total"] != 4 {
		t.Fatalf("expected all lines included by a wide window, got %+v", result.Counts)
	}
}
