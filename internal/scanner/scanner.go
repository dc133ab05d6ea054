// Package scanner implements the Log Metrics Scanner (spec §4.4): a
// tail-parser that derives time-bucketed anomaly counts and latency
// percentiles from the proxy's log file for an external dashboard. It
// never writes to the log; the UI it feeds is a projection, not the
// source of truth.
//
// The streaming "open a reader, pull one record at a time" shape is
// grounded on the teacher's loader.PMReader; here the decoded unit is
// a text log line instead of a binary netlink message.
package scanner

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"
)

// Kinds of anomaly the scanner recognizes, distinct from the per-frame
// debug chatter (spec §4.4).
var Kinds = []string{"out_of_order", "stray_response", "duplicate_request"}

// nowFunc is the scanner's view of the current time, used to resolve
// the Window cutoff. Overridden in tests so window filtering doesn't
// depend on wall-clock time.
var nowFunc = time.Now

var (
	// A relevant line begins with an ISO date + time, e.g.
	// "2026-07-31 10:00:00.000 WARN [conn-3] stray_response tid=7".
	timestampRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}) (\d{2}:\d{2}):\d{2}(?:\.\d+)?`)
	rttRe       = regexp.MustCompile(`rtt=(\d+)`)
	tidRe       = regexp.MustCompile(`tid=(\d+)`)
)

// bucket holds the anomaly counts and total for one minute of log
// records. Buckets are keyed internally by a day-qualified
// "YYYY-MM-DD HH:MM" so buckets from different days stay distinct; t is
// the bare "HH:MM" that becomes SeriesPoint.T.
type bucket struct {
	t      string
	counts map[string]int
	total  int
}

// RTTStats summarizes the rtt=<ms> samples found across the scanned
// window.
type RTTStats struct {
	AvgMs   float64 `json:"avg_ms"`
	P95Ms   float64 `json:"p95_ms"`
	Samples int     `json:"samples"`
}

// Result is the scanner's output: per-kind totals, a sorted per-minute
// series, and RTT percentile stats.
type Result struct {
	RunID  string         `json:"run_id"`
	Counts map[string]int `json:"counts"`
	Series []SeriesPoint  `json:"series"`
	RTT    RTTStats       `json:"rtt"`
	// DistinctTIDs is the count of distinct tid=<n> values seen across
	// all anomaly lines (spec §4.4's "opportunistically extract ...
	// tid=<n>"), a cheap signal of how many distinct transactions were
	// touched by anomalies in the scanned window.
	DistinctTIDs int `json:"distinct_tids"`
}

// SeriesPoint is one minute's bucket flattened for JSON/CSV output: one
// row per (minute, kind) pair, the shape the spec's `series` array and
// a CSV sheet both want.
type SeriesPoint struct {
	T     string `json:"t" csv:"t"`
	Kind  string `json:"kind" csv:"kind"`
	N     int    `json:"n" csv:"n"`
	Total int    `json:"total" csv:"total"`
}

// Options configures one scan.
type Options struct {
	// MaxScanBytes caps how much of the file's tail is read, so a
	// multi-gigabyte log never blocks the scanner (spec §4.4).
	MaxScanBytes int64
	// Window restricts scanning to log lines timestamped within the
	// last Window of wall-clock time (spec §4.4's "window length W
	// (minutes)"). Zero means no restriction: the whole tail read
	// under MaxScanBytes is scanned.
	Window time.Duration
}

// ScanFile runs one scan of the log file at path.
func ScanFile(path string, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	start := int64(0)
	if opts.MaxScanBytes > 0 && info.Size() > opts.MaxScanBytes {
		start = info.Size() - opts.MaxScanBytes
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}

	return Scan(f, opts)
}

// Scan decodes r as UTF-8 with lossy replacement and derives a Result
// from it (spec §4.4). It is exported separately from ScanFile so
// callers (and tests) can feed an arbitrary reader.
func Scan(r io.Reader, opts Options) (*Result, error) {
	var cutoff time.Time
	if opts.Window > 0 {
		cutoff = nowFunc().Add(-opts.Window)
	}

	buckets := map[string]*bucket{}
	counts := map[string]int{}
	var rttSamples []int
	tids := map[int]struct{}{}

	scanner := bufio.NewScanner(toUTF8Lossy(r))
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		processLine(line, cutoff, buckets, counts, &rttSamples, tids)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	series := make([]SeriesPoint, 0, len(keys)*len(Kinds))
	for _, k := range keys {
		b := buckets[k]
		for _, kind := range Kinds {
			if n := b.counts[kind]; n > 0 {
				series = append(series, SeriesPoint{T: b.t, Kind: kind, N: n, Total: b.total})
			}
		}
	}

	total := 0
	for _, k := range Kinds {
		total += counts[k]
	}
	counts["total"] = total

	return &Result{
		RunID:        xid.New().String(),
		Counts:       counts,
		Series:       series,
		RTT:          computeRTT(rttSamples),
		DistinctTIDs: len(tids),
	}, nil
}

func processLine(line string, cutoff time.Time, buckets map[string]*bucket, counts map[string]int, rttSamples *[]int, tids map[int]struct{}) {
	m := timestampRe.FindStringSubmatch(line)
	if m == nil {
		return
	}
	var kind string
	for _, k := range Kinds {
		if strings.Contains(line, k) {
			kind = k
			break
		}
	}
	if kind == "" {
		return
	}

	dayMinute := m[1] + " " + m[2]
	if !cutoff.IsZero() {
		ts, err := time.ParseInLocation("2006-01-02 15:04", dayMinute, time.Local)
		if err == nil && ts.Before(cutoff) {
			return
		}
	}

	b, ok := buckets[dayMinute]
	if !ok {
		b = &bucket{t: m[2], counts: map[string]int{}}
		buckets[dayMinute] = b
	}
	b.counts[kind]++
	b.total++
	counts[kind]++

	if rm := rttRe.FindStringSubmatch(line); rm != nil {
		if n, err := strconv.Atoi(rm[1]); err == nil {
			*rttSamples = append(*rttSamples, n)
		}
	}
	if tm := tidRe.FindStringSubmatch(line); tm != nil {
		if n, err := strconv.Atoi(tm[1]); err == nil {
			tids[n] = struct{}{}
		}
	}
}

func computeRTT(samples []int) RTTStats {
	if len(samples) == 0 {
		return RTTStats{}
	}
	sorted := append([]int(nil), samples...)
	sort.Ints(sorted)

	sum := 0
	for _, v := range sorted {
		sum += v
	}
	avg := float64(sum) / float64(len(sorted))

	idx := int(0.95*float64(len(sorted))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return RTTStats{
		AvgMs:   avg,
		P95Ms:   float64(sorted[idx]),
		Samples: len(sorted),
	}
}

// toUTF8Lossy wraps r so invalid UTF-8 byte sequences are replaced with
// the Unicode replacement character instead of aborting the scan
// (spec §4.4: "decode as UTF-8 with lossy replacement").
func toUTF8Lossy(r io.Reader) io.Reader {
	data, err := io.ReadAll(r)
	if err != nil {
		return bytes.NewReader(nil)
	}
	return bytes.NewReader(bytes.ToValidUTF8(data, []byte("�")))
}
