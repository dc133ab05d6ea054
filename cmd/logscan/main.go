// Command logscan runs the Log Metrics Scanner against a proxy log
// file and prints the result as JSON or CSV, for an external dashboard
// to poll.
//
// Its own diagnostics use logrus rather than internal/proxylog: this
// is a short-lived CLI, not a long-running connection log, so the
// size-rotated file sink the proxy needs has no role here.
package main

import (
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/sirupsen/logrus"

	"github.com/pavlosdr/rpi-modbus-proxy/internal/scanner"
)

var (
	logPath  = flag.String("log", "/var/log/modbus_proxy.log", "Path to the proxy log file to scan")
	window   = flag.Int("window", 60, "Only consider log lines from the last N minutes, 0 disables")
	maxBytes = flag.Int64("max-bytes", 32*1024*1024, "Maximum tail of the log file to read, in bytes")
	format   = flag.String("format", "json", "Output format: json or csv")
)

func main() {
	flag.Parse()
	log := logrus.New()

	opts := scanner.Options{
		MaxScanBytes: *maxBytes,
		Window:       time.Duration(*window) * time.Minute,
	}
	result, err := scanner.ScanFile(*logPath, opts)
	if err != nil {
		log.WithError(err).WithField("path", *logPath).Fatal("scan failed")
	}
	log.WithFields(logrus.Fields{
		"run_id": result.RunID,
		"total":  result.Counts["total"],
	}).Info("scan complete")

	switch *format {
	case "csv":
		out, err := gocsv.MarshalString(result.Series)
		if err != nil {
			log.WithError(err).Fatal("csv encode failed")
		}
		os.Stdout.WriteString(out)
	default:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			log.WithError(err).Fatal("json encode failed")
		}
	}
}
