// Package proxylog implements the proxy's structured, size-rotated log
// sink. The log is a stable external contract (spec §9): the literal
// anomaly tokens, the leading ISO timestamp, and the `tid=`/`rtt=`
// shapes are parsed by internal/scanner and by external dashboards, so
// the record format here must never change casually.
//
// Rotation follows the teacher's saver.Connection.Rotate idiom
// (threshold trigger, sequence bump, fresh writer) adapted from a
// per-connection file-per-interval scheme to a single size-rotated
// sink; backups beyond the live file are compressed through the same
// external-zstd pipe the teacher uses for connection archives.
package proxylog

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"
)

// Logger is a leveled, size-rotated file sink. It is safe for
// concurrent use: every connection's goroutine writes to the same
// Logger, and per-connection log lines interleave only at record
// granularity (spec §5, "Ordering guarantees across connections: none").
type Logger struct {
	mu           sync.Mutex
	path         string
	file         *os.File
	w            *bufio.Writer
	size         int64
	maxBytes     int64
	backupCount  int
	level        Level
	now          func() time.Time
	rotateErrorf func(format string, args ...interface{})
}

// New opens (creating if necessary) the log file at path and returns a
// Logger that rotates it once it exceeds maxBytes, keeping backupCount
// compressed backups. A log write failure is always non-fatal to the
// data path (spec §7); Write/rotate errors are reported to stderr only.
func New(path string, maxBytes int64, backupCount int, level Level) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("proxylog: open %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("proxylog: stat %q: %w", path, err)
	}
	l := &Logger{
		path:        path,
		file:        f,
		w:           bufio.NewWriter(f),
		size:        info.Size(),
		maxBytes:    maxBytes,
		backupCount: backupCount,
		level:       level,
		now:         time.Now,
	}
	l.rotateErrorf = func(format string, args ...interface{}) {
		fmt.Fprintf(os.Stderr, "proxylog: "+format+"\n", args...)
	}
	return l, nil
}

// Enabled reports whether a record at lvl would be emitted given the
// configured minimum level.
func (l *Logger) Enabled(lvl Level) bool {
	return lvl >= l.level
}

// Logf emits one record at lvl: "<ISO-date> <ISO-time> <LEVEL> [<name>]
// <message>", per spec §6. name is the component/connection tag (e.g.
// "conn-7" or "listener"); it is never rotated or truncated.
func (l *Logger) Logf(lvl Level, name, format string, args ...interface{}) {
	if !l.Enabled(lvl) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	ts := l.now()
	line := fmt.Sprintf("%s %s %s [%s] %s\n",
		ts.Format("2006-01-02"), ts.Format("15:04:05.000"), lvl, name, msg)

	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.w.WriteString(line)
	if err != nil {
		l.rotateErrorf("write failed: %v", err)
		return
	}
	l.size += int64(n)
	if l.size >= l.maxBytes {
		if err := l.rotateLocked(); err != nil {
			l.rotateErrorf("rotate failed: %v", err)
		}
	}
}

func (l *Logger) Debugf(name, format string, args ...interface{}) { l.Logf(Debug, name, format, args...) }
func (l *Logger) Infof(name, format string, args ...interface{})  { l.Logf(Info, name, format, args...) }
func (l *Logger) Warnf(name, format string, args ...interface{})  { l.Logf(Warn, name, format, args...) }
func (l *Logger) Errorf(name, format string, args ...interface{}) { l.Logf(Error, name, format, args...) }

// rotateLocked must be called with l.mu held. It closes the current
// file, shifts existing compressed backups up by one slot (dropping
// the oldest beyond backupCount), compresses the just-closed file into
// slot 1, and opens a fresh empty file at path.
func (l *Logger) rotateLocked() error {
	if err := l.w.Flush(); err != nil {
		return err
	}
	if err := l.file.Close(); err != nil {
		return err
	}

	if l.backupCount > 0 {
		oldest := fmt.Sprintf("%s.%d.zst", l.path, l.backupCount)
		os.Remove(oldest) // best-effort; absence is not an error
		for i := l.backupCount - 1; i >= 1; i-- {
			from := fmt.Sprintf("%s.%d.zst", l.path, i)
			to := fmt.Sprintf("%s.%d.zst", l.path, i+1)
			if _, err := os.Stat(from); err == nil {
				os.Rename(from, to)
			}
		}
		rotated := l.path + ".rotating"
		if err := os.Rename(l.path, rotated); err != nil {
			return err
		}
		go func() {
			if err := compressToFile(rotated, fmt.Sprintf("%s.1.zst", l.path)); err != nil {
				l.rotateErrorf("compressing backup: %v", err)
			}
		}()
	} else {
		os.Remove(l.path)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	l.w = bufio.NewWriter(f)
	l.size = 0
	return nil
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}
