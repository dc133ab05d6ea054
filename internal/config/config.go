// Package config loads the proxy's key=value configuration file.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds every tunable named in the key=value configuration
// file. It is loaded once at startup and is immutable afterward; no
// goroutine may mutate a Config after Load returns.
type Config struct {
	ListenIP           string
	ListenPort         int
	ProxyTargetIP      string
	ProxyTargetPort    int
	BufferSize         int
	SockTimeoutS       int
	TIDRewrite         bool
	TIDStrict          bool
	StrictUID          bool
	PassStray          bool
	DropStraySilent    bool
	LogFile            string
	LogLevel           string
	LogHexdump         bool
	LogSampleBytes     int
	LogStatsIntervalS  int
	LogMaxBytes        int64
	LogBackupCount     int
	PromAddr           string
}

// Default returns the configuration with every default from the
// key table, before any value from the configuration file is applied.
func Default() Config {
	return Config{
		ListenIP:          "0.0.0.0",
		ListenPort:        502,
		ProxyTargetPort:   502,
		BufferSize:        4096,
		SockTimeoutS:      30,
		TIDRewrite:        true,
		TIDStrict:         false,
		StrictUID:         false,
		PassStray:         false,
		DropStraySilent:   false,
		LogFile:           "/var/log/modbus_proxy.log",
		LogLevel:          "INFO",
		LogHexdump:        false,
		LogSampleBytes:    64,
		LogStatsIntervalS: 60,
		LogMaxBytes:       5242880,
		LogBackupCount:    5,
		PromAddr:          ":9090",
	}
}

// Load reads path as a key=value file: comments starting with '#' and
// blank lines are ignored. Unknown keys are rejected so a typo in the
// config file is caught at startup rather than silently ignored.
// Values not present in the file retain their Default().
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, found := strings.Cut(line, "=")
		if !found {
			return Config{}, fmt.Errorf("config: %s:%d: missing '=' in %q", path, lineNo, line)
		}
		key = strings.TrimSpace(strings.ToUpper(key))
		val = strings.TrimSpace(val)
		if err := apply(&cfg, key, val); err != nil {
			return Config{}, fmt.Errorf("config: %s:%d: %w", path, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, fmt.Errorf("config: reading %q: %w", path, err)
	}
	if cfg.ProxyTargetIP == "" {
		return Config{}, fmt.Errorf("config: PROXY_TARGET_IP is required")
	}
	return cfg, nil
}

func apply(cfg *Config, key, val string) error {
	switch key {
	case "LISTEN_IP":
		cfg.ListenIP = val
	case "LISTEN_PORT":
		return setInt(&cfg.ListenPort, key, val)
	case "PROXY_TARGET_IP":
		cfg.ProxyTargetIP = val
	case "PROXY_TARGET_PORT":
		return setInt(&cfg.ProxyTargetPort, key, val)
	case "BUFFER_SIZE":
		return setInt(&cfg.BufferSize, key, val)
	case "SOCK_TIMEOUT_S":
		return setInt(&cfg.SockTimeoutS, key, val)
	case "TID_REWRITE":
		return setBool(&cfg.TIDRewrite, key, val)
	case "TID_STRICT":
		return setBool(&cfg.TIDStrict, key, val)
	case "STRICT_UID":
		return setBool(&cfg.StrictUID, key, val)
	case "PASS_STRAY":
		return setBool(&cfg.PassStray, key, val)
	case "DROP_STRAY_SILENT":
		return setBool(&cfg.DropStraySilent, key, val)
	case "LOG_FILE":
		cfg.LogFile = val
	case "LOG_LEVEL":
		cfg.LogLevel = strings.ToUpper(val)
	case "LOG_HEXDUMP":
		return setBool(&cfg.LogHexdump, key, val)
	case "LOG_SAMPLE_BYTES":
		return setInt(&cfg.LogSampleBytes, key, val)
	case "LOG_STATS_INTERVAL":
		return setInt(&cfg.LogStatsIntervalS, key, val)
	case "LOG_MAX_BYTES":
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		cfg.LogMaxBytes = n
	case "LOG_BACKUP_COUNT":
		return setInt(&cfg.LogBackupCount, key, val)
	case "PROM_ADDR":
		cfg.PromAddr = val
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return nil
}

func setInt(dst *int, key, val string) error {
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

// setBool accepts "0"/"1" as the config file's own convention, plus the
// other spellings strconv.ParseBool accepts.
func setBool(dst *bool, key, val string) error {
	switch val {
	case "0":
		*dst = false
	case "1":
		*dst = true
	default:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
	}
	return nil
}
