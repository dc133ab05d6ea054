// Command modbus-proxy runs the transparent Modbus/TCP proxy: it binds
// a listen address, dials a single backend device per accepted client,
// and reconciles backend responses against the pending FIFO of
// outstanding requests.
//
// Grounded on the teacher's main.go wiring: flag parsing with
// flagx.ArgsFromEnv for environment overrides, rtx.Must for startup
// fatals, and prometheusx.MustStartPrometheus for the metrics side
// port.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/pavlosdr/rpi-modbus-proxy/internal/config"
	"github.com/pavlosdr/rpi-modbus-proxy/internal/listener"
	"github.com/pavlosdr/rpi-modbus-proxy/internal/proxylog"
)

var (
	configFile = flag.String("config", "/etc/modbus_proxy.conf", "Path to the key=value configuration file")
	// promAddr defaults to empty so an explicit -prom flag (or its env
	// equivalent via flagx) takes priority; when left unset, the
	// PROM_ADDR config key is used instead (see main()).
	promAddr = flag.String("prom", "", "Prometheus metrics export address and port, overrides PROM_ADDR")
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

func main() {
	flag.Parse()
	flagx.ArgsFromEnv(flag.CommandLine)

	cfg, err := config.Load(*configFile)
	rtx.Must(err, "could not load configuration from %s", *configFile)

	logger, err := proxylog.New(cfg.LogFile, cfg.LogMaxBytes, cfg.LogBackupCount, proxylog.ParseLevel(cfg.LogLevel))
	rtx.Must(err, "could not open log file %s", cfg.LogFile)
	defer logger.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prom := *promAddr
	if prom == "" {
		prom = cfg.PromAddr
	}
	if prom != "" {
		promSrv := prometheusx.MustStartPrometheus(prom)
		defer promSrv.Shutdown(ctx)
	}

	logger.Infof("main", "%s:%d -> %s:%d", cfg.ListenIP, cfg.ListenPort, cfg.ProxyTargetIP, cfg.ProxyTargetPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("main", "received %s, shutting down", sig)
		cancel()
	}()

	l := listener.New(cfg, logger)
	if err := l.Run(ctx); err != nil {
		logger.Errorf("main", "listener exited: %v", err)
		os.Exit(1)
	}
	logger.Infof("main", "stopped")
}
