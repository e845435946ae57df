// Command encounterd runs the recurring encounter scheduler. It holds the
// websocket link to the game host, drives the fixed-cadence tick loop over
// every configured event, archives finished occurrences and serves the
// status, history and live-stream endpoints.
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/dragonrift/encounter/internal/api"
	"github.com/dragonrift/encounter/internal/capture"
	"github.com/dragonrift/encounter/internal/config"
	"github.com/dragonrift/encounter/internal/dispatcher"
	"github.com/dragonrift/encounter/internal/escalate"
	"github.com/dragonrift/encounter/internal/history"
	"github.com/dragonrift/encounter/internal/host"
	"github.com/dragonrift/encounter/internal/host/bridge"
	"github.com/dragonrift/encounter/internal/influx"
	"github.com/dragonrift/encounter/internal/logging"
	"github.com/dragonrift/encounter/internal/monitor"
	"github.com/dragonrift/encounter/internal/orchestrator"
	intOtel "github.com/dragonrift/encounter/internal/otel"
	"github.com/dragonrift/encounter/internal/parser"
	"github.com/dragonrift/encounter/internal/stage"
	"github.com/dragonrift/encounter/internal/stream"
	"github.com/dragonrift/encounter/internal/tracker"
)

// Version and BuildDate can be set at build time via ldflags.
var (
	Version   = "0.0.1"
	BuildDate = "unknown"
)

const serviceName = "encounterd"

type app struct {
	logger  *slog.Logger
	slogMgr *logging.SlogManager
	otel    *intOtel.Provider

	registry  *tracker.Registry
	metrics   *influx.Manager
	historyDB *history.Manager
	recorder  *history.Recorder

	disp *dispatcher.Dispatcher
	orc  *orchestrator.Orchestrator

	bridgeSrv *bridge.Server
	streamSrv *stream.Server
	apiSrv    *api.Server
	monitor   *monitor.Service
	watcher   *config.Watcher
}

func main() {
	configDir := flag.String("config", ".", "directory containing "+config.ConfigFileName)
	flag.Parse()

	sessionStart := time.Now()

	// Bootstrap logging to stdout until the log file is known.
	slogMgr := logging.NewSlogManager()
	slogMgr.Setup(nil, "info", nil)
	logger := slogMgr.Logger()
	logger.Info("encounterd starting", "version", Version, "buildDate", BuildDate)

	if err := config.Load(*configDir); err != nil {
		logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		logger.Info("Loaded config", "dir", *configDir)
	}

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		logger.Error("Failed to create logs directory", "path", logsDir, "error", err)
	}

	logPath := logging.LogFilePath(logsDir, serviceName, sessionStart)
	var logWriter io.Writer
	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		logger.Error("Failed to open log file, staying on stdout", "path", logPath, "error", err)
	} else {
		logWriter = logFile
	}

	// OTel provider, then re-setup logging with file and OTel output.
	var otelProvider *intOtel.Provider
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		otelLogWriter := logWriter
		if otelLogWriter == nil {
			otelLogWriter = os.Stdout
		}
		otelProvider, err = intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    otelLogWriter,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			logger.Error("Failed to initialize OTel provider", "error", err)
		}
	}
	var otelLogProvider *sdklog.LoggerProvider
	if otelProvider != nil {
		otelLogProvider = otelProvider.LoggerProvider()
	}
	slogMgr.Setup(logWriter, config.GetString("logLevel"), otelLogProvider)
	logger = slogMgr.Logger()
	if logWriter != nil {
		logger.Info("Logging to file", "path", logPath)
	}

	a, err := buildApp(slogMgr, otelProvider, logsDir)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	if flag.Arg(0) == "demo" {
		logger.Info("Running demo occurrence...")
		demoStart := time.Now()
		runDemo(logger, a.metrics, a.recorder)
		logger.Info("Demo occurrence finished.", "duration", time.Since(demoStart))
		a.shutdown()
		return
	}

	a.loadDefinitions()
	a.startServers(*configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.run(ctx)
	a.shutdown()
}

// buildApp wires every service. Optional backends that fail to come up are
// logged and left nil; the orchestrator runs without them.
func buildApp(slogMgr *logging.SlogManager, otelProvider *intOtel.Provider, logsDir string) (*app, error) {
	logger := slogMgr.Logger()

	a := &app{
		logger:   logger,
		slogMgr:  slogMgr,
		otel:     otelProvider,
		registry: tracker.NewRegistry(),
	}

	// Metrics export. A failed ping inside Connect falls back to the local
	// line-protocol backup file, so only a disabled config leaves this nil.
	influxCfg := config.GetInfluxConfig()
	if influxCfg.Enabled {
		m := influx.NewManager(logger, filepath.Join(logsDir, "metrics_backup.lp.gz"))
		if err := m.Connect(influxCfg); err != nil {
			logger.Warn("metrics export unavailable", "error", err)
		} else {
			a.metrics = m
		}
	}

	// History archive: postgres with sqlite fallback, write-behind recorder.
	historyDB := history.NewManager(logger)
	if err := historyDB.Connect(config.GetDatabaseConfig()); err != nil {
		logger.Error("history archive unavailable", "error", err)
	} else if err := historyDB.Setup(); err != nil {
		logger.Error("history archive migration failed", "error", err)
		historyDB.Close()
	} else {
		a.historyDB = historyDB
		a.recorder = history.NewRecorder(history.Dependencies{
			DB:     historyDB,
			Cfg:    config.GetHistoryConfig(),
			Logger: logger,
		})
		a.recorder.Start()
	}

	disp, err := dispatcher.New(logging.NewDispatcherLogger(logger))
	if err != nil {
		return nil, err
	}
	a.disp = disp

	streamCfg := config.GetStreamConfig()
	if streamCfg.Enabled {
		a.streamSrv = stream.NewServer(stream.Dependencies{Cfg: streamCfg, Logger: logger})
	}

	a.bridgeSrv = bridge.NewServer(bridge.Dependencies{
		Cfg:    config.GetHostConfig(),
		Sink:   disp,
		Logger: logger,
	})

	collab := host.Collaborators{
		Tracker:    a.registry,
		Spawner:    a.bridgeSrv,
		Teleporter: a.bridgeSrv,
		Notifier:   a.bridgeSrv,
		Runner:     a.bridgeSrv,
	}

	stageDeps := stage.Dependencies{
		Collab:   collab,
		Logger:   logger,
		Registry: a.registry,
	}
	allocDeps := capture.Dependencies{
		Collab:  collab,
		Logger:  logger,
		Metrics: a.metrics,
	}
	// Interface fields stay nil unless the backend exists; a typed nil
	// would pass the service's nil checks.
	if a.recorder != nil {
		stageDeps.Recorder = a.recorder
		allocDeps.Recorder = a.recorder
	}
	eng := stage.NewEngine(stageDeps)
	allocDeps.Stage = eng
	alloc := capture.NewAllocator(allocDeps)
	escDeps := escalate.Dependencies{
		Collab:   collab,
		Stage:    eng,
		Logger:   logger,
		Metrics:  a.metrics,
		Registry: a.registry,
	}
	if a.recorder != nil {
		escDeps.Archiver = a.recorder
	}
	if a.streamSrv != nil {
		escDeps.Stream = a.streamSrv
	}
	esc := escalate.NewService(escDeps)

	orcDeps := orchestrator.Dependencies{
		Collab:   collab,
		Stage:    eng,
		Capture:  alloc,
		Escalate: esc,
		Logger:   logger,
		Metrics:  a.metrics,
		Registry: a.registry,
	}
	if a.recorder != nil {
		orcDeps.Recorder = a.recorder
	}
	a.orc = orchestrator.New(orcDeps)
	a.orc.RegisterHandlers(disp, parser.NewParser(logger))

	a.apiSrv = api.NewServer(api.Dependencies{
		Cfg:      config.GetAPIConfig(),
		Orc:      a.orc,
		Recorder: a.recorder,
		Logger:   logger,
	})

	monDeps := monitor.Dependencies{
		Orc:      a.orc,
		Logger:   logger,
		StateDir: logsDir,
	}
	if a.recorder != nil {
		monDeps.Archiver = a.recorder
	}
	a.monitor = monitor.NewService(monDeps)

	slogMgr.ActiveRuns = func() int {
		n := 0
		for _, ev := range a.orc.Events() {
			if ev.Run() != nil {
				n++
			}
		}
		return n
	}
	if a.historyDB != nil {
		slogMgr.UsingLocalArchive = a.historyDB.Local
	}
	slogMgr.HostLinked = a.bridgeSrv.Connected

	return a, nil
}

// loadDefinitions reads the event definitions out of the loaded config and
// installs them. Defective definitions are logged and skipped.
func (a *app) loadDefinitions() {
	defs, defects, err := config.LoadDefinitions()
	if err != nil {
		a.logger.Error("event definitions unreadable", "error", err)
		return
	}
	for _, d := range defects {
		a.logger.Warn("event definition skipped", "event", d.EventID, "error", d.Err)
	}
	a.orc.SetDefinitions(defs)
	if a.recorder != nil {
		a.recorder.EventsLoaded(defs)
	}
	a.logger.Info("event definitions loaded", "events", len(defs), "skipped", len(defects))
}

func (a *app) startServers(configDir string) {
	go func() {
		if err := a.bridgeSrv.Start(); err != nil {
			a.logger.Error("host link server failed", "error", err)
		}
	}()
	if a.streamSrv != nil {
		go func() {
			if err := a.streamSrv.Start(); err != nil {
				a.logger.Error("stream server failed", "error", err)
			}
		}()
	}
	go func() {
		if err := a.apiSrv.Start(); err != nil {
			a.logger.Error("api server failed", "error", err)
		}
	}()

	if err := a.monitor.Start(); err != nil {
		a.logger.Error("monitor start failed", "error", err)
	}

	w, err := config.NewWatcher(configDir, a.logger, a.loadDefinitions)
	if err != nil {
		a.logger.Warn("config watch unavailable", "error", err)
	} else {
		a.watcher = w
		w.Start()
	}
}

// run drives the tick loop until the context is cancelled.
func (a *app) run(ctx context.Context) {
	interval := config.GetTickInterval()
	a.logger.Info("tick loop running", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("shutdown signal received")
			return
		case now := <-ticker.C:
			a.orc.Tick(now)
		}
	}
}

// shutdown tears services down in dependency order: signal intake first,
// the archive writer last so completion records still land.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.watcher != nil {
		a.watcher.Close()
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.bridgeSrv != nil {
		a.bridgeSrv.Shutdown(ctx)
	}
	a.disp.Close()
	if a.apiSrv != nil {
		a.apiSrv.Shutdown(ctx)
	}
	if a.streamSrv != nil {
		a.streamSrv.Shutdown(ctx)
	}
	if a.recorder != nil {
		a.recorder.Close()
	}
	if a.historyDB != nil {
		a.historyDB.Close()
	}
	if a.metrics != nil {
		a.metrics.Close()
	}

	a.slogMgr.Flush(ctx)
	if a.otel != nil {
		a.otel.Shutdown(ctx)
	}
	a.logger.Info("encounterd stopped")
}
