// Command snapblaster-core is the composition root: it wires the event
// bus, the shared project model, a grid controller, the tempo clock, the
// input router, the morph engine, the MIDI I/O layer, telemetry, and the
// diagnostics server, then runs until an interrupt signal publishes a
// Shutdown event. Mirrors the teacher's cmd/indexer/main.go wiring style
// (flat sequential construction, signal-driven graceful shutdown) at a
// smaller scope.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"snapblaster-core/internal/bus"
	"snapblaster-core/internal/command"
	"snapblaster-core/internal/config"
	"snapblaster-core/internal/diag"
	"snapblaster-core/internal/grid"
	"snapblaster-core/internal/midiio"
	"snapblaster-core/internal/model"
	"snapblaster-core/internal/monitor"
	"snapblaster-core/internal/morph"
	"snapblaster-core/internal/recovery"
	"snapblaster-core/internal/router"
	"snapblaster-core/internal/telemetry"
	"snapblaster-core/internal/tempoclock"
)

func defaultProject() model.Project {
	params := make([]model.Parameter, 8)
	for i := range params {
		params[i] = model.Parameter{Name: "param", CC: uint8(20 + i)}
	}
	snaps := make([]model.Snap, 8)
	for i := range snaps {
		values := make([]uint8, len(params))
		for j := range values {
			values[j] = model.MidPoint
		}
		snaps[i] = model.Snap{Name: "snap", Values: values}
	}
	return model.Project{
		ControllerID: "Generic",
		Parameters:   params,
		Banks:        []model.Bank{{Name: "bank", Snaps: snaps}},
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	recovery.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.New()
	b := bus.New(bus.WithCapacity(cfg.BusCapacity), bus.WithDropHook(func(name string) {
		metrics.BusSubscriberLag.WithLabelValues(name).Inc()
	}))
	m := model.New(defaultProject())

	var controller grid.Controller
	var ledPort *midiio.Port
	controller, err := grid.New(cfg.ControllerName, b, grid.NopPort{}, logger)
	if err != nil {
		logger.Error("grid_controller_init_failed", "error", err)
		os.Exit(1)
	}

	outPortName := cfg.MIDIOutputPort
	if outPortName != "" {
		ledPort, err = midiio.OpenLEDPort(outPortName)
		if err != nil {
			logger.Warn("midi_output_open_failed", "error", err, "port", outPortName)
		} else {
			controller, err = grid.New(cfg.ControllerName, b, ledPort, logger)
			if err != nil {
				logger.Error("grid_controller_init_failed", "error", err)
				os.Exit(1)
			}
		}
	}

	inPortName := cfg.MIDIInputPort
	if inPortName == "" {
		inPortName = cfg.ControllerName
	}
	input, err := midiio.OpenInput(inPortName, controller, logger)
	if err != nil {
		logger.Warn("midi_input_open_failed", "error", err, "port", inPortName)
	} else {
		defer input.Close()
	}

	sink := midiio.NewOutputSink(ledPortOrNop(ledPort), cfg.CCPacing, logger)
	recovery.WithRecovery(func() { sink.RunSubscriber(ctx, b, m) }, "output_sink")

	link := tempoclock.NewLinkClient(b, tempoclock.NoopProber{}, cfg.FallbackBPM, logger)
	recovery.WithRecovery(func() { link.Run(ctx) }, "tempo_clock")

	rt := router.New(b, m, controller, sink, logger)
	recovery.WithRecovery(func() { rt.Run(ctx) }, "router")

	morphEngine := morph.New(b, m, controller, logger)
	recovery.WithRecovery(func() { morphEngine.Run(ctx) }, "morph_engine")

	cmdConsumer := command.New(b, m, sink, logger)
	recovery.WithRecovery(func() { cmdConsumer.Run(ctx) }, "command_consumer")

	tickWatcher := monitor.NewMorphTickWatcher()
	recovery.WithRecovery(func() { tickWatcher.Run(ctx, b) }, "morph_tick_watcher")

	var telemetryDB *sqlx.DB
	if cfg.TelemetryDSN != "" {
		telemetryDB, err = sqlx.Connect("pgx", cfg.TelemetryDSN)
		if err != nil {
			logger.Warn("telemetry_db_connect_failed", "error", err)
		}
	}
	recorder := telemetry.NewRecorder(telemetryDB, b, metrics, logger)
	recorder.Start(ctx)

	hub := diag.NewThrottledHub(logger, 200*time.Millisecond)
	recovery.WithRecovery(func() { hub.RunWithThrottling(ctx) }, "diag_hub")
	recovery.WithRecovery(func() { diag.RunBusBridge(ctx, b, hub) }, "diag_bus_bridge")

	server := diag.NewServer(m, tickWatcher, hub, cfg.AppTitle, logger)
	httpServer := &http.Server{Addr: ":" + cfg.DiagPort, Handler: server.Mux()}
	go func() {
		logger.Info("diag_server_listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("diag_server_failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown_signal_received")
	b.Publish(bus.Shutdown{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	recorder.Wait()
}

func ledPortOrNop(p *midiio.Port) midiio.CCPort {
	if p == nil {
		return noopCCPort{}
	}
	return p
}

type noopCCPort struct{}

func (noopCCPort) SendCC(channel, cc, value uint8) error { return nil }
