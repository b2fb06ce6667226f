// Hangar - game world and chat socket server.
//
// Hangar accepts game, chat and policy TCP connections, routes every
// decoded packet to the tick that owns the state it touches, exposes a
// REST API for operators, and publishes lifecycle events via MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hangar-project/hangar/internal/api"
	"github.com/hangar-project/hangar/internal/chat"
	"github.com/hangar-project/hangar/internal/cli"
	"github.com/hangar-project/hangar/internal/config"
	"github.com/hangar-project/hangar/internal/db"
	"github.com/hangar-project/hangar/internal/events"
	"github.com/hangar-project/hangar/internal/game"
	"github.com/hangar-project/hangar/internal/health"
	"github.com/hangar-project/hangar/internal/network"
	"github.com/hangar-project/hangar/internal/protocol"
	"github.com/hangar-project/hangar/internal/scheduler"
	"github.com/hangar-project/hangar/internal/telemetry"
	"github.com/hangar-project/hangar/internal/util"
)

const (
	AppName    = "Hangar"
	AppVersion = "1.0.0"
	Banner     = `
  _   _
 | | | | __ _ _ __   __ _  __ _ _ __
 | |_| |/ _' | '_ \ / _' |/ _' | '__|
 |  _  | (_| | | | | (_| | (_| | |
 |_| |_|\__,_|_| |_|\__, |\__,_|_|
                    |___/  v%s
 Game & Chat Socket Server
`
	shutdownTimeout = 30 * time.Second
	bindRetries     = 15
)

type options struct {
	configDir string
	logLevel  string
	noConsole bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "hangar",
		Short:        "Game world and chat socket server",
		Version:      AppVersion,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.configDir, "config-dir", config.DefaultConfigDir, "directory holding config.json")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&opts.noConsole, "no-console", false, "do not read operator commands from stdin")
	return cmd
}

func run(parent context.Context, opts options) error {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults first; reconfigured once the config is loaded.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Hangar")

	cfg, err := config.Load(opts.configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	logCfg := util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return errors.New("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	eventBus := events.NewEventBus()
	metrics := telemetry.NewMetrics()

	chatOpts, err := chatOptions(cfg)
	if err != nil {
		return fmt.Errorf("invalid chat configuration: %w", err)
	}
	chatMgr := chat.NewManager(chatOpts, store, eventBus, metrics)
	chatMgr.CreateStandingRooms()

	world, err := game.NewWorld(worldOptions(cfg), store, eventBus, metrics)
	if err != nil {
		return fmt.Errorf("failed to create world: %w", err)
	}
	if cfg.WebChannel.Enabled {
		log.Info().Msg("web side-channel enabled on the game socket")
	}

	registerGauges(metrics, chatMgr, world)

	conns := network.NewConnectionRegistry()
	listeners := newListeners(cfg, conns, metrics, chatMgr, world)

	tickMonitor := scheduler.NewTickMonitor(eventBus)
	loops := newTickLoops(cfg, eventBus, metrics, chatMgr, world)
	commandWorker := game.NewCommandWorker(world)
	sched := scheduler.NewScheduler(cfg.Maintenance, store)
	healthMgr := health.NewManager(cfg.Timers, eventBus, conns, filepath.Dir(cfg.Database.Path))

	apiServer := api.NewServer(api.Deps{
		Config:  cfg,
		Chat:    chatMgr,
		World:   world,
		Conns:   conns,
		Health:  healthMgr,
		Ticks:   tickMonitor,
		Metrics: metrics,
		Emitter: eventBus,
	})

	var mqttHandler *telemetry.MQTTHandler
	if cfg.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg.MQTT, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	// ---------------------------------------------------------------
	// Launch all concurrent tasks
	// ---------------------------------------------------------------
	var wg sync.WaitGroup
	errCh := make(chan error, len(listeners)+1)

	goTask := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("task", name).Msg("starting")
			fn()
		}()
	}

	// Ticks start before the listeners so the first login finds a
	// running global tick.
	for _, loop := range loops {
		goTask("tick "+loop.Name, func() { loop.Run(ctx) })
	}
	goTask("command worker", func() { commandWorker.Run(ctx) })

	for _, l := range listeners {
		goTask(l.name+" listener", func() {
			if err := startWithRetry(ctx, l.name+" listener", l.listener.Start, bindRetries); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("%s listener: %w", l.name, err)
			}
		})
	}

	goTask("REST API", func() {
		if err := startWithRetry(ctx, "API server", apiServer.Start, bindRetries); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
		}
	})
	goTask("health checks", func() { healthMgr.Start(ctx) })
	goTask("tick monitor", func() {
		tickMonitor.Start(ctx, time.Duration(cfg.Timers.TickMonitorInterval)*time.Second)
	})
	goTask("maintenance scheduler", func() { sched.Start(ctx) })

	if mqttHandler != nil {
		goTask("MQTT telemetry", func() {
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		})
	}

	if !opts.noConsole {
		console := cli.NewCLI(chatMgr, world, conns, cancel, os.Stdin, os.Stdout)
		// The console goroutine is not awaited: it may be blocked on a
		// stdin read that never returns.
		go console.Start(ctx)
	}

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
		runErr = err
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	}

	log.Info().Msg("initiating graceful shutdown...")

	eventBus.Emit(context.Background(), events.Event{
		Type:   events.EventShutdown,
		Source: "main",
	})

	cancel()
	conns.CloseAll()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(shutdownTimeout):
		log.Warn().Dur("timeout", shutdownTimeout).Msg("shutdown timed out, forcing exit")
	}

	eventBus.Stop()
	log.Info().Msg("Hangar stopped")
	return runErr
}

type namedListener struct {
	name     string
	listener *network.TCPListener
}

func newListeners(cfg *config.Config, conns *network.ConnectionRegistry, metrics *telemetry.Metrics, chatMgr *chat.Manager, world *game.World) []namedListener {
	connOpts := func(f protocol.Format) network.ConnOptions {
		return network.ConnOptions{
			Format:         f,
			PolicyDocument: cfg.Network.PolicyDocument,
			ReadTimeout:    cfg.ReadTimeout(),
			MaxPacketSize:  cfg.Network.MaxPacketSize,
			Observer:       metrics,
		}
	}

	gameListener := network.NewTCPListener(network.ListenerConfig{
		Role:           network.RoleGame,
		Address:        cfg.Address(cfg.Network.GamePort),
		MaxConnections: cfg.Network.GameMaxConnections,
		Conn:           connOpts(protocol.GameFormat),
	}, conns, func(c *network.Connection) network.FrameHandler {
		return game.NewClient(c, world)
	})

	chatListener := network.NewTCPListener(network.ListenerConfig{
		Role:           network.RoleChat,
		Address:        cfg.Address(cfg.Network.ChatPort),
		MaxConnections: cfg.Network.ChatMaxConnections,
		Conn:           connOpts(protocol.ChatFormat),
	}, conns, func(c *network.Connection) network.FrameHandler {
		return chat.NewClient(c, chatMgr)
	})

	policyListener := network.NewPolicyListener(
		cfg.Address(cfg.Network.PolicyPort), cfg.Network.PolicyDocument, conns, metrics)

	return []namedListener{
		{name: string(network.RoleGame), listener: gameListener},
		{name: string(network.RoleChat), listener: chatListener},
		{name: string(network.RolePolicy), listener: policyListener},
	}
}

// newTickLoops builds the chat and world global ticks plus one entity tick
// per map shard.
func newTickLoops(cfg *config.Config, emitter events.Emitter, metrics *telemetry.Metrics, chatMgr *chat.Manager, world *game.World) []*scheduler.TickLoop {
	interval := cfg.TickInterval()
	loops := []*scheduler.TickLoop{
		{Name: "chat", Interval: interval, Tick: chatMgr.Tick, Emitter: emitter, Observer: metrics},
		{Name: "world", Interval: interval, Tick: world.Tick, Emitter: emitter, Observer: metrics},
	}
	for _, m := range world.Maps() {
		loops = append(loops, &scheduler.TickLoop{
			Name:     "map_" + strconv.Itoa(m.ID),
			Interval: interval,
			Tick:     m.Tick,
			Emitter:  emitter,
			Observer: metrics,
		})
	}
	return loops
}

// registerGauges exposes snapshot sizes. Gauges read published snapshots
// only, never the live tables.
func registerGauges(metrics *telemetry.Metrics, chatMgr *chat.Manager, world *game.World) {
	metrics.Gauge("chat_sessions", "Authenticated chat sessions.", func() float64 {
		return float64(len(chatMgr.Snapshot().Sessions))
	})
	metrics.Gauge("chat_rooms", "Live chat rooms.", func() float64 {
		return float64(len(chatMgr.Snapshot().Rooms))
	})
	metrics.Gauge("game_players", "Players in the world.", func() float64 {
		return float64(len(world.Snapshot().Players))
	})
}

// startWithRetry retries binding a listener, for restarts where the old
// process still holds the port.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
