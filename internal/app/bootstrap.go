package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"mdp_go/internal/domain"
	"mdp_go/internal/engine"
	"mdp_go/internal/infra"
	"mdp_go/internal/infra/status"
	"mdp_go/internal/infra/storage"
	"mdp_go/internal/infra/transport"
	"mdp_go/internal/instrument"
	"mdp_go/internal/mdp"
	"mdp_go/internal/service"
)

const recorderQueueSize = 4096

// Channel bundles the components serving one market data channel.
type Channel struct {
	Config      infra.ChannelConfig
	Controller  *engine.ChannelController
	Context     *service.ChannelContext
	Incremental []*transport.Receiver
	Instruments []*transport.Receiver
	SnapshotRx  []*transport.Receiver
	Snapshots   *transport.Switch
}

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string

	Config   *infra.Config
	Storage  *storage.Storage
	Metrics  *infra.Metrics
	Registry *prometheus.Registry
	Recorder *service.Recorder
	Board    *service.MarketBoard
	Hub      *status.Hub
	Server   *status.Server
	Monitor  *service.Monitor
	Channels []*Channel
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{ConfigPath: configPath}
}

// Initialize loads config, sets up logging, storage and metrics.
func (b *Bootstrap) Initialize() error {
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err
	}
	return b.InitializeWith(cfg)
}

// InitializeWith is Initialize for an already loaded config.
func (b *Bootstrap) InitializeWith(cfg *infra.Config) error {
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("Bootstrapping feed handler",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.Int("channels", len(cfg.Channels)))

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("Database initialized")

	b.Metrics = infra.GlobalMetrics
	b.Registry = prometheus.NewRegistry()
	b.Registry.MustRegister(
		infra.NewMetricsCollector(b.Metrics),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	b.Recorder = service.NewRecorder(store, recorderQueueSize)
	b.Hub = status.NewHub()
	b.Board = service.NewMarketBoard(b.Hub.OnQuote)
	return nil
}

// Build creates the channel pipelines. Initialize must have succeeded.
func (b *Bootstrap) Build() error {
	schema := mdp.DefaultSchema()
	cfg := b.Config

	monitored := make([]service.MonitoredChannel, 0, len(cfg.Channels))
	providers := make([]status.StatusProvider, 0, len(cfg.Channels))
	for _, chCfg := range cfg.Channels {
		ch, err := b.buildChannel(chCfg, schema)
		if err != nil {
			return err
		}
		b.Channels = append(b.Channels, ch)
		monitored = append(monitored, ch.Controller)
		providers = append(providers, ch.Controller)
	}

	b.Monitor = service.NewMonitor(service.MonitorConfig{
		Interval:             cfg.Recovery.MonitorInterval,
		IdleTimeout:          cfg.Recovery.IncrementalIdleTimeout,
		GapStallTimeout:      cfg.Recovery.GapStallTimeout,
		SnapshotCycleTimeout: cfg.Recovery.SnapshotCycleTimeout,
	}, monitored...)
	b.Server = status.NewServer(cfg.Status.Addr, b.Hub, b.Board, b.Registry, providers...)
	return nil
}

func (b *Bootstrap) buildChannel(chCfg infra.ChannelConfig, schema *mdp.Schema) (*Channel, error) {
	registry := instrument.NewRegistry(chCfg.ID, b.Board.Publish)
	defs, err := b.Storage.ListSecurities(chCfg.ID)
	if err != nil {
		return nil, fmt.Errorf("load securities of channel %d: %w", chCfg.ID, err)
	}
	registry.Load(defs)

	ch := &Channel{Config: chCfg}
	network := b.Config.Network

	// Handlers close over ch; the controller is set before any receiver runs.
	snapshotHandler := b.guard(ch, func(feed domain.Feed, pkt mdp.Packet) {
		ch.Controller.HandleSnapshotPacket(feed, pkt)
	})
	ch.SnapshotRx = transport.NewFeedReceivers(domain.FeedSnapshot, chCfg.Snapshot.Lines(), network, snapshotHandler, b.Metrics)
	ch.Snapshots = transport.NewSwitch(fmt.Sprintf("snapshot-%d", chCfg.ID), ch.SnapshotRx...)

	ch.Context = service.NewChannelContext(chCfg.ID, registry, service.ContextOptions{
		Recorder:   b.Recorder,
		Snapshots:  ch.Snapshots,
		Listeners:  []service.ChannelListener{b.Hub},
		MarketData: true,
	})

	ctrl, err := engine.NewChannelController(chCfg.ID, ch.Context, schema, engine.Options{
		QueueSize:      b.Config.Queue.Size,
		SlotSize:       b.Config.Queue.SlotSize,
		SnapshotCycles: b.Config.Recovery.SnapshotCycles,
		Metrics:        b.Metrics,
	})
	if err != nil {
		return nil, err
	}
	ch.Controller = ctrl
	ch.Context.Bind(ctrl)

	ch.Incremental = transport.NewFeedReceivers(domain.FeedIncremental, chCfg.Incremental.Lines(), network,
		b.guard(ch, ctrl.HandleIncrementalPacket), b.Metrics)
	ch.Instruments = transport.NewFeedReceivers(domain.FeedInstrumentDef, chCfg.Instrument.Lines(), network,
		b.guard(ch, ctrl.HandleInstrumentPacket), b.Metrics)

	slog.Info("Channel ready",
		slog.Int("channel", chCfg.ID),
		slog.Int("instruments", registry.Len()),
		slog.Int("incremental_lines", len(ch.Incremental)),
		slog.Int("instrument_lines", len(ch.Instruments)))
	return ch, nil
}

// guard dumps the channel state before re-raising a panic from packet handling.
func (b *Bootstrap) guard(ch *Channel, h transport.Handler) transport.Handler {
	return func(feed domain.Feed, pkt mdp.Packet) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("CRITICAL_PANIC_DETECTED",
					slog.Int("channel", ch.Config.ID),
					slog.String("feed", feed.String()),
					slog.Any("panic", r))
				if ch.Controller != nil {
					path := b.dumpPath(ch.Config.ID)
					if err := ch.Controller.DumpState(path); err != nil {
						slog.Error("Failed to dump channel state",
							slog.Int("channel", ch.Config.ID),
							slog.String("path", path),
							slog.Any("error", err))
					}
				}
				panic(fmt.Sprintf("HALTED: %v", r))
			}
		}()
		h(feed, pkt)
	}
}

func (b *Bootstrap) dumpPath(channelID int) string {
	dir := b.Config.Logging.Dir
	if dir == "" {
		dir = "logs"
	}
	return filepath.Join(dir, fmt.Sprintf("panic_dump_%d.json", channelID))
}

// Run starts every component and puts each channel into recovery. It
// returns when ctx is cancelled or a component fails.
func (b *Bootstrap) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return b.Recorder.Run(ctx) })
	b.Board.StartProcessor(ctx)

	for _, ch := range b.Channels {
		g.Go(func() error { return ch.Snapshots.Run(ctx) })
		for _, r := range ch.Incremental {
			g.Go(func() error { return r.Run(ctx) })
		}
		for _, r := range ch.Instruments {
			g.Go(func() error { return r.Run(ctx) })
		}
	}
	g.Go(func() error { return b.Monitor.Run(ctx) })
	g.Go(func() error { return b.Server.Run(ctx) })

	for _, ch := range b.Channels {
		ch.Controller.StartRecovery()
	}
	slog.Info("Feed handler fully operational", slog.Int("channels", len(b.Channels)))

	err := g.Wait()
	for _, ch := range b.Channels {
		ch.Controller.Close()
	}
	return err
}

// Close releases storage. Call after Run has returned.
func (b *Bootstrap) Close() error {
	if b.Storage == nil {
		return nil
	}
	return b.Storage.Close()
}
