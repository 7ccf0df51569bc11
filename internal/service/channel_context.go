package service

import (
	"log/slog"

	"mdp_go/internal/domain"
	"mdp_go/internal/engine"
	"mdp_go/internal/instrument"
	"mdp_go/internal/mdp"
)

// FeedSwitch starts and stops a set of feed receivers without blocking.
type FeedSwitch interface {
	Start()
	Stop()
}

// ChannelListener observes channel lifecycle notifications. Calls are made
// with the channel lock held and must return quickly.
type ChannelListener interface {
	OnChannelStateChange(channelID int, from, to domain.ChannelState)
	OnChannelReset(channelID int)
	OnChannelResetFinished(channelID int)
}

// ContextOptions wires the optional collaborators of a ChannelContext.
type ContextOptions struct {
	Recorder   *Recorder
	Snapshots  FeedSwitch
	Listeners  []ChannelListener
	MarketData bool // instrument commits have subscribers
}

// ChannelContext connects a channel controller to the instrument registry,
// the snapshot receivers, persistence and lifecycle listeners.
type ChannelContext struct {
	id       int
	registry *instrument.Registry
	opts     ContextOptions
	seq      func() uint64
	log      *slog.Logger
}

var _ engine.ChannelContext = (*ChannelContext)(nil)

// NewChannelContext creates the context of channel id.
func NewChannelContext(id int, registry *instrument.Registry, opts ContextOptions) *ChannelContext {
	return &ChannelContext{
		id:       id,
		registry: registry,
		opts:     opts,
		seq:      func() uint64 { return 0 },
		log:      slog.Default().With(slog.Int("channel", id)),
	}
}

// Bind attaches the controller whose processed sequence is recorded in
// audit events.
func (c *ChannelContext) Bind(ctrl *engine.ChannelController) {
	c.seq = ctrl.ProcessedSeq
}

// Registry returns the instrument registry of the channel.
func (c *ChannelContext) Registry() *instrument.Registry {
	return c.registry
}

func (c *ChannelContext) FindInstrumentController(securityID int32) engine.InstrumentController {
	if inst := c.registry.Find(securityID); inst != nil {
		return inst
	}
	return nil
}

func (c *ChannelContext) ResetAllInstruments() {
	c.registry.ResetAll()
}

func (c *ChannelContext) OnSecurityDefinition(_ domain.Feed, typ *mdp.MessageType, msg mdp.Message) {
	def, ok := c.registry.OnSecurityDefinition(typ, msg)
	if !ok {
		return
	}
	c.log.Debug("Security definition",
		slog.Int("security_id", int(def.SecurityID)),
		slog.String("symbol", def.Symbol))
	if c.opts.Recorder != nil {
		c.opts.Recorder.RecordDefinition(def)
	}
}

func (c *ChannelContext) OnSecurityStatus(_ domain.Feed, typ *mdp.MessageType, msg mdp.Message, _ mdp.MatchEventIndicator) {
	if inst := c.registry.Find(typ.SecurityID(msg)); inst != nil {
		inst.OnSecurityStatus(typ.TradingStatus(msg))
	}
}

func (c *ChannelContext) OnQuoteRequest(feed domain.Feed, typ *mdp.MessageType, msg mdp.Message) {
	group, ok := msg.Group(0)
	if !ok {
		return
	}
	for group.Next() {
		c.log.Debug("Quote request",
			slog.String("feed", feed.String()),
			slog.Int("security_id", int(typ.EntrySecurityID(group.Entry()))))
	}
}

func (c *ChannelContext) HasMdListeners() bool {
	return c.opts.MarketData
}

func (c *ChannelContext) StartSnapshotFeeds() {
	if c.opts.Snapshots != nil {
		c.opts.Snapshots.Start()
	}
	c.record(domain.ChannelEventRecoveryStart, "", "")
}

func (c *ChannelContext) StopSnapshotFeeds() {
	if c.opts.Snapshots != nil {
		c.opts.Snapshots.Stop()
	}
}

func (c *ChannelContext) NotifyChannelReset() {
	c.record(domain.ChannelEventReset, "", "")
	for _, l := range c.opts.Listeners {
		l.OnChannelReset(c.id)
	}
}

func (c *ChannelContext) NotifyChannelResetFinished() {
	for _, l := range c.opts.Listeners {
		l.OnChannelResetFinished(c.id)
	}
}

func (c *ChannelContext) NotifyStateChange(from, to domain.ChannelState) {
	c.record(domain.ChannelEventStateChange, from.String(), to.String())
	for _, l := range c.opts.Listeners {
		l.OnChannelStateChange(c.id, from, to)
	}
}

func (c *ChannelContext) record(kind domain.ChannelEventKind, from, to string) {
	if c.opts.Recorder != nil {
		c.opts.Recorder.RecordEvent(c.id, kind, from, to, c.seq())
	}
}
