package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"mdp_go/internal/domain"
	"mdp_go/internal/event"
	"mdp_go/internal/infra"
	"mdp_go/internal/mdp"
	"mdp_go/internal/pktqueue"
)

// DefaultSnapshotCycles is how many times the exchange repeats a snapshot
// cycle. The recovery countdown covers all of them.
const DefaultSnapshotCycles = 3

// countdownUnset marks a snapshot countdown that was not initialized for the
// current cycle.
const countdownUnset = math.MinInt64

// Options tunes a ChannelController. Zero values select defaults.
type Options struct {
	QueueSize      int // power of two
	SlotSize       int // largest buffered datagram
	SnapshotCycles int

	Events  event.Controller
	Metrics *infra.Metrics
	Logger  *slog.Logger
}

func (o *Options) withDefaults() {
	if o.QueueSize == 0 {
		o.QueueSize = 1024
	}
	if o.SlotSize == 0 {
		o.SlotSize = 1500
	}
	if o.SnapshotCycles <= 0 {
		o.SnapshotCycles = DefaultSnapshotCycles
	}
	if o.Events == nil {
		o.Events = event.NewInMemoryController()
	}
	if o.Metrics == nil {
		o.Metrics = infra.GlobalMetrics
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// messageHandler processes one decoded incremental-feed message.
type messageHandler func(c *ChannelController, feed domain.Feed, seq uint64, typ *mdp.MessageType, msg mdp.Message, mei mdp.MatchEventIndicator)

// ChannelController sequences the incremental and snapshot feeds of one
// channel. Both feeds call into it from their own goroutines; a single mutex
// serializes every mutation. State, ProcessedSeq and LastIncrementalReceived
// may be read without the lock for monitoring.
type ChannelController struct {
	id     int
	ctx    ChannelContext
	schema *mdp.Schema

	mu       sync.Mutex
	queue    *pktqueue.Queue
	events   event.Controller
	scratch  []byte
	handlers [mdp.SemanticCount]messageHandler
	commitFn event.CommitFunc
	cycles   int64
	metrics  *infra.Metrics
	log      *slog.Logger

	state           atomic.Int32
	processedSeq    atomic.Uint64
	snapshotSeq     atomic.Uint64
	lastIncremental atomic.Int64 // unix nanos

	snapshotCountdown int64
	resetInProgress   bool
	resyncing         bool // reset seen, sequence restarted but not yet confirmed
	resets            uint64
	closed            bool
}

// NewChannelController creates the controller of channel id in INITIAL state.
func NewChannelController(id int, ctx ChannelContext, schema *mdp.Schema, opts Options) (*ChannelController, error) {
	opts.withDefaults()

	c := &ChannelController{
		id:                id,
		ctx:               ctx,
		schema:            schema,
		events:            opts.Events,
		scratch:           make([]byte, opts.SlotSize),
		cycles:            int64(opts.SnapshotCycles),
		metrics:           opts.Metrics,
		log:               opts.Logger.With(slog.Int("channel", id)),
		snapshotCountdown: countdownUnset,
	}
	queue, err := pktqueue.New(opts.QueueSize, opts.SlotSize, c.processedSeq.Load)
	if err != nil {
		return nil, fmt.Errorf("channel %d: %w", id, err)
	}
	c.queue = queue

	c.handlers[mdp.SemanticIncrementalRefresh] = (*ChannelController).handleIncrementalRefresh
	c.handlers[mdp.SemanticQuoteRequest] = func(c *ChannelController, feed domain.Feed, _ uint64, typ *mdp.MessageType, msg mdp.Message, _ mdp.MatchEventIndicator) {
		c.ctx.OnQuoteRequest(feed, typ, msg)
	}
	c.handlers[mdp.SemanticSecurityStatus] = func(c *ChannelController, feed domain.Feed, _ uint64, typ *mdp.MessageType, msg mdp.Message, mei mdp.MatchEventIndicator) {
		c.ctx.OnSecurityStatus(feed, typ, msg, mei)
	}
	c.handlers[mdp.SemanticSecurityDefinition] = func(c *ChannelController, feed domain.Feed, _ uint64, typ *mdp.MessageType, msg mdp.Message, _ mdp.MatchEventIndicator) {
		c.ctx.OnSecurityDefinition(feed, typ, msg)
	}

	c.commitFn = c.commitSecurity
	return c, nil
}

// ID returns the channel id.
func (c *ChannelController) ID() int {
	return c.id
}

// State returns the current channel state.
func (c *ChannelController) State() domain.ChannelState {
	return domain.ChannelState(c.state.Load())
}

// ProcessedSeq returns the last incremental sequence applied in order.
func (c *ChannelController) ProcessedSeq() uint64 {
	return c.processedSeq.Load()
}

// SnapshotSeq returns the last-processed marker reported by the snapshot feed.
func (c *ChannelController) SnapshotSeq() uint64 {
	return c.snapshotSeq.Load()
}

// LastIncrementalReceived returns when the last incremental packet arrived
// from the network. Zero if none did.
func (c *ChannelController) LastIncrementalReceived() time.Time {
	ns := c.lastIncremental.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// ChannelStatus is a point-in-time view of a channel.
type ChannelStatus struct {
	ID                      int       `json:"id"`
	State                   string    `json:"state"`
	ProcessedSeq            uint64    `json:"processed_seq"`
	SnapshotSeq             uint64    `json:"snapshot_seq"`
	SnapshotCountdown       int64     `json:"snapshot_countdown"`
	Pending                 int       `json:"pending"`
	LastIncrementalReceived time.Time `json:"last_incremental_received"`
}

// Status returns the current view of the channel. SnapshotCountdown is -1
// while the countdown is not initialized.
func (c *ChannelController) Status() ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *ChannelController) statusLocked() ChannelStatus {
	countdown := c.snapshotCountdown
	if countdown == countdownUnset {
		countdown = -1
	}
	pending := 0
	if !c.closed {
		pending = c.queue.Pending()
	}
	return ChannelStatus{
		ID:                      c.id,
		State:                   c.State().String(),
		ProcessedSeq:            c.processedSeq.Load(),
		SnapshotSeq:             c.snapshotSeq.Load(),
		SnapshotCountdown:       countdown,
		Pending:                 pending,
		LastIncrementalReceived: c.LastIncrementalReceived(),
	}
}

func (c *ChannelController) switchState(to domain.ChannelState) {
	from := c.State()
	c.state.Store(int32(to))
	c.queue.SetBounded(to == domain.ChannelLive)
	if to == domain.ChannelLive {
		c.resyncing = false
	}
	c.log.Info("Channel state changed",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.Uint64("processed_seq", c.processedSeq.Load()))
	c.ctx.NotifyStateChange(from, to)
}

func (c *ChannelController) commitSecurity(securityID int32) {
	if inst := c.ctx.FindInstrumentController(securityID); inst != nil {
		inst.CommitEvent()
	}
}

// Close releases the reorder queue. Packets handled afterwards are ignored.
func (c *ChannelController) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.queue.Release()
	c.events.Reset()
	c.log.Info("Channel closed", slog.Uint64("processed_seq", c.processedSeq.Load()))
}

// DumpState writes the channel counters to a file (for post-mortem).
func (c *ChannelController) DumpState(filename string) error {
	c.log.Info("Dumping channel state...", slog.String("file", filename))

	c.mu.Lock()
	status := c.statusLocked()
	c.mu.Unlock()

	b, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal channel state: %w", err)
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		return fmt.Errorf("write channel state: %w", err)
	}
	return nil
}
