package engine

import (
	"log/slog"

	"mdp_go/internal/domain"
	"mdp_go/internal/mdp"
)

// HandleSnapshotPacket ingests one datagram from a snapshot feed. Snapshots
// newer than the processed sequence are applied to their instruments until
// the countdown for the cycle runs out and the incremental packet following
// the snapshot marker is buffered. At that point snapshot listening stops and
// the buffered increments are drained.
func (c *ChannelController) HandleSnapshotPacket(feed domain.Feed, pkt mdp.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.RecordPacket(domain.FeedSnapshot)
	if c.closed {
		return
	}

	pktSeq := pkt.SeqNum()
	it := pkt.Messages()
	for it.Next() {
		msg := it.Message()
		typ := c.schema.Lookup(msg.TemplateID())
		if typ == nil || typ.Semantic != mdp.SemanticSnapshotFullRefresh {
			continue
		}
		if c.handleSnapshotMessage(feed, pktSeq, typ, msg) {
			return
		}
	}
	if err := it.Err(); err != nil {
		c.metrics.RecordMalformed()
		c.log.Warn("Malformed snapshot packet",
			slog.String("feed", feed.String()),
			slog.Uint64("seq", pktSeq),
			slog.Any("error", err))
	}
}

// handleSnapshotMessage applies one snapshot message and reports whether
// snapshot listening was stopped instead.
func (c *ChannelController) handleSnapshotMessage(feed domain.Feed, pktSeq uint64, typ *mdp.MessageType, msg mdp.Message) bool {
	marker := typ.LastMsgSeqNumProcessed(msg)
	c.log.Debug("Snapshot message",
		slog.String("feed", feed.String()),
		slog.Uint64("seq", pktSeq),
		slog.Uint64("processed_seq", c.processedSeq.Load()),
		slog.Uint64("snapshot_seq", c.snapshotSeq.Load()),
		slog.Uint64("marker", marker))
	if marker <= c.processedSeq.Load() {
		return false
	}

	if pktSeq == 1 && c.canStopSnapshotListening() {
		c.stopSnapshotListening(feed)
		return true
	}

	if inst := c.ctx.FindInstrumentController(typ.SecurityID(msg)); inst != nil {
		inst.OnSnapshotFullRefresh(feed, typ, msg)
	}
	if c.snapshotCountdown == countdownUnset {
		c.snapshotCountdown = int64(typ.TotNumReports(msg)) * c.cycles
	}
	c.snapshotCountdown--
	c.snapshotSeq.Store(marker)
	return false
}

// canStopSnapshotListening requires an exhausted countdown and the packet
// right after the snapshot marker already waiting in the queue.
func (c *ChannelController) canStopSnapshotListening() bool {
	return c.snapshotCountdown != countdownUnset &&
		c.snapshotCountdown <= 0 &&
		c.queue.Exist(c.snapshotSeq.Load()+1)
}

func (c *ChannelController) stopSnapshotListening(feed domain.Feed) {
	c.ctx.StopSnapshotFeeds()
	c.metrics.RecordRecoveryStop()
	c.log.Info("Snapshot recovery stopped",
		slog.String("feed", feed.String()),
		slog.Uint64("processed_seq", c.processedSeq.Load()),
		slog.Uint64("snapshot_seq", c.snapshotSeq.Load()))

	if c.State() == domain.ChannelLive {
		return
	}
	c.processedSeq.Store(c.snapshotSeq.Load())
	if c.ctx.HasMdListeners() {
		c.events.Reset()
	}
	if c.State() == domain.ChannelInitial {
		c.switchState(domain.ChannelSync)
	}
	resets := c.resets
	drained := c.processQueue(domain.Feed{Type: domain.FeedIncremental, Name: feed.Name})
	c.log.Info("Buffered increments drained",
		slog.Int("drained", drained),
		slog.Uint64("processed_seq", c.processedSeq.Load()))
	if c.resets == resets && c.State() == domain.ChannelSync {
		c.switchState(domain.ChannelLive)
	}
}

// ResetSnapshotCycleCount forces the next snapshot to start a new countdown.
func (c *ChannelController) ResetSnapshotCycleCount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshotCountdown = countdownUnset
}

// StartRecovery restarts snapshot recovery: the countdown is cleared, the
// snapshot feeds are started and a live channel goes back to SYNC. Buffered
// increments stay queued.
func (c *ChannelController) StartRecovery() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.startRecovery()
}

func (c *ChannelController) startRecovery() {
	c.snapshotCountdown = countdownUnset
	c.metrics.RecordRecoveryStart()
	c.log.Info("Snapshot recovery started",
		slog.String("state", c.State().String()),
		slog.Uint64("processed_seq", c.processedSeq.Load()))
	if c.State() == domain.ChannelLive {
		c.switchState(domain.ChannelSync)
	}
	c.ctx.StartSnapshotFeeds()
}
