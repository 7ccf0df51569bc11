package engine

import (
	"log/slog"
	"time"

	"mdp_go/internal/domain"
	"mdp_go/internal/mdp"
	"mdp_go/internal/pktqueue"
)

// HandleIncrementalPacket ingests one datagram from an incremental feed. The
// packet is applied right away when it carries the next expected sequence,
// otherwise it is buffered until the gap before it is filled. pkt is not
// retained after the call.
func (c *ChannelController) HandleIncrementalPacket(feed domain.Feed, pkt mdp.Packet) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastIncremental.Store(now.UnixNano())
	c.metrics.RecordPacket(domain.FeedIncremental)
	if c.closed {
		return
	}

	seq := pkt.SeqNum()
	status := c.queue.Admit(seq, pkt.Bytes())
	if status == pktqueue.StatusBeyondWindow {
		c.log.Warn("Gap exceeds reorder window, starting recovery",
			slog.String("feed", feed.String()),
			slog.Uint64("seq", seq),
			slog.Uint64("processed_seq", c.processedSeq.Load()))
		c.startRecovery()
		status = c.queue.Admit(seq, pkt.Bytes())
	}
	c.log.Debug("Incremental packet",
		slog.String("feed", feed.String()),
		slog.Uint64("seq", seq),
		slog.Uint64("processed_seq", c.processedSeq.Load()),
		slog.String("status", status.String()))

	switch status {
	case pktqueue.StatusNext:
		c.handleIncrementalMessages(feed, seq, pkt)
		c.metrics.RecordApplied(time.Since(now).Nanoseconds())
		c.processQueue(feed)
		c.resumeAfterReset(feed)
	case pktqueue.StatusBuffered:
		c.metrics.RecordBuffered()
	case pktqueue.StatusOverwrote:
		c.metrics.RecordOverwritten()
	case pktqueue.StatusDuplicate:
		c.metrics.RecordDuplicate()
	case pktqueue.StatusStale:
		c.metrics.RecordStale()
	default:
		c.metrics.RecordRejected()
		c.log.Warn("Incremental packet not buffered",
			slog.String("feed", feed.String()),
			slog.Uint64("seq", seq),
			slog.Int("size", pkt.Len()),
			slog.String("status", status.String()))
	}
}

// processQueue applies buffered packets from processedSeq+1 until the first
// missing sequence.
func (c *ChannelController) processQueue(feed domain.Feed) int {
	drained := 0
	for {
		next := c.processedSeq.Load() + 1
		n := c.queue.Poll(next, c.scratch)
		if n == pktqueue.Empty {
			return drained
		}
		pkt, err := mdp.NewPacket(c.scratch[:n])
		if err != nil {
			// Only framed packets are admitted.
			c.log.Error("Buffered packet lost framing", slog.Uint64("seq", next), slog.Any("error", err))
			return drained
		}
		c.handleIncrementalMessages(feed, next, pkt)
		c.metrics.RecordDrained()
		drained++
	}
}

// handleIncrementalMessages runs every message of an admitted packet through
// the dispatch table and advances processedSeq, unless the packet reset the
// channel.
func (c *ChannelController) handleIncrementalMessages(feed domain.Feed, seq uint64, pkt mdp.Packet) {
	hasListeners := c.ctx.HasMdListeners()

	it := pkt.Messages()
	for it.Next() {
		msg := it.Message()
		typ := c.schema.Lookup(msg.TemplateID())
		if typ == nil {
			continue
		}
		mei := typ.MatchEventIndicator(msg)
		if h := c.handlers[typ.Semantic]; h != nil {
			h(c, feed, seq, typ, msg, mei)
		}
		if hasListeners && mei.HasEndOfEvent() {
			c.metrics.RecordCommits(c.events.Len())
			c.events.Commit(c.commitFn)
		}
	}
	if err := it.Err(); err != nil {
		c.metrics.RecordMalformed()
		c.log.Warn("Malformed incremental packet",
			slog.String("feed", feed.String()),
			slog.Uint64("seq", seq),
			slog.Any("error", err))
	}

	if c.resetInProgress {
		c.resetInProgress = false
		return
	}
	c.processedSeq.Store(seq)
}

func (c *ChannelController) handleIncrementalRefresh(feed domain.Feed, seq uint64, typ *mdp.MessageType, msg mdp.Message, mei mdp.MatchEventIndicator) {
	group, ok := msg.Group(0)
	if !ok {
		return
	}
	hasListeners := c.ctx.HasMdListeners()

	var inst InstrumentController
	for group.Next() {
		entry := group.Entry()
		if typ.EntryType(entry) == mdp.EntryEmptyBook {
			c.handleChannelReset()
			return
		}
		secID := typ.EntrySecurityID(entry)
		if inst == nil || inst.SecurityID() != secID {
			inst = c.ctx.FindInstrumentController(secID)
		}
		if inst == nil {
			continue
		}
		if hasListeners {
			c.events.LogSecurity(secID)
		}
		inst.OnIncrementalRefresh(feed, seq, mei, typ, entry)
	}
}

// handleChannelReset discards all channel state. The caller holds the lock.
func (c *ChannelController) handleChannelReset() {
	c.ctx.NotifyChannelReset()

	c.log.Info("Channel reset",
		slog.Uint64("processed_seq", c.processedSeq.Load()),
		slog.Uint64("snapshot_seq", c.snapshotSeq.Load()))
	c.processedSeq.Store(0)
	c.snapshotSeq.Store(0)
	c.resetInProgress = true
	c.resets++
	c.ctx.ResetAllInstruments()
	c.queue.Clear()
	c.snapshotCountdown = countdownUnset
	c.switchState(domain.ChannelSync)
	c.resyncing = true
	if c.ctx.HasMdListeners() {
		c.events.Reset()
	}
	c.metrics.RecordReset()
	c.metrics.RecordRecoveryStart()
	c.ctx.StartSnapshotFeeds()

	c.ctx.NotifyChannelResetFinished()
}

// resumeAfterReset moves a reset channel to LIVE once the restarted sequence
// is applied in order with nothing buffered behind a gap. The snapshot feeds
// started by the reset are no longer needed.
func (c *ChannelController) resumeAfterReset(feed domain.Feed) {
	if !c.resyncing || c.State() != domain.ChannelSync || c.processedSeq.Load() == 0 {
		return
	}
	if c.queue.Pending() > 0 {
		return
	}
	c.ctx.StopSnapshotFeeds()
	c.snapshotCountdown = countdownUnset
	c.metrics.RecordRecoveryStop()
	c.log.Info("Sequence resumed in order after reset",
		slog.String("feed", feed.String()),
		slog.Uint64("processed_seq", c.processedSeq.Load()))
	c.switchState(domain.ChannelLive)
}
