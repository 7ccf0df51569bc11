package engine

import (
	"log/slog"

	"mdp_go/internal/domain"
	"mdp_go/internal/mdp"
)

// HandleInstrumentPacket ingests one datagram from an instrument definition
// feed. Definitions are forwarded to the channel context; the feed has its
// own sequence and does not touch the channel counters.
func (c *ChannelController) HandleInstrumentPacket(feed domain.Feed, pkt mdp.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.RecordPacket(domain.FeedInstrumentDef)
	if c.closed {
		return
	}

	it := pkt.Messages()
	for it.Next() {
		msg := it.Message()
		typ := c.schema.Lookup(msg.TemplateID())
		if typ == nil || typ.Semantic != mdp.SemanticSecurityDefinition {
			continue
		}
		c.ctx.OnSecurityDefinition(feed, typ, msg)
	}
	if err := it.Err(); err != nil {
		c.metrics.RecordMalformed()
		c.log.Warn("Malformed instrument packet",
			slog.String("feed", feed.String()),
			slog.Uint64("seq", pkt.SeqNum()),
			slog.Any("error", err))
	}
}
