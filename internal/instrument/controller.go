// Package instrument keeps the per-security state the channel core feeds:
// top of book, last trade and trading status, committed at event boundaries.
package instrument

import (
	"log/slog"
	"time"

	"mdp_go/internal/domain"
	"mdp_go/internal/mdp"

	"github.com/shopspring/decimal"
)

// UpdateFunc receives the committed state of an instrument.
type UpdateFunc func(state domain.MarketState)

// Controller applies incremental and snapshot data to one instrument. It is
// not synchronized: the channel lock guards every call.
type Controller struct {
	pending   domain.MarketState
	committed domain.MarketState
	dirty     bool
	gaps      uint64

	onUpdate UpdateFunc
	now      func() time.Time
}

func newController(def domain.SecurityDefinition, onUpdate UpdateFunc) *Controller {
	c := &Controller{onUpdate: onUpdate, now: time.Now}
	c.define(def)
	return c
}

func (c *Controller) define(def domain.SecurityDefinition) {
	c.pending.SecurityID = def.SecurityID
	c.pending.ChannelID = def.ChannelID
	c.pending.Symbol = def.Symbol
	c.committed.SecurityID = def.SecurityID
	c.committed.ChannelID = def.ChannelID
	c.committed.Symbol = def.Symbol
}

func (c *Controller) SecurityID() int32 {
	return c.pending.SecurityID
}

// Symbol returns the instrument symbol from its definition.
func (c *Controller) Symbol() string {
	return c.pending.Symbol
}

// State returns the last committed state.
func (c *Controller) State() domain.MarketState {
	return c.committed
}

// Gaps returns how many RptSeq gaps were observed since the last reset.
func (c *Controller) Gaps() uint64 {
	return c.gaps
}

// OnIncrementalRefresh applies one incremental entry. Entries whose RptSeq is
// not newer than the instrument's are already reflected by a snapshot and
// are skipped.
func (c *Controller) OnIncrementalRefresh(feed domain.Feed, seq uint64, _ mdp.MatchEventIndicator, typ *mdp.MessageType, entry mdp.Block) {
	rptSeq := typ.EntryRptSeq(entry)
	if rptSeq != 0 {
		if rptSeq <= c.pending.RptSeq {
			return
		}
		if c.pending.RptSeq != 0 && rptSeq != c.pending.RptSeq+1 {
			c.gaps++
			slog.Debug("Instrument sequence gap",
				slog.Int("security_id", int(c.pending.SecurityID)),
				slog.String("feed", feed.String()),
				slog.Uint64("seq", seq),
				slog.Uint64("expected", uint64(c.pending.RptSeq)+1),
				slog.Uint64("rpt_seq", uint64(rptSeq)))
		}
		c.pending.RptSeq = rptSeq
	}

	price, hasPrice := typ.EntryPrice(entry)
	size := typ.EntrySize(entry)
	level := typ.EntryPriceLevel(entry)
	action := typ.EntryUpdateAction(entry)

	switch typ.EntryType(entry) {
	case mdp.EntryBid:
		if level <= 1 {
			c.applyLevel(&c.pending.BidPrice, &c.pending.BidSize, action, price, hasPrice, size)
		}
	case mdp.EntryOffer:
		if level <= 1 {
			c.applyLevel(&c.pending.OfferPrice, &c.pending.OfferSize, action, price, hasPrice, size)
		}
	case mdp.EntryTrade:
		if hasPrice {
			c.pending.LastTradePrice = price
			c.pending.LastTradeSize = size
		}
	default:
		return
	}
	c.dirty = true
}

func (c *Controller) applyLevel(price *decimal.Decimal, size *int32, action mdp.UpdateAction, px decimal.Decimal, hasPrice bool, sz int32) {
	switch action {
	case mdp.UpdateDelete, mdp.UpdateDeleteThru, mdp.UpdateDeleteFrom:
		*price = decimal.Zero
		*size = 0
	default:
		if hasPrice {
			*price = px
		}
		*size = sz
	}
}

// OnSnapshotFullRefresh replaces the instrument state with the snapshot and
// commits it.
func (c *Controller) OnSnapshotFullRefresh(_ domain.Feed, typ *mdp.MessageType, msg mdp.Message) {
	c.clearBook()
	c.pending.RptSeq = typ.RptSeq(msg)
	c.pending.TradingStatus = typ.TradingStatus(msg)

	if group, ok := msg.Group(0); ok {
		for group.Next() {
			entry := group.Entry()
			price, hasPrice := typ.EntryPrice(entry)
			if !hasPrice {
				continue
			}
			size := typ.EntrySize(entry)
			switch typ.EntryType(entry) {
			case mdp.EntryBid:
				if typ.EntryPriceLevel(entry) <= 1 {
					c.pending.BidPrice, c.pending.BidSize = price, size
				}
			case mdp.EntryOffer:
				if typ.EntryPriceLevel(entry) <= 1 {
					c.pending.OfferPrice, c.pending.OfferSize = price, size
				}
			case mdp.EntryTrade:
				c.pending.LastTradePrice, c.pending.LastTradeSize = price, size
			}
		}
	}
	c.dirty = true
	c.CommitEvent()
}

// OnSecurityStatus records a trading status change and commits it.
func (c *Controller) OnSecurityStatus(status uint8) {
	if status == 0 || status == c.pending.TradingStatus {
		return
	}
	c.pending.TradingStatus = status
	c.dirty = true
	c.CommitEvent()
}

// CommitEvent publishes the pending state if anything changed since the
// last commit.
func (c *Controller) CommitEvent() {
	if !c.dirty {
		return
	}
	c.dirty = false
	c.pending.UpdatedAt = c.now()
	c.committed = c.pending
	if c.onUpdate != nil {
		c.onUpdate(c.committed)
	}
}

// Reset drops all market state but keeps the definition. The cleared state
// is published.
func (c *Controller) Reset() {
	c.clearBook()
	c.pending.RptSeq = 0
	c.pending.TradingStatus = 0
	c.gaps = 0
	c.dirty = true
	c.CommitEvent()
}

func (c *Controller) clearBook() {
	c.pending.BidPrice, c.pending.BidSize = decimal.Zero, 0
	c.pending.OfferPrice, c.pending.OfferSize = decimal.Zero, 0
	c.pending.LastTradePrice, c.pending.LastTradeSize = decimal.Zero, 0
}
