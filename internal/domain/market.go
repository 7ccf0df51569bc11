package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketState is the committed top of book of one instrument.
// Fields are ordered for cache-line efficiency: hot fields (prices/sizes) first.
type MarketState struct {
	BidPrice       decimal.Decimal `json:"bid_price"`
	BidSize        int32           `json:"bid_size"`
	OfferPrice     decimal.Decimal `json:"offer_price"`
	OfferSize      int32           `json:"offer_size"`
	LastTradePrice decimal.Decimal `json:"last_trade_price"`
	LastTradeSize  int32           `json:"last_trade_size"`
	RptSeq         uint32          `json:"rpt_seq"`
	UpdatedAt      time.Time       `json:"updated_at"`

	// Cold fields
	SecurityID    int32  `json:"security_id"`
	ChannelID     int    `json:"channel_id"`
	Symbol        string `json:"symbol"`
	TradingStatus uint8  `json:"trading_status"`
}

// HasBid reports whether the bid side is populated.
func (s MarketState) HasBid() bool {
	return s.BidSize > 0
}

// HasOffer reports whether the offer side is populated.
func (s MarketState) HasOffer() bool {
	return s.OfferSize > 0
}
