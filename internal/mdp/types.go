package mdp

import (
	"math"

	"github.com/shopspring/decimal"
)

// MatchEventIndicator is the bitset carried by incremental messages.
type MatchEventIndicator uint8

const (
	LastTradeMsg   MatchEventIndicator = 1 << 0
	LastVolumeMsg  MatchEventIndicator = 1 << 1
	LastQuoteMsg   MatchEventIndicator = 1 << 2
	LastStatsMsg   MatchEventIndicator = 1 << 3
	LastImpliedMsg MatchEventIndicator = 1 << 4
	RecoveryMsg    MatchEventIndicator = 1 << 5
	EndOfEvent     MatchEventIndicator = 1 << 7
)

// HasEndOfEvent reports whether the message closes the current market event.
func (m MatchEventIndicator) HasEndOfEvent() bool {
	return m&EndOfEvent != 0
}

// EntryType is the FIX MDEntryType (tag 269).
type EntryType byte

const (
	EntryBid             EntryType = '0'
	EntryOffer           EntryType = '1'
	EntryTrade           EntryType = '2'
	EntryOpenPrice       EntryType = '4'
	EntrySettlementPrice EntryType = '6'
	EntryTradingHigh     EntryType = '7'
	EntryTradingLow      EntryType = '8'
	EntryTradeVolume     EntryType = 'B'
	EntryOpenInterest    EntryType = 'C'
	EntryImpliedBid      EntryType = 'E'
	EntryImpliedOffer    EntryType = 'F'
	EntryEmptyBook       EntryType = 'J'
	EntrySessionHigh     EntryType = 'N'
	EntrySessionLow      EntryType = 'O'
	EntryFixingPrice     EntryType = 'W'
	EntryElectronicVol   EntryType = 'e'
	EntryThresholdLimits EntryType = 'g'
)

// UpdateAction is the FIX MDUpdateAction (tag 279).
type UpdateAction uint8

const (
	UpdateNew UpdateAction = iota
	UpdateChange
	UpdateDelete
	UpdateDeleteThru
	UpdateDeleteFrom
	UpdateOverlay
)

// PriceNull9 is the null value of the PRICENULL9 composite.
const PriceNull9 = math.MaxInt64

// Price9 converts a PRICE9 mantissa (exponent -9) to a decimal. The second
// result is false for the null value.
func Price9(mantissa int64) (decimal.Decimal, bool) {
	if mantissa == PriceNull9 {
		return decimal.Zero, false
	}
	return decimal.New(mantissa, -9), true
}

// ToPrice9 converts a decimal price to a PRICE9 mantissa.
func ToPrice9(price decimal.Decimal) int64 {
	return price.Shift(9).IntPart()
}
