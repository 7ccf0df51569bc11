package service

import (
	"context"
	"sort"
	"sync"

	"mdp_go/internal/domain"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// BoardEntry is the last committed state of an instrument with derived
// prices.
type BoardEntry struct {
	domain.MarketState
	Mid    *decimal.Decimal `json:"mid,omitempty"`
	Spread *decimal.Decimal `json:"spread,omitempty"`
}

// MarketBoard keeps the last committed state of every instrument. Commits
// arrive through Publish, which never blocks the channel that commits.
// Commits not yet applied are coalesced per security, the latest wins.
type MarketBoard struct {
	mu      sync.RWMutex
	entries map[int32]*BoardEntry

	pmu     sync.Mutex
	pending map[int32]domain.MarketState
	order   []int32 // pending securities in first-publish order
	signal  chan struct{}

	onUpdate func(BoardEntry)
}

// NewMarketBoard creates an empty board. onUpdate, if set, is called from
// the processor goroutine after each update.
func NewMarketBoard(onUpdate func(BoardEntry)) *MarketBoard {
	return &MarketBoard{
		entries:  make(map[int32]*BoardEntry),
		pending:  make(map[int32]domain.MarketState),
		signal:   make(chan struct{}, 1),
		onUpdate: onUpdate,
	}
}

// Publish records a committed state for the processor. A state still
// pending for the same security is replaced.
func (b *MarketBoard) Publish(state domain.MarketState) {
	b.pmu.Lock()
	if _, ok := b.pending[state.SecurityID]; !ok {
		b.order = append(b.order, state.SecurityID)
	}
	b.pending[state.SecurityID] = state
	b.pmu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// StartProcessor starts a background goroutine applying published states.
func (b *MarketBoard) StartProcessor(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.signal:
				b.drain()
			}
		}
	}()
}

func (b *MarketBoard) drain() {
	b.pmu.Lock()
	pending, order := b.pending, b.order
	b.pending = make(map[int32]domain.MarketState, len(pending))
	b.order = nil
	b.pmu.Unlock()

	for _, id := range order {
		entry := b.Apply(pending[id])
		if b.onUpdate != nil {
			b.onUpdate(entry)
		}
	}
}

// Apply stores state and returns the resulting entry.
func (b *MarketBoard) Apply(state domain.MarketState) BoardEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[state.SecurityID]
	if !ok {
		entry = &BoardEntry{}
		b.entries[state.SecurityID] = entry
	}
	entry.MarketState = state
	entry.Mid, entry.Spread = nil, nil
	if state.HasBid() && state.HasOffer() {
		mid := state.BidPrice.Add(state.OfferPrice).Div(two)
		spread := state.OfferPrice.Sub(state.BidPrice)
		entry.Mid, entry.Spread = &mid, &spread
	}
	return *entry
}

// GetAllData returns all entries sorted by symbol, then security id.
func (b *MarketBoard) GetAllData() []BoardEntry {
	b.mu.RLock()
	result := make([]BoardEntry, 0, len(b.entries))
	for _, e := range b.entries {
		result = append(result, *e)
	}
	b.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Symbol != result[j].Symbol {
			return result[i].Symbol < result[j].Symbol
		}
		return result[i].SecurityID < result[j].SecurityID
	})
	return result
}

// GetData returns the entry of a security.
func (b *MarketBoard) GetData(securityID int32) (BoardEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entries[securityID]
	if !ok {
		return BoardEntry{}, false
	}
	return *e, true
}
