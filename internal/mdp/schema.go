package mdp

import "github.com/shopspring/decimal"

// SemanticType is the FIX message type a template maps to. The channel core
// dispatches on it.
type SemanticType uint8

const (
	SemanticUnknown SemanticType = iota
	SemanticIncrementalRefresh
	SemanticSnapshotFullRefresh
	SemanticQuoteRequest
	SemanticSecurityStatus
	SemanticSecurityDefinition
	SemanticHeartbeat

	SemanticCount
)

func (s SemanticType) String() string {
	switch s {
	case SemanticIncrementalRefresh:
		return "MarketDataIncrementalRefresh"
	case SemanticSnapshotFullRefresh:
		return "MarketDataSnapshotFullRefresh"
	case SemanticQuoteRequest:
		return "QuoteRequest"
	case SemanticSecurityStatus:
		return "SecurityStatus"
	case SemanticSecurityDefinition:
		return "SecurityDefinition"
	case SemanticHeartbeat:
		return "Heartbeat"
	default:
		return "Unknown"
	}
}

// NoField marks a field that the template does not carry.
const NoField = -1

// MessageType describes one SBE template: its semantic type and the offsets
// of the fields used by the channel core and the instrument collaborators.
type MessageType struct {
	TemplateID  uint16
	Name        string
	Semantic    SemanticType
	BlockLength uint16

	// Root block fields.
	MatchEventOffset       int
	SecurityIDOffset       int
	LastSeqProcessedOffset int
	TotNumReportsOffset    int
	RptSeqOffset           int
	TradingStatusOffset    int
	SymbolOffset           int
	SecurityGroupOffset    int
	AssetOffset            int

	// First repeating group.
	EntryBlockLength        uint16
	EntryTypeOffset         int
	EntryTypeImplied        EntryType
	EntrySecurityIDOffset   int
	EntryPriceOffset        int
	EntrySizeOffset         int
	EntryRptSeqOffset       int
	EntryPriceLevelOffset   int
	EntryUpdateActionOffset int
}

func (t *MessageType) rootInt32(m Message, off int) int32 {
	if off == NoField {
		return 0
	}
	return m.Root().Int32(off)
}

// MatchEventIndicator returns the indicator of m, zero if the template has none.
func (t *MessageType) MatchEventIndicator(m Message) MatchEventIndicator {
	if t.MatchEventOffset == NoField {
		return 0
	}
	return MatchEventIndicator(m.Root().Uint8(t.MatchEventOffset))
}

// SecurityID returns the root-level security id (tag 48).
func (t *MessageType) SecurityID(m Message) int32 {
	return t.rootInt32(m, t.SecurityIDOffset)
}

// LastMsgSeqNumProcessed returns tag 369, the last incremental sequence
// reflected in a snapshot.
func (t *MessageType) LastMsgSeqNumProcessed(m Message) uint64 {
	if t.LastSeqProcessedOffset == NoField {
		return 0
	}
	return uint64(m.Root().Uint32(t.LastSeqProcessedOffset))
}

// TotNumReports returns tag 911, the number of reports in a snapshot or
// definition cycle.
func (t *MessageType) TotNumReports(m Message) uint32 {
	if t.TotNumReportsOffset == NoField {
		return 0
	}
	return m.Root().Uint32(t.TotNumReportsOffset)
}

// RptSeq returns the root-level instrument sequence (tag 83).
func (t *MessageType) RptSeq(m Message) uint32 {
	if t.RptSeqOffset == NoField {
		return 0
	}
	return m.Root().Uint32(t.RptSeqOffset)
}

// TradingStatus returns the security trading status, zero if absent.
func (t *MessageType) TradingStatus(m Message) uint8 {
	if t.TradingStatusOffset == NoField {
		return 0
	}
	return m.Root().Uint8(t.TradingStatusOffset)
}

func (t *MessageType) Symbol(m Message) string {
	if t.SymbolOffset == NoField {
		return ""
	}
	return m.Root().String(t.SymbolOffset, 20)
}

func (t *MessageType) SecurityGroup(m Message) string {
	if t.SecurityGroupOffset == NoField {
		return ""
	}
	return m.Root().String(t.SecurityGroupOffset, 6)
}

func (t *MessageType) Asset(m Message) string {
	if t.AssetOffset == NoField {
		return ""
	}
	return m.Root().String(t.AssetOffset, 6)
}

// EntryType returns the entry type of a group entry.
func (t *MessageType) EntryType(e Block) EntryType {
	if t.EntryTypeOffset == NoField {
		return t.EntryTypeImplied
	}
	return EntryType(e.Char(t.EntryTypeOffset))
}

// EntrySecurityID returns the security id of a group entry.
func (t *MessageType) EntrySecurityID(e Block) int32 {
	if t.EntrySecurityIDOffset == NoField {
		return 0
	}
	return e.Int32(t.EntrySecurityIDOffset)
}

// EntryPrice returns the entry price, false when absent or null.
func (t *MessageType) EntryPrice(e Block) (decimal.Decimal, bool) {
	if t.EntryPriceOffset == NoField {
		return decimal.Zero, false
	}
	return Price9(e.Int64(t.EntryPriceOffset))
}

func (t *MessageType) EntrySize(e Block) int32 {
	if t.EntrySizeOffset == NoField {
		return 0
	}
	return e.Int32(t.EntrySizeOffset)
}

func (t *MessageType) EntryRptSeq(e Block) uint32 {
	if t.EntryRptSeqOffset == NoField {
		return 0
	}
	return e.Uint32(t.EntryRptSeqOffset)
}

func (t *MessageType) EntryPriceLevel(e Block) uint8 {
	if t.EntryPriceLevelOffset == NoField {
		return 0
	}
	return e.Uint8(t.EntryPriceLevelOffset)
}

func (t *MessageType) EntryUpdateAction(e Block) UpdateAction {
	if t.EntryUpdateActionOffset == NoField {
		return UpdateNew
	}
	return UpdateAction(e.Uint8(t.EntryUpdateActionOffset))
}

// Schema resolves template ids to message types.
type Schema struct {
	ID    uint16
	types map[uint16]*MessageType
}

// NewSchema builds a schema from the given message types.
func NewSchema(id uint16, types ...*MessageType) *Schema {
	s := &Schema{ID: id, types: make(map[uint16]*MessageType, len(types))}
	for _, t := range types {
		s.types[t.TemplateID] = t
	}
	return s
}

// Lookup returns the message type of a template, nil if unknown.
func (s *Schema) Lookup(templateID uint16) *MessageType {
	return s.types[templateID]
}

// Template ids of the CME MDP 3.0 templates known to DefaultSchema.
const (
	TemplateChannelReset        uint16 = 4
	TemplateAdminHeartbeat      uint16 = 12
	TemplateSecurityStatus      uint16 = 30
	TemplateQuoteRequest        uint16 = 39
	TemplateIncrementalBook     uint16 = 46
	TemplateIncrementalTrade    uint16 = 48
	TemplateSnapshotFullRefresh uint16 = 52
	TemplateInstrumentDefFuture uint16 = 54
)

func blank(id uint16, name string, sem SemanticType, blockLen uint16) *MessageType {
	return &MessageType{
		TemplateID:              id,
		Name:                    name,
		Semantic:                sem,
		BlockLength:             blockLen,
		MatchEventOffset:        NoField,
		SecurityIDOffset:        NoField,
		LastSeqProcessedOffset:  NoField,
		TotNumReportsOffset:     NoField,
		RptSeqOffset:            NoField,
		TradingStatusOffset:     NoField,
		SymbolOffset:            NoField,
		SecurityGroupOffset:     NoField,
		AssetOffset:             NoField,
		EntryTypeOffset:         NoField,
		EntrySecurityIDOffset:   NoField,
		EntryPriceOffset:        NoField,
		EntrySizeOffset:         NoField,
		EntryRptSeqOffset:       NoField,
		EntryPriceLevelOffset:   NoField,
		EntryUpdateActionOffset: NoField,
	}
}

// DefaultSchema returns the subset of the CME MDP 3.0 schema (id 1) used by
// the feed handler.
func DefaultSchema() *Schema {
	reset := blank(TemplateChannelReset, "ChannelReset4", SemanticIncrementalRefresh, 9)
	reset.MatchEventOffset = 8
	reset.EntryBlockLength = 2
	reset.EntryTypeOffset = 0

	heartbeat := blank(TemplateAdminHeartbeat, "AdminHeartbeat12", SemanticHeartbeat, 0)

	status := blank(TemplateSecurityStatus, "SecurityStatus30", SemanticSecurityStatus, 30)
	status.SecurityGroupOffset = 8
	status.AssetOffset = 14
	status.SecurityIDOffset = 20
	status.MatchEventOffset = 26
	status.TradingStatusOffset = 27

	quote := blank(TemplateQuoteRequest, "QuoteRequest39", SemanticQuoteRequest, 35)
	quote.MatchEventOffset = 31
	quote.EntryBlockLength = 32
	quote.EntrySecurityIDOffset = 20
	quote.EntrySizeOffset = 24

	book := blank(TemplateIncrementalBook, "MDIncrementalRefreshBook46", SemanticIncrementalRefresh, 11)
	book.MatchEventOffset = 8
	book.EntryBlockLength = 32
	book.EntryPriceOffset = 0
	book.EntrySizeOffset = 8
	book.EntrySecurityIDOffset = 12
	book.EntryRptSeqOffset = 16
	book.EntryPriceLevelOffset = 24
	book.EntryUpdateActionOffset = 25
	book.EntryTypeOffset = 26

	trade := blank(TemplateIncrementalTrade, "MDIncrementalRefreshTradeSummary48", SemanticIncrementalRefresh, 11)
	trade.MatchEventOffset = 8
	trade.EntryBlockLength = 32
	trade.EntryPriceOffset = 0
	trade.EntrySizeOffset = 8
	trade.EntrySecurityIDOffset = 12
	trade.EntryRptSeqOffset = 16
	trade.EntryUpdateActionOffset = 25
	trade.EntryTypeImplied = EntryTrade

	snapshot := blank(TemplateSnapshotFullRefresh, "SnapshotFullRefresh52", SemanticSnapshotFullRefresh, 59)
	snapshot.LastSeqProcessedOffset = 0
	snapshot.TotNumReportsOffset = 4
	snapshot.SecurityIDOffset = 8
	snapshot.RptSeqOffset = 12
	snapshot.TradingStatusOffset = 34
	snapshot.EntryBlockLength = 22
	snapshot.EntryPriceOffset = 0
	snapshot.EntrySizeOffset = 8
	snapshot.EntryPriceLevelOffset = 16
	snapshot.EntryTypeOffset = 21

	future := blank(TemplateInstrumentDefFuture, "MDInstrumentDefinitionFuture54", SemanticSecurityDefinition, 224)
	future.MatchEventOffset = 0
	future.TotNumReportsOffset = 1
	future.TradingStatusOffset = 14
	future.SecurityGroupOffset = 23
	future.AssetOffset = 29
	future.SymbolOffset = 35
	future.SecurityIDOffset = 55

	return NewSchema(1, reset, heartbeat, status, quote, book, trade, snapshot, future)
}
