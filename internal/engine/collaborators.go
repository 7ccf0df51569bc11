package engine

import (
	"mdp_go/internal/domain"
	"mdp_go/internal/mdp"
)

// InstrumentController applies market data to the state of one instrument.
type InstrumentController interface {
	SecurityID() int32
	// OnIncrementalRefresh applies one incremental group entry.
	OnIncrementalRefresh(feed domain.Feed, seq uint64, mei mdp.MatchEventIndicator, typ *mdp.MessageType, entry mdp.Block)
	// OnSnapshotFullRefresh overwrites the instrument state with a snapshot.
	OnSnapshotFullRefresh(feed domain.Feed, typ *mdp.MessageType, msg mdp.Message)
	// CommitEvent publishes the updates applied since the last commit.
	CommitEvent()
}

// ChannelContext is everything a ChannelController needs from the rest of
// the feed handler. All methods are called with the channel lock held and
// must not block.
type ChannelContext interface {
	// FindInstrumentController returns nil for unknown securities.
	FindInstrumentController(securityID int32) InstrumentController
	ResetAllInstruments()

	OnSecurityDefinition(feed domain.Feed, typ *mdp.MessageType, msg mdp.Message)
	OnSecurityStatus(feed domain.Feed, typ *mdp.MessageType, msg mdp.Message, mei mdp.MatchEventIndicator)
	OnQuoteRequest(feed domain.Feed, typ *mdp.MessageType, msg mdp.Message)

	// HasMdListeners gates event batching. Without subscribers nothing is
	// logged or committed.
	HasMdListeners() bool

	StartSnapshotFeeds()
	StopSnapshotFeeds()

	NotifyChannelReset()
	NotifyChannelResetFinished()
	NotifyStateChange(from, to domain.ChannelState)
}
