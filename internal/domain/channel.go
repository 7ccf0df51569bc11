package domain

// ChannelState is the recovery state of a market data channel.
type ChannelState int32

const (
	// ChannelInitial means the channel was created and no recovery has happened yet.
	ChannelInitial ChannelState = iota
	// ChannelSync means the channel is reconciling through the snapshot feed
	// while live increments are queued.
	ChannelSync
	// ChannelLive means buffered increments were drained after recovery and the
	// incremental feed is applied as it arrives.
	ChannelLive
)

func (s ChannelState) String() string {
	switch s {
	case ChannelInitial:
		return "INITIAL"
	case ChannelSync:
		return "SYNC"
	case ChannelLive:
		return "LIVE"
	default:
		return "UNKNOWN"
	}
}

// FeedType identifies one of the multicast feeds that make up a channel.
type FeedType uint8

const (
	FeedIncremental FeedType = iota
	FeedSnapshot
	FeedInstrumentDef
)

func (t FeedType) String() string {
	switch t {
	case FeedIncremental:
		return "incremental"
	case FeedSnapshot:
		return "snapshot"
	case FeedInstrumentDef:
		return "instrument"
	default:
		return "unknown"
	}
}

// Feed names a single multicast line, e.g. incremental feed A.
type Feed struct {
	Type FeedType
	Name string // "A" or "B"
}

func (f Feed) String() string {
	return f.Type.String() + "/" + f.Name
}
