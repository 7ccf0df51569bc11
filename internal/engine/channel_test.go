package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"mdp_go/internal/domain"
	"mdp_go/internal/event"
	"mdp_go/internal/infra"
	"mdp_go/internal/mdp"
	"mdp_go/internal/pktqueue"

	"github.com/stretchr/testify/require"
)

var (
	testSchema   = mdp.DefaultSchema()
	incrFeedA    = domain.Feed{Type: domain.FeedIncremental, Name: "A"}
	snapshotFeed = domain.Feed{Type: domain.FeedSnapshot, Name: "A"}
)

type fakeInstrument struct {
	id             int32
	applied        []uint64 // packet sequence of every applied entry
	commitsAtApply []int
	snapshots      int
	commits        int
	discard        bool
}

func (f *fakeInstrument) SecurityID() int32 { return f.id }

func (f *fakeInstrument) OnIncrementalRefresh(_ domain.Feed, seq uint64, _ mdp.MatchEventIndicator, _ *mdp.MessageType, _ mdp.Block) {
	if f.discard {
		return
	}
	f.applied = append(f.applied, seq)
	f.commitsAtApply = append(f.commitsAtApply, f.commits)
}

func (f *fakeInstrument) OnSnapshotFullRefresh(domain.Feed, *mdp.MessageType, mdp.Message) {
	f.snapshots++
}

func (f *fakeInstrument) CommitEvent() { f.commits++ }

type fakeContext struct {
	instruments map[int32]*fakeInstrument
	listeners   bool
	calls       []string
}

func newFakeContext(ids ...int32) *fakeContext {
	f := &fakeContext{instruments: make(map[int32]*fakeInstrument), listeners: true}
	for _, id := range ids {
		f.instruments[id] = &fakeInstrument{id: id}
	}
	return f
}

func (f *fakeContext) FindInstrumentController(id int32) InstrumentController {
	if inst, ok := f.instruments[id]; ok {
		return inst
	}
	return nil
}

func (f *fakeContext) ResetAllInstruments() { f.calls = append(f.calls, "reset_all") }

func (f *fakeContext) OnSecurityDefinition(domain.Feed, *mdp.MessageType, mdp.Message) {
	f.calls = append(f.calls, "definition")
}

func (f *fakeContext) OnSecurityStatus(domain.Feed, *mdp.MessageType, mdp.Message, mdp.MatchEventIndicator) {
	f.calls = append(f.calls, "status")
}

func (f *fakeContext) OnQuoteRequest(domain.Feed, *mdp.MessageType, mdp.Message) {
	f.calls = append(f.calls, "quote")
}

func (f *fakeContext) HasMdListeners() bool { return f.listeners }
func (f *fakeContext) StartSnapshotFeeds()  { f.calls = append(f.calls, "start_snapshot") }
func (f *fakeContext) StopSnapshotFeeds()   { f.calls = append(f.calls, "stop_snapshot") }
func (f *fakeContext) NotifyChannelReset()  { f.calls = append(f.calls, "reset") }

func (f *fakeContext) NotifyChannelResetFinished() {
	f.calls = append(f.calls, "reset_finished")
}

func (f *fakeContext) NotifyStateChange(from, to domain.ChannelState) {
	f.calls = append(f.calls, fmt.Sprintf("state:%s->%s", from, to))
}

func (f *fakeContext) called(name string) bool {
	for _, c := range f.calls {
		if c == name {
			return true
		}
	}
	return false
}

type fixture struct {
	c      *ChannelController
	ctx    *fakeContext
	events *event.InMemoryController
}

func newFixture(t testing.TB, opts Options, ids ...int32) *fixture {
	t.Helper()
	f := &fixture{ctx: newFakeContext(ids...), events: event.NewInMemoryController()}
	if opts.QueueSize == 0 {
		opts.QueueSize = 16
	}
	opts.Events = f.events
	opts.Metrics = &infra.Metrics{}
	c, err := NewChannelController(310, f.ctx, testSchema, opts)
	require.NoError(t, err)
	f.c = c
	return f
}

func bookPacket(seq uint64, mei mdp.MatchEventIndicator, secIDs ...int32) mdp.Packet {
	b := mdp.NewPacketBuilder(testSchema, seq, 0)
	w := b.Message(mdp.TemplateIncrementalBook).MatchEvent(mei)
	for i, id := range secIDs {
		w.Entry().Book(id, mdp.EntryBid, mdp.UpdateNew, 100_000_000_000, 1, uint32(i+1))
	}
	return b.Packet()
}

func resetPacket(seq uint64) mdp.Packet {
	b := mdp.NewPacketBuilder(testSchema, seq, 0)
	b.Message(mdp.TemplateChannelReset).MatchEvent(mdp.EndOfEvent).Entry().Type(mdp.EntryEmptyBook)
	return b.Packet()
}

func snapshotPacket(seq, marker uint64, total uint32, secID int32) mdp.Packet {
	b := mdp.NewPacketBuilder(testSchema, seq, 0)
	b.Message(mdp.TemplateSnapshotFullRefresh).Snapshot(marker, total, secID)
	return b.Packet()
}

func (f *fixture) deliver(seqs ...uint64) {
	for _, s := range seqs {
		f.c.HandleIncrementalPacket(incrFeedA, bookPacket(s, mdp.EndOfEvent, 100))
	}
}

func (f *fixture) deliverRange(from, to uint64) {
	for s := from; s <= to; s++ {
		f.deliver(s)
	}
}

func TestNewChannelControllerRejectsQueueSize(t *testing.T) {
	_, err := NewChannelController(1, newFakeContext(), testSchema, Options{QueueSize: 12})
	require.ErrorIs(t, err, domain.ErrInvalidQueueSize)
}

func TestInOrderDelivery(t *testing.T) {
	f := newFixture(t, Options{}, 100)
	require.Equal(t, domain.ChannelInitial, f.c.State())

	for seq := uint64(1); seq <= 20; seq++ {
		f.deliver(seq)
		require.Equal(t, seq, f.c.ProcessedSeq())
	}
	require.False(t, f.c.LastIncrementalReceived().IsZero())
}

func TestOutOfOrderScenario(t *testing.T) {
	f := newFixture(t, Options{}, 100)
	f.deliverRange(1, 4)
	require.Equal(t, uint64(4), f.c.ProcessedSeq())

	f.deliver(5)
	require.Equal(t, uint64(5), f.c.ProcessedSeq())
	f.deliver(6)
	require.Equal(t, uint64(6), f.c.ProcessedSeq())
	f.deliver(8)
	require.Equal(t, uint64(6), f.c.ProcessedSeq())
	f.deliver(7)
	require.Equal(t, uint64(8), f.c.ProcessedSeq())

	require.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8}, f.ctx.instruments[100].applied)
}

func TestReorderDrainAppliesAscendingOnce(t *testing.T) {
	f := newFixture(t, Options{}, 100)
	f.deliver(1, 6, 4, 5, 3, 4, 6)
	require.Equal(t, uint64(1), f.c.ProcessedSeq())
	require.Equal(t, 4, f.c.Status().Pending)

	f.deliver(2)
	require.Equal(t, uint64(6), f.c.ProcessedSeq())
	require.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, f.ctx.instruments[100].applied)
	require.Zero(t, f.c.Status().Pending)

	snap := f.c.metrics.Snapshot()
	require.Equal(t, uint64(2), snap.PacketsDuplicate)
	require.Equal(t, uint64(4), snap.PacketsDrained)
}

func TestReplayNeverMovesProcessedSeqBack(t *testing.T) {
	f := newFixture(t, Options{}, 100)
	f.deliver(1, 3, 2)
	require.Equal(t, uint64(3), f.c.ProcessedSeq())

	require.Equal(t, pktqueue.Empty, f.c.queue.Poll(3, f.c.scratch))
	require.Zero(t, f.c.processQueue(incrFeedA))

	f.deliver(2, 3, 1)
	require.Equal(t, uint64(3), f.c.ProcessedSeq())
	require.Equal(t, []uint64{1, 2, 3}, f.ctx.instruments[100].applied)
	require.Equal(t, uint64(3), f.c.metrics.Snapshot().PacketsStale)
}

func TestUnknownSecurityIsSkipped(t *testing.T) {
	f := newFixture(t, Options{}, 100)
	f.c.HandleIncrementalPacket(incrFeedA, bookPacket(1, mdp.EndOfEvent, 999, 100, 999))

	require.Equal(t, uint64(1), f.c.ProcessedSeq())
	require.Equal(t, []uint64{1}, f.ctx.instruments[100].applied)
	require.Equal(t, 1, f.ctx.instruments[100].commits)
}

func TestDispatchToCollaborators(t *testing.T) {
	f := newFixture(t, Options{})
	b := mdp.NewPacketBuilder(testSchema, 1, 0)
	b.Message(mdp.TemplateQuoteRequest)
	b.Message(mdp.TemplateSecurityStatus)
	b.Message(mdp.TemplateInstrumentDefFuture).Definition(100, "ESZ6", "ES", "ES")
	b.Message(mdp.TemplateAdminHeartbeat)
	f.c.HandleIncrementalPacket(incrFeedA, b.Packet())

	require.Equal(t, []string{"quote", "status", "definition"}, f.ctx.calls)
	require.Equal(t, uint64(1), f.c.ProcessedSeq())
}

func TestEventCommitAtBoundaryOnly(t *testing.T) {
	f := newFixture(t, Options{}, 100, 200)

	b := mdp.NewPacketBuilder(testSchema, 1, 0)
	b.Message(mdp.TemplateIncrementalBook).MatchEvent(mdp.LastQuoteMsg).Entry().Book(100, mdp.EntryBid, mdp.UpdateNew, 1, 1, 1)
	w := b.Message(mdp.TemplateIncrementalBook).MatchEvent(mdp.LastQuoteMsg)
	w.Entry().Book(200, mdp.EntryBid, mdp.UpdateNew, 1, 1, 1)
	w.Entry().Book(100, mdp.EntryOffer, mdp.UpdateNew, 1, 1, 2)
	f.c.HandleIncrementalPacket(incrFeedA, b.Packet())

	require.Zero(t, f.ctx.instruments[100].commits)
	require.Zero(t, f.ctx.instruments[200].commits)
	require.Equal(t, 2, f.events.Len())

	f.c.HandleIncrementalPacket(incrFeedA, bookPacket(2, mdp.LastQuoteMsg|mdp.EndOfEvent, 100, 100))

	require.Equal(t, 1, f.ctx.instruments[100].commits)
	require.Equal(t, 1, f.ctx.instruments[200].commits)
	require.Equal(t, []int{0, 0, 0, 0}, f.ctx.instruments[100].commitsAtApply)
	require.Zero(t, f.events.Len())
	require.Equal(t, uint64(2), f.c.metrics.Snapshot().EventCommits)
}

func TestNoEventBookkeepingWithoutListeners(t *testing.T) {
	f := newFixture(t, Options{}, 100)
	f.ctx.listeners = false

	f.c.HandleIncrementalPacket(incrFeedA, bookPacket(1, mdp.LastQuoteMsg, 100))
	require.Zero(t, f.events.Len())
	f.c.HandleIncrementalPacket(incrFeedA, bookPacket(2, mdp.EndOfEvent, 100))

	require.Zero(t, f.ctx.instruments[100].commits)
	require.Len(t, f.ctx.instruments[100].applied, 2)
}

func TestChannelResetCompleteness(t *testing.T) {
	f := newFixture(t, Options{}, 100)
	f.c.HandleSnapshotPacket(snapshotFeed, snapshotPacket(1, 2, 5, 100))
	require.Equal(t, uint64(2), f.c.SnapshotSeq())

	f.deliver(1, 2)
	f.c.HandleIncrementalPacket(incrFeedA, bookPacket(3, mdp.LastQuoteMsg, 100))
	f.deliver(9, 10)
	require.Equal(t, 1, f.events.Len())
	require.Equal(t, 2, f.c.Status().Pending)
	f.ctx.calls = nil

	f.c.HandleIncrementalPacket(incrFeedA, resetPacket(4))

	require.Zero(t, f.c.ProcessedSeq())
	require.Zero(t, f.c.SnapshotSeq())
	require.Zero(t, f.c.Status().Pending)
	require.False(t, f.c.queue.Exist(9))
	require.Zero(t, f.events.Len())
	require.Equal(t, domain.ChannelSync, f.c.State())
	require.Zero(t, f.ctx.instruments[100].commits)
	require.Equal(t, []string{"reset", "reset_all", "state:INITIAL->SYNC", "start_snapshot", "reset_finished"}, f.ctx.calls)
	require.False(t, f.c.resetInProgress)
	require.Equal(t, uint64(1), f.c.metrics.Snapshot().ChannelResets)
}

func TestResetKeepsIteratingPacketMessages(t *testing.T) {
	f := newFixture(t, Options{}, 100)

	b := mdp.NewPacketBuilder(testSchema, 1, 0)
	b.Message(mdp.TemplateChannelReset).Entry().Type(mdp.EntryEmptyBook)
	b.Message(mdp.TemplateIncrementalBook).MatchEvent(mdp.EndOfEvent).Entry().Book(100, mdp.EntryBid, mdp.UpdateNew, 1, 1, 1)
	f.c.HandleIncrementalPacket(incrFeedA, b.Packet())

	require.Equal(t, []uint64{1}, f.ctx.instruments[100].applied)
	require.Equal(t, 1, f.ctx.instruments[100].commits)
	require.Zero(t, f.c.ProcessedSeq())

	// After the reset the next packet in sequence is 1 again.
	f.deliver(1)
	require.Equal(t, uint64(1), f.c.ProcessedSeq())
}

func TestSnapshotCountdownInitialization(t *testing.T) {
	f := newFixture(t, Options{QueueSize: 64}, 100)
	f.deliverRange(1, 40)
	require.Equal(t, uint64(40), f.c.ProcessedSeq())

	f.c.HandleSnapshotPacket(snapshotFeed, snapshotPacket(1, 100, 10, 100))

	st := f.c.Status()
	require.Equal(t, int64(29), st.SnapshotCountdown)
	require.Equal(t, uint64(100), f.c.SnapshotSeq())
	require.Equal(t, 1, f.ctx.instruments[100].snapshots)
	require.Equal(t, uint64(40), f.c.ProcessedSeq())
}

func TestSnapshotCyclesAreConfigurable(t *testing.T) {
	f := newFixture(t, Options{SnapshotCycles: 5}, 100)
	f.c.HandleSnapshotPacket(snapshotFeed, snapshotPacket(1, 100, 10, 100))
	require.Equal(t, int64(49), f.c.Status().SnapshotCountdown)
}

func TestStaleSnapshotIgnored(t *testing.T) {
	f := newFixture(t, Options{}, 100)
	f.deliverRange(1, 5)

	f.c.HandleSnapshotPacket(snapshotFeed, snapshotPacket(1, 5, 10, 100))

	require.Equal(t, int64(-1), f.c.Status().SnapshotCountdown)
	require.Zero(t, f.c.SnapshotSeq())
	require.Zero(t, f.ctx.instruments[100].snapshots)
}

func TestUnknownSnapshotSecurityStillCounts(t *testing.T) {
	f := newFixture(t, Options{})
	f.c.HandleSnapshotPacket(snapshotFeed, snapshotPacket(1, 10, 2, 555))

	require.Equal(t, int64(5), f.c.Status().SnapshotCountdown)
	require.Equal(t, uint64(10), f.c.SnapshotSeq())
}

// recoveryFixture leaves the channel in INITIAL with increments 11..13
// buffered and a first snapshot cycle of one report reflecting sequence 10.
func recoveryFixture(t *testing.T, total uint32, buffered ...uint64) *fixture {
	f := newFixture(t, Options{SnapshotCycles: 1}, 100)
	f.deliver(buffered...)
	f.c.HandleSnapshotPacket(snapshotFeed, snapshotPacket(1, 10, total, 100))
	require.Equal(t, uint64(10), f.c.SnapshotSeq())
	f.ctx.calls = nil
	return f
}

func TestRecoveryStop(t *testing.T) {
	f := recoveryFixture(t, 1, 11, 12, 13)
	require.Zero(t, f.c.Status().SnapshotCountdown)

	f.c.HandleSnapshotPacket(snapshotFeed, snapshotPacket(1, 10, 1, 100))

	require.Equal(t, []string{"stop_snapshot", "state:INITIAL->SYNC", "state:SYNC->LIVE"}, f.ctx.calls)
	require.Equal(t, uint64(13), f.c.ProcessedSeq())
	require.Equal(t, domain.ChannelLive, f.c.State())
	require.Equal(t, 1, f.ctx.instruments[100].snapshots)
	require.Equal(t, []uint64{11, 12, 13}, f.ctx.instruments[100].applied)

	f.deliver(14)
	require.Equal(t, uint64(14), f.c.ProcessedSeq())
}

func TestRecoveryStopPreconditions(t *testing.T) {
	tests := []struct {
		name     string
		total    uint32
		buffered []uint64
		pktSeq   uint64
	}{
		{name: "not first packet of cycle", total: 1, buffered: []uint64{11, 12}, pktSeq: 2},
		{name: "countdown not exhausted", total: 2, buffered: []uint64{11, 12}, pktSeq: 1},
		{name: "next increment not buffered", total: 1, buffered: []uint64{12, 13}, pktSeq: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := recoveryFixture(t, tt.total, tt.buffered...)

			f.c.HandleSnapshotPacket(snapshotFeed, snapshotPacket(tt.pktSeq, 10, tt.total, 100))

			require.False(t, f.ctx.called("stop_snapshot"))
			require.Equal(t, domain.ChannelInitial, f.c.State())
			require.Zero(t, f.c.ProcessedSeq())
			require.Equal(t, 2, f.ctx.instruments[100].snapshots)
		})
	}
}

func TestUninitializedCountdownDoesNotStop(t *testing.T) {
	f := recoveryFixture(t, 1, 11)
	f.c.ResetSnapshotCycleCount()

	f.c.HandleSnapshotPacket(snapshotFeed, snapshotPacket(1, 10, 1, 100))

	require.False(t, f.ctx.called("stop_snapshot"))
	require.Equal(t, 2, f.ctx.instruments[100].snapshots)
	require.Zero(t, f.c.Status().SnapshotCountdown)
}

func TestStartRecoveryFromLive(t *testing.T) {
	f := recoveryFixture(t, 1, 11)
	f.c.HandleSnapshotPacket(snapshotFeed, snapshotPacket(1, 10, 1, 100))
	require.Equal(t, domain.ChannelLive, f.c.State())
	f.ctx.calls = nil

	f.c.StartRecovery()

	require.Equal(t, domain.ChannelSync, f.c.State())
	require.Equal(t, []string{"state:LIVE->SYNC", "start_snapshot"}, f.ctx.calls)
	require.Equal(t, int64(-1), f.c.Status().SnapshotCountdown)
}

func TestResetSnapshotCycleCount(t *testing.T) {
	f := newFixture(t, Options{}, 100)
	f.c.HandleSnapshotPacket(snapshotFeed, snapshotPacket(1, 10, 4, 100))
	require.Equal(t, int64(11), f.c.Status().SnapshotCountdown)

	f.c.ResetSnapshotCycleCount()
	require.Equal(t, int64(-1), f.c.Status().SnapshotCountdown)

	f.c.HandleSnapshotPacket(snapshotFeed, snapshotPacket(1, 10, 2, 100))
	require.Equal(t, int64(5), f.c.Status().SnapshotCountdown)
}

func TestResetDuringDrainStaysInSync(t *testing.T) {
	f := newFixture(t, Options{SnapshotCycles: 1}, 100)
	f.c.HandleIncrementalPacket(incrFeedA, resetPacket(11))
	f.deliver(12)
	f.c.HandleSnapshotPacket(snapshotFeed, snapshotPacket(1, 10, 1, 100))
	f.c.HandleSnapshotPacket(snapshotFeed, snapshotPacket(1, 10, 1, 100))

	require.True(t, f.ctx.called("reset"))
	require.Equal(t, domain.ChannelSync, f.c.State())
	require.Zero(t, f.c.ProcessedSeq())
	require.False(t, f.ctx.called("state:SYNC->LIVE"))
}

// liveFixture returns a LIVE channel with sequence 11 processed.
func liveFixture(t *testing.T) *fixture {
	f := recoveryFixture(t, 1, 11)
	f.c.HandleSnapshotPacket(snapshotFeed, snapshotPacket(1, 10, 1, 100))
	require.Equal(t, domain.ChannelLive, f.c.State())
	require.Equal(t, uint64(11), f.c.ProcessedSeq())
	f.ctx.calls = nil
	return f
}

func TestResetOnLiveResumesInOrder(t *testing.T) {
	f := liveFixture(t)

	f.c.HandleIncrementalPacket(incrFeedA, resetPacket(12))

	require.Equal(t, domain.ChannelSync, f.c.State())
	require.Equal(t, []string{"reset", "reset_all", "state:LIVE->SYNC", "start_snapshot", "reset_finished"}, f.ctx.calls)
	require.Equal(t, int64(-1), f.c.Status().SnapshotCountdown)
	f.ctx.calls = nil

	f.deliver(1)

	require.Equal(t, domain.ChannelLive, f.c.State())
	require.Equal(t, []string{"stop_snapshot", "state:SYNC->LIVE"}, f.ctx.calls)
	require.Equal(t, uint64(1), f.c.metrics.Snapshot().ChannelResets)

	f.deliverRange(2, 5)
	require.Equal(t, uint64(5), f.c.ProcessedSeq())
	require.Equal(t, []uint64{11, 1, 2, 3, 4, 5}, f.ctx.instruments[100].applied)
}

func TestResetResumesOnlyWithoutGap(t *testing.T) {
	f := liveFixture(t)
	f.c.HandleIncrementalPacket(incrFeedA, resetPacket(12))

	f.deliver(3)
	require.Equal(t, domain.ChannelSync, f.c.State())

	f.deliver(1)
	require.Equal(t, uint64(1), f.c.ProcessedSeq())
	require.Equal(t, domain.ChannelSync, f.c.State())
	require.False(t, f.ctx.called("stop_snapshot"))

	f.deliver(2)
	require.Equal(t, uint64(3), f.c.ProcessedSeq())
	require.Equal(t, domain.ChannelLive, f.c.State())
	require.True(t, f.ctx.called("stop_snapshot"))
}

func TestLiveGapBeyondWindowStartsRecovery(t *testing.T) {
	f := liveFixture(t)

	// 16 slots: 27 is the furthest sequence the window holds.
	f.deliver(27)
	require.Equal(t, domain.ChannelLive, f.c.State())
	require.True(t, f.c.queue.Exist(27))

	f.deliver(28)

	require.Equal(t, domain.ChannelSync, f.c.State())
	require.Equal(t, []string{"state:LIVE->SYNC", "start_snapshot"}, f.ctx.calls)
	require.True(t, f.c.queue.Exist(28))
	require.True(t, f.c.queue.Exist(27))
	require.Equal(t, uint64(11), f.c.ProcessedSeq())
}

func TestMalformedPacketCounted(t *testing.T) {
	f := newFixture(t, Options{}, 100)
	raw := bookPacket(1, mdp.EndOfEvent, 100).Bytes()
	raw = append(raw, 0xff, 0x00)
	pkt, err := mdp.NewPacket(raw)
	require.NoError(t, err)

	f.c.HandleIncrementalPacket(incrFeedA, pkt)

	require.Equal(t, uint64(1), f.c.ProcessedSeq())
	require.Equal(t, uint64(1), f.c.metrics.Snapshot().MalformedPackets)
}

func TestOversizePacketRejected(t *testing.T) {
	f := newFixture(t, Options{SlotSize: 64}, 100)
	f.c.HandleIncrementalPacket(incrFeedA, bookPacket(5, mdp.EndOfEvent, 100, 100, 100))

	require.Zero(t, f.c.Status().Pending)
	require.Equal(t, uint64(1), f.c.metrics.Snapshot().PacketsRejected)
}

func TestCloseIgnoresLaterPackets(t *testing.T) {
	f := newFixture(t, Options{}, 100)
	f.deliver(1)
	f.c.Close()
	f.c.Close()

	f.deliver(2)
	f.c.HandleSnapshotPacket(snapshotFeed, snapshotPacket(1, 10, 1, 100))
	f.c.StartRecovery()

	require.Equal(t, uint64(1), f.c.ProcessedSeq())
	require.Zero(t, f.ctx.instruments[100].snapshots)
	require.Empty(t, f.ctx.calls)
	require.Zero(t, f.c.Status().Pending)
}

func TestDumpState(t *testing.T) {
	f := newFixture(t, Options{}, 100)
	f.deliver(1, 2, 5)

	path := filepath.Join(t.TempDir(), "channel.json")
	require.NoError(t, f.c.DumpState(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var st ChannelStatus
	require.NoError(t, json.Unmarshal(b, &st))
	require.Equal(t, 310, st.ID)
	require.Equal(t, "INITIAL", st.State)
	require.Equal(t, uint64(2), st.ProcessedSeq)
	require.Equal(t, 1, st.Pending)
}

func TestConcurrentFeeds(t *testing.T) {
	f := newFixture(t, Options{QueueSize: 256}, 100)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.deliverRange(1, 200)
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			f.c.HandleSnapshotPacket(snapshotFeed, snapshotPacket(uint64(i%10+2), 1, 10, 100))
			_ = f.c.ProcessedSeq()
			_ = f.c.State()
		}
	}()
	wg.Wait()

	require.Equal(t, uint64(200), f.c.ProcessedSeq())
	require.Len(t, f.ctx.instruments[100].applied, 200)
}

func TestInstrumentPacketForwardsDefinitionsOnly(t *testing.T) {
	f := newFixture(t, Options{})
	b := mdp.NewPacketBuilder(testSchema, 77, 0)
	b.Message(mdp.TemplateInstrumentDefFuture).Definition(100, "ESZ6", "ES", "ES")
	b.Message(mdp.TemplateSecurityStatus)
	b.Message(mdp.TemplateInstrumentDefFuture).Definition(200, "NQZ6", "NQ", "NQ")

	f.c.HandleInstrumentPacket(domain.Feed{Type: domain.FeedInstrumentDef, Name: "A"}, b.Packet())

	require.Equal(t, []string{"definition", "definition"}, f.ctx.calls)
	require.Zero(t, f.c.ProcessedSeq())
	require.Equal(t, uint64(1), f.c.metrics.Snapshot().InstrumentPackets)
}
