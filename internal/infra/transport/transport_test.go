package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mdp_go/internal/domain"
	"mdp_go/internal/infra"
	"mdp_go/internal/mdp"
)

var snapFeed = domain.Feed{Type: domain.FeedSnapshot, Name: "A"}

type collector struct {
	mu   sync.Mutex
	seqs []uint64
}

func (c *collector) handle(_ domain.Feed, pkt mdp.Packet) {
	c.mu.Lock()
	c.seqs = append(c.seqs, pkt.SeqNum())
	c.mu.Unlock()
}

func (c *collector) received() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.seqs...)
}

func send(t *testing.T, to *net.UDPAddr, payloads ...[]byte) {
	t.Helper()
	conn, err := net.DialUDP("udp4", nil, to)
	require.NoError(t, err)
	defer conn.Close()
	for _, p := range payloads {
		_, err := conn.Write(p)
		require.NoError(t, err)
	}
}

func packetBytes(seq uint64) []byte {
	b := mdp.NewPacketBuilder(mdp.DefaultSchema(), seq, 0)
	b.Message(mdp.TemplateAdminHeartbeat)
	return b.Bytes()
}

func TestReceiverLoopback(t *testing.T) {
	m := &infra.Metrics{}
	c := &collector{}
	r := NewReceiver(ReceiverConfig{Feed: snapFeed, Addr: "127.0.0.1:0"}, c.handle, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-r.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never became ready")
	}
	require.Equal(t, int32(1), m.Snapshot().ActiveReceivers)

	send(t, r.LocalAddr(), packetBytes(7), []byte{1, 2, 3}, packetBytes(8))
	require.Eventually(t, func() bool { return len(c.received()) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []uint64{7, 8}, c.received())
	require.Equal(t, uint64(1), m.Snapshot().MalformedPackets)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not stop")
	}
	require.Zero(t, m.Snapshot().ActiveReceivers)
}

func TestReceiverRejectsSecondRun(t *testing.T) {
	r := NewReceiver(ReceiverConfig{Feed: snapFeed, Addr: "127.0.0.1:0"}, func(domain.Feed, mdp.Packet) {}, &infra.Metrics{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	<-r.Ready()

	require.Error(t, r.Run(ctx))
}

func TestReceiverBadAddressIsFatal(t *testing.T) {
	r := NewReceiver(ReceiverConfig{Feed: snapFeed, Addr: "no-port"}, func(domain.Feed, mdp.Packet) {}, &infra.Metrics{})

	err := r.Run(context.Background())
	require.Error(t, err)
	var netErr *domain.NetworkError
	require.True(t, errors.As(err, &netErr))
	require.Equal(t, "resolve", netErr.Op)
	require.False(t, domain.IsRetriable(err))
}

type brokenConn struct {
	closed atomic.Bool
}

func (c *brokenConn) ReadFromUDP([]byte) (int, *net.UDPAddr, error) {
	return 0, nil, errors.New("interface went down")
}

func (c *brokenConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
}

func (c *brokenConn) Close() error {
	c.closed.Store(true)
	return nil
}

func TestReceiverReadErrorIsRetriable(t *testing.T) {
	m := &infra.Metrics{}
	r := NewReceiver(ReceiverConfig{Feed: snapFeed, Addr: "127.0.0.1:0"}, func(domain.Feed, mdp.Packet) {}, m)
	conn := &brokenConn{}

	err := r.serve(context.Background(), conn)

	var netErr *domain.NetworkError
	require.True(t, errors.As(err, &netErr))
	require.Equal(t, "read", netErr.Op)
	require.True(t, domain.IsRetriable(err))
	require.True(t, conn.closed.Load())
	require.Zero(t, m.Snapshot().ActiveReceivers)
}

func TestReceiverReopensAfterReadError(t *testing.T) {
	c := &collector{}
	r := NewReceiver(ReceiverConfig{Feed: snapFeed, Addr: "127.0.0.1:0"}, c.handle, &infra.Metrics{})
	var opens atomic.Int32
	r.open = func() (datagramConn, error) {
		if opens.Add(1) == 1 {
			return &brokenConn{}, nil
		}
		conn, err := r.listen()
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		addr := r.LocalAddr()
		return opens.Load() == 2 && addr != nil && addr.Port != 1
	}, 3*time.Second, 10*time.Millisecond)

	send(t, r.LocalAddr(), packetBytes(7))
	require.Eventually(t, func() bool { return len(c.received()) == 1 }, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.Equal(t, int32(2), opens.Load())
}

func TestNewFeedReceiversOrdersLines(t *testing.T) {
	lines := infra.FeedPair{A: "224.0.31.1:14310", B: "224.0.32.1:15310"}.Lines()
	rs := NewFeedReceivers(domain.FeedIncremental, lines, infra.NetworkConfig{Interface: "eth1", ReadBuffer: 1 << 20}, func(domain.Feed, mdp.Packet) {}, nil)

	require.Len(t, rs, 2)
	require.Equal(t, "incremental/A", rs[0].Feed().String())
	require.Equal(t, "incremental/B", rs[1].Feed().String())
	require.Equal(t, "eth1", rs[1].cfg.Interface)
}

func TestSwitchStartStop(t *testing.T) {
	m := &infra.Metrics{}
	c := &collector{}
	r := NewReceiver(ReceiverConfig{Feed: snapFeed, Addr: "127.0.0.1:0"}, c.handle, m)
	s := NewSwitch("snapshot-310", r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.False(t, s.Active())
	s.Start()
	require.Eventually(t, func() bool { return s.Active() && r.LocalAddr() != nil && m.Snapshot().ActiveReceivers == 1 },
		2*time.Second, 10*time.Millisecond)

	send(t, r.LocalAddr(), packetBytes(1))
	require.Eventually(t, func() bool { return len(c.received()) == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	require.Eventually(t, func() bool { return !s.Active() && m.Snapshot().ActiveReceivers == 0 },
		2*time.Second, 10*time.Millisecond)

	s.Start()
	require.Eventually(t, func() bool { return s.Active() && m.Snapshot().ActiveReceivers == 1 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.False(t, s.Active())
}
