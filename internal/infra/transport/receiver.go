package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"

	"mdp_go/internal/domain"
	"mdp_go/internal/infra"
	"mdp_go/internal/mdp"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// Handler receives every framed datagram. The packet aliases the receive
// buffer and must not be retained after the call returns.
type Handler func(feed domain.Feed, pkt mdp.Packet)

// ReceiverConfig describes one feed line.
type ReceiverConfig struct {
	Feed       domain.Feed
	Addr       string // group:port for multicast, host:port otherwise
	Interface  string // multicast interface name, empty for the system default
	ReadBuffer int    // SO_RCVBUF in bytes, 0 keeps the OS default
}

type datagramConn interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	LocalAddr() net.Addr
	Close() error
}

// Receiver reads datagrams from a single UDP line and hands them to a Handler.
type Receiver struct {
	cfg     ReceiverConfig
	handler Handler
	metrics *infra.Metrics
	log     *slog.Logger
	open    func() (datagramConn, error)

	running   atomic.Bool
	local     atomic.Pointer[net.UDPAddr]
	ready     chan struct{}
	readyOnce sync.Once
}

// NewReceiver creates a receiver. It does not open the socket until Run.
func NewReceiver(cfg ReceiverConfig, h Handler, m *infra.Metrics) *Receiver {
	if m == nil {
		m = infra.GlobalMetrics
	}
	r := &Receiver{
		cfg:     cfg,
		handler: h,
		metrics: m,
		log:     slog.Default().With(slog.String("feed", cfg.Feed.String()), slog.String("addr", cfg.Addr)),
		ready:   make(chan struct{}),
	}
	r.open = func() (datagramConn, error) {
		conn, err := r.listen()
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return r
}

// Feed returns the line this receiver listens on.
func (r *Receiver) Feed() domain.Feed { return r.cfg.Feed }

// Ready is closed once the socket has been opened for the first time.
func (r *Receiver) Ready() <-chan struct{} { return r.ready }

// LocalAddr returns the bound address, nil before the socket is open.
func (r *Receiver) LocalAddr() *net.UDPAddr { return r.local.Load() }

// Run opens the socket and reads until ctx is cancelled. Retriable socket
// errors, on open or on read, reopen the socket with exponential backoff.
func (r *Receiver) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("receiver %s already running", r.cfg.Feed)
	}
	defer r.running.Store(false)

	backoff := initialBackoff
	for {
		conn, err := r.open()
		if err == nil {
			backoff = initialBackoff
			if err = r.serve(ctx, conn); err == nil {
				return nil
			}
		}
		if !domain.IsRetriable(err) {
			return err
		}
		r.log.Warn("Receiver socket failed, retrying",
			slog.Duration("backoff", backoff),
			slog.Any("error", err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (r *Receiver) listen() (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp4", r.cfg.Addr)
	if err != nil {
		return nil, domain.NewFatalNetworkError("resolve", r.cfg.Addr, err)
	}

	var ifi *net.Interface
	if r.cfg.Interface != "" {
		ifi, err = net.InterfaceByName(r.cfg.Interface)
		if err != nil {
			return nil, domain.NewFatalNetworkError("interface", r.cfg.Interface, err)
		}
	}

	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, domain.NewNetworkError("listen", r.cfg.Addr, err)
	}

	if addr.IP.IsMulticast() {
		p := ipv4.NewPacketConn(conn)
		if err := p.JoinGroup(ifi, &net.UDPAddr{IP: addr.IP}); err != nil {
			conn.Close()
			return nil, domain.NewNetworkError("join", r.cfg.Addr, err)
		}
	}

	if r.cfg.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(r.cfg.ReadBuffer); err != nil {
			r.log.Warn("Failed to set read buffer", slog.Int("bytes", r.cfg.ReadBuffer), slog.Any("error", err))
		}
	}
	return conn, nil
}

// serve reads until ctx is cancelled or the socket fails. A read failure is
// returned as a retriable NetworkError so Run reopens the socket.
func (r *Receiver) serve(ctx context.Context, conn datagramConn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	r.metrics.IncrementReceivers()
	defer r.metrics.DecrementReceivers()

	if local, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		r.local.Store(local)
	}
	r.readyOnce.Do(func() { close(r.ready) })

	buf := acquireBuffer()
	defer releaseBuffer(buf)

	r.log.Info("Receiver started", slog.String("local", conn.LocalAddr().String()))
	defer r.log.Info("Receiver stopped")

	for {
		n, _, err := conn.ReadFromUDP(*buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return domain.NewNetworkError("read", r.cfg.Addr, err)
		}

		pkt, err := mdp.NewPacket((*buf)[:n])
		if err != nil {
			r.metrics.RecordMalformed()
			r.log.Debug("Dropping datagram", slog.Int("size", n), slog.Any("error", err))
			continue
		}
		r.handler(r.cfg.Feed, pkt)
	}
}

// NewFeedReceivers builds one receiver per line of a feed, ordered by line name.
func NewFeedReceivers(typ domain.FeedType, lines map[string]string, network infra.NetworkConfig, h Handler, m *infra.Metrics) []*Receiver {
	names := make([]string, 0, len(lines))
	for name := range lines {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*Receiver, 0, len(names))
	for _, name := range names {
		out = append(out, NewReceiver(ReceiverConfig{
			Feed:       domain.Feed{Type: typ, Name: name},
			Addr:       lines[name],
			Interface:  network.Interface,
			ReadBuffer: network.ReadBuffer,
		}, h, m))
	}
	return out
}
