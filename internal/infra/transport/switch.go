package transport

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Switch turns a group of receivers on and off. Start and Stop only record
// the wanted state and never block, so they are safe to call while a channel
// holds its lock. Run applies the state changes.
type Switch struct {
	name      string
	receivers []*Receiver

	want   atomic.Bool
	active atomic.Bool
	signal chan struct{}
}

// NewSwitch creates a switch over receivers. Receivers are idle until Start.
func NewSwitch(name string, receivers ...*Receiver) *Switch {
	return &Switch{
		name:      name,
		receivers: receivers,
		signal:    make(chan struct{}, 1),
	}
}

// Start asks for the receivers to be running.
func (s *Switch) Start() {
	s.want.Store(true)
	s.notify()
}

// Stop asks for the receivers to be shut down.
func (s *Switch) Stop() {
	s.want.Store(false)
	s.notify()
}

// Active reports whether the receivers are currently running.
func (s *Switch) Active() bool { return s.active.Load() }

func (s *Switch) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Run owns the receiver goroutines until ctx is cancelled.
func (s *Switch) Run(ctx context.Context) error {
	var (
		wg     sync.WaitGroup
		cancel context.CancelFunc
	)
	shutdown := func() {
		if cancel == nil {
			return
		}
		cancel()
		wg.Wait()
		cancel = nil
		s.active.Store(false)
		slog.Info("Feed switch off", slog.String("switch", s.name))
	}
	defer shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.signal:
		}

		want := s.want.Load()
		switch {
		case want && cancel == nil:
			var rctx context.Context
			rctx, cancel = context.WithCancel(ctx)
			for _, r := range s.receivers {
				wg.Add(1)
				go func(r *Receiver) {
					defer wg.Done()
					if err := r.Run(rctx); err != nil {
						slog.Error("Receiver failed",
							slog.String("switch", s.name),
							slog.String("feed", r.Feed().String()),
							slog.Any("error", err))
					}
				}(r)
			}
			s.active.Store(true)
			slog.Info("Feed switch on", slog.String("switch", s.name), slog.Int("receivers", len(s.receivers)))
		case !want && cancel != nil:
			shutdown()
		}
	}
}
