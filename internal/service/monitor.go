package service

import (
	"context"
	"log/slog"
	"time"

	"mdp_go/internal/domain"
	"mdp_go/internal/engine"
)

// MonitoredChannel is the view of a channel controller the monitor needs.
type MonitoredChannel interface {
	ID() int
	State() domain.ChannelState
	LastIncrementalReceived() time.Time
	Status() engine.ChannelStatus
	StartRecovery()
	ResetSnapshotCycleCount()
}

// MonitorConfig holds the monitor timeouts.
type MonitorConfig struct {
	Interval             time.Duration
	IdleTimeout          time.Duration
	GapStallTimeout      time.Duration
	SnapshotCycleTimeout time.Duration
}

type channelTrack struct {
	lastSeq         uint64
	progressAt      time.Time
	recoveringSince time.Time
	idle            bool
}

// Monitor watches channel liveness and drives recovery: a live channel whose
// queue holds packets beyond a gap that does not close in time goes back to
// snapshot recovery, and a recovery that does not finish in time restarts
// with a fresh snapshot cycle.
type Monitor struct {
	cfg      MonitorConfig
	channels []MonitoredChannel
	track    map[int]*channelTrack
	now      func() time.Time
}

// NewMonitor creates a monitor over channels.
func NewMonitor(cfg MonitorConfig, channels ...MonitoredChannel) *Monitor {
	return &Monitor{
		cfg:      cfg,
		channels: channels,
		track:    make(map[int]*channelTrack, len(channels)),
		now:      time.Now,
	}
}

// Run checks all channels every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	slog.Info("Monitor started", slog.Int("channels", len(m.channels)), slog.Duration("interval", m.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			slog.Info("Monitor stopping...")
			return nil
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check runs one monitoring pass.
func (m *Monitor) Check() {
	now := m.now()
	for _, ch := range m.channels {
		m.check(ch, now)
	}
}

func (m *Monitor) check(ch MonitoredChannel, now time.Time) {
	tr, ok := m.track[ch.ID()]
	if !ok {
		tr = &channelTrack{progressAt: now}
		m.track[ch.ID()] = tr
	}
	st := ch.Status()
	if st.ProcessedSeq != tr.lastSeq {
		tr.lastSeq = st.ProcessedSeq
		tr.progressAt = now
	}
	log := slog.With(slog.Int("channel", ch.ID()), slog.Uint64("processed_seq", st.ProcessedSeq))

	if ch.State() == domain.ChannelLive {
		tr.recoveringSince = time.Time{}
		if st.Pending > 0 && now.Sub(tr.progressAt) >= m.cfg.GapStallTimeout {
			log.Warn("Sequence gap stalled, starting recovery",
				slog.Int("pending", st.Pending),
				slog.Duration("stalled", now.Sub(tr.progressAt)))
			ch.StartRecovery()
			tr.recoveringSince = now
			tr.progressAt = now
		}
	} else {
		switch {
		case tr.recoveringSince.IsZero():
			tr.recoveringSince = now
		case now.Sub(tr.recoveringSince) >= m.cfg.SnapshotCycleTimeout:
			log.Warn("Snapshot recovery timed out, restarting cycle",
				slog.String("state", st.State),
				slog.Int64("snapshot_countdown", st.SnapshotCountdown))
			ch.ResetSnapshotCycleCount()
			ch.StartRecovery()
			tr.recoveringSince = now
		}
	}

	last := ch.LastIncrementalReceived()
	idle := !last.IsZero() && now.Sub(last) >= m.cfg.IdleTimeout
	switch {
	case idle && !tr.idle:
		log.Warn("Incremental feed idle", slog.Duration("since", now.Sub(last)))
	case !idle && tr.idle:
		log.Info("Incremental feed resumed")
	}
	tr.idle = idle
}
