package goSession

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// StartSweeper launches a goroutine that calls SweepExpired every Session.SweepInterval
// until ctx is cancelled, StopSweeper is called or the Manager is closed.
//
// Only one sweeper runs per Manager; a second call while one is active returns
// ErrSweeperRunning.
func (m *Manager) StartSweeper(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	interval := m.config.Session.SweepInterval
	if interval <= 0 {
		return errors.New("Session SweepInterval must be > 0 to start the sweeper")
	}

	m.sweeperMu.Lock()
	defer m.sweeperMu.Unlock()

	if m.sweeperDone != nil {
		select {
		case <-m.sweeperDone:
		default:
			return ErrSweeperRunning
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.sweeperStop = cancel
	m.sweeperDone = done

	go m.runSweeper(ctx, interval, done)
	return nil
}

// StopSweeper stops a running sweeper and waits for its goroutine to exit.
func (m *Manager) StopSweeper() {
	m.sweeperMu.Lock()
	stop, done := m.sweeperStop, m.sweeperDone
	m.sweeperStop, m.sweeperDone = nil, nil
	m.sweeperMu.Unlock()

	if stop == nil {
		return
	}
	stop()
	<-done
}

func (m *Manager) runSweeper(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := m.log.WithField("interval", interval)
	log.Debug("session sweeper started")

	for {
		select {
		case <-ctx.Done():
			log.Debug("session sweeper stopped")
			return
		case <-ticker.C:
			m.sweepOnce(ctx, log)
		}
	}
}

func (m *Manager) sweepOnce(ctx context.Context, log logrus.FieldLogger) {
	start := time.Now()
	removed, err := m.SweepExpired(ctx, m.now())
	entry := log.WithFields(logrus.Fields{
		"removed":  removed,
		"duration": time.Since(start),
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, ErrManagerClosed) {
			return
		}
		entry.WithError(err).Warn("session sweep failed")
		return
	}
	entry.Debug("session sweep finished")
}
