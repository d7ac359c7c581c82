package core

import (
	"context"
	"time"
)

// Monitor is the liveness monitor: it probes every live session on a fixed
// cycle and declares sessions without a pong inside the timeout window to
// be zombies. It is the only component allowed to terminate a connection on
// a timing signal alone, and it reuses the ordinary disconnect cleanup so
// the preserved-location semantics are identical.
type Monitor struct {
	engine   *Engine
	interval time.Duration
	timeout  time.Duration
}

// NewMonitor creates a liveness monitor over the engine.
func NewMonitor(engine *Engine, interval, timeout time.Duration) *Monitor {
	return &Monitor{engine: engine, interval: interval, timeout: timeout}
}

// Run probes until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.engine.ProbeCycle(ctx, now, m.timeout)
		}
	}
}

// ProbeCycle challenges every live session and evicts zombies. A missed
// probe is never retried mid-cycle; the next cycle re-probes.
func (e *Engine) ProbeCycle(ctx context.Context, now time.Time, timeout time.Duration) {
	e.mu.Lock()

	var zombies []string
	ping := &Event{Kind: EventPing, SentAt: now}
	for _, session := range e.registry.All() {
		if now.Sub(session.lastPong) > timeout {
			zombies = append(zombies, session.ID)
			continue
		}
		session.send(ping)
	}

	for _, sessionID := range zombies {
		e.log.Warn().Str("session", sessionID).Msg("liveness timeout, evicting zombie")
		e.cleanupLocked(ctx, sessionID, "zombie timeout")
	}
	e.mu.Unlock()
}

// Pong records a liveness answer and, when the client echoed its send time,
// the observed round trip.
func (e *Engine) Pong(sessionID string, clientSentMilli int64) (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, ok := e.registry.ByID(sessionID)
	if !ok {
		return 0, false
	}

	receivedAt := time.Now()
	session.lastPong = receivedAt

	if clientSentMilli > 0 {
		clientTime := time.UnixMilli(clientSentMilli)
		if clientTime.Before(receivedAt.Add(5 * time.Second)) {
			rtt := receivedAt.Sub(clientTime)
			if rtt < 0 {
				rtt = 0
			}
			session.lastRTT = rtt
		}
	}

	return session.lastRTT, true
}
