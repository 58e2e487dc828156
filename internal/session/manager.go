// Package session owns the one live session shared by every concurrent
// caller. It replaces ambient global session state with an explicit
// manager: callers ask for the current session and hand it back for
// invalidation when the venue stops honoring it.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"brokerlink/internal/domain"
)

// Establisher runs the handshake far enough to yield a live session.
type Establisher interface {
	Establish(ctx context.Context) (*domain.LiveSession, error)
	MarkExpired()
}

// Manager hands out the shared live session, deriving it on first use and
// refreshing it under a single-flight lock: when N callers observe an
// expired session at once, exactly one handshake runs while the rest
// block on its result.
type Manager struct {
	handshake Establisher
	margin    time.Duration
	log       *logrus.Logger
	now       func() time.Time

	mu   sync.Mutex
	sess *domain.LiveSession
}

// NewManager builds a Manager. margin is how long before the session's
// expiry a proactive re-derivation kicks in.
func NewManager(h Establisher, margin time.Duration, log *logrus.Logger) *Manager {
	return &Manager{handshake: h, margin: margin, log: log, now: time.Now}
}

// Session returns a usable live session, deriving or refreshing as needed.
func (m *Manager) Session(ctx context.Context) (*domain.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Callers that queued behind an in-flight refresh land here after it
	// finished; the freshly derived session satisfies them without
	// another handshake.
	if m.sess.Usable(m.now(), m.margin) {
		return m.sess, nil
	}

	if m.sess != nil {
		m.log.Debug("live session near expiry, re-deriving")
		m.handshake.MarkExpired()
	}
	sess, err := m.handshake.Establish(ctx)
	if err != nil {
		return nil, err
	}
	m.sess = sess
	return sess, nil
}

// Invalidate discards sess if it is still current. A stale handle (from a
// caller whose request failed against an already-replaced session) is a
// no-op, so slow callers cannot blow away a good session.
func (m *Manager) Invalidate(sess *domain.LiveSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess != nil && m.sess == sess {
		m.log.Info("live session invalidated")
		m.sess = nil
		m.handshake.MarkExpired()
	}
}

var _ domain.SessionSource = (*Manager)(nil)
