package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"sprout-budget-go/internal/identity"
	"sprout-budget-go/internal/metrics"
	"sprout-budget-go/internal/treestore"
)

const (
	// DefaultIdleTimeout is how long a session may go without any
	// request before it is considered disconnected and its deferred
	// presence write fires.
	DefaultIdleTimeout = 2 * time.Minute

	janitorInterval = 30 * time.Second
)

// Session is one authenticated user's live coordinator. It owns a
// private store handle so its disconnect writes and subscriptions are
// isolated from every other session's.
type Session struct {
	User    identity.User
	Manager *Manager

	mu         sync.Mutex
	lastActive time.Time
}

// Touch marks the session as recently used.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// SessionManager maintains at most one session per user and expires
// idle ones. Expiry is the server-side stand-in for a dropped client
// connection: the expired session closes uncleanly, which commits its
// registered disconnect writes.
type SessionManager struct {
	store       treestore.Store
	logger      *zap.Logger
	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	stopped  bool
	stop     chan struct{}
	done     chan struct{}
}

// NewSessionManager starts the registry and its idle janitor.
func NewSessionManager(store treestore.Store, logger *zap.Logger, idleTimeout time.Duration) *SessionManager {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	sm := &SessionManager{
		store:       store,
		logger:      logger,
		idleTimeout: idleTimeout,
		sessions:    make(map[string]*Session),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go sm.janitor()
	return sm
}

// GetOrCreate returns the user's session, creating and starting one on
// first use. The returned session is already touched.
func (sm *SessionManager) GetOrCreate(ctx context.Context, user identity.User) (*Session, error) {
	sm.mu.Lock()
	if sm.stopped {
		sm.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s, ok := sm.sessions[user.ID]; ok {
		sm.mu.Unlock()
		s.Touch()
		return s, nil
	}
	sm.mu.Unlock()

	handle := sm.store.Handle()
	mgr := NewManager(handle, sm.logger, user)
	if err := mgr.Start(ctx); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		mgr.Close(closeCtx, true)
		cancel()
		return nil, err
	}

	s := &Session{User: user, Manager: mgr, lastActive: time.Now()}

	sm.mu.Lock()
	if sm.stopped {
		sm.mu.Unlock()
		closeCtx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		mgr.Close(closeCtx, true)
		cancel()
		return nil, ErrSessionClosed
	}
	if existing, ok := sm.sessions[user.ID]; ok {
		// Another request created the session first; discard ours.
		sm.mu.Unlock()
		closeCtx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		mgr.Close(closeCtx, true)
		cancel()
		existing.Touch()
		return existing, nil
	}
	sm.sessions[user.ID] = s
	sm.mu.Unlock()

	metrics.ActiveSessions.Inc()
	sm.logger.Info("session started", zap.String("user", user.ID))
	return s, nil
}

// CloseSession ends a session cleanly: presence leaves gracefully and
// no disconnect writes fire. Closing an unknown session is a no-op.
func (sm *SessionManager) CloseSession(ctx context.Context, userID string) error {
	sm.mu.Lock()
	s, ok := sm.sessions[userID]
	if ok {
		delete(sm.sessions, userID)
	}
	sm.mu.Unlock()
	if !ok {
		return nil
	}

	metrics.ActiveSessions.Dec()
	sm.logger.Info("session closed", zap.String("user", userID))
	return s.Manager.Close(ctx, true)
}

// janitor expires idle sessions. An idle expiry is treated as a lost
// connection, so the close is unclean and the session's disconnect
// writes commit.
func (sm *SessionManager) janitor() {
	defer close(sm.done)
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.stop:
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-sm.idleTimeout)
		var expired []*Session
		sm.mu.Lock()
		for id, s := range sm.sessions {
			if s.idleSince().Before(cutoff) {
				delete(sm.sessions, id)
				expired = append(expired, s)
			}
		}
		sm.mu.Unlock()

		for _, s := range expired {
			metrics.ActiveSessions.Dec()
			sm.logger.Info("session expired as disconnected", zap.String("user", s.User.ID))
			ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
			if err := s.Manager.Close(ctx, false); err != nil {
				sm.logger.Warn("session disconnect cleanup failed",
					zap.String("user", s.User.ID), zap.Error(err))
			}
			cancel()
		}
	}
}

// Shutdown stops the janitor and closes every session cleanly.
func (sm *SessionManager) Shutdown(ctx context.Context) {
	sm.mu.Lock()
	if sm.stopped {
		sm.mu.Unlock()
		return
	}
	sm.stopped = true
	close(sm.stop)
	remaining := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		remaining = append(remaining, s)
	}
	sm.sessions = make(map[string]*Session)
	sm.mu.Unlock()

	<-sm.done
	for _, s := range remaining {
		metrics.ActiveSessions.Dec()
		if err := s.Manager.Close(ctx, true); err != nil {
			sm.logger.Warn("session shutdown close failed",
				zap.String("user", s.User.ID), zap.Error(err))
		}
	}
}
