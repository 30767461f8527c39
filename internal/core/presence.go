package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"sprout-budget-go/internal/identity"
	"sprout-budget-go/internal/metrics"
	"sprout-budget-go/internal/models"
	"sprout-budget-go/internal/treestore"
)

const (
	heartbeatInterval = 30 * time.Second
	cleanupInterval   = 60 * time.Second

	// A record flagged inactive is removed once its lastSeen is this
	// old; any record older than staleThreshold is removed regardless
	// of its active flag.
	inactiveThreshold = 5 * time.Minute
	staleThreshold    = 24 * time.Hour
)

// PresenceTracker maintains the activeMembers sub-tree of one room,
// layered over (and independent of) structural membership.
//
// While joined it heartbeats its own record every 30 seconds, keeps a
// disconnect write registered that flips the record inactive with a
// store-assigned lastSeen, and runs the cleanup pass every minute.
// The cleanup pass is idempotent, so several clients running it
// concurrently against the same room is safe and expected.
type PresenceTracker struct {
	store  treestore.Store
	logger *zap.Logger
	user   identity.User
	notify func(message string)

	mu               sync.Mutex
	roomID           string
	gen              int
	active           map[string]models.MemberPresence
	unsubscribe      func()
	cancelDisconnect func()
	stop             chan struct{}
}

// PresenceSnapshot is the derived state exposed to callers, recomputed
// on every push from the store.
type PresenceSnapshot struct {
	ActiveMembers map[string]models.MemberPresence `json:"activeMembers"`
	MemberCount   int                              `json:"memberCount"`
	IsLastMember  bool                             `json:"isLastMember"`
}

// NewPresenceTracker creates a tracker that is not joined to any room.
func NewPresenceTracker(store treestore.Store, logger *zap.Logger, user identity.User, notify func(string)) *PresenceTracker {
	if notify == nil {
		notify = func(string) {}
	}
	return &PresenceTracker{store: store, logger: logger, user: user, notify: notify}
}

// Join writes this user's presence record into the room, registers the
// disconnect write, subscribes to the activeMembers sub-tree and
// starts the heartbeat and cleanup timers. Joining while already
// joined to another room leaves that room's presence first.
func (t *PresenceTracker) Join(ctx context.Context, roomID string) error {
	t.Leave(ctx)

	now := time.Now().UnixMilli()
	record := models.MemberPresence{UserID: t.user.ID, JoinedAt: now, LastSeen: now, IsActive: true}
	if err := t.store.Set(ctx, activeMemberPath(roomID, t.user.ID), record); err != nil {
		return err
	}

	// If the connection drops without a clean leave, the store flips
	// this same record to inactive with its own commit time.
	cancelDisconnect, err := t.store.OnDisconnectSet(activeMemberPath(roomID, t.user.ID), map[string]any{
		"userId":   t.user.ID,
		"joinedAt": now,
		"lastSeen": treestore.ServerTimestamp(),
		"isActive": false,
	})
	if err != nil {
		t.logger.Warn("presence disconnect hook failed", zap.String("room", roomID), zap.Error(err))
		cancelDisconnect = func() {}
	}

	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.roomID = roomID
	t.active = nil
	t.cancelDisconnect = cancelDisconnect
	stop := make(chan struct{})
	t.stop = stop
	t.mu.Unlock()

	unsubscribe, err := t.store.Subscribe(activeMembersPath(roomID),
		func(snapshot json.RawMessage) { t.onPush(gen, snapshot) },
		func(err error) { t.onSubscriptionError(gen, roomID, err) },
	)
	if err != nil {
		t.logger.Warn("presence subscription failed", zap.String("room", roomID), zap.Error(err))
	} else {
		t.mu.Lock()
		if t.gen == gen {
			t.unsubscribe = unsubscribe
		} else {
			t.mu.Unlock()
			unsubscribe()
			return nil
		}
		t.mu.Unlock()
	}

	go t.runTimers(gen, roomID, stop)
	return nil
}

// Leave performs a clean leave: timers cancelled, disconnect write
// withdrawn, own record flipped inactive synchronously. Leaving while
// not joined is a no-op.
func (t *PresenceTracker) Leave(ctx context.Context) {
	t.mu.Lock()
	roomID := t.roomID
	if roomID == "" {
		t.mu.Unlock()
		return
	}
	t.teardownLocked()
	t.mu.Unlock()

	// Mark the record inactive rather than removing it; the cleanup
	// pass reaps it later. Errors here are expected noise when the
	// room was deleted or access was already revoked.
	var record models.MemberPresence
	found, err := t.store.Get(ctx, activeMemberPath(roomID, t.user.ID), &record)
	if err != nil || !found {
		if err != nil && !errors.Is(err, treestore.ErrPermissionDenied) {
			t.logger.Debug("presence leave read failed", zap.String("room", roomID), zap.Error(err))
		}
		return
	}
	record.IsActive = false
	record.LastSeen = time.Now().UnixMilli()
	if err := t.store.Set(ctx, activeMemberPath(roomID, t.user.ID), record); err != nil &&
		!errors.Is(err, treestore.ErrPermissionDenied) {
		t.logger.Debug("presence leave write failed", zap.String("room", roomID), zap.Error(err))
	}
}

// Drop tears local tracking down without any store write. Used when
// the connection is considered lost and the registered disconnect
// write speaks for us, or when access was revoked.
func (t *PresenceTracker) Drop() {
	t.mu.Lock()
	if t.roomID != "" {
		// Keep the disconnect write armed: dropping means the store
		// should still flip the record when the connection dies.
		t.cancelDisconnect = nil
		t.teardownLocked()
	}
	t.mu.Unlock()
}

// teardownLocked stops timers and the subscription and clears derived
// state. Caller holds t.mu.
func (t *PresenceTracker) teardownLocked() {
	t.gen++
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
	if t.cancelDisconnect != nil {
		t.cancelDisconnect()
		t.cancelDisconnect = nil
	}
	t.roomID = ""
	t.active = nil
}

func (t *PresenceTracker) runTimers(gen int, roomID string, stop <-chan struct{}) {
	heartbeat := time.NewTicker(heartbeatInterval)
	cleanup := time.NewTicker(cleanupInterval)
	defer heartbeat.Stop()
	defer cleanup.Stop()

	for {
		select {
		case <-stop:
			return
		case <-heartbeat.C:
			ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
			err := t.store.Set(ctx, lastSeenPath(roomID, t.user.ID), time.Now().UnixMilli())
			cancel()
			if err != nil {
				t.logger.Debug("presence heartbeat failed", zap.String("room", roomID), zap.Error(err))
			}
		case <-cleanup.C:
			ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
			if err := t.CleanupInactiveMembers(ctx, roomID); err != nil {
				t.logger.Debug("presence cleanup failed", zap.String("room", roomID), zap.Error(err))
			}
			cancel()
		}
	}
}

// onPush recomputes derived state from a full activeMembers snapshot.
func (t *PresenceTracker) onPush(gen int, snapshot json.RawMessage) {
	filtered := make(map[string]models.MemberPresence)
	if snapshot != nil {
		var members map[string]models.MemberPresence
		if err := json.Unmarshal(snapshot, &members); err != nil {
			t.logger.Error("malformed presence snapshot", zap.Error(err))
			return
		}
		for id, m := range members {
			if m.IsActive {
				filtered[id] = m
			}
		}
	}

	t.mu.Lock()
	if t.gen == gen {
		t.active = filtered
	}
	t.mu.Unlock()
}

// onSubscriptionError handles presence subscription failures.
// Permission denied means we were removed from the room: local state
// drops to empty/zero instead of retrying forever.
func (t *PresenceTracker) onSubscriptionError(gen int, roomID string, err error) {
	t.mu.Lock()
	stale := t.gen != gen
	t.mu.Unlock()
	if stale {
		return
	}
	if errors.Is(err, treestore.ErrPermissionDenied) {
		t.logger.Info("presence access revoked", zap.String("room", roomID), zap.String("user", t.user.ID))
		t.mu.Lock()
		if t.gen == gen {
			t.active = map[string]models.MemberPresence{}
		}
		t.mu.Unlock()
		return
	}
	t.logger.Warn("presence subscription error", zap.String("room", roomID), zap.Error(err))
}

// CleanupInactiveMembers is the periodic maintenance pass: it removes
// presence records inactive for at least five minutes, and any record
// older than 24 hours regardless of its active flag. It only ever
// touches activeMembers, never the structural members entries. When
// the pass leaves the sub-tree empty it stamps meta/lastActivity so an
// external janitor can find abandoned rooms.
func (t *PresenceTracker) CleanupInactiveMembers(ctx context.Context, roomID string) error {
	var members map[string]models.MemberPresence
	found, err := t.store.Get(ctx, activeMembersPath(roomID), &members)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	now := time.Now().UnixMilli()
	remaining := len(members)
	for userID, m := range members {
		sinceLastSeen := time.Duration(now-m.LastSeen) * time.Millisecond
		expired := (!m.IsActive && sinceLastSeen >= inactiveThreshold) || sinceLastSeen >= staleThreshold
		if !expired {
			continue
		}
		if err := t.store.Remove(ctx, activeMemberPath(roomID, userID)); err != nil {
			t.logger.Debug("presence record removal failed",
				zap.String("room", roomID), zap.String("user", userID), zap.Error(err))
			continue
		}
		metrics.PresenceCleanupRemovals.Inc()
		remaining--
	}

	if remaining <= 0 {
		if err := t.store.Set(ctx, lastActivityPath(roomID), now); err != nil {
			t.logger.Debug("lastActivity stamp failed", zap.String("room", roomID), zap.Error(err))
		}
	}
	return nil
}

// Snapshot returns the current derived presence state.
func (t *PresenceTracker) Snapshot() PresenceSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]models.MemberPresence, len(t.active))
	for id, m := range t.active {
		out[id] = m
	}
	_, self := t.active[t.user.ID]
	return PresenceSnapshot{
		ActiveMembers: out,
		MemberCount:   len(out),
		IsLastMember:  len(out) == 1 && self,
	}
}
