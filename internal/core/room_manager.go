package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sprout-budget-go/internal/identity"
	"sprout-budget-go/internal/metrics"
	"sprout-budget-go/internal/models"
	"sprout-budget-go/internal/treestore"
)

// State of a user session with respect to rooms.
type State string

const (
	StatePersonal State = "personal"
	StateInRoom   State = "room"
)

// How often the background existence check re-reads the room while the
// session is InRoom. The push subscription normally reports deletions
// first; the poll is the backstop for pushes that race with local
// optimistic state.
const existencePollInterval = 30 * time.Second

// Notice is a user-visible notification produced by background
// reconciliation or failed remote operations. The API drains them.
type Notice struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

const maxNotices = 20

// Manager owns the room lifecycle of one user session: creation, join,
// leave, deletion-on-empty, and reconciliation of the local view
// against the authoritative remote tree. It drives one BudgetSync and
// one PresenceTracker, rebinding them whenever the active data path
// changes.
type Manager struct {
	store  treestore.Store
	logger *zap.Logger
	user   identity.User

	sync     *BudgetSync
	presence *PresenceTracker

	mu       sync.Mutex // serializes lifecycle transitions
	state    State
	roomID   string
	roomName string
	closed   bool
	pollStop chan struct{}

	noticeMu sync.Mutex
	notices  []Notice
}

// NewManager wires a manager for one user over its own store handle.
func NewManager(store treestore.Store, logger *zap.Logger, user identity.User) *Manager {
	m := &Manager{
		store:  store,
		logger: logger.With(zap.String("user", user.ID)),
		user:   user,
		state:  StatePersonal,
	}
	m.sync = NewBudgetSync(store, m.logger, m.addNotice)
	m.presence = NewPresenceTracker(store, m.logger, user, m.addNotice)
	return m
}

// Start binds the session to the user's personal budget path.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSessionClosed
	}
	return m.sync.SwitchPath(ctx, personalBudgetPath(m.user.ID))
}

// CreateRoom generates a fresh room code, writes the new room with the
// caller as sole member, records the owned-room pointer and enters the
// room. On failure the session state is unchanged and the generated
// code is discarded, never reused.
func (m *Manager) CreateRoom(ctx context.Context, roomName string) (code string, err error) {
	defer func() { metrics.RecordRoomOperation("create", err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrSessionClosed
	}

	code, err = GenerateRoomCode()
	if err != nil {
		return "", err
	}

	room := models.Room{
		Meta: models.RoomMeta{
			CreatedBy: m.user.ID,
			CreatedAt: time.Now().UnixMilli(),
			RoomName:  roomName,
		},
		BudgetData: models.DefaultBudgetData(),
		Members:    map[string]bool{m.user.ID: true},
	}
	if err = m.store.Set(ctx, roomPath(code), room); err != nil {
		m.logger.Error("room creation failed", zap.String("room", code), zap.Error(err))
		return "", fmt.Errorf("create room: %w", err)
	}

	if perr := m.store.Set(ctx, ownedRoomPath(m.user.ID), code); perr != nil {
		// The room exists; losing the pointer only costs the shortcut
		// back to it.
		m.logger.Warn("owned-room pointer write failed", zap.String("room", code), zap.Error(perr))
		m.addNotice("Your room was created, but could not be remembered as yours.")
	}

	m.logger.Info("room created", zap.String("room", code), zap.String("name", roomName))
	m.enterRoomLocked(ctx, code, roomName)
	return code, nil
}

// JoinRoom validates the code format before any remote call, verifies
// the room exists, writes the membership entry and reads it back to
// catch silent permission failures. Re-joining an already joined room
// is a no-op success.
func (m *Manager) JoinRoom(ctx context.Context, rawCode string) (err error) {
	defer func() { metrics.RecordRoomOperation("join", err) }()

	code, err := ValidateRoomCode(rawCode)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSessionClosed
	}
	if m.state == StateInRoom && m.roomID == code {
		return nil
	}

	var meta models.RoomMeta
	found, err := m.store.Get(ctx, roomMetaPath(code), &meta)
	if err != nil {
		m.logger.Warn("room existence check failed", zap.String("room", code), zap.Error(err))
		return fmt.Errorf("join room: %w", err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}

	if err = m.store.Set(ctx, roomMemberPath(code, m.user.ID), true); err != nil {
		m.logger.Warn("membership write failed", zap.String("room", code), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrJoinFailed, err)
	}

	// Read back the write. A store that rejects it server-side while
	// acknowledging locally would otherwise leave us in a room we are
	// not actually in.
	var member bool
	confirmed, err := m.store.Get(ctx, roomMemberPath(code, m.user.ID), &member)
	if err != nil || !confirmed || !member {
		m.logger.Warn("membership confirmation failed",
			zap.String("room", code), zap.Bool("confirmed", confirmed), zap.Error(err))
		return fmt.Errorf("%w: membership write not confirmed", ErrJoinFailed)
	}

	m.logger.Info("room joined", zap.String("room", code))
	m.enterRoomLocked(ctx, code, meta.RoomName)
	return nil
}

// SwitchToOwnedRoom follows the user's owned-room pointer. A dangling
// pointer (room deleted since) is self-healed by deleting the pointer
// and reporting ErrNoOwnedRoom so the caller falls back to create or
// join.
func (m *Manager) SwitchToOwnedRoom(ctx context.Context) (err error) {
	defer func() { metrics.RecordRoomOperation("switch_owned", err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSessionClosed
	}

	var pointer string
	found, err := m.store.Get(ctx, ownedRoomPath(m.user.ID), &pointer)
	if err != nil {
		return fmt.Errorf("owned-room pointer read: %w", err)
	}
	if !found {
		return ErrNoOwnedRoom
	}

	code, verr := ValidateRoomCode(pointer)
	if verr != nil {
		// Corrupt pointer: treat like a dangling one.
		m.clearOwnedPointer(ctx)
		return ErrNoOwnedRoom
	}

	var meta models.RoomMeta
	found, err = m.store.Get(ctx, roomMetaPath(code), &meta)
	if err != nil {
		return fmt.Errorf("owned-room check: %w", err)
	}
	if !found {
		m.logger.Info("owned-room pointer was stale, clearing", zap.String("room", code))
		m.clearOwnedPointer(ctx)
		return ErrNoOwnedRoom
	}

	// Repair membership if it went missing (for example when a leave
	// on another device removed it).
	var member bool
	confirmed, err := m.store.Get(ctx, roomMemberPath(code, m.user.ID), &member)
	if err != nil {
		return fmt.Errorf("owned-room membership check: %w", err)
	}
	if !confirmed || !member {
		if err = m.store.Set(ctx, roomMemberPath(code, m.user.ID), true); err != nil {
			return fmt.Errorf("%w: %v", ErrJoinFailed, err)
		}
	}

	m.logger.Info("switched to owned room", zap.String("room", code))
	m.enterRoomLocked(ctx, code, meta.RoomName)
	return nil
}

// Leave removes the user from the current room's members inside a
// single transaction against the room node. If that makes the member
// set empty the whole room is deleted as the same transaction outcome,
// so two racing "last members" can never both observe an empty room
// without one of them deleting it. A conflicted transaction is retried
// once. Leaving while not in a room is a no-op.
func (m *Manager) Leave(ctx context.Context) (err error) {
	defer func() { metrics.RecordRoomOperation("leave", err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSessionClosed
	}
	if m.state != StateInRoom {
		return nil
	}
	code := m.roomID

	var deleted bool
	txn := func(current json.RawMessage) (any, error) {
		deleted = false
		if current == nil {
			// Room already gone; nothing to do and nothing to keep.
			deleted = true
			return nil, nil
		}
		var room map[string]any
		if err := json.Unmarshal(current, &room); err != nil {
			return nil, fmt.Errorf("decode room %s: %w", code, err)
		}
		members, _ := room["members"].(map[string]any)
		delete(members, m.user.ID)
		if len(members) == 0 {
			// Last member out deletes the room in the same commit.
			deleted = true
			return nil, nil
		}
		room["members"] = members
		return room, nil
	}

	err = m.store.Transact(ctx, roomPath(code), txn)
	if errors.Is(err, treestore.ErrConflict) {
		m.logger.Info("leave transaction conflicted, retrying once", zap.String("room", code))
		err = m.store.Transact(ctx, roomPath(code), txn)
	}
	if err != nil {
		m.logger.Error("leave transaction failed", zap.String("room", code), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrLeaveFailed, err)
	}

	if deleted {
		m.logger.Info("room deleted on last-member leave", zap.String("room", code))
		var pointer string
		if found, perr := m.store.Get(ctx, ownedRoomPath(m.user.ID), &pointer); perr == nil && found && pointer == code {
			m.clearOwnedPointer(ctx)
		}
	} else {
		m.logger.Info("room left", zap.String("room", code))
	}

	m.presence.Leave(ctx)
	m.exitRoomLocked(ctx)
	return nil
}

// SwitchToPersonal rebinds the session to the personal budget path
// without touching membership: the user stays a member of the room and
// only stops tracking presence and syncing against it.
func (m *Manager) SwitchToPersonal(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSessionClosed
	}
	if m.state != StateInRoom {
		return nil
	}
	m.logger.Info("switched to personal view", zap.String("room", m.roomID))
	m.presence.Leave(ctx)
	m.exitRoomLocked(ctx)
	return nil
}

// enterRoomLocked transitions to InRoom(code) and rebinds presence and
// budget sync. Caller holds m.mu.
func (m *Manager) enterRoomLocked(ctx context.Context, code, roomName string) {
	m.stopPollLocked()
	m.state = StateInRoom
	m.roomID = code
	m.roomName = roomName

	if err := m.presence.Join(ctx, code); err != nil {
		// Presence is best-effort; the room itself still works.
		m.logger.Warn("presence join failed", zap.String("room", code), zap.Error(err))
		m.addNotice("Joined the room, but live member tracking is unavailable.")
	}
	if err := m.sync.SwitchPath(ctx, roomBudgetPath(code)); err != nil {
		m.addNotice("Joined the room, but its budget could not be loaded yet.")
	}

	stop := make(chan struct{})
	m.pollStop = stop
	go m.pollExistence(code, stop)
}

// exitRoomLocked transitions back to Personal. Caller holds m.mu and
// has already dealt with presence.
func (m *Manager) exitRoomLocked(ctx context.Context) {
	m.stopPollLocked()
	m.state = StatePersonal
	m.roomID = ""
	m.roomName = ""
	if err := m.sync.SwitchPath(ctx, personalBudgetPath(m.user.ID)); err != nil {
		m.addNotice("Your personal budget could not be loaded yet.")
	}
}

func (m *Manager) stopPollLocked() {
	if m.pollStop != nil {
		close(m.pollStop)
		m.pollStop = nil
	}
}

// pollExistence is the fixed-interval backstop behind the push
// subscription: if the room vanished or our access was revoked while
// we hold optimistic local state, force the session back to Personal.
func (m *Manager) pollExistence(code string, stop <-chan struct{}) {
	ticker := time.NewTicker(existencePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		var meta models.RoomMeta
		found, err := m.store.Get(ctx, roomMetaPath(code), &meta)
		cancel()

		switch {
		case err == nil && found:
			continue
		case err == nil && !found:
			m.forceToPersonal(code, "This room was deleted by another member.")
			return
		case errors.Is(err, treestore.ErrPermissionDenied):
			m.forceToPersonal(code, "You were removed from this room.")
			return
		default:
			// Transient failure; keep polling.
			m.logger.Debug("room existence check failed", zap.String("room", code), zap.Error(err))
		}
	}
}

// forceToPersonal downgrades the session when the room disappeared
// underneath it. The room is gone (or closed to us), so there is no
// clean presence write to make: local tracking is dropped and the
// user notified.
func (m *Manager) forceToPersonal(code, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state != StateInRoom || m.roomID != code {
		// A newer transition already superseded this poll result.
		return
	}
	m.logger.Info("forced back to personal view", zap.String("room", code), zap.String("reason", reason))
	m.presence.Drop()
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	m.exitRoomLocked(ctx)
	m.addNotice(reason)
}

// Close tears the session down. A clean close leaves presence
// gracefully; an unclean one (client vanished) lets the store's
// disconnect write mark the record inactive instead. Either way the
// store handle's Disconnect runs, committing whatever deferred writes
// are still armed and dropping subscriptions.
func (m *Manager) Close(ctx context.Context, clean bool) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.stopPollLocked()
	m.mu.Unlock()

	if clean {
		m.presence.Leave(ctx)
	} else {
		m.presence.Drop()
	}
	m.sync.Close()
	return m.store.Disconnect(ctx)
}

// addNotice appends a user-visible notification, keeping only the most
// recent ones.
func (m *Manager) addNotice(message string) {
	m.noticeMu.Lock()
	defer m.noticeMu.Unlock()
	m.notices = append(m.notices, Notice{Message: message, At: time.Now()})
	if len(m.notices) > maxNotices {
		m.notices = m.notices[len(m.notices)-maxNotices:]
	}
}

// DrainNotices returns pending notices and clears them.
func (m *Manager) DrainNotices() []Notice {
	m.noticeMu.Lock()
	defer m.noticeMu.Unlock()
	out := m.notices
	m.notices = nil
	return out
}

// Budget exposes the session's budget synchronizer.
func (m *Manager) Budget() *BudgetSync { return m.sync }

// Presence exposes the session's presence tracker.
func (m *Manager) Presence() *PresenceTracker { return m.presence }

// Status reports the current state, room id and room name.
func (m *Manager) Status() (State, string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.roomID, m.roomName
}

// clearOwnedPointer removes the owned-room back-reference, best
// effort.
func (m *Manager) clearOwnedPointer(ctx context.Context) {
	if err := m.store.Remove(ctx, ownedRoomPath(m.user.ID)); err != nil {
		m.logger.Warn("owned-room pointer removal failed", zap.Error(err))
	}
}
