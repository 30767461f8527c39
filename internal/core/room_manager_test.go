package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"sprout-budget-go/internal/identity"
	"sprout-budget-go/internal/models"
	"sprout-budget-go/internal/treestore"
)

// countingStore wraps a Store and counts every remote operation.
type countingStore struct {
	treestore.Store
	calls int
}

func (c *countingStore) Get(ctx context.Context, path string, v any) (bool, error) {
	c.calls++
	return c.Store.Get(ctx, path, v)
}
func (c *countingStore) Set(ctx context.Context, path string, value any) error {
	c.calls++
	return c.Store.Set(ctx, path, value)
}
func (c *countingStore) Remove(ctx context.Context, path string) error {
	c.calls++
	return c.Store.Remove(ctx, path)
}
func (c *countingStore) Transact(ctx context.Context, path string, fn treestore.UpdateFn) error {
	c.calls++
	return c.Store.Transact(ctx, path, fn)
}
func (c *countingStore) Subscribe(path string, onChange func(json.RawMessage), onError func(error)) (func(), error) {
	c.calls++
	return c.Store.Subscribe(path, onChange, onError)
}
func (c *countingStore) OnDisconnectSet(path string, value any) (func(), error) {
	c.calls++
	return c.Store.OnDisconnectSet(path, value)
}

func newTestManager(t *testing.T, store treestore.Store, userID string) *Manager {
	t.Helper()
	m := NewManager(store, zap.NewNop(), identity.User{ID: userID})
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close(context.Background(), true) })
	return m
}

func TestCreateRoom(t *testing.T) {
	store := treestore.NewMemory()
	ctx := context.Background()
	m := newTestManager(t, store.Handle(), "u1")

	code, err := m.CreateRoom(ctx, "family budget")
	if err != nil {
		t.Fatal(err)
	}
	if _, verr := ValidateRoomCode(code); verr != nil {
		t.Fatalf("created code %q invalid: %v", code, verr)
	}

	state, roomID, roomName := m.Status()
	if state != StateInRoom || roomID != code || roomName != "family budget" {
		t.Errorf("status = %v/%q/%q", state, roomID, roomName)
	}

	var room models.Room
	if found, _ := store.Get(ctx, "rooms/"+code, &room); !found {
		t.Fatal("room not persisted")
	}
	if room.Meta.CreatedBy != "u1" || !room.Members["u1"] {
		t.Errorf("room = %+v", room)
	}

	var pointer string
	if found, _ := store.Get(ctx, "users/u1/createdRoomId", &pointer); !found || pointer != code {
		t.Errorf("owned pointer = %q (found=%v), want %q", pointer, found, code)
	}
}

func TestJoinRoomInvalidCodeMakesNoRemoteCalls(t *testing.T) {
	store := treestore.NewMemory()
	cs := &countingStore{Store: store.Handle()}
	m := NewManager(cs, zap.NewNop(), identity.User{ID: "u1"})
	// Deliberately not started: any call below would be a lifecycle
	// call triggered by the join itself.

	before := cs.calls
	err := m.JoinRoom(context.Background(), "definitely wrong")
	if !errors.Is(err, ErrInvalidRoomCode) {
		t.Fatalf("err = %v, want ErrInvalidRoomCode", err)
	}
	if cs.calls != before {
		t.Errorf("invalid code reached the store: %d calls", cs.calls-before)
	}
}

func TestJoinRoomNotFound(t *testing.T) {
	store := treestore.NewMemory()
	m := newTestManager(t, store.Handle(), "u1")

	err := m.JoinRoom(context.Background(), "ZZZ-999")
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}
	if state, _, _ := m.Status(); state != StatePersonal {
		t.Errorf("state = %v after failed join, want personal", state)
	}
}

func TestJoinRoomAndIdempotentRejoin(t *testing.T) {
	store := treestore.NewMemory()
	ctx := context.Background()
	owner := newTestManager(t, store.Handle(), "owner")
	code, err := owner.CreateRoom(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	joiner := newTestManager(t, store.Handle(), "guest")
	// Lowercase on purpose: the code normalizes before hitting the store.
	if err := joiner.JoinRoom(ctx, " "+toLower(code)+" "); err != nil {
		t.Fatal(err)
	}

	var member bool
	if found, _ := store.Get(ctx, "rooms/"+code+"/members/guest", &member); !found || !member {
		t.Fatal("membership entry missing")
	}

	// Joining the room you are already in is a silent success.
	if err := joiner.JoinRoom(ctx, code); err != nil {
		t.Errorf("re-join: %v", err)
	}
}

func toLower(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'A' && c <= 'Z' {
			out[i] = c + 'a' - 'A'
		}
	}
	return string(out)
}

func TestLeaveRemovesOnlySelf(t *testing.T) {
	store := treestore.NewMemory()
	ctx := context.Background()
	owner := newTestManager(t, store.Handle(), "owner")
	code, err := owner.CreateRoom(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	guest := newTestManager(t, store.Handle(), "guest")
	if err := guest.JoinRoom(ctx, code); err != nil {
		t.Fatal(err)
	}

	if err := guest.Leave(ctx); err != nil {
		t.Fatal(err)
	}

	var room models.Room
	if found, _ := store.Get(ctx, "rooms/"+code, &room); !found {
		t.Fatal("room deleted although a member remains")
	}
	if _, ok := room.Members["guest"]; ok {
		t.Error("guest still in members after leave")
	}
	if !room.Members["owner"] {
		t.Error("owner lost membership on someone else's leave")
	}
	if state, _, _ := guest.Status(); state != StatePersonal {
		t.Errorf("guest state = %v, want personal", state)
	}
}

func TestLastMemberLeaveDeletesRoomAndPointer(t *testing.T) {
	store := treestore.NewMemory()
	ctx := context.Background()
	owner := newTestManager(t, store.Handle(), "owner")
	code, err := owner.CreateRoom(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := owner.Leave(ctx); err != nil {
		t.Fatal(err)
	}

	var v any
	if found, _ := store.Get(ctx, "rooms/"+code, &v); found {
		t.Error("room survived last-member leave")
	}
	if found, _ := store.Get(ctx, "users/owner/createdRoomId", &v); found {
		t.Error("owned pointer survived room deletion")
	}
}

func TestLeaveRetriesOnceOnConflict(t *testing.T) {
	store := treestore.NewMemory()
	ctx := context.Background()
	owner := newTestManager(t, store.Handle(), "owner")
	code, err := owner.CreateRoom(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	store.FailTransactions(1)
	if err := owner.Leave(ctx); err != nil {
		t.Fatalf("leave with one conflict should retry and succeed: %v", err)
	}
	var v any
	if found, _ := store.Get(ctx, "rooms/"+code, &v); found {
		t.Error("room survived retried leave")
	}
}

func TestLeaveFailsAfterSecondConflict(t *testing.T) {
	store := treestore.NewMemory()
	ctx := context.Background()
	owner := newTestManager(t, store.Handle(), "owner")
	code, err := owner.CreateRoom(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	store.FailTransactions(2)
	if err := owner.Leave(ctx); !errors.Is(err, ErrLeaveFailed) {
		t.Fatalf("err = %v, want ErrLeaveFailed", err)
	}

	// Failed leave keeps local and remote state intact.
	if state, roomID, _ := owner.Status(); state != StateInRoom || roomID != code {
		t.Errorf("status after failed leave = %v/%q", state, roomID)
	}
	var room models.Room
	if found, _ := store.Get(ctx, "rooms/"+code, &room); !found || !room.Members["owner"] {
		t.Error("room state changed despite failed leave")
	}
}

func TestLeaveWhilePersonalIsNoop(t *testing.T) {
	store := treestore.NewMemory()
	m := newTestManager(t, store.Handle(), "u1")
	if err := m.Leave(context.Background()); err != nil {
		t.Errorf("leave in personal state: %v", err)
	}
}

func TestSwitchToOwnedRoom(t *testing.T) {
	store := treestore.NewMemory()
	ctx := context.Background()
	owner := newTestManager(t, store.Handle(), "owner")
	code, err := owner.CreateRoom(ctx, "mine")
	if err != nil {
		t.Fatal(err)
	}
	if err := owner.SwitchToPersonal(ctx); err != nil {
		t.Fatal(err)
	}

	if err := owner.SwitchToOwnedRoom(ctx); err != nil {
		t.Fatal(err)
	}
	if state, roomID, _ := owner.Status(); state != StateInRoom || roomID != code {
		t.Errorf("status = %v/%q, want room %q", state, roomID, code)
	}
}

func TestSwitchToOwnedRoomHealsStalePointer(t *testing.T) {
	store := treestore.NewMemory()
	ctx := context.Background()
	m := newTestManager(t, store.Handle(), "u1")

	// Pointer to a room that no longer exists.
	if err := store.Set(ctx, "users/u1/createdRoomId", "GON-E00"); err != nil {
		t.Fatal(err)
	}

	if err := m.SwitchToOwnedRoom(ctx); !errors.Is(err, ErrNoOwnedRoom) {
		t.Fatalf("err = %v, want ErrNoOwnedRoom", err)
	}
	var v any
	if found, _ := store.Get(ctx, "users/u1/createdRoomId", &v); found {
		t.Error("stale pointer not cleared")
	}

	// A second attempt now reports the same error without the pointer.
	if err := m.SwitchToOwnedRoom(ctx); !errors.Is(err, ErrNoOwnedRoom) {
		t.Fatalf("second attempt err = %v, want ErrNoOwnedRoom", err)
	}
}

func TestSwitchToPersonalKeepsMembership(t *testing.T) {
	store := treestore.NewMemory()
	ctx := context.Background()
	owner := newTestManager(t, store.Handle(), "owner")
	code, err := owner.CreateRoom(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := owner.SwitchToPersonal(ctx); err != nil {
		t.Fatal(err)
	}

	if state, _, _ := owner.Status(); state != StatePersonal {
		t.Errorf("state = %v, want personal", state)
	}
	var member bool
	if found, _ := store.Get(ctx, "rooms/"+code+"/members/owner", &member); !found || !member {
		t.Error("membership was removed by a visual-only switch")
	}
}

func TestRoomBudgetIsSharedBetweenMembers(t *testing.T) {
	store := treestore.NewMemory()
	ctx := context.Background()
	owner := newTestManager(t, store.Handle(), "owner")
	code, err := owner.CreateRoom(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	guest := newTestManager(t, store.Handle(), "guest")
	if err := guest.JoinRoom(ctx, code); err != nil {
		t.Fatal(err)
	}

	if _, err := owner.Budget().AddTransaction(ctx, models.July, KindSpending, "groceries", 80); err != nil {
		t.Fatal(err)
	}

	data, loaded := guest.Budget().Snapshot()
	if !loaded {
		t.Fatal("guest budget not loaded")
	}
	if len(data[models.July].Spendings) != 1 || data[models.July].Spendings[0].Description != "groceries" {
		t.Errorf("guest did not see owner's write: %v", data[models.July].Spendings)
	}
}

func TestPersonalBudgetSurvivesRoomTrip(t *testing.T) {
	store := treestore.NewMemory()
	ctx := context.Background()
	m := newTestManager(t, store.Handle(), "u1")

	if _, err := m.Budget().AddTransaction(ctx, models.June, KindIncome, "salary", 1000); err != nil {
		t.Fatal(err)
	}
	code, err := m.CreateRoom(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	// Room budget starts fresh, not a copy of the personal one.
	data, _ := m.Budget().Snapshot()
	if len(data[models.June].Incomes) != 0 {
		t.Errorf("personal data leaked into room %s: %v", code, data[models.June].Incomes)
	}

	if err := m.Leave(ctx); err != nil {
		t.Fatal(err)
	}
	data, loaded := m.Budget().Snapshot()
	if !loaded {
		t.Fatal("personal budget not reloaded after leave")
	}
	if len(data[models.June].Incomes) != 1 {
		t.Errorf("personal budget lost after room trip: %v", data[models.June].Incomes)
	}
}

func TestDrainNotices(t *testing.T) {
	store := treestore.NewMemory()
	m := newTestManager(t, store.Handle(), "u1")

	m.addNotice("one")
	m.addNotice("two")
	got := m.DrainNotices()
	if len(got) != 2 || got[0].Message != "one" || got[1].Message != "two" {
		t.Errorf("notices = %+v", got)
	}
	if rest := m.DrainNotices(); len(rest) != 0 {
		t.Errorf("second drain = %+v, want empty", rest)
	}
}
