package core

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"sprout-budget-go/internal/identity"
	"sprout-budget-go/internal/treestore"
)

func TestSessionManagerReusesSessions(t *testing.T) {
	store := treestore.NewMemory()
	sm := NewSessionManager(store, zap.NewNop(), time.Minute)
	defer sm.Shutdown(context.Background())
	ctx := context.Background()

	s1, err := sm.GetOrCreate(ctx, identity.User{ID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	s2, err := sm.GetOrCreate(ctx, identity.User{ID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Error("second GetOrCreate returned a different session")
	}

	other, err := sm.GetOrCreate(ctx, identity.User{ID: "u2"})
	if err != nil {
		t.Fatal(err)
	}
	if other == s1 {
		t.Error("different users share a session")
	}
}

func TestCloseSessionLeavesPresenceCleanly(t *testing.T) {
	store := treestore.NewMemory()
	sm := NewSessionManager(store, zap.NewNop(), time.Minute)
	defer sm.Shutdown(context.Background())
	ctx := context.Background()

	s, err := sm.GetOrCreate(ctx, identity.User{ID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	code, err := s.Manager.CreateRoom(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := sm.CloseSession(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	// Clean close leaves the presence record flipped inactive, not
	// waiting on a disconnect write.
	var record struct {
		IsActive bool `json:"isActive"`
	}
	found, _ := store.Get(ctx, "rooms/"+code+"/activeMembers/u1", &record)
	if found && record.IsActive {
		t.Error("presence record still active after clean close")
	}

	// The session is gone; the next request builds a fresh one.
	s2, err := sm.GetOrCreate(ctx, identity.User{ID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if s2 == s {
		t.Error("closed session was resurrected")
	}
}

func TestCloseUnknownSessionIsNoop(t *testing.T) {
	store := treestore.NewMemory()
	sm := NewSessionManager(store, zap.NewNop(), time.Minute)
	defer sm.Shutdown(context.Background())

	if err := sm.CloseSession(context.Background(), "nobody"); err != nil {
		t.Errorf("closing unknown session: %v", err)
	}
}

func TestShutdownRejectsNewSessions(t *testing.T) {
	store := treestore.NewMemory()
	sm := NewSessionManager(store, zap.NewNop(), time.Minute)
	sm.Shutdown(context.Background())

	if _, err := sm.GetOrCreate(context.Background(), identity.User{ID: "u1"}); err == nil {
		t.Error("GetOrCreate succeeded after shutdown")
	}
}
