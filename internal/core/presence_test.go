package core

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"sprout-budget-go/internal/identity"
	"sprout-budget-go/internal/models"
	"sprout-budget-go/internal/treestore"
)

func newTestTracker(t *testing.T, store treestore.Store, userID string) *PresenceTracker {
	t.Helper()
	tr := NewPresenceTracker(store, zap.NewNop(), identity.User{ID: userID}, nil)
	t.Cleanup(func() { tr.Leave(context.Background()) })
	return tr
}

func TestJoinPublishesPresence(t *testing.T) {
	store := treestore.NewMemory()
	ctx := context.Background()
	tr := newTestTracker(t, store, "u1")

	if err := tr.Join(ctx, "ABC-123"); err != nil {
		t.Fatal(err)
	}

	var record models.MemberPresence
	found, err := store.Get(ctx, "rooms/ABC-123/activeMembers/u1", &record)
	if err != nil || !found {
		t.Fatalf("presence record missing: found=%v err=%v", found, err)
	}
	if !record.IsActive || record.UserID != "u1" {
		t.Errorf("record = %+v", record)
	}

	snap := tr.Snapshot()
	if snap.MemberCount != 1 || !snap.IsLastMember {
		t.Errorf("snapshot = %+v, want count 1 and isLastMember", snap)
	}
}

func TestTwoMembersSeeEachOther(t *testing.T) {
	store := treestore.NewMemory()
	ctx := context.Background()
	tr1 := newTestTracker(t, store.Handle(), "u1")
	tr2 := newTestTracker(t, store.Handle(), "u2")

	if err := tr1.Join(ctx, "ABC-123"); err != nil {
		t.Fatal(err)
	}
	if err := tr2.Join(ctx, "ABC-123"); err != nil {
		t.Fatal(err)
	}

	for _, tr := range []*PresenceTracker{tr1, tr2} {
		snap := tr.Snapshot()
		if snap.MemberCount != 2 {
			t.Errorf("member count = %d, want 2", snap.MemberCount)
		}
		if snap.IsLastMember {
			t.Error("isLastMember true with two active members")
		}
	}

	// u2 leaves cleanly: flipped inactive, so u1 becomes the last one.
	tr2.Leave(ctx)
	snap := tr1.Snapshot()
	if snap.MemberCount != 1 || !snap.IsLastMember {
		t.Errorf("after leave snapshot = %+v, want count 1 and isLastMember", snap)
	}
}

func TestLeaveMarksInactiveInsteadOfRemoving(t *testing.T) {
	store := treestore.NewMemory()
	ctx := context.Background()
	tr := newTestTracker(t, store, "u1")
	if err := tr.Join(ctx, "ABC-123"); err != nil {
		t.Fatal(err)
	}

	tr.Leave(ctx)

	var record models.MemberPresence
	found, _ := store.Get(ctx, "rooms/ABC-123/activeMembers/u1", &record)
	if !found {
		t.Fatal("record removed on leave; cleanup owns removal")
	}
	if record.IsActive {
		t.Error("record still active after leave")
	}
}

func TestDropKeepsDisconnectWriteArmed(t *testing.T) {
	store := treestore.NewMemory()
	ctx := context.Background()
	handle := store.Handle()
	tr := NewPresenceTracker(handle, zap.NewNop(), identity.User{ID: "u1"}, nil)

	if err := tr.Join(ctx, "ABC-123"); err != nil {
		t.Fatal(err)
	}
	tr.Drop()

	// The record stays active until the connection is declared dead.
	var record models.MemberPresence
	if found, _ := store.Get(ctx, "rooms/ABC-123/activeMembers/u1", &record); !found || !record.IsActive {
		t.Fatalf("record after Drop = %+v (found=%v)", record, found)
	}

	if err := handle.Disconnect(ctx); err != nil {
		t.Fatal(err)
	}
	if found, _ := store.Get(ctx, "rooms/ABC-123/activeMembers/u1", &record); !found || record.IsActive {
		t.Errorf("disconnect write did not flip record: %+v (found=%v)", record, found)
	}
}

func TestCleanupThresholds(t *testing.T) {
	store := treestore.NewMemory()
	ctx := context.Background()
	now := time.Now().UnixMilli()

	write := func(id string, lastSeen int64, active bool) {
		rec := models.MemberPresence{UserID: id, JoinedAt: lastSeen, LastSeen: lastSeen, IsActive: active}
		if err := store.Set(ctx, "rooms/R00-M00/activeMembers/"+id, rec); err != nil {
			t.Fatal(err)
		}
	}

	write("fresh-active", now-30_000, true)                          // stays
	write("fresh-inactive", now-60_000, false)                       // inactive but < 5min, stays
	write("old-inactive", now-6*60*1000, false)                      // inactive >= 5min, removed
	write("zombie-active", now-25*60*60*1000, true)                  // active flag but >= 24h, removed
	write("barely-inactive", now-inactiveThreshold.Milliseconds(), false) // at threshold, removed

	tr := newTestTracker(t, store, "janitor")
	if err := tr.CleanupInactiveMembers(ctx, "R00-M00"); err != nil {
		t.Fatal(err)
	}

	var members map[string]models.MemberPresence
	if found, _ := store.Get(ctx, "rooms/R00-M00/activeMembers", &members); !found {
		t.Fatal("activeMembers vanished entirely")
	}
	for _, want := range []string{"fresh-active", "fresh-inactive"} {
		if _, ok := members[want]; !ok {
			t.Errorf("%s was removed but should stay", want)
		}
	}
	for _, gone := range []string{"old-inactive", "zombie-active", "barely-inactive"} {
		if _, ok := members[gone]; ok {
			t.Errorf("%s should have been removed", gone)
		}
	}
}

func TestCleanupStampsLastActivityWhenEmpty(t *testing.T) {
	store := treestore.NewMemory()
	ctx := context.Background()
	now := time.Now().UnixMilli()

	rec := models.MemberPresence{UserID: "gone", JoinedAt: now, LastSeen: now - 10*60*1000, IsActive: false}
	if err := store.Set(ctx, "rooms/R00-M00/activeMembers/gone", rec); err != nil {
		t.Fatal(err)
	}

	tr := newTestTracker(t, store, "janitor")
	if err := tr.CleanupInactiveMembers(ctx, "R00-M00"); err != nil {
		t.Fatal(err)
	}

	var stamp int64
	if found, _ := store.Get(ctx, "rooms/R00-M00/meta/lastActivity", &stamp); !found || stamp == 0 {
		t.Error("lastActivity not stamped after last record was reaped")
	}
}

func TestPermissionLossZeroesPresence(t *testing.T) {
	store := treestore.NewMemory()
	ctx := context.Background()
	tr := newTestTracker(t, store, "u1")
	if err := tr.Join(ctx, "ABC-123"); err != nil {
		t.Fatal(err)
	}
	if tr.Snapshot().MemberCount != 1 {
		t.Fatal("setup: expected one active member")
	}

	store.DenyPath("rooms/ABC-123")

	snap := tr.Snapshot()
	if snap.MemberCount != 0 || snap.IsLastMember {
		t.Errorf("snapshot after revocation = %+v, want zeroed", snap)
	}
}
