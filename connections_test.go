package social

import (
	"context"
	"errors"
	"testing"
)

// ============================================================================
// CONNECTION GRAPH TEST SUITE
// ============================================================================

func TestConnectionGraphSuite(t *testing.T) {
	t.Run("Connect", func(t *testing.T) {
		testConnect(t)
	})

	t.Run("ConnectValidation", func(t *testing.T) {
		testConnectValidation(t)
	})

	t.Run("ConnectPartialWrite", func(t *testing.T) {
		testConnectPartialWrite(t)
	})

	t.Run("Disconnect", func(t *testing.T) {
		testDisconnect(t)
	})

	t.Run("DisconnectPartialWrite", func(t *testing.T) {
		testDisconnectPartialWrite(t)
	})

	t.Run("SnapshotReplacement", func(t *testing.T) {
		testSnapshotReplacement(t)
	})

	t.Run("LocateFallback", func(t *testing.T) {
		testLocateFallback(t)
	})
}

func newConnectionFixture(t *testing.T) (*MemProfileStore, *UserProfile, *UserProfile) {
	t.Helper()
	store := NewMemProfileStore()
	alice := &UserProfile{ID: "alice", DisplayName: "Alice Tamm", SportsName: "Boxing", UserType: UserTypeAthlete}
	bob := &UserProfile{ID: "bob", DisplayName: "Bob Kask", SportsName: "Boxing", UserType: UserTypeSponsor}
	store.Put(alice)
	store.Put(bob)
	return store, alice, bob
}

func ref(p *UserProfile) FriendRef {
	return FriendRef{ID: p.ID, DisplayName: p.DisplayName, ProfilePhoto: p.ProfilePhoto}
}

func testConnect(t *testing.T) {
	ctx := context.Background()
	store, alice, bob := newConnectionFixture(t)

	graph := NewConnectionGraph(alice.ID, nil, store)
	if err := graph.Connect(ctx, ref(alice), bob.ID, ref(bob)); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if !graph.IsConnected(bob.ID) {
		t.Error("expected viewer snapshot to contain peer after connect")
	}

	// Both stored edge lists must hold the other side's snapshot.
	storedAlice, err := store.GetByID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("get alice: %v", err)
	}
	if len(storedAlice.Friends) != 1 || storedAlice.Friends[0].ID != bob.ID {
		t.Errorf("alice friends = %+v, want [bob]", storedAlice.Friends)
	}

	storedBob, err := store.GetByID(ctx, bob.ID)
	if err != nil {
		t.Fatalf("get bob: %v", err)
	}
	if len(storedBob.Friends) != 1 || storedBob.Friends[0].ID != alice.ID {
		t.Errorf("bob friends = %+v, want [alice]", storedBob.Friends)
	}

	// A fresh handle built from the peer's stored list sees the edge too.
	peerGraph := NewConnectionGraph(bob.ID, storedBob.Friends, store)
	if !peerGraph.IsConnected(alice.ID) {
		t.Error("expected peer-side handle to report connection")
	}

	// Connecting again with the same local snapshot is rejected up front.
	if err := graph.Connect(ctx, ref(alice), bob.ID, ref(bob)); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second connect: got %v, want ErrAlreadyConnected", err)
	}
}

func testConnectValidation(t *testing.T) {
	ctx := context.Background()
	store, alice, bob := newConnectionFixture(t)
	graph := NewConnectionGraph(alice.ID, nil, store)

	tests := []struct {
		name       string
		viewerSnap FriendRef
		peerID     string
		peerSnap   FriendRef
		wantErr    error
	}{
		{
			name:       "Self Connection",
			viewerSnap: ref(alice),
			peerID:     alice.ID,
			peerSnap:   ref(alice),
			wantErr:    ErrInvalidArgument,
		},
		{
			name:       "Viewer Snapshot Missing ID",
			viewerSnap: FriendRef{DisplayName: "Alice Tamm"},
			peerID:     bob.ID,
			peerSnap:   ref(bob),
			wantErr:    ErrInvalidArgument,
		},
		{
			name:       "Peer Snapshot Missing ID",
			viewerSnap: ref(alice),
			peerID:     bob.ID,
			peerSnap:   FriendRef{DisplayName: "Bob Kask"},
			wantErr:    ErrInvalidArgument,
		},
		{
			name:       "Peer Snapshot ID Mismatch",
			viewerSnap: ref(alice),
			peerID:     bob.ID,
			peerSnap:   FriendRef{ID: "mallory"},
			wantErr:    ErrInvalidArgument,
		},
		{
			name:       "Unknown Peer",
			viewerSnap: ref(alice),
			peerID:     "ghost",
			peerSnap:   FriendRef{ID: "ghost"},
			wantErr:    ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := graph.Connect(ctx, tt.viewerSnap, tt.peerID, tt.peerSnap)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
			if graph.IsConnected(tt.peerID) {
				t.Error("failed connect must not mutate the local snapshot")
			}
		})
	}
}

func testConnectPartialWrite(t *testing.T) {
	ctx := context.Background()
	store, alice, bob := newConnectionFixture(t)
	graph := NewConnectionGraph(alice.ID, nil, store)

	// Peer-side write fails deterministically; viewer side commits.
	store.FailOp("union", bob.ID, errors.New("connection reset"))
	err := graph.Connect(ctx, ref(alice), bob.ID, ref(bob))

	pw, ok := IsPartialWrite(err)
	if !ok {
		t.Fatalf("got %v, want PartialWriteError", err)
	}
	if pw.CommittedID != alice.ID || pw.FailedID != bob.ID {
		t.Errorf("partial write sides = (%s, %s), want (alice, bob)", pw.CommittedID, pw.FailedID)
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("partial write cause should unwrap to ErrStoreUnavailable, got %v", err)
	}

	// The edge is asymmetric: viewer -> peer exists, peer -> viewer does not.
	if !graph.IsConnected(bob.ID) {
		t.Error("viewer side committed, local snapshot must show the edge")
	}
	storedBob, _ := store.GetByID(ctx, bob.ID)
	peerGraph := NewConnectionGraph(bob.ID, storedBob.Friends, store)
	if peerGraph.IsConnected(alice.ID) {
		t.Error("peer side failed, peer edge list must not show the edge")
	}

	// Viewer-side failure is a total failure: nothing written anywhere.
	store.FailOp("union", bob.ID, nil)
	store.FailOp("union", alice.ID, errors.New("connection reset"))
	graph2 := NewConnectionGraph(alice.ID, nil, store)
	err = graph2.Connect(ctx, ref(alice), bob.ID, ref(bob))
	if _, ok := IsPartialWrite(err); ok {
		t.Fatal("viewer-side failure must not be reported as partial")
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("got %v, want ErrStoreUnavailable", err)
	}
	if graph2.IsConnected(bob.ID) {
		t.Error("total failure must not mutate the local snapshot")
	}
}

func testDisconnect(t *testing.T) {
	ctx := context.Background()
	store, alice, bob := newConnectionFixture(t)
	graph := NewConnectionGraph(alice.ID, nil, store)

	if err := graph.Disconnect(ctx, bob.ID); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnect unconnected: got %v, want ErrNotConnected", err)
	}

	if err := graph.Connect(ctx, ref(alice), bob.ID, ref(bob)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := graph.Disconnect(ctx, bob.ID); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	if graph.IsConnected(bob.ID) {
		t.Error("local snapshot still shows edge after disconnect")
	}
	storedAlice, _ := store.GetByID(ctx, alice.ID)
	storedBob, _ := store.GetByID(ctx, bob.ID)
	if len(storedAlice.Friends) != 0 || len(storedBob.Friends) != 0 {
		t.Errorf("stored edges after disconnect: alice=%v bob=%v, want both empty",
			storedAlice.Friends, storedBob.Friends)
	}
}

func testDisconnectPartialWrite(t *testing.T) {
	ctx := context.Background()
	store, alice, bob := newConnectionFixture(t)
	graph := NewConnectionGraph(alice.ID, nil, store)
	if err := graph.Connect(ctx, ref(alice), bob.ID, ref(bob)); err != nil {
		t.Fatalf("connect: %v", err)
	}

	store.FailOp("remove", bob.ID, errors.New("connection reset"))
	err := graph.Disconnect(ctx, bob.ID)
	pw, ok := IsPartialWrite(err)
	if !ok {
		t.Fatalf("got %v, want PartialWriteError", err)
	}
	if pw.Op != "disconnect" {
		t.Errorf("op = %q, want disconnect", pw.Op)
	}

	// Viewer side is gone, peer still holds its stale edge.
	if graph.IsConnected(bob.ID) {
		t.Error("viewer side committed, local snapshot must drop the edge")
	}
	storedBob, _ := store.GetByID(ctx, bob.ID)
	if len(storedBob.Friends) != 1 {
		t.Errorf("peer edge list = %v, want the stale alice entry", storedBob.Friends)
	}
}

func testSnapshotReplacement(t *testing.T) {
	ctx := context.Background()
	store, alice, bob := newConnectionFixture(t)

	if err := store.UnionFriend(ctx, alice.ID, ref(bob)); err != nil {
		t.Fatalf("union: %v", err)
	}
	// Re-adding the same peer with a changed snapshot replaces by id
	// instead of duplicating the entry.
	changed := FriendRef{ID: bob.ID, DisplayName: "Bob K.", ProfilePhoto: "new.png"}
	if err := store.UnionFriend(ctx, alice.ID, changed); err != nil {
		t.Fatalf("union replace: %v", err)
	}

	storedAlice, _ := store.GetByID(ctx, alice.ID)
	if len(storedAlice.Friends) != 1 {
		t.Fatalf("friends = %v, want a single entry", storedAlice.Friends)
	}
	if storedAlice.Friends[0].DisplayName != "Bob K." {
		t.Errorf("snapshot not replaced: %+v", storedAlice.Friends[0])
	}

	// The set never holds a self edge.
	if err := store.UnionFriend(ctx, alice.ID, ref(alice)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("self union: got %v, want ErrInvalidArgument", err)
	}
}

func testLocateFallback(t *testing.T) {
	ctx := context.Background()
	store, alice, bob := newConnectionFixture(t)
	graph := NewConnectionGraph(alice.ID, nil, store)

	// Point reads miss; the graph falls back to the equality scan.
	store.FailOp("get", alice.ID, ErrNotFound)
	store.FailOp("get", bob.ID, ErrNotFound)

	if err := graph.Connect(ctx, ref(alice), bob.ID, ref(bob)); err != nil {
		t.Fatalf("connect via scan fallback: %v", err)
	}
	if !graph.IsConnected(bob.ID) {
		t.Error("expected edge after fallback connect")
	}
}
