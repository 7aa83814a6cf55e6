package social

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ConnectionGraph maintains the symmetric friend edges of one viewer.
//
// TERMINOLOGY
// connect: write the peer's snapshot into the viewer's friends set, then
// the viewer's snapshot into the peer's. The two writes are independent;
// there is no transaction across profile records.
// disconnect: remove both entries, same two-write structure.
//
// The handle holds the viewer's friends set as an in-memory snapshot.
// IsConnected answers from that snapshot without I/O, and Connect uses it
// as the duplicate pre-check instead of re-reading the peer's current edge
// list, which would only trade one race for another. A completed operation
// updates the snapshot; a totally failed one leaves it untouched. After a
// PartialWriteError the snapshot reflects the committed viewer side.
type ConnectionGraph struct {
	viewerID string
	friends  map[string]FriendRef
	profiles ProfileStore
}

// NewConnectionGraph builds a handle for viewerID over its current friends
// list, usually the one read together with the viewer's profile.
func NewConnectionGraph(viewerID string, friends []FriendRef, profiles ProfileStore) *ConnectionGraph {
	set := make(map[string]FriendRef, len(friends))
	for _, f := range friends {
		set[f.ID] = f
	}
	return &ConnectionGraph{viewerID: viewerID, friends: set, profiles: profiles}
}

// ViewerID returns the id the handle was opened for.
func (g *ConnectionGraph) ViewerID() string { return g.viewerID }

// IsConnected reports whether candidateID is in the viewer's friends
// snapshot. Pure, no I/O.
func (g *ConnectionGraph) IsConnected(candidateID string) bool {
	_, ok := g.friends[candidateID]
	return ok
}

// Friends returns a copy of the viewer's friends snapshot.
func (g *ConnectionGraph) Friends() []FriendRef {
	out := make([]FriendRef, 0, len(g.friends))
	for _, f := range g.friends {
		out = append(out, f)
	}
	return out
}

// FriendIDs returns the ids of the viewer's friends snapshot, in the shape
// feed sessions take for the ranking policy.
func (g *ConnectionGraph) FriendIDs() []string {
	ids := make([]string, 0, len(g.friends))
	for id := range g.friends {
		ids = append(ids, id)
	}
	return ids
}

// Connect creates the symmetric edge viewer <-> peer. viewerSnap is the
// snapshot stored on the peer's side, peerSnap the one stored on the
// viewer's side. If the peer-side write fails after the viewer-side write
// committed, the edge is left asymmetric and a *PartialWriteError is
// returned; the caller decides whether to retry the failed side.
func (g *ConnectionGraph) Connect(ctx context.Context, viewerSnap FriendRef, peerID string, peerSnap FriendRef) error {
	if peerID == g.viewerID {
		return fmt.Errorf("%w: cannot connect to self", ErrInvalidArgument)
	}
	if viewerSnap.ID == "" || peerSnap.ID == "" || peerSnap.ID != peerID {
		return fmt.Errorf("%w: snapshot missing id", ErrInvalidArgument)
	}
	if viewerSnap.ID != g.viewerID {
		return fmt.Errorf("%w: viewer snapshot id mismatch", ErrInvalidArgument)
	}
	if g.IsConnected(peerID) {
		return ErrAlreadyConnected
	}

	viewer, err := g.locateProfile(ctx, g.viewerID)
	if err != nil {
		return err
	}
	peer, err := g.locateProfile(ctx, peerID)
	if err != nil {
		return err
	}

	// Viewer side first. Failure here is a total failure: nothing was
	// written, local state stays untouched.
	if err := g.profiles.UnionFriend(ctx, viewer.ID, peerSnap); err != nil {
		return storeErr(err)
	}
	g.friends[peerID] = peerSnap

	// Peer side. Failure here leaves viewer -> peer in place.
	if err := g.profiles.UnionFriend(ctx, peer.ID, viewerSnap); err != nil {
		log.Warn().Str("viewer", g.viewerID).Str("peer", peerID).Err(err).
			Msg("connect committed viewer side only")
		return &PartialWriteError{Op: "connect", CommittedID: viewer.ID, FailedID: peer.ID, Err: storeErr(err)}
	}

	log.Info().Str("viewer", g.viewerID).Str("peer", peerID).Msg("connected")
	return nil
}

// Disconnect removes the symmetric edge viewer <-> peer, with the same
// two-independent-writes structure and partial-failure exposure as Connect.
func (g *ConnectionGraph) Disconnect(ctx context.Context, peerID string) error {
	if peerID == "" {
		return fmt.Errorf("%w: empty peer id", ErrInvalidArgument)
	}
	if peerID == g.viewerID {
		return fmt.Errorf("%w: cannot disconnect from self", ErrInvalidArgument)
	}
	if !g.IsConnected(peerID) {
		return ErrNotConnected
	}

	viewer, err := g.locateProfile(ctx, g.viewerID)
	if err != nil {
		return err
	}
	peer, err := g.locateProfile(ctx, peerID)
	if err != nil {
		return err
	}

	if err := g.profiles.RemoveFriend(ctx, viewer.ID, peerID); err != nil {
		return storeErr(err)
	}
	delete(g.friends, peerID)

	if err := g.profiles.RemoveFriend(ctx, peer.ID, g.viewerID); err != nil {
		log.Warn().Str("viewer", g.viewerID).Str("peer", peerID).Err(err).
			Msg("disconnect committed viewer side only")
		return &PartialWriteError{Op: "disconnect", CommittedID: viewer.ID, FailedID: peer.ID, Err: storeErr(err)}
	}

	log.Info().Str("viewer", g.viewerID).Str("peer", peerID).Msg("disconnected")
	return nil
}

// locateProfile finds a profile record by id, falling back to an
// equality-predicate scan when the point read misses. Stores that key
// records by something other than the user id only answer the scan.
func (g *ConnectionGraph) locateProfile(ctx context.Context, id string) (*UserProfile, error) {
	p, err := g.profiles.GetByID(ctx, id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, storeErr(err)
	}
	matches, err := g.profiles.QueryByField(ctx, "id", id)
	if err != nil {
		return nil, storeErr(err)
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	return matches[0], nil
}
