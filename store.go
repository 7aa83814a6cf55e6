package social

import "context"

// ProfileStore is the contract this package consumes for user profile
// records. Implementations must return ErrNotFound for absent ids and wrap
// transport failures in ErrStoreUnavailable.
type ProfileStore interface {
	// GetByID is a point read of one profile.
	GetByID(ctx context.Context, id string) (*UserProfile, error)

	// QueryByField scans for profiles whose field equals value. Supported
	// fields are "id", "display_name", "sports_name" and "user_type".
	QueryByField(ctx context.Context, field, value string) ([]*UserProfile, error)

	// All scans every profile. The recommendation scorer enumerates
	// candidates from it; order is the store's natural order and must be
	// stable between identical calls.
	All(ctx context.Context) ([]*UserProfile, error)

	// SearchByName finds up to limit profiles whose display name starts
	// with prefix, case-insensitively.
	SearchByName(ctx context.Context, prefix string, limit int) ([]*UserProfile, error)

	// MergeWrite updates only the given fields of one profile record,
	// leaving all others untouched.
	MergeWrite(ctx context.Context, id string, fields map[string]any) error

	// UnionFriend appends ref to the profile's friends set. The union
	// matches on ref.ID: re-adding an already present peer replaces the
	// stored snapshot instead of duplicating the entry.
	UnionFriend(ctx context.Context, id string, ref FriendRef) error

	// RemoveFriend removes the peer's entry from the profile's friends
	// set. Removing an absent peer is a no-op.
	RemoveFriend(ctx context.Context, id string, peerID string) error
}

// PostFilter scopes a post query or subscription. The zero value matches
// every author.
type PostFilter struct {
	AuthorID string
}

// PostQuery describes one ordered pull from the post store. Results come
// back newest-first by (CreatedAt, ID); when After is set only posts
// strictly older than it are returned.
type PostQuery struct {
	Filter PostFilter
	After  *Cursor
	Limit  int
}

// PostStore is the contract this package consumes for post records and
// their per-viewer like markers.
type PostStore interface {
	// GetPost is a point read of one post with LikerIDs materialized.
	GetPost(ctx context.Context, id string) (*Post, error)

	// QueryOrdered runs one explicit, non-live pull.
	QueryOrdered(ctx context.Context, q PostQuery) ([]Post, error)

	// Subscribe opens a live channel of full first-page snapshots for the
	// filter: each delivery is the current newest-first page capped at
	// limit, not an incremental diff. The returned cancel func closes the
	// channel and releases the subscription synchronously.
	Subscribe(filter PostFilter, limit int) (<-chan []Post, func(), error)

	// Insert stores a post, assigning a server CreatedAt that is strictly
	// greater than every previously assigned one, and returns the post id.
	Insert(ctx context.Context, p *Post) (string, error)

	// Delete removes a post. Deleting an absent post returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// MergeWrite updates only the given fields of one post record.
	MergeWrite(ctx context.Context, id string, fields map[string]any) error

	// Like markers. Each (post, viewer) pair has at most one marker and is
	// written independently of every other marker, so concurrent likers
	// never contend on the liker set as a unit.
	HasLike(ctx context.Context, postID, userID string) (bool, error)
	PutLike(ctx context.Context, postID, userID string) error
	RemoveLike(ctx context.Context, postID, userID string) error
}
