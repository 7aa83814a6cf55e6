package social

import "time"

// UserType says which side of the network a profile belongs to.
// The zero value means the user never picked one.
type UserType string

const (
	UserTypeAthlete UserType = "Athlete"
	UserTypeSponsor UserType = "Sponsor"
)

// UserProfile is one record in the profile store.
// Friends is the denormalized edge list owned by this profile; the peer
// holds its own copy of the edge and the two copies may diverge.
type UserProfile struct {
	ID           string      `json:"id"`
	DisplayName  string      `json:"display_name"`
	Email        string      `json:"email,omitempty"`
	ProfilePhoto string      `json:"profile_photo,omitempty"`
	SportsName   string      `json:"sports_name,omitempty"`
	UserType     UserType    `json:"user_type,omitempty"`
	Friends      []FriendRef `json:"friends,omitempty"`
}

// FriendRef is the snapshot of a peer captured at connection time.
// It is intentionally allowed to go stale; there is no background resync.
// Use ProfileResolver when the current profile is needed next to it.
type FriendRef struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	ProfilePhoto string `json:"profile_photo,omitempty"`
}

// AuthorSnapshot is the author info denormalized onto a post at creation.
type AuthorSnapshot struct {
	DisplayName  string `json:"display_name"`
	Email        string `json:"email,omitempty"`
	ProfilePhoto string `json:"profile_photo,omitempty"`
}

// Post is one record in the post store. CreatedAt is assigned by the store
// on insert and is strictly increasing across inserts, so (CreatedAt, ID)
// totally orders posts. LikerIDs is materialized from per-viewer like
// markers when the post is read; it is never written as a unit.
type Post struct {
	ID        string         `json:"id"`
	AuthorID  string         `json:"author_id"`
	Author    AuthorSnapshot `json:"author"`
	Text      string         `json:"text"`
	Image     string         `json:"image,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	LikerIDs  []string       `json:"liker_ids,omitempty"`
}

// Cursor marks a position in the (CreatedAt, ID) total order of posts.
// Pagination requests items strictly older than the cursor.
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

// CursorOf returns the cursor of a post.
func CursorOf(p Post) Cursor {
	return Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
}

// Before reports whether c is strictly older than other in the
// (CreatedAt, ID) order. Ties on CreatedAt break on ID.
func (c Cursor) Before(other Cursor) bool {
	if !c.CreatedAt.Equal(other.CreatedAt) {
		return c.CreatedAt.Before(other.CreatedAt)
	}
	return c.ID < other.ID
}

// IsZero reports whether the cursor has never been set.
func (c Cursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.ID == ""
}

// RecommendationCandidate is a scored profile produced by the scorer.
type RecommendationCandidate struct {
	Profile    UserProfile `json:"profile"`
	MatchScore int         `json:"match_score"`
}
