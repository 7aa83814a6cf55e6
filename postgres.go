package social

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Schema is the backing schema of the Postgres adapters. The deployment
// applies it once at provisioning time; cmd/seed applies it too so a fresh
// database can be seeded in one step.
const Schema = `
CREATE TABLE IF NOT EXISTS profiles (
    id            TEXT PRIMARY KEY,
    display_name  TEXT NOT NULL DEFAULT '',
    email         TEXT NOT NULL DEFAULT '',
    profile_photo TEXT NOT NULL DEFAULT '',
    sports_name   TEXT NOT NULL DEFAULT '',
    user_type     TEXT NOT NULL DEFAULT '',
    friends       JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS posts (
    id           TEXT PRIMARY KEY,
    author_id    TEXT NOT NULL,
    author_name  TEXT NOT NULL DEFAULT '',
    author_email TEXT NOT NULL DEFAULT '',
    author_photo TEXT NOT NULL DEFAULT '',
    body         TEXT NOT NULL,
    image        TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS posts_created_idx ON posts (created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS posts_author_idx  ON posts (author_id, created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS post_likes (
    post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
    user_id TEXT NOT NULL,
    PRIMARY KEY (post_id, user_id)
);
`

// postsChannel is the LISTEN/NOTIFY channel live deliveries ride on. The
// payload is the author id of the changed post, so author-scoped
// subscriptions can skip refreshes that cannot concern them.
const postsChannel = "posts_changed"

// EnsureSchema applies Schema. Idempotent.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return storeErr(err)
}

// PGProfileStore is the Postgres ProfileStore.
type PGProfileStore struct {
	db *sql.DB
}

// NewPGProfileStore wraps an open connection pool.
func NewPGProfileStore(db *sql.DB) *PGProfileStore {
	return &PGProfileStore{db: db}
}

// profileColumns maps adapter field names to columns for equality queries
// and merge writes. Anything else is rejected, not interpolated.
var profileColumns = map[string]string{
	"id":            "id",
	"display_name":  "display_name",
	"email":         "email",
	"profile_photo": "profile_photo",
	"sports_name":   "sports_name",
	"user_type":     "user_type",
}

const profileSelect = `SELECT id, display_name, email, profile_photo, sports_name, user_type, friends FROM profiles`

func scanProfile(row interface{ Scan(...any) error }) (*UserProfile, error) {
	var p UserProfile
	var friendsRaw []byte
	if err := row.Scan(&p.ID, &p.DisplayName, &p.Email, &p.ProfilePhoto, &p.SportsName, &p.UserType, &friendsRaw); err != nil {
		return nil, err
	}
	if len(friendsRaw) > 0 {
		if err := json.Unmarshal(friendsRaw, &p.Friends); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func (s *PGProfileStore) GetByID(ctx context.Context, id string) (*UserProfile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx, profileSelect+` WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return p, nil
}

// GetByIDs answers a batch of point reads in one IN query, for the
// resolver's batch loader.
func (s *PGProfileStore) GetByIDs(ctx context.Context, ids []string) (map[string]*UserProfile, error) {
	if len(ids) == 0 {
		return map[string]*UserProfile{}, nil
	}
	rows, err := s.db.QueryContext(ctx, profileSelect+` WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	out := make(map[string]*UserProfile, len(ids))
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		out[p.ID] = p
	}
	return out, storeErr(rows.Err())
}

func (s *PGProfileStore) QueryByField(ctx context.Context, field, value string) ([]*UserProfile, error) {
	col, ok := profileColumns[field]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported query field %q", ErrInvalidArgument, field)
	}
	rows, err := s.db.QueryContext(ctx, profileSelect+` WHERE `+col+` = $1 ORDER BY id`, value)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	return collectProfiles(rows)
}

func (s *PGProfileStore) All(ctx context.Context) ([]*UserProfile, error) {
	rows, err := s.db.QueryContext(ctx, profileSelect+` ORDER BY id`)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	return collectProfiles(rows)
}

func (s *PGProfileStore) SearchByName(ctx context.Context, prefix string, limit int) ([]*UserProfile, error) {
	if limit <= 0 {
		limit = 20
	}
	// Escape LIKE wildcards so the prefix stays a literal prefix.
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	rows, err := s.db.QueryContext(ctx,
		profileSelect+` WHERE display_name ILIKE $1 ORDER BY display_name, id LIMIT $2`,
		escaped+"%", limit)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	return collectProfiles(rows)
}

func collectProfiles(rows *sql.Rows) ([]*UserProfile, error) {
	var out []*UserProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		out = append(out, p)
	}
	return out, storeErr(rows.Err())
}

func (s *PGProfileStore) MergeWrite(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	sets := make([]string, 0, len(fields))
	args := []any{id}
	for k, v := range fields {
		col, ok := profileColumns[k]
		if !ok || col == "id" {
			return fmt.Errorf("%w: unsupported merge field %q", ErrInvalidArgument, k)
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return storeErr(err)
	}
	return noRowsAsNotFound(res)
}

func (s *PGProfileStore) UnionFriend(ctx context.Context, id string, ref FriendRef) error {
	if ref.ID == "" {
		return fmt.Errorf("%w: friend ref missing id", ErrInvalidArgument)
	}
	if ref.ID == id {
		return fmt.Errorf("%w: self edge", ErrInvalidArgument)
	}
	refJSON, err := json.Marshal([]FriendRef{ref})
	if err != nil {
		return storeErr(err)
	}
	// Union matches on id: the existing entry for the peer, if any, is
	// filtered out before the new snapshot is appended.
	res, err := s.db.ExecContext(ctx, `
        UPDATE profiles
        SET friends = (
            SELECT COALESCE(jsonb_agg(f), '[]'::jsonb)
            FROM jsonb_array_elements(friends) f
            WHERE f->>'id' <> $2
        ) || $3::jsonb
        WHERE id = $1
    `, id, ref.ID, string(refJSON))
	if err != nil {
		return storeErr(err)
	}
	return noRowsAsNotFound(res)
}

func (s *PGProfileStore) RemoveFriend(ctx context.Context, id string, peerID string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE profiles
        SET friends = (
            SELECT COALESCE(jsonb_agg(f), '[]'::jsonb)
            FROM jsonb_array_elements(friends) f
            WHERE f->>'id' <> $2
        )
        WHERE id = $1
    `, id, peerID)
	if err != nil {
		return storeErr(err)
	}
	return noRowsAsNotFound(res)
}

func noRowsAsNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PGPostStore is the Postgres PostStore. Live deliveries are driven by
// LISTEN/NOTIFY: every mutation notifies postsChannel and each
// subscription re-runs its first-page query on notification.
type PGPostStore struct {
	db  *sql.DB
	dsn string
}

// NewPGPostStore wraps an open connection pool. dsn is reused for the
// dedicated listener connections subscriptions need.
func NewPGPostStore(db *sql.DB, dsn string) *PGPostStore {
	return &PGPostStore{db: db, dsn: dsn}
}

const postSelect = `
    SELECT p.id, p.author_id, p.author_name, p.author_email, p.author_photo,
           p.body, p.image, p.created_at,
           COALESCE((SELECT array_agg(l.user_id ORDER BY l.user_id)
                     FROM post_likes l WHERE l.post_id = p.id), '{}')
    FROM posts p`

func scanPost(row interface{ Scan(...any) error }) (*Post, error) {
	var p Post
	var likers pq.StringArray
	if err := row.Scan(&p.ID, &p.AuthorID, &p.Author.DisplayName, &p.Author.Email,
		&p.Author.ProfilePhoto, &p.Text, &p.Image, &p.CreatedAt, &likers); err != nil {
		return nil, err
	}
	if len(likers) > 0 {
		p.LikerIDs = []string(likers)
	}
	return &p, nil
}

func (s *PGPostStore) GetPost(ctx context.Context, id string) (*Post, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx, postSelect+` WHERE p.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return p, nil
}

func (s *PGPostStore) QueryOrdered(ctx context.Context, q PostQuery) ([]Post, error) {
	var (
		conds []string
		args  []any
	)
	if q.Filter.AuthorID != "" {
		args = append(args, q.Filter.AuthorID)
		conds = append(conds, fmt.Sprintf("p.author_id = $%d", len(args)))
	}
	if q.After != nil {
		args = append(args, q.After.CreatedAt, q.After.ID)
		conds = append(conds, fmt.Sprintf("(p.created_at, p.id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	query := postSelect
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY p.created_at DESC, p.id DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		out = append(out, *p)
	}
	return out, storeErr(rows.Err())
}

// Subscribe opens a dedicated listener connection and delivers the current
// first page on every relevant notification. Deliveries are full
// snapshots, never diffs. The 90s ping keeps the connection honest across
// quiet periods and re-delivers after a listener reconnect, which may have
// missed notifications.
func (s *PGPostStore) Subscribe(filter PostFilter, limit int) (<-chan []Post, func(), error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	listener := pq.NewListener(s.dsn, 2*time.Second, time.Minute, nil)
	if err := listener.Listen(postsChannel); err != nil {
		_ = listener.Close()
		return nil, nil, storeErr(err)
	}

	ch := make(chan []Post, 10)
	done := make(chan struct{})

	deliver := func() {
		page, err := s.QueryOrdered(context.Background(), PostQuery{Filter: filter, Limit: limit})
		if err != nil {
			log.Warn().Err(err).Msg("live feed refresh failed")
			return
		}
		select {
		case ch <- page:
		default:
		}
	}

	go func() {
		defer close(ch)
		deliver() // initial snapshot
		ping := time.NewTicker(90 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-done:
				return
			case n := <-listener.Notify:
				// n == nil after a reconnect: refresh unconditionally.
				if n != nil && filter.AuthorID != "" && n.Extra != "" && n.Extra != filter.AuthorID {
					continue
				}
				deliver()
			case <-ping.C:
				if err := listener.Ping(); err != nil {
					log.Warn().Err(err).Msg("live feed listener ping failed")
				}
			}
		}
	}()

	var stop sync.Once
	cancel := func() {
		stop.Do(func() {
			close(done)
			_ = listener.Close()
		})
	}
	return ch, cancel, nil
}

// notifyChanged fans a mutation out to listeners. Notification failures
// are logged, not returned: the write itself committed.
func (s *PGPostStore) notifyChanged(ctx context.Context, authorID string) {
	if _, err := s.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, postsChannel, authorID); err != nil {
		log.Warn().Err(err).Msg("post change notify failed")
	}
}

func (s *PGPostStore) Insert(ctx context.Context, p *Post) (string, error) {
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	// The assigned timestamp is forced past the current maximum so the
	// (created_at, id) order stays strictly increasing even if the
	// database clock stalls within its resolution.
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO posts (id, author_id, author_name, author_email, author_photo, body, image, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7,
                GREATEST(clock_timestamp(),
                         (SELECT COALESCE(MAX(created_at) + interval '1 microsecond', clock_timestamp()) FROM posts)))
        RETURNING created_at
    `, id, p.AuthorID, p.Author.DisplayName, p.Author.Email, p.Author.ProfilePhoto, p.Text, p.Image).
		Scan(&p.CreatedAt)
	if err != nil {
		return "", storeErr(err)
	}
	p.ID = id
	s.notifyChanged(ctx, p.AuthorID)
	return id, nil
}

func (s *PGPostStore) Delete(ctx context.Context, id string) error {
	var authorID string
	err := s.db.QueryRowContext(ctx, `DELETE FROM posts WHERE id = $1 RETURNING author_id`, id).Scan(&authorID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return storeErr(err)
	}
	s.notifyChanged(ctx, authorID)
	return nil
}

var postColumns = map[string]string{
	"text":  "body",
	"image": "image",
}

func (s *PGPostStore) MergeWrite(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	sets := make([]string, 0, len(fields))
	args := []any{id}
	for k, v := range fields {
		col, ok := postColumns[k]
		if !ok {
			return fmt.Errorf("%w: unsupported merge field %q", ErrInvalidArgument, k)
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	var authorID string
	err := s.db.QueryRowContext(ctx,
		`UPDATE posts SET `+strings.Join(sets, ", ")+` WHERE id = $1 RETURNING author_id`, args...).
		Scan(&authorID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return storeErr(err)
	}
	s.notifyChanged(ctx, authorID)
	return nil
}

func (s *PGPostStore) HasLike(ctx context.Context, postID, userID string) (bool, error) {
	var liked bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM post_likes WHERE post_id = $1 AND user_id = $2)`,
		postID, userID).Scan(&liked)
	if err != nil {
		return false, storeErr(err)
	}
	return liked, nil
}

func (s *PGPostStore) PutLike(ctx context.Context, postID, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO post_likes (post_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		postID, userID); err != nil {
		if pqe, ok := err.(*pq.Error); ok && pqe.Code.Name() == "foreign_key_violation" {
			return ErrNotFound
		}
		return storeErr(err)
	}
	var authorID string
	err := s.db.QueryRowContext(ctx, `SELECT author_id FROM posts WHERE id = $1`, postID).Scan(&authorID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return storeErr(err)
	}
	s.notifyChanged(ctx, authorID)
	return nil
}

func (s *PGPostStore) RemoveLike(ctx context.Context, postID, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM post_likes WHERE post_id = $1 AND user_id = $2`, postID, userID); err != nil {
		return storeErr(err)
	}
	var authorID string
	err := s.db.QueryRowContext(ctx, `SELECT author_id FROM posts WHERE id = $1`, postID).Scan(&authorID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return storeErr(err)
	}
	s.notifyChanged(ctx, authorID)
	return nil
}
