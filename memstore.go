package social

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemProfileStore is an in-memory ProfileStore. It backs tests and small
// deployments; the Postgres stores are the production adapters.
type MemProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*UserProfile
	order    []string // insertion order, the store's natural scan order

	// failpoints: op -> error, consumed on every matching call until
	// cleared. Ops: "get", "query", "merge", "union", "remove". A key of
	// the form "op:id" fails only calls targeting that record, which is
	// how the partial-write paths are driven deterministically.
	fail map[string]error
}

// NewMemProfileStore builds an empty in-memory profile store.
func NewMemProfileStore() *MemProfileStore {
	return &MemProfileStore{
		profiles: make(map[string]*UserProfile),
		fail:     make(map[string]error),
	}
}

// Put inserts or replaces a profile record.
func (s *MemProfileStore) Put(p *UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	cp := *p
	cp.Friends = append([]FriendRef(nil), p.Friends...)
	s.profiles[p.ID] = &cp
}

// FailOp arms a failpoint: every call of op (optionally scoped to one
// record id) returns err until the failpoint is cleared with err == nil.
func (s *MemProfileStore) FailOp(op, id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := op
	if id != "" {
		key = op + ":" + id
	}
	if err == nil {
		delete(s.fail, key)
		return
	}
	s.fail[key] = err
}

// failFor is checked with s.mu held.
func (s *MemProfileStore) failFor(op, id string) error {
	if err, ok := s.fail[op+":"+id]; ok {
		return err
	}
	if err, ok := s.fail[op]; ok {
		return err
	}
	return nil
}

func (s *MemProfileStore) GetByID(ctx context.Context, id string) (*UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failFor("get", id); err != nil {
		return nil, storeErr(err)
	}
	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyProfile(p), nil
}

// GetByIDs answers a batch of point reads; absent ids are simply missing
// from the result map.
func (s *MemProfileStore) GetByIDs(ctx context.Context, ids []string) (map[string]*UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failFor("get", ""); err != nil {
		return nil, storeErr(err)
	}
	out := make(map[string]*UserProfile, len(ids))
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out[id] = copyProfile(p)
		}
	}
	return out, nil
}

func (s *MemProfileStore) QueryByField(ctx context.Context, field, value string) ([]*UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failFor("query", ""); err != nil {
		return nil, storeErr(err)
	}
	var out []*UserProfile
	for _, id := range s.order {
		p := s.profiles[id]
		var got string
		switch field {
		case "id":
			got = p.ID
		case "display_name":
			got = p.DisplayName
		case "sports_name":
			got = p.SportsName
		case "user_type":
			got = string(p.UserType)
		default:
			return nil, fmt.Errorf("%w: unsupported query field %q", ErrInvalidArgument, field)
		}
		if got == value {
			out = append(out, copyProfile(p))
		}
	}
	return out, nil
}

func (s *MemProfileStore) All(ctx context.Context) ([]*UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failFor("query", ""); err != nil {
		return nil, storeErr(err)
	}
	out := make([]*UserProfile, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, copyProfile(s.profiles[id]))
	}
	return out, nil
}

func (s *MemProfileStore) SearchByName(ctx context.Context, prefix string, limit int) ([]*UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failFor("query", ""); err != nil {
		return nil, storeErr(err)
	}
	needle := strings.ToLower(prefix)
	var out []*UserProfile
	for _, id := range s.order {
		p := s.profiles[id]
		if strings.HasPrefix(strings.ToLower(p.DisplayName), needle) {
			out = append(out, copyProfile(p))
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemProfileStore) MergeWrite(ctx context.Context, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor("merge", id); err != nil {
		return storeErr(err)
	}
	p, ok := s.profiles[id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case "display_name":
			p.DisplayName, _ = v.(string)
		case "email":
			p.Email, _ = v.(string)
		case "profile_photo":
			p.ProfilePhoto, _ = v.(string)
		case "sports_name":
			p.SportsName, _ = v.(string)
		case "user_type":
			switch t := v.(type) {
			case UserType:
				p.UserType = t
			case string:
				p.UserType = UserType(t)
			}
		default:
			return fmt.Errorf("%w: unsupported merge field %q", ErrInvalidArgument, k)
		}
	}
	return nil
}

func (s *MemProfileStore) UnionFriend(ctx context.Context, id string, ref FriendRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor("union", id); err != nil {
		return storeErr(err)
	}
	p, ok := s.profiles[id]
	if !ok {
		return ErrNotFound
	}
	if ref.ID == "" {
		return fmt.Errorf("%w: friend ref missing id", ErrInvalidArgument)
	}
	if ref.ID == p.ID {
		return fmt.Errorf("%w: self edge", ErrInvalidArgument)
	}
	for i := range p.Friends {
		if p.Friends[i].ID == ref.ID {
			// Union matches on id: a changed snapshot replaces the stored
			// one instead of duplicating the entry.
			p.Friends[i] = ref
			return nil
		}
	}
	p.Friends = append(p.Friends, ref)
	return nil
}

func (s *MemProfileStore) RemoveFriend(ctx context.Context, id string, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor("remove", id); err != nil {
		return storeErr(err)
	}
	p, ok := s.profiles[id]
	if !ok {
		return ErrNotFound
	}
	kept := p.Friends[:0]
	for _, f := range p.Friends {
		if f.ID != peerID {
			kept = append(kept, f)
		}
	}
	p.Friends = kept
	return nil
}

func copyProfile(p *UserProfile) *UserProfile {
	cp := *p
	cp.Friends = append([]FriendRef(nil), p.Friends...)
	return &cp
}

// postSubscriber is one live first-page subscription of the in-memory
// post store.
type postSubscriber struct {
	filter PostFilter
	limit  int
	ch     chan []Post
}

// MemPostStore is an in-memory PostStore with live first-page snapshot
// subscriptions. Every mutation re-broadcasts the current first page to
// each subscriber whose filter it touches, same shape as a remote
// snapshot listener.
type MemPostStore struct {
	mu          sync.RWMutex
	posts       map[string]*Post
	likes       map[string]map[string]struct{} // postID -> liker set
	subscribers map[*postSubscriber]bool
	lastStamp   time.Time

	fail map[string]error // op failpoints, see MemProfileStore
}

// NewMemPostStore builds an empty in-memory post store.
func NewMemPostStore() *MemPostStore {
	return &MemPostStore{
		posts:       make(map[string]*Post),
		likes:       make(map[string]map[string]struct{}),
		subscribers: make(map[*postSubscriber]bool),
		fail:        make(map[string]error),
	}
}

// FailOp arms a failpoint for op ("get", "query", "insert", "delete",
// "merge", "like", "subscribe"); err == nil clears it.
func (s *MemPostStore) FailOp(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

func (s *MemPostStore) failFor(op string) error {
	if err, ok := s.fail[op]; ok {
		return err
	}
	return nil
}

func (s *MemPostStore) GetPost(ctx context.Context, id string) (*Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failFor("get"); err != nil {
		return nil, storeErr(err)
	}
	p, ok := s.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := s.materialize(p)
	return &cp, nil
}

func (s *MemPostStore) QueryOrdered(ctx context.Context, q PostQuery) ([]Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failFor("query"); err != nil {
		return nil, storeErr(err)
	}
	return s.page(q.Filter, q.After, q.Limit), nil
}

// page computes one newest-first page. Caller holds at least s.mu.RLock.
func (s *MemPostStore) page(filter PostFilter, after *Cursor, limit int) []Post {
	matched := make([]Post, 0, len(s.posts))
	for _, p := range s.posts {
		if filter.AuthorID != "" && p.AuthorID != filter.AuthorID {
			continue
		}
		if after != nil && !CursorOf(*p).Before(*after) {
			continue
		}
		matched = append(matched, s.materialize(p))
	}
	sort.Slice(matched, func(i, j int) bool {
		return CursorOf(matched[j]).Before(CursorOf(matched[i]))
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// materialize copies a post with its liker set resolved. Caller holds at
// least s.mu.RLock.
func (s *MemPostStore) materialize(p *Post) Post {
	cp := *p
	if likers, ok := s.likes[p.ID]; ok && len(likers) > 0 {
		ids := make([]string, 0, len(likers))
		for id := range likers {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		cp.LikerIDs = ids
	} else {
		cp.LikerIDs = nil
	}
	return cp
}

func (s *MemPostStore) Subscribe(filter PostFilter, limit int) (<-chan []Post, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor("subscribe"); err != nil {
		return nil, nil, storeErr(err)
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	sub := &postSubscriber{filter: filter, limit: limit, ch: make(chan []Post, 10)}
	s.subscribers[sub] = true

	// Initial snapshot delivery, like a remote listener's first callback.
	sub.ch <- s.page(filter, nil, limit)

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.subscribers[sub] {
			delete(s.subscribers, sub)
			close(sub.ch)
		}
	}
	return sub.ch, cancel, nil
}

// broadcast pushes the current first page to every subscriber the change
// concerns. Caller holds s.mu. Full channels are skipped; a lagging
// subscriber catches up on the next delivery.
func (s *MemPostStore) broadcast(authorID string) {
	for sub := range s.subscribers {
		if sub.filter.AuthorID != "" && authorID != "" && sub.filter.AuthorID != authorID {
			continue
		}
		select {
		case sub.ch <- s.page(sub.filter, nil, sub.limit):
		default:
		}
	}
}

func (s *MemPostStore) Insert(ctx context.Context, p *Post) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor("insert"); err != nil {
		return "", storeErr(err)
	}
	cp := *p
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if _, exists := s.posts[cp.ID]; exists {
		return "", fmt.Errorf("%w: duplicate post id %s", ErrInvalidArgument, cp.ID)
	}
	cp.CreatedAt = s.nextStamp()
	cp.LikerIDs = nil
	s.posts[cp.ID] = &cp
	s.broadcast(cp.AuthorID)
	return cp.ID, nil
}

// nextStamp assigns a server timestamp that is strictly greater than every
// previously assigned one, even when the wall clock stalls within its
// resolution. Caller holds s.mu.
func (s *MemPostStore) nextStamp() time.Time {
	now := time.Now().UTC()
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = now
	return now
}

func (s *MemPostStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor("delete"); err != nil {
		return storeErr(err)
	}
	p, ok := s.posts[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.posts, id)
	delete(s.likes, id)
	s.broadcast(p.AuthorID)
	return nil
}

func (s *MemPostStore) MergeWrite(ctx context.Context, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor("merge"); err != nil {
		return storeErr(err)
	}
	p, ok := s.posts[id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case "text":
			p.Text, _ = v.(string)
		case "image":
			p.Image, _ = v.(string)
		default:
			return fmt.Errorf("%w: unsupported merge field %q", ErrInvalidArgument, k)
		}
	}
	s.broadcast(p.AuthorID)
	return nil
}

func (s *MemPostStore) HasLike(ctx context.Context, postID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failFor("like"); err != nil {
		return false, storeErr(err)
	}
	if _, ok := s.posts[postID]; !ok {
		return false, ErrNotFound
	}
	_, liked := s.likes[postID][userID]
	return liked, nil
}

func (s *MemPostStore) PutLike(ctx context.Context, postID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor("like"); err != nil {
		return storeErr(err)
	}
	p, ok := s.posts[postID]
	if !ok {
		return ErrNotFound
	}
	if s.likes[postID] == nil {
		s.likes[postID] = make(map[string]struct{})
	}
	s.likes[postID][userID] = struct{}{}
	s.broadcast(p.AuthorID)
	return nil
}

func (s *MemPostStore) RemoveLike(ctx context.Context, postID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor("like"); err != nil {
		return storeErr(err)
	}
	p, ok := s.posts[postID]
	if !ok {
		return ErrNotFound
	}
	delete(s.likes[postID], userID)
	s.broadcast(p.AuthorID)
	return nil
}
