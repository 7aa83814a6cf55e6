package social

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultPageSize is the fixed page size of live deliveries and LoadMore
// pulls unless the session is opened with WithPageSize.
const DefaultPageSize = 10

// SessionState is the feed session state machine.
//
//	Idle -> LoadingInitial -> Ready
//	Ready -> LoadingMore -> Ready
//	any -> Error (store failure), Retry -> the state the failure interrupted
//
// Ready is re-entered, not re-created, on every live delivery.
type SessionState int

const (
	StateIdle SessionState = iota
	StateLoadingInitial
	StateReady
	StateLoadingMore
	StateError
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoadingInitial:
		return "loading_initial"
	case StateReady:
		return "ready"
	case StateLoadingMore:
		return "loading_more"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// deliverySlot is the single-slot mailbox live deliveries land in. Each
// delivery overwrites the slot; the applier drains the latest value under
// the session mutex, so the caller never observes a torn sequence and an
// intermediate delivery superseded before being read is skipped entirely.
type deliverySlot struct {
	mu    sync.Mutex
	batch []Post
	seq   uint64
	read  uint64
}

func (d *deliverySlot) put(batch []Post) {
	d.mu.Lock()
	d.batch = batch
	d.seq++
	d.mu.Unlock()
}

func (d *deliverySlot) take() ([]Post, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seq == d.read {
		return nil, false
	}
	d.read = d.seq
	return d.batch, true
}

// FeedSession produces the live, ranked, paginated post sequence for one
// (viewer, subject) pair. The visible sequence is the ranked first page,
// replaced wholesale by every live delivery, followed by every batch
// LoadMore appended. One session expects one logical caller; LoadMore
// calls must not overlap (a second call before the first resolves is
// rejected with ErrLoadInProgress).
type FeedSession struct {
	posts     PostStore
	filter    PostFilter
	friendIDs map[string]struct{}
	pageSize  int

	mu          sync.Mutex
	state       SessionState
	resumeState SessionState // state Retry returns to
	lastErr     error
	firstPage   []Post
	older       []Post
	baseline    Cursor // oldest item of the first delivery only
	oldest      Cursor // current oldest-seen, advanced by LoadMore
	hasMore     bool

	slot        deliverySlot
	notify      chan struct{} // applier wakeup, cap 1
	updates     chan struct{} // external change signal, cap 1
	unsubscribe func()
	done        chan struct{}
}

// SessionOption tweaks an opened session.
type SessionOption func(*FeedSession)

// WithPageSize overrides DefaultPageSize for deliveries and pulls.
func WithPageSize(n int) SessionOption {
	return func(s *FeedSession) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// OpenFeed opens a session over the post store. filter scopes the subject:
// a zero filter is the viewer's own mixed feed with friend-priority
// ranking, an author filter is that author's posts only. viewerFriendIDs
// drives the ranking policy and is fixed for the session's lifetime.
//
// The live subscription starts immediately; the session is in
// LoadingInitial until the first delivery lands. A subscription failure
// leaves the session in Error, from where Retry re-issues the open.
func OpenFeed(posts PostStore, filter PostFilter, viewerFriendIDs []string, opts ...SessionOption) *FeedSession {
	s := &FeedSession{
		posts:     posts,
		filter:    filter,
		friendIDs: friendIDSet(viewerFriendIDs),
		pageSize:  DefaultPageSize,
		state:     StateIdle,
		notify:    make(chan struct{}, 1),
		updates:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mu.Lock()
	s.state = StateLoadingInitial
	s.mu.Unlock()
	s.subscribe()
	return s
}

// subscribe starts the live channel and the applier goroutine. Called
// with no locks held.
func (s *FeedSession) subscribe() {
	ch, cancel, err := s.posts.Subscribe(s.filter, s.pageSize)
	if err != nil {
		s.mu.Lock()
		s.fail(StateLoadingInitial, storeErr(err))
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.unsubscribe = cancel
	s.mu.Unlock()

	// Receiver: drain deliveries into the slot, wake the applier. Kept
	// separate from the applier so a delivery arriving while the session
	// mutex is held by an in-flight LoadMore overwrites the slot instead
	// of queueing behind it.
	go func() {
		for batch := range ch {
			s.slot.put(batch)
			select {
			case s.notify <- struct{}{}:
			default:
			}
		}
	}()

	// Applier: deliveries are applied in arrival order; a superseded one
	// is skipped because only the latest slot value survives.
	go func() {
		for {
			select {
			case <-s.done:
				return
			case <-s.notify:
				if batch, ok := s.slot.take(); ok {
					s.applyDelivery(batch)
				}
			}
		}
	}()
}

// applyDelivery replaces the entire first page with the delivered
// snapshot and re-applies the ranking policy to it. The first delivery of
// the session fixes the pagination baseline; later deliveries are clamped
// at that baseline, so posts the session already surfaced through LoadMore
// never re-enter through the live first page.
func (s *FeedSession) applyDelivery(batch []Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}

	if s.baseline.IsZero() {
		if c, ok := oldestCursor(batch); ok {
			s.baseline = c
			s.oldest = c
			s.hasMore = len(batch) == s.pageSize
		}
	} else {
		batch = sinceCursor(batch, s.baseline)
	}
	s.firstPage = rankBatch(batch, s.friendIDs)
	if s.state == StateLoadingInitial {
		s.state = StateReady
		log.Debug().Str("state", s.state.String()).Int("posts", len(batch)).Msg("feed ready")
	}
	s.bump()
}

// LoadMore issues one explicit pull strictly older than the session's
// oldest-seen cursor and appends the ranked batch to the visible
// sequence. The returned hasMore compares the batch length to the page
// size; an exactly page-sized final page therefore reads as "more", which
// callers surface as a Load More control that comes back empty once.
func (s *FeedSession) LoadMore(ctx context.Context) ([]Post, bool, error) {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return nil, false, ErrSessionClosed
	case StateLoadingMore:
		s.mu.Unlock()
		return nil, false, ErrLoadInProgress
	case StateError:
		s.mu.Unlock()
		return nil, false, fmt.Errorf("session in error state, retry first: %w", s.lastErr)
	case StateLoadingInitial, StateIdle:
		s.mu.Unlock()
		return nil, false, fmt.Errorf("%w: no baseline yet", ErrInvalidArgument)
	}
	if s.baseline.IsZero() {
		// First delivery was empty: nothing older can exist.
		s.mu.Unlock()
		return nil, false, nil
	}
	s.state = StateLoadingMore
	after := s.oldest
	s.mu.Unlock()

	return s.pull(ctx, after)
}

// pull runs the older-page query for LoadMore and Retry.
func (s *FeedSession) pull(ctx context.Context, after Cursor) ([]Post, bool, error) {
	batch, err := s.posts.QueryOrdered(ctx, PostQuery{Filter: s.filter, After: &after, Limit: s.pageSize})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		// Session closed while the pull was in flight: drop the result.
		return nil, false, ErrSessionClosed
	}
	if err != nil {
		s.fail(StateLoadingMore, storeErr(err))
		return nil, false, s.lastErr
	}

	ranked := rankBatch(batch, s.friendIDs)
	s.older = append(s.older, ranked...)
	if c, ok := oldestCursor(batch); ok {
		s.oldest = c
	}
	s.hasMore = len(batch) == s.pageSize
	s.state = StateReady
	s.bump()
	log.Debug().Int("appended", len(batch)).Bool("has_more", s.hasMore).Msg("feed page loaded")
	return ranked, s.hasMore, nil
}

// Retry re-issues the request that moved the session into Error: the
// subscription when open failed, the same older-page pull when LoadMore
// failed. Calling it in any other state is a no-op.
func (s *FeedSession) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateError {
		s.mu.Unlock()
		return nil
	}
	resume := s.resumeState
	s.lastErr = nil
	switch resume {
	case StateLoadingInitial:
		s.state = StateLoadingInitial
		s.mu.Unlock()
		s.subscribe()
		s.mu.Lock()
		err := s.lastErr
		s.mu.Unlock()
		return err
	case StateLoadingMore:
		s.state = StateLoadingMore
		after := s.oldest
		s.mu.Unlock()
		_, _, err := s.pull(ctx, after)
		return err
	default:
		s.state = resume
		s.mu.Unlock()
		return nil
	}
}

// Like toggles viewerID's membership in the post's liker set by flipping
// the viewer's own like marker: absent marker, insert; present marker,
// delete. Each call flips state exactly once, so two sequential calls
// restore the original state. On failure no local state changes.
func (s *FeedSession) Like(ctx context.Context, postID, viewerID string) error {
	if postID == "" || viewerID == "" {
		return fmt.Errorf("%w: empty post or viewer id", ErrInvalidArgument)
	}
	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	liked, err := s.posts.HasLike(ctx, postID, viewerID)
	if err != nil {
		return storeErr(err)
	}
	if liked {
		err = s.posts.RemoveLike(ctx, postID, viewerID)
	} else {
		err = s.posts.PutLike(ctx, postID, viewerID)
	}
	if err != nil {
		return storeErr(err)
	}

	s.mu.Lock()
	s.patchLikers(postID, viewerID, !liked)
	s.bump()
	s.mu.Unlock()
	return nil
}

// patchLikers updates the visible copy of one post's liker set after a
// successful toggle. The store's next delivery carries the same change.
func (s *FeedSession) patchLikers(postID, viewerID string, liked bool) {
	patch := func(posts []Post) {
		for i := range posts {
			if posts[i].ID != postID {
				continue
			}
			if liked {
				// A delivery racing the toggle may have materialized the
				// marker already; never double-count the viewer.
				present := false
				for _, id := range posts[i].LikerIDs {
					if id == viewerID {
						present = true
						break
					}
				}
				if !present {
					posts[i].LikerIDs = append(posts[i].LikerIDs, viewerID)
				}
			} else {
				kept := posts[i].LikerIDs[:0]
				for _, id := range posts[i].LikerIDs {
					if id != viewerID {
						kept = append(kept, id)
					}
				}
				posts[i].LikerIDs = kept
			}
		}
	}
	patch(s.firstPage)
	patch(s.older)
}

// DeletePost removes a post on behalf of requesterID, who must be its
// author. The post is pruned from this session's visible sequence
// immediately; other open sessions lose it on their next live delivery or
// next page pull.
func (s *FeedSession) DeletePost(ctx context.Context, postID, requesterID string) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return storeErr(err)
	}
	if post.AuthorID != requesterID {
		return fmt.Errorf("%w: only the author can delete a post", ErrPermissionDenied)
	}
	if err := s.posts.Delete(ctx, postID); err != nil {
		return storeErr(err)
	}

	s.mu.Lock()
	s.firstPage = withoutPost(s.firstPage, postID)
	s.older = withoutPost(s.older, postID)
	s.bump()
	s.mu.Unlock()
	log.Info().Str("post", postID).Str("author", requesterID).Msg("post deleted")
	return nil
}

// Close cancels the live subscription synchronously and makes any
// in-flight LoadMore result a no-op on arrival. Closing twice is safe.
func (s *FeedSession) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	cancel := s.unsubscribe
	s.unsubscribe = nil
	close(s.done)
	s.bump() // wake consumers of Updates so they observe the closed state
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Posts returns a copy of the visible sequence: the ranked first page
// followed by every loaded-more batch in load order.
func (s *FeedSession) Posts() []Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Post, 0, len(s.firstPage)+len(s.older))
	out = append(out, s.firstPage...)
	out = append(out, s.older...)
	return out
}

// State returns the current session state.
func (s *FeedSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the store failure that moved the session into Error, if any.
func (s *FeedSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// HasMore reports the heuristic from the last delivery or pull.
func (s *FeedSession) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Updates signals after every visible-sequence change. The channel has a
// one-slot buffer: consumers that fall behind coalesce signals instead of
// blocking the session.
func (s *FeedSession) Updates() <-chan struct{} {
	return s.updates
}

// fail records a store failure. Caller holds s.mu.
func (s *FeedSession) fail(interrupted SessionState, err error) {
	s.resumeState = interrupted
	s.lastErr = err
	s.state = StateError
	log.Warn().Str("interrupted", interrupted.String()).Err(err).Msg("feed session error")
}

// bump signals Updates without blocking. Caller holds s.mu.
func (s *FeedSession) bump() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// CreatePost inserts a new post authored by authorID. The store assigns
// the server timestamp; open sessions see the post on their next live
// delivery. The image reference is passed through opaquely.
func CreatePost(ctx context.Context, posts PostStore, authorID string, author AuthorSnapshot, text, image string) (string, error) {
	if authorID == "" {
		return "", fmt.Errorf("%w: empty author id", ErrInvalidArgument)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty post text", ErrInvalidArgument)
	}
	p := &Post{
		ID:       uuid.NewString(),
		AuthorID: authorID,
		Author:   author,
		Text:     text,
		Image:    image,
	}
	id, err := posts.Insert(ctx, p)
	if err != nil {
		return "", storeErr(err)
	}
	return id, nil
}
