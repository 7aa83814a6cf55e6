package social

import (
	"context"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	lru "github.com/hashicorp/golang-lru/v2"
)

// profileMultiGetter is implemented by stores that can answer a batch of
// point reads in one round trip. The resolver falls back to sequential
// GetByID calls when the store cannot.
type profileMultiGetter interface {
	GetByIDs(ctx context.Context, ids []string) (map[string]*UserProfile, error)
}

// ProfileResolver batch-loads current profiles by id. FriendRef snapshots
// are allowed to go stale, so anything that wants to show live data next
// to a stored snapshot resolves the id through here: concurrent lookups
// within the wait window coalesce into one store round trip, and resolved
// profiles are kept in a bounded LRU for the hot friend lists.
type ProfileResolver struct {
	loader *dataloader.Loader[string, *UserProfile]
	cache  *lru.Cache[string, *UserProfile]
}

const (
	resolverWait      = 16 * time.Millisecond
	resolverCacheSize = 512
)

// NewProfileResolver builds a resolver over the profile store.
func NewProfileResolver(profiles ProfileStore) (*ProfileResolver, error) {
	cache, err := lru.New[string, *UserProfile](resolverCacheSize)
	if err != nil {
		return nil, err
	}
	r := &ProfileResolver{cache: cache}
	r.loader = dataloader.NewBatchedLoader(
		profileBatchFn(profiles),
		dataloader.WithWait[string, *UserProfile](resolverWait),
	)
	return r, nil
}

// profileBatchFn loads one batch of profile ids, preserving key order in
// the results as the loader contract requires.
func profileBatchFn(profiles ProfileStore) dataloader.BatchFunc[string, *UserProfile] {
	return func(ctx context.Context, keys []string) []*dataloader.Result[*UserProfile] {
		results := make([]*dataloader.Result[*UserProfile], len(keys))

		if mg, ok := profiles.(profileMultiGetter); ok {
			byID, err := mg.GetByIDs(ctx, keys)
			for i, key := range keys {
				if err != nil {
					results[i] = &dataloader.Result[*UserProfile]{Error: storeErr(err)}
					continue
				}
				if p, ok := byID[key]; ok {
					results[i] = &dataloader.Result[*UserProfile]{Data: p}
				} else {
					results[i] = &dataloader.Result[*UserProfile]{Error: ErrNotFound}
				}
			}
			return results
		}

		for i, key := range keys {
			p, err := profiles.GetByID(ctx, key)
			if err != nil {
				results[i] = &dataloader.Result[*UserProfile]{Error: err}
				continue
			}
			results[i] = &dataloader.Result[*UserProfile]{Data: p}
		}
		return results
	}
}

// Resolve returns the current profile for id, from cache when present.
func (r *ProfileResolver) Resolve(ctx context.Context, id string) (*UserProfile, error) {
	if id == "" {
		return nil, ErrInvalidArgument
	}
	if p, ok := r.cache.Get(id); ok {
		return p, nil
	}
	p, err := r.loader.Load(ctx, id)()
	if err != nil {
		return nil, err
	}
	r.cache.Add(id, p)
	return p, nil
}

// ResolveFriends resolves the current profiles behind a friends list in
// one batched load. Refs whose profile is gone resolve to nil rather than
// failing the whole list; the stored snapshot is all that remains of them.
func (r *ProfileResolver) ResolveFriends(ctx context.Context, refs []FriendRef) ([]*UserProfile, error) {
	out := make([]*UserProfile, len(refs))
	misses := make([]string, 0, len(refs))
	missIdx := make([]int, 0, len(refs))
	for i, ref := range refs {
		if p, ok := r.cache.Get(ref.ID); ok {
			out[i] = p
			continue
		}
		misses = append(misses, ref.ID)
		missIdx = append(missIdx, i)
	}
	if len(misses) == 0 {
		return out, nil
	}

	thunks := r.loader.LoadMany(ctx, misses)
	loaded, errs := thunks()
	for j, p := range loaded {
		if j < len(errs) && errs[j] != nil {
			continue
		}
		out[missIdx[j]] = p
		r.cache.Add(misses[j], p)
	}
	return out, nil
}

// Invalidate drops one id from the cache and the loader's memoization,
// for callers that just wrote the profile.
func (r *ProfileResolver) Invalidate(ctx context.Context, id string) {
	r.cache.Remove(id)
	r.loader.Clear(ctx, id)
}
