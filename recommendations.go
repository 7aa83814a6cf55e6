package social

import (
	"context"
	"iter"
	"sort"
)

// MatchScore computes the affinity heuristic between a viewer and one
// candidate. Every candidate starts at 1; an exact, case-sensitive
// sportsName match adds 5; an Athlete/Sponsor pairing in either direction
// adds 3. Missing values score nothing.
func MatchScore(viewer, candidate *UserProfile) int {
	score := 1
	if viewer.SportsName != "" && candidate.SportsName == viewer.SportsName {
		score += 5
	}
	if viewer.UserType != "" && candidate.UserType != "" {
		if (viewer.UserType == UserTypeAthlete && candidate.UserType == UserTypeSponsor) ||
			(viewer.UserType == UserTypeSponsor && candidate.UserType == UserTypeAthlete) {
			score += 3
		}
	}
	return score
}

// Recommend ranks candidates for the viewer: self and already connected
// profiles are excluded, the rest are scored with MatchScore and sorted
// descending. Candidates with equal scores keep the order in which they
// were enumerated. The result is a one-shot sequence; re-running Recommend
// recomputes from scratch.
func Recommend(viewer *UserProfile, candidates []*UserProfile, isConnected func(id string) bool) iter.Seq[RecommendationCandidate] {
	return func(yield func(RecommendationCandidate) bool) {
		scored := make([]RecommendationCandidate, 0, len(candidates))
		for _, c := range candidates {
			if c == nil || c.ID == "" || c.ID == viewer.ID {
				continue
			}
			if isConnected != nil && isConnected(c.ID) {
				continue
			}
			scored = append(scored, RecommendationCandidate{Profile: *c, MatchScore: MatchScore(viewer, c)})
		}
		sort.SliceStable(scored, func(i, j int) bool {
			return scored[i].MatchScore > scored[j].MatchScore
		})
		for _, rc := range scored {
			if !yield(rc) {
				return
			}
		}
	}
}

// Recommender scans the profile store for candidates and ranks them.
type Recommender struct {
	profiles ProfileStore
}

// NewRecommender builds a scorer over the profile store.
func NewRecommender(profiles ProfileStore) *Recommender {
	return &Recommender{profiles: profiles}
}

// Recommend enumerates every stored profile and ranks it for the viewer.
// isConnected is the viewer's membership check, typically
// ConnectionGraph.IsConnected.
func (r *Recommender) Recommend(ctx context.Context, viewer *UserProfile, isConnected func(id string) bool) (iter.Seq[RecommendationCandidate], error) {
	if viewer == nil || viewer.ID == "" {
		return nil, ErrInvalidArgument
	}
	all, err := r.profiles.All(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	return Recommend(viewer, all, isConnected), nil
}
