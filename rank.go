package social

// rankBatch applies the friend-priority policy to one fetched batch:
// a stable partition into friend-authored posts followed by the rest,
// each group keeping the batch's original newest-first order. It never
// reorders across batch boundaries and is not a score sort.
func rankBatch(batch []Post, friendIDs map[string]struct{}) []Post {
	if len(batch) == 0 || len(friendIDs) == 0 {
		return append([]Post(nil), batch...)
	}
	ranked := make([]Post, 0, len(batch))
	for _, p := range batch {
		if _, ok := friendIDs[p.AuthorID]; ok {
			ranked = append(ranked, p)
		}
	}
	for _, p := range batch {
		if _, ok := friendIDs[p.AuthorID]; !ok {
			ranked = append(ranked, p)
		}
	}
	return ranked
}

// oldestCursor returns the cursor of the oldest item of a newest-first
// batch, i.e. its last element.
func oldestCursor(batch []Post) (Cursor, bool) {
	if len(batch) == 0 {
		return Cursor{}, false
	}
	return CursorOf(batch[len(batch)-1]), true
}

// sinceCursor drops items strictly older than c from a batch. A delete
// slides the store's first-page window down; without the clamp the window
// reaches posts a session already surfaced through explicit pulls.
func sinceCursor(batch []Post, c Cursor) []Post {
	kept := make([]Post, 0, len(batch))
	for _, p := range batch {
		if !CursorOf(p).Before(c) {
			kept = append(kept, p)
		}
	}
	return kept
}

// friendIDSet builds the membership set the ranking policy and the
// connection graph test against.
func friendIDSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// withoutPost filters one post id out of a visible sequence in place.
func withoutPost(posts []Post, id string) []Post {
	kept := posts[:0]
	for _, p := range posts {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	return kept
}
