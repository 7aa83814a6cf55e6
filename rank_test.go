package social

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRankBatch(t *testing.T) {
	posts := func(authors ...string) []Post {
		out := make([]Post, len(authors))
		for i, a := range authors {
			out[i] = Post{ID: a + "-post", AuthorID: a}
		}
		return out
	}
	authors := func(batch []Post) []string {
		out := make([]string, len(batch))
		for i, p := range batch {
			out[i] = p.AuthorID
		}
		return out
	}

	tests := []struct {
		name    string
		batch   []Post
		friends []string
		want    []string
	}{
		{
			name:    "Interleaved",
			batch:   posts("f1", "o1", "f2", "o2"),
			friends: []string{"f1", "f2"},
			want:    []string{"f1", "f2", "o1", "o2"},
		},
		{
			name:    "No Friends Keeps Order",
			batch:   posts("a", "b", "c"),
			friends: nil,
			want:    []string{"a", "b", "c"},
		},
		{
			name:    "All Friends Keeps Order",
			batch:   posts("f1", "f2"),
			friends: []string{"f1", "f2"},
			want:    []string{"f1", "f2"},
		},
		{
			name:    "Empty Batch",
			batch:   nil,
			friends: []string{"f1"},
			want:    []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rankBatch(tt.batch, friendIDSet(tt.friends))
			assert.Equal(t, tt.want, authors(got))
		})
	}

	t.Run("Input Untouched", func(t *testing.T) {
		batch := posts("o1", "f1")
		_ = rankBatch(batch, friendIDSet([]string{"f1"}))
		assert.Equal(t, []string{"o1", "f1"}, authors(batch))
	})
}

func TestCursorOrdering(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := Cursor{CreatedAt: base, ID: "a"}
	newer := Cursor{CreatedAt: base.Add(time.Second), ID: "a"}
	assert.True(t, older.Before(newer))
	assert.False(t, newer.Before(older))

	// Equal timestamps fall back to the id tie-break, so the order is still
	// total.
	left := Cursor{CreatedAt: base, ID: "a"}
	right := Cursor{CreatedAt: base, ID: "b"}
	assert.True(t, left.Before(right))
	assert.False(t, right.Before(left))
	assert.False(t, left.Before(left))

	assert.True(t, Cursor{}.IsZero())
	assert.False(t, older.IsZero())
}

func TestOldestCursor(t *testing.T) {
	_, ok := oldestCursor(nil)
	assert.False(t, ok)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	batch := []Post{
		{ID: "new", CreatedAt: base.Add(2 * time.Second)},
		{ID: "mid", CreatedAt: base.Add(time.Second)},
		{ID: "old", CreatedAt: base},
	}
	c, ok := oldestCursor(batch)
	assert.True(t, ok)
	assert.Equal(t, "old", c.ID)
}

func TestWithoutPost(t *testing.T) {
	batch := []Post{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	got := withoutPost(batch, "b")
	assert.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)

	got = withoutPost(got, "missing")
	assert.Len(t, got, 2)
}
