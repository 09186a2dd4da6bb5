package stats

import (
	"cmp"
	"slices"
	"strings"

	"github.com/justestif/spotify-listening-stats/internal/db"
)

// Placeholder names for plays whose identity cannot be resolved.
const (
	UnknownArtist = "Unknown Artist"
	UnknownTrack  = "Unknown Track"
)

// minSubstringKey is the shortest key considered for substring matching.
// Shorter keys match almost any name.
const minSubstringKey = 3

type nameEntry[T any] struct {
	key  string
	item *T
}

// nameIndex resolves names by case-insensitive exact match, then by
// case-insensitive substring match in either direction.
type nameIndex[T any] struct {
	exact   map[string]*T
	entries []nameEntry[T]
}

func newNameIndex[T any]() *nameIndex[T] {
	return &nameIndex[T]{exact: make(map[string]*T)}
}

// add registers item under name. The first item registered for a key wins.
func (x *nameIndex[T]) add(name string, item *T) {
	key := NormalizeName(name)
	if key == "" {
		return
	}
	if _, ok := x.exact[key]; ok {
		return
	}
	x.exact[key] = item
	x.entries = append(x.entries, nameEntry[T]{key: key, item: item})
}

func (x *nameIndex[T]) lookup(name string) (*T, bool) {
	key := NormalizeName(name)
	if key == "" {
		return nil, false
	}
	if item, ok := x.exact[key]; ok {
		return item, true
	}

	// Closest length wins, then the lexicographically smallest key.
	var (
		best     *T
		bestKey  string
		bestDiff = -1
	)
	for _, e := range x.entries {
		if !substringMatch(key, e.key) {
			continue
		}
		diff := len(e.key) - len(key)
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff || (diff == bestDiff && e.key < bestKey) {
			best, bestKey, bestDiff = e.item, e.key, diff
		}
	}
	return best, best != nil
}

func substringMatch(a, b string) bool {
	if len(a) < minSubstringKey || len(b) < minSubstringKey {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// ArtistIndex resolves play artist names against cached artist metadata.
type ArtistIndex struct {
	names *nameIndex[db.ArtistMetadata]
}

// NewArtistIndex indexes artists by canonical name and by every alias.
// Canonical names take precedence over aliases on collision.
func NewArtistIndex(artists []db.ArtistMetadata) *ArtistIndex {
	idx := &ArtistIndex{names: newNameIndex[db.ArtistMetadata]()}

	sorted := make([]*db.ArtistMetadata, len(artists))
	for i := range artists {
		sorted[i] = &artists[i]
	}
	// Most recently synced first so fresher rows win collisions.
	slices.SortStableFunc(sorted, func(a, b *db.ArtistMetadata) int {
		if c := b.LastSynced.Compare(a.LastSynced); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	for _, a := range sorted {
		idx.names.add(a.Name, a)
	}
	for _, a := range sorted {
		for _, alias := range a.Aliases {
			idx.names.add(alias, a)
		}
	}
	return idx
}

// Lookup returns the metadata for a play artist name, if any.
func (i *ArtistIndex) Lookup(name string) (*db.ArtistMetadata, bool) {
	if i == nil {
		return nil, false
	}
	return i.names.lookup(name)
}

// TrackIndex resolves plays against cached track metadata.
type TrackIndex struct {
	byID  map[string]*db.TrackMetadata
	names *nameIndex[db.TrackMetadata]
}

// NewTrackIndex indexes tracks by id and by name.
func NewTrackIndex(tracks map[string]db.TrackMetadata) *TrackIndex {
	idx := &TrackIndex{
		byID:  make(map[string]*db.TrackMetadata, len(tracks)),
		names: newNameIndex[db.TrackMetadata](),
	}

	ids := make([]string, 0, len(tracks))
	for id := range tracks {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		t := tracks[id]
		idx.byID[id] = &t
		idx.names.add(t.Name, &t)
	}
	return idx
}

// Lookup resolves a track by id, falling back to its display name.
func (i *TrackIndex) Lookup(id, name string) (*db.TrackMetadata, bool) {
	if i == nil {
		return nil, false
	}
	if t, ok := i.byID[id]; ok {
		return t, true
	}
	return i.names.lookup(name)
}
