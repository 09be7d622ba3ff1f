// Package search builds normalized name indices for players, openings and
// tournaments and answers prefix and approximate lookups over them.
//
// An Index is immutable once built. Holder swaps a freshly built Index into
// place atomically so readers never observe a partial build.
package search

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/agext/levenshtein"
)

// EntityType is the kind of name an entry describes.
type EntityType uint8

const (
	EntityPlayer EntityType = iota
	EntityOpening
	EntityTournament
)

// EntityTypes lists every entity type in display order.
var EntityTypes = []EntityType{EntityPlayer, EntityOpening, EntityTournament}

func (t EntityType) String() string {
	switch t {
	case EntityOpening:
		return "opening"
	case EntityTournament:
		return "tournament"
	default:
		return "player"
	}
}

// ParseEntityType accepts "player", "opening", "tournament" and "event".
func ParseEntityType(s string) (EntityType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "player", "players":
		return EntityPlayer, true
	case "opening", "openings":
		return EntityOpening, true
	case "tournament", "tournaments", "event", "events":
		return EntityTournament, true
	}
	return 0, false
}

// Mode selects the matching strategy.
type Mode uint8

const (
	// ModeAuto returns prefix matches and tops up with fuzzy ones.
	ModeAuto Mode = iota
	ModePrefix
	ModeFuzzy
)

// Entry is one indexed name.
type Entry struct {
	Canonical string
	Type      EntityType
	Variants  []string // normalized forms, aliases included
	Frequency int
}

// Candidate is a ranked lookup result.
type Candidate struct {
	Name      string     `json:"name"`
	Type      EntityType `json:"-"`
	Frequency int        `json:"frequency"`
	Score     float64    `json:"score"`
	Distance  int        `json:"distance"`
}

type key struct {
	text  string
	entry int
}

type table struct {
	keys    []key          // sorted by text
	exact   map[string]int // variant -> entry
	maxFreq int
}

// Index is an immutable, ranked name index.
type Index struct {
	entries     []Entry
	tables      map[EntityType]*table
	maxDistance int
	builtAt     time.Time
}

const (
	similarityWeight = 0.75
	frequencyWeight  = 0.25
)

// NewIndex builds an index from entries. maxDistance bounds fuzzy matches.
func NewIndex(entries []Entry, maxDistance int, builtAt time.Time) *Index {
	idx := &Index{
		entries:     entries,
		tables:      make(map[EntityType]*table, len(EntityTypes)),
		maxDistance: maxDistance,
		builtAt:     builtAt,
	}
	for _, t := range EntityTypes {
		idx.tables[t] = &table{exact: make(map[string]int)}
	}

	for i, e := range entries {
		tb := idx.tables[e.Type]
		if e.Frequency > tb.maxFreq {
			tb.maxFreq = e.Frequency
		}
		seen := make(map[string]bool, len(e.Variants)*2)
		for _, v := range e.Variants {
			for _, r := range rotations(v) {
				if r == "" || seen[r] {
					continue
				}
				seen[r] = true
				tb.keys = append(tb.keys, key{text: r, entry: i})
				// Earlier (more frequent) entries win shared spellings.
				if _, dup := tb.exact[r]; !dup {
					tb.exact[r] = i
				}
			}
		}
	}
	for _, tb := range idx.tables {
		sort.Slice(tb.keys, func(a, b int) bool {
			if tb.keys[a].text != tb.keys[b].text {
				return tb.keys[a].text < tb.keys[b].text
			}
			return tb.keys[a].entry < tb.keys[b].entry
		})
	}
	return idx
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.entries)
}

// Count returns the number of entries of one type.
func (idx *Index) Count(t EntityType) int {
	n := 0
	for _, e := range idx.entries {
		if e.Type == t {
			n++
		}
	}
	return n
}

// BuiltAt reports when the index was built.
func (idx *Index) BuiltAt() time.Time { return idx.builtAt }

// Canonical resolves an exact normalized spelling (or an indexed alias) to
// its canonical name.
func (idx *Index) Canonical(t EntityType, name string) (string, bool) {
	tb := idx.tables[t]
	if tb == nil {
		return "", false
	}
	i, ok := tb.exact[Normalize(name)]
	if !ok {
		return "", false
	}
	return idx.entries[i].Canonical, true
}

// Lookup returns up to limit ranked candidates of type t for query.
func (idx *Index) Lookup(query string, mode Mode, t EntityType, limit int) []Candidate {
	q := Normalize(query)
	tb := idx.tables[t]
	if q == "" || tb == nil || limit <= 0 {
		return nil
	}

	best := make(map[int]Candidate)
	consider := func(entry, dist int, sim float64) {
		e := idx.entries[entry]
		score := similarityWeight*sim + frequencyWeight*freqWeight(e.Frequency, tb.maxFreq)
		if prev, ok := best[entry]; ok && prev.Score >= score {
			return
		}
		best[entry] = Candidate{Name: e.Canonical, Type: t, Frequency: e.Frequency, Score: score, Distance: dist}
	}

	if mode != ModeFuzzy {
		start := sort.Search(len(tb.keys), func(i int) bool { return tb.keys[i].text >= q })
		for i := start; i < len(tb.keys) && strings.HasPrefix(tb.keys[i].text, q); i++ {
			k := tb.keys[i]
			// Prefix hits rank above any fuzzy hit; longer coverage ranks higher.
			sim := 0.5 + 0.5*float64(len(q))/float64(len(k.text))
			consider(k.entry, 0, sim)
		}
	}

	if mode == ModeFuzzy || (mode == ModeAuto && len(best) < limit) {
		qLen := len([]rune(q))
		for _, k := range tb.keys {
			if _, ok := best[k.entry]; ok && mode == ModeAuto {
				continue
			}
			text := k.text
			// Partial input is compared against the same-length head of the key.
			if mode == ModeAuto {
				if r := []rune(text); len(r) > qLen {
					text = string(r[:qLen])
				}
			}
			d := levenshtein.Distance(q, text, nil)
			if d > idx.maxDistance {
				continue
			}
			longest := math.Max(float64(qLen), float64(len([]rune(text))))
			sim := 0.5 * (1 - float64(d)/longest)
			if d == 0 {
				sim = 1
			}
			consider(k.entry, d, sim)
		}
	}

	out := make([]Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sortCandidates(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Suggest returns the top limit completions of prefix for each of types, or
// for every entity type when types is empty. Types without a match map to an
// empty slice.
func (idx *Index) Suggest(prefix string, limit int, types ...EntityType) map[EntityType][]Candidate {
	if len(types) == 0 {
		types = EntityTypes
	}
	out := make(map[EntityType][]Candidate, len(types))
	for _, t := range types {
		cands := idx.Lookup(prefix, ModeAuto, t, limit)
		if cands == nil {
			cands = []Candidate{}
		}
		out[t] = cands
	}
	return out
}

func sortCandidates(cs []Candidate) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Frequency != b.Frequency {
			return a.Frequency > b.Frequency
		}
		return a.Name < b.Name
	})
}

func freqWeight(freq, maxFreq int) float64 {
	if maxFreq <= 0 || freq <= 0 {
		return 0
	}
	return math.Log1p(float64(freq)) / math.Log1p(float64(maxFreq))
}
