package extract

import (
	"time"

	"github.com/freeeve/chessarchive/internal/game"
	"github.com/freeeve/chessarchive/internal/movetext"
	"github.com/freeeve/chessarchive/internal/pgnfile"
	"github.com/freeeve/chessarchive/internal/search"
)

// target is Criteria with player keys precomputed for the scan loop.
type target struct {
	game.Criteria
	white, black string
	window       time.Duration
	aliases      *search.Aliases
}

func newTarget(c game.Criteria, window time.Duration, aliases *search.Aliases) target {
	t := target{Criteria: c, window: window, aliases: aliases}
	t.white = t.playerKey(c.White)
	t.black = t.playerKey(c.Black)
	return t
}

// playerKey resolves name through the alias table and returns its
// order-independent key, so archive and metadata spellings compare equal.
func (t target) playerKey(name string) string {
	if c, ok := t.aliases.Resolve(search.EntityPlayer, name); ok {
		name = c
	}
	return search.NameKey(name)
}

// candidate is an archive entry that satisfied the required fields.
type candidate struct {
	text       string
	plies      int
	dateDist   time.Duration
	roundMatch bool
	pliesMatch bool
	legal      bool
	partition  string
	offset     int64
	seq        int // encounter order across all scanned partitions
}

// match checks the required fields (both players and the result) and the
// date window. It returns nil for entries that cannot be the game.
func (t target) match(e *pgnfile.Entry, seq int, partition string) *candidate {
	if game.ParseResult(e.Tags["Result"]) != t.Result {
		return nil
	}
	if t.playerKey(e.Tags["White"]) != t.white || t.playerKey(e.Tags["Black"]) != t.black {
		return nil
	}
	d, ok := game.ParseDate(e.Tags["Date"])
	if !ok {
		return nil
	}
	dist := d.Sub(t.Date)
	if dist < 0 {
		dist = -dist
	}
	if dist > t.window {
		return nil
	}

	text, sans := movetext.Normalize(e.Moves)
	plies, err := movetext.ReplayFrom(e.Tags["FEN"], sans)
	c := &candidate{
		text:      text,
		plies:     plies,
		dateDist:  dist,
		legal:     err == nil,
		partition: partition,
		offset:    e.Offset,
		seq:       seq,
	}
	if err != nil {
		// Keep the full token count so Plies reflects the stored text.
		c.plies = len(sans)
	}
	c.roundMatch = t.Round != "" && e.Tags["Round"] == t.Round
	c.pliesMatch = t.PlyCount > 0 && c.plies == t.PlyCount
	return c
}

// perfect reports whether no later entry could outrank c.
func (t target) perfect(c *candidate) bool {
	return c.dateDist == 0 &&
		(t.Round == "" || c.roundMatch) &&
		(t.PlyCount == 0 || c.pliesMatch) &&
		c.legal
}

// better orders candidates: closest date, then round match, then ply count
// match, then legal movetext, then first encountered.
func better(a, b *candidate) bool {
	if b == nil {
		return true
	}
	if a.dateDist != b.dateDist {
		return a.dateDist < b.dateDist
	}
	if a.roundMatch != b.roundMatch {
		return a.roundMatch
	}
	if a.pliesMatch != b.pliesMatch {
		return a.pliesMatch
	}
	if a.legal != b.legal {
		return a.legal
	}
	return a.seq < b.seq
}
