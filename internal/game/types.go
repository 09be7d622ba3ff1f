// Package game holds the immutable record types shared by every tier of the
// archive: structured game metadata, move text and extraction criteria.
package game

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the PGN date tag layout.
const DateLayout = "2006.01.02"

// Result is the outcome of a game.
type Result uint8

const (
	ResultUnknown  Result = 0
	ResultWhiteWin Result = 1
	ResultBlackWin Result = 2
	ResultDraw     Result = 3
)

// ParseResult converts a PGN result tag ("1-0", "0-1", "1/2-1/2", "*").
// Names used by the HTTP layer ("white", "black", "draw") are accepted too.
func ParseResult(s string) Result {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1-0", "white", "white-win":
		return ResultWhiteWin
	case "0-1", "black", "black-win":
		return ResultBlackWin
	case "1/2-1/2", "½-½", "draw":
		return ResultDraw
	default:
		return ResultUnknown
	}
}

// String returns the PGN tag form.
func (r Result) String() string {
	switch r {
	case ResultWhiteWin:
		return "1-0"
	case ResultBlackWin:
		return "0-1"
	case ResultDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// Name returns the long form used in API responses.
func (r Result) Name() string {
	switch r {
	case ResultWhiteWin:
		return "white-win"
	case ResultBlackWin:
		return "black-win"
	case ResultDraw:
		return "draw"
	default:
		return "unknown"
	}
}

// MarshalText encodes the result by Name.
func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.Name()), nil
}

// UnmarshalText accepts any form ParseResult does; anything else is unknown.
func (r *Result) UnmarshalText(b []byte) error {
	*r = ParseResult(string(b))
	return nil
}

// Record is the structured metadata row for one historical game.
// Records are created at bulk import and never mutated.
type Record struct {
	ID            int64     `json:"id"`
	White         string    `json:"white"`
	Black         string    `json:"black"`
	Result        Result    `json:"result"`
	Date          time.Time `json:"date"`
	Round         string    `json:"round,omitempty"`
	Event         string    `json:"event,omitempty"`
	ECO           string    `json:"eco,omitempty"`
	Opening       string    `json:"opening,omitempty"`
	PlyCount      int       `json:"ply_count,omitempty"`
	PartitionHint string    `json:"-"`
}

// Summary is the listing projection of a record.
type Summary struct {
	ID     int64     `json:"id"`
	White  string    `json:"white"`
	Black  string    `json:"black"`
	Result string    `json:"result"`
	Date   time.Time `json:"date"`
	Event  string    `json:"event,omitempty"`
	ECO    string    `json:"eco,omitempty"`
}

// Summary projects the record for listings.
func (r *Record) Summary() Summary {
	return Summary{
		ID:     r.ID,
		White:  r.White,
		Black:  r.Black,
		Result: r.Result.Name(),
		Date:   r.Date,
		Event:  r.Event,
		ECO:    r.ECO,
	}
}

// Criteria builds the extraction match criteria for this record.
func (r *Record) Criteria() Criteria {
	return Criteria{
		GameID:        r.ID,
		White:         r.White,
		Black:         r.Black,
		Date:          r.Date,
		Result:        r.Result,
		Round:         r.Round,
		Event:         r.Event,
		PlyCount:      r.PlyCount,
		PartitionHint: r.PartitionHint,
	}
}

// MoveText is the full SAN move sequence of one game.
type MoveText struct {
	GameID int64  `json:"game_id"`
	Text   string `json:"text"`
	Plies  int    `json:"plies"`
}

// Empty reports whether there is no move text.
func (m MoveText) Empty() bool {
	return m.Text == ""
}

// Criteria identifies the archive entry for one game. White, Black, Date and
// Result must match; the remaining fields only rank otherwise equal candidates.
type Criteria struct {
	GameID        int64
	White         string
	Black         string
	Date          time.Time
	Result        Result
	Round         string
	Event         string
	PlyCount      int
	PartitionHint string
}

// String renders the criteria for logs.
func (c Criteria) String() string {
	return fmt.Sprintf("#%d %s - %s %s %s", c.GameID, c.White, c.Black, c.Date.Format(DateLayout), c.Result)
}

// ParseDate parses a PGN date tag. Unknown parts ("??") collapse to the first
// day/month so that "1999.??.??" still routes to a partition.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	s = strings.ReplaceAll(s, "-", ".")
	parts := strings.Split(s, ".")
	if len(parts) != 3 || strings.Contains(parts[0], "?") {
		return time.Time{}, false
	}
	if strings.Contains(parts[1], "?") {
		parts[1] = "01"
	}
	if strings.Contains(parts[2], "?") {
		parts[2] = "01"
	}
	t, err := time.Parse(DateLayout, strings.Join(parts, "."))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
