// Package movetext canonicalizes PGN movetext and replays it to count and
// validate plies.
package movetext

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/freeeve/pgn/v3"
)

var resultTokens = map[string]bool{"1-0": true, "0-1": true, "1/2-1/2": true, "*": true}

// moveNumber matches "12." and "12..." prefixes, including "12.e4" glued forms.
var moveNumber = regexp.MustCompile(`^\d+\.+`)

// Normalize strips comments, variations, NAGs and move numbers from raw
// movetext and renders it canonically as "1. e4 e5 2. Nf3 ... result".
// It returns the rendered text and the SAN tokens in order.
func Normalize(raw string) (string, []string) {
	sans, result := tokens(raw)

	var b strings.Builder
	for i, san := range sans {
		if i%2 == 0 {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%d. ", i/2+1)
		} else {
			b.WriteByte(' ')
		}
		b.WriteString(san)
	}
	if result != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(result)
	}
	return b.String(), sans
}

func tokens(raw string) (sans []string, result string) {
	var clean strings.Builder
	depth := 0
	inBrace := false
	inLine := false
	for _, r := range raw {
		switch {
		case inLine:
			if r == '\n' {
				inLine = false
			}
			continue
		case inBrace:
			if r == '}' {
				inBrace = false
			}
			continue
		case r == '{':
			inBrace = true
			continue
		case r == ';':
			inLine = true
			continue
		case r == '(':
			depth++
			continue
		case r == ')':
			if depth > 0 {
				depth--
			}
			continue
		}
		if depth > 0 {
			continue
		}
		clean.WriteRune(r)
	}

	for _, tok := range strings.Fields(clean.String()) {
		tok = moveNumber.ReplaceAllString(tok, "")
		if tok == "" || tok[0] == '$' {
			continue
		}
		if resultTokens[tok] {
			result = tok
			continue
		}
		tok = strings.TrimRight(tok, "!?")
		if tok == "" {
			continue
		}
		sans = append(sans, tok)
	}
	return sans, result
}

// Replay plays the SAN moves from the initial position and returns the
// number of legal plies. An illegal or unparseable move stops the replay and
// is reported with its ply index.
func Replay(sans []string) (int, error) {
	return ReplayFrom("", sans)
}

// ReplayFrom is Replay starting at fen, the position of a [FEN] tag. An empty
// fen means the initial position.
func ReplayFrom(fen string, sans []string) (int, error) {
	pos := pgn.NewStartingPosition()
	if fen = strings.TrimSpace(fen); fen != "" {
		var err error
		if pos, err = pgn.NewGame(fen); err != nil {
			return 0, fmt.Errorf("setup position %q: %w", fen, err)
		}
	}
	for i, san := range sans {
		// Remove check/mate symbols for parsing
		s := strings.TrimSuffix(strings.TrimSuffix(san, "+"), "#")
		mv, err := pgn.ParseSAN(pos, s)
		if err != nil {
			return i, fmt.Errorf("ply %d: parse %q: %w", i+1, san, err)
		}
		if err := pgn.ApplyMove(pos, mv); err != nil {
			return i, fmt.Errorf("ply %d: apply %q: %w", i+1, san, err)
		}
	}
	return len(sans), nil
}
