// Package eco provides ECO (Encyclopedia of Chess Openings) lookup.
package eco

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/freeeve/pgn/v3"

	"github.com/freeeve/chessarchive/internal/movetext"
)

// Opening represents an ECO opening classification.
type Opening struct {
	ECO  string `json:"eco"`
	Name string `json:"name"`
}

// Database holds ECO opening data indexed by position and by code.
type Database struct {
	byPosition map[pgn.PackedPosition]Opening
	byCode     map[string]Opening // first (shortest line) name seen per code
	count      int
}

// NewDatabase creates an empty ECO database.
func NewDatabase() *Database {
	return &Database{
		byPosition: make(map[pgn.PackedPosition]Opening),
		byCode:     make(map[string]Opening),
	}
}

// LoadDir loads all .tsv files from a directory.
func (db *Database) LoadDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.tsv"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .tsv files found in %s", dir)
	}

	for _, file := range files {
		if err := db.LoadFile(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// LoadFile loads a single TSV file with eco, name and pgn columns.
func (db *Database) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		// Skip header
		if lineNum == 1 && strings.HasPrefix(line, "eco\t") {
			continue
		}

		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		db.Add(parts[0], parts[1], parts[2])
	}

	return scanner.Err()
}

// Add registers an opening line. Lines that do not replay legally are
// ignored and reported as false.
func (db *Database) Add(code, name, line string) bool {
	_, sans := movetext.Normalize(line)
	pos := pgn.NewStartingPosition()
	if err := apply(pos, sans); err != nil {
		return false
	}

	o := Opening{ECO: code, Name: name}
	db.byPosition[pos.Pack()] = o
	if _, ok := db.byCode[code]; !ok {
		db.byCode[code] = o
	}
	db.count++
	return true
}

func apply(pos *pgn.GameState, sans []string) error {
	for _, san := range sans {
		san = strings.TrimSuffix(strings.TrimSuffix(san, "+"), "#")
		mv, err := pgn.ParseSAN(pos, san)
		if err != nil {
			return fmt.Errorf("parse %q: %w", san, err)
		}
		if err := pgn.ApplyMove(pos, mv); err != nil {
			return fmt.Errorf("apply %q: %w", san, err)
		}
	}
	return nil
}

// Lookup returns the ECO opening for a position, or nil if not found.
func (db *Database) Lookup(pos pgn.PackedPosition) *Opening {
	if o, ok := db.byPosition[pos]; ok {
		return &o
	}
	return nil
}

// LookupGameState returns the ECO opening for a GameState.
func (db *Database) LookupGameState(gs *pgn.GameState) *Opening {
	return db.Lookup(gs.Pack())
}

// Name returns the canonical opening name for an ECO code.
func (db *Database) Name(code string) (string, bool) {
	o, ok := db.byCode[strings.ToUpper(strings.TrimSpace(code))]
	return o.Name, ok
}

// Classify replays SAN moves and returns the deepest known opening reached.
func (db *Database) Classify(sans []string) *Opening {
	var best *Opening
	pos := pgn.NewStartingPosition()
	for _, san := range sans {
		if err := apply(pos, []string{san}); err != nil {
			break
		}
		if o := db.LookupGameState(pos); o != nil {
			best = o
		}
	}
	return best
}

// Names returns every distinct opening name sorted alphabetically.
func (db *Database) Names() []string {
	seen := make(map[string]struct{}, len(db.byPosition))
	for _, o := range db.byPosition {
		seen[o.Name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of openings loaded.
func (db *Database) Count() int {
	if db == nil {
		return 0
	}
	return db.count
}
