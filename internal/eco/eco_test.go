package eco_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/freeeve/pgn/v3"

	"github.com/freeeve/chessarchive/internal/eco"
)

const fixture = "eco\tname\tpgn\n" +
	"B00\tKing's Pawn Game\t1. e4\n" +
	"C20\tKing's Pawn Game: Open\t1. e4 e5\n" +
	"C44\tKing's Knight Opening: Normal Variation\t1. e4 e5 2. Nf3 Nc6\n" +
	"C50\tItalian Game\t1. e4 e5 2. Nf3 Nc6 3. Bc4\n" +
	"C60\tRuy Lopez\t1. e4 e5 2. Nf3 Nc6 3. Bb5\n" +
	"A00\tBroken Line\t1. e5\n"

func loadFixture(t *testing.T) *eco.Database {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.tsv"), []byte(fixture), 0o644); err != nil {
		t.Fatal(err)
	}
	db := eco.NewDatabase()
	if err := db.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	return db
}

func TestLoadAndLookup(t *testing.T) {
	db := loadFixture(t)

	if db.Count() != 5 {
		t.Errorf("Count = %d, want 5 (illegal line skipped)", db.Count())
	}

	// Test 1. e4 (should be B00 King's Pawn Game)
	pos := pgn.NewStartingPosition()
	mv, _ := pgn.ParseSAN(pos, "e4")
	pgn.ApplyMove(pos, mv)
	if o := db.LookupGameState(pos); o == nil || o.ECO != "B00" {
		t.Errorf("after 1. e4 = %+v, want B00", o)
	}

	if o := db.LookupGameState(pgn.NewStartingPosition()); o != nil {
		t.Errorf("starting position classified as %+v", o)
	}
}

func TestName(t *testing.T) {
	db := loadFixture(t)
	if name, ok := db.Name(" c60 "); !ok || name != "Ruy Lopez" {
		t.Errorf("Name(c60) = %q %v", name, ok)
	}
	if _, ok := db.Name("E99"); ok {
		t.Error("unknown code resolved")
	}
}

func TestClassify(t *testing.T) {
	db := loadFixture(t)

	o := db.Classify([]string{"e4", "e5", "Nf3", "Nc6", "Bc4", "Bc5", "c3"})
	if o == nil || o.ECO != "C50" {
		t.Fatalf("Classify Italian = %+v, want C50", o)
	}
	if o := db.Classify([]string{"d4", "d5"}); o != nil {
		t.Errorf("Classify d4 = %+v, want nil", o)
	}
}

func TestNames(t *testing.T) {
	db := loadFixture(t)
	names := db.Names()
	if len(names) != 5 || names[0] != "Italian Game" {
		t.Errorf("Names = %v", names)
	}
}

func TestLoadDirEmpty(t *testing.T) {
	if err := eco.NewDatabase().LoadDir(t.TempDir()); err == nil {
		t.Error("LoadDir accepted directory without .tsv files")
	}
}
