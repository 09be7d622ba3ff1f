package search

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds a name into its lookup form: accents removed, case folded,
// punctuation dropped and whitespace collapsed. "Carlsen, Magnus" becomes
// "carlsen magnus" and "Réti" becomes "reti". Token order is preserved; other
// spellings of the same entity are resolved through an Aliases table.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = cases.Fold().String(folded)

	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		// Apostrophes join ("O'Kelly" -> "okelly"); everything else separates.
		if r == '\'' || r == '’' {
			continue
		}
		space = true
	}
	return b.String()
}

// NameKey is the order-independent form of a name: its normalized tokens
// sorted. "Carlsen, Magnus" and "Magnus Carlsen" share a key.
func NameKey(s string) string {
	toks := strings.Fields(Normalize(s))
	sort.Strings(toks)
	return strings.Join(toks, " ")
}

// rotations returns every token rotation of a normalized name so that
// "carlsen magnus" is also reachable as "magnus carlsen".
func rotations(n string) []string {
	toks := strings.Fields(n)
	if len(toks) < 2 {
		return []string{n}
	}
	out := make([]string, 0, len(toks))
	for i := range toks {
		out = append(out, strings.Join(append(append([]string{}, toks[i:]...), toks[:i]...), " "))
	}
	return out
}

// Aliases maps alternative spellings to a canonical name, per entity type.
// Keys are stored normalized.
type Aliases struct {
	m map[EntityType]map[string]string
}

// NewAliases returns an empty table.
func NewAliases() *Aliases {
	return &Aliases{m: make(map[EntityType]map[string]string)}
}

// Add registers alias as another spelling of canonical.
func (a *Aliases) Add(t EntityType, alias, canonical string) {
	n := Normalize(alias)
	if n == "" || canonical == "" {
		return
	}
	if a.m[t] == nil {
		a.m[t] = make(map[string]string)
	}
	a.m[t][n] = canonical
}

// Resolve returns the canonical name for an alias.
func (a *Aliases) Resolve(t EntityType, name string) (string, bool) {
	if a == nil {
		return "", false
	}
	c, ok := a.m[t][Normalize(name)]
	return c, ok
}

// For returns every normalized alias pointing at canonical.
func (a *Aliases) For(t EntityType, canonical string) []string {
	if a == nil {
		return nil
	}
	var out []string
	for alias, c := range a.m[t] {
		if c == canonical {
			out = append(out, alias)
		}
	}
	return out
}

// Len returns the number of aliases across all entity types.
func (a *Aliases) Len() int {
	if a == nil {
		return 0
	}
	n := 0
	for _, m := range a.m {
		n += len(m)
	}
	return n
}

// ReadAliases parses tab-separated "type<TAB>alias<TAB>canonical" lines.
// Blank lines and lines starting with # are skipped.
func ReadAliases(r io.Reader) (*Aliases, error) {
	a := NewAliases()
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		parts := strings.Split(text, "\t")
		if len(parts) != 3 {
			return nil, eris.Errorf("search: alias line %d: want 3 tab-separated fields, got %d", line, len(parts))
		}
		t, ok := ParseEntityType(parts[0])
		if !ok {
			return nil, eris.Errorf("search: alias line %d: unknown entity type %q", line, parts[0])
		}
		a.Add(t, parts[1], strings.TrimSpace(parts[2]))
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "search: read aliases")
	}
	return a, nil
}

// LoadAliases reads an alias file. An empty path yields an empty table.
func LoadAliases(path string) (*Aliases, error) {
	if path == "" {
		return NewAliases(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "search: open alias file %s", path)
	}
	defer f.Close()
	return ReadAliases(f)
}
