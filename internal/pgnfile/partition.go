// Package pgnfile reads the date-partitioned PGN archive: it discovers
// partition files, routes dates to partitions and streams game entries with
// bounded memory.
package pgnfile

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// Partition is one date-bounded archive file covering [Start, End).
type Partition struct {
	Name  string
	Path  string
	Start time.Time
	End   time.Time
}

// Covers reports whether d falls inside the partition.
func (p Partition) Covers(d time.Time) bool {
	return !d.Before(p.Start) && d.Before(p.End)
}

// partitionName matches "2012.pgn", "2012-06.pgn.zst", "2012-06.pgn.gz".
var partitionName = regexp.MustCompile(`^(\d{4})(?:-(\d{2}))?\.pgn(\.zst|\.gz)?$`)

// ParsePartitionName derives the partition key and date range from a file name.
func ParsePartitionName(file string) (name string, start, end time.Time, ok bool) {
	m := partitionName.FindStringSubmatch(file)
	if m == nil {
		return "", time.Time{}, time.Time{}, false
	}
	year, _ := strconv.Atoi(m[1])
	if m[2] == "" {
		start = time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return m[1], start, start.AddDate(1, 0, 0), true
	}
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return "", time.Time{}, time.Time{}, false
	}
	start = time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return m[1] + "-" + m[2], start, start.AddDate(0, 1, 0), true
}

// Catalog is the sorted set of partitions found in an archive directory.
type Catalog struct {
	dir        string
	partitions []Partition
	byName     map[string]int
}

// Discover lists the archive directory and builds a catalog. Overlapping
// partitions are rejected because routing would become ambiguous.
func Discover(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "pgnfile: read archive dir")
	}

	var parts []Partition
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name, start, end, ok := ParsePartitionName(e.Name())
		if !ok {
			continue
		}
		parts = append(parts, Partition{
			Name:  name,
			Path:  filepath.Join(dir, e.Name()),
			Start: start,
			End:   end,
		})
	}
	return NewCatalog(dir, parts)
}

// NewCatalog builds a catalog from explicit partitions.
func NewCatalog(dir string, parts []Partition) (*Catalog, error) {
	sort.Slice(parts, func(i, j int) bool { return parts[i].Start.Before(parts[j].Start) })

	c := &Catalog{dir: dir, partitions: parts, byName: make(map[string]int, len(parts))}
	for i, p := range parts {
		if i > 0 && p.Start.Before(parts[i-1].End) {
			return nil, eris.Errorf("pgnfile: partitions %s and %s overlap", parts[i-1].Name, p.Name)
		}
		c.byName[p.Name] = i
	}
	return c, nil
}

// Len returns the number of partitions.
func (c *Catalog) Len() int {
	return len(c.partitions)
}

// Partitions returns a copy of the sorted partition list.
func (c *Catalog) Partitions() []Partition {
	return append([]Partition(nil), c.partitions...)
}

// ByName returns the partition with the given key.
func (c *Catalog) ByName(name string) (Partition, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Partition{}, false
	}
	return c.partitions[i], true
}

// Route returns the partitions to scan for a game dated d, covering
// partition first. When d is within boundary of the covering partition's
// edges the adjacent partition on that side follows. A non-empty hint naming
// a known partition is scanned first. An empty result means no partition
// covers d.
func (c *Catalog) Route(d time.Time, boundary time.Duration, hint string) []Partition {
	var out []Partition
	seen := make(map[string]bool, 3)
	push := func(p Partition) {
		if !seen[p.Name] {
			seen[p.Name] = true
			out = append(out, p)
		}
	}

	if hint != "" {
		if p, ok := c.ByName(hint); ok {
			push(p)
		}
	}

	i := sort.Search(len(c.partitions), func(i int) bool { return c.partitions[i].End.After(d) })
	if i < len(c.partitions) && c.partitions[i].Covers(d) {
		push(c.partitions[i])
	} else {
		// d falls in a gap; neighbours within the boundary may still hold it
		// when the recorded date is slightly off.
		if i > 0 && d.Sub(c.partitions[i-1].End) <= boundary {
			push(c.partitions[i-1])
		}
		if i < len(c.partitions) && c.partitions[i].Start.Sub(d) <= boundary {
			push(c.partitions[i])
		}
		return out
	}

	if i > 0 && d.Sub(c.partitions[i-1].End) <= boundary {
		push(c.partitions[i-1])
	}
	if i+1 < len(c.partitions) && c.partitions[i+1].Start.Sub(d) <= boundary {
		push(c.partitions[i+1])
	}
	return out
}
