package pgnfile

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rotisserie/eris"
)

// ErrEntryTooLarge marks an entry whose text exceeded the per-game limit.
// The scanner skips such entries and keeps going.
var ErrEntryTooLarge = errors.New("pgnfile: entry exceeds size limit")

// Open opens a partition file, decompressing .zst and .gz transparently.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1), zstd.WithDecoderLowmem(true))
		if err != nil {
			f.Close()
			return nil, eris.Wrap(err, "pgnfile: zstd reader")
		}
		return &stackCloser{Reader: zr, close: func() error { zr.Close(); return f.Close() }}, nil
	case strings.HasSuffix(path, ".gz"):
		gr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, eris.Wrap(err, "pgnfile: gzip reader")
		}
		return &stackCloser{Reader: gr, close: func() error { gr.Close(); return f.Close() }}, nil
	default:
		return f, nil
	}
}

type stackCloser struct {
	io.Reader
	close func() error
}

func (s *stackCloser) Close() error { return s.close() }

// Entry is one game as it appears in the archive.
type Entry struct {
	Tags   map[string]string
	Moves  string // raw movetext, lines joined by single spaces
	Offset int64  // byte offset of the first header line (decompressed stream)
}

// ScanOptions bounds the memory used while scanning.
type ScanOptions struct {
	ChunkSize    int // read buffer size; default 256KiB
	MaxGameBytes int // header+movetext cap per entry; default 1MiB
}

// Scanner streams entries from a PGN stream. Only the current entry and the
// read buffer are held in memory.
type Scanner struct {
	r       *bufio.Reader
	opts    ScanOptions
	offset  int64
	pending []byte // a header line read while finishing the previous entry
	pendOff int64

	entry   Entry
	err     error
	skipped int
	games   int
}

// NewScanner wraps r.
func NewScanner(r io.Reader, opts ScanOptions) *Scanner {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 256 * 1024
	}
	if opts.MaxGameBytes <= 0 {
		opts.MaxGameBytes = 1 << 20
	}
	return &Scanner{r: bufio.NewReaderSize(r, opts.ChunkSize), opts: opts}
}

// Entry returns the entry produced by the last successful Next.
func (s *Scanner) Entry() *Entry { return &s.entry }

// Err returns the first I/O error encountered, if any.
func (s *Scanner) Err() error { return s.err }

// Skipped returns the number of oversized or malformed entries skipped.
func (s *Scanner) Skipped() int { return s.skipped }

// Games returns the number of entries produced.
func (s *Scanner) Games() int { return s.games }

// readLine returns the next line without its terminator. Lines longer than
// the cap are truncated and reported via the tooLong flag.
func (s *Scanner) readLine() (line []byte, off int64, tooLong bool, err error) {
	if s.pending != nil {
		line, off = s.pending, s.pendOff
		s.pending = nil
		return line, off, false, nil
	}

	off = s.offset
	var buf []byte
	for {
		frag, e := s.r.ReadSlice('\n')
		s.offset += int64(len(frag))
		if len(buf)+len(frag) <= s.opts.MaxGameBytes {
			buf = append(buf, frag...)
		} else {
			tooLong = true
		}
		if e == bufio.ErrBufferFull {
			continue
		}
		if e != nil && (e != io.EOF || len(buf) == 0) {
			return nil, off, tooLong, e
		}
		break
	}
	return bytes.TrimRight(buf, "\r\n"), off, tooLong, nil
}

// Next advances to the next entry. It returns false at end of stream or on
// an I/O error (see Err).
func (s *Scanner) Next() bool {
	for {
		ok, retry := s.next()
		if !retry {
			return ok
		}
	}
}

func (s *Scanner) next() (ok, retry bool) {
	var (
		tags     map[string]string
		moves    strings.Builder
		size     int
		start    int64 = -1
		inMoves  bool
		oversize bool
	)

	for {
		line, off, tooLong, err := s.readLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.err = eris.Wrap(err, "pgnfile: read")
			return false, false
		}
		if tooLong {
			oversize = true
		}

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}

		if trimmed[0] == '[' {
			if inMoves {
				// next game's header; keep it for the following call
				s.pending, s.pendOff = line, off
				break
			}
			if start < 0 {
				start = off
				tags = make(map[string]string, 12)
			}
			if k, v, ok := parseTag(trimmed); ok {
				tags[k] = v
			}
			size += len(line)
			continue
		}

		if start < 0 {
			// movetext without headers: garbage between games
			start = off
			tags = make(map[string]string)
		}
		inMoves = true
		size += len(line) + 1
		if size > s.opts.MaxGameBytes {
			oversize = true
			continue
		}
		if moves.Len() > 0 {
			moves.WriteByte(' ')
		}
		moves.Write(trimmed)
	}

	if start < 0 {
		return false, false
	}
	if oversize || len(tags) == 0 {
		s.skipped++
		return false, true
	}

	s.games++
	s.entry = Entry{Tags: tags, Moves: moves.String(), Offset: start}
	return true, false
}

// parseTag parses `[Key "Value"]`, unescaping \" and \\.
func parseTag(line []byte) (string, string, bool) {
	if len(line) < 2 || line[0] != '[' || line[len(line)-1] != ']' {
		return "", "", false
	}
	body := line[1 : len(line)-1]
	sp := bytes.IndexByte(body, ' ')
	if sp <= 0 {
		return "", "", false
	}
	key := string(body[:sp])
	val := bytes.TrimSpace(body[sp+1:])
	if len(val) < 2 || val[0] != '"' || val[len(val)-1] != '"' {
		return "", "", false
	}
	val = val[1 : len(val)-1]
	if bytes.IndexByte(val, '\\') < 0 {
		return key, string(val), true
	}
	var b strings.Builder
	for i := 0; i < len(val); i++ {
		if val[i] == '\\' && i+1 < len(val) {
			i++
		}
		b.WriteByte(val[i])
	}
	return key, b.String(), true
}
