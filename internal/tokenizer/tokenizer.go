// Package tokenizer stands in for the file tokenizer / memory-mapped line
// reader that spec.md §1 explicitly treats as an external collaborator out
// of core scope. A real deployment could swap this for anything that
// produces whitespace-separated fields per line; this implementation is the
// minimum needed to drive the core end to end from a plain text file.
//
// Grounded on original_source/src/fast_parser.cpp's token contract — one
// record per newline, fields separated by a single delimiter character, a
// fixed maximum token width for the multiclass format — but built on
// bufio.Scanner rather than mmap: mmap'd I/O is itself out of scope per
// spec §1, and no repository in the example pack reaches for mmap, so there
// is nothing in the corpus to ground a CGO/syscall-based port on.
//
// © 2025 sketchtrain authors. MIT License.
package tokenizer

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// Scanner reads whitespace-separated fields, one record per line.
type Scanner struct {
	f  *os.File
	sc *bufio.Scanner
}

// Open opens path for tokenization. The caller must Close it when done.
func Open(path string) (*Scanner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &Scanner{f: f, sc: sc}, nil
}

// Next returns the whitespace-separated fields of the next non-blank line.
// ok is false once the input is exhausted; err is non-nil only on a genuine
// read failure (spec §7's IoError).
func (s *Scanner) Next() (fields []string, ok bool, err error) {
	for s.sc.Scan() {
		line := strings.TrimSpace(s.sc.Text())
		if line == "" {
			continue
		}
		return strings.Fields(line), true, nil
	}
	if err := s.sc.Err(); err != nil {
		return nil, false, err
	}
	return nil, false, nil
}

// Close releases the underlying file handle.
func (s *Scanner) Close() error {
	return s.f.Close()
}

// PadKey truncates or null-pads token to exactly length bytes, matching
// fast_parser's fixed std::array<char,32> token buffer (narrowed by callers
// to LEN=12 for the multiclass feature format). Hashing a fixed-width,
// null-padded buffer rather than the trimmed string keeps short and long
// tokens that share a common prefix from colliding differently than the
// reference trainer would.
func PadKey(token string, length int) []byte {
	buf := make([]byte, length)
	copy(buf, token) // remaining bytes stay zero, matching a null-padded C buffer
	return buf
}

var _ io.Closer = (*Scanner)(nil)
