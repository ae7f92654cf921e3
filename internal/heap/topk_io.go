package heap

// Persistence is only meaningful for string-keyed heaps: the flat file
// format (spec §6) stores raw feature text, matching topk.h's save()/load(),
// which serialises key_t as whatever fmt::operator<< produces for the
// instantiated key type (a std::string in every caller of TopK in the
// reference trainer). Go's type system can't express "Save exists only when
// K == string" as a method on TopK[K], so persistence is a pair of free
// functions over *TopK[string] rather than a generic method.

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// Save writes h to path in the spec §6 Top-K format: a line with the number
// of tracked keys, then, for each key, one line holding the key followed by
// one line holding its last pushed signed value.
func Save(h *TopK[string], path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("heap: save: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, h.count)
	for slot := 0; slot < h.count; slot++ {
		key := h.keys[slot]
		fmt.Fprintln(w, key)
		fmt.Fprintln(w, h.values[key])
	}
	return w.Flush()
}

// Load populates h (which must be freshly constructed and empty) from a file
// written by Save, replaying each (key, value) pair through Push so the
// result is a valid heap regardless of the target TopK's capacity.
func Load(h *TopK[string], path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("heap: load: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	readLine := func() (string, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		return sc.Text(), nil
	}

	countLine, err := readLine()
	if err != nil {
		return fmt.Errorf("heap: load: %w", err)
	}
	var n int
	if _, err := fmt.Sscanf(countLine, "%d", &n); err != nil {
		return fmt.Errorf("heap: load: malformed count: %w", err)
	}

	for i := 0; i < n; i++ {
		key, err := readLine()
		if err != nil {
			return fmt.Errorf("heap: load: %w", err)
		}
		valueLine, err := readLine()
		if err != nil {
			return fmt.Errorf("heap: load: %w", err)
		}
		var value float32
		if _, err := fmt.Sscanf(valueLine, "%g", &value); err != nil {
			return fmt.Errorf("heap: load: malformed value for %q: %w", key, err)
		}
		h.Push(key, value)
	}
	return nil
}
