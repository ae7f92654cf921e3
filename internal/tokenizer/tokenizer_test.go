package tokenizer

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestNextSplitsFieldsAndSkipsBlankLines(t *testing.T) {
	path := writeTemp(t, "1 featureA featureB\n\n2 featureC\n")
	sc, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sc.Close()

	fields, ok, err := sc.Next()
	if err != nil || !ok {
		t.Fatalf("Next() = %v, %v, %v", fields, ok, err)
	}
	if len(fields) != 3 || fields[0] != "1" || fields[2] != "featureB" {
		t.Fatalf("Next() = %v, want [1 featureA featureB]", fields)
	}

	fields, ok, err = sc.Next()
	if err != nil || !ok || len(fields) != 2 {
		t.Fatalf("second Next() = %v, %v, %v", fields, ok, err)
	}

	_, ok, err = sc.Next()
	if err != nil || ok {
		t.Fatalf("Next() at EOF = ok=%v err=%v, want ok=false err=nil", ok, err)
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatalf("Open of missing file should fail")
	}
}

func TestPadKeyTruncatesAndPads(t *testing.T) {
	short := PadKey("ab", 5)
	if len(short) != 5 || short[0] != 'a' || short[1] != 'b' || short[2] != 0 {
		t.Fatalf("PadKey(short) = %v", short)
	}

	long := PadKey("abcdefgh", 5)
	if string(long) != "abcde" {
		t.Fatalf("PadKey(long) = %q, want \"abcde\"", long)
	}
}
