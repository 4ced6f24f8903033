package data

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTestCorpus(t *testing.T, texts [][]byte) (textsPath, indexPath string) {
	t.Helper()
	dir := t.TempDir()
	textsPath = filepath.Join(dir, "texts.bin")
	indexPath = filepath.Join(dir, "texts.idx")
	if err := WriteCorpus(texts, textsPath, indexPath); err != nil {
		t.Fatalf("WriteCorpus: %v", err)
	}
	return textsPath, indexPath
}

func TestMemoryMapDataset_RoundTrip(t *testing.T) {
	texts := [][]byte{
		[]byte("first text"),
		[]byte(""),
		[]byte("a much longer third text with several tokens."),
	}
	textsPath, indexPath := writeTestCorpus(t, texts)

	ds, err := NewMemoryMapDataset(textsPath, indexPath)
	if err != nil {
		t.Fatalf("NewMemoryMapDataset: %v", err)
	}
	defer ds.Close()

	if ds.Len() != len(texts) {
		t.Fatalf("Len() = %d, want %d", ds.Len(), len(texts))
	}
	for i, want := range texts {
		got, err := ds.Text(i)
		if err != nil {
			t.Fatalf("Text(%d): %v", i, err)
		}
		if string(got) != string(want) {
			t.Errorf("Text(%d) = %q, want %q", i, got, want)
		}
	}
}

func TestMemoryMapDataset_OutOfRange(t *testing.T) {
	textsPath, indexPath := writeTestCorpus(t, [][]byte{[]byte("only")})

	ds, err := NewMemoryMapDataset(textsPath, indexPath)
	if err != nil {
		t.Fatalf("NewMemoryMapDataset: %v", err)
	}
	defer ds.Close()

	if _, err := ds.Text(-1); err == nil {
		t.Error("expected error for negative index")
	}
	if _, err := ds.Text(1); err == nil {
		t.Error("expected error for index past end")
	}
}

func TestMemoryMapDataset_ClosedAccess(t *testing.T) {
	textsPath, indexPath := writeTestCorpus(t, [][]byte{[]byte("text")})

	ds, err := NewMemoryMapDataset(textsPath, indexPath)
	if err != nil {
		t.Fatalf("NewMemoryMapDataset: %v", err)
	}
	if err := ds.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := ds.Text(0); err == nil {
		t.Error("expected error after Close")
	}
	// Close is idempotent.
	if err := ds.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestReadIndex_RejectsCorruption(t *testing.T) {
	textsPath, indexPath := writeTestCorpus(t, [][]byte{[]byte("abc"), []byte("def")})

	raw, err := os.ReadFile(indexPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(b []byte) []byte
	}{
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"bad version", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[4:8], 99)
			return b
		}},
		{"truncated", func(b []byte) []byte { return b[:len(b)-4] }},
		{"non-monotonic offsets", func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[16+8:], 100)
			return b
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mutated := tc.mutate(append([]byte(nil), raw...))
			badPath := filepath.Join(t.TempDir(), "bad.idx")
			if err := os.WriteFile(badPath, mutated, 0o644); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}

			_, err := NewMemoryMapDataset(textsPath, badPath)
			if err == nil {
				t.Fatal("expected error for corrupted index")
			}
			if !errors.Is(err, ErrInvalidIndex) {
				t.Errorf("expected ErrInvalidIndex, got %v", err)
			}
		})
	}
}

func TestMemoryMapDataset_IndexBeyondTexts(t *testing.T) {
	dir := t.TempDir()
	textsPath := filepath.Join(dir, "texts.bin")
	indexPath := filepath.Join(dir, "texts.idx")
	if err := WriteCorpus([][]byte{[]byte("full text here")}, textsPath, indexPath); err != nil {
		t.Fatalf("WriteCorpus: %v", err)
	}
	// Truncate the texts file so the final offset points past the end.
	if err := os.WriteFile(textsPath, []byte("short"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := NewMemoryMapDataset(textsPath, indexPath); err == nil {
		t.Error("expected error for index exceeding texts file")
	}
}
