package data

import (
	"fmt"
)

// TextSource is random access to a corpus of raw texts.
type TextSource interface {
	Len() int
	Text(i int) ([]byte, error)
}

// window identifies a byte range within one source text.
type window struct {
	text       int
	start, end int
}

// SplitDataset windows a text corpus into labelled byte sequences.
//
// Each text is cut into consecutive windows of up to maxLen bytes; the
// cut point backs up to the nearest whitespace within [minLen, maxLen]
// so windows break between tokens when possible. A trailing remainder
// shorter than minTail bytes is dropped. The number of windows is
// derived once at construction from the text lengths alone, so Len is
// cheap and stable.
//
// Labels are derived from the window content: channel 0 is set on the
// last byte of each whitespace-delimited token, channel 1 on sentence
// terminators ('.', '!', '?', '\n').
type SplitDataset struct {
	source  TextSource
	minLen  int
	maxLen  int
	minTail int
	windows []window
}

// NewSplitDataset windows source with the given parameters. It reads
// only text lengths up front; text bytes are fetched per sample.
func NewSplitDataset(source TextSource, minLen, maxLen, minTail int) (*SplitDataset, error) {
	if minLen <= 0 || maxLen < minLen {
		return nil, fmt.Errorf("data: invalid window bounds [%d, %d]", minLen, maxLen)
	}

	ds := &SplitDataset{source: source, minLen: minLen, maxLen: maxLen, minTail: minTail}
	for i := 0; i < source.Len(); i++ {
		text, err := source.Text(i)
		if err != nil {
			return nil, fmt.Errorf("data: reading text %d: %w", i, err)
		}
		ds.windowText(i, text)
	}
	return ds, nil
}

func (d *SplitDataset) windowText(idx int, text []byte) {
	start := 0
	for start < len(text) {
		remaining := len(text) - start
		if remaining <= d.maxLen {
			if remaining >= d.minTail {
				d.windows = append(d.windows, window{text: idx, start: start, end: len(text)})
			}
			return
		}

		end := start + d.maxLen
		// Prefer breaking on whitespace inside [start+minLen, end].
		cut := end
		for p := end; p > start+d.minLen; p-- {
			if isSpace(text[p-1]) {
				cut = p
				break
			}
		}
		d.windows = append(d.windows, window{text: idx, start: start, end: cut})
		start = cut
	}
}

// Len returns the number of windows in the corpus.
func (d *SplitDataset) Len() int { return len(d.windows) }

// At materializes the i-th window with its labels.
func (d *SplitDataset) At(i int) (Sample, error) {
	if i < 0 || i >= len(d.windows) {
		return Sample{}, fmt.Errorf("data: window index %d out of range [0, %d)", i, len(d.windows))
	}
	w := d.windows[i]
	text, err := d.source.Text(w.text)
	if err != nil {
		return Sample{}, fmt.Errorf("data: reading text %d: %w", w.text, err)
	}
	if w.end > len(text) {
		return Sample{}, fmt.Errorf("data: window [%d, %d) exceeds text %d length %d", w.start, w.end, w.text, len(text))
	}

	input := text[w.start:w.end]
	return Sample{Input: input, Labels: Label(input)}, nil
}

// Label derives the two label channels for a byte sequence: channel 0
// marks the last byte of each whitespace-delimited token, channel 1
// marks sentence terminators.
func Label(input []byte) []float32 {
	labels := make([]float32, len(input)*NumChannels)
	for p, b := range input {
		atEnd := p == len(input)-1
		if !isSpace(b) && (atEnd || isSpace(input[p+1])) {
			labels[p*NumChannels] = 1
		}
		if b == '.' || b == '!' || b == '?' || b == '\n' {
			labels[p*NumChannels+1] = 1
		}
	}
	return labels
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
