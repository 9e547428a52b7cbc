package extraction

import (
	"unicode"

	"github.com/joseph-ayodele/docextract/internal/reconcile"
	"github.com/joseph-ayodele/docextract/internal/schema"
)

// splitWords cuts text into windows of size words, each starting size-overlap
// words after the previous one. Whitespace inside a window is kept as is.
func splitWords(text string, size, overlap int) []string {
	if size <= 0 {
		return []string{text}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	type span struct{ start, end int }
	var words []span
	inWord := false
	for i, r := range text {
		switch {
		case unicode.IsSpace(r) && inWord:
			words[len(words)-1].end = i
			inWord = false
		case !unicode.IsSpace(r) && !inWord:
			words = append(words, span{start: i, end: len(text)})
			inWord = true
		}
	}
	if len(words) <= size {
		return []string{text}
	}

	step := size - overlap
	var chunks []string
	for first := 0; first < len(words); first += step {
		last := min(first+size, len(words)) - 1
		chunks = append(chunks, text[words[first].start:words[last].end])
		if last == len(words)-1 {
			break
		}
	}
	return chunks
}

// mergeChunks concatenates the records of each chunk in order. With overlap,
// a record identical (as canonical JSON) to one produced by the previous
// chunk is dropped; the first occurrence is kept.
func mergeChunks(outcomes []*reconcile.Outcome, overlap int) []map[string]any {
	records := []map[string]any{}
	var prev map[string]bool
	for _, out := range outcomes {
		if overlap <= 0 || len(outcomes) < 2 {
			records = append(records, out.Records...)
			continue
		}
		seen := make(map[string]bool, len(out.Records))
		for _, rec := range out.Records {
			b, err := schema.MarshalCanonical(rec)
			if err != nil {
				records = append(records, rec)
				continue
			}
			key := string(b)
			seen[key] = true
			if prev[key] {
				continue
			}
			records = append(records, rec)
		}
		prev = seen
	}
	return records
}
