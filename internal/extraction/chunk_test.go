package extraction

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/joseph-ayodele/docextract/internal/reconcile"
)

func TestSplitWords(t *testing.T) {
	assert.Equal(t, []string{"a b c"}, splitWords("a b c", 0, 0))
	assert.Equal(t, []string{"a b c"}, splitWords("a b c", 5, 0))
	assert.Equal(t, []string{"a b", "c d", "e"}, splitWords("a b c d e", 2, 0))
	assert.Equal(t, []string{"a  b\nc", "c d"}, splitWords("a  b\nc d", 3, 1))
	assert.Equal(t, []string{"a b", "c"}, splitWords("a b c", 2, 7))
}

func TestSplitWordsCoversEveryWord(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		words := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,5}`), 1, 60).Draw(rt, "words")
		size := rapid.IntRange(1, 10).Draw(rt, "size")
		overlap := rapid.IntRange(0, size-1).Draw(rt, "overlap")

		chunks := splitWords(strings.Join(words, " "), size, overlap)
		var got []string
		for i, c := range chunks {
			fields := strings.Fields(c)
			if len(fields) > size {
				rt.Fatalf("chunk %d has %d words", i, len(fields))
			}
			if i > 0 {
				fields = fields[min(overlap, len(fields)):]
			}
			got = append(got, fields...)
		}
		if strings.Join(got, " ") != strings.Join(words, " ") {
			rt.Fatalf("words lost or duplicated: %v vs %v", got, words)
		}
	})
}

func TestMergeChunks(t *testing.T) {
	person := func(name string, age int) map[string]any { return map[string]any{"name": name, "age": age} }
	outcomes := []*reconcile.Outcome{
		{Records: []map[string]any{person("Alice", 30), person("Bob", 40)}},
		{Records: []map[string]any{person("Bob", 40), person("Carol", 50), person("Carol", 50)}},
		{Records: []map[string]any{person("Alice", 30)}},
	}

	assert.Equal(t, []map[string]any{
		person("Alice", 30), person("Bob", 40), person("Carol", 50), person("Carol", 50), person("Alice", 30),
	}, mergeChunks(outcomes, 2), "only the previous chunk's records are dropped")

	assert.Len(t, mergeChunks(outcomes, 0), 6)
	assert.Empty(t, mergeChunks(nil, 2))
	assert.NotNil(t, mergeChunks(nil, 0))
}
