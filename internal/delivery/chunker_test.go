package delivery

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinChunks(chunks []Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text)
	}
	return b.String()
}

func TestSplitRoundTripAndCount(t *testing.T) {
	cases := []struct {
		name string
		text string
		max  int
		want int
	}{
		{"empty", "", 10, 0},
		{"shorter than max", "abc", 10, 1},
		{"exactly max", strings.Repeat("a", 10), 10, 1},
		{"one over", strings.Repeat("a", 11), 10, 2},
		{"multiple of max", strings.Repeat("a", 30), 10, 3},
		{"multibyte", strings.Repeat("시황", 7), 4, 4},
		{"max one", "hello", 1, 5},
		{"invalid utf-8 byte", "aaaaa\xffbbbbb", 4, 3},
		{"truncated multibyte", "\xea\xb0abc", 2, 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chunks := Split(tc.text, tc.max)
			require.Len(t, chunks, tc.want)
			assert.Equal(t, tc.text, joinChunks(chunks))
			for i, c := range chunks {
				assert.Equal(t, i, c.Index)
				assert.LessOrEqual(t, len([]rune(c.Text)), tc.max)
			}
		})
	}
}

func TestSplitDefaultMax(t *testing.T) {
	text := strings.Repeat("가", 5000)
	chunks := Split(text, 0)
	require.Len(t, chunks, 2)
	assert.Equal(t, 4096, len([]rune(chunks[0].Text)))
	assert.Equal(t, 904, len([]rune(chunks[1].Text)))
	assert.Equal(t, text, joinChunks(chunks))
}
