package fanout

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizer_SeededIsReproducible(t *testing.T) {
	a, err := NewSynthesizer(42, nil).Generate("Summarize the history of Rome", 3)
	require.NoError(t, err)
	b, err := NewSynthesizer(42, nil).Generate("Summarize the history of Rome", 3)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := NewSynthesizer(43, nil).Generate("Summarize the history of Rome", 3)
	require.NoError(t, err)
	assert.NotEqual(t, a[0].ResponderID, c[0].ResponderID)
}

func TestSynthesizer_CatalogMatch(t *testing.T) {
	replies, err := NewSynthesizer(5, nil).Generate("Quick one: what is the capital of France? Thanks", 3)
	require.NoError(t, err)
	require.Len(t, replies, 3)

	assert.True(t, strings.HasPrefix(replies[0].Text, "The capital of France is Paris."))
	for i, r := range replies {
		assert.True(t, strings.HasPrefix(r.ResponderID, "miner_"+string(rune('A'+i))+"_"))
		lo := int64(100 + i*50)
		assert.GreaterOrEqual(t, r.LatencyMs, lo)
		assert.Less(t, r.LatencyMs, lo+300)
	}
}

func TestSynthesizer_GenericTemplate(t *testing.T) {
	prompt := "Line one of a long prompt\nline two keeps going well past the sixty rune preview limit"
	replies, err := NewSynthesizer(9, nil).Generate(prompt, 3)
	require.NoError(t, err)
	require.Len(t, replies, 3)

	preview := promptPreview(prompt)
	assert.Len(t, []rune(preview), 60)
	assert.NotContains(t, preview, "\n")
	for _, r := range replies {
		assert.Contains(t, r.Text, `"`+preview+`..."`)
	}

	base := replies[0].LatencyMs
	assert.GreaterOrEqual(t, base, int64(150))
	assert.Less(t, base, int64(350))
	assert.Equal(t, base+75, replies[1].LatencyMs)
	assert.Equal(t, base+120, replies[2].LatencyMs)
}

func TestSynthesizer_MoreThanTemplateCount(t *testing.T) {
	replies, err := NewSynthesizer(9, nil).Generate("anything", 5)
	require.NoError(t, err)
	require.Len(t, replies, 5)
	assert.Equal(t, replies[0].Text, replies[3].Text)
	assert.Equal(t, replies[0].LatencyMs+50, replies[3].LatencyMs)

	ids := map[string]bool{}
	for _, r := range replies {
		ids[r.ResponderID] = true
	}
	assert.Len(t, ids, 5)
}

func TestSynthesizer_InvalidCount(t *testing.T) {
	_, err := NewSynthesizer(1, nil).Generate("x", 0)
	assert.True(t, errors.Is(err, ErrFallbackFailed))
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	content := `
templates:
  - prompt: "Who wrote the Odyssey and roughly when was it composed?"
    replies:
      - "Homer is credited with the Odyssey, composed around the 8th century BC."
      - "The Odyssey is attributed to Homer, circa 725 to 675 BC."
  - prompt: ""
    replies: ["skipped"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cat, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, len(builtinTemplates)+1, cat.Len())

	replies, ok := cat.Match("who wrote the odyssey and roughly when")
	require.True(t, ok)
	assert.Len(t, replies, 2)

	_, ok = cat.Match("something unrelated")
	assert.False(t, ok)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
