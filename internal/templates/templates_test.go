package templates

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/agentdesk/internal/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	idx, err := Load(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Positive(t, idx.Len())
	assert.NotEmpty(t, idx.ByCategory("social"))
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.csv")
	data := "Title,Content,Category\nA,alpha beta,x\nB,,x\nC,gamma,y\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	idx, err := Load(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len(), "rows without content are skipped")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), nil)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("title,body\nA,b\n"), 0o644))
	_, err = Load(context.Background(), path, nil)
	assert.ErrorContains(t, err, "content")
}

func TestLexicalLookup(t *testing.T) {
	idx, err := Load(context.Background(), "", nil)
	require.NoError(t, err)

	got := idx.Lookup(context.Background(), "write an avatar video script", 2)
	require.NotEmpty(t, got)
	assert.Equal(t, "Avatar video script", got[0].Title)

	assert.Empty(t, idx.Lookup(context.Background(), "zzzz qqqq", 3))
	assert.Nil(t, idx.Lookup(context.Background(), "video", 0))
}

// axisEmbedder maps texts onto axes by keyword so similarity is predictable.
func axisEmbedder() *mock.Embedder {
	return &mock.Embedder{
		EmbedFn: func(_ context.Context, texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			for i, s := range texts {
				s = strings.ToLower(s)
				v := []float32{0.01, 0.01, 0.01}
				if strings.Contains(s, "solar") {
					v[0] = 1
				}
				if strings.Contains(s, "post") {
					v[1] = 1
				}
				if strings.Contains(s, "book") {
					v[2] = 1
				}
				out[i] = v
			}
			return out, nil
		},
	}
}

func TestSemanticLookup(t *testing.T) {
	tpls := []Template{
		{Category: "social", Title: "Posts", Content: "post ideas"},
		{Category: "presales", Title: "Solar", Content: "solar savings"},
		{Category: "scheduling", Title: "Booking", Content: "book a call"},
	}
	idx := NewIndex(context.Background(), tpls, axisEmbedder())

	got := idx.Lookup(context.Background(), "how much could solar save", 1)
	require.Len(t, got, 1)
	assert.Equal(t, "Solar", got[0].Title)

	// Semantic ranking returns k results even for weak matches.
	assert.Len(t, idx.Lookup(context.Background(), "anything", 3), 3)
}

func TestEmbeddingFailureFallsBackToLexical(t *testing.T) {
	e := &mock.Embedder{
		EmbedFn: func(context.Context, []string) ([][]float32, error) {
			return nil, errors.New("quota exceeded")
		},
	}
	tpls := []Template{
		{Title: "Posts", Content: "post ideas"},
		{Title: "Solar", Content: "solar savings"},
	}
	idx := NewIndex(context.Background(), tpls, e)
	got := idx.Lookup(context.Background(), "solar", 5)
	require.Len(t, got, 1)
	assert.Equal(t, "Solar", got[0].Title)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, cosine([]float32{1}, []float32{1, 2}))
	assert.Zero(t, cosine([]float32{0, 0}, []float32{1, 1}))
}
