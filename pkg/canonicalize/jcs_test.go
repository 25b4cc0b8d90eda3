package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCS_KeyOrdering(t *testing.T) {
	a := map[string]any{"zeta": 1, "alpha": 2, "mid": 3}
	b := map[string]any{"alpha": 2, "mid": 3, "zeta": 1}

	ca, err := JCS(a)
	require.NoError(t, err)
	cb, err := JCS(b)
	require.NoError(t, err)

	assert.Equal(t, string(ca), string(cb))
	assert.Equal(t, `{"alpha":2,"mid":3,"zeta":1}`, string(ca))
}

func TestJCS_StructTagsRespected(t *testing.T) {
	type rec struct {
		TaskID string `json:"task_id"`
		Stage  string `json:"stage"`
	}
	out, err := JCS(rec{TaskID: "t-1", Stage: "EVAL"})
	require.NoError(t, err)
	assert.Equal(t, `{"stage":"EVAL","task_id":"t-1"}`, string(out))
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	out, err := JCS(map[string]any{"q": "a<b&c>d"})
	require.NoError(t, err)
	assert.Equal(t, `{"q":"a<b&c>d"}`, string(out))
}

func TestCanonicalHash_Stable(t *testing.T) {
	v := map[string]any{"task_id": "t-9", "nested": map[string]any{"b": 1, "a": 2}}

	h1, err := CanonicalHash(v)
	require.NoError(t, err)
	h2, err := CanonicalHash(v)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestCanonicalHash_DiffersOnContent(t *testing.T) {
	h1, err := CanonicalHash(map[string]any{"k": "v1"})
	require.NoError(t, err)
	h2, err := CanonicalHash(map[string]any{"k": "v2"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
