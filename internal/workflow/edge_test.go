package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEdge(t *testing.T) {
	e := NewEdge("src", "dst", ParamHandle("prompt"))
	require.NotNil(t, e)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "src", e.SourceNodeID)
	assert.Equal(t, "dst", e.TargetNodeID)
	assert.Equal(t, "param-prompt", e.TargetHandle)
}

func TestHandleEncoding(t *testing.T) {
	assert.Equal(t, "input-image", InputHandle("image"))
	assert.Equal(t, "param-prompt", ParamHandle("prompt"))
	assert.Equal(t, "images[0]", IndexedHandle("images", 0))
	assert.Equal(t, "images[3]", IndexedHandle("images", 3))
}

func TestParseHandle(t *testing.T) {
	t.Run("input handle", func(t *testing.T) {
		h, err := ParseHandle("input-image")
		require.NoError(t, err)
		assert.Equal(t, HandleInput, h.Kind)
		assert.Equal(t, "image", h.Key)
	})

	t.Run("param handle", func(t *testing.T) {
		h, err := ParseHandle("param-prompt")
		require.NoError(t, err)
		assert.Equal(t, HandleParam, h.Kind)
		assert.Equal(t, "prompt", h.Key)
	})

	t.Run("param key containing dashes", func(t *testing.T) {
		h, err := ParseHandle("param-negative-prompt")
		require.NoError(t, err)
		assert.Equal(t, "negative-prompt", h.Key)
	})

	t.Run("indexed handle", func(t *testing.T) {
		h, err := ParseHandle("images[2]")
		require.NoError(t, err)
		assert.Equal(t, HandleIndexed, h.Kind)
		assert.Equal(t, "images", h.Key)
		assert.Equal(t, 2, h.Index)
	})

	t.Run("round trips", func(t *testing.T) {
		for _, raw := range []string{"input-video", "param-seed", "frames[7]"} {
			h, err := ParseHandle(raw)
			require.NoError(t, err)
			assert.Equal(t, raw, h.String())
		}
	})

	t.Run("malformed handles", func(t *testing.T) {
		for _, raw := range []string{"", "prompt", "input-", "param-", "images[]", "images[x]", "[0]"} {
			_, err := ParseHandle(raw)
			assert.Error(t, err, "handle %q", raw)
		}
	})
}

func TestHandlesForKey(t *testing.T) {
	got := HandlesForKey("image")
	assert.Equal(t, [2]string{"input-image", "param-image"}, got)
}
