package thinking

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformResponseFromB_ArrayContent(t *testing.T) {
	body := []byte(`{"content":[{"type":"thinking","thinking":{"thinking":"X","signature":"zs"}},{"type":"text","text":"hi"}]}`)
	out := TransformResponseFromB(body)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(out, &obj))
	content := obj["content"].([]any)
	thinkingBlock := content[0].(map[string]any)
	assert.Equal(t, "thinking", thinkingBlock["type"])
	assert.Equal(t, "X", thinkingBlock["content"])
	_, hasSig := thinkingBlock["signature"]
	assert.False(t, hasSig)
	_, hasThinking := thinkingBlock["thinking"]
	assert.False(t, hasThinking)

	textBlock := content[1].(map[string]any)
	assert.Equal(t, "hi", textBlock["text"])
}

func TestTransformResponseFromB_StringContentStripsThinkingTags(t *testing.T) {
	body := []byte(`{"content":"before <thinking sig=\"x\">reasoning here</thinking> after"}`)
	out := TransformResponseFromB(body)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(out, &obj))
	assert.Equal(t, "before  after", obj["content"])
}

func TestTransformResponseFromB_StringContentStripsUnterminatedTrailingTag(t *testing.T) {
	body := []byte(`{"content":"before <thinking>still going with no close"}`)
	out := TransformResponseFromB(body)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(out, &obj))
	assert.Equal(t, "before", obj["content"])
}

func TestTransformResponseFromB_NoContentIsNoop(t *testing.T) {
	body := []byte(`{"model":"glm-4-plus"}`)
	out := TransformResponseFromB(body)
	assert.Equal(t, body, out)
}

func TestTransformResponseFromB_MalformedIsNoop(t *testing.T) {
	body := []byte(`not json`)
	out := TransformResponseFromB(body)
	assert.Equal(t, body, out)
}

func TestTransformResponseFromB_NonThinkingBlocksUntouched(t *testing.T) {
	body := []byte(`{"content":[{"type":"text","text":"hi"}]}`)
	out := TransformResponseFromB(body)
	assert.Equal(t, body, out)
}
