package thinking

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lkarlslund/ccglmproxy/pkg/sigstore"
)

func TestExtractAndRecordSignatures(t *testing.T) {
	store := sigstore.New(10)
	body := []byte(`{"content":[{"type":"thinking","signature":"S1","content":"T"},{"type":"text","text":"hi"}]}`)
	out := ExtractAndRecordSignatures(body, store)
	assert.Equal(t, body, out)
	assert.True(t, store.Has("S1"))
	assert.Equal(t, 1, store.Size())
}

func TestExtractAndRecordSignaturesMalformedIsNoop(t *testing.T) {
	store := sigstore.New(10)
	body := []byte(`not json`)
	out := ExtractAndRecordSignatures(body, store)
	assert.Equal(t, body, out)
	assert.Equal(t, 0, store.Size())
}

func TestSanitizeRequestForA_OriginPreservation(t *testing.T) {
	store := sigstore.New(10)
	store.Add("S1")
	body := []byte(`{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":[{"type":"thinking","signature":"S1","content":"T"}]}]}`)
	out := SanitizeRequestForA(body, store)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(out, &obj))
	msgs := obj["messages"].([]any)
	last := msgs[len(msgs)-1].(map[string]any)
	blocks := last["content"].([]any)
	block := blocks[0].(map[string]any)
	assert.Equal(t, "thinking", block["type"])
	assert.Equal(t, "S1", block["signature"])
	assert.Equal(t, "T", block["content"])
}

func TestSanitizeRequestForA_ConvertsBShapeToText(t *testing.T) {
	store := sigstore.New(10)
	body := []byte(`{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":[{"type":"thinking","thinking":{"thinking":"X","signature":"zs"}}]}]}`)
	out := SanitizeRequestForA(body, store)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(out, &obj))
	msgs := obj["messages"].([]any)
	last := msgs[len(msgs)-1].(map[string]any)
	blocks := last["content"].([]any)
	block := blocks[0].(map[string]any)
	assert.Equal(t, "text", block["type"])
	assert.Contains(t, block["text"], "<previous-glm-reasoning>")
	assert.Contains(t, block["text"], "X")
}

func TestSanitizeRequestForA_UnknownSignatureFallsBackVerbatim(t *testing.T) {
	store := sigstore.New(10) // empty: signature not (yet) recorded, e.g. post-restart
	body := []byte(`{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":[{"type":"thinking","signature":"unseen","content":"T"}]}]}`)
	out := SanitizeRequestForA(body, store)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(out, &obj))
	msgs := obj["messages"].([]any)
	last := msgs[len(msgs)-1].(map[string]any)
	blocks := last["content"].([]any)
	block := blocks[0].(map[string]any)
	assert.Equal(t, "thinking", block["type"])
	assert.Equal(t, "unseen", block["signature"])
}

func TestSanitizeRequestForA_NonJSONIsNoop(t *testing.T) {
	store := sigstore.New(10)
	body := []byte(`{not json`)
	out := SanitizeRequestForA(body, store)
	assert.Equal(t, body, out)
}

func TestSanitizeRequestForA_NoMessagesIsNoop(t *testing.T) {
	store := sigstore.New(10)
	body := []byte(`{"model":"x"}`)
	out := SanitizeRequestForA(body, store)
	assert.Equal(t, body, out)
}

func TestSanitizeRequestForA_Idempotent(t *testing.T) {
	store := sigstore.New(10)
	body := []byte(`{"messages":[{"role":"assistant","content":"orphaned lead"},{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"ok"}]}]}`)
	once := SanitizeRequestForA(body, store)
	twice := SanitizeRequestForA(once, store)
	assert.JSONEq(t, string(once), string(twice))
}

func TestSanitizeRequestForA_DropsLeadingNonUser(t *testing.T) {
	store := sigstore.New(10)
	body := []byte(`{"messages":[{"role":"assistant","content":"stray"},{"role":"user","content":"hi"}]}`)
	out := SanitizeRequestForA(body, store)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(out, &obj))
	msgs := obj["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
}

func TestSanitizeRequestForA_MergesConsecutiveSameRole(t *testing.T) {
	store := sigstore.New(10)
	body := []byte(`{"messages":[{"role":"user","content":"a"},{"role":"user","content":"b"}]}`)
	out := SanitizeRequestForA(body, store)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(out, &obj))
	msgs := obj["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "a\n\nb", msgs[0].(map[string]any)["content"])
}

func TestSanitizeRequestForA_DropsEmptyContent(t *testing.T) {
	store := sigstore.New(10)
	body := []byte(`{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":""},{"role":"user","content":"bye"}]}`)
	out := SanitizeRequestForA(body, store)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(out, &obj))
	msgs := obj["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi\n\nbye", msgs[0].(map[string]any)["content"])
}

func TestSanitizeRequestForA_OrphanToolResult(t *testing.T) {
	store := sigstore.New(10)
	body := []byte(`{"messages":[{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"ok"}]}]}`)
	out := SanitizeRequestForA(body, store)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(out, &obj))
	msgs := obj["messages"].([]any)
	block := msgs[0].(map[string]any)["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "text", block["type"])
	assert.Equal(t, "[previous tool result]\nok", block["text"])
}

func TestSanitizeRequestForA_MatchedToolResultSurvives(t *testing.T) {
	store := sigstore.New(10)
	body := []byte(`{"messages":[
		{"role":"user","content":"hi"},
		{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"x"}]},
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"ok"}]}
	]}`)
	out := SanitizeRequestForA(body, store)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(out, &obj))
	msgs := obj["messages"].([]any)
	last := msgs[len(msgs)-1].(map[string]any)
	block := last["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_result", block["type"])
}

func TestSanitizeRequestForANoStore_ThinkingSubfieldWinsOverContent(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":[{"type":"thinking","content":"stale","thinking":"fresh","signature":"S1"}]}]}`)
	out := SanitizeRequestForANoStore(body)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(out, &obj))
	msgs := obj["messages"].([]any)
	last := msgs[len(msgs)-1].(map[string]any)
	block := last["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "thinking", block["type"])
	assert.Equal(t, "fresh", block["content"])
	_, hasSig := block["signature"]
	assert.False(t, hasSig)
	_, hasThinking := block["thinking"]
	assert.False(t, hasThinking)
}

func TestSanitizeRequestForANoStore_EmptyContentDefault(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":[{"type":"thinking"}]}]}`)
	out := SanitizeRequestForANoStore(body)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(out, &obj))
	msgs := obj["messages"].([]any)
	last := msgs[len(msgs)-1].(map[string]any)
	block := last["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "", block["content"])
}
