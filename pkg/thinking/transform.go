package thinking

import (
	"encoding/json"
	"regexp"
	"strings"
)

// thinkingCompleteTagRe and thinkingUnterminatedTagRe implement the §4.5 fallback
// path for a string-shaped response "content": strip complete <thinking
// ...>...</thinking> spans first (non-greedy, case-insensitive, spanning
// newlines), then strip any unterminated trailing <thinking ...>... tail
// left over.
var (
	thinkingCompleteTagRe     = regexp.MustCompile(`(?is)<thinking[^>]*>.*?</thinking>`)
	thinkingUnterminatedTagRe = regexp.MustCompile(`(?is)<thinking[^>]*>.*$`)
)

// TransformResponseFromB implements C5 (§4.5): rewriting an upstream-B JSON
// response body's thinking blocks into the A-compatible shape. Callers are
// responsible for gating this on "target upstream is B and response
// content-type is JSON" (§4.7 step 10); this function only knows how to
// transform a body, not when to call it. Any parse failure or unexpected
// shape passes the body through unchanged.
func TransformResponseFromB(body []byte) []byte {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return body
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return body
	}
	contentRaw, ok := obj["content"]
	if !ok {
		return body
	}

	switch content := contentRaw.(type) {
	case []any:
		return transformArrayContent(body, obj, content)
	case string:
		return transformStringContent(body, obj, content)
	default:
		return body
	}
}

func transformArrayContent(body []byte, obj map[string]any, content []any) []byte {
	changed := false
	out := make([]any, len(content))
	for i, el := range content {
		block, ok := el.(map[string]any)
		if !ok {
			out[i] = el
			continue
		}
		if t, _ := block["type"].(string); t != "thinking" {
			out[i] = el
			continue
		}
		out[i] = map[string]any{"type": "thinking", "content": responseThinkingText(block)}
		changed = true
	}
	if !changed {
		return body
	}
	obj["content"] = out
	b, err := json.Marshal(obj)
	if err != nil {
		return body
	}
	return b
}

func transformStringContent(body []byte, obj map[string]any, content string) []byte {
	stripped := strings.TrimSpace(thinkingUnterminatedTagRe.ReplaceAllString(
		thinkingCompleteTagRe.ReplaceAllString(content, ""), ""))
	if stripped == content {
		return body
	}
	obj["content"] = stripped
	b, err := json.Marshal(obj)
	if err != nil {
		return body
	}
	return b
}

// responseThinkingText picks the reasoning string for a rewritten response
// thinking block: content (string), thinking (string), then
// thinking.content/thinking.thinking/thinking.text (string), else the JSON
// serialization of the nested thinking object, else "".
func responseThinkingText(block map[string]any) string {
	if s, ok := block["content"].(string); ok {
		return s
	}
	if s, ok := block["thinking"].(string); ok {
		return s
	}
	if obj, ok := block["thinking"].(map[string]any); ok {
		for _, k := range []string{"content", "thinking", "text"} {
			if s, ok := obj[k].(string); ok {
				return s
			}
		}
		if b, err := json.Marshal(obj); err == nil {
			return string(b)
		}
	}
	return ""
}
