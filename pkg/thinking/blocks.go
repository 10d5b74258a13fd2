// Package thinking implements the content-block sanitizer (C4) and response
// transformer (C5): the deterministic JSON-tree rewrites that normalize
// "thinking" blocks between upstream A's shape and upstream B's shape, and
// repair the structural invariants upstream A imposes on message sequences.
//
// Every public entry point treats malformed JSON as a no-op: on parse
// failure it returns the input bytes unchanged rather than raising. A
// rewrite is only ever returned if something in the tree actually changed;
// otherwise callers get the original slice back byte-for-byte.
package thinking

import (
	"encoding/json"
	"strings"
)

func parseObject(body []byte) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func roleOf(m map[string]any) string {
	s, _ := m["role"].(string)
	return s
}

func isEmptyContent(c any) bool {
	switch v := c.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	default:
		return false
	}
}

func coerceToBlocks(c any) []any {
	switch v := c.(type) {
	case string:
		if v == "" {
			return []any{}
		}
		return []any{map[string]any{"type": "text", "text": v}}
	case []any:
		return append([]any{}, v...)
	default:
		return []any{}
	}
}

func cloneMessage(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func mergeMessages(a, b map[string]any) map[string]any {
	as, aIsStr := a["content"].(string)
	bs, bIsStr := b["content"].(string)
	merged := cloneMessage(a)
	if aIsStr && bIsStr {
		merged["content"] = as + "\n\n" + bs
		return merged
	}
	blocks := append(coerceToBlocks(a["content"]), coerceToBlocks(b["content"])...)
	merged["content"] = blocks
	return merged
}

// repairStructurePass runs one iteration of (i) drop-leading-non-user,
// (ii) merge-consecutive-same-role, (iii) drop-empty-content. It reports
// whether anything in this pass actually changed the sequence, so the
// caller can iterate to a fixed point.
func repairStructurePass(msgs []map[string]any) ([]map[string]any, bool) {
	changed := false

	start := 0
	for start < len(msgs) && roleOf(msgs[start]) != "user" {
		start++
	}
	if start > 0 {
		msgs = msgs[start:]
		changed = true
	}

	merged := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		if len(merged) > 0 && roleOf(merged[len(merged)-1]) == roleOf(m) {
			merged[len(merged)-1] = mergeMessages(merged[len(merged)-1], m)
			changed = true
			continue
		}
		merged = append(merged, m)
	}

	kept := make([]map[string]any, 0, len(merged))
	for _, m := range merged {
		if isEmptyContent(m["content"]) {
			changed = true
			continue
		}
		kept = append(kept, m)
	}

	return kept, changed
}

// repairOrphanToolResults converts any tool_result block whose tool_use_id
// has no matching tool_use in the immediately preceding assistant message
// into a plain text block. Runs once, after structure repair has settled.
func repairOrphanToolResults(msgs []map[string]any) bool {
	changed := false
	for i, m := range msgs {
		if roleOf(m) != "user" {
			continue
		}
		arr, ok := m["content"].([]any)
		if !ok {
			continue
		}
		if !containsToolResult(arr) {
			continue
		}

		validIDs := precedingToolUseIDs(msgs, i)
		out := make([]any, len(arr))
		for j, el := range arr {
			block, ok := el.(map[string]any)
			if !ok {
				out[j] = el
				continue
			}
			if t, _ := block["type"].(string); t != "tool_result" {
				out[j] = el
				continue
			}
			id, _ := block["tool_use_id"].(string)
			if id != "" && validIDs[id] {
				out[j] = el
				continue
			}
			changed = true
			out[j] = map[string]any{"type": "text", "text": orphanToolResultText(block)}
		}
		m["content"] = out
	}
	return changed
}

func containsToolResult(arr []any) bool {
	for _, el := range arr {
		if block, ok := el.(map[string]any); ok {
			if t, _ := block["type"].(string); t == "tool_result" {
				return true
			}
		}
	}
	return false
}

func precedingToolUseIDs(msgs []map[string]any, idx int) map[string]bool {
	ids := map[string]bool{}
	if idx == 0 {
		return ids
	}
	prev := msgs[idx-1]
	if roleOf(prev) != "assistant" {
		return ids
	}
	prevArr, ok := prev["content"].([]any)
	if !ok {
		return ids
	}
	for _, el := range prevArr {
		block, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := block["type"].(string); t != "tool_use" {
			continue
		}
		if id, ok := block["id"].(string); ok && id != "" {
			ids[id] = true
		}
	}
	return ids
}

func orphanToolResultText(block map[string]any) string {
	text := "[previous tool result]"
	if extra := toolResultText(block); extra != "" {
		text += "\n" + extra
	}
	return text
}

func toolResultText(block map[string]any) string {
	if s, ok := block["content"].(string); ok {
		return s
	}
	arr, ok := block["content"].([]any)
	if !ok {
		return ""
	}
	var parts []string
	for _, el := range arr {
		block, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := block["type"].(string); t != "text" {
			continue
		}
		if s, ok := block["text"].(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "")
}

func toAnySlice(msgs []map[string]any) []any {
	out := make([]any, len(msgs))
	for i, m := range msgs {
		out[i] = m
	}
	return out
}

// thinkingHandler decides what a single "thinking" content block becomes.
// It returns the replacement value (either the original block, kept
// verbatim, or a converted text block) and whether that counts as a change.
type thinkingHandler func(block map[string]any) (any, bool)

func sanitizeContent(content any, handle thinkingHandler, changed *bool) any {
	arr, ok := content.([]any)
	if !ok {
		return content
	}
	out := make([]any, len(arr))
	for i, el := range arr {
		out[i] = sanitizeBlock(el, handle, changed)
	}
	return out
}

func sanitizeBlock(el any, handle thinkingHandler, changed *bool) any {
	block, ok := el.(map[string]any)
	if !ok {
		return el
	}
	switch t, _ := block["type"].(string); t {
	case "thinking":
		result, did := handle(block)
		if did {
			*changed = true
		}
		return result
	case "tool_result":
		inner, ok := block["content"].([]any)
		if !ok {
			return block
		}
		innerChanged := false
		newInner := make([]any, len(inner))
		for i, el2 := range inner {
			newInner[i] = sanitizeBlock(el2, handle, &innerChanged)
		}
		if !innerChanged {
			return block
		}
		nb := cloneMessage(block)
		nb["content"] = newInner
		*changed = true
		return nb
	default:
		return block
	}
}

// sanitizeRequestForACore implements the shared skeleton of 4.4.3/4.4.4:
// per-message content walk, iterative structure repair, then orphan
// tool_result repair. Only the per-"thinking"-block decision differs
// between the store-aware and legacy callers.
func sanitizeRequestForACore(body []byte, handle thinkingHandler) []byte {
	obj, ok := parseObject(body)
	if !ok {
		return body
	}
	messagesRaw, ok := obj["messages"]
	if !ok {
		return body
	}
	rawMsgs, ok := messagesRaw.([]any)
	if !ok {
		return body
	}

	msgs := make([]map[string]any, 0, len(rawMsgs))
	for _, m := range rawMsgs {
		mm, ok := m.(map[string]any)
		if !ok {
			// A non-object message is outside the grammar this repair
			// understands; leave the body untouched rather than guess.
			return body
		}
		msgs = append(msgs, mm)
	}

	changed := false
	for _, m := range msgs {
		if content, ok := m["content"]; ok {
			m["content"] = sanitizeContent(content, handle, &changed)
		}
	}

	for i := 0; i < 10; i++ {
		var passChanged bool
		msgs, passChanged = repairStructurePass(msgs)
		if !passChanged {
			break
		}
		changed = true
	}

	if repairOrphanToolResults(msgs) {
		changed = true
	}

	if !changed {
		return body
	}
	obj["messages"] = toAnySlice(msgs)
	out, err := json.Marshal(obj)
	if err != nil {
		return body
	}
	return out
}

func thinkingSubfieldPresent(block map[string]any) bool {
	v, ok := block["thinking"]
	return ok && v != nil
}

func extractGLMReasoning(block map[string]any) string {
	if s, ok := block["thinking"].(string); ok {
		return s
	}
	if s, ok := block["content"].(string); ok {
		return s
	}
	if obj, ok := block["thinking"].(map[string]any); ok {
		for _, k := range []string{"content", "thinking", "text"} {
			if s, ok := obj[k].(string); ok {
				return s
			}
		}
	}
	if obj, ok := block["content"].(map[string]any); ok {
		if s, ok := obj["text"].(string); ok {
			return s
		}
	}
	if obj, ok := block["thinking"].(map[string]any); ok {
		if b, err := json.Marshal(obj); err == nil {
			return string(b)
		}
	}
	if obj, ok := block["content"].(map[string]any); ok {
		if b, err := json.Marshal(obj); err == nil {
			return string(b)
		}
	}
	return ""
}

func convertToGLMReasoningText(block map[string]any) map[string]any {
	return map[string]any{
		"type": "text",
		"text": "<previous-glm-reasoning>\n" + extractGLMReasoning(block) + "\n</previous-glm-reasoning>",
	}
}
