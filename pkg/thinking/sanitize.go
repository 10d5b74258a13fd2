package thinking

import (
	"encoding/json"

	"github.com/lkarlslund/ccglmproxy/pkg/sigstore"
)

// ExtractAndRecordSignatures implements 4.4.2: it walks a top-level JSON
// object's "content" array (an upstream-A response body) and records every
// non-empty thinking-block signature into store. The input bytes are always
// returned unchanged; this function only has the side effect of populating
// store. Malformed JSON or an absent/non-array "content" is a no-op.
func ExtractAndRecordSignatures(body []byte, store *sigstore.Store) []byte {
	obj, ok := parseObject(body)
	if !ok {
		return body
	}
	arr, ok := obj["content"].([]any)
	if !ok {
		return body
	}
	for _, el := range arr {
		block, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := block["type"].(string); t != "thinking" {
			continue
		}
		if sig, ok := block["signature"].(string); ok && sig != "" {
			store.Add(sig)
		}
	}
	return body
}

// SanitizeRequestForA implements 4.4.3: the store-aware sanitizer production
// callers use. A thinking block whose signature is recognized by store (A
// origin) survives verbatim, as does a block with no thinking sub-field but a
// non-empty signature the store has not seen; every other thinking block is
// converted to a text block carrying the extracted reasoning. Message-structure
// repair then runs to a fixed point (at most 10 passes), followed by one pass
// of orphan tool_result repair.
func SanitizeRequestForA(body []byte, store *sigstore.Store) []byte {
	return sanitizeRequestForACore(body, originAwareHandler(store))
}

// SanitizeRequestForANoStore implements the legacy 4.4.4 path: every
// thinking block is unconditionally rewritten into the A-shape, with the
// thinking sub-field's extracted content always taking precedence over any
// pre-existing content field. Retained for callers with no signature store;
// production callers use SanitizeRequestForA.
func SanitizeRequestForANoStore(body []byte) []byte {
	return sanitizeRequestForACore(body, legacyThinkingHandler)
}

// originAwareHandler implements the four-step origin-detection order from
// 4.4.3(a). Cases 1 and 3 return the block unchanged (changed=false) since
// they keep the input verbatim; cases 2 and 4 convert to a text block.
func originAwareHandler(store *sigstore.Store) thinkingHandler {
	return func(block map[string]any) (any, bool) {
		sig, _ := block["signature"].(string)
		if sig != "" && store.Has(sig) {
			return block, false
		}
		if thinkingSubfieldPresent(block) {
			return convertToGLMReasoningText(block), true
		}
		if sig != "" {
			return block, false
		}
		return convertToGLMReasoningText(block), true
	}
}

// legacyThinkingHandler implements 4.4.4: a fresh thinking block copying
// only the content/cache_control whitelist, with the thinking sub-field (if
// present) always winning over any pre-existing content.
func legacyThinkingHandler(block map[string]any) (any, bool) {
	fresh := map[string]any{"type": "thinking"}
	if cc, ok := block["cache_control"]; ok {
		fresh["cache_control"] = cc
	}
	if c, ok := block["content"].(string); ok {
		fresh["content"] = c
	}
	if thinkingSubfieldPresent(block) {
		fresh["content"] = extractThinkingSubfield(block)
	}
	if _, ok := fresh["content"].(string); !ok {
		fresh["content"] = ""
	}
	return fresh, true
}

// extractThinkingSubfield pulls the reasoning text out of the "thinking"
// sub-field alone (string, or nested object's content/thinking/text), with
// no fallback to the block's own content field — used by the legacy handler
// where the thinking sub-field must always win.
func extractThinkingSubfield(block map[string]any) string {
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
