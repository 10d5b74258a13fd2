package headerpolicy

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForwardHeadersDropsHopByHopAndConnectionListed(t *testing.T) {
	in := http.Header{}
	in.Set("Connection", "x-custom, keep-alive")
	in.Set("X-Custom", "drop-me")
	in.Set("Keep-Alive", "timeout=5")
	in.Set("Host", "client.example")
	in.Set("X-Forwarded-For", "1.2.3.4")
	in.Set("Authorization", "Bearer secret")
	in.Set("Content-Type", "application/json")

	out := ForwardHeaders(in, false, "")
	assert.Empty(t, out.Get("X-Custom"))
	assert.Empty(t, out.Get("Keep-Alive"))
	assert.Empty(t, out.Get("Host"))
	assert.Empty(t, out.Get("X-Forwarded-For"))
	assert.Equal(t, "Bearer secret", out.Get("Authorization"))
	assert.Equal(t, "identity", out.Get("Accept-Encoding"))
	assert.Equal(t, "application/json", out.Get("Content-Type"))
}

func TestForwardHeadersUpstreamBRewritesAuth(t *testing.T) {
	in := http.Header{}
	in.Set("Authorization", "Bearer secret")

	out := ForwardHeaders(in, true, "zai-key")
	assert.Empty(t, out.Get("Authorization"))
	assert.Equal(t, "zai-key", out.Get("X-Api-Key"))
}

func TestForwardHeadersUpstreamBNoKeyLeavesHeaderAbsent(t *testing.T) {
	in := http.Header{}
	out := ForwardHeaders(in, true, "")
	assert.Empty(t, out.Get("X-Api-Key"))
}

func TestResponseHeadersBufferedDropsEncodingHeaders(t *testing.T) {
	in := http.Header{}
	in.Set("Transfer-Encoding", "chunked")
	in.Set("Content-Encoding", "gzip")
	in.Set("Content-Type", "application/json")

	out := ResponseHeaders(in, true)
	assert.Empty(t, out.Get("Transfer-Encoding"))
	assert.Empty(t, out.Get("Content-Encoding"))
	assert.Equal(t, "application/json", out.Get("Content-Type"))
}

func TestResponseHeadersStreamingKeepsEncodingHeaders(t *testing.T) {
	in := http.Header{}
	in.Set("Content-Encoding", "gzip")
	out := ResponseHeaders(in, false)
	assert.Equal(t, "gzip", out.Get("Content-Encoding"))
}

func TestSetContentLength(t *testing.T) {
	h := http.Header{}
	SetContentLength(h, 42)
	assert.Equal(t, "42", h.Get("Content-Length"))
}
