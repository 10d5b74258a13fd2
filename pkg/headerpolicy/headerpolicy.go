// Package headerpolicy implements C6: the hop-by-hop filter, security
// header filter, authentication rewrite, and body-length reconciliation
// applied to every proxied request and response.
//
// There is no pack or ecosystem library for RFC 7230 hop-by-hop header
// filtering — it is a dozen lines of set-membership checks against
// net/http.Header, not a dependency's job. This package is the stdlib
// exception noted in DESIGN.md for that reason.
package headerpolicy

import (
	"net/http"
	"strconv"
	"strings"
)

var hopByHop = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"proxy-connection":    {},
}

var forwardingHeaders = map[string]struct{}{
	"x-forwarded-for":   {},
	"x-forwarded-host":  {},
	"x-forwarded-proto": {},
	"x-forwarded-port":  {},
	"x-real-ip":         {},
	"forwarded":         {},
}

// connectionListed returns the lower-cased header names listed in the
// Connection header's comma-separated value(s), per RFC 7230 §6.1.
func connectionListed(h http.Header) map[string]struct{} {
	out := map[string]struct{}{}
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.ToLower(strings.TrimSpace(tok))
			if tok != "" {
				out[tok] = struct{}{}
			}
		}
	}
	return out
}

// ForwardHeaders builds the outbound request headers from the client's
// inbound headers: drops hop-by-hop, Connection-listed, forwarding/identity
// headers and Host; forces identity encoding; and applies the upstream-B
// authentication rewrite (authorization dropped, x-api-key set from
// apiKey when non-empty).
func ForwardHeaders(in http.Header, toUpstreamB bool, apiKey string) http.Header {
	listed := connectionListed(in)
	out := make(http.Header, len(in))
	for k, vv := range in {
		lk := strings.ToLower(k)
		if _, drop := hopByHop[lk]; drop {
			continue
		}
		if _, drop := listed[lk]; drop {
			continue
		}
		if _, drop := forwardingHeaders[lk]; drop {
			continue
		}
		if lk == "host" {
			continue
		}
		if lk == "authorization" && toUpstreamB {
			continue
		}
		out[k] = append([]string(nil), vv...)
	}
	out.Set("Accept-Encoding", "identity")
	if toUpstreamB {
		out.Del("Authorization")
		if apiKey != "" {
			out.Set("X-Api-Key", apiKey)
		}
	}
	return out
}

// ResponseHeaders builds the client-facing response headers from the
// upstream's response headers: drops hop-by-hop and Connection-listed
// headers; when the proxy buffered (and thus re-wrote the framing of) the
// body, also drops Transfer-Encoding and Content-Encoding so the rewritten
// Content-Length set by the caller is not contradicted.
func ResponseHeaders(in http.Header, buffered bool) http.Header {
	listed := connectionListed(in)
	out := make(http.Header, len(in))
	for k, vv := range in {
		lk := strings.ToLower(k)
		if _, drop := hopByHop[lk]; drop {
			continue
		}
		if _, drop := listed[lk]; drop {
			continue
		}
		if buffered && lk == "content-encoding" {
			continue
		}
		out[k] = append([]string(nil), vv...)
	}
	return out
}

// SetContentLength overwrites (or adds) Content-Length to reflect n bytes.
func SetContentLength(h http.Header, n int) {
	h.Set("Content-Length", strconv.Itoa(n))
}
