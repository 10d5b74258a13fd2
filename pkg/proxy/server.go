// Package proxy implements C7 (the per-request handler) and C8 (the
// listening server that dispatches to it): the routing proxy data plane
// described in §4.7–4.8.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/lkarlslund/ccglmproxy/pkg/apierr"
	"github.com/lkarlslund/ccglmproxy/pkg/config"
	"github.com/lkarlslund/ccglmproxy/pkg/headerpolicy"
	"github.com/lkarlslund/ccglmproxy/pkg/logjournal"
	"github.com/lkarlslund/ccglmproxy/pkg/logutil"
	"github.com/lkarlslund/ccglmproxy/pkg/route"
	"github.com/lkarlslund/ccglmproxy/pkg/sigstore"
	"github.com/lkarlslund/ccglmproxy/pkg/thinking"
)

const (
	maxRequestBodyBytes  = 10 << 20
	maxResponseBodyBytes = 50 << 20
	upstreamTimeout      = 30 * time.Second
)

// Server binds host:port and dispatches every request to the C7 pipeline.
// selector is held behind an atomic pointer so Reload can swap in a freshly
// compiled routing table without a restart; cfg is likewise swapped so
// later reads (e.g. the listen-address log line) see the loaded version,
// though proxy.host/port themselves only take effect on the next Run.
type Server struct {
	cfg        atomic.Pointer[config.Config]
	selector   atomic.Pointer[route.Selector]
	store      *sigstore.Store
	logger     *log.Logger
	journal    *logjournal.Journal
	httpClient *http.Client
	httpServer *http.Server
}

// New wires the proxy server from a loaded config, a diagnostic logger
// scoped to this component, and the structured request journal.
func New(cfg *config.Config, logger *log.Logger, journal *logjournal.Journal) *Server {
	if logger == nil {
		logger = logutil.New("proxy")
	} else {
		logger = logger.With("component", "proxy")
	}
	s := &Server{
		store:   sigstore.New(cfg.SignatureStore.MaxSize),
		logger:  logger,
		journal: journal,
		httpClient: &http.Client{
			Timeout: upstreamTimeout,
		},
	}
	s.cfg.Store(cfg)
	s.selector.Store(route.New(cfg, logger))
	return s
}

// Reload swaps in a freshly loaded configuration's routing table and
// signature-store capacity without restarting the listener. It is the
// only mutation path config hot-reload is allowed to take: proxy.host and
// proxy.port are read once at Run and are not affected.
func (s *Server) Reload(cfg *config.Config) {
	s.cfg.Store(cfg)
	s.selector.Store(route.New(cfg, s.logger))
	s.store.SetCapacity(cfg.SignatureStore.MaxSize)
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Handle("/*", http.HandlerFunc(s.handleProxy))
	return r
}

// Run binds the listener and serves until ctx is cancelled, then drains
// in-flight requests before returning.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.cfg.Load()
	addr := net.JoinHostPort(cfg.Proxy.Host, strconv.Itoa(cfg.Proxy.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.httpServer = &http.Server{Handler: s.router()}

	s.logger.Info("listening",
		"addr", addr,
		"upstream_anthropic", cfg.Upstream.Anthropic.URL,
		"upstream_zai", cfg.Upstream.ZAI.URL,
		"rules", len(cfg.Routing.Rules),
		"default", cfg.Routing.Default,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("shutdown did not drain cleanly", "error", err)
	}
	return <-errCh
}

// newRequestID returns the chi-assigned request id when the router's
// middleware.RequestID has run, and falls back to a freshly minted uuid
// for callers that invoke handleProxy directly, bypassing the chi
// middleware chain entirely (a direct in-process dial, or a test).
func (s *Server) newRequestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}

func expectsBody(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	if r.ContentLength > 0 {
		return true
	}
	return len(r.TransferEncoding) > 0
}

// readBody buffers r.Body up to maxRequestBodyBytes, returning an
// apierr.Error if the cap is exceeded.
func readBody(r *http.Request) ([]byte, *apierr.Error) {
	limited := io.LimitReader(r.Body, maxRequestBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, apierr.ProxyError("failed to read request body: " + err.Error())
	}
	if len(body) > maxRequestBodyBytes {
		return nil, apierr.PayloadTooLarge("request body exceeds the 10 MiB limit")
	}
	return body, nil
}

func isJSONContentType(ct string) bool {
	return strings.HasPrefix(strings.TrimSpace(strings.ToLower(ct)), "application/json")
}

// rewriteModelField overwrites the top-level "model" field of body with
// model, returning the new body and whether a rewrite was attempted at
// all (per §4.7 step 5, attempted regardless of whether the value
// actually changed).
func rewriteModelField(body []byte, model string) ([]byte, bool) {
	if !gjson.ValidBytes(body) || !gjson.GetBytes(body, "@this").IsObject() {
		return body, false
	}
	out, err := sjson.SetBytes(body, "model", model)
	if err != nil {
		return body, false
	}
	return out, true
}

// buildUpstreamURL concatenates the route's base path with the inbound
// request path, preserving the query string, resolved against the
// route's origin.
func buildUpstreamURL(routeURL string, inbound *url.URL) (string, error) {
	base, err := url.Parse(routeURL)
	if err != nil {
		return "", err
	}
	inPath := inbound.Path
	if inPath == "" {
		inPath = "/"
	}
	base.Path = strings.TrimRight(base.Path, "/") + inPath
	base.RawQuery = inbound.RawQuery
	return base.String(), nil
}

func copyHeader(dst http.Header, src http.Header) {
	for k, vv := range src {
		dst[k] = vv
	}
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := s.newRequestID(r)
	logger := s.logger.With("reqId", reqID)

	var body []byte
	if expectsBody(r) {
		buffered, apiErr := readBody(r)
		if apiErr != nil {
			s.respondError(w, logger, apiErr, reqID, "", "", r, start)
			return
		}
		body = buffered
	}
	defer r.Body.Close()

	model := "no-model"
	if len(body) > 0 {
		if m := gjson.GetBytes(body, "model"); m.Exists() && m.Type == gjson.String {
			model = m.String()
		}
	}

	rt := s.selector.Load().Resolve(model)

	forwardBody := body
	bodyRewritten := false
	if rt.Model != "" {
		if rewritten, ok := rewriteModelField(forwardBody, rt.Model); ok {
			forwardBody = rewritten
			bodyRewritten = true
		}
	}

	reqContentType := r.Header.Get("Content-Type")
	if rt.Name == config.UpstreamAnthropic && isJSONContentType(reqContentType) && len(forwardBody) > 0 {
		sanitized := thinking.SanitizeRequestForA(forwardBody, s.store)
		if !bytes.Equal(sanitized, forwardBody) {
			forwardBody = sanitized
			bodyRewritten = true
		}
	}

	upstreamURL, err := buildUpstreamURL(rt.URL, r.URL)
	if err != nil {
		apiErr := apierr.ProxyError("failed to build upstream URL: " + err.Error())
		s.respondError(w, logger, apiErr, reqID, model, rt.Name, r, start)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), upstreamTimeout)
	defer cancel()

	var upstreamBody io.Reader
	if len(forwardBody) > 0 {
		upstreamBody = bytes.NewReader(forwardBody)
	}
	upstreamReq, err := http.NewRequestWithContext(ctx, r.Method, upstreamURL, upstreamBody)
	if err != nil {
		apiErr := apierr.ProxyError("failed to build upstream request: " + err.Error())
		s.respondError(w, logger, apiErr, reqID, model, rt.Name, r, start)
		return
	}
	upstreamReq.Header = headerpolicy.ForwardHeaders(r.Header, rt.Name == config.UpstreamZAI, rt.APIKey)
	if bodyRewritten {
		headerpolicy.SetContentLength(upstreamReq.Header, len(forwardBody))
	}

	resp, err := s.httpClient.Do(upstreamReq)
	if err != nil {
		var apiErr *apierr.Error
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			apiErr = apierr.GatewayTimeout("upstream request timed out after 30s")
		} else {
			apiErr = apierr.ProxyError("upstream dial failed: " + err.Error())
		}
		s.respondError(w, logger, apiErr, reqID, model, rt.Name, r, start)
		return
	}
	defer resp.Body.Close()

	needTransform := rt.Name == config.UpstreamZAI && isJSONContentType(resp.Header.Get("Content-Type"))
	needSigExtract := rt.Name == config.UpstreamAnthropic && isJSONContentType(resp.Header.Get("Content-Type"))

	var respBody []byte
	buffered := needTransform || needSigExtract
	if buffered {
		respBody, err = readCapped(resp.Body, maxResponseBodyBytes)
		if err != nil {
			apiErr := apierr.ProxyError("upstream response exceeds the 50 MiB limit")
			s.respondError(w, logger, apiErr, reqID, model, rt.Name, r, start)
			return
		}
		if needSigExtract {
			thinking.ExtractAndRecordSignatures(respBody, s.store)
		} else if needTransform {
			respBody = thinking.TransformResponseFromB(respBody)
		}
	}

	outHeaders := headerpolicy.ResponseHeaders(resp.Header, buffered)
	if buffered {
		headerpolicy.SetContentLength(outHeaders, len(respBody))
	}
	copyHeader(w.Header(), outHeaders)
	w.WriteHeader(resp.StatusCode)

	if buffered {
		_, _ = w.Write(respBody)
	} else {
		streamCopy(w, resp.Body)
	}

	s.logResult(logger, reqID, model, rt.Name, r, resp.StatusCode, respBody, start, "")
}

// readCapped reads r up to limit+1 bytes, returning an error if the limit
// is exceeded so the caller can distinguish a full read from a truncated
// one without silently accepting an oversized body.
func readCapped(r io.Reader, limit int) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(b) > limit {
		return nil, fmt.Errorf("body exceeds %d byte cap", limit)
	}
	return b, nil
}

// streamCopy forwards src to w a chunk at a time, flushing after each
// write so Server-Sent Events and other chunked streams arrive promptly
// rather than waiting for an internal buffer to fill.
func streamCopy(w http.ResponseWriter, src io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, logger *log.Logger, apiErr *apierr.Error, reqID, model, upstream string, r *http.Request, start time.Time) {
	apierr.Write(w, apiErr)
	s.logResult(logger, reqID, model, upstream, r, apiErr.Status, []byte(apiErr.Message), start, apiErr.Kind)
}

func (s *Server) logResult(logger *log.Logger, reqID, model, upstream string, r *http.Request, status int, body []byte, start time.Time, errorCode string) {
	duration := time.Since(start)
	rec := logjournal.Record{
		Level:      "info",
		Msg:        "request completed",
		Component:  "proxy",
		ReqID:      reqID,
		Model:      model,
		Upstream:   upstream,
		Method:     r.Method,
		Path:       r.URL.Path,
		Status:     status,
		DurationMS: duration.Milliseconds(),
		ErrorCode:  errorCode,
	}
	if status >= 400 {
		rec.Level = "warn"
		rec.BodyExcerpt = logjournal.Excerpt(body)
		logger.Warn("request completed", "status", status, "upstream", upstream, "durationMs", rec.DurationMS, "errorCode", errorCode)
	} else {
		logger.Info("request completed", "status", status, "upstream", upstream, "durationMs", rec.DurationMS)
	}
	s.journal.Write(rec)
}
