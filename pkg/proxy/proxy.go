package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hublinks/hublinks/pkg/config"
	"github.com/hublinks/hublinks/pkg/metrics"
	"github.com/hublinks/hublinks/pkg/models"
	"github.com/hublinks/hublinks/pkg/render"
)

// maxRewriteBytes bounds the HTML bodies that are buffered for rewriting.
// Larger responses stream through untouched.
const maxRewriteBytes = 8 << 20

// HeaderOutcome reports whether the response body was rewritten.
const HeaderOutcome = "X-Hublinks"

// PageResolver maps a request path to the page served there.
type PageResolver interface {
	ByPath(ctx context.Context, path string) (models.Page, error)
}

// Server is the hublinks rewriting reverse proxy.
type Server struct {
	cfg      *config.Config
	pages    PageResolver
	pipeline *render.Pipeline
	metrics  *metrics.Recorder
	logger   *zap.Logger
	upstream *url.URL
	proxy    *httputil.ReverseProxy
	mux      *http.ServeMux
}

// New creates a proxy Server wired with all dependencies.
func New(cfg *config.Config, pages PageResolver, pipeline *render.Pipeline, rec *metrics.Recorder, logger *zap.Logger) (*Server, error) {
	target, err := url.Parse(cfg.Upstream.URL)
	if err != nil || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q", cfg.Upstream.URL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:      cfg,
		pages:    pages,
		pipeline: pipeline,
		metrics:  rec,
		logger:   logger,
		upstream: target,
		mux:      http.NewServeMux(),
	}
	s.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			// The transport negotiates and decodes gzip itself, leaving a plain body to rewrite.
			pr.Out.Header.Del("Accept-Encoding")
		},
		ModifyResponse: s.modifyResponse,
		ErrorHandler:   s.handleUpstreamError,
	}

	admin := strings.TrimSuffix(cfg.AdminPath, "/")
	s.mux.HandleFunc("GET "+admin+"/healthz", s.handleHealth)
	if cfg.Metrics.Enabled && rec != nil {
		s.mux.Handle("GET "+admin+"/metrics", rec.Handler())
	}
	s.mux.HandleFunc("/", s.handleProxy)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the proxy server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("hublinks proxy listening",
			zap.String("addr", s.cfg.Listen),
			zap.String("upstream", s.upstream.String()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type ctxKey struct{}

// requestInfo carries inbound request facts to ModifyResponse.
type requestInfo struct {
	path      string
	admin     bool
	requestID string
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = uuid.NewString()
		r.Header.Set("X-Request-ID", reqID)
	}
	info := requestInfo{
		path:      r.URL.Path,
		admin:     s.isAdminPath(r.URL.Path),
		requestID: reqID,
	}
	ctx := context.WithValue(r.Context(), ctxKey{}, info)
	s.proxy.ServeHTTP(w, r.WithContext(ctx))
}

func (s *Server) isAdminPath(path string) bool {
	for _, prefix := range s.cfg.Upstream.AdminPrefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// modifyResponse runs the render pipeline over the content container of
// rewritable HTML responses. Any failure leaves the upstream body intact.
func (s *Server) modifyResponse(resp *http.Response) error {
	info, _ := resp.Request.Context().Value(ctxKey{}).(requestInfo)
	log := s.logger.With(zap.String("request_id", info.requestID), zap.String("path", info.path))

	if !rewritable(resp, info) {
		s.metrics.IncProxy(false)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRewriteBytes+1))
	if err != nil {
		return fmt.Errorf("read upstream body: %w", err)
	}
	if len(body) > maxRewriteBytes {
		log.Debug("body too large to rewrite")
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(body), resp.Body), resp.Body}
		s.metrics.IncProxy(false)
		return nil
	}
	_ = resp.Body.Close()

	out := s.rewrite(resp.Request.Context(), body, info, log)
	rewritten := !bytes.Equal(out, body)

	resp.Body = io.NopCloser(bytes.NewReader(out))
	resp.ContentLength = int64(len(out))
	resp.Header.Set("Content-Length", strconv.Itoa(len(out)))
	if rewritten {
		resp.Header.Set(HeaderOutcome, "injected")
	} else {
		resp.Header.Set(HeaderOutcome, "unchanged")
	}
	s.metrics.IncProxy(rewritten)
	return nil
}

func (s *Server) rewrite(ctx context.Context, body []byte, info requestInfo, log *zap.Logger) []byte {
	c, ok := findContainer(body, s.cfg.Upstream.ContentClass)
	if !ok {
		log.Debug("no content container found")
		return body
	}

	rc := models.RenderContext{Admin: info.admin}
	page, err := s.pages.ByPath(ctx, info.path)
	switch {
	case err == nil && page.Status == models.StatusPublish:
		rc.SinglePage = true
		rc.Page = &page
	case err == nil:
		log.Debug("page not published", zap.Int64("page_id", page.ID))
	default:
		log.Debug("no page at path", zap.Error(err))
	}

	content := string(body[c.innerStart:c.innerEnd])
	out := s.pipeline.Run(ctx, content, rc)
	if out == content {
		return body
	}
	return splice(body, c, out)
}

func rewritable(resp *http.Response, info requestInfo) bool {
	if info.admin || resp.Request.Method != http.MethodGet || resp.StatusCode != http.StatusOK {
		return false
	}
	if resp.Header.Get("Content-Encoding") != "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && mediaType == "text/html"
}

func (s *Server) handleUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Warn("upstream request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", r.Header.Get("X-Request-ID")),
		zap.Error(err))
	writeJSONError(w, http.StatusBadGateway, "upstream unavailable")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","filters":%d}`, len(s.pipeline.Filters()))
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"hublinks_error","code":%d}}`, message, code)
}
