// Package webui serves the browser chat widget and, optionally, a same-origin
// pass-through to the backend endpoint.
package webui

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"chatwidget/internal/config"
	"chatwidget/internal/logging"
)

//go:embed assets
var assets embed.FS

// maxProxyInFlight caps concurrent proxied questions across all browsers.
const maxProxyInFlight = 64

// WidgetConfig is what the page script reads from /widget-config.json.
type WidgetConfig struct {
	Endpoint           string         `json:"endpoint"`
	QuestionField      string         `json:"question_field"`
	AnswerField        string         `json:"answer_field"`
	Extra              map[string]any `json:"extra,omitempty"`
	Greeting           string         `json:"greeting"`
	LoadingText        string         `json:"loading_text"`
	ServerErrorText    string         `json:"server_error_text"`
	NetworkErrorPrefix string         `json:"network_error_prefix"`
}

// Server serves the widget page, its assets, and the optional proxy.
type Server struct {
	mu        sync.RWMutex
	cfg       *config.Config
	proxy     *httputil.ReverseProxy
	proxyPath string

	page    *template.Template
	static  fs.FS
	handler http.Handler

	srvMu sync.Mutex
	srv   *http.Server
	addr  net.Addr
	ready chan struct{}

	log *logging.Logger
}

// New builds a server for cfg.
func New(cfg *config.Config) (*Server, error) {
	page, err := template.ParseFS(assets, "assets/index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse page template: %w", err)
	}
	static, err := fs.Sub(assets, "assets")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded assets: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		page:   page,
		static: static,
		ready:  make(chan struct{}),
		log:    logging.Get(logging.CategoryWeb),
	}
	if cfg.Web.Proxy {
		proxy, err := s.newProxy(cfg.Backend)
		if err != nil {
			return nil, err
		}
		s.proxy = proxy
		s.proxyPath = cfg.EndpointPath()
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(s.static))))
	r.Get("/widget-config.json", s.handleWidgetConfig)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	// The proxied path follows config reloads, so every other POST is
	// matched against the current snapshot in handleProxy.
	r.With(chimiddleware.Throttle(maxProxyInFlight)).Post("/*", s.handleProxy)
	return r
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("%s %s -> %d (%v) req=%s", r.Method, r.URL.Path, ww.Status(), time.Since(start), chimiddleware.GetReqID(r.Context()))
	})
}

func (s *Server) snapshot() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	cfg := s.snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, struct{ Title string }{Title: cfg.Web.Title}); err != nil {
		s.log.Error("render index: %v", err)
	}
}

// CurrentWidgetConfig returns the config the page script is served.
func (s *Server) CurrentWidgetConfig() WidgetConfig {
	cfg := s.snapshot()
	endpoint := cfg.Backend.Endpoint
	if cfg.Web.Proxy {
		endpoint = cfg.EndpointPath()
	}
	return WidgetConfig{
		Endpoint:           endpoint,
		QuestionField:      cfg.Backend.QuestionField,
		AnswerField:        cfg.Backend.AnswerField,
		Extra:              cfg.Backend.Extra,
		Greeting:           cfg.Widget.Greeting,
		LoadingText:        cfg.Widget.LoadingText,
		ServerErrorText:    cfg.Widget.ServerErrorText,
		NetworkErrorPrefix: cfg.Widget.NetworkErrorPrefix,
	}
}

func (s *Server) handleWidgetConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(s.CurrentWidgetConfig()); err != nil {
		s.log.Error("encode widget config: %v", err)
	}
}

func (s *Server) newProxy(bc config.BackendConfig) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(bc.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid backend endpoint %q: %w", bc.Endpoint, err)
	}
	origin := &url.URL{Scheme: target.Scheme, Host: target.Host}
	headers := bc.Headers

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(origin)
			pr.SetXForwarded()
			for k, v := range headers {
				pr.Out.Header.Set(k, v)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.log.Warn("proxy to %s failed: %v", origin, err)
			logging.Audit().ProxyError(origin.String(), err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"backend unreachable"}`))
		},
	}, nil
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	proxy, path := s.proxy, s.proxyPath
	s.mu.RUnlock()
	if proxy == nil || r.URL.Path != path {
		http.NotFound(w, r)
		return
	}
	proxy.ServeHTTP(w, r)
}

// ApplyConfig swaps the served widget config. The proxy is rebuilt for the
// new endpoint, switched on or off with web.proxy, and moved to the new
// endpoint path, so the page is never told to post to an unserved path.
// An endpoint that cannot be proxied keeps the previous config in place.
func (s *Server) ApplyConfig(cfg *config.Config) {
	var proxy *httputil.ReverseProxy
	var path string
	if cfg.Web.Proxy {
		p, err := s.newProxy(cfg.Backend)
		if err != nil {
			s.log.Error("rejecting widget config, keeping previous: %v", err)
			return
		}
		proxy = p
		path = cfg.EndpointPath()
	}

	s.mu.Lock()
	if path != s.proxyPath {
		s.log.Info("proxy path %q -> %q", s.proxyPath, path)
	}
	s.cfg = cfg
	s.proxy = proxy
	s.proxyPath = path
	s.mu.Unlock()
	s.log.Info("widget config applied")
}

// Start listens on web.listen and serves until ctx is cancelled, then shuts
// down gracefully. It returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.snapshot()
	ln, err := net.Listen("tcp", cfg.Web.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Web.Listen, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.srvMu.Lock()
	s.srv = srv
	s.addr = ln.Addr()
	s.srvMu.Unlock()
	close(s.ready)

	s.log.Info("serving widget on http://%s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Ready is closed once Start is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()
	return s.addr
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.srvMu.Lock()
	srv := s.srv
	s.srvMu.Unlock()
	if srv == nil {
		return nil
	}
	s.log.Info("shutting down widget server")
	return srv.Shutdown(ctx)
}
