package specserver

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/openfroyo/pkg/orcherr"
)

// Server is one running instance of the spec/repo server daemon (C5).
type Server struct {
	cfg      Config
	resolver SpecResolver
	posture  PostureValidator
	repos    *repoStore

	httpServer  *http.Server
	cleanupTLS  func()
	listener    net.Listener
}

// New constructs a Server bound to resolver for spec lookups and repos for
// git-over-HTTP serving. posture may be nil, in which case the spec route
// relies solely on provisioning-token auth.
func New(cfg Config, resolver SpecResolver, posture PostureValidator) *Server {
	cfg.setDefaults()
	return &Server{
		cfg:      cfg,
		resolver: resolver,
		posture:  posture,
		repos:    newRepoStore(cfg.ReposDir),
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /specs", s.handleSpecsList)
	mux.HandleFunc("GET /spec/{identity}", s.handleSpec)
	mux.HandleFunc("GET /{repo}/{path...}", s.handleRepoPath)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSpecsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"specs": s.resolver.List()})
}

func (s *Server) handleSpec(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")

	specName, err := s.authenticateSpecRequest(r, identity)
	if err != nil {
		unauthorized(w)
		return
	}

	doc, ok := s.resolver.Resolve(specName)
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func (s *Server) handleRepoPath(w http.ResponseWriter, r *http.Request) {
	if err := s.authenticateRepoRequest(r); err != nil {
		unauthorized(w)
		return
	}

	repo, ok := strings.CutSuffix(r.PathValue("repo"), ".git")
	path := r.PathValue("path")
	if !ok || !s.repos.exists(repo) {
		http.NotFound(w, r)
		return
	}

	if path == "" || path == "info/refs" {
		s.repos.serveUploadPack(w, r, repo)
		return
	}
	s.repos.serveFile(w, r, repo, path)
}

func unauthorized(w http.ResponseWriter) {
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte("Unauthorized"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start binds the listener and begins serving TLS connections. It returns
// once the listener is bound; Serve is run in a goroutine. The
// server is considered ready once /health succeeds, which callers should
// verify themselves (daemon.go does this for the daemonized path).
func (s *Server) Start(ctx context.Context) error {
	tlsConfig, cleanup, err := loadOrGenerateTLS(&s.cfg)
	if err != nil {
		return orcherr.New(orcherr.KindInternal, "loading TLS configuration", err)
	}
	s.cleanupTLS = cleanup

	addr := net.JoinHostPort(s.cfg.Bind, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		cleanup()
		return orcherr.New(orcherr.KindInternal, "binding listener", err)
	}
	s.listener = tls.NewListener(ln, tlsConfig)

	s.httpServer = &http.Server{
		Handler:     s.routes(),
		ReadTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server stopped serving")
		}
	}()

	log.Info().Str("addr", addr).Msg("spec/repo server listening")
	return nil
}

// Shutdown drains in-flight connections within the configured drain
// window, then releases TLS temp-cert resources, per §4.5.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.DrainTimeout)
	defer cancel()
	err := s.httpServer.Shutdown(drainCtx)
	if s.cleanupTLS != nil {
		s.cleanupTLS()
	}
	return err
}

// ReloadCache services SIGHUP: the resolver's cache is dropped without
// dropping connections, per §4.5.
func (s *Server) ReloadCache() {
	s.resolver.ReloadCache()
	log.Info().Msg("reloaded spec resolver cache")
}
