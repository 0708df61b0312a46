package audio

import (
	"context"
	"crypto/subtle"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"vision-tutor/internal/domain"
)

//go:embed index.html
var indexHTML []byte

// multipartOverhead covers boundaries and part headers on top of file bytes.
const multipartOverhead = 1 << 20

// Pipeline is the part of the assistant the HTTP server drives.
type Pipeline interface {
	Ask(ctx context.Context, q domain.Query) (*domain.Answer, error)
	Validate(path string) (domain.AudioInfo, error)
}

// RequestMetrics records served requests and exposes the metrics endpoint.
type RequestMetrics interface {
	ObserveRequest(method, route string, status int)
	Handler() http.Handler
}

type ServerOptions struct {
	Addr           string
	AuthToken      string
	RateLimit      int // requests per minute per IP, 0 disables
	MaxUploadBytes int64
	OutputDir      string
	AllowedOrigins []string
	RequestTimeout time.Duration
	ReadTimeout    time.Duration // upload window, defaults to RequestTimeout
	SpeechTTL      time.Duration // served speech files older than this are removed
}

type Server struct {
	opts     ServerOptions
	pipeline Pipeline
	metrics  RequestMetrics
	logger   *slog.Logger
	router   chi.Router

	mu        sync.Mutex
	server    *http.Server
	running   bool
	stopSweep context.CancelFunc
}

func NewServer(pipeline Pipeline, metrics RequestMetrics, opts ServerOptions, logger *slog.Logger) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = domain.DefaultMaxAudioBytes
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Minute
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = opts.RequestTimeout
	}
	if opts.SpeechTTL <= 0 {
		opts.SpeechTTL = time.Hour
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		opts:     opts,
		pipeline: pipeline,
		metrics:  metrics,
		logger:   logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		s.logRequests,
		middleware.Recoverer,
		cors.Handler(cors.Options{
			AllowedOrigins: s.opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Auth-Token"},
		}),
	)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		if s.opts.RateLimit > 0 {
			v1.Use(httprate.LimitByIP(s.opts.RateLimit, time.Minute))
		}
		v1.Use(s.requireToken)

		v1.Post("/ask", s.handleAsk)
		v1.Post("/validate", s.handleValidate)
		v1.Get("/audio/{name}", s.handleSpeech)
	})

	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.server = s.httpServer()

	sweepCtx, cancel := context.WithCancel(context.Background())
	s.stopSweep = cancel
	go s.sweepSpeech(sweepCtx)

	go func() {
		s.logger.Info("HTTP server starting", "addr", s.opts.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.running = true
	return nil
}

func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if s.stopSweep != nil {
		s.stopSweep()
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			if err := s.server.Close(); err != nil {
				return fmt.Errorf("closing server: %w", err)
			}
		}
	}

	s.running = false
	return nil
}

// httpServer builds the listener config. The write deadline starts once the
// request headers are read, so it covers the upload as well as the pipeline.
func (s *Server) httpServer() *http.Server {
	return &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.ReadTimeout + s.opts.RequestTimeout,
		IdleTimeout:       60 * time.Second,
	}
}

func (s *Server) sweepSpeech(ctx context.Context) {
	interval := s.opts.SpeechTTL / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.PruneSpeech(time.Now()); err != nil {
				s.logger.Warn("pruning speech files", "error", err)
			} else if n > 0 {
				s.logger.Debug("pruned speech files", "count", n)
			}
		}
	}
}

// PruneSpeech removes speech files in the output directory last modified
// more than SpeechTTL before now. Only names the server hands out are touched.
func (s *Server) PruneSpeech(now time.Time) (int, error) {
	entries, err := os.ReadDir(s.opts.OutputDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading output dir: %w", err)
	}

	cutoff := now.Add(-s.opts.SpeechTTL)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !isSpeechName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.opts.OutputDir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("removing %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func isSpeechName(name string) bool {
	id, ok := strings.CutSuffix(name, ".mp3")
	return ok && uuid.Validate(id) == nil
}

type askResponse struct {
	Transcript string `json:"transcript"`
	Analysis   string `json:"analysis"`
	AudioURL   string `json:"audio_url,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Stage string `json:"stage,omitempty"`
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "listening": running})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	form, err := s.readUploads(w, r, "audio", "image")
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	defer form.cleanup()

	audio, ok := form.files["audio"]
	if !ok {
		s.writeBadRequest(w, "missing audio file")
		return
	}

	q := domain.Query{AudioPath: audio.path}
	if image, ok := form.files["image"]; ok {
		q.ImagePath = image.path
	}

	answer, err := s.pipeline.Ask(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err, form)
		return
	}

	resp := askResponse{Transcript: answer.Transcript, Analysis: answer.Analysis}
	if answer.AudioPath != "" {
		resp.AudioURL = "/v1/audio/" + filepath.Base(answer.AudioPath)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	form, err := s.readUploads(w, r, "audio")
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	defer form.cleanup()

	audio, ok := form.files["audio"]
	if !ok {
		s.writeBadRequest(w, "missing audio file")
		return
	}

	info, err := s.pipeline.Validate(audio.path)
	if err != nil {
		s.writeError(w, r, err, form)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !isSpeechName(name) {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	http.ServeFile(w, r, filepath.Join(s.opts.OutputDir, name))
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.AuthToken)) != 1 {
			s.logger.Warn("unauthorized request", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Kind: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, route, status)
		}

		s.logger.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// errorStatus maps pipeline errors onto HTTP status codes.
func errorStatus(err error) (int, errorResponse) {
	if kind, ok := domain.KindOf(err); ok {
		status := http.StatusUnprocessableEntity
		if kind == domain.KindFileTooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		return status, errorResponse{Kind: string(kind)}
	}

	if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
		return http.StatusBadRequest, errorResponse{Kind: "bad_request"}
	}

	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return http.StatusRequestEntityTooLarge, errorResponse{Kind: string(domain.KindFileTooLarge)}
	}

	var serviceErr *domain.ServiceError
	if errors.As(err, &serviceErr) {
		return http.StatusBadGateway, errorResponse{Kind: "service_error", Stage: serviceErr.Stage}
	}

	return http.StatusInternalServerError, errorResponse{Kind: "internal"}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, form *uploadForm) {
	status, body := errorStatus(err)
	body.Error = err.Error()
	if form != nil {
		body.Error = form.redact(body.Error)
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		s.logger.Info("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}

	writeJSON(w, status, body)
}

func (s *Server) writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Kind: "bad_request"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type uploadedFile struct {
	name string
	path string
}

type uploadForm struct {
	dir   string
	files map[string]uploadedFile
}

// redact replaces temporary upload paths with the client's file names.
func (f *uploadForm) redact(msg string) string {
	for _, file := range f.files {
		msg = strings.ReplaceAll(msg, file.path, file.name)
	}
	return msg
}

func (f *uploadForm) cleanup() {
	os.RemoveAll(f.dir)
}

// readUploads stores the named multipart files in a private temp dir,
// keeping each file's original extension so format checks see it.
func (s *Server) readUploads(w http.ResponseWriter, r *http.Request, fields ...string) (*uploadForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, fmt.Errorf("parsing upload: %w", err)
	}
	defer r.MultipartForm.RemoveAll()

	dir, err := os.MkdirTemp("", "vision-tutor-upload-*")
	if err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	form := &uploadForm{dir: dir, files: make(map[string]uploadedFile)}

	for _, field := range fields {
		src, header, err := r.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			form.cleanup()
			return nil, fmt.Errorf("reading %s upload: %w", field, err)
		}

		name := filepath.Base(header.Filename)
		path := filepath.Join(dir, field+filepath.Ext(name))
		err = copyUpload(src, path)
		src.Close()
		if err != nil {
			form.cleanup()
			return nil, err
		}
		form.files[field] = uploadedFile{name: name, path: path}
	}

	return form, nil
}

func copyUpload(src io.Reader, path string) error {
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating upload file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("storing upload: %w", err)
	}
	return dst.Close()
}
