// Package server exposes the HTTP surface: the download endpoint backed by
// the streaming engine, the player page and the landing page.
package server

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/filegate/filegate/internal/registry"
	"github.com/filegate/filegate/internal/stream"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.New("").
	Funcs(template.FuncMap{"hasPrefix": strings.HasPrefix}).
	ParseFS(templateFS, "templates/*.html"))

// Server routes HTTP requests into the engine and the registry.
type Server struct {
	engine *stream.Engine
	reg    registry.Registry
	log    zerolog.Logger
}

// New wires a server.
func New(engine *stream.Engine, reg registry.Registry, logger zerolog.Logger) *Server {
	return &Server{engine: engine, reg: reg, log: logger}
}

// Routes returns the HTTP router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", s.handleHome)
	r.Get("/stream/{objectID}", s.handleStream)
	r.Get("/dl/{objectID}", s.handleDownload)
	return r
}

// displayMode says whether a request wants the raw bytes or the player page.
type displayMode int

const (
	modeDownload displayMode = iota
	modePlayer
)

// splitCode separates the access code from the legacy display hint. Older
// link generators append a literal "=stream" onto the code value to request
// the player; the suffix is stripped here so the registry and the engine only
// ever see the clean code.
func splitCode(raw string) (string, displayMode) {
	if code, ok := strings.CutSuffix(raw, "=stream"); ok {
		return code, modePlayer
	}
	return raw, modeDownload
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplates.ExecuteTemplate(w, "index.html", nil); err != nil {
		fmt.Fprint(w, "<h1>filegate</h1><p>Status: Running</p>")
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, ok := s.objectID(w, r)
	if !ok {
		return
	}
	raw := r.URL.Query().Get("code")
	if raw == "" {
		s.errorResponse(w, http.StatusUnauthorized)
		return
	}
	code, _ := splitCode(raw)

	obj, err := s.reg.Resolve(r.Context(), id, code)
	if err != nil {
		s.resolveError(w, err)
		return
	}
	s.renderPlayer(w, r, obj, code)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := s.objectID(w, r)
	if !ok {
		return
	}
	raw := r.URL.Query().Get("code")
	if raw == "" {
		s.errorResponse(w, http.StatusUnauthorized)
		return
	}
	code, mode := splitCode(raw)

	if mode == modePlayer {
		obj, err := s.reg.Resolve(r.Context(), id, code)
		if err != nil {
			s.resolveError(w, err)
			return
		}
		s.log.Info().Int64("object", id).Msg("download request redirected to player")
		s.renderPlayer(w, r, obj, code)
		return
	}

	sess, err := s.engine.Open(r.Context(), id, code, r.Header.Get("Range"))
	if err != nil {
		s.openError(w, err)
		return
	}

	obj := sess.Object
	h := w.Header()
	h.Set("Content-Type", obj.MIME)
	h.Set("Content-Length", strconv.FormatInt(sess.Window.Len(), 10))
	h.Set("Content-Disposition", contentDisposition(obj.Name))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", "public, max-age=3600")

	status := http.StatusOK
	if sess.Partial {
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", sess.Window.Start, sess.Window.End-1, obj.Size))
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	if err := sess.Run(r.Context(), flushWriter{dst: w}); err != nil {
		if sess.State() == stream.StateAborted {
			s.log.Warn().Err(err).Str("session", sess.ID).Msg("stream aborted")
		} else {
			s.log.Error().Err(err).Str("session", sess.ID).Msg("stream failed")
		}
		// The status line is already on the wire. The only safe move is to
		// kill the connection so the client sees a truncated transfer
		// instead of a silently short 200.
		panic(http.ErrAbortHandler)
	}
}

type playerData struct {
	FileName   string
	FileSizeMB string
	FileURL    string
	MIMEType   string
}

func (s *Server) renderPlayer(w http.ResponseWriter, r *http.Request, obj *registry.Object, code string) {
	data := playerData{
		FileName:   obj.Name,
		FileSizeMB: fmt.Sprintf("%.2f MB", float64(obj.Size)/(1<<20)),
		FileURL:    fmt.Sprintf("%s/dl/%d?code=%s", baseURL(r), obj.ID, url.QueryEscape(code)),
		MIMEType:   obj.MIME,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplates.ExecuteTemplate(w, "player.html", data); err != nil {
		fmt.Fprintf(w, "<h1>%s</h1><p>Size: %s</p><a href=%q>Download</a>",
			template.HTMLEscapeString(data.FileName), data.FileSizeMB, data.FileURL)
	}
}

func (s *Server) objectID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "objectID"), 10, 64)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// resolveError maps registry failures on the player path.
func (s *Server) resolveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		s.errorResponse(w, http.StatusNotFound)
	case errors.Is(err, registry.ErrForbidden):
		s.errorResponse(w, http.StatusForbidden)
	case errors.Is(err, registry.ErrBadRecord):
		s.errorResponse(w, http.StatusBadRequest)
	case errors.Is(err, registry.ErrUnavailable):
		s.errorResponse(w, http.StatusServiceUnavailable)
	default:
		s.log.Error().Err(err).Msg("resolve failed")
		s.errorResponse(w, http.StatusInternalServerError)
	}
}

// openError maps engine admission/resolution/range failures before any byte
// has been streamed.
func (s *Server) openError(w http.ResponseWriter, err error) {
	var unsat *stream.UnsatisfiableError
	switch {
	case errors.Is(err, stream.ErrBusy):
		s.errorResponse(w, http.StatusServiceUnavailable)
	case errors.As(err, &unsat):
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", unsat.Size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	default:
		s.resolveError(w, err)
	}
}

var errorMessages = map[int]string{
	http.StatusBadRequest:          "Invalid request.",
	http.StatusUnauthorized:        "File code is required to download the file.",
	http.StatusForbidden:           "Invalid file code.",
	http.StatusNotFound:            "File not found.",
	http.StatusInternalServerError: "Internal server error.",
	http.StatusServiceUnavailable:  "Service temporarily unavailable.",
}

func (s *Server) errorResponse(w http.ResponseWriter, status int) {
	http.Error(w, errorMessages[status], status)
}

// flushWriter pushes each released chunk to the client immediately instead of
// letting it sit in the response buffer.
type flushWriter struct {
	dst http.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.dst.Write(p)
	if flusher, ok := f.dst.(http.Flusher); ok {
		flusher.Flush()
	}
	return n, err
}
