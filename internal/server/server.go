// Package server exposes the download service over HTTP.
package server

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"clipdrop/internal/download"
	"clipdrop/internal/media"
	"clipdrop/internal/store"
)

// maxBodySize caps the JSON body of POST /download.
const maxBodySize = 1 << 20

// contentTypes covers the extensions the service writes; the system MIME
// table is not guaranteed to know them.
var contentTypes = map[string]string{
	".mp4": "video/mp4",
	".mp3": "audio/mpeg",
}

// Downloader performs a download request.
type Downloader interface {
	Download(ctx context.Context, req media.DownloadRequest) (*media.DownloadResult, error)
}

// Options configures the HTTP layer.
type Options struct {
	Version   string
	RateLimit int // POST /download requests per minute, 0 disables
	RateBurst int
}

// Server routes HTTP requests to the downloader and the file store.
type Server struct {
	downloader Downloader
	store      *store.Store
	publicURL  string
	opts       Options
	engine     *gin.Engine
}

// successResponse is the body of a successful POST /download.
type successResponse struct {
	Status      string `json:"status"`
	Title       string `json:"title"`
	Filename    string `json:"filename"`
	DownloadURL string `json:"download_url"`
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// New builds the server. publicURL is reported by /health.
func New(d Downloader, st *store.Store, publicURL string, opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		downloader: d,
		store:      st,
		publicURL:  publicURL,
		opts:       opts,
		engine:     gin.New(),
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(requestID())
	s.engine.Use(accessLog())

	s.engine.GET("/health", s.handleHealth)
	s.engine.POST("/download", s.rateLimit(), s.handleDownload)
	s.engine.GET("/"+download.FilePath+"/:filename", s.handleFile)
	s.engine.NoRoute(func(c *gin.Context) {
		fail(c, media.Errorf(media.NotFound, "not found"))
	})

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"version":    s.opts.Version,
		"public_url": s.publicURL,
	})
}

// handleDownload serves POST /download.
func (s *Server) handleDownload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)

	var req media.DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, media.Wrap(media.BadRequest, "invalid request body", err))
		return
	}

	res, err := s.downloader.Download(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse{
		Status:      "success",
		Title:       res.Title,
		Filename:    res.Filename,
		DownloadURL: res.DownloadURL,
	})
}

// handleFile serves GET /download_file/:filename as an attachment.
func (s *Server) handleFile(c *gin.Context) {
	name := c.Param("filename")

	f, info, err := s.store.Open(name)
	if err != nil {
		if media.KindOf(err) != media.NotFound {
			log.Error().Err(err).Str("request_id", c.GetString(requestIDKey)).Str("filename", name).Msg("opening stored file")
			c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Status: "error", Message: "internal error"})
			return
		}
		fail(c, err)
		return
	}
	defer f.Close()

	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		c.Header("Content-Type", ct)
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(c.Writer, c.Request, name, info.ModTime(), f)
}

// rateLimit throttles a route with a single token bucket shared by all clients.
func (s *Server) rateLimit() gin.HandlerFunc {
	if s.opts.RateLimit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	burst := s.opts.RateBurst
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.opts.RateLimit)), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			fail(c, media.Errorf(media.RateLimited, "too many requests, try again later"))
			return
		}
		c.Next()
	}
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind media.ErrorKind) int {
	switch kind {
	case media.BadRequest:
		return http.StatusBadRequest
	case media.NotFound:
		return http.StatusNotFound
	case media.RateLimited:
		return http.StatusTooManyRequests
	case media.ExtractionFailed, media.DownloadFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error body and aborts the chain.
func fail(c *gin.Context, err error) {
	kind := media.KindOf(err)
	status := statusFor(kind)

	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).
		Str("request_id", c.GetString(requestIDKey)).
		Str("kind", kind.String()).
		Int("status", status).
		Msg("request failed")

	c.AbortWithStatusJSON(status, errorResponse{Status: "error", Message: publicMessage(err)})
}

// publicMessage is the client-facing text of err. Download failures and
// unclassified errors carry local paths in their causes, so only the
// top-level message leaves the process.
func publicMessage(err error) string {
	var e *media.Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	if e.Kind == media.DownloadFailed {
		return e.Msg
	}
	return e.Error()
}
