// Package receiver exposes the ingestion endpoint scrapers post problem
// exports to, and runs it as a long-lived server.
package receiver

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pevans/cpexport/assets"
	"github.com/pevans/cpexport/metrics"
	"github.com/pevans/cpexport/notes"
	"github.com/pevans/cpexport/notify"
	"github.com/pevans/cpexport/problem"
)

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// requestIDKey is the gin context key holding the request id.
const requestIDKey = "request_id"

// APIServer represents the HTTP API server for problem ingestion.
type APIServer struct {
	renderer   *notes.Renderer
	store      *notes.Store
	downloader *assets.Downloader
	notifier   notify.Notifier
	metrics    *metrics.Collectors
	logger     *slog.Logger
}

// NewAPIServer creates a new ingestion API server. collectors may be nil.
func NewAPIServer(
	renderer *notes.Renderer,
	store *notes.Store,
	downloader *assets.Downloader,
	notifier notify.Notifier,
	collectors *metrics.Collectors,
	logger *slog.Logger,
) *APIServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIServer{
		renderer:   renderer,
		store:      store,
		downloader: downloader,
		notifier:   notifier,
		metrics:    collectors,
		logger:     logger,
	}
}

// AddResponse represents the response for POST /add and for every error.
type AddResponse struct {
	Status           string `json:"status"`
	Message          string `json:"message"`
	DownloadedImages string `json:"downloadedImages,omitempty"`
}

// SetupRouter configures the Gin router. POST /add is the only route that
// does work; everything else is answered by the CORS preflight or 404.
func (s *APIServer) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	router.POST("/add", s.HandleAdd)
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, AddResponse{Status: StatusError, Message: "Not found"})
	})

	return router
}

// requestLogger tags each request with a UUID, returned in X-Request-ID,
// and logs it once it completes.
func (s *APIServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)

		start := time.Now()
		c.Next()

		s.logger.Info("request",
			slog.String("request_id", id),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

// readPayload reads the whole body and decodes it as one JSON object.
func readPayload(c *gin.Context) (*problem.Export, error) {
	data, err := c.GetRawData()
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return problem.Decode(data)
}

// HandleAdd handles POST /add: the note is rendered and saved before the
// response is sent, its images are only queued.
func (s *APIServer) HandleAdd(c *gin.Context) {
	ctx := c.Request.Context()
	logger := s.logger.With(slog.String("request_id", c.GetString(requestIDKey)))

	p, err := readPayload(c)
	if err != nil {
		logger.Warn("rejected payload", slog.String("error", err.Error()))
		s.metrics.NoteHandled(StatusError)
		c.JSON(http.StatusBadRequest, AddResponse{
			Status:  StatusError,
			Message: "Error processing request: " + err.Error(),
		})
		return
	}

	note, tasks := s.renderer.Render(ctx, p)

	path, err := s.store.Save(note.Name, note.Content)
	if err != nil {
		logger.Error("failed to save note", slog.String("name", note.Name), slog.String("error", err.Error()))
		s.metrics.NoteHandled(StatusError)
		c.JSON(http.StatusInternalServerError, AddResponse{
			Status:  StatusError,
			Message: "Failed to create file: " + err.Error(),
		})
		return
	}

	s.metrics.NoteHandled(StatusSuccess)

	resp := AddResponse{
		Status:  StatusSuccess,
		Message: "File created: " + path,
	}
	s.notifier.Notify(ctx, resp.Message)
	if len(tasks) > 0 {
		resp.DownloadedImages = fmt.Sprintf("Downloading %d images...", len(tasks))
		s.notifier.Notify(ctx, resp.DownloadedImages)
	}

	// Queue summaries always follow the creation notices
	s.downloader.Dispatch(tasks)

	logger.Info("note created", slog.String("path", path), slog.Int("images", len(tasks)))
	c.JSON(http.StatusOK, resp)
}
