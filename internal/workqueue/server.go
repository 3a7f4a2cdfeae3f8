package workqueue

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/newspipe/internal/logger"
)

const (
	serverReadTimeout     = 15 * time.Second
	serverWriteTimeout    = 30 * time.Second
	serverShutdownTimeout = 10 * time.Second
)

// requestWorkBody is the POST /work/request payload.
type requestWorkBody struct {
	WorkerID           string `json:"worker_id"               binding:"required"`
	BatchSize          int    `json:"batch_size"              binding:"required,min=1"`
	MaxArticlesPerHost int    `json:"max_articles_per_domain" binding:"required,min=1"`
}

// reportFailureBody is the POST /work/report-failure payload.
type reportFailureBody struct {
	WorkerID string `json:"worker_id" binding:"required"`
	Domain   string `json:"domain"    binding:"required"`
}

// Server exposes the coordinator over HTTP.
type Server struct {
	coordinator *Coordinator
	log         logger.Interface
	httpServer  *http.Server
}

// NewServer creates the coordinator HTTP server.
func NewServer(coordinator *Coordinator, addr string, log logger.Interface) *Server {
	s := &Server{coordinator: coordinator, log: log}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/work/request", s.handleRequestWork)
	router.POST("/work/report-failure", s.handleReportFailure)
	router.GET("/stats", s.handleStats)
	router.GET("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	return s
}

// Start runs the server until the context is cancelled, then drains
// in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("coordinator listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()

		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleRequestWork(c *gin.Context) {
	var body requestWorkBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.coordinator.RequestWork(
		c.Request.Context(),
		body.WorkerID,
		body.BatchSize,
		body.MaxArticlesPerHost,
	)
	if err != nil {
		s.log.Error("request_work failed", "worker_id", body.WorkerID, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to claim work"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleReportFailure(c *gin.Context) {
	var body reportFailureBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}

	s.coordinator.ReportFailure(body.WorkerID, body.Domain)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.coordinator.Stats())
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
