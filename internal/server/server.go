package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/rezonia/erechnung/pkg/erechnung"
)

// Config holds server configuration
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Debug        bool
}

// Server represents the HTTP API server
type Server struct {
	config  *Config
	router  *gin.Engine
	service *erechnung.Service
	log     zerolog.Logger
	now     func() time.Time
}

// NewServer creates a new API server on top of svc
func NewServer(config *Config, svc *erechnung.Service, log zerolog.Logger) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	s := &Server{
		config:  config,
		router:  router,
		service: svc,
		log:     log,
		now:     time.Now,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/generate/:format", s.handleGenerate)

		v1.POST("/validate", s.handleValidate)
		v1.POST("/validate/xml", s.handleValidateXML)
		v1.POST("/validate/explain", s.handleExplain)
		v1.POST("/validate/summary", s.handleValidateSummary)

		v1.POST("/export", s.handleExport)
		v1.POST("/export/validate", s.handleExportValidate)

		v1.POST("/deliveries", s.handleDeliver)
		v1.GET("/deliveries", s.handleListDeliveries)
		v1.GET("/deliveries/:id", s.handleGetDelivery)
		v1.POST("/deliveries/:id/cancel", s.handleCancelDelivery)

		v1.GET("/delivery/channels", s.handleListChannels)
		v1.PUT("/delivery/channels/:id", s.handleSaveChannel)
		v1.GET("/delivery/rules", s.handleListRules)
		v1.POST("/delivery/rules", s.handleCreateRule)
		v1.PATCH("/delivery/rules/:id", s.handleSetRuleActive)
	}
}

// Run starts the HTTP server
func (s *Server) Run() error {
	return s.HTTPServer().ListenAndServe()
}

// HTTPServer returns a configured http.Server for callers that manage shutdown
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
}

// Handler returns the http.Handler for use with custom servers
func (s *Server) Handler() http.Handler {
	return s.router
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		switch {
		case status >= http.StatusInternalServerError:
			event = log.Error()
		case status >= http.StatusBadRequest:
			event = log.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Int("size", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

// respondError maps service errors to status codes
func (s *Server) respondError(c *gin.Context, err error) {
	var (
		inputErr *erechnung.InputError
		genErr   *erechnung.GenerationError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &inputErr):
		status = http.StatusBadRequest
	case errors.As(err, &genErr):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, erechnung.ErrNoChannels):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, erechnung.ErrAttemptNotFound), errors.Is(err, erechnung.ErrChannelNotFound),
		errors.Is(err, erechnung.ErrRuleNotFound):
		status = http.StatusNotFound
	case errors.Is(err, erechnung.ErrNotCancellable):
		status = http.StatusConflict
	case errors.Is(err, erechnung.ErrDeliveryDisabled), errors.Is(err, erechnung.ErrAdvisorDisabled):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}
