// Package api serves generation over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/samcharles93/kvrun/internal/inference"
	"github.com/samcharles93/kvrun/internal/logger"
	"github.com/samcharles93/kvrun/internal/metrics"
)

type Server struct {
	store   *GenerationStore
	service Generator
	metrics *metrics.Metrics
	log     logger.Logger
	clock   func() time.Time
}

type ServerOption func(*Server)

func WithServerMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

func WithServerLogger(l logger.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

func NewServer(store *GenerationStore, service Generator, opts ...ServerOption) *Server {
	if store == nil {
		store = NewGenerationStore(0)
	}
	s := &Server{
		store:   store,
		service: service,
		log:     logger.Discard(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.Use(s.observe)
	e.POST("/v1/generate", s.handleGenerate)
	e.GET("/v1/generations/:id", s.handleGetGeneration)
	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", s.handleMetrics)
}

// observe counts requests by status code and tracks in-flight requests.
func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		done := s.metrics.TrackInflight()
		defer done()
		err := next(c)
		code := http.StatusOK
		if res, uerr := echo.UnwrapResponse(c.Response()); uerr == nil && res.Status != 0 {
			code = res.Status
		}
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
		}
		s.metrics.ObserveRequest(strconv.Itoa(code))
		return err
	}
}

func (s *Server) handleHealth(c *echo.Context) error {
	status := "ok"
	if s.service == nil {
		status = "no_model"
	}
	return c.JSON(http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handleMetrics(c *echo.Context) error {
	s.metrics.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *Server) handleGetGeneration(c *echo.Context) error {
	gen, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "generation not found")
	}
	return c.JSON(http.StatusOK, gen)
}

func (s *Server) handleGenerate(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "generation service not configured", "", "")
	}
	req, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Prompt == "" && len(req.InputIDs) == 0 {
		return writeBadRequest(c, "prompt or input_ids is required")
	}

	gen := Generation{
		ID:        newGenerationID(),
		Object:    "generation",
		CreatedAt: s.clock().Unix(),
		Status:    StatusInProgress,
		Prompt:    req.Prompt,
	}
	ctx := logger.WithContext(c.Request().Context(), s.log.With("generation_id", gen.ID))

	if req.Stream {
		return s.generateStream(ctx, c, req, gen)
	}

	res, err := s.service.Generate(ctx, req, nil)
	status := s.complete(&gen, res, err)
	if status == http.StatusBadRequest {
		return writeBadRequest(c, gen.Error.Message)
	}
	return c.JSON(status, gen)
}

func (s *Server) generateStream(ctx context.Context, c *echo.Context, req GenerateRequest, gen Generation) error {
	sse, err := NewSSEStreamWriter(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	c.Response().WriteHeader(http.StatusOK)
	sse.Created(gen)

	res, err := s.service.Generate(ctx, req, sse.Token)
	s.complete(&gen, res, err)
	sse.Finish(gen)
	if werr := sse.Err(); werr != nil {
		s.log.Debug("stream closed early", "generation_id", gen.ID, "error", werr)
	}
	return nil
}

// complete folds the outcome of a generation into gen, stores it and
// returns the HTTP status for a non-streaming reply.
func (s *Server) complete(gen *Generation, res *inference.Result, err error) int {
	status := http.StatusOK
	if res != nil {
		gen.Outputs = res.Outputs()
		stats := res.Stats
		gen.Stats = &stats
		if gen.Prompt == "" {
			gen.Prompt = res.Prompt
		}
	}
	switch {
	case err == nil:
		gen.Status = StatusCompleted
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, inference.ErrConfig):
		gen.Status = StatusFailed
		gen.Error = &ResponseError{Type: "invalid_request_error", Message: err.Error()}
		status = http.StatusBadRequest
	case res != nil:
		gen.Status = StatusIncomplete
		gen.Error = &ResponseError{Type: "server_error", Code: "decode_failed", Message: err.Error()}
		status = http.StatusInternalServerError
	default:
		gen.Status = StatusFailed
		gen.Error = &ResponseError{Type: "server_error", Message: err.Error()}
		status = http.StatusInternalServerError
	}
	if err != nil {
		s.log.Error("generation failed", "generation_id", gen.ID, "status", gen.Status, "error", err)
	}
	s.store.Put(*gen)
	return status
}
