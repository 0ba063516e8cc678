package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/samcharles93/steer/internal/logger"
	"github.com/samcharles93/steer/internal/version"
)

type Server struct {
	store   *GenerationStore
	service *GenerationService
	limiter *rate.Limiter
	log     logger.Logger
}

// NewServer serves generations from service. A nil limiter disables rate
// limiting.
func NewServer(store *GenerationStore, service *GenerationService, limiter *rate.Limiter, log logger.Logger) *Server {
	if store == nil {
		store = NewGenerationStore(0)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		store:   store,
		service: service,
		limiter: limiter,
		log:     log,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/generations", s.handleCreateGeneration, serverHeader, s.rateLimit)
	e.GET("/v1/generations/:id", s.handleGetGeneration, serverHeader)
	e.DELETE("/v1/generations/:id", s.handleDeleteGeneration, serverHeader)
	e.GET("/v1/version", s.handleVersion, serverHeader)
}

func serverHeader(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		c.Response().Header().Set("Server", version.UserAgent())
		return next(c)
	}
}

func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		if s.limiter != nil && !s.limiter.Allow() {
			return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded", "", "rate_limited")
		}
		return next(c)
	}
}

func (s *Server) handleCreateGeneration(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "generation service not configured", "", "")
	}
	req, err := decodeJSON[GenerationRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, "", err.Error())
	}
	gen, err := s.service.Generate(c.Request().Context(), &req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			return writeBadRequest(c, paramOf(err), err.Error())
		}
		s.log.Error("generation failed", "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
	s.store.Save(*gen)
	s.log.Info("generation created", "id", gen.ID, "request_id", gen.RequestID, "steps", gen.Steps)
	return c.JSON(http.StatusOK, gen)
}

func (s *Server) handleGetGeneration(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return writeNotFound(c, "generation not found")
	}
	gen, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "generation not found")
	}
	return c.JSON(http.StatusOK, gen)
}

func (s *Server) handleDeleteGeneration(c *echo.Context) error {
	id := c.Param("id")
	if id == "" || !s.store.Delete(id) {
		return writeNotFound(c, "generation not found")
	}
	return c.JSON(http.StatusOK, DeleteGenerationResp{
		ID:      id,
		Object:  "generation",
		Deleted: true,
	})
}

func (s *Server) handleVersion(c *echo.Context) error {
	return c.JSON(http.StatusOK, version.Resolve())
}
